// Package router wires the gateway routes and the middleware chain.
package router

import (
	"net/http"
	"time"

	"github.com/rs/cors"

	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/internal/auth/apikey"
	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/internal/auth/ratelimit"
	gwhandler "github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/internal/gateway/handler"
	gwmw "github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/internal/gateway/middleware"
	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/pkg/metrics"
	pkgmw "github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/pkg/middleware"
)

// Deps collects what New needs. Analytics, Health and Metrics are optional.
type Deps struct {
	Handler      *gwhandler.Handler
	Analytics    *analytics.Handler
	Health       *health.Checker
	Keys         apikey.Store
	Limiter      *ratelimit.Limiter
	Metrics      *metrics.Metrics
	CORSOrigins  []string
	QueryTimeout time.Duration
}

// New builds the gateway handler.
//
// Route table:
//
//	GET    /                   → browser UI         (public)
//	GET    /health             → liveness + index   (public)
//	GET    /health/live        → liveness probe     (public)
//	GET    /health/ready       → dependency checks  (public)
//	POST   /ingest             → upload and index a PDF
//	POST   /query              → answer a question
//	GET    /api/v1/index       → index stats
//	GET    /api/v1/analytics   → aggregated query stats
//
// Middleware chain (outermost first):
//
//	Metrics → RequestID → CORS → Auth → RateLimit → mux
func New(d Deps) http.Handler {
	h := d.Handler
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", h.UI)
	mux.HandleFunc("GET /health", h.Health)
	if d.Health != nil {
		mux.HandleFunc("GET /health/live", d.Health.LiveHandler())
		mux.HandleFunc("GET /health/ready", d.Health.ReadyHandler())
	}

	mux.HandleFunc("POST /ingest", h.Ingest)
	mux.Handle("POST /query", pkgmw.Timeout(d.QueryTimeout)(http.HandlerFunc(h.Query)))
	mux.HandleFunc("GET /api/v1/index", h.IndexStats)
	if d.Analytics != nil {
		mux.HandleFunc("GET /api/v1/analytics", d.Analytics.Stats)
	}

	var chain http.Handler = mux
	chain = gwmw.RateLimit(d.Limiter, d.Metrics)(chain)
	chain = gwmw.Auth(d.Keys)(chain)
	chain = newCORS(d.CORSOrigins).Handler(chain)
	chain = pkgmw.RequestID(chain)
	if d.Metrics != nil {
		chain = pkgmw.Metrics(d.Metrics)(chain)
	}
	return chain
}

func newCORS(origins []string) *cors.Cors {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", gwmw.APIKeyHeader, pkgmw.RequestIDHeader},
		ExposedHeaders: []string{pkgmw.RequestIDHeader, "Retry-After"},
		MaxAge:         3600,
	})
}
