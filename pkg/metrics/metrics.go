// Package metrics defines the Prometheus metric collectors used across the
// service and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	QueriesTotal         *prometheus.CounterVec
	StageLatency         *prometheus.HistogramVec
	GenerationCalls      *prometheus.CounterVec
	TopScore             prometheus.Histogram
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	IngestsTotal         *prometheus.CounterVec
	IndexedChunks        prometheus.Gauge
	RateLimitDecisions   *prometheus.CounterVec
	CircuitBreakerState  *prometheus.GaugeVec
}

// New creates all metrics and registers them with the default registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer creates all metrics and registers them with reg. Tests
// pass a fresh prometheus.NewRegistry() so repeated construction does not
// panic on duplicate registration.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		QueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rag_queries_total",
				Help: "Total answered queries by outcome (ok, cached, no_docs, not_ready, error).",
			},
			[]string{"outcome"},
		),
		StageLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rag_stage_latency_seconds",
				Help:    "Latency of pipeline stages (retrieve, short_answers, synthesize).",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"stage"},
		),
		GenerationCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rag_generation_calls_total",
				Help: "Generator invocations by stage and status.",
			},
			[]string{"stage", "status"},
		),
		TopScore: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rag_retrieval_top_score",
				Help:    "Cosine similarity of the best retrieved chunk per query.",
				Buckets: []float64{-0.5, 0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rag_answer_cache_hits_total",
				Help: "Total number of answer cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rag_answer_cache_misses_total",
				Help: "Total number of answer cache misses.",
			},
		),
		IngestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rag_ingests_total",
				Help: "Total PDF ingests by status.",
			},
			[]string{"status"},
		),
		IndexedChunks: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rag_indexed_chunks",
				Help: "Number of chunks in the live index snapshot.",
			},
		),
		RateLimitDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rag_rate_limit_decisions_total",
				Help: "Rate limiter decisions (allowed, denied).",
			},
			[]string{"decision"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.QueriesTotal,
		m.StageLatency,
		m.GenerationCalls,
		m.TopScore,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.IngestsTotal,
		m.IndexedChunks,
		m.RateLimitDecisions,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler for g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
