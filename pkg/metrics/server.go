package metrics

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// NewServeMux serves g's metrics at /metrics and, at /, an index of the
// rag_* families with their help text.
func NewServeMux(g prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", Handler(g))
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		var b strings.Builder
		b.WriteString(`<html><body><h1>PDF Q&amp;A Metrics</h1><p><a href="/metrics">/metrics</a></p><ul>`)
		families, err := g.Gather()
		if err != nil {
			slog.Warn("gathering metrics for index page", "error", err)
		}
		for _, mf := range families {
			if !strings.HasPrefix(mf.GetName(), "rag_") {
				continue
			}
			fmt.Fprintf(&b, "<li><code>%s</code> %s</li>", html.EscapeString(mf.GetName()), html.EscapeString(mf.GetHelp()))
		}
		b.WriteString("</ul></body></html>")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, b.String())
	})
	return mux
}

// StartServer exposes g on a separate port and returns its shutdown func.
func StartServer(port int, g prometheus.Gatherer) (shutdown func(context.Context) error) {
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      NewServeMux(g),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("metrics server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server error", "error", err)
		}
	}()

	return server.Shutdown
}
