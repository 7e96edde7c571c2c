// Package logger configures the process-wide slog logger and carries
// per-request fields (request id, API key name) through the context so every
// log line about a request can be correlated.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

type requestFields struct {
	requestID string
	keyName   string
}

type contextKey struct{}

// Setup installs the default logger writing to stdout.
func Setup(level string, format string) {
	slog.SetDefault(New(os.Stdout, level, format))
}

// New builds a logger for level ("debug", "info", "warn", "error") and
// format ("json" or text). Debug logging includes source locations.
func New(w io.Writer, level string, format string) *slog.Logger {
	lvl := parseLevel(level)
	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}
	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler).With("service", "pdf-rag-qa")
}

func fields(ctx context.Context) requestFields {
	f, _ := ctx.Value(contextKey{}).(requestFields)
	return f
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	f := fields(ctx)
	f.requestID = requestID
	return context.WithValue(ctx, contextKey{}, f)
}

// WithKeyName records the authenticated API key's name.
func WithKeyName(ctx context.Context, name string) context.Context {
	f := fields(ctx)
	f.keyName = name
	return context.WithValue(ctx, contextKey{}, f)
}

// RequestID returns the id stored by WithRequestID, or "".
func RequestID(ctx context.Context) string {
	return fields(ctx).requestID
}

// FromContext returns the default logger annotated with whatever request
// fields ctx carries.
func FromContext(ctx context.Context) *slog.Logger {
	logger := slog.Default()
	f := fields(ctx)
	if f.requestID != "" {
		logger = logger.With("request_id", f.requestID)
	}
	if f.keyName != "" {
		logger = logger.With("key_name", f.keyName)
	}
	return logger
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
