// Command server starts the PDF question-answering service.
//
// It serves the browser UI, POST /ingest and POST /query behind API-key
// authentication and per-key rate limiting. The index snapshot in
// index.dataDir is restored on startup when present. Redis (answer cache),
// Kafka (analytics transport) and PostgreSQL (API keys) are optional and
// switched on from the config file.
//
// Usage:
//
//	go run ./cmd/server [-config configs/development.yaml]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/internal/auth/apikey"
	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/internal/auth/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/internal/chunker"
	gwhandler "github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/internal/gateway/handler"
	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/internal/gateway/router"
	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/internal/llm"
	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/internal/llm/bedrock"
	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/internal/llm/hashembed"
	llmopenai "github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/internal/llm/openai"
	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/internal/rag"
	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/internal/rag/cache"
	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/internal/vectorindex"
	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "", "path to config file (defaults are used when empty)")
	flag.Parse()

	// .env is optional; OPENAI_API_KEY and AWS credentials usually live there.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting pdf q&a service",
		"port", cfg.Server.Port,
		"embedding", cfg.LLM.Embedding.Provider,
		"generation", cfg.LLM.Generation.Provider,
		"auth_store", cfg.Auth.Store,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, prometheus.DefaultGatherer)
		defer shutdownMetrics(context.Background())
	}

	embedder, err := newEmbedder(cfg)
	if err != nil {
		slog.Error("failed to create embedder", "error", err)
		os.Exit(1)
	}
	generator, err := newGenerator(ctx, cfg, m)
	if err != nil {
		slog.Error("failed to create generator", "error", err)
		os.Exit(1)
	}

	ch, err := chunker.New(cfg.Chunking.ChunkSize, cfg.Chunking.Overlap)
	if err != nil {
		slog.Error("invalid chunking config", "error", err)
		os.Exit(1)
	}
	index := vectorindex.New(embedder)
	pipeline := rag.NewPipeline(index, generator, rag.PipelineConfig{
		ShortAnswerMaxLength: cfg.Retrieval.ShortAnswerMaxLength,
		Concurrency:          cfg.Retrieval.Concurrency,
		Metrics:              m,
	})

	checker := health.NewChecker()
	checker.Register("index", func(context.Context) health.ComponentHealth {
		if index.Ready() {
			return health.ComponentHealth{Status: health.StatusUp}
		}
		return health.ComponentHealth{Status: health.StatusDegraded, Message: "no document ingested"}
	})

	// Redis answer cache.
	var answerCache rag.AnswerCache
	if cfg.Redis.Enabled {
		rc, err := pkgredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer rc.Close()
		answerCache = cache.New(rc, cfg.Redis.CacheTTL, m)
		checker.Register("redis", health.PingCheck(rc.Ping))
		slog.Info("answer cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
	}

	// Analytics: collector → Kafka → consumer → aggregator, or collector →
	// aggregator in-process when Kafka is off.
	aggregator := analytics.NewAggregator()
	var publisher analytics.Publisher = analytics.LocalPublisher{Aggregator: aggregator}
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents)
		defer producer.Close()
		publisher = producer

		consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents, analytics.HandleEvent(aggregator))
		go func() {
			if err := consumer.Start(ctx); err != nil {
				slog.Error("analytics consumer error", "error", err)
			}
		}()
		slog.Info("analytics via kafka", "topic", cfg.Kafka.Topics.AnalyticsEvents)
	}
	collector := analytics.NewCollector(publisher, 0, cfg.Kafka.BatchSize, cfg.Kafka.FlushInterval)
	collector.Start(ctx)
	defer collector.Close()

	svc := rag.NewService(rag.ServiceConfig{
		Index:     index,
		Chunker:   ch,
		Pipeline:  pipeline,
		Cache:     answerCache,
		Events:    collector,
		Metrics:   m,
		DataDir:   cfg.Index.DataDir,
		UploadDir: cfg.Index.UploadDir,
	})
	if err := restoreIndex(svc, cfg.Index.DataDir); err != nil {
		slog.Error("failed to load index", "dir", cfg.Index.DataDir, "error", err)
		os.Exit(1)
	}

	keys, closeKeys, err := newKeyStore(ctx, cfg, checker)
	if err != nil {
		slog.Error("failed to create api key store", "error", err)
		os.Exit(1)
	}
	defer closeKeys()

	chain := router.New(router.Deps{
		Handler: gwhandler.New(svc, gwhandler.Config{
			DefaultTopK:      cfg.Retrieval.DefaultTopK,
			MaxTopK:          cfg.Retrieval.MaxTopK,
			DefaultMaxLength: cfg.Retrieval.DefaultMaxLength,
			MaxUploadBytes:   cfg.Server.MaxUploadBytes,
			LogSpans:         cfg.Tracing.Enabled,
		}),
		Analytics:    analytics.NewHandler(aggregator),
		Health:       checker,
		Keys:         keys,
		Limiter:      ratelimit.New(cfg.RateLimit.Capacity, cfg.RateLimit.RefillRate),
		Metrics:      m,
		CORSOrigins:  cfg.Server.CORSOrigins,
		QueryTimeout: cfg.Server.QueryTimeout,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("pdf q&a service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("pdf q&a service stopped", "analytics_dropped", collector.Dropped())
}

// restoreIndex loads the saved snapshot. A missing or corrupt snapshot leaves
// the service up and not ready; only other failures are returned.
func restoreIndex(svc *rag.Service, dir string) error {
	switch err := svc.LoadIndex(); {
	case err == nil:
		stats := svc.Stats()
		slog.Info("index restored", "dir", dir, "chunks", stats.Chunks, "dim", stats.Dim, "version", stats.Version)
	case errors.Is(err, apperrors.ErrIndexNotFound):
		slog.Info("no saved index, waiting for first ingest", "dir", dir)
	case errors.Is(err, apperrors.ErrIndexCorrupt):
		// The next ingest overwrites the artifacts.
		slog.Warn("saved index is corrupt, waiting for next ingest", "dir", dir, "error", err)
	default:
		return err
	}
	return nil
}

func newEmbedder(cfg *config.Config) (llm.Embedder, error) {
	e := cfg.LLM.Embedding
	switch e.Provider {
	case "openai":
		client, err := llmopenai.NewClient(cfg.LLM.OpenAI.APIKey(), cfg.LLM.OpenAI.BaseURL)
		if err != nil {
			return nil, err
		}
		return llmopenai.NewEmbedder(client, e.Model, e.BatchSize), nil
	default:
		return hashembed.New(e.Dimension), nil
	}
}

// newGenerator builds the configured provider behind a circuit breaker whose
// state is exported as a gauge.
func newGenerator(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (llm.Generator, error) {
	g := cfg.LLM.Generation
	var next llm.Generator
	switch g.Provider {
	case "bedrock":
		gen, err := bedrock.New(ctx, cfg.LLM.Bedrock.Region, g.Model)
		if err != nil {
			return nil, err
		}
		next = gen
	default:
		client, err := llmopenai.NewClient(cfg.LLM.OpenAI.APIKey(), cfg.LLM.OpenAI.BaseURL)
		if err != nil {
			return nil, err
		}
		next = llmopenai.NewGenerator(client, g.Model)
	}

	breaker := resilience.NewCircuitBreaker("generator-"+g.Provider, resilience.CircuitBreakerConfig{
		FailureThreshold: g.FailureThreshold,
		ResetTimeout:     g.ResetTimeout,
		OnStateChange: func(name string, to resilience.State) {
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	})
	return llm.NewGuarded(next, breaker, g.Timeout), nil
}

// newKeyStore returns the configured API key store and its cleanup func.
func newKeyStore(ctx context.Context, cfg *config.Config, checker *health.Checker) (apikey.Store, func(), error) {
	if cfg.Auth.Store != "postgres" {
		store := apikey.NewStaticStore(cfg.Auth.Keys)
		slog.Info("using static api keys", "count", store.Len())
		return store, func() {}, nil
	}
	db, err := postgres.New(ctx, cfg.Postgres)
	if err != nil {
		return nil, nil, err
	}
	store := apikey.NewPostgresStore(db)
	if err := store.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	checker.Register("postgres", health.PingCheck(db.Ping))
	slog.Info("using postgres api keys", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	return store, func() { db.Close() }, nil
}
