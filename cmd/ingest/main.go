// Command ingest builds the index snapshot for a PDF offline, so a server
// started against the same index.dataDir can answer immediately.
//
// Usage:
//
//	go run ./cmd/ingest [-config configs/development.yaml] -file paper.pdf
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/internal/chunker"
	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/internal/llm/hashembed"
	llmopenai "github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/internal/llm/openai"
	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/internal/rag"
	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/internal/vectorindex"
	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "", "path to config file (defaults are used when empty)")
	file := flag.String("file", "", "PDF to ingest")
	attempts := flag.Int("attempts", 3, "embedding attempts before giving up")
	flag.Parse()

	if *file == "" {
		fmt.Fprintln(os.Stderr, "error: -file is required")
		flag.Usage()
		os.Exit(1)
	}

	_ = godotenv.Load()
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ch, err := chunker.New(cfg.Chunking.ChunkSize, cfg.Chunking.Overlap)
	if err != nil {
		slog.Error("invalid chunking config", "error", err)
		os.Exit(1)
	}

	var index *vectorindex.Index
	switch cfg.LLM.Embedding.Provider {
	case "openai":
		client, err := llmopenai.NewClient(cfg.LLM.OpenAI.APIKey(), cfg.LLM.OpenAI.BaseURL)
		if err != nil {
			slog.Error("failed to create openai client", "error", err)
			os.Exit(1)
		}
		index = vectorindex.New(llmopenai.NewEmbedder(client, cfg.LLM.Embedding.Model, cfg.LLM.Embedding.BatchSize))
	default:
		index = vectorindex.New(hashembed.New(cfg.LLM.Embedding.Dimension))
	}

	// Queries are never run here, so the pipeline has no generator.
	svc := rag.NewService(rag.ServiceConfig{
		Index:   index,
		Chunker: ch,
		DataDir: cfg.Index.DataDir,
	})

	start := time.Now()
	var chunks int
	err = resilience.Retry(ctx, "ingest", resilience.RetryConfig{
		MaxAttempts:  *attempts,
		InitialDelay: time.Second,
		Retryable: func(err error) bool {
			return errors.Is(err, apperrors.ErrEmbedding)
		},
	}, func() error {
		n, err := svc.IngestFile(ctx, *file)
		chunks = n
		return err
	})
	if err != nil {
		slog.Error("ingest failed", "file", *file, "error", err)
		os.Exit(1)
	}

	slog.Info("index written",
		"file", *file,
		"chunks", chunks,
		"dir", cfg.Index.DataDir,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
}
