package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/internal/llm"
	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/internal/vectorindex"
	apperrors "github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/pkg/tracing"
)

// Retriever returns the topK chunks closest to query. *vectorindex.Index
// satisfies it.
type Retriever interface {
	Search(ctx context.Context, query string, topK int) ([]vectorindex.Result, error)
}

// PipelineConfig tunes a Pipeline. Zero values pick the defaults.
type PipelineConfig struct {
	ShortAnswerMaxLength int
	Concurrency          int
	Prompter             Prompter
	Metrics              *metrics.Metrics
}

// Pipeline is the retrieve, short-answer, synthesize sequence.
type Pipeline struct {
	retriever      Retriever
	generator      llm.Generator
	prompter       Prompter
	shortMaxLength int
	concurrency    int
	metrics        *metrics.Metrics
	logger         *slog.Logger
}

func NewPipeline(retriever Retriever, generator llm.Generator, cfg PipelineConfig) *Pipeline {
	if cfg.ShortAnswerMaxLength <= 0 {
		cfg.ShortAnswerMaxLength = 128
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Prompter == nil {
		cfg.Prompter = DefaultPrompter{}
	}
	return &Pipeline{
		retriever:      retriever,
		generator:      generator,
		prompter:       cfg.Prompter,
		shortMaxLength: cfg.ShortAnswerMaxLength,
		concurrency:    cfg.Concurrency,
		metrics:        cfg.Metrics,
		logger:         slog.Default().With("component", "rag-pipeline"),
	}
}

// Answer runs the full pipeline for question. Any generator failure aborts
// the call with ErrGeneration; cancelling ctx cancels in-flight generations.
func (p *Pipeline) Answer(ctx context.Context, question string, topK, maxLength int) (*FinalAnswer, error) {
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("%w: question is empty", apperrors.ErrInvalidInput)
	}
	if maxLength < 1 {
		return nil, fmt.Errorf("%w: max_length must be at least 1, got %d", apperrors.ErrInvalidInput, maxLength)
	}
	log := p.logger.With("request_id", logger.RequestID(ctx))

	results, err := p.retrieve(ctx, question, topK)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, apperrors.ErrNoRelevantDocs
	}
	if p.metrics != nil {
		p.metrics.TopScore.Observe(float64(results[0].Score))
	}

	answers, err := p.shortAnswers(ctx, question, results)
	if err != nil {
		return nil, err
	}

	final, err := p.synthesize(ctx, question, answers, maxLength)
	if err != nil {
		return nil, err
	}

	sources := make([]Source, len(results))
	for i, r := range results {
		sources[i] = Source{Page: r.Page, SnippetPrefix: snippetPrefix(r.Text), Score: r.Score}
	}
	log.Debug("question answered", "retrieved", len(results), "top_score", results[0].Score)

	return &FinalAnswer{
		Question:     question,
		Answer:       final,
		Sources:      sources,
		RawRetrieved: results,
		ShortAnswers: answers,
	}, nil
}

func (p *Pipeline) retrieve(ctx context.Context, question string, topK int) ([]vectorindex.Result, error) {
	ctx, span := tracing.StartChildSpan(ctx, "retrieve")
	defer p.observe("retrieve", span)
	results, err := p.retriever.Search(ctx, question, topK)
	span.SetAttr("results", len(results))
	return results, err
}

func (p *Pipeline) shortAnswers(ctx context.Context, question string, results []vectorindex.Result) ([]ShortAnswer, error) {
	ctx, span := tracing.StartChildSpan(ctx, "short_answers")
	defer p.observe("short_answers", span)

	answers := make([]ShortAnswer, len(results))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, r := range results {
		g.Go(func() error {
			prompt := p.prompter.ShortAnswerPrompt(r.Text, question)
			text, err := p.generator.Generate(gctx, prompt, p.shortMaxLength)
			p.countGeneration("short_answer", err)
			if err != nil {
				return fmt.Errorf("%w: short answer for chunk %d: %w", apperrors.ErrGeneration, r.ID, err)
			}
			answers[i] = ShortAnswer{
				ID:      r.ID,
				Page:    r.Page,
				Snippet: r.Text,
				Score:   r.Score,
				Answer:  strings.TrimSpace(text),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	notFound := 0
	for _, a := range answers {
		if a.IsNotFound() {
			notFound++
		}
	}
	span.SetAttr("not_found", notFound)
	return answers, nil
}

func (p *Pipeline) synthesize(ctx context.Context, question string, answers []ShortAnswer, maxLength int) (string, error) {
	ctx, span := tracing.StartChildSpan(ctx, "synthesize")
	defer p.observe("synthesize", span)

	prompt := p.prompter.SynthesisPrompt(question, answers)
	text, err := p.generator.Generate(ctx, prompt, maxLength)
	p.countGeneration("synthesis", err)
	if err != nil {
		return "", fmt.Errorf("%w: synthesis: %w", apperrors.ErrGeneration, err)
	}
	return strings.TrimSpace(text), nil
}

func (p *Pipeline) observe(stage string, span *tracing.Span) {
	span.End()
	if p.metrics != nil {
		p.metrics.StageLatency.WithLabelValues(stage).Observe(span.Elapsed().Seconds())
	}
}

func (p *Pipeline) countGeneration(stage string, err error) {
	if p.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	p.metrics.GenerationCalls.WithLabelValues(stage, status).Inc()
}
