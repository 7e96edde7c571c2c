package rag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/internal/chunker"
	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/internal/pdftext"
	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/internal/vectorindex"
	apperrors "github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/pkg/metrics"
)

// CacheKey identifies a cached answer. Snapshot is the index version the
// answer was computed against.
type CacheKey struct {
	Snapshot  string
	Question  string
	TopK      int
	MaxLength int
}

// ComputeFunc produces an answer on a cache miss. store is false when the
// answer must not be written back.
type ComputeFunc func() (answer *FinalAnswer, store bool, err error)

// AnswerCache memoizes final answers. *cache.AnswerCache satisfies it.
type AnswerCache interface {
	GetOrCompute(ctx context.Context, key CacheKey, compute ComputeFunc) (*FinalAnswer, bool, error)
	Invalidate(ctx context.Context) error
}

// EventSink receives analytics events. *analytics.Collector satisfies it.
type EventSink interface {
	TrackQuery(analytics.QueryEvent)
	TrackIngest(analytics.IngestEvent)
}

// ServiceConfig wires a Service. Cache, Events and Metrics are optional.
// An empty DataDir keeps the index in memory only.
type ServiceConfig struct {
	Index     *vectorindex.Index
	Chunker   *chunker.Chunker
	Extractor *pdftext.Extractor
	Pipeline  *Pipeline
	Cache     AnswerCache
	Events    EventSink
	Metrics   *metrics.Metrics
	DataDir   string
	UploadDir string
}

// Service is the application core behind the HTTP handlers: ingest replaces
// the index with a new document, query runs the answer pipeline.
type Service struct {
	index     *vectorindex.Index
	chunker   *chunker.Chunker
	extractor *pdftext.Extractor
	pipeline  *Pipeline
	cache     AnswerCache
	events    EventSink
	metrics   *metrics.Metrics
	dataDir   string
	uploadDir string

	// ingestMu serializes ingests; queries keep running against the old
	// snapshot until the new one is swapped in.
	ingestMu sync.Mutex
	logger   *slog.Logger
}

func NewService(cfg ServiceConfig) *Service {
	if cfg.Extractor == nil {
		cfg.Extractor = pdftext.NewExtractor()
	}
	return &Service{
		index:     cfg.Index,
		chunker:   cfg.Chunker,
		extractor: cfg.Extractor,
		pipeline:  cfg.Pipeline,
		cache:     cfg.Cache,
		events:    cfg.Events,
		metrics:   cfg.Metrics,
		dataDir:   cfg.DataDir,
		uploadDir: cfg.UploadDir,
		logger:    slog.Default().With("component", "rag-service"),
	}
}

func (s *Service) Ready() bool {
	return s.index.Ready()
}

func (s *Service) Stats() vectorindex.Stats {
	return s.index.Stats()
}

// LoadIndex restores the persisted snapshot from the data directory.
// ErrIndexNotFound means nothing has been ingested yet.
func (s *Service) LoadIndex() error {
	if s.dataDir == "" {
		return apperrors.ErrIndexNotFound
	}
	if err := s.index.Load(s.dataDir); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.IndexedChunks.Set(float64(s.index.Stats().Chunks))
	}
	return nil
}

// IngestUpload stores an uploaded PDF under the upload directory and
// ingests it. Only the base name of filename is used.
func (s *Service) IngestUpload(ctx context.Context, filename string, r io.Reader) (int, error) {
	name := filepath.Base(filename)
	if name == "." || name == string(filepath.Separator) || !strings.EqualFold(filepath.Ext(name), ".pdf") {
		return 0, fmt.Errorf("%w: only .pdf uploads are accepted, got %q", apperrors.ErrInvalidInput, filename)
	}
	path, err := s.saveUpload(name, r)
	if err != nil {
		return 0, err
	}
	return s.IngestFile(ctx, path)
}

// IngestFile extracts, chunks and indexes the PDF at path, replacing the
// current index.
func (s *Service) IngestFile(ctx context.Context, path string) (int, error) {
	start := time.Now()
	pages, err := s.extractor.ExtractFile(path)
	if err != nil {
		s.finishIngest(ctx, filepath.Base(path), 0, 0, start, err)
		return 0, err
	}
	return s.ingest(ctx, filepath.Base(path), pages, start)
}

// IngestPages indexes already-extracted pages. source names the document in
// logs and analytics.
func (s *Service) IngestPages(ctx context.Context, source string, pages []chunker.Page) (int, error) {
	return s.ingest(ctx, source, pages, time.Now())
}

func (s *Service) ingest(ctx context.Context, source string, pages []chunker.Page, start time.Time) (int, error) {
	s.ingestMu.Lock()
	defer s.ingestMu.Unlock()

	chunks := indexable(s.chunker.Split(pages))
	if len(chunks) == 0 {
		err := fmt.Errorf("%w: %s has no extractable text", apperrors.ErrInvalidInput, source)
		s.finishIngest(ctx, source, len(pages), 0, start, err)
		return 0, err
	}
	if err := s.index.Build(ctx, chunks); err != nil {
		s.finishIngest(ctx, source, len(pages), len(chunks), start, err)
		return 0, err
	}
	if s.dataDir != "" {
		if err := s.index.Save(s.dataDir); err != nil {
			s.finishIngest(ctx, source, len(pages), len(chunks), start, err)
			return 0, err
		}
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx); err != nil {
			s.logger.Warn("answer cache not invalidated", "error", err)
		}
	}
	s.finishIngest(ctx, source, len(pages), len(chunks), start, nil)
	return len(chunks), nil
}

// indexable drops blank chunks (empty pages, image-only pages) so they never
// reach the embedder.
func indexable(chunks []chunker.Chunk) []chunker.Chunk {
	return slices.DeleteFunc(chunks, func(c chunker.Chunk) bool { return c.Text == "" })
}

func (s *Service) finishIngest(ctx context.Context, source string, pages, chunks int, start time.Time, err error) {
	log := logger.FromContext(ctx).With("component", "rag-service", "source", source)
	status := "ok"
	if err != nil {
		status = "error"
		log.Error("ingest failed", "pages", pages, "error", err)
	} else {
		log.Info("document ingested", "pages", pages, "chunks", chunks, "duration", time.Since(start))
	}
	if s.metrics != nil {
		s.metrics.IngestsTotal.WithLabelValues(status).Inc()
		if err == nil {
			s.metrics.IndexedChunks.Set(float64(chunks))
		}
	}
	if s.events != nil {
		s.events.TrackIngest(analytics.IngestEvent{
			Filename:  source,
			Pages:     pages,
			Chunks:    chunks,
			Status:    status,
			LatencyMs: time.Since(start).Milliseconds(),
		})
	}
}

// Query answers question from the current index, through the answer cache
// when one is configured.
func (s *Service) Query(ctx context.Context, question string, topK, maxLength int) (*FinalAnswer, error) {
	start := time.Now()
	snapshot := s.index.Version()
	compute := func() (*FinalAnswer, bool, error) {
		answer, err := s.pipeline.Answer(ctx, question, topK, maxLength)
		// An ingest that swapped the index mid-query leaves an answer that
		// belongs to neither snapshot.
		return answer, s.index.Version() == snapshot, err
	}

	var (
		answer *FinalAnswer
		hit    bool
		err    error
	)
	if s.cache != nil && snapshot != "" {
		key := CacheKey{Snapshot: snapshot, Question: question, TopK: topK, MaxLength: maxLength}
		answer, hit, err = s.cache.GetOrCompute(ctx, key, compute)
	} else {
		answer, _, err = compute()
	}

	outcome := queryOutcome(err, hit)
	if s.metrics != nil {
		s.metrics.QueriesTotal.WithLabelValues(outcome).Inc()
	}
	if s.events != nil {
		event := analytics.QueryEvent{
			Question:  question,
			TopK:      topK,
			Outcome:   outcome,
			CacheHit:  hit,
			LatencyMs: time.Since(start).Milliseconds(),
			RequestID: logger.RequestID(ctx),
		}
		if answer != nil {
			event.Retrieved = len(answer.RawRetrieved)
			if len(answer.Sources) > 0 {
				event.TopScore = answer.Sources[0].Score
			}
			for _, a := range answer.ShortAnswers {
				if a.IsNotFound() {
					event.NotFound++
				}
			}
		}
		s.events.TrackQuery(event)
	}
	return answer, err
}

func queryOutcome(err error, hit bool) string {
	switch {
	case err == nil && hit:
		return analytics.OutcomeCached
	case err == nil:
		return analytics.OutcomeOK
	case errors.Is(err, apperrors.ErrNoRelevantDocs):
		return analytics.OutcomeNoDocs
	case errors.Is(err, apperrors.ErrIndexNotReady):
		return analytics.OutcomeNotReady
	default:
		return analytics.OutcomeError
	}
}

func (s *Service) saveUpload(name string, r io.Reader) (string, error) {
	dir := s.uploadDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating upload dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, name+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("creating upload file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing upload: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("storing upload: %w", err)
	}
	return path, nil
}
