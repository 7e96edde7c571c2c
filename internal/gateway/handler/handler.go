// Package handler implements the gateway's HTTP endpoints on top of the
// question-answering service.
package handler

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/internal/rag"
	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/internal/vectorindex"
	apperrors "github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/pkg/tracing"
)

//go:embed ui/index.html
var indexHTML []byte

const maxQueryBodyBytes = 1 << 20

// Service is what the handlers need from *rag.Service.
type Service interface {
	IngestUpload(ctx context.Context, filename string, r io.Reader) (int, error)
	Query(ctx context.Context, question string, topK, maxLength int) (*rag.FinalAnswer, error)
	Ready() bool
	Stats() vectorindex.Stats
}

type Config struct {
	DefaultTopK      int
	MaxTopK          int
	DefaultMaxLength int
	MaxUploadBytes   int64
	// LogSpans logs the per-request span tree at debug level.
	LogSpans         bool
}

type Handler struct {
	svc    Service
	cfg    Config
	logger *slog.Logger
}

func New(svc Service, cfg Config) *Handler {
	return &Handler{
		svc:    svc,
		cfg:    cfg,
		logger: slog.Default().With("component", "gateway-handler"),
	}
}

// QueryRequest is the body of POST /query. Omitted or zero top_k and
// max_length take the configured defaults.
type QueryRequest struct {
	Question  string `json:"question"`
	TopK      int    `json:"top_k"`
	MaxLength int    `json:"max_length"`
}

type IngestResponse struct {
	Status string `json:"status"`
	Chunks int    `json:"chunks"`
}

// Ingest handles POST /ingest: a multipart form whose "file" field is a PDF.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	if h.cfg.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
			return
		}
		h.writeError(w, http.StatusBadRequest, "expected multipart/form-data with a 'file' field")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "form field 'file' is required")
		return
	}
	defer file.Close()

	start := time.Now()
	chunks, err := h.svc.IngestUpload(r.Context(), header.Filename, file)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	log.Info("pdf ingested",
		"filename", header.Filename,
		"size", header.Size,
		"chunks", chunks,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	h.writeJSON(w, http.StatusOK, IngestResponse{Status: "ok", Chunks: chunks})
}

// Query handles POST /query.
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.StartSpan(r.Context(), "query", logger.RequestID(r.Context()))
	log := logger.FromContext(ctx)
	defer func() {
		span.End()
		if h.cfg.LogSpans {
			span.Log(log)
		}
	}()

	var req QueryRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxQueryBodyBytes))
	if err := dec.Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		h.writeError(w, http.StatusBadRequest, "question is required")
		return
	}
	if req.TopK < 0 || req.MaxLength < 0 {
		h.writeError(w, http.StatusBadRequest, "top_k and max_length must be positive")
		return
	}
	if req.TopK == 0 {
		req.TopK = h.cfg.DefaultTopK
	}
	if h.cfg.MaxTopK > 0 && req.TopK > h.cfg.MaxTopK {
		req.TopK = h.cfg.MaxTopK
	}
	if req.MaxLength == 0 {
		req.MaxLength = h.cfg.DefaultMaxLength
	}
	span.SetAttr("top_k", req.TopK)

	answer, err := h.svc.Query(ctx, req.Question, req.TopK, req.MaxLength)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	log.Info("query answered",
		"top_k", req.TopK,
		"sources", len(answer.Sources),
		"latency_ms", span.Elapsed().Milliseconds(),
	)
	h.writeJSON(w, http.StatusOK, answer)
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "index_ready": h.svc.Ready()})
}

// IndexStats handles GET /api/v1/index.
func (h *Handler) IndexStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.svc.Stats())
}

// UI serves the single-page upload and question form at GET /.
func (h *Handler) UI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(indexHTML)
}

func (h *Handler) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	log := logger.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "status", status, "error", err)
	} else {
		log.Info("request rejected", "status", status, "error", err)
	}
	h.writeError(w, status, errorMessage(status, err))
}

// errorMessage hides internal detail from 5xx responses.
func errorMessage(status int, err error) string {
	switch status {
	case http.StatusBadGateway:
		return "model backend failed"
	case http.StatusServiceUnavailable:
		return "model backend unavailable, retry later"
	case http.StatusInternalServerError:
		return "internal error"
	default:
		return err.Error()
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
