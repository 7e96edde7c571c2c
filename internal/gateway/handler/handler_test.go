package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/internal/rag"
	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/internal/vectorindex"
	apperrors "github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/pkg/errors"
)

type fakeService struct {
	queryErr  error
	ingestErr error
	chunks    int

	gotQuestion string
	gotTopK     int
	gotMaxLen   int
	gotFilename string
	gotUpload   string
}

func (f *fakeService) IngestUpload(_ context.Context, filename string, r io.Reader) (int, error) {
	f.gotFilename = filename
	data, _ := io.ReadAll(r)
	f.gotUpload = string(data)
	return f.chunks, f.ingestErr
}

func (f *fakeService) Query(_ context.Context, q string, topK, maxLength int) (*rag.FinalAnswer, error) {
	f.gotQuestion, f.gotTopK, f.gotMaxLen = q, topK, maxLength
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return &rag.FinalAnswer{
		Question: q,
		Answer:   "Alpha [1]",
		Sources:  []rag.Source{{Page: 1, SnippetPrefix: "Alpha Beta", Score: 0.7}},
	}, nil
}

func (f *fakeService) Ready() bool { return true }

func (f *fakeService) Stats() vectorindex.Stats {
	return vectorindex.Stats{Ready: true, Chunks: 3, Dim: 384}
}

func newHandler(svc Service) *Handler {
	return New(svc, Config{DefaultTopK: 4, MaxTopK: 8, DefaultMaxLength: 256, MaxUploadBytes: 1 << 10})
}

func postQuery(h *Handler, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.Query(rec, httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(body)))
	return rec
}

func TestQueryDefaultsAndClamping(t *testing.T) {
	tests := []struct {
		body             string
		wantTopK, wantML int
	}{
		{`{"question":"What is Alpha?"}`, 4, 256},
		{`{"question":"What is Alpha?","top_k":1,"max_length":32}`, 1, 32},
		{`{"question":"What is Alpha?","top_k":50}`, 8, 256},
	}
	for _, tt := range tests {
		svc := &fakeService{}
		rec := postQuery(newHandler(svc), tt.body)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status = %d", tt.body, rec.Code)
		}
		if svc.gotTopK != tt.wantTopK || svc.gotMaxLen != tt.wantML {
			t.Errorf("%s: top_k=%d max_length=%d, want %d/%d", tt.body, svc.gotTopK, svc.gotMaxLen, tt.wantTopK, tt.wantML)
		}
	}
}

func TestQueryResponseShape(t *testing.T) {
	rec := postQuery(newHandler(&fakeService{}), `{"question":"  What is Alpha? "}`)
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["question"] != "What is Alpha?" || body["answer"] != "Alpha [1]" {
		t.Errorf("body = %v", body)
	}
	sources := body["sources"].([]any)
	first := sources[0].(map[string]any)
	if first["page"] != float64(1) || first["snippet_prefix"] != "Alpha Beta" {
		t.Errorf("source = %v", first)
	}
}

func TestQueryBadRequests(t *testing.T) {
	for _, body := range []string{
		`not json`,
		`{"question":""}`,
		`{"question":"   "}`,
		`{"question":"q","top_k":-1}`,
		`{"question":"q","max_length":-5}`,
	} {
		svc := &fakeService{}
		rec := postQuery(newHandler(svc), body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", body, rec.Code)
		}
		if svc.gotQuestion != "" {
			t.Errorf("%s: service should not be called", body)
		}
	}
}

func TestQueryErrorMapping(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantMsg    string
	}{
		{apperrors.ErrIndexNotReady, http.StatusBadRequest, "index not ready"},
		{apperrors.ErrNoRelevantDocs, http.StatusNotFound, "no relevant documents"},
		{fmt.Errorf("%w: synthesis: boom", apperrors.ErrGeneration), http.StatusBadGateway, "model backend failed"},
		{fmt.Errorf("%w: %w", apperrors.ErrGeneration, apperrors.ErrCircuitOpen), http.StatusServiceUnavailable, "model backend unavailable, retry later"},
		{errors.New("disk on fire"), http.StatusInternalServerError, "internal error"},
	}
	for _, tt := range tests {
		rec := postQuery(newHandler(&fakeService{queryErr: tt.err}), `{"question":"q"}`)
		if rec.Code != tt.wantStatus {
			t.Errorf("%v: status = %d, want %d", tt.err, rec.Code, tt.wantStatus)
		}
		var body map[string]string
		_ = json.NewDecoder(rec.Body).Decode(&body)
		if body["error"] != tt.wantMsg {
			t.Errorf("%v: error = %q, want %q", tt.err, body["error"], tt.wantMsg)
		}
	}
}

func multipartBody(t *testing.T, field, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte(content))
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestIngest(t *testing.T) {
	svc := &fakeService{chunks: 3}
	body, ctype := multipartBody(t, "file", "doc.pdf", "%PDF-1.4 fake")
	req := httptest.NewRequest(http.MethodPost, "/ingest", body)
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	newHandler(svc).Ingest(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var resp IngestResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp != (IngestResponse{Status: "ok", Chunks: 3}) {
		t.Errorf("response = %+v", resp)
	}
	if svc.gotFilename != "doc.pdf" || svc.gotUpload != "%PDF-1.4 fake" {
		t.Errorf("service got %q / %q", svc.gotFilename, svc.gotUpload)
	}
}

func TestIngestRejections(t *testing.T) {
	t.Run("not multipart", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader(`{}`))
		req.Header.Set("Content-Type", "application/json")
		newHandler(&fakeService{}).Ingest(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d", rec.Code)
		}
	})
	t.Run("wrong field", func(t *testing.T) {
		body, ctype := multipartBody(t, "upload", "doc.pdf", "x")
		req := httptest.NewRequest(http.MethodPost, "/ingest", body)
		req.Header.Set("Content-Type", ctype)
		rec := httptest.NewRecorder()
		newHandler(&fakeService{}).Ingest(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d", rec.Code)
		}
	})
	t.Run("too large", func(t *testing.T) {
		body, ctype := multipartBody(t, "file", "doc.pdf", strings.Repeat("x", 4<<10))
		req := httptest.NewRequest(http.MethodPost, "/ingest", body)
		req.Header.Set("Content-Type", ctype)
		rec := httptest.NewRecorder()
		newHandler(&fakeService{}).Ingest(rec, req)
		if rec.Code != http.StatusRequestEntityTooLarge {
			t.Errorf("status = %d, want 413", rec.Code)
		}
	})
	t.Run("service rejects", func(t *testing.T) {
		svc := &fakeService{ingestErr: fmt.Errorf("%w: only .pdf uploads are accepted", apperrors.ErrInvalidInput)}
		body, ctype := multipartBody(t, "file", "notes.txt", "x")
		req := httptest.NewRequest(http.MethodPost, "/ingest", body)
		req.Header.Set("Content-Type", ctype)
		rec := httptest.NewRecorder()
		newHandler(svc).Ingest(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func TestUIAndStats(t *testing.T) {
	h := newHandler(&fakeService{})

	rec := httptest.NewRecorder()
	h.UI(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if !strings.Contains(rec.Body.String(), "<title>PDF Q&amp;A</title>") {
		t.Error("UI page not served")
	}

	rec = httptest.NewRecorder()
	h.IndexStats(rec, httptest.NewRequest(http.MethodGet, "/api/v1/index", nil))
	var stats vectorindex.Stats
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if !stats.Ready || stats.Chunks != 3 {
		t.Errorf("stats = %+v", stats)
	}
}
