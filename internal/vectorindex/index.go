// Package vectorindex stores L2-normalized chunk embeddings with their
// metadata and answers top-k cosine similarity queries over them. An index is
// replaced wholesale by Build or Load; readers always see one complete
// snapshot.
package vectorindex

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/internal/chunker"
	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/internal/llm"
	apperrors "github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/pkg/errors"
)

// maxSearchK bounds the padded scan buffer for absurd top_k values.
const maxSearchK = 10000

// Entry is the metadata stored for one row of the matrix.
type Entry struct {
	ID        int    `json:"id"`
	Text      string `json:"text"`
	Page      int    `json:"page"`
	CharStart int    `json:"char_start"`
	CharEnd   int    `json:"char_end"`
}

// Result is one retrieved chunk with its cosine similarity to the query.
type Result struct {
	Entry
	Score float32 `json:"score"`
}

// Stats describes the live snapshot.
type Stats struct {
	Ready   bool      `json:"ready"`
	Chunks  int       `json:"chunks"`
	Dim     int       `json:"dim"`
	Version string    `json:"version,omitempty"`
	BuiltAt time.Time `json:"built_at,omitzero"`
}

// snapshot is immutable once swapped in. meta is the encoded entries as
// written to MetaFile.
type snapshot struct {
	dim     int
	data    []float32
	entries []Entry
	meta    []byte
	version string
	builtAt time.Time
}

// snapshotVersion fingerprints the indexed content. Rebuilding from the same
// chunks, or reloading the saved artifacts after a restart, yields the same
// version.
func snapshotVersion(dim int, meta []byte) string {
	h := sha256.New()
	binary.Write(h, binary.LittleEndian, uint32(dim))
	h.Write(meta)
	return hex.EncodeToString(h.Sum(nil)[:12])
}

type Index struct {
	embedder llm.Embedder
	now      func() time.Time
	logger   *slog.Logger

	mu   sync.RWMutex
	snap *snapshot
}

type Option func(*Index)

// WithClock overrides the build timestamp source.
func WithClock(now func() time.Time) Option {
	return func(idx *Index) { idx.now = now }
}

func New(embedder llm.Embedder, opts ...Option) *Index {
	idx := &Index{
		embedder: embedder,
		now:      time.Now,
		logger:   slog.Default().With("component", "vectorindex"),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

func (idx *Index) current() *snapshot {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.snap
}

func (idx *Index) swap(s *snapshot) {
	idx.mu.Lock()
	idx.snap = s
	idx.mu.Unlock()
}

func (idx *Index) Ready() bool {
	return idx.current() != nil
}

// Version identifies the live snapshot's content, or "" when nothing is
// indexed. Answer caches key on it so a swap never serves stale answers.
func (idx *Index) Version() string {
	if s := idx.current(); s != nil {
		return s.version
	}
	return ""
}

func (idx *Index) Stats() Stats {
	s := idx.current()
	if s == nil {
		return Stats{}
	}
	return Stats{Ready: true, Chunks: len(s.entries), Dim: s.dim, Version: s.version, BuiltAt: s.builtAt}
}

// Build embeds chunks, assigns ids 0..n-1 in input order and replaces the
// index content. On error the previous content is kept.
func (idx *Index) Build(ctx context.Context, chunks []chunker.Chunk) error {
	if len(chunks) == 0 {
		return fmt.Errorf("%w: no chunks to index", apperrors.ErrInvalidInput)
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vecs, err := idx.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrEmbedding, err)
	}
	if len(vecs) != len(chunks) {
		return fmt.Errorf("%w: embedder returned %d rows for %d chunks", apperrors.ErrEmbedding, len(vecs), len(chunks))
	}
	dim := len(vecs[0])
	if dim == 0 {
		return fmt.Errorf("%w: embedder returned empty vectors", apperrors.ErrEmbedding)
	}

	data := make([]float32, len(vecs)*dim)
	entries := make([]Entry, len(chunks))
	for i, v := range vecs {
		if len(v) != dim {
			return fmt.Errorf("%w: row %d has dimension %d, want %d", apperrors.ErrEmbedding, i, len(v), dim)
		}
		row := data[i*dim : (i+1)*dim]
		copy(row, v)
		Normalize(row)
		c := chunks[i]
		entries[i] = Entry{ID: i, Text: c.Text, Page: c.Page, CharStart: c.CharStart, CharEnd: c.CharEnd}
	}

	meta, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	idx.swap(&snapshot{
		dim:     dim,
		data:    data,
		entries: entries,
		meta:    meta,
		version: snapshotVersion(dim, meta),
		builtAt: idx.now(),
	})
	idx.logger.Info("index built", "chunks", len(entries), "dim", dim)
	return nil
}

// Search returns up to topK entries by descending cosine similarity to query,
// ties broken by ascending id.
func (idx *Index) Search(ctx context.Context, query string, topK int) ([]Result, error) {
	s := idx.current()
	if s == nil {
		return nil, apperrors.ErrIndexNotReady
	}
	if topK < 1 {
		return nil, fmt.Errorf("%w: top_k must be at least 1, got %d", apperrors.ErrInvalidInput, topK)
	}
	vecs, err := idx.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrEmbedding, err)
	}
	if len(vecs) != 1 || len(vecs[0]) != s.dim {
		return nil, fmt.Errorf("%w: query embedding does not match index dimension %d", apperrors.ErrEmbedding, s.dim)
	}
	q := make([]float32, s.dim)
	copy(q, vecs[0])
	Normalize(q)

	hits := flatSearch(s.data, s.dim, q, min(topK, maxSearchK))
	results := make([]Result, 0, min(topK, len(s.entries)))
	for _, h := range hits {
		if h.id == noMatch {
			continue
		}
		results = append(results, Result{Entry: s.entries[h.id], Score: h.score})
	}
	return results, nil
}

// Save writes the matrix and metadata artifacts into dir. The file I/O runs
// on a snapshot reference, without holding the index lock.
func (idx *Index) Save(dir string) error {
	s := idx.current()
	if s == nil {
		return apperrors.ErrIndexNotReady
	}
	meta := s.meta
	matrix := encodeMatrix(matrixHeader{
		Rows:      uint32(len(s.entries)),
		Dim:       uint32(s.dim),
		CreatedAt: unixOrZero(s.builtAt),
		MetaCRC:   crc32.ChecksumIEEE(meta),
	}, s.data)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating index directory: %w", err)
	}
	matrixPath := filepath.Join(dir, MatrixFile)
	metaPath := filepath.Join(dir, MetaFile)
	matrixTmp, err := writeTemp(matrixPath, matrix)
	if err != nil {
		return err
	}
	metaTmp, err := writeTemp(metaPath, meta)
	if err != nil {
		os.Remove(matrixTmp)
		return err
	}
	if err := os.Rename(matrixTmp, matrixPath); err != nil {
		os.Remove(matrixTmp)
		os.Remove(metaTmp)
		return fmt.Errorf("renaming matrix file: %w", err)
	}
	if err := os.Rename(metaTmp, metaPath); err != nil {
		os.Remove(metaTmp)
		return fmt.Errorf("renaming metadata file: %w", err)
	}
	idx.logger.Info("index saved", "dir", dir, "chunks", len(s.entries))
	return nil
}

// Load replaces the index content with the artifacts in dir.
func (idx *Index) Load(dir string) error {
	matrixPath := filepath.Join(dir, MatrixFile)
	metaPath := filepath.Join(dir, MetaFile)
	for _, p := range []string{matrixPath, metaPath} {
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("%w: %s", apperrors.ErrIndexNotFound, p)
			}
			return fmt.Errorf("stat %s: %w", p, err)
		}
	}

	raw, err := os.ReadFile(matrixPath)
	if err != nil {
		return fmt.Errorf("reading matrix file: %w", err)
	}
	meta, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("reading metadata file: %w", err)
	}
	h, data, err := decodeMatrix(raw)
	if err != nil {
		return err
	}
	if crc32.ChecksumIEEE(meta) != h.MetaCRC {
		return fmt.Errorf("%w: metadata does not belong to this matrix", apperrors.ErrIndexCorrupt)
	}
	var entries []Entry
	if err := json.Unmarshal(meta, &entries); err != nil {
		return fmt.Errorf("%w: parsing metadata: %v", apperrors.ErrIndexCorrupt, err)
	}
	if len(entries) != int(h.Rows) {
		return fmt.Errorf("%w: %d matrix rows but %d metadata entries", apperrors.ErrIndexCorrupt, h.Rows, len(entries))
	}
	if h.Rows == 0 || h.Dim == 0 {
		return fmt.Errorf("%w: empty matrix", apperrors.ErrIndexCorrupt)
	}
	for i, e := range entries {
		if e.ID != i {
			return fmt.Errorf("%w: metadata entry %d has id %d", apperrors.ErrIndexCorrupt, i, e.ID)
		}
	}

	var builtAt time.Time
	if h.CreatedAt != 0 {
		builtAt = time.Unix(h.CreatedAt, 0)
	}
	idx.swap(&snapshot{
		dim:     int(h.Dim),
		data:    data,
		entries: entries,
		meta:    meta,
		version: snapshotVersion(int(h.Dim), meta),
		builtAt: builtAt,
	})
	idx.logger.Info("index loaded", "dir", dir, "chunks", len(entries), "dim", h.Dim)
	return nil
}
