// Package chunker splits cleaned page text into overlapping fixed-size
// windows tagged with their page number and character offsets.
package chunker

import (
	"fmt"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/pkg/errors"
)

// Page is the cleaned text of one 1-based PDF page.
type Page struct {
	Number int
	Text   string
}

// Chunk is one window of a page. CharStart and CharEnd are the window bounds
// in characters (runes) before trimming, so CharEnd-CharStart may exceed the
// length of Text.
type Chunk struct {
	Text      string
	Page      int
	CharStart int
	CharEnd   int
}

// Chunker holds a validated window shape.
type Chunker struct {
	size    int
	overlap int
}

// New returns a Chunker producing windows of size characters that overlap
// by overlap characters. It requires size > overlap >= 0.
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 || overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: need size > overlap >= 0, got size=%d overlap=%d",
			apperrors.ErrChunking, size, overlap)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

func (c *Chunker) Size() int    { return c.size }
func (c *Chunker) Overlap() int { return c.overlap }

// Chunk windows one page of already-cleaned text.
func (c *Chunker) Chunk(text string, page int) []Chunk {
	runes := []rune(text)
	n := len(runes)
	// A page that fits in one window is always one chunk, even when blank.
	if n <= c.size {
		return []Chunk{{Text: strings.TrimSpace(text), Page: page, CharStart: 0, CharEnd: n}}
	}

	chunks := make([]Chunk, 0, n/(c.size-c.overlap)+1)
	start := 0
	for {
		end := min(start+c.size, n)
		if t := strings.TrimSpace(string(runes[start:end])); t != "" {
			chunks = append(chunks, Chunk{Text: t, Page: page, CharStart: start, CharEnd: end})
		}
		if end == n {
			break
		}
		start = max(end-c.overlap, 0)
	}
	return chunks
}

// Split chunks every page in order.
func (c *Chunker) Split(pages []Page) []Chunk {
	var chunks []Chunk
	for _, p := range pages {
		chunks = append(chunks, c.Chunk(p.Text, p.Number)...)
	}
	return chunks
}
