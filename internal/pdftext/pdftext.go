// Package pdftext extracts per-page plain text from PDF files.
package pdftext

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/internal/chunker"
	apperrors "github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/pkg/errors"
)

var whitespace = regexp.MustCompile(`\s+`)

// CleanText flattens newlines, collapses whitespace runs to one space and
// trims the result.
func CleanText(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

// Extractor reads PDFs into cleaned pages.
type Extractor struct {
	logger *slog.Logger
}

func NewExtractor() *Extractor {
	return &Extractor{logger: slog.Default().With("component", "pdftext")}
}

// ExtractFile opens path and extracts every page.
func (e *Extractor) ExtractFile(path string) ([]chunker.Page, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening pdf: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat pdf: %w", err)
	}
	return e.Extract(f, info.Size())
}

// Extract returns one page per PDF page, numbered from 1. Pages whose text
// cannot be decoded come back empty rather than failing the document.
func (e *Extractor) Extract(r io.ReaderAt, size int64) ([]chunker.Page, error) {
	reader, err := openReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: not a readable pdf: %v", apperrors.ErrInvalidInput, err)
	}
	total := reader.NumPage()
	pages := make([]chunker.Page, 0, total)
	for i := 1; i <= total; i++ {
		text, err := pageText(reader, i)
		if err != nil {
			e.logger.Warn("failed to extract page text", "page", i, "error", err)
		}
		pages = append(pages, chunker.Page{Number: i, Text: CleanText(text)})
	}
	return pages, nil
}

// The pdf package panics on some malformed inputs; both helpers convert that
// into an error.
func openReader(r io.ReaderAt, size int64) (reader *pdf.Reader, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("pdf parser panic: %v", p)
		}
	}()
	return pdf.NewReader(r, size)
}

func pageText(reader *pdf.Reader, n int) (text string, err error) {
	defer func() {
		if p := recover(); p != nil {
			text, err = "", fmt.Errorf("pdf parser panic: %v", p)
		}
	}()
	page := reader.Page(n)
	if page.V.IsNull() {
		return "", nil
	}
	return page.GetPlainText(nil)
}
