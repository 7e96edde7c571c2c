// Package rag answers questions over the indexed document: retrieve the
// closest chunks, ask the generator for a short answer per chunk, then
// synthesize one cited answer from those.
package rag

import (
	"strings"

	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/internal/vectorindex"
)

// NotFound is the reply the short-answer prompt asks for when a snippet does
// not contain the answer.
const NotFound = "NOT_FOUND"

// snippetPrefixLen is the number of characters of chunk text echoed back in
// each Source.
const snippetPrefixLen = 40

// ShortAnswer is the generator's reply for a single retrieved chunk.
type ShortAnswer struct {
	ID      int     `json:"id"`
	Page    int     `json:"page"`
	Snippet string  `json:"snippet"`
	Score   float32 `json:"score"`
	Answer  string  `json:"answer"`
}

// Source cites one retrieved chunk in the final answer.
type Source struct {
	Page          int     `json:"page"`
	SnippetPrefix string  `json:"snippet_prefix"`
	Score         float32 `json:"score"`
}

type FinalAnswer struct {
	Question     string               `json:"question"`
	Answer       string               `json:"answer"`
	Sources      []Source             `json:"sources"`
	RawRetrieved []vectorindex.Result `json:"raw_retrieved"`
	ShortAnswers []ShortAnswer        `json:"short_answers"`
}

// IsNotFound reports whether a short answer is the NOT_FOUND marker, allowing
// for the punctuation and casing models tend to add around it.
func (a ShortAnswer) IsNotFound() bool {
	s := strings.ToUpper(strings.Trim(strings.TrimSpace(a.Answer), ".'\"`"))
	return s == NotFound
}

func snippetPrefix(text string) string {
	r := []rune(text)
	if len(r) <= snippetPrefixLen {
		return text
	}
	return string(r[:snippetPrefixLen])
}
