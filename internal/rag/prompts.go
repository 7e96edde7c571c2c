package rag

import (
	"fmt"
	"strings"
)

// Prompter renders the two prompts the pipeline sends to the generator.
type Prompter interface {
	ShortAnswerPrompt(snippet, question string) string
	SynthesisPrompt(question string, answers []ShortAnswer) string
}

// DefaultPrompter holds the stock English prompts.
type DefaultPrompter struct{}

func (DefaultPrompter) ShortAnswerPrompt(snippet, question string) string {
	return "You are an assistant. Use the snippet below to answer the question. " +
		"If snippet doesn't contain answer, say '" + NotFound + "'.\n" +
		"Snippet:\n" + snippet + "\n\n" +
		"Question: " + question + "\n" +
		"Answer (short):"
}

func (DefaultPrompter) SynthesisPrompt(question string, answers []ShortAnswer) string {
	var b strings.Builder
	b.WriteString("You are a final answer synthesizer. Use the short answers below and the scores " +
		"to produce a single concise final answer. Cite sources with page numbers in square brackets. " +
		"When sources disagree, prefer the ones with higher scores.\n\n")
	for _, a := range answers {
		fmt.Fprintf(&b, "Source (page %d, score %.3f):\n%s\n\n", a.Page, a.Score, a.Answer)
	}
	b.WriteString("Question: " + question + "\nFinal Answer:")
	return b.String()
}
