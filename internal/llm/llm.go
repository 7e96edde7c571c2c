// Package llm defines the two model collaborators of the answer pipeline:
// an Embedder mapping text to vectors and a Generator mapping a prompt to
// text. Provider implementations live in the subpackages.
package llm

//go:generate mockgen -source=llm.go -destination=mocks/mock_llm.go -package=mocks

import "context"

// Embedder returns one row per input text. Every row has the same dimension
// across calls.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Generator completes prompt with at most maxLength tokens. Implementations
// decode greedily so identical inputs produce identical outputs.
type Generator interface {
	Generate(ctx context.Context, prompt string, maxLength int) (string, error)
}
