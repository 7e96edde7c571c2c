package llm

import (
	"context"
	"time"

	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/pkg/resilience"
)

// Guarded wraps a Generator with an optional per-call timeout and a circuit
// breaker. It never retries; a failed call is reported as-is.
type Guarded struct {
	next    Generator
	breaker *resilience.CircuitBreaker
	timeout time.Duration
}

// NewGuarded returns next wrapped in breaker and timeout. A nil breaker or a
// zero timeout disables that guard.
func NewGuarded(next Generator, breaker *resilience.CircuitBreaker, timeout time.Duration) *Guarded {
	return &Guarded{next: next, breaker: breaker, timeout: timeout}
}

// Generate calls the wrapped provider. When the caller's context ends first
// (a disconnected client, or a sibling short answer failing the errgroup),
// the breaker sees a neutral cancellation rather than a provider failure;
// the caller still gets the provider's error.
func (g *Guarded) Generate(ctx context.Context, prompt string, maxLength int) (string, error) {
	var out string
	var callErr error
	call := func() error {
		callErr = resilience.WithTimeout(ctx, g.timeout, "generate", func(ctx context.Context) error {
			text, err := g.next.Generate(ctx, prompt, maxLength)
			if err != nil {
				return err
			}
			out = text
			return nil
		})
		if callErr != nil && ctx.Err() != nil {
			return context.Canceled
		}
		return callErr
	}
	var err error
	if g.breaker != nil {
		err = g.breaker.Execute(call)
	} else {
		err = call()
	}
	if callErr != nil {
		return "", callErr
	}
	if err != nil {
		return "", err
	}
	return out, nil
}
