package resilience

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/pkg/errors"
)

// WithTimeout runs fn with a derived context that is cancelled after the
// given timeout. A call that overruns returns an error matching both
// apperrors.ErrTimeout and context.DeadlineExceeded, whether or not fn noticed
// the deadline first. When the caller's own context ends, its error is
// returned instead so callers can tell "provider slow" from "caller gone".
func WithTimeout(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- fn(timeoutCtx)
	}()
	select {
	case err := <-done:
		if err == nil || timeoutCtx.Err() == nil {
			return err
		}
	case <-timeoutCtx.Done():
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%s: caller gave up: %w", name, ctx.Err())
	}
	return fmt.Errorf("%s: %w after %v: %w", name, apperrors.ErrTimeout, timeout, context.DeadlineExceeded)
}
