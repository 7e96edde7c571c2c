package llm_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/mock/gomock"

	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/internal/llm"
	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/internal/llm/mocks"
	apperrors "github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/pkg/resilience"
)

func TestGuardedPassesThrough(t *testing.T) {
	ctrl := gomock.NewController(t)
	gen := mocks.NewMockGenerator(ctrl)
	gen.EXPECT().Generate(gomock.Any(), "prompt", 32).Return("answer", nil)

	g := llm.NewGuarded(gen, nil, time.Second)
	got, err := g.Generate(context.Background(), "prompt", 32)
	if err != nil || got != "answer" {
		t.Errorf("Generate = %q, %v", got, err)
	}
}

func TestGuardedTimeout(t *testing.T) {
	ctrl := gomock.NewController(t)
	gen := mocks.NewMockGenerator(ctrl)
	gen.EXPECT().Generate(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, _ string, _ int) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		})

	g := llm.NewGuarded(gen, nil, 10*time.Millisecond)
	if _, err := g.Generate(context.Background(), "p", 1); !errors.Is(err, apperrors.ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout", err)
	}
}

func TestGuardedBreakerOpens(t *testing.T) {
	ctrl := gomock.NewController(t)
	gen := mocks.NewMockGenerator(ctrl)
	boom := errors.New("provider down")
	gen.EXPECT().Generate(gomock.Any(), gomock.Any(), gomock.Any()).Return("", boom).Times(2)

	cb := resilience.NewCircuitBreaker("generator", resilience.CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour})
	g := llm.NewGuarded(gen, cb, 0)
	for i := 0; i < 2; i++ {
		if _, err := g.Generate(context.Background(), "p", 1); !errors.Is(err, boom) {
			t.Fatalf("call %d: err = %v", i, err)
		}
	}
	// Third call is rejected without reaching the provider.
	if _, err := g.Generate(context.Background(), "p", 1); !errors.Is(err, apperrors.ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen", err)
	}
}

// waitGenerator blocks until its context ends.
type waitGenerator struct{}

func (waitGenerator) Generate(ctx context.Context, _ string, _ int) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestGuardedIgnoresAbandonedCalls(t *testing.T) {
	cb := resilience.NewCircuitBreaker("generator", resilience.CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour})
	g := llm.NewGuarded(waitGenerator{}, cb, time.Minute)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	expired, cancelExpired := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancelExpired()

	for _, ctx := range []context.Context{cancelled, cancelled, expired, expired} {
		_, err := g.Generate(ctx, "p", 1)
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("err = %v, want the caller's context error", err)
		}
	}
	if cb.GetState() != resilience.StateClosed {
		t.Errorf("state = %v, want closed after abandoned calls", cb.GetState())
	}
}

func TestGuardedOwnTimeoutCountsAsFailure(t *testing.T) {
	cb := resilience.NewCircuitBreaker("generator", resilience.CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour})
	g := llm.NewGuarded(waitGenerator{}, cb, 5*time.Millisecond)
	for range 2 {
		if _, err := g.Generate(context.Background(), "p", 1); !errors.Is(err, apperrors.ErrTimeout) {
			t.Fatalf("err = %v, want ErrTimeout", err)
		}
	}
	if cb.GetState() != resilience.StateOpen {
		t.Errorf("state = %v, want open after provider timeouts", cb.GetState())
	}
}
