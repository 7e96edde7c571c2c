package ratelimit

import (
	"math"
	"sync"
	"time"
)

// bucket tracks the token-bucket state for a single key.
type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// Limiter implements an in-memory token bucket per key. Every key shares the
// same capacity and refill rate. Buckets are never evicted.
type Limiter struct {
	capacity float64
	rate     float64
	now      func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

type Option func(*Limiter)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a limiter whose buckets hold at most capacity tokens and regain
// refillRate tokens per second.
func New(capacity, refillRate float64, opts ...Option) *Limiter {
	l := &Limiter{
		capacity: capacity,
		rate:     refillRate,
		now:      time.Now,
		buckets:  make(map[string]*bucket),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow consumes one token for key and reports whether one was available.
// A key seen for the first time starts with a full bucket.
func (l *Limiter) Allow(key string) bool {
	ok, _ := l.Check(key)
	return ok
}

// Check behaves like Allow and, when the request is denied, also returns how
// long until a token will be available.
func (l *Limiter) Check(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, exists := l.buckets[key]
	if !exists {
		b = &bucket{tokens: l.capacity, lastRefill: now}
		l.buckets[key] = b
	}

	if elapsed := now.Sub(b.lastRefill).Seconds(); elapsed > 0 {
		b.tokens = math.Min(l.capacity, b.tokens+elapsed*l.rate)
	}
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	wait := time.Duration((1 - b.tokens) / l.rate * float64(time.Second))
	return false, wait
}

// Reset clears the rate-limit state for a specific key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

// Keys reports how many buckets are tracked.
func (l *Limiter) Keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
