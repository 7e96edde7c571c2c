package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestCapacityThenDenyThenRefill(t *testing.T) {
	clock := newFakeClock()
	l := New(10, 1.0, WithClock(clock.Now))

	for i := 0; i < 10; i++ {
		if !l.Allow("demo") {
			t.Fatalf("request %d denied within capacity", i+1)
		}
	}
	if l.Allow("demo") {
		t.Fatal("request beyond capacity allowed")
	}

	clock.Advance(time.Second) // 1/refill_rate
	if !l.Allow("demo") {
		t.Fatal("request after refill interval denied")
	}
	if l.Allow("demo") {
		t.Fatal("more than one token refilled in one interval")
	}
}

func TestRefillCapsAtCapacity(t *testing.T) {
	clock := newFakeClock()
	l := New(3, 2.0, WithClock(clock.Now))
	l.Allow("k")
	clock.Advance(time.Hour)
	allowed := 0
	for i := 0; i < 10; i++ {
		if l.Allow("k") {
			allowed++
		}
	}
	if allowed != 3 {
		t.Errorf("allowed %d after long idle, want capacity 3", allowed)
	}
}

func TestPartialRefill(t *testing.T) {
	clock := newFakeClock()
	l := New(1, 4.0, WithClock(clock.Now))
	if !l.Allow("k") {
		t.Fatal("first request denied")
	}
	clock.Advance(100 * time.Millisecond) // 0.4 tokens
	ok, wait := l.Check("k")
	if ok {
		t.Fatal("allowed with 0.4 tokens")
	}
	if wait < 149*time.Millisecond || wait > 151*time.Millisecond {
		t.Errorf("wait = %v, want ~150ms", wait)
	}
	clock.Advance(200 * time.Millisecond)
	if !l.Allow("k") {
		t.Error("denied after accumulating a full token")
	}
}

func TestKeysAreIndependent(t *testing.T) {
	clock := newFakeClock()
	l := New(1, 0.001, WithClock(clock.Now))
	if !l.Allow("a") || l.Allow("a") {
		t.Fatal("key a should allow exactly one")
	}
	if !l.Allow("b") {
		t.Error("key b affected by key a")
	}
	l.Reset("a")
	if !l.Allow("a") {
		t.Error("reset key should start full")
	}
	if l.Keys() != 2 {
		t.Errorf("Keys() = %d, want 2", l.Keys())
	}
}

func TestConcurrentCallersNeverOverspend(t *testing.T) {
	clock := newFakeClock()
	const capacity = 50
	l := New(capacity, 1.0, WithClock(clock.Now))

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for g := 0; g < 20; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				if l.Allow("shared") {
					allowed.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	if got := allowed.Load(); got != capacity {
		t.Errorf("allowed = %d across 200 concurrent calls, want exactly %d", got, capacity)
	}
}

func TestConcurrentBelowCapacityAllAllowed(t *testing.T) {
	clock := newFakeClock()
	l := New(10, 1.0, WithClock(clock.Now))
	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("k") {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	if allowed.Load() != 8 {
		t.Errorf("allowed = %d, want 8", allowed.Load())
	}
	// Exactly two tokens remain.
	if !l.Allow("k") || !l.Allow("k") || l.Allow("k") {
		t.Error("remaining token count wrong after concurrent spend")
	}
}

func BenchmarkAllow(b *testing.B) {
	l := New(1e9, 1e9)
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			l.Allow("bench")
		}
	})
}
