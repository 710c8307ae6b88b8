package backpressure

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestLocalLimiterDeterminism(t *testing.T) {
	limits := NewLimits(map[string]RateLimit{"acme": {RPS: 5, Burst: 10}})
	l := NewLocalLimiter(limits, zerolog.Nop())
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.clock = func() time.Time { return fixed }

	ctx := context.Background()
	const k = 4
	for i := 0; i < k; i++ {
		if _, err := l.Acquire(ctx, "acme"); err != nil {
			t.Fatalf("Acquire: %v", err)
		}
	}
	tokens, lastRefill, ok := l.snapshot("acme")
	if !ok {
		t.Fatal("expected bucket to exist")
	}
	if tokens != 10-k {
		t.Fatalf("tokens = %v, want %v", tokens, 10-k)
	}
	if !lastRefill.Equal(fixed) {
		t.Fatalf("lastRefill = %v, want unchanged %v", lastRefill, fixed)
	}
}

func TestLocalLimiterRateBound(t *testing.T) {
	limits := NewLimits(map[string]RateLimit{"acme": {RPS: 10, Burst: 5}})
	l := NewLocalLimiter(limits, zerolog.Nop())
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start
	l.clock = func() time.Time { return now }

	ctx := context.Background()
	permits := 0
	// Simulate 2 seconds of adversarial acquisition in 50ms steps without
	// ever blocking (since Acquire would sleep using real wall time in a
	// live test; here we only exercise the bucket math directly).
	for elapsed := 0; elapsed <= 2000; elapsed += 50 {
		now = start.Add(time.Duration(elapsed) * time.Millisecond)
		l.mu.Lock()
		b, ok := l.buckets["acme"]
		if !ok {
			b = &localBucket{tokens: 5, lastRefill: start}
			l.buckets["acme"] = b
		}
		elapsedMS := now.Sub(b.lastRefill).Milliseconds()
		newTokens, consumedMS := refill(b.tokens, elapsedMS, limits.Get("acme"))
		if consumedMS > 0 {
			b.tokens = newTokens
			b.lastRefill = b.lastRefill.Add(time.Duration(consumedMS) * time.Millisecond)
		}
		if b.tokens >= token {
			b.tokens -= token
			permits++
		}
		l.mu.Unlock()
	}
	// property 1: permits <= burst + ceil(rps*T)
	maxPermits := 5 + 10*2 + 1 // small slack for ceil/tick discretization
	if permits > maxPermits {
		t.Fatalf("permits = %d, exceeds bound %d", permits, maxPermits)
	}
}

func TestHybridFallsBackOnRemoteError(t *testing.T) {
	limits := NewLimits(nil)
	local := NewLocalLimiter(limits, zerolog.Nop())
	remote := failingLimiter{err: errors.New("kv unavailable")}
	h := NewHybridLimiter(remote, local, zerolog.Nop())

	ctx := context.Background()
	if _, err := h.Acquire(ctx, "acme"); err != nil {
		t.Fatalf("Acquire should fall back to local: %v", err)
	}
	if !h.failed.Load() {
		t.Fatal("expected hybrid to latch failure")
	}
}

func TestHybridResetsLatchOnRemoteSuccess(t *testing.T) {
	limits := NewLimits(nil)
	local := NewLocalLimiter(limits, zerolog.Nop())
	remote := &toggleLimiter{}
	h := NewHybridLimiter(remote, local, zerolog.Nop())

	ctx := context.Background()
	remote.fail = true
	if _, err := h.Acquire(ctx, "acme"); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if !h.failed.Load() {
		t.Fatal("expected latch set")
	}
	remote.fail = false
	if _, err := h.Acquire(ctx, "acme"); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if h.failed.Load() {
		t.Fatal("expected latch reset after remote success")
	}
}

type failingLimiter struct{ err error }

func (f failingLimiter) Acquire(ctx context.Context, tenant string) (Permit, error) {
	return Permit{}, f.err
}

type toggleLimiter struct{ fail bool }

func (t *toggleLimiter) Acquire(ctx context.Context, tenant string) (Permit, error) {
	if t.fail {
		return Permit{}, errors.New("boom")
	}
	return Permit{}, nil
}
