package backpressure

import (
	"testing"
	"time"
)

func TestRefillClampedIgnoresBackwardsClock(t *testing.T) {
	last := time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC)
	now := last.Add(-5 * time.Second) // wall clock moved backwards (NTP jump)
	limit := RateLimit{RPS: 5, Burst: 10}

	tokens, newLast := refillClamped(3, last, now, limit)
	if tokens != 3 {
		t.Fatalf("tokens = %v, want unchanged 3", tokens)
	}
	if !newLast.Equal(last) {
		t.Fatalf("lastRefill = %v, want unchanged %v", newLast, last)
	}
}

func TestRefillClampedAdvancesForward(t *testing.T) {
	last := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := last.Add(1 * time.Second)
	limit := RateLimit{RPS: 5, Burst: 10}

	tokens, newLast := refillClamped(0, last, now, limit)
	if tokens != 5 {
		t.Fatalf("tokens = %v, want 5", tokens)
	}
	if !newLast.Equal(last.Add(1 * time.Second)) {
		t.Fatalf("lastRefill = %v", newLast)
	}
}
