package bus

import (
	"testing"
	"time"
)

func TestBackoffWithJitterBounds(t *testing.T) {
	for attempt := uint64(1); attempt <= 10; attempt++ {
		d := backoffWithJitter(attempt)
		if d <= 0 {
			t.Fatalf("attempt %d: backoff must be positive, got %v", attempt, d)
		}
		if d > 30*time.Second {
			t.Fatalf("attempt %d: backoff %v exceeds cap", attempt, d)
		}
	}
}

func TestBackoffWithJitterGrowsWithAttempt(t *testing.T) {
	early := backoffWithJitter(1)
	late := backoffWithJitter(5)
	// Not strictly monotonic due to jitter, but the late value's ceiling
	// (pre-jitter delay) must be larger; check using repeated sampling.
	maxEarly := time.Duration(0)
	maxLate := time.Duration(0)
	for i := 0; i < 50; i++ {
		if e := backoffWithJitter(1); e > maxEarly {
			maxEarly = e
		}
		if l := backoffWithJitter(5); l > maxLate {
			maxLate = l
		}
	}
	_ = early
	_ = late
	if maxLate <= maxEarly {
		t.Fatalf("expected later attempts to allow larger backoff: early=%v late=%v", maxEarly, maxLate)
	}
}

func TestMaxDeliverAndAckWaitDefaults(t *testing.T) {
	if maxDeliverOrDefault(0) != 5 {
		t.Fatalf("expected default max deliver 5")
	}
	if maxDeliverOrDefault(10) != 10 {
		t.Fatalf("expected passthrough 10")
	}
	if ackWaitOrDefault(0) != 30*time.Second {
		t.Fatalf("expected default ack wait 30s")
	}
	if ackWaitOrDefault(5*time.Second) != 5*time.Second {
		t.Fatalf("expected passthrough 5s")
	}
}
