// Package backpressure implements the per-tenant distributed token-bucket
// limiter described in spec §4.2: a local in-process fallback and a
// JetStream-KV-backed remote implementation composed into a hybrid that
// prefers remote and falls back to local on remote errors.
package backpressure

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	token    = 1.0
	tickMS   = 100
	maxRetry = 3
)

// RateLimit is the (rps, burst) pair resolved per tenant.
type RateLimit struct {
	RPS   float64
	Burst float64
}

// DefaultRateLimit is used for any tenant with no explicit configuration.
var DefaultRateLimit = RateLimit{RPS: 5, Burst: 10}

// Limits resolves a tenant to its configured rate limit, falling back to
// DefaultRateLimit. Built with NewLimits or, from the TENANT_RATE_LIMITS
// JSON shape, with LimitsFromJSON.
type Limits struct {
	mu      sync.RWMutex
	Default RateLimit
	Tenants map[string]RateLimit
}

// NewLimits builds a Limits table from a parsed tenant->limit JSON map.
func NewLimits(tenants map[string]RateLimit) *Limits {
	if tenants == nil {
		tenants = map[string]RateLimit{}
	}
	return &Limits{Default: DefaultRateLimit, Tenants: tenants}
}

// LimitsFromJSON parses the TENANT_RATE_LIMITS env var shape:
// {"tenant1": {"rps": 10, "burst": 20}}.
func LimitsFromJSON(raw []byte) (*Limits, error) {
	if len(raw) == 0 {
		return NewLimits(nil), nil
	}
	var parsed map[string]RateLimit
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, err
	}
	for k, v := range parsed {
		if v.RPS <= 0 {
			v.RPS = 0.1
		}
		if v.Burst < 1 {
			v.Burst = 1
		}
		parsed[k] = v
	}
	return NewLimits(parsed), nil
}

// Get returns the configured rate limit for tenant, or Default if unset.
func (l *Limits) Get(tenant string) RateLimit {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if rl, ok := l.Tenants[tenant]; ok {
		return rl
	}
	return l.Default
}

// Permit represents one successful token withdrawal. Dropping it is a no-op;
// tokens are consumed on acquire, not released on drop.
type Permit struct{}

// Limiter is satisfied by both LocalLimiter and the JetStream-backed remote
// limiter, and by HybridLimiter which composes them.
type Limiter interface {
	Acquire(ctx context.Context, tenant string) (Permit, error)
}

func refill(tokens float64, elapsedMS int64, limit RateLimit) (newTokens float64, consumedMS int64) {
	ticks := elapsedMS / tickMS
	if ticks <= 0 {
		return tokens, 0
	}
	added := float64(ticks) * (limit.RPS * (float64(tickMS) / 1000.0))
	newTokens = math.Min(tokens+added, limit.Burst)
	return newTokens, ticks * tickMS
}

func waitDuration(tokens float64, limit RateLimit) time.Duration {
	missing := math.Max(token-tokens, 0)
	rps := limit.RPS
	if rps <= 0 {
		rps = 0.1
	}
	waitSecs := math.Max(missing/rps, 0.1)
	return time.Duration(waitSecs * float64(time.Second))
}

// localBucket holds in-process token-bucket state for one tenant.
type localBucket struct {
	tokens     float64
	lastRefill time.Time
}

// LocalLimiter is the in-process mutex-protected fallback implementation.
type LocalLimiter struct {
	limits  *Limits
	mu      sync.Mutex
	buckets map[string]*localBucket
	logger  zerolog.Logger
	clock   func() time.Time
}

// NewLocalLimiter builds a local limiter using the given limits table.
func NewLocalLimiter(limits *Limits, logger zerolog.Logger) *LocalLimiter {
	return &LocalLimiter{
		limits:  limits,
		buckets: make(map[string]*localBucket),
		logger:  logger.With().Str("component", "backpressure.local").Logger(),
		clock:   time.Now,
	}
}

// Acquire blocks until a token is available for tenant, per spec §4.2.
func (l *LocalLimiter) Acquire(ctx context.Context, tenant string) (Permit, error) {
	limit := l.limits.Get(tenant)
	for {
		l.mu.Lock()
		b, ok := l.buckets[tenant]
		if !ok {
			b = &localBucket{tokens: limit.Burst, lastRefill: l.clock()}
			l.buckets[tenant] = b
		}
		now := l.clock()
		elapsedMS := now.Sub(b.lastRefill).Milliseconds()
		newTokens, consumedMS := refill(b.tokens, elapsedMS, limit)
		if consumedMS > 0 {
			b.tokens = newTokens
			b.lastRefill = b.lastRefill.Add(time.Duration(consumedMS) * time.Millisecond)
		}
		if b.tokens >= token {
			b.tokens -= token
			l.mu.Unlock()
			return Permit{}, nil
		}
		wait := waitDuration(b.tokens, limit)
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return Permit{}, ctx.Err()
		case <-time.After(wait):
		}
	}
}

// snapshot returns tenant's current token count and last refill time, and
// ok=false if no bucket exists for tenant yet. It lets tests observe bucket
// state without acquiring a token.
func (l *LocalLimiter) snapshot(tenant string) (tokens float64, lastRefill time.Time, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, exists := l.buckets[tenant]
	if !exists {
		return 0, time.Time{}, false
	}
	return b.tokens, b.lastRefill, true
}
