package backpressure

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// HybridLimiter composes a remote limiter with a local fallback. It prefers
// the remote limiter; on any remote error it latches into local-only mode,
// logs a single warning, and keeps using local until a remote call
// succeeds again, resetting the latch — per spec §4.2.
type HybridLimiter struct {
	remote Limiter
	local  *LocalLimiter
	logger zerolog.Logger
	failed atomic.Bool
	warned atomic.Bool
}

// NewHybridLimiter builds a hybrid limiter. remote may be nil, in which case
// the hybrid always uses local (suitable for single-process deployments or
// test environments without JetStream).
func NewHybridLimiter(remote Limiter, local *LocalLimiter, logger zerolog.Logger) *HybridLimiter {
	return &HybridLimiter{
		remote: remote,
		local:  local,
		logger: logger.With().Str("component", "backpressure.hybrid").Logger(),
	}
}

// Acquire tries the remote limiter first (if configured and not latched
// into failure mode), falling back to local on error.
func (h *HybridLimiter) Acquire(ctx context.Context, tenant string) (Permit, error) {
	if h.remote == nil || h.failed.Load() {
		return h.acquireLocal(ctx, tenant)
	}
	permit, err := h.remote.Acquire(ctx, tenant)
	if err == nil {
		h.failed.Store(false)
		h.warned.Store(false)
		return permit, nil
	}
	if ctx.Err() != nil {
		return Permit{}, err
	}
	h.failed.Store(true)
	if !h.warned.Swap(true) {
		h.logger.Warn().Err(err).Str("tenant", tenant).Msg("remote backpressure limiter failed, falling back to local")
	}
	return h.acquireLocal(ctx, tenant)
}

func (h *HybridLimiter) acquireLocal(ctx context.Context, tenant string) (Permit, error) {
	return h.local.Acquire(ctx, tenant)
}

// ResetLatch is exposed for tests and for a background prober that wants to
// force the hybrid limiter back onto the remote path after a recovery.
func (h *HybridLimiter) ResetLatch() {
	h.failed.Store(false)
	h.warned.Store(false)
}
