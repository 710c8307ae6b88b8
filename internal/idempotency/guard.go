// Package idempotency implements the at-most-once processing guard for
// duplicate inbound events described in spec §4.3.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// DefaultTTL is the default idempotency window (24h per spec §4.3).
const DefaultTTL = 24 * time.Hour

// Key identifies one inbound event for de-duplication purposes.
type Key struct {
	Tenant   string
	Platform string
	MsgID    string
}

func (k Key) String() string {
	return k.Tenant + "/" + k.Platform + "/" + k.MsgID
}

// ErrorCounter is the minimal telemetry surface the guard needs; it's
// satisfied by internal/telemetry.Sink.
type ErrorCounter interface {
	IncCounter(name string, labels map[string]string)
}

// creator is the minimal subset of nats.KeyValue the guard needs, factored
// out so tests can substitute a fake KV store without a live JetStream.
type creator interface {
	Create(key string, value []byte) (uint64, error)
}

// Guard decides whether an inbound event should be processed.
type Guard struct {
	kv      creator
	ttl     time.Duration
	logger  zerolog.Logger
	metrics ErrorCounter
}

// NewGuard opens (or creates) the idempotency KV bucket with the given TTL.
func NewGuard(js nats.JetStreamContext, bucket string, ttl time.Duration, metrics ErrorCounter, logger zerolog.Logger) (*Guard, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	kv, err := js.KeyValue(bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:      bucket,
			Description: "inbound event idempotency guard",
			TTL:         ttl,
			History:     1,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("initializing idempotency bucket %s: %w", bucket, err)
	}
	return &Guard{kv: kv, ttl: ttl, logger: logger.With().Str("component", "idempotency").Logger(), metrics: metrics}, nil
}

// newGuardWithStore builds a Guard around an arbitrary creator, used by tests.
func newGuardWithStore(kv creator, ttl time.Duration, metrics ErrorCounter, logger zerolog.Logger) *Guard {
	return &Guard{kv: kv, ttl: ttl, logger: logger, metrics: metrics}
}

// ShouldProcess returns true iff key was newly inserted (i.e. this is the
// first time the event has been seen within the TTL window). On backend
// errors it fails open (returns true) and records an error counter, per
// spec §4.3: duplicates are still prevented in that case by upstream
// platform message-id de-duplication.
func (g *Guard) ShouldProcess(ctx context.Context, key Key) bool {
	_, err := g.kv.Create(key.String(), []byte(time.Now().UTC().Format(time.RFC3339Nano)))
	if err == nil {
		return true
	}
	if errors.Is(err, nats.ErrKeyExists) {
		return false
	}
	g.logger.Error().Err(err).Str("key", key.String()).Msg("idempotency backend error, failing open")
	if g.metrics != nil {
		g.metrics.IncCounter("idempotency_backend_errors_total", map[string]string{"tenant": key.Tenant})
	}
	return true
}
