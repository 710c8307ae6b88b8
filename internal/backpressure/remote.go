package backpressure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// persisted is the JSON shape stored per tenant key in the KV bucket.
type persisted struct {
	Tokens       float64   `json:"tokens"`
	LastRefillTS time.Time `json:"last_refill_ts"`
}

// RemoteLimiter stores bucket state in a versioned JetStream KV bucket with
// CAS updates, per spec §4.2.
type RemoteLimiter struct {
	limits *Limits
	kv     nats.KeyValue
	logger zerolog.Logger
	clock  func() time.Time
}

// NewRemoteLimiter opens (or creates) the backpressure KV bucket under js.
func NewRemoteLimiter(js nats.JetStreamContext, namespace string, limits *Limits, logger zerolog.Logger) (*RemoteLimiter, error) {
	kv, err := js.KeyValue(namespace)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:      namespace,
			Description: "backpressure rate limiter",
			History:     1,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("initializing backpressure bucket %s: %w", namespace, err)
	}
	return &RemoteLimiter{
		limits: limits,
		kv:     kv,
		logger: logger.With().Str("component", "backpressure.remote").Str("namespace", namespace).Logger(),
		clock:  time.Now,
	}, nil
}

func (r *RemoteLimiter) parseState(entry nats.KeyValueEntry, limit RateLimit) (float64, time.Time) {
	now := r.clock()
	if entry == nil {
		return limit.Burst, now
	}
	var p persisted
	if err := json.Unmarshal(entry.Value(), &p); err != nil {
		return limit.Burst, now
	}
	tokens := p.Tokens
	if tokens > limit.Burst {
		tokens = limit.Burst
	}
	return tokens, p.LastRefillTS
}

// refillClamped mirrors the teacher's remote CAS refill loop, clamping a
// backwards-moving wall clock to lastRefill per spec §9 open question:
// "Remote limiter's refill_tokens ignores wall-clock going backwards;
// clamp now to last_refill to avoid state poisoning under NTP jumps."
func refillClamped(tokens float64, lastRefill, now time.Time, limit RateLimit) (float64, time.Time) {
	if now.Before(lastRefill) {
		now = lastRefill
	}
	elapsedMS := now.Sub(lastRefill).Milliseconds()
	newTokens, consumedMS := refill(tokens, elapsedMS, limit)
	if consumedMS == 0 {
		return tokens, lastRefill
	}
	return newTokens, lastRefill.Add(time.Duration(consumedMS) * time.Millisecond)
}

// Acquire implements the read-compute-CAS-write loop of spec §4.2: on
// insufficient tokens it sleeps and retries the read (does not write); on
// CAS conflict it retries the read; after 3 retries it logs a warning but
// keeps retrying (the caller's context governs the overall deadline).
func (r *RemoteLimiter) Acquire(ctx context.Context, tenant string) (Permit, error) {
	limit := r.limits.Get(tenant)
	key := "rate/" + tenant
	retries := 0

	for {
		select {
		case <-ctx.Done():
			return Permit{}, ctx.Err()
		default:
		}

		entry, err := r.kv.Get(key)
		var revision uint64
		exists := true
		if errors.Is(err, nats.ErrKeyNotFound) {
			exists = false
			err = nil
		}
		if err != nil {
			return Permit{}, fmt.Errorf("load rate state for %s: %w", tenant, err)
		}
		if exists {
			revision = entry.Revision()
		}

		tokens, lastRefill := r.parseState(valueOrNil(entry, exists), limit)
		tokens, lastRefill = refillClamped(tokens, lastRefill, r.clock(), limit)

		if tokens < token {
			select {
			case <-ctx.Done():
				return Permit{}, ctx.Err()
			case <-time.After(waitDuration(tokens, limit)):
			}
			continue
		}

		tokens -= token
		payload, merr := json.Marshal(persisted{Tokens: tokens, LastRefillTS: lastRefill})
		if merr != nil {
			return Permit{}, fmt.Errorf("marshal rate state for %s: %w", tenant, merr)
		}

		if exists {
			_, err = r.kv.Update(key, payload, revision)
		} else {
			_, err = r.kv.Create(key, payload)
		}
		if err == nil {
			return Permit{}, nil
		}
		if isConflict(err) {
			retries++
			if retries > maxRetry {
				r.logger.Warn().Str("tenant", tenant).Int("retries", retries).Msg("remote rate limiter CAS retry")
			}
			continue
		}
		return Permit{}, fmt.Errorf("update remote rate state for %s: %w", tenant, err)
	}
}

func valueOrNil(entry nats.KeyValueEntry, exists bool) nats.KeyValueEntry {
	if !exists {
		return nil
	}
	return entry
}

func isConflict(err error) bool {
	return errors.Is(err, nats.ErrKeyExists) || isWrongRevision(err)
}

// isWrongRevision recognizes the nats.go wrong-last-revision API error,
// matched by message since the client library surfaces it as a generic
// *nats.APIError without a typed sentinel in older client versions.
func isWrongRevision(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *nats.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode == 10071 // JSErrCodeStreamWrongLastSequence / KV wrong last revision
	}
	return false
}
