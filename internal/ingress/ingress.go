// Package ingress implements the per-platform HTTP receivers of spec §4.8:
// parse, verify signature, filter bot/echo events, build a canonical
// envelope, check idempotency, publish or DLQ.
package ingress

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/greentic-ai/messaging-gateway/internal/dlq"
	"github.com/greentic-ai/messaging-gateway/internal/envelope"
	"github.com/greentic-ai/messaging-gateway/internal/idempotency"
	"github.com/greentic-ai/messaging-gateway/internal/subject"
)

// Publisher is the narrow bus capability ingress needs: publish canonical
// bytes to a subject.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload []byte) error
}

// Metrics is the narrow telemetry surface ingress records against.
type Metrics interface {
	IngressReceived(tenant, platform string)
	IngressRejected(tenant, platform, reason string)
	IngressDuplicate(tenant, platform string)
}

// Guard is the idempotency capability ingress needs.
type Guard interface {
	ShouldProcess(ctx context.Context, key idempotency.Key) bool
}

// Receiver is the shared skeleton every platform HTTP receiver is built
// from: parse, verify, filter, build envelope, dedupe, publish-or-DLQ.
type Receiver struct {
	bus     Publisher
	guard   Guard
	dlq     *dlq.Queue
	scheme  subject.Scheme
	env     string
	team    string
	metrics Metrics
	logger  zerolog.Logger
}

// NewReceiver builds a Receiver shared by all platform-specific handlers.
func NewReceiver(bus Publisher, guard Guard, dlqQueue *dlq.Queue, scheme subject.Scheme, env, team string, metrics Metrics, logger zerolog.Logger) *Receiver {
	return &Receiver{bus: bus, guard: guard, dlq: dlqQueue, scheme: scheme, env: env, team: team, metrics: metrics, logger: logger.With().Str("component", "ingress").Logger()}
}

// publishOrDLQ publishes env on the ingress subject, whose platform token is
// the lowercased platform name; on publish failure it emits a DLQ record
// with code E_PUBLISH and returns an error so the caller responds with an
// error status (500 from the platform receivers, 503 from GenericHandler).
func (r *Receiver) publishOrDLQ(ctx context.Context, tenant string, platform envelope.Platform, chatID string, env envelope.CanonicalEnvelope) error {
	subj, err := r.scheme.Ingress(r.env, tenant, r.team, strings.ToLower(string(platform)), chatID)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if pubErr := r.bus.Publish(ctx, subj, payload); pubErr != nil {
		if r.dlq != nil {
			dlqErr := r.dlq.Publish(ctx, tenant, string(platform), "ingress", env.MsgID, 0,
				dlq.ErrorDetail{Code: "E_PUBLISH", Message: pubErr.Error(), Stage: "ingress"}, payload)
			if dlqErr != nil {
				r.logger.Error().Err(dlqErr).Str("tenant", tenant).Msg("DLQ publish of failed ingress publish also failed")
			}
		}
		return pubErr
	}
	return nil
}

// dedupe returns true if key has not been seen before (so the caller should
// continue processing), or false if it's a duplicate (caller should ack
// 200 without publishing), per spec §4.8 step 6.
func (r *Receiver) dedupe(ctx context.Context, tenant, platform, msgID string) bool {
	if r.guard == nil {
		return true
	}
	key := idempotency.Key{Tenant: tenant, Platform: platform, MsgID: msgID}
	if !r.guard.ShouldProcess(ctx, key) {
		r.metrics.IngressDuplicate(tenant, platform)
		return false
	}
	return true
}

func readBody(w http.ResponseWriter, req *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(req.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return nil, false
	}
	return body, true
}

func nowUTC() time.Time { return time.Now().UTC() }
