package egress

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/greentic-ai/messaging-gateway/internal/card"
	"github.com/greentic-ai/messaging-gateway/internal/dlq"
	"github.com/greentic-ai/messaging-gateway/internal/envelope"
	"github.com/greentic-ai/messaging-gateway/internal/gatewayerr"
	"github.com/greentic-ai/messaging-gateway/internal/tenant"
)

// MaxAttempts bounds the retry loop wrapping each send, per spec §4.9.
const MaxAttempts = 3

// Metrics is the narrow telemetry surface the egress worker records
// against; satisfied structurally by internal/telemetry.Sink.
type Metrics interface {
	EgressSent(tenant, platform string)
	EgressFailed(tenant, platform string)
	EgressRetried(tenant, platform string)
	EgressLatency(platform string, d time.Duration)
}

// Worker dispatches OutMessages to the platform-appropriate Sender,
// rendering cards via the engine first, and applies the bounded retry
// policy of spec §4.9.
type Worker struct {
	senders map[string]Sender
	render  CardRenderer
	dlq     *dlq.Queue
	metrics Metrics
	logger  zerolog.Logger
	sleep   func(time.Duration)
}

// NewWorker builds a Worker dispatching to senders keyed by platform name.
func NewWorker(senders []Sender, render CardRenderer, dlqQueue *dlq.Queue, metrics Metrics, logger zerolog.Logger) *Worker {
	byPlatform := make(map[string]Sender, len(senders))
	for _, s := range senders {
		byPlatform[s.Platform()] = s
	}
	return &Worker{
		senders: byPlatform,
		render:  render,
		dlq:     dlqQueue,
		metrics: metrics,
		logger:  logger.With().Str("component", "egress.worker").Logger(),
		sleep:   time.Sleep,
	}
}

// Dispatch renders (if needed) and sends out, applying the retry policy,
// and returns the terminal outcome: ack (success or DLQ'd), or retry
// (caller should nak the inbound bus delivery with no explicit delay,
// since consumer redelivery governs further waits per spec §4.9).
func (w *Worker) Dispatch(ctx context.Context, tenantCtx tenant.Context, out envelope.OutMessage) (ack bool, retry bool) {
	msg, err := w.buildOutbound(out)
	if err != nil {
		w.sendToDLQ(ctx, tenantCtx, out, "E_RENDER", err.Error())
		return true, false
	}

	sender, ok := w.senders[string(out.Platform)]
	if !ok {
		w.sendToDLQ(ctx, tenantCtx, out, "E_UNKNOWN_PLATFORM", "no sender registered for platform "+string(out.Platform))
		return true, false
	}

	start := time.Now()
	var lastErr error
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		_, err := sender.Send(ctx, tenantCtx, msg)
		if err == nil {
			w.metrics.EgressSent(tenantCtx.Tenant, string(out.Platform))
			w.metrics.EgressLatency(string(out.Platform), time.Since(start))
			return true, false
		}
		lastErr = err
		if !gatewayerr.Retryable(err) {
			break
		}
		if attempt == MaxAttempts {
			break
		}
		w.metrics.EgressRetried(tenantCtx.Tenant, string(out.Platform))
		w.sleep(retryDelay(err, attempt))
	}

	w.metrics.EgressFailed(tenantCtx.Tenant, string(out.Platform))
	if gatewayerr.Retryable(lastErr) {
		// Retry loop exhausted on a retryable error: nak with no delay,
		// consumer redelivery governs further waits (spec §4.9).
		return false, true
	}
	w.sendToDLQ(ctx, tenantCtx, out, "E_SEND", errString(lastErr))
	return true, false
}

func (w *Worker) buildOutbound(out envelope.OutMessage) (OutboundMessage, error) {
	msg := OutboundMessage{ChatID: out.ChatID, Text: out.Text}
	if out.Kind != envelope.OutKindCard {
		return msg, nil
	}
	adaptive := out.AdaptiveCard
	if adaptive == nil && out.MessageCard != nil {
		plain := out.MessageCard
		adaptive = &card.AdaptiveMessageCard{
			Kind:    card.KindStandard,
			Title:   plain.Title,
			Body:    plain.Body,
			Actions: plain.Actions,
		}
	}
	if adaptive == nil {
		return msg, gatewayerr.Internal("E_NO_CARD", "card kind set with no card payload")
	}
	snapshot, err := w.render.Render(strings.ToLower(string(out.Platform)), *adaptive)
	if err != nil {
		return msg, err
	}
	msg.Payload = snapshot.Output.Payload
	return msg, nil
}

func (w *Worker) sendToDLQ(ctx context.Context, tenantCtx tenant.Context, out envelope.OutMessage, code, message string) {
	if w.dlq == nil {
		return
	}
	envelopeBytes, err := json.Marshal(out)
	if err != nil {
		w.logger.Error().Err(err).Str("tenant", tenantCtx.Tenant).Msg("failed to encode egress DLQ envelope")
	}
	if err := w.dlq.Publish(ctx, tenantCtx.Tenant, string(out.Platform), "egress", out.ChatID, 0,
		dlq.ErrorDetail{Code: code, Message: message, Stage: "egress"}, envelopeBytes); err != nil {
		w.logger.Error().Err(err).Str("tenant", tenantCtx.Tenant).Msg("failed to publish egress DLQ record")
	}
}

// retryDelay returns the configured backoff if the error carries one, else
// attempt * 1s per spec §4.9.
func retryDelay(err error, attempt int) time.Duration {
	var ge *gatewayerr.Error
	if gatewayerr.AsError(err, &ge) && ge.BackoffMS > 0 {
		return time.Duration(ge.BackoffMS) * time.Millisecond
	}
	return time.Duration(attempt) * time.Second
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
