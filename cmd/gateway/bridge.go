package main

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/greentic-ai/messaging-gateway/internal/bus"
	"github.com/greentic-ai/messaging-gateway/internal/card"
	"github.com/greentic-ai/messaging-gateway/internal/envelope"
	"github.com/greentic-ai/messaging-gateway/internal/gatewayerr"
	"github.com/greentic-ai/messaging-gateway/internal/subject"
	"github.com/greentic-ai/messaging-gateway/internal/worker"
)

// workerReplyBody is the shape a worker's OutboundEnvelope.Body carries,
// per spec §4.11: kind is copied verbatim from Meta.Kind to select which
// field downstream dispatch reads.
type workerReplyBody struct {
	Text string                     `json:"text,omitempty"`
	Card *card.AdaptiveMessageCard `json:"card,omitempty"`
}

// workerBridge consumes canonical ingress envelopes, forwards them to the
// worker plane, and republishes the worker's replies on the egress subject
// family — the optional synchronous bridge of spec §4.11.
type workerBridge struct {
	scheme    subject.Scheme
	forwarder *worker.Forwarder
	publisher *bus.Client
	logger    zerolog.Logger
}

func newWorkerBridge(scheme subject.Scheme, forwarder *worker.Forwarder, publisher *bus.Client, logger zerolog.Logger) *workerBridge {
	return &workerBridge{scheme: scheme, forwarder: forwarder, publisher: publisher, logger: logger.With().Str("component", "worker_bridge").Logger()}
}

func (b *workerBridge) Handle(ctx context.Context, d bus.Delivery) bus.HandlerResult {
	parsed, err := b.scheme.Parse(d.Subject())
	if err != nil {
		b.logger.Error().Err(err).Str("subject", d.Subject()).Msg("unparseable ingress subject, acking poison message")
		return bus.HandlerResult{Outcome: bus.OutcomeAck}
	}

	var env envelope.CanonicalEnvelope
	if err := json.Unmarshal(d.Payload(), &env); err != nil {
		b.logger.Error().Err(err).Str("subject", d.Subject()).Msg("undecodable ingress envelope, acking poison message")
		return bus.HandlerResult{Outcome: bus.OutcomeAck}
	}

	routing := worker.Routing{}
	replies, err := b.forwarder.ForwardToWorker(ctx, env.ChatID, json.RawMessage(d.Payload()), routing, env.MsgID)
	if err != nil {
		if gatewayerr.Retryable(err) {
			var ge *gatewayerr.Error
			delay := int64(0)
			if gatewayerr.AsError(err, &ge) {
				delay = ge.BackoffMS
			}
			return bus.HandlerResult{Outcome: bus.OutcomeRetry, NakDelay: millisToDuration(delay)}
		}
		b.logger.Error().Err(err).Str("msg_id", env.MsgID).Msg("worker forward failed terminally, dropping")
		return bus.HandlerResult{Outcome: bus.OutcomeTerminal}
	}

	for _, reply := range replies {
		if pubErr := b.publishReply(ctx, parsed, env, reply); pubErr != nil {
			b.logger.Error().Err(pubErr).Str("channel_id", reply.ChannelID).Msg("failed to publish worker reply to egress")
		}
	}
	return bus.HandlerResult{Outcome: bus.OutcomeAck}
}

func (b *workerBridge) publishReply(ctx context.Context, parsed subject.Parsed, in envelope.CanonicalEnvelope, reply worker.OutboundEnvelope) error {
	var body workerReplyBody
	_ = json.Unmarshal(reply.Body, &body)

	out := envelope.OutMessage{
		TenantCtx: envelope.TenantRef{Env: parsed.Env, Tenant: parsed.Tenant, Team: parsed.Team},
		Platform:  in.Platform,
		ChatID:    reply.ChannelID,
		Kind:      envelope.OutKind(reply.Meta.Kind),
		Text:      body.Text,
		AdaptiveCard: body.Card,
		Meta:      map[string]any{"correlation_id": reply.Meta.CorrelationID, "worker_id": reply.Meta.WorkerID},
	}
	if out.ChatID == "" {
		out.ChatID = in.ChatID
	}
	if err := out.Validate(); err != nil {
		return err
	}

	subj, err := b.scheme.Egress(parsed.Env, parsed.Tenant, parsed.Team, string(in.Platform))
	if err != nil {
		return err
	}
	payload, err := json.Marshal(out)
	if err != nil {
		return err
	}
	return b.publisher.Publish(ctx, subj, payload)
}
