// Package egress implements the per-platform send framework of spec §4.9:
// an EgressSender capability per platform, a SecretsResolver abstraction,
// and a bounded retry worker wrapping each send.
package egress

import (
	"context"

	"github.com/greentic-ai/messaging-gateway/internal/card"
	"github.com/greentic-ai/messaging-gateway/internal/gatewayerr"
	"github.com/greentic-ai/messaging-gateway/internal/tenant"
)

// OutboundMessage is what a sender actually transmits: plain text, a
// raw platform-native payload (already rendered by the card engine), or
// both; a card send carries Payload and has Text only if the OutMessage
// had text.
type OutboundMessage struct {
	ChatID  string
	Text    string
	Payload []byte // platform-native JSON, when the outbound is a card
}

// SendResult is returned by a successful send.
type SendResult struct {
	MessageID string
	Raw       []byte
}

// Sender is the per-platform send capability, per spec §4.9.
type Sender interface {
	Platform() string
	Send(ctx context.Context, tenantCtx tenant.Context, msg OutboundMessage) (SendResult, error)
}

// SecretsResolver resolves platform credentials scoped by tenant context.
// Paths are templated by (env, tenant, team, platform, ...) and never
// cross tenant boundaries; senders never hold long-lived credentials.
type SecretsResolver interface {
	GetJSON(ctx context.Context, path string, tenantCtx tenant.Context, out any) (bool, error)
	PutJSON(ctx context.Context, path string, tenantCtx tenant.Context, value any) error
}

// CardRenderer is the narrow capability senders need from the card engine:
// render an OutMessage's card payload to platform-native JSON.
type CardRenderer interface {
	Render(platform string, c card.AdaptiveMessageCard) (card.RenderSnapshot, error)
}

// MissingCredsError builds the terminal, non-retryable error spec §4.9
// requires when a platform's secrets are absent.
func MissingCredsError(platform string) *gatewayerr.Error {
	return gatewayerr.Terminal(platform+"_missing_creds", "no credentials configured for "+platform)
}

// classifyHTTPStatus maps an HTTP status code to the retryable
// classification of spec §4.9/§7: transport errors, 429, 5xx are
// retryable; other 4xx are terminal.
func classifyHTTPStatus(code string, status int) *gatewayerr.Error {
	switch {
	case status == 429:
		return gatewayerr.Transient(code, "rate limited", 0)
	case status >= 500:
		return gatewayerr.Transient(code, "server error", 0)
	case status >= 400:
		return gatewayerr.Terminal(code, "platform rejected message")
	default:
		return nil
	}
}
