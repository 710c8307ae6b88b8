// Package envelope defines the canonical inbound/outbound message records
// carried on the bus, per spec §3: CanonicalEnvelope and OutMessage.
package envelope

import (
	"time"

	"github.com/greentic-ai/messaging-gateway/internal/card"
	"github.com/greentic-ai/messaging-gateway/internal/gatewayerr"
)

// Platform enumerates the supported chat platforms.
type Platform string

const (
	PlatformSlack    Platform = "Slack"
	PlatformTeams    Platform = "Teams"
	PlatformWebex    Platform = "Webex"
	PlatformWebChat  Platform = "WebChat"
	PlatformTelegram Platform = "Telegram"
	PlatformWhatsApp Platform = "WhatsApp"
)

// CanonicalEnvelope is the inbound record published on the ingress subject,
// per spec §3. msg_id is stable under retransmission of the same source
// event — platforms with deterministic ids produce it deterministically.
type CanonicalEnvelope struct {
	Tenant       string         `json:"tenant"`
	Platform     Platform       `json:"platform"`
	ChatID       string         `json:"chat_id"`
	UserID       string         `json:"user_id"`
	ThreadID     string         `json:"thread_id,omitempty"`
	MsgID        string         `json:"msg_id"`
	Text         string         `json:"text,omitempty"`
	TimestampUTC time.Time      `json:"timestamp_utc"`
	Context      map[string]any `json:"context"`
}

// OutKind distinguishes a plain-text outbound message from a card.
type OutKind string

const (
	OutKindText OutKind = "Text"
	OutKindCard OutKind = "Card"
)

// OutMessage is the canonical outbound record consumed by platform senders,
// per spec §3. Invariant: Kind=Text requires Text to be set; Kind=Card
// requires exactly one of MessageCard/AdaptiveCard to be set (a card with
// both, or with neither, is rejected).
type OutMessage struct {
	TenantCtx     TenantRef                  `json:"tenant_ctx"`
	Platform      Platform                   `json:"platform"`
	ChatID        string                     `json:"chat_id"`
	ThreadID      string                     `json:"thread_id,omitempty"`
	Kind          OutKind                    `json:"kind"`
	Text          string                     `json:"text,omitempty"`
	MessageCard   *card.MessageCard          `json:"message_card,omitempty"`
	AdaptiveCard  *card.AdaptiveMessageCard  `json:"adaptive_card,omitempty"`
	Meta          map[string]any             `json:"meta,omitempty"`
}

// TenantRef is the minimal tenant addressing carried on an OutMessage,
// avoiding a dependency on internal/tenant's stricter Context type for the
// wire shape (team/user are optional here, validated at the tenant package
// boundary before an OutMessage is constructed).
type TenantRef struct {
	Env    string `json:"env"`
	Tenant string `json:"tenant"`
	Team   string `json:"team,omitempty"`
}

// Validate enforces the Kind-dependent payload invariant from spec §3: a
// Card must carry exactly one of message_card or adaptive_card, so a card
// with only adaptive_card set is accepted and one with both or neither is
// rejected.
func (m OutMessage) Validate() error {
	switch m.Kind {
	case OutKindText:
		if m.Text == "" {
			return gatewayerr.ClientError("E_OUTMESSAGE_TEXT_REQUIRED", "kind=Text requires text")
		}
	case OutKindCard:
		hasPlain := m.MessageCard != nil
		hasAdaptive := m.AdaptiveCard != nil
		if hasPlain == hasAdaptive {
			return gatewayerr.ClientError("E_OUTMESSAGE_CARD_EXCLUSIVE",
				"kind=Card requires exactly one of message_card or adaptive_card")
		}
	default:
		return gatewayerr.ClientError("E_OUTMESSAGE_KIND", "unknown kind: "+string(m.Kind))
	}
	return nil
}
