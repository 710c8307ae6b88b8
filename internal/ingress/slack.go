package ingress

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/greentic-ai/messaging-gateway/internal/envelope"
)

// slackEnvelope is the subset of Slack's Events API payload this receiver
// parses. Unknown fields are ignored.
type slackEnvelope struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
	Event     struct {
		Type    string `json:"type"`
		Subtype string `json:"subtype"`
		BotID   string `json:"bot_id"`
		Channel string `json:"channel"`
		User    string `json:"user"`
		Text    string `json:"text"`
		TS      string `json:"ts"`
		Thread  string `json:"thread_ts"`
	} `json:"event"`
}

// ignoredSlackSubtypes are echo/bot subtypes that ack 200 without
// publishing, per spec §4.8 step 4.
var ignoredSlackSubtypes = map[string]bool{
	"bot_message":     true,
	"message_changed": true,
	"message_deleted": true,
}

// SlackHandler returns the /slack/events handler for tenant, verifying the
// request signature with signingSecret before anything else is parsed.
func (r *Receiver) SlackHandler(tenant, signingSecret string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		body, ok := readBody(w, req)
		if !ok {
			return
		}

		ts := req.Header.Get("X-Slack-Request-Timestamp")
		sig := req.Header.Get("X-Slack-Signature")
		if !verifySlackSignature(signingSecret, ts, body, sig) {
			r.metrics.IngressRejected(tenant, string(envelope.PlatformSlack), "bad_signature")
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}

		var payload slackEnvelope
		if err := json.Unmarshal(body, &payload); err != nil {
			r.metrics.IngressRejected(tenant, string(envelope.PlatformSlack), "parse_error")
			http.Error(w, "malformed body", http.StatusBadRequest)
			return
		}

		if payload.Type == "url_verification" {
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(payload.Challenge))
			return
		}

		r.metrics.IngressReceived(tenant, string(envelope.PlatformSlack))

		if payload.Event.BotID != "" || ignoredSlackSubtypes[payload.Event.Subtype] {
			w.WriteHeader(http.StatusOK)
			return
		}

		msgID := "slack:" + payload.Event.TS
		if !r.dedupe(req.Context(), tenant, string(envelope.PlatformSlack), msgID) {
			w.WriteHeader(http.StatusOK)
			return
		}

		env := envelope.CanonicalEnvelope{
			Tenant:       tenant,
			Platform:     envelope.PlatformSlack,
			ChatID:       payload.Event.Channel,
			UserID:       payload.Event.User,
			ThreadID:     payload.Event.Thread,
			MsgID:        msgID,
			Text:         payload.Event.Text,
			TimestampUTC: nowUTC(),
			Context:      map[string]any{"slack_ts": payload.Event.TS},
		}

		if err := r.publishOrDLQ(req.Context(), tenant, envelope.PlatformSlack, payload.Event.Channel, env); err != nil {
			r.logger.Error().Err(err).Str("tenant", tenant).Msg("failed to publish slack envelope")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusOK)
	}
}

// verifySlackSignature implements the bit-exact procedure of spec §6:
// base = "v0:" + tsv + ":" + body; calc = "v0=" + lower_hex(HMAC_SHA256(secret, base));
// accept iff constant_time_eq(calc, sig). Missing headers or secret reject.
func verifySlackSignature(secret, tsv string, body []byte, sig string) bool {
	if secret == "" || tsv == "" || sig == "" {
		return false
	}
	if _, err := strconv.ParseInt(tsv, 10, 64); err != nil {
		return false
	}
	base := "v0:" + tsv + ":" + string(body)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(base))
	calc := "v0=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(strings.ToLower(calc)), []byte(strings.ToLower(sig)))
}
