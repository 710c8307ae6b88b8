package ingress

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/greentic-ai/messaging-gateway/internal/envelope"
)

// genericPayload is the normalized-ingest body shape for the generic
// `/api/{tenant}/[{team}/]{channel}` surface: callers already speak the
// canonical shape and only chat_id/user_id/text/msg_id need filling in.
type genericPayload struct {
	ChatID   string         `json:"chat_id"`
	UserID   string         `json:"user_id"`
	ThreadID string         `json:"thread_id"`
	MsgID    string         `json:"msg_id"`
	Text     string         `json:"text"`
	Context  map[string]any `json:"context"`
}

// GenericHandler returns the `/api/{tenant}/[{team}/]{channel}` handler
// for a normalized ingest from an arbitrary platform adapter (e.g. a pack
// plugin). 503 is returned when the bus publish fails, per spec §6's
// 200/400/503 code set for this surface (no 500, since this path has no
// signature stage to fail with 401).
func (r *Receiver) GenericHandler(tenant, channel string) http.HandlerFunc {
	platform := envelope.Platform(strings.Title(strings.ToLower(channel)))
	return func(w http.ResponseWriter, req *http.Request) {
		body, ok := readBody(w, req)
		if !ok {
			return
		}

		var payload genericPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			r.metrics.IngressRejected(tenant, channel, "parse_error")
			http.Error(w, "malformed body", http.StatusBadRequest)
			return
		}
		if payload.ChatID == "" {
			r.metrics.IngressRejected(tenant, channel, "missing_chat_id")
			http.Error(w, "chat_id is required", http.StatusBadRequest)
			return
		}

		r.metrics.IngressReceived(tenant, channel)

		msgID := payload.MsgID
		if msgID == "" {
			msgID = channel + ":" + uuid.NewString()
		}
		if !r.dedupe(req.Context(), tenant, channel, msgID) {
			w.WriteHeader(http.StatusOK)
			return
		}

		ctxMap := payload.Context
		if ctxMap == nil {
			ctxMap = map[string]any{}
		}
		env := envelope.CanonicalEnvelope{
			Tenant:       tenant,
			Platform:     platform,
			ChatID:       payload.ChatID,
			UserID:       payload.UserID,
			ThreadID:     payload.ThreadID,
			MsgID:        msgID,
			Text:         payload.Text,
			TimestampUTC: nowUTC(),
			Context:      ctxMap,
		}

		if err := r.publishOrDLQ(req.Context(), tenant, platform, payload.ChatID, env); err != nil {
			r.logger.Error().Err(err).Str("tenant", tenant).Str("channel", channel).Msg("failed to publish generic envelope")
			http.Error(w, "upstream bus unavailable", http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusOK)
	}
}
