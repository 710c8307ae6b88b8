package ingress

import (
	"encoding/json"
	"net/http"

	"github.com/greentic-ai/messaging-gateway/internal/envelope"
)

// webexWebhook is the subset of a Webex webhook payload this receiver
// parses. Unknown fields are ignored.
type webexWebhook struct {
	Resource string `json:"resource"`
	Event    string `json:"event"`
	ActorID  string `json:"actorId"`
	Data     struct {
		ID          string `json:"id"`
		RoomID      string `json:"roomId"`
		PersonID    string `json:"personId"`
		PersonEmail string `json:"personEmail"`
	} `json:"data"`
}

// WebexHandler returns the /webex/events handler. botPersonID identifies
// the bot's own Webex person id so self-posts (echoes of the bot's own
// replies) are filtered per spec §4.8 step 4.
func (r *Receiver) WebexHandler(tenant, botPersonID string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		body, ok := readBody(w, req)
		if !ok {
			return
		}

		var hook webexWebhook
		if err := json.Unmarshal(body, &hook); err != nil {
			r.metrics.IngressRejected(tenant, string(envelope.PlatformWebex), "parse_error")
			http.Error(w, "malformed body", http.StatusBadRequest)
			return
		}

		r.metrics.IngressReceived(tenant, string(envelope.PlatformWebex))

		if hook.Resource != "messages" || hook.Event != "created" {
			w.WriteHeader(http.StatusOK)
			return
		}
		if botPersonID != "" && hook.Data.PersonID == botPersonID {
			w.WriteHeader(http.StatusOK)
			return
		}

		msgID := "webex:" + hook.Data.ID
		if !r.dedupe(req.Context(), tenant, string(envelope.PlatformWebex), msgID) {
			w.WriteHeader(http.StatusOK)
			return
		}

		env := envelope.CanonicalEnvelope{
			Tenant:       tenant,
			Platform:     envelope.PlatformWebex,
			ChatID:       hook.Data.RoomID,
			UserID:       hook.Data.PersonID,
			MsgID:        msgID,
			TimestampUTC: nowUTC(),
			Context:      map[string]any{"webex_person_email": hook.Data.PersonEmail},
		}

		if err := r.publishOrDLQ(req.Context(), tenant, envelope.PlatformWebex, hook.Data.RoomID, env); err != nil {
			r.logger.Error().Err(err).Str("tenant", tenant).Msg("failed to publish webex envelope")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusOK)
	}
}
