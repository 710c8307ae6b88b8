package ingress

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/greentic-ai/messaging-gateway/internal/envelope"
)

// telegramUpdate is the subset of a Telegram Bot API update this receiver
// parses. Unknown fields are ignored.
type telegramUpdate struct {
	UpdateID int64 `json:"update_id"`
	Message  struct {
		MessageID int64  `json:"message_id"`
		Text      string `json:"text"`
		Chat      struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		From struct {
			ID int64 `json:"id"`
		} `json:"from"`
	} `json:"message"`
}

// TelegramHandler returns the /telegram/{tenant} handler. Telegram does not
// sign webhooks by default, and neither this handler nor the router that
// mounts it checks a secret-token header.
func (r *Receiver) TelegramHandler(tenant string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		body, ok := readBody(w, req)
		if !ok {
			return
		}

		var update telegramUpdate
		if err := json.Unmarshal(body, &update); err != nil {
			r.metrics.IngressRejected(tenant, string(envelope.PlatformTelegram), "parse_error")
			http.Error(w, "malformed body", http.StatusBadRequest)
			return
		}

		r.metrics.IngressReceived(tenant, string(envelope.PlatformTelegram))

		msgID := "telegram:" + strconv.FormatInt(update.UpdateID, 10)
		if !r.dedupe(req.Context(), tenant, string(envelope.PlatformTelegram), msgID) {
			w.WriteHeader(http.StatusOK)
			return
		}

		chatID := strconv.FormatInt(update.Message.Chat.ID, 10)
		env := envelope.CanonicalEnvelope{
			Tenant:       tenant,
			Platform:     envelope.PlatformTelegram,
			ChatID:       chatID,
			UserID:       strconv.FormatInt(update.Message.From.ID, 10),
			MsgID:        msgID,
			Text:         update.Message.Text,
			TimestampUTC: nowUTC(),
			Context:      map[string]any{"telegram_message_id": update.Message.MessageID},
		}

		if err := r.publishOrDLQ(req.Context(), tenant, envelope.PlatformTelegram, chatID, env); err != nil {
			r.logger.Error().Err(err).Str("tenant", tenant).Msg("failed to publish telegram envelope")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusOK)
	}
}
