package egress

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/greentic-ai/messaging-gateway/internal/tenant"
)

// TelegramCreds is the secret shape stored at a Telegram sender's secrets
// path.
type TelegramCreds struct {
	BotToken string `json:"bot_token"`
}

// TelegramSender posts messages via the Telegram Bot API sendMessage
// method.
type TelegramSender struct {
	apiBase     string
	secretsPath string
	secrets     SecretsResolver
	client      *http.Client
}

func NewTelegramSender(apiBase, secretsPath string, secrets SecretsResolver) *TelegramSender {
	return &TelegramSender{
		apiBase:     apiBase,
		secretsPath: secretsPath,
		secrets:     secrets,
		client:      &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *TelegramSender) Platform() string { return "Telegram" }

type telegramSendResponse struct {
	OK     bool `json:"ok"`
	Result struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
	Description string `json:"description"`
}

func (s *TelegramSender) Send(ctx context.Context, tenantCtx tenant.Context, msg OutboundMessage) (SendResult, error) {
	var creds TelegramCreds
	found, err := s.secrets.GetJSON(ctx, s.secretsPath, tenantCtx, &creds)
	if err != nil {
		return SendResult{}, err
	}
	if !found || creds.BotToken == "" {
		return SendResult{}, MissingCredsError("telegram")
	}

	body := map[string]any{"chat_id": msg.ChatID}
	if len(msg.Payload) > 0 {
		body["text"] = string(msg.Payload)
	} else {
		body["text"] = msg.Text
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return SendResult{}, err
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", s.apiBase, creds.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return SendResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return SendResult{}, transportError("telegram_transport", err)
	}
	defer resp.Body.Close()
	if gerr := classifyHTTPStatus("telegram_http_"+fmt.Sprint(resp.StatusCode), resp.StatusCode); gerr != nil {
		return SendResult{}, withRetryAfter(gerr, resp)
	}

	var parsed telegramSendResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return SendResult{}, transportError("telegram_decode", err)
	}
	if !parsed.OK {
		return SendResult{}, terminalPlatformError("telegram", parsed.Description)
	}
	return SendResult{MessageID: fmt.Sprint(parsed.Result.MessageID)}, nil
}
