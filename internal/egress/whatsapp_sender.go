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

// WhatsAppCreds is the secret shape stored at a WhatsApp sender's secrets
// path: a WhatsApp Cloud API phone number and its access token.
type WhatsAppCreds struct {
	AccessToken   string `json:"access_token"`
	PhoneNumberID string `json:"phone_number_id"`
}

// WhatsAppSender posts messages via the WhatsApp Cloud API's messages
// endpoint. Every message is sent as a text body: msg.Text when set,
// otherwise the rendered card Payload as a string.
type WhatsAppSender struct {
	apiBase     string
	secretsPath string
	secrets     SecretsResolver
	client      *http.Client
}

func NewWhatsAppSender(apiBase, secretsPath string, secrets SecretsResolver) *WhatsAppSender {
	return &WhatsAppSender{
		apiBase:     apiBase,
		secretsPath: secretsPath,
		secrets:     secrets,
		client:      &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *WhatsAppSender) Platform() string { return "WhatsApp" }

func (s *WhatsAppSender) Send(ctx context.Context, tenantCtx tenant.Context, msg OutboundMessage) (SendResult, error) {
	var creds WhatsAppCreds
	found, err := s.secrets.GetJSON(ctx, s.secretsPath, tenantCtx, &creds)
	if err != nil {
		return SendResult{}, err
	}
	if !found || creds.AccessToken == "" || creds.PhoneNumberID == "" {
		return SendResult{}, MissingCredsError("whatsapp")
	}

	text := msg.Text
	if text == "" && len(msg.Payload) > 0 {
		text = string(msg.Payload)
	}
	body := map[string]any{
		"messaging_product": "whatsapp",
		"to":                 msg.ChatID,
		"type":               "text",
		"text":               map[string]any{"body": text},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return SendResult{}, err
	}

	endpoint := fmt.Sprintf("%s/%s/messages", s.apiBase, creds.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return SendResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)

	resp, err := s.client.Do(req)
	if err != nil {
		return SendResult{}, transportError("whatsapp_transport", err)
	}
	defer resp.Body.Close()
	if gerr := classifyHTTPStatus("whatsapp_http_"+fmt.Sprint(resp.StatusCode), resp.StatusCode); gerr != nil {
		return SendResult{}, withRetryAfter(gerr, resp)
	}

	var parsed struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&parsed)
	result := SendResult{}
	if len(parsed.Messages) > 0 {
		result.MessageID = parsed.Messages[0].ID
	}
	return result, nil
}
