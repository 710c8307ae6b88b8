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

// WebexCreds is the secret shape stored at a Webex sender's secrets path.
type WebexCreds struct {
	AccessToken string `json:"access_token"`
}

// WebexSender posts messages via the Webex messages API.
type WebexSender struct {
	apiBase     string
	secretsPath string
	secrets     SecretsResolver
	client      *http.Client
}

func NewWebexSender(apiBase, secretsPath string, secrets SecretsResolver) *WebexSender {
	return &WebexSender{
		apiBase:     apiBase,
		secretsPath: secretsPath,
		secrets:     secrets,
		client:      &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *WebexSender) Platform() string { return "Webex" }

func (s *WebexSender) Send(ctx context.Context, tenantCtx tenant.Context, msg OutboundMessage) (SendResult, error) {
	var creds WebexCreds
	found, err := s.secrets.GetJSON(ctx, s.secretsPath, tenantCtx, &creds)
	if err != nil {
		return SendResult{}, err
	}
	if !found || creds.AccessToken == "" {
		return SendResult{}, MissingCredsError("webex")
	}

	body := map[string]any{"roomId": msg.ChatID}
	if len(msg.Payload) > 0 {
		body["markdown"] = string(msg.Payload)
	} else {
		body["text"] = msg.Text
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return SendResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiBase+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return SendResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)

	resp, err := s.client.Do(req)
	if err != nil {
		return SendResult{}, transportError("webex_transport", err)
	}
	defer resp.Body.Close()
	if gerr := classifyHTTPStatus("webex_http_"+fmt.Sprint(resp.StatusCode), resp.StatusCode); gerr != nil {
		return SendResult{}, withRetryAfter(gerr, resp)
	}

	var parsed struct {
		ID string `json:"id"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&parsed)
	return SendResult{MessageID: parsed.ID}, nil
}
