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

// SlackCreds is the secret shape stored at a Slack sender's secrets path.
type SlackCreds struct {
	BotToken string `json:"bot_token"`
}

// SlackSender posts messages via the Slack Web API chat.postMessage
// endpoint, grounded on the teacher's SlackAlerter webhook-post pattern
// (ws/internal/shared/monitoring/alerting.go) generalized from a fixed
// webhook URL to a per-tenant bearer-token API call.
type SlackSender struct {
	apiBase     string
	secretsPath string
	secrets     SecretsResolver
	client      *http.Client
}

// NewSlackSender builds a sender resolving credentials from secretsPath
// (templated by env/tenant/team) via secrets.
func NewSlackSender(apiBase, secretsPath string, secrets SecretsResolver) *SlackSender {
	return &SlackSender{
		apiBase:     apiBase,
		secretsPath: secretsPath,
		secrets:     secrets,
		client:      &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *SlackSender) Platform() string { return "Slack" }

type slackPostMessageResponse struct {
	OK    bool   `json:"ok"`
	TS    string `json:"ts"`
	Error string `json:"error"`
}

func (s *SlackSender) Send(ctx context.Context, tenantCtx tenant.Context, msg OutboundMessage) (SendResult, error) {
	var creds SlackCreds
	found, err := s.secrets.GetJSON(ctx, s.secretsPath, tenantCtx, &creds)
	if err != nil {
		return SendResult{}, err
	}
	if !found || creds.BotToken == "" {
		return SendResult{}, MissingCredsError("slack")
	}

	body := map[string]any{"channel": msg.ChatID}
	if len(msg.Payload) > 0 {
		var blocks json.RawMessage = msg.Payload
		body["blocks"] = blocks
	} else {
		body["text"] = msg.Text
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return SendResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiBase+"/chat.postMessage", bytes.NewReader(payload))
	if err != nil {
		return SendResult{}, err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+creds.BotToken)

	resp, err := s.client.Do(req)
	if err != nil {
		return SendResult{}, transportError("slack_transport", err)
	}
	defer resp.Body.Close()

	if gerr := classifyHTTPStatus("slack_http_"+fmt.Sprint(resp.StatusCode), resp.StatusCode); gerr != nil {
		return SendResult{}, withRetryAfter(gerr, resp)
	}

	var parsed slackPostMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return SendResult{}, transportError("slack_decode", err)
	}
	if !parsed.OK {
		if parsed.Error == "ratelimited" {
			return SendResult{}, withRetryAfter(classifyHTTPStatus("slack_ratelimited", 429), resp)
		}
		return SendResult{}, terminalPlatformError("slack", parsed.Error)
	}
	return SendResult{MessageID: parsed.TS}, nil
}
