package egress

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/greentic-ai/messaging-gateway/internal/tenant"
)

// TeamsCreds is the secret shape stored at a Teams sender's secrets path:
// an Azure AD app registration used for the client-credentials grant
// against MS_GRAPH_AUTH_BASE, plus the bot's per-conversation service URL.
type TeamsCreds struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	AADTenantID  string `json:"aad_tenant_id"`
	ServiceURL   string `json:"service_url"`
}

// TeamsSender posts activities to the Bot Framework REST API, authorizing
// via an Azure AD client-credentials token fetched per send (no caching,
// since sends are infrequent relative to the 1h token lifetime and the
// spec leaves token caching unspecified).
type TeamsSender struct {
	authBase    string
	graphBase   string
	secretsPath string
	secrets     SecretsResolver
	client      *http.Client
}

func NewTeamsSender(authBase, graphBase, secretsPath string, secrets SecretsResolver) *TeamsSender {
	return &TeamsSender{
		authBase:    authBase,
		graphBase:   graphBase,
		secretsPath: secretsPath,
		secrets:     secrets,
		client:      &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *TeamsSender) Platform() string { return "Teams" }

type teamsTokenResponse struct {
	AccessToken string `json:"access_token"`
}

func (s *TeamsSender) fetchToken(ctx context.Context, creds TeamsCreds) (string, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {creds.ClientID},
		"client_secret": {creds.ClientSecret},
		"scope":         {"https://api.botframework.com/.default"},
	}
	endpoint := s.authBase + "/" + creds.AADTenantID + "/oauth2/v2.0/token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", transportError("teams_token_transport", err)
	}
	defer resp.Body.Close()
	if gerr := classifyHTTPStatus("teams_token_http_"+fmt.Sprint(resp.StatusCode), resp.StatusCode); gerr != nil {
		return "", withRetryAfter(gerr, resp)
	}
	var parsed teamsTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", transportError("teams_token_decode", err)
	}
	return parsed.AccessToken, nil
}

func (s *TeamsSender) Send(ctx context.Context, tenantCtx tenant.Context, msg OutboundMessage) (SendResult, error) {
	var creds TeamsCreds
	found, err := s.secrets.GetJSON(ctx, s.secretsPath, tenantCtx, &creds)
	if err != nil {
		return SendResult{}, err
	}
	if !found || creds.ClientID == "" || creds.ServiceURL == "" {
		return SendResult{}, MissingCredsError("teams")
	}

	token, err := s.fetchToken(ctx, creds)
	if err != nil {
		return SendResult{}, err
	}

	activity := map[string]any{"type": "message"}
	if len(msg.Payload) > 0 {
		activity["attachments"] = []map[string]any{{
			"contentType": "application/vnd.microsoft.card.adaptive",
			"content":     json.RawMessage(msg.Payload),
		}}
	} else {
		activity["text"] = msg.Text
	}
	payload, err := json.Marshal(activity)
	if err != nil {
		return SendResult{}, err
	}

	endpoint := creds.ServiceURL + "/v3/conversations/" + msg.ChatID + "/activities"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return SendResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.client.Do(req)
	if err != nil {
		return SendResult{}, transportError("teams_transport", err)
	}
	defer resp.Body.Close()
	if gerr := classifyHTTPStatus("teams_http_"+fmt.Sprint(resp.StatusCode), resp.StatusCode); gerr != nil {
		return SendResult{}, withRetryAfter(gerr, resp)
	}

	var parsed struct {
		ID string `json:"id"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&parsed)
	return SendResult{MessageID: parsed.ID}, nil
}
