package webchat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/greentic-ai/messaging-gateway/internal/envelope"
	"github.com/greentic-ai/messaging-gateway/internal/gatewayerr"
	"github.com/greentic-ai/messaging-gateway/internal/subject"
)

// busPublisher is the narrow bus capability the ingress bridge needs.
type busPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte) error
}

// IngressBridge publishes posted activities onto the shared ingress bus,
// the same way every other platform receiver does, so the worker plane
// sees WebChat messages through one uniform subject family.
type IngressBridge struct {
	bus    busPublisher
	scheme subject.Scheme
	env    string
	team   string
}

func NewIngressBridge(bus busPublisher, scheme subject.Scheme, env, team string) *IngressBridge {
	return &IngressBridge{bus: bus, scheme: scheme, env: env, team: team}
}

// PublishIncoming builds the ingress subject for env's canonical record and
// publishes it, satisfying the Server's EventPublisher capability.
func (b *IngressBridge) PublishIncoming(ctx context.Context, env envelope.CanonicalEnvelope) error {
	subj, err := b.scheme.Ingress(b.env, env.Tenant, b.team, strings.ToLower(string(env.Platform)), env.ChatID)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.bus.Publish(ctx, subj, payload)
}

// HTTPOAuthExchanger exchanges an authorization code for an access token
// against a generic OAuth2 token endpoint, posted the same way the
// teacher's platform clients POST form/JSON bodies with a bounded-timeout
// http.Client.
type HTTPOAuthExchanger struct {
	tokenURL     string
	clientID     string
	clientSecret string
	redirectURI  string
	client       *http.Client
}

func NewHTTPOAuthExchanger(tokenURL, clientID, clientSecret, redirectURI string) *HTTPOAuthExchanger {
	return &HTTPOAuthExchanger{
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		redirectURI:  redirectURI,
		client:       &http.Client{Timeout: 10 * time.Second},
	}
}

type oauthTokenResponse struct {
	AccessToken string `json:"access_token"`
	Error       string `json:"error"`
}

// Exchange trades an authorization code for an access token handle. The
// handle is returned to the caller to embed in a channel_data field; it is
// never persisted by this package.
func (e *HTTPOAuthExchanger) Exchange(ctx context.Context, conversationID, code, state string) (string, error) {
	body, _ := json.Marshal(map[string]string{
		"grant_type":    "authorization_code",
		"code":          code,
		"client_id":     e.clientID,
		"client_secret": e.clientSecret,
		"redirect_uri":  e.redirectURI,
		"state":         state,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.tokenURL, bytes.NewReader(body))
	if err != nil {
		return "", gatewayerr.Internal("E_OAUTH_REQUEST", err.Error())
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", gatewayerr.Transient("E_OAUTH_TRANSPORT", err.Error(), 0)
	}
	defer resp.Body.Close()

	var parsed oauthTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", gatewayerr.Terminal("E_OAUTH_DECODE", err.Error())
	}
	if resp.StatusCode >= 400 || parsed.Error != "" {
		return "", gatewayerr.Terminal("E_OAUTH_REJECTED", fmt.Sprintf("token exchange failed: status=%d error=%s", resp.StatusCode, parsed.Error))
	}
	if parsed.AccessToken == "" {
		return "", gatewayerr.Terminal("E_OAUTH_EMPTY_TOKEN", "token endpoint returned no access_token")
	}
	return parsed.AccessToken, nil
}
