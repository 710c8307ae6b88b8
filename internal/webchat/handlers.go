package webchat

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/greentic-ai/messaging-gateway/internal/envelope"
	"github.com/greentic-ai/messaging-gateway/internal/gatewayerr"
	"github.com/greentic-ai/messaging-gateway/internal/tenant"
)

// errUnauthorizedConversation is returned when a token's claims don't match
// the conversation addressed by the request path.
var errUnauthorizedConversation = gatewayerr.ClientError("E_UNAUTHORIZED", "token does not match this conversation")

// EventPublisher is the narrow bus capability the webchat server needs:
// publishing a canonical envelope for an incoming user activity.
type EventPublisher interface {
	PublishIncoming(ctx context.Context, env envelope.CanonicalEnvelope) error
}

// OAuthExchanger exchanges an authorization code for a token handle, per
// spec §4.10's OAuth callback.
type OAuthExchanger interface {
	Exchange(ctx context.Context, conversationID, code, state string) (tokenHandle string, err error)
}

// Server implements the Direct Line-compatible HTTP/WS surface of spec
// §4.10.
type Server struct {
	conversations *ConversationStore
	sessions      *SessionStore
	tokens        *TokenManager
	tokenLimiter  *IPRateLimiter
	publisher     EventPublisher
	oauth         OAuthExchanger
	tokenTTLSecs  int
	logger        zerolog.Logger
}

// NewServer wires a webchat Server.
func NewServer(conversations *ConversationStore, sessions *SessionStore, tokens *TokenManager,
	tokenLimiter *IPRateLimiter, publisher EventPublisher, oauth OAuthExchanger, tokenTTL time.Duration, logger zerolog.Logger) *Server {
	return &Server{
		conversations: conversations,
		sessions:      sessions,
		tokens:        tokens,
		tokenLimiter:  tokenLimiter,
		publisher:     publisher,
		oauth:         oauth,
		tokenTTLSecs:  int(tokenTTL.Seconds()),
		logger:        logger.With().Str("component", "webchat").Logger(),
	}
}

// NewRouter assembles the Direct Line-compatible HTTP surface of spec §6.
func (s *Server) NewRouter() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	mux.HandleFunc("POST /v3/directline/tokens/generate", s.handleTokenGenerate)
	mux.HandleFunc("POST /v3/directline/conversations", s.handleCreateConversation)
	mux.HandleFunc("GET /v3/directline/conversations/{id}/activities", s.handleListActivities)
	mux.HandleFunc("POST /v3/directline/conversations/{id}/activities", s.handlePostActivity)
	mux.HandleFunc("GET /v3/directline/conversations/{id}/stream", s.handleStream)
	mux.HandleFunc("POST /webchat/admin/{env}/{tenant}/post-activity", s.handleAdminPostActivity)
	mux.HandleFunc("GET /webchat/oauth/callback", s.handleOAuthCallback)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}

// handleTokenGenerate mints an anonymous tenant-scoped token, per spec
// §4.10: `POST /v3/directline/tokens/generate?env&tenant&team?`.
func (s *Server) handleTokenGenerate(w http.ResponseWriter, r *http.Request) {
	ip := sourceIP(r)
	if !s.tokenLimiter.Allow(ip) {
		writeErr(w, http.StatusTooManyRequests, "E_RATE_LIMITED", "too many token requests")
		return
	}

	q := r.URL.Query()
	ctx := tenant.Context{Env: q.Get("env"), Tenant: q.Get("tenant"), Team: q.Get("team")}
	if err := ctx.Validate(); err != nil {
		writeErr(w, http.StatusBadRequest, "E_BAD_TENANT", err.Error())
		return
	}

	var body struct {
		User struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	if r.ContentLength > 0 {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	subject := body.User.ID
	if subject == "" {
		subject = "anon-" + uuid.NewString()
	}

	token, err := s.tokens.GenerateAnonymous(subject, ctx)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "E_TOKEN_MINT", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "expires_in": s.tokenTTLSecs})
}

// handleCreateConversation requires a valid anonymous token (no conv
// claim), creates a conversation, and issues a conversation-bound token.
func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	claims, err := s.tokens.Authenticate(r)
	if err != nil {
		writeErr(w, http.StatusUnauthorized, "E_UNAUTHORIZED", err.Error())
		return
	}
	if claims.Conv != "" {
		writeErr(w, http.StatusForbidden, "E_ALREADY_BOUND", "token is already bound to a conversation")
		return
	}

	ctx := tenant.Context{Env: claims.Ctx.Env, Tenant: claims.Ctx.Tenant, Team: claims.Ctx.Team}
	id := uuid.NewString()
	if err := s.conversations.Create(id, ctx); err != nil {
		writeErr(w, http.StatusConflict, "E_CONVERSATION_EXISTS", err.Error())
		return
	}

	token, err := s.tokens.GenerateForConversation(claims.Subject, ctx, id)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "E_TOKEN_MINT", err.Error())
		return
	}
	s.sessions.Upsert(Session{ConversationID: id, TenantCtx: ctx, BearerToken: token})

	writeJSON(w, http.StatusCreated, map[string]any{
		"conversationId": id,
		"token":          token,
		"expires_in":     s.tokenTTLSecs,
	})
}

// authenticateConversation validates a conversation-bound token matching
// the path's conversation id, per spec §4.10.
func (s *Server) authenticateConversation(r *http.Request, convID string) (*Claims, error) {
	claims, err := s.tokens.Authenticate(r)
	if err != nil {
		return nil, err
	}
	storedCtx, err := s.conversations.TenantCtx(convID)
	if err != nil {
		return nil, err
	}
	if claims.Conv != convID || claims.Ctx.Env != storedCtx.Env || claims.Ctx.Tenant != storedCtx.Tenant {
		return nil, errUnauthorizedConversation
	}
	return claims, nil
}

func (s *Server) handleListActivities(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.authenticateConversation(r, id); err != nil {
		writeErr(w, http.StatusUnauthorized, "E_UNAUTHORIZED", err.Error())
		return
	}

	var watermark *int64
	if raw := r.URL.Query().Get("watermark"); raw != "" {
		wm, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeErr(w, http.StatusBadRequest, "E_BAD_WATERMARK", "watermark must be an integer")
			return
		}
		watermark = &wm
	}

	activities, high, err := s.conversations.Activities(id, watermark)
	if err != nil {
		writeErr(w, http.StatusNotFound, "E_CONVERSATION_NOT_FOUND", err.Error())
		return
	}
	out := make([]Activity, 0, len(activities))
	for _, a := range activities {
		out = append(out, a.Activity)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"activities": out,
		"watermark":  strconv.FormatInt(high, 10),
	})
}

func (s *Server) handlePostActivity(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	claims, err := s.authenticateConversation(r, id)
	if err != nil {
		writeErr(w, http.StatusUnauthorized, "E_UNAUTHORIZED", err.Error())
		return
	}

	var activity Activity
	if err := json.NewDecoder(r.Body).Decode(&activity); err != nil {
		writeErr(w, http.StatusBadRequest, "E_BAD_BODY", "malformed activity")
		return
	}
	if activity.From == nil || activity.From.ID == "" {
		activity.From = &Participant{ID: claims.Subject, Role: "user"}
	}
	if activity.Conversation == nil || activity.Conversation.ID == "" {
		activity.Conversation = &ConversationRef{ID: id}
	}

	stored, err := s.conversations.Append(id, activity)
	if err != nil {
		writeErr(w, http.StatusConflict, "E_QUOTA_EXCEEDED", err.Error())
		return
	}

	if s.publisher != nil {
		ctx := tenant.Context{Env: claims.Ctx.Env, Tenant: claims.Ctx.Tenant, Team: claims.Ctx.Team}
		env := envelope.CanonicalEnvelope{
			Tenant:       ctx.Tenant,
			Platform:     envelope.PlatformWebChat,
			ChatID:       id,
			UserID:       stored.Activity.From.ID,
			MsgID:        "webchat:" + stored.Activity.ID,
			Text:         stored.Activity.Text,
			TimestampUTC: stored.Activity.Timestamp,
			Context:      map[string]any{"watermark": stored.Watermark},
		}
		if err := s.publisher.PublishIncoming(r.Context(), env); err != nil {
			s.logger.Error().Err(err).Str("conversation_id", id).Msg("failed to publish webchat activity")
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"id": stored.Activity.ID, "watermark": strconv.FormatInt(stored.Watermark, 10)})
}

func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	conversationID := q.Get("conversationId")
	code := q.Get("code")
	state := q.Get("state")
	if conversationID == "" || code == "" {
		writeErr(w, http.StatusBadRequest, "E_BAD_CALLBACK", "conversationId and code are required")
		return
	}
	if s.oauth == nil {
		writeErr(w, http.StatusServiceUnavailable, "E_OAUTH_UNCONFIGURED", "no OAuth capability configured")
		return
	}

	handle, err := s.oauth.Exchange(r.Context(), conversationID, code, state)
	if err != nil {
		writeErr(w, http.StatusBadGateway, "E_OAUTH_EXCHANGE_FAILED", err.Error())
		return
	}

	activity := Activity{
		Type:        "message",
		Text:        "You're signed in.",
		From:        &Participant{ID: "bot", Role: "bot"},
		ChannelData: map[string]any{"oauth_token_handle": handle},
	}
	if _, err := s.conversations.Append(conversationID, activity); err != nil {
		s.logger.Error().Err(err).Str("conversation_id", conversationID).Msg("failed to append oauth sign-in activity")
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "signed_in"})
}
