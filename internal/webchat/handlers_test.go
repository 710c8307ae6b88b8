package webchat

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/greentic-ai/messaging-gateway/internal/envelope"
	"github.com/greentic-ai/messaging-gateway/internal/tenant"
)

type fakePublisher struct {
	published []envelope.CanonicalEnvelope
}

func (f *fakePublisher) PublishIncoming(_ context.Context, env envelope.CanonicalEnvelope) error {
	f.published = append(f.published, env)
	return nil
}

func newTestServer() (*Server, *fakePublisher) {
	pub := &fakePublisher{}
	s := NewServer(
		NewConversationStore(),
		NewSessionStore(),
		NewTokenManager("test-secret", time.Hour),
		NewIPRateLimiter(time.Millisecond, 1000),
		pub,
		nil,
		30*time.Minute,
		zerolog.Nop(),
	)
	return s, pub
}

func doJSON(mux http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.RemoteAddr = "127.0.0.1:1234"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestTokenGenerateAndCreateConversationFlow(t *testing.T) {
	s, _ := newTestServer()
	mux := s.NewRouter()

	rec := doJSON(mux, "POST", "/v3/directline/tokens/generate?env=prod&tenant=acme&team=default", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("tokens/generate status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var tokResp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &tokResp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	anonToken, _ := tokResp["token"].(string)
	if anonToken == "" {
		t.Fatal("expected non-empty anonymous token")
	}

	rec = doJSON(mux, "POST", "/v3/directline/conversations", anonToken, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("conversations status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var convResp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &convResp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	convID, _ := convResp["conversationId"].(string)
	convToken, _ := convResp["token"].(string)
	if convID == "" || convToken == "" {
		t.Fatalf("expected conversationId and token, got %+v", convResp)
	}

	// The anonymous token stays conversation-less and could create another
	// conversation; the conversation-bound token, however, must be rejected
	// for a second create.
	rec = doJSON(mux, "POST", "/v3/directline/conversations", convToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 reusing a conv-bound token to create, got %d", rec.Code)
	}
}

func TestPostAndListActivities(t *testing.T) {
	s, pub := newTestServer()
	mux := s.NewRouter()

	ctx := tenant.Context{Env: "prod", Tenant: "acme", Team: "default"}
	convID := "conv-1"
	if err := s.conversations.Create(convID, ctx); err != nil {
		t.Fatalf("create: %v", err)
	}
	token, err := s.tokens.GenerateForConversation("user-1", ctx, convID)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	rec := doJSON(mux, "POST", "/v3/directline/conversations/"+convID+"/activities", token, Activity{
		Type: "message",
		Text: "hello there",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("post activity status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if len(pub.published) != 1 {
		t.Fatalf("expected 1 published envelope, got %d", len(pub.published))
	}
	if pub.published[0].Text != "hello there" || pub.published[0].ChatID != convID {
		t.Fatalf("unexpected envelope: %+v", pub.published[0])
	}

	rec = doJSON(mux, "GET", "/v3/directline/conversations/"+convID+"/activities", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list activities status = %d", rec.Code)
	}
	var listResp struct {
		Activities []Activity `json:"activities"`
		Watermark  string     `json:"watermark"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listResp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(listResp.Activities) != 1 || listResp.Activities[0].Text != "hello there" {
		t.Fatalf("unexpected activities: %+v", listResp.Activities)
	}
}

func TestPostActivityWrongConversationTokenRejected(t *testing.T) {
	s, _ := newTestServer()
	mux := s.NewRouter()

	ctx := tenant.Context{Env: "prod", Tenant: "acme"}
	if err := s.conversations.Create("conv-a", ctx); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.conversations.Create("conv-b", ctx); err != nil {
		t.Fatalf("create: %v", err)
	}
	tokenForA, err := s.tokens.GenerateForConversation("user-1", ctx, "conv-a")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	rec := doJSON(mux, "POST", "/v3/directline/conversations/conv-b/activities", tokenForA, Activity{Type: "message", Text: "hi"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for mismatched conversation token, got %d", rec.Code)
	}
}

func TestTokenGenerateRateLimited(t *testing.T) {
	s, _ := newTestServer()
	s.tokenLimiter = NewIPRateLimiter(time.Hour, 1)
	mux := s.NewRouter()

	rec := doJSON(mux, "POST", "/v3/directline/tokens/generate?env=prod&tenant=acme", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d", rec.Code)
	}
	rec = doJSON(mux, "POST", "/v3/directline/tokens/generate?env=prod&tenant=acme", "", nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on second request within burst window, got %d", rec.Code)
	}
}

func TestAdminPostActivityBroadcastsToProactiveSessionsOnly(t *testing.T) {
	s, _ := newTestServer()
	mux := s.NewRouter()

	ctx := tenant.Context{Env: "prod", Tenant: "acme"}
	for _, id := range []string{"conv-1", "conv-2"} {
		if err := s.conversations.Create(id, ctx); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	s.sessions.Upsert(Session{ConversationID: "conv-1", TenantCtx: ctx, ProactiveOK: true})
	s.sessions.Upsert(Session{ConversationID: "conv-2", TenantCtx: ctx, ProactiveOK: false})

	rec := doJSON(mux, "POST", "/webchat/admin/prod/acme/post-activity", "", adminPostActivityRequest{
		Activity: Activity{Type: "message", Text: "maintenance notice"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("admin post-activity status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp adminPostActivityResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Delivered != 1 || resp.Skipped != 1 {
		t.Fatalf("expected 1 delivered, 1 skipped, got %+v", resp)
	}
}
