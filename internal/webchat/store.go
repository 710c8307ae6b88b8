// Package webchat implements the Direct Line 3.0-compatible standalone
// server of spec §4.10: token minting, conversation/session stores, the
// REST activity surface, a broadcast WebSocket stream, and the operator
// post-activity and OAuth callback endpoints.
package webchat

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/greentic-ai/messaging-gateway/internal/gatewayerr"
	"github.com/greentic-ai/messaging-gateway/internal/tenant"
)

// MaxActivityHistory bounds the in-memory ring per conversation, per spec
// §4.10.
const MaxActivityHistory = 5000

// Activity is a Direct Line-shaped activity. Fields beyond the ones the
// server needs to normalize/route are carried opaquely in Extra.
type Activity struct {
	ID           string         `json:"id,omitempty"`
	Type         string         `json:"type"`
	Text         string         `json:"text,omitempty"`
	Timestamp    time.Time      `json:"timestamp,omitempty"`
	From         *Participant   `json:"from,omitempty"`
	Conversation *ConversationRef `json:"conversation,omitempty"`
	ChannelData  map[string]any `json:"channelData,omitempty"`
	Extra        map[string]any `json:"-"`
}

type Participant struct {
	ID   string `json:"id"`
	Role string `json:"role,omitempty"`
}

type ConversationRef struct {
	ID string `json:"id"`
}

// StoredActivity is an Activity together with the monotonically increasing
// watermark it was assigned at append time.
type StoredActivity struct {
	Watermark int64
	Activity  Activity
}

// conversationRecord is one conversation's durable state: its tenant
// context and the bounded ring of stored activities.
type conversationRecord struct {
	ctx        tenant.Context
	activities []StoredActivity
	nextWM     int64
	subs       []chan StoredActivity
}

// ConversationStore implements the create/append/activities/subscribe
// contract of spec §4.10, guarded by a single mutex; broadcast subscribers
// must not hold the store lock across send, so fan-out copies the
// subscriber list before sending.
type ConversationStore struct {
	mu            sync.Mutex
	conversations map[string]*conversationRecord
}

func NewConversationStore() *ConversationStore {
	return &ConversationStore{conversations: map[string]*conversationRecord{}}
}

// Create registers a new conversation, failing if id already exists.
func (s *ConversationStore) Create(id string, ctx tenant.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.conversations[id]; exists {
		return gatewayerr.ClientError("E_CONVERSATION_EXISTS", "conversation already exists: "+id)
	}
	s.conversations[id] = &conversationRecord{ctx: ctx}
	return nil
}

// Append assigns a watermark and (if absent) an id/timestamp to activity,
// storing it in id's ring. Returns QuotaExceeded once the ring reaches
// MaxActivityHistory.
func (s *ConversationStore) Append(id string, activity Activity) (StoredActivity, error) {
	s.mu.Lock()
	rec, ok := s.conversations[id]
	if !ok {
		s.mu.Unlock()
		return StoredActivity{}, gatewayerr.ClientError("E_CONVERSATION_NOT_FOUND", "conversation not found: "+id)
	}
	if len(rec.activities) >= MaxActivityHistory {
		s.mu.Unlock()
		return StoredActivity{}, gatewayerr.ClientError("E_QUOTA_EXCEEDED", "conversation activity history is full")
	}
	if activity.ID == "" {
		activity.ID = uuid.NewString()
	}
	if activity.Timestamp.IsZero() {
		activity.Timestamp = time.Now().UTC()
	}
	stored := StoredActivity{Watermark: rec.nextWM, Activity: activity}
	rec.nextWM++
	rec.activities = append(rec.activities, stored)
	subs := append([]chan StoredActivity(nil), rec.subs...)
	s.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub <- stored:
		default:
			// subscriber is lagging; it will recover by re-reading from
			// the store since its last sent watermark.
		}
	}
	return stored, nil
}

// Activities returns all activities with watermark >= the requested value
// (inclusive), plus the highest watermark present (or -1 if none).
func (s *ConversationStore) Activities(id string, watermark *int64) ([]StoredActivity, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.conversations[id]
	if !ok {
		return nil, -1, gatewayerr.ClientError("E_CONVERSATION_NOT_FOUND", "conversation not found: "+id)
	}
	var out []StoredActivity
	for _, a := range rec.activities {
		if watermark == nil || a.Watermark >= *watermark {
			out = append(out, a)
		}
	}
	high := int64(-1)
	if len(rec.activities) > 0 {
		high = rec.activities[len(rec.activities)-1].Watermark
	}
	return out, high, nil
}

// Subscribe registers a broadcast receiver for id's new activities. The
// caller must eventually call the returned cancel func to unregister.
func (s *ConversationStore) Subscribe(id string) (<-chan StoredActivity, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.conversations[id]
	if !ok {
		return nil, nil, gatewayerr.ClientError("E_CONVERSATION_NOT_FOUND", "conversation not found: "+id)
	}
	ch := make(chan StoredActivity, 32)
	rec.subs = append(rec.subs, ch)
	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, c := range rec.subs {
			if c == ch {
				rec.subs = append(rec.subs[:i], rec.subs[i+1:]...)
				break
			}
		}
	}
	return ch, cancel, nil
}

// TenantCtx returns the stored tenant context for id.
func (s *ConversationStore) TenantCtx(id string) (tenant.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.conversations[id]
	if !ok {
		return tenant.Context{}, gatewayerr.ClientError("E_CONVERSATION_NOT_FOUND", "conversation not found: "+id)
	}
	return rec.ctx, nil
}

// Session is the per-conversation session record of spec §4.10.
type Session struct {
	ConversationID string
	TenantCtx      tenant.Context
	BearerToken    string
	Watermark      *int64
	ProactiveOK    bool
}

// SessionStore implements the upsert/get/update_watermark/list_by_tenant/
// set_proactive contract of spec §4.10.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: map[string]*Session{}}
}

func (s *SessionStore) Upsert(session Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.sessions[session.ConversationID]
	if ok && session.Watermark == nil {
		session.Watermark = existing.Watermark
	}
	cp := session
	s.sessions[session.ConversationID] = &cp
}

func (s *SessionStore) Get(id string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

func (s *SessionStore) UpdateWatermark(id string, watermark int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		wm := watermark
		sess.Watermark = &wm
	}
}

func (s *SessionStore) SetProactive(id string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, exists := s.sessions[id]; exists {
		sess.ProactiveOK = ok
	}
}

// ListByTenant returns every session whose tenant context matches
// (env, tenant, team) — an empty team matches any team.
func (s *SessionStore) ListByTenant(env, tenantID, team string) []Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Session
	for _, sess := range s.sessions {
		if sess.TenantCtx.Env != env || sess.TenantCtx.Tenant != tenantID {
			continue
		}
		if team != "" && sess.TenantCtx.Team != team {
			continue
		}
		out = append(out, *sess)
	}
	return out
}
