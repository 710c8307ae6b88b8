package ingress

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/greentic-ai/messaging-gateway/internal/idempotency"
	"github.com/greentic-ai/messaging-gateway/internal/subject"
)

type fakePublisher struct {
	published []publishedMsg
	failNext  bool
}

type publishedMsg struct {
	subject string
	payload []byte
}

func (f *fakePublisher) Publish(_ context.Context, subj string, payload []byte) error {
	if f.failNext {
		return errFakePublish
	}
	f.published = append(f.published, publishedMsg{subject: subj, payload: payload})
	return nil
}

var errFakePublish = &fakePublishErr{}

type fakePublishErr struct{}

func (e *fakePublishErr) Error() string { return "publish failed" }

type fakeGuard struct {
	seen map[idempotency.Key]bool
}

func newFakeGuard() *fakeGuard { return &fakeGuard{seen: map[idempotency.Key]bool{}} }

func (g *fakeGuard) ShouldProcess(_ context.Context, key idempotency.Key) bool {
	if g.seen[key] {
		return false
	}
	g.seen[key] = true
	return true
}

type fakeMetrics struct {
	received  int
	rejected  int
	duplicate int
}

func (m *fakeMetrics) IngressReceived(string, string)          { m.received++ }
func (m *fakeMetrics) IngressRejected(string, string, string)   { m.rejected++ }
func (m *fakeMetrics) IngressDuplicate(string, string)          { m.duplicate++ }

func newTestReceiver(bus Publisher, guard Guard, metrics Metrics) *Receiver {
	scheme := subject.NewScheme("greentic.msg")
	return NewReceiver(bus, guard, nil, scheme, "acme", "default", metrics, zerolog.Nop())
}

// TestSlackTextIngest mirrors spec scenario S1: a validly signed message
// event publishes on the ingress subject with the deterministic msg_id.
func TestSlackTextIngest(t *testing.T) {
	bus := &fakePublisher{}
	r := newTestReceiver(bus, newFakeGuard(), &fakeMetrics{})

	body := []byte(`{"type":"event_callback","event":{"type":"message","channel":"C1","user":"U1","text":"hi","ts":"1700000000.000100"}}`)
	ts := "1700000000"
	secret := "top-secret"
	sig := "v0=" + computeSlackSig(secret, ts, body)

	req := httptest.NewRequest(http.MethodPost, "/slack/events", bytes.NewReader(body))
	req.Header.Set("X-Slack-Request-Timestamp", ts)
	req.Header.Set("X-Slack-Signature", sig)
	w := httptest.NewRecorder()

	r.SlackHandler("acme", secret)(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if len(bus.published) != 1 {
		t.Fatalf("published = %d, want 1", len(bus.published))
	}
	if bus.published[0].subject != "greentic.msg.in.acme.acme.default.slack.C1" {
		t.Fatalf("subject = %q", bus.published[0].subject)
	}
	if !bytes.Contains(bus.published[0].payload, []byte(`"msg_id":"slack:1700000000.000100"`)) {
		t.Fatalf("payload missing expected msg_id: %s", bus.published[0].payload)
	}
}

// TestSlackBotFilter mirrors spec scenario S2: a bot-posted event acks 200
// without publishing.
func TestSlackBotFilter(t *testing.T) {
	bus := &fakePublisher{}
	r := newTestReceiver(bus, newFakeGuard(), &fakeMetrics{})

	body := []byte(`{"type":"event_callback","event":{"type":"message","channel":"C1","user":"U1","text":"hi","ts":"1700000000.000100","bot_id":"B1"}}`)
	ts := "1700000000"
	secret := "top-secret"
	sig := "v0=" + computeSlackSig(secret, ts, body)

	req := httptest.NewRequest(http.MethodPost, "/slack/events", bytes.NewReader(body))
	req.Header.Set("X-Slack-Request-Timestamp", ts)
	req.Header.Set("X-Slack-Signature", sig)
	w := httptest.NewRecorder()

	r.SlackHandler("acme", secret)(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if len(bus.published) != 0 {
		t.Fatalf("published = %d, want 0", len(bus.published))
	}
}

// TestSlackSignatureBitFlipRejected covers spec property 10: single-bit
// flips in secret/ts/body/signature cause rejection.
func TestSlackSignatureBitFlipRejected(t *testing.T) {
	body := []byte(`{"type":"event_callback","event":{"type":"message","channel":"C1","ts":"1"}}`)
	ts := "1700000000"
	secret := "top-secret"
	validSig := "v0=" + computeSlackSig(secret, ts, body)

	cases := []struct {
		name   string
		secret string
		ts     string
		body   []byte
		sig    string
	}{
		{"flipped secret", "top-secreT", ts, body, validSig},
		{"flipped ts", secret, "1700000001", body, validSig},
		{"flipped body", secret, ts, []byte(`{"type":"event_callback","event":{"type":"message","channel":"C2","ts":"1"}}`), validSig},
		{"flipped sig", secret, ts, body, validSig[:len(validSig)-1] + "0"},
		{"missing sig", secret, ts, body, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if verifySlackSignature(tc.secret, tc.ts, tc.body, tc.sig) {
				t.Fatalf("expected rejection for %s", tc.name)
			}
		})
	}
}

func TestSlackDuplicateReturns200WithoutPublish(t *testing.T) {
	bus := &fakePublisher{}
	guard := newFakeGuard()
	metrics := &fakeMetrics{}
	r := newTestReceiver(bus, guard, metrics)

	body := []byte(`{"type":"event_callback","event":{"type":"message","channel":"C1","user":"U1","text":"hi","ts":"1700000000.000100"}}`)
	ts := "1700000000"
	secret := "top-secret"
	sig := "v0=" + computeSlackSig(secret, ts, body)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/slack/events", bytes.NewReader(body))
		req.Header.Set("X-Slack-Request-Timestamp", ts)
		req.Header.Set("X-Slack-Signature", sig)
		w := httptest.NewRecorder()
		r.SlackHandler("acme", secret)(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("iteration %d: status = %d, want 200", i, w.Code)
		}
	}
	if len(bus.published) != 1 {
		t.Fatalf("published = %d, want 1 (second is a duplicate)", len(bus.published))
	}
	if metrics.duplicate != 1 {
		t.Fatalf("duplicate metric = %d, want 1", metrics.duplicate)
	}
}

func TestGenericHandlerRequiresChatID(t *testing.T) {
	bus := &fakePublisher{}
	r := newTestReceiver(bus, newFakeGuard(), &fakeMetrics{})

	req := httptest.NewRequest(http.MethodPost, "/api/acme/webhook", bytes.NewReader([]byte(`{"text":"hi"}`)))
	w := httptest.NewRecorder()
	r.GenericHandler("acme", "webhook")(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestGenericHandlerPublishFailureReturns503(t *testing.T) {
	bus := &fakePublisher{failNext: true}
	r := newTestReceiver(bus, newFakeGuard(), &fakeMetrics{})

	req := httptest.NewRequest(http.MethodPost, "/api/acme/webhook", bytes.NewReader([]byte(`{"chat_id":"C1","text":"hi"}`)))
	w := httptest.NewRecorder()
	r.GenericHandler("acme", "webhook")(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}

func computeSlackSig(secret, ts string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("v0:" + ts + ":" + string(body)))
	return hex.EncodeToString(mac.Sum(nil))
}
