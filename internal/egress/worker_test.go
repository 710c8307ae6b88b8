package egress

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/greentic-ai/messaging-gateway/internal/envelope"
	"github.com/greentic-ai/messaging-gateway/internal/gatewayerr"
	"github.com/greentic-ai/messaging-gateway/internal/tenant"
)

type fakeSender struct {
	platform  string
	responses []error
	calls     int
}

func (f *fakeSender) Platform() string { return f.platform }

func (f *fakeSender) Send(_ context.Context, _ tenant.Context, _ OutboundMessage) (SendResult, error) {
	idx := f.calls
	f.calls++
	if idx < len(f.responses) && f.responses[idx] != nil {
		return SendResult{}, f.responses[idx]
	}
	return SendResult{MessageID: "m1"}, nil
}

type fakeMetrics struct {
	sent, failed, retried int
}

func (m *fakeMetrics) EgressSent(string, string)             { m.sent++ }
func (m *fakeMetrics) EgressFailed(string, string)           { m.failed++ }
func (m *fakeMetrics) EgressRetried(string, string)          { m.retried++ }
func (m *fakeMetrics) EgressLatency(string, time.Duration) {}

func newTestWorker(sender Sender, metrics Metrics) *Worker {
	w := NewWorker([]Sender{sender}, nil, nil, metrics, zerolog.Nop())
	w.sleep = func(time.Duration) {} // no real sleeping in tests
	return w
}

// TestRetryThenSucceed mirrors spec scenario S3: a retryable error then a
// success yields 2 sends, 1 ack, 0 DLQ entries.
func TestRetryThenSucceed(t *testing.T) {
	sender := &fakeSender{platform: "Slack", responses: []error{
		gatewayerr.Transient("slack_http_500", "server error", 1),
	}}
	metrics := &fakeMetrics{}
	w := newTestWorker(sender, metrics)

	ack, retry := w.Dispatch(context.Background(), tenant.Context{Env: "acme", Tenant: "acme"},
		envelope.OutMessage{Platform: envelope.PlatformSlack, Kind: envelope.OutKindText, Text: "hi", ChatID: "C1"})

	if !ack || retry {
		t.Fatalf("ack=%v retry=%v, want ack=true retry=false", ack, retry)
	}
	if sender.calls != 2 {
		t.Fatalf("calls = %d, want 2", sender.calls)
	}
	if metrics.sent != 1 || metrics.retried != 1 || metrics.failed != 0 {
		t.Fatalf("metrics = %+v", metrics)
	}
}

func TestTerminalErrorGoesToAckWithoutRetry(t *testing.T) {
	sender := &fakeSender{platform: "Slack", responses: []error{
		gatewayerr.Terminal("slack_channel_not_found", "no such channel"),
	}}
	metrics := &fakeMetrics{}
	w := newTestWorker(sender, metrics)

	ack, retry := w.Dispatch(context.Background(), tenant.Context{Env: "acme", Tenant: "acme"},
		envelope.OutMessage{Platform: envelope.PlatformSlack, Kind: envelope.OutKindText, Text: "hi", ChatID: "C1"})

	if !ack || retry {
		t.Fatalf("ack=%v retry=%v, want ack=true retry=false", ack, retry)
	}
	if sender.calls != 1 {
		t.Fatalf("calls = %d, want 1 (terminal errors don't retry)", sender.calls)
	}
}

func TestRetryableExhaustedNaks(t *testing.T) {
	sender := &fakeSender{platform: "Slack", responses: []error{
		gatewayerr.Transient("slack_http_500", "server error", 0),
		gatewayerr.Transient("slack_http_500", "server error", 0),
		gatewayerr.Transient("slack_http_500", "server error", 0),
	}}
	metrics := &fakeMetrics{}
	w := newTestWorker(sender, metrics)

	ack, retry := w.Dispatch(context.Background(), tenant.Context{Env: "acme", Tenant: "acme"},
		envelope.OutMessage{Platform: envelope.PlatformSlack, Kind: envelope.OutKindText, Text: "hi", ChatID: "C1"})

	if ack || !retry {
		t.Fatalf("ack=%v retry=%v, want ack=false retry=true", ack, retry)
	}
	if sender.calls != MaxAttempts {
		t.Fatalf("calls = %d, want %d", sender.calls, MaxAttempts)
	}
}

func TestUnknownPlatformGoesToDLQWithoutCallingSender(t *testing.T) {
	sender := &fakeSender{platform: "Slack"}
	metrics := &fakeMetrics{}
	w := newTestWorker(sender, metrics)

	ack, retry := w.Dispatch(context.Background(), tenant.Context{Env: "acme", Tenant: "acme"},
		envelope.OutMessage{Platform: envelope.PlatformTeams, Kind: envelope.OutKindText, Text: "hi", ChatID: "C1"})

	if !ack || retry {
		t.Fatalf("ack=%v retry=%v, want ack=true retry=false", ack, retry)
	}
	if sender.calls != 0 {
		t.Fatalf("calls = %d, want 0", sender.calls)
	}
}
