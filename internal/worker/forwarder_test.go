package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/greentic-ai/messaging-gateway/internal/gatewayerr"
)

type fakeTransport struct {
	responses []workerResponse
	errs      []error
	calls     int
}

func (f *fakeTransport) Call(_ context.Context, _ workerRequest) (workerResponse, error) {
	idx := f.calls
	f.calls++
	if idx < len(f.errs) && f.errs[idx] != nil {
		return workerResponse{}, f.errs[idx]
	}
	if idx < len(f.responses) {
		return f.responses[idx], nil
	}
	return workerResponse{}, nil
}

func newTestForwarder(t *fakeTransport) *Forwarder {
	f := NewForwarder(t, 2, zerolog.Nop())
	f.sleep = func(time.Duration) {}
	return f
}

func TestForwardToWorkerSuccess(t *testing.T) {
	transport := &fakeTransport{responses: []workerResponse{
		{Envelopes: []OutboundEnvelope{{Tenant: "acme", ChannelID: "C1", Meta: OutboundEnvelopeMeta{Kind: "Text"}}}},
	}}
	f := newTestForwarder(transport)

	envs, err := f.ForwardToWorker(context.Background(), "C1", json.RawMessage(`{"text":"hi"}`), Routing{WorkerID: "w1"}, "corr-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(envs) != 1 || envs[0].ChannelID != "C1" {
		t.Fatalf("envs = %+v", envs)
	}
	if transport.calls != 1 {
		t.Fatalf("calls = %d, want 1", transport.calls)
	}
}

func TestForwardToWorkerRetriesTransientThenSucceeds(t *testing.T) {
	transport := &fakeTransport{
		errs:      []error{gatewayerr.Transient("E_WORKER_TIMEOUT", "timeout", 0)},
		responses: []workerResponse{{}, {Envelopes: []OutboundEnvelope{{ChannelID: "C1"}}}},
	}
	f := newTestForwarder(transport)

	envs, err := f.ForwardToWorker(context.Background(), "C1", nil, Routing{}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if transport.calls != 2 {
		t.Fatalf("calls = %d, want 2", transport.calls)
	}
	if len(envs) != 1 {
		t.Fatalf("envs = %+v", envs)
	}
}

func TestForwardToWorkerExhaustsRetriesOnPersistentTransientError(t *testing.T) {
	transport := &fakeTransport{errs: []error{
		gatewayerr.Transient("E_WORKER_TIMEOUT", "timeout", 0),
		gatewayerr.Transient("E_WORKER_TIMEOUT", "timeout", 0),
		gatewayerr.Transient("E_WORKER_TIMEOUT", "timeout", 0),
	}}
	f := newTestForwarder(transport)

	_, err := f.ForwardToWorker(context.Background(), "C1", nil, Routing{}, "")
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if transport.calls != 3 {
		t.Fatalf("calls = %d, want 3 (1 initial + 2 retries)", transport.calls)
	}
}

func TestForwardToWorkerTerminalErrorDoesNotRetry(t *testing.T) {
	transport := &fakeTransport{errs: []error{gatewayerr.Terminal("E_WORKER_HTTP_400", "bad request")}}
	f := newTestForwarder(transport)

	_, err := f.ForwardToWorker(context.Background(), "C1", nil, Routing{}, "")
	if err == nil {
		t.Fatal("expected error")
	}
	if transport.calls != 1 {
		t.Fatalf("calls = %d, want 1 (terminal errors don't retry)", transport.calls)
	}
}
