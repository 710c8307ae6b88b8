// Package worker implements the optional synchronous worker-plane
// forwarder of spec §4.11: forward_to_worker over NATS request/reply or
// HTTP, mapping the worker's response to zero or more OutboundEnvelopes.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/greentic-ai/messaging-gateway/internal/gatewayerr"
)

// DefaultMaxRetries is the retry bound for transient forwarder errors,
// per spec §4.11.
const DefaultMaxRetries = 2

// BaseBackoff is the exponential backoff base for forwarder retries.
const BaseBackoff = 50 * time.Millisecond

// Routing carries the addressing the worker plane needs to route an
// incoming message to the right flow/worker.
type Routing struct {
	WorkerID string
	Flow     string
}

// OutboundEnvelopeMeta mirrors spec §4.11's meta bag; Kind is copied
// verbatim for downstream card/text dispatch.
type OutboundEnvelopeMeta struct {
	WorkerID      string `json:"worker_id"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Kind          string `json:"kind"`
}

// OutboundEnvelope is one reply the worker plane wants delivered back to a
// channel.
type OutboundEnvelope struct {
	Tenant    string               `json:"tenant"`
	ChannelID string               `json:"channel_id"`
	SessionID string               `json:"session_id,omitempty"`
	Meta      OutboundEnvelopeMeta `json:"meta"`
	Body      json.RawMessage      `json:"body"`
}

// workerRequest is the wire shape sent to the worker plane.
type workerRequest struct {
	Channel       string          `json:"channel"`
	Payload       json.RawMessage `json:"payload"`
	Routing       Routing         `json:"routing"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// workerResponse is the wire shape the worker plane replies with: a list
// of zero or more envelopes under "envelopes".
type workerResponse struct {
	Envelopes []OutboundEnvelope `json:"envelopes"`
}

// Transport abstracts the synchronous call to the worker plane, letting
// NATS and HTTP share the same retry discipline.
type Transport interface {
	Call(ctx context.Context, req workerRequest) (workerResponse, error)
}

// Forwarder wraps a Transport with the bounded exponential-backoff retry
// policy of spec §4.11.
type Forwarder struct {
	transport  Transport
	maxRetries int
	logger     zerolog.Logger
	sleep      func(time.Duration)
}

// NewForwarder builds a Forwarder with the given transport and retry bound
// (0 uses DefaultMaxRetries).
func NewForwarder(transport Transport, maxRetries int, logger zerolog.Logger) *Forwarder {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Forwarder{
		transport:  transport,
		maxRetries: maxRetries,
		logger:     logger.With().Str("component", "worker.forwarder").Logger(),
		sleep:      time.Sleep,
	}
}

// ForwardToWorker sends payload to the worker plane and maps the response
// to zero or more OutboundEnvelopes, retrying transient errors up to
// maxRetries with exponential backoff (50ms base), per spec §4.11.
func (f *Forwarder) ForwardToWorker(ctx context.Context, channel string, payload json.RawMessage, routing Routing, correlationID string) ([]OutboundEnvelope, error) {
	req := workerRequest{Channel: channel, Payload: payload, Routing: routing, CorrelationID: correlationID}

	var lastErr error
	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		resp, err := f.transport.Call(ctx, req)
		if err == nil {
			return resp.Envelopes, nil
		}
		lastErr = err
		if !gatewayerr.Retryable(err) || attempt == f.maxRetries {
			break
		}
		f.logger.Warn().Err(err).Int("attempt", attempt+1).Msg("worker forward failed, retrying")
		f.sleep(backoff(attempt))
	}
	return nil, lastErr
}

func backoff(attempt int) time.Duration {
	return time.Duration(float64(BaseBackoff) * math.Pow(2, float64(attempt)))
}

// NATSTransport forwards via NATS request/reply.
type NATSTransport struct {
	conn    *nats.Conn
	subject string
	timeout time.Duration
}

func NewNATSTransport(conn *nats.Conn, subject string, timeout time.Duration) *NATSTransport {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &NATSTransport{conn: conn, subject: subject, timeout: timeout}
}

func (t *NATSTransport) Call(ctx context.Context, req workerRequest) (workerResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return workerResponse{}, gatewayerr.Internal("E_WORKER_ENCODE", err.Error())
	}

	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	msg, err := t.conn.RequestWithContext(callCtx, t.subject, payload)
	if err != nil {
		if err == nats.ErrTimeout || err == context.DeadlineExceeded {
			return workerResponse{}, gatewayerr.Transient("E_WORKER_TIMEOUT", err.Error(), 0)
		}
		return workerResponse{}, gatewayerr.Transient("E_WORKER_TRANSPORT", err.Error(), 0)
	}

	var resp workerResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return workerResponse{}, gatewayerr.Terminal("E_WORKER_DECODE", err.Error())
	}
	return resp, nil
}

// HTTPTransport forwards via a POST of the JSON request body, mapping
// non-2xx responses to retryable iff >= 500, per spec §4.11.
type HTTPTransport struct {
	endpoint string
	client   *http.Client
}

func NewHTTPTransport(endpoint string, timeout time.Duration) *HTTPTransport {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPTransport{endpoint: endpoint, client: &http.Client{Timeout: timeout}}
}

func (t *HTTPTransport) Call(ctx context.Context, req workerRequest) (workerResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return workerResponse{}, gatewayerr.Internal("E_WORKER_ENCODE", err.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(payload))
	if err != nil {
		return workerResponse{}, gatewayerr.Internal("E_WORKER_REQUEST", err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return workerResponse{}, gatewayerr.Transient("E_WORKER_TRANSPORT", err.Error(), 0)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return workerResponse{}, gatewayerr.Transient(fmt.Sprintf("E_WORKER_HTTP_%d", resp.StatusCode), "worker plane server error", 0)
	}
	if resp.StatusCode >= 300 {
		return workerResponse{}, gatewayerr.Terminal(fmt.Sprintf("E_WORKER_HTTP_%d", resp.StatusCode), "worker plane rejected request")
	}

	var parsed workerResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return workerResponse{}, gatewayerr.Terminal("E_WORKER_DECODE", err.Error())
	}
	return parsed, nil
}
