// Package bus implements the durable subject-addressed bus client described
// in spec §4.4: JetStream-backed publish with explicit ack, and durable
// consumer subscriptions delivering messages with ack/nak semantics.
package bus

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Delivery is one message handed to a subscriber. Exactly one of Ack/Nak
// must be called per delivery.
type Delivery interface {
	Payload() []byte
	Subject() string
	Ack() error
	Nak(delay time.Duration) error
	// NumDelivered reports the redelivery count (1 on first delivery).
	NumDelivered() uint64
}

type natsDelivery struct {
	msg *nats.Msg
}

func (d *natsDelivery) Payload() []byte { return d.msg.Data }
func (d *natsDelivery) Subject() string { return d.msg.Subject }
func (d *natsDelivery) Ack() error      { return d.msg.Ack() }
func (d *natsDelivery) Nak(delay time.Duration) error {
	if delay <= 0 {
		return d.msg.Nak()
	}
	return d.msg.NakWithDelay(delay)
}
func (d *natsDelivery) NumDelivered() uint64 {
	meta, err := d.msg.Metadata()
	if err != nil {
		return 1
	}
	return meta.NumDelivered
}

// Handler processes one Delivery and returns a HandlerResult; it does not
// call Ack/Nak itself, since Subscribe's loop applies the ack or nak for
// every delivery from that result. Decode errors should be handled by
// acking (don't NAK poison payloads, per spec §4.4); retryable errors
// should NAK with backoff; terminal errors should publish to the DLQ then
// ack.
type Handler func(ctx context.Context, d Delivery) HandlerResult

// HandlerResult tells the subscription loop how to resolve a Delivery.
type HandlerResult struct {
	Outcome Outcome
	// NakDelay is the explicit redelivery delay, used only when
	// Outcome == OutcomeRetry; the loop computes exponential backoff with
	// jitter when this is zero.
	NakDelay time.Duration
}

type Outcome int

const (
	OutcomeAck Outcome = iota
	OutcomeRetry
	OutcomeTerminal // caller already DLQ'd; ack now
)

// Client wraps a NATS connection and JetStream context.
type Client struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	logger zerolog.Logger
}

// Config configures the underlying NATS connection, modeled on the
// teacher's pkg/nats.Config (go-server/pkg/nats/client.go).
type Config struct {
	URL             string
	MaxReconnects   int
	ReconnectWait   time.Duration
	ReconnectJitter time.Duration
	MaxPingsOut     int
	PingInterval    time.Duration
}

// NewClient connects to NATS and obtains a JetStream context.
func NewClient(cfg Config, logger zerolog.Logger) (*Client, error) {
	logger = logger.With().Str("component", "bus").Logger()
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(cfg.ReconnectJitter, cfg.ReconnectJitter),
		nats.MaxPingsOutstanding(cfg.MaxPingsOut),
		nats.PingInterval(cfg.PingInterval),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			logger.Error().Err(err).Msg("nats error")
		}),
	}
	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("obtain jetstream context: %w", err)
	}
	return &Client{conn: conn, js: js, logger: logger}, nil
}

// JetStream exposes the underlying context for packages that need to
// manage their own streams/KV buckets (idempotency, backpressure, DLQ).
func (c *Client) JetStream() nats.JetStreamContext { return c.js }

// Conn exposes the underlying NATS connection for components that need
// plain request/reply rather than JetStream (e.g. the worker forwarder's
// NATS transport).
func (c *Client) Conn() *nats.Conn { return c.conn }

// EnsureStream creates the named stream if it doesn't already exist.
func (c *Client) EnsureStream(cfg *nats.StreamConfig) error {
	_, err := c.js.StreamInfo(cfg.Name)
	if err == nil {
		return nil
	}
	_, err = c.js.AddStream(cfg)
	if err != nil {
		return fmt.Errorf("create stream %s: %w", cfg.Name, err)
	}
	return nil
}

// Publish publishes bytes to subject, returning only after JetStream has
// acknowledged durability (spec §4.4). Callers may retry on error;
// consumer-side dedupe via idempotency absorbs duplicate publishes.
func (c *Client) Publish(ctx context.Context, subject string, payload []byte) error {
	_, err := c.js.Publish(subject, payload, nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// SubscribeOpts configures a durable consumer subscription.
type SubscribeOpts struct {
	Subject    string
	Durable    string
	MaxDeliver int
	AckWait    time.Duration
}

// Subscription is a cancellable handle to a running subscription loop.
type Subscription struct {
	sub    *nats.Subscription
	cancel context.CancelFunc
}

// Stop cancels the subscription and releases the underlying NATS resources.
func (s *Subscription) Stop() error {
	s.cancel()
	return s.sub.Unsubscribe()
}

// Subscribe opens a durable, explicit-ack, at-least-once push subscription
// and runs handler for every delivery until the returned Subscription is
// stopped or ctx is cancelled. Decode/poison-payload handling and terminal
// DLQ publication are the handler's responsibility; Subscribe applies the
// ack/nak based on the returned HandlerResult, with exponential backoff and
// jitter for retries that don't specify an explicit delay.
func (c *Client) Subscribe(ctx context.Context, opts SubscribeOpts, handler Handler) (*Subscription, error) {
	subCtx, cancel := context.WithCancel(ctx)

	natsSub, err := c.js.Subscribe(opts.Subject, func(msg *nats.Msg) {
		d := &natsDelivery{msg: msg}
		result := handler(subCtx, d)
		switch result.Outcome {
		case OutcomeAck, OutcomeTerminal:
			if err := d.Ack(); err != nil {
				c.logger.Error().Err(err).Str("subject", d.Subject()).Msg("ack failed")
			}
		case OutcomeRetry:
			delay := result.NakDelay
			if delay <= 0 {
				delay = backoffWithJitter(d.NumDelivered())
			}
			if err := d.Nak(delay); err != nil {
				c.logger.Error().Err(err).Str("subject", d.Subject()).Msg("nak failed")
			}
		}
	},
		nats.Durable(opts.Durable),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.MaxDeliver(maxDeliverOrDefault(opts.MaxDeliver)),
		nats.AckWait(ackWaitOrDefault(opts.AckWait)),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe to %s: %w", opts.Subject, err)
	}
	return &Subscription{sub: natsSub, cancel: cancel}, nil
}

func maxDeliverOrDefault(n int) int {
	if n <= 0 {
		return 5
	}
	return n
}

func ackWaitOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return 30 * time.Second
	}
	return d
}

// backoffWithJitter computes exponential backoff with jitter based on the
// redelivery count, per spec §4.4.
func backoffWithJitter(attempt uint64) time.Duration {
	base := 500 * time.Millisecond
	maxDelay := 30 * time.Second
	exp := math.Pow(2, float64(attempt-1))
	delay := time.Duration(float64(base) * exp)
	if delay > maxDelay {
		delay = maxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(delay) / 2))
	return delay/2 + jitter
}

// Close closes the underlying connection without draining subscriptions.
func (c *Client) Close() {
	c.conn.Close()
}
