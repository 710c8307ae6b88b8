// Package gatewayerr defines the structured error type used across the
// gateway instead of ad-hoc error strings, matching the taxonomy in
// the design: ClientError, ConfigError, Transient, Terminal, Internal,
// Duplicate.
package gatewayerr

import "fmt"

// Kind classifies an Error for routing/propagation decisions (ack, nak, DLQ, HTTP code).
type Kind string

const (
	KindClient   Kind = "client"
	KindConfig   Kind = "config"
	KindTransient Kind = "transient"
	KindTerminal Kind = "terminal"
	KindInternal Kind = "internal"
	KindDuplicate Kind = "duplicate"
)

// Error is the gateway's structured error, carrying a stable code,
// a human message, and retry hints for the egress worker and bus consumer.
type Error struct {
	Kind      Kind
	Code      string
	Message   string
	Retryable bool
	BackoffMS int64
	Details   map[string]any
	cause     error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an Error of the given kind and code.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Retryable: kind == KindTransient}
}

// Wrap builds an Error around an existing error, preserving it for %w-style unwrapping.
func Wrap(kind Kind, code string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: err.Error(), Retryable: kind == KindTransient, cause: err}
}

// WithBackoff attaches a retry-after hint (as would be parsed from a
// platform's Retry-After header) and returns the same error for chaining.
func (e *Error) WithBackoff(ms int64) *Error {
	e.BackoffMS = ms
	return e
}

// WithDetails attaches structured detail fields for logging/telemetry.
func (e *Error) WithDetails(d map[string]any) *Error {
	e.Details = d
	return e
}

// Retryable classifies err per §7: transport errors, HTTP 429/5xx are
// retryable; explicit client/config/terminal/internal errors are not.
func Retryable(err error) bool {
	var ge *Error
	if AsError(err, &ge) {
		return ge.Retryable
	}
	return false
}

// AsError is a small helper mirroring errors.As without importing errors
// in call sites that only need this one type.
func AsError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// ClientError constructs a 4xx-class non-retryable error.
func ClientError(code, message string) *Error { return New(KindClient, code, message) }

// ConfigError constructs a startup/fatal configuration error.
func ConfigError(code, message string) *Error { return New(KindConfig, code, message) }

// Transient constructs a retryable error, optionally with a backoff hint.
func Transient(code, message string, backoffMS int64) *Error {
	e := New(KindTransient, code, message)
	e.Retryable = true
	e.BackoffMS = backoffMS
	return e
}

// Terminal constructs a non-retryable error that should route to the DLQ.
func Terminal(code, message string) *Error { return New(KindTerminal, code, message) }

// Internal constructs an invariant-violation class error.
func Internal(code, message string) *Error { return New(KindInternal, code, message) }

// Duplicate marks an idempotency-guard short circuit.
func Duplicate(code, message string) *Error { return New(KindDuplicate, code, message) }
