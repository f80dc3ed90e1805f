// Package routeerr defines the gateway's error taxonomy. Every component
// that can fail in a caller-meaningful way returns a *routeerr.Error rather
// than a bare sentinel, so the orchestrator and the inbound HTTP layer can
// branch on Kind and relay a stable code/status to the client.
package routeerr

import (
	"errors"
	"fmt"
)

// Kind classifies a gateway failure into one of the stable categories from
// spec.md §7. Kind drives both the HTTP status relayed to the client and
// whether the orchestrator may fail over to the next candidate target.
type Kind string

const (
	// KindDecode marks a malformed inbound payload.
	KindDecode Kind = "decode_error"

	// KindUnsupported marks a validly shaped request that uses a capability
	// this gateway does not implement.
	KindUnsupported Kind = "unsupported_feature"

	// KindNoRoute marks that the virtual router found zero eligible
	// candidate targets for a request.
	KindNoRoute Kind = "no_route_available"

	// KindAuth marks credentials that are missing, invalid, or expired with
	// no further recovery possible for the current attempt.
	KindAuth Kind = "auth_failure"

	// KindUpstreamRejected marks a non-retryable 4xx returned by the
	// upstream provider.
	KindUpstreamRejected Kind = "upstream_rejected"

	// KindUpstreamUnreachable marks a network/timeout failure that
	// persisted after retries were exhausted.
	KindUpstreamUnreachable Kind = "upstream_unreachable"

	// KindStreamInterrupted marks an upstream stream that terminated
	// mid-response.
	KindStreamInterrupted Kind = "stream_interrupted"

	// KindCancelled marks client-initiated cancellation (connection closed,
	// deadline exceeded). Never retried.
	KindCancelled Kind = "cancelled"

	// KindInternal marks an unexpected failure with no more specific kind.
	KindInternal Kind = "internal"
)

// httpStatus is the default HTTP status associated with each Kind. Callers
// may override per-error via WithStatus (e.g. AuthFailure surfaced as 502
// when the failure originated upstream after a refresh attempt rather than
// on the inbound credential itself).
var httpStatus = map[Kind]int{
	KindDecode:              400,
	KindUnsupported:         422,
	KindNoRoute:             503,
	KindAuth:                401,
	KindUpstreamRejected:    0, // relayed verbatim from the upstream status
	KindUpstreamUnreachable: 504,
	KindStreamInterrupted:   502,
	KindCancelled:           499,
	KindInternal:            500,
}

// Error is the gateway's structured failure type. It carries enough
// information for the inbound HTTP layer to serialize a protocol-correct
// error envelope (OpenAI/Anthropic shapes) without inspecting error text.
type Error struct {
	kind      Kind
	component string
	code      string
	message   string
	status    int
	requestID string
	retryable bool
	cause     error
}

// New constructs an Error. component identifies the originating component
// (e.g. "router", "oauth", "transport.anthropic") and is always logged
// alongside the requestId per spec.md §7's propagation policy.
func New(kind Kind, component, message string) *Error {
	return &Error{
		kind:      kind,
		component: component,
		code:      string(kind),
		message:   message,
		status:    httpStatus[kind],
	}
}

// Wrap constructs an Error that preserves cause in its chain via Unwrap.
func Wrap(kind Kind, component, message string, cause error) *Error {
	e := New(kind, component, message)
	e.cause = cause
	return e
}

// WithStatus overrides the default HTTP status for this error (used by
// UpstreamRejected, which relays the upstream's actual status code).
func (e *Error) WithStatus(status int) *Error {
	e.status = status
	return e
}

// WithRequestID attaches the originating Request Context's requestId.
func (e *Error) WithRequestID(id string) *Error {
	e.requestID = id
	return e
}

// WithRetryable marks whether the orchestrator may retry the same target
// (as opposed to failing over to the next candidate or giving up).
func (e *Error) WithRetryable(retryable bool) *Error {
	e.retryable = retryable
	return e
}

// WithCode overrides the stable code string (defaults to string(Kind)).
func (e *Error) WithCode(code string) *Error {
	e.code = code
	return e
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s[%s] %s: %s", e.component, e.code, e.message, e.cause.Error())
	}
	return fmt.Sprintf("%s[%s] %s", e.component, e.code, e.message)
}

// Unwrap exposes the wrapped cause so errors.Is/errors.As work across the
// chain.
func (e *Error) Unwrap() error { return e.cause }

// Kind returns the error's taxonomy kind.
func (e *Error) Kind() Kind { return e.kind }

// Component returns the originating component identifier.
func (e *Error) Component() string { return e.component }

// Code returns the stable code string relayed to clients.
func (e *Error) Code() string { return e.code }

// Message returns the human-readable message.
func (e *Error) Message() string { return e.message }

// HTTPStatus returns the HTTP status to relay to the inbound client.
func (e *Error) HTTPStatus() int { return e.status }

// RequestID returns the originating request's id, when attached.
func (e *Error) RequestID() string { return e.requestID }

// Retryable reports whether the orchestrator may retry the same target.
func (e *Error) Retryable() bool { return e.retryable }

// As returns the first *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the Kind of err if it is (or wraps) a *Error, otherwise
// KindInternal.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.kind
	}
	return KindInternal
}
