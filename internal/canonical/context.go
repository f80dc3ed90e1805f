package canonical

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RequestContext is the per-request envelope threaded through the pipeline
// for logging and cancellation (spec.md §3). The orchestrator exclusively
// owns a RequestContext for the request's duration; it is never shared
// across requests.
type RequestContext struct {
	RequestID       string
	InboundProtocol WireProtocol
	StartTime       time.Time
	RouteCategory   string
	Attempt         int

	ctx    context.Context
	cancel context.CancelFunc
}

// NewRequestContext derives a cancellable RequestContext from parent.
func NewRequestContext(parent context.Context, inbound WireProtocol) *RequestContext {
	ctx, cancel := context.WithCancel(parent)
	return &RequestContext{
		RequestID:       uuid.NewString(),
		InboundProtocol: inbound,
		StartTime:       time.Now(),
		ctx:             ctx,
		cancel:          cancel,
	}
}

// Context returns the cancellation-bearing context.Context for this request.
func (r *RequestContext) Context() context.Context { return r.ctx }

// Cancel fires the request's cancellation signal. Per spec.md §4.6, this
// aborts the outbound HTTP call and terminates any active stream with a
// client-visible cancellation event; already-sent bytes are not rolled
// back.
func (r *RequestContext) Cancel() { r.cancel() }

// Done returns the context's Done channel for select-based cancellation
// checks in the streaming bridge.
func (r *RequestContext) Done() <-chan struct{} { return r.ctx.Done() }

// Elapsed returns the time since the request started.
func (r *RequestContext) Elapsed() time.Duration { return time.Since(r.StartTime) }
