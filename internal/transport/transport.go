// Package transport implements the provider transport layer (C2): sending a
// canonical request to one concrete upstream target and returning a
// canonical response, a streaming handle, or a classified error
// (spec.md §4.2). One Transport implementation exists per provider family;
// internal/compat supplies the header/body overrides a Transport must
// inject before the call leaves the process.
package transport

import (
	"context"
	"time"

	"github.com/routecodex/routecodex/internal/canonical"
)

// SendOptions carries everything a Transport needs beyond the canonical
// request itself: where to send it, how to authenticate, and the
// compatibility-layer overrides computed by internal/compat.ApplyRequest.
type SendOptions struct {
	BaseURL string
	ModelID string

	// AuthHeaders carries the exact header set prescribed by the target's
	// auth descriptor (bearer API key, bearer OAuth token, or a
	// provider-specific composite set) per spec.md §4.2.
	AuthHeaders map[string]string

	// ExtraHeaders are internal/compat's Profile.HeaderOverrides, merged on
	// top of AuthHeaders.
	ExtraHeaders map[string]string

	// BodyOverrides are internal/compat's Outbound.Body: top-level wire
	// fields no canonical field models (e.g. Gemini/Antigravity's
	// requestType: "agent").
	BodyOverrides map[string]any

	// Timeout is the per-call deadline; zero means the family default
	// (60s per spec.md §4.2).
	Timeout time.Duration
}

// StreamHandle is returned by Send when req.Stream is true. Next blocks
// until the next Chunk is available, returns (nil, io.EOF) at the natural
// end of the stream, or a classified error on mid-stream failure (spec.md
// §4.2 "terminate the stream with a synthetic error event").
type StreamHandle interface {
	Next(ctx context.Context) (*canonical.Chunk, error)
	Close() error
}

// Transport is implemented once per provider family (spec.md §4.2).
type Transport interface {
	// Send issues req against the target described by opts. Exactly one of
	// the non-error return values is non-nil: resp for req.Stream == false,
	// stream for req.Stream == true.
	Send(ctx context.Context, req *canonical.ChatRequest, opts SendOptions) (resp *canonical.ChatResponse, stream StreamHandle, err error)

	// CheckHealth reports whether the family's upstream is currently
	// reachable, independent of any specific request.
	CheckHealth(ctx context.Context, opts SendOptions) error
}

// DefaultTimeout is the per-call timeout spec.md §4.2 names when
// SendOptions.Timeout is zero.
const DefaultTimeout = 60 * time.Second

// EffectiveTimeout returns opts.Timeout or DefaultTimeout.
func (o SendOptions) EffectiveTimeout() time.Duration {
	if o.Timeout > 0 {
		return o.Timeout
	}
	return DefaultTimeout
}

// MergedHeaders returns AuthHeaders with ExtraHeaders layered on top,
// ExtraHeaders winning on key collision (a profile-declared override is
// more specific than the generic auth header set).
func (o SendOptions) MergedHeaders() map[string]string {
	out := make(map[string]string, len(o.AuthHeaders)+len(o.ExtraHeaders))
	for k, v := range o.AuthHeaders {
		out[k] = v
	}
	for k, v := range o.ExtraHeaders {
		out[k] = v
	}
	return out
}
