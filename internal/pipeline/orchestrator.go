// Package pipeline implements the pipeline orchestrator (C6): the
// per-request algorithm that decodes to canonical form, routes to an
// ordered candidate list, drives credential resolution/compat
// transforms/transport invocation for each candidate in turn, and bridges
// the resulting response or stream back to the client's wire protocol
// (spec.md §4.6).
//
// Decoding the inbound request and encoding the final client-facing
// response are owned by whatever HTTP layer holds the codec.Registry for
// the chosen inbound protocol; the Orchestrator itself begins at routing
// (step 3) and ends at a canonical response or stream handle (step 5), so
// it has no dependency on which of the three inbound wire protocols a
// given request arrived on.
package pipeline

import (
	"context"

	"github.com/routecodex/routecodex/internal/canonical"
	"github.com/routecodex/routecodex/internal/compat"
	"github.com/routecodex/routecodex/internal/routeerr"
	"github.com/routecodex/routecodex/internal/router"
	"github.com/routecodex/routecodex/internal/telemetry"
	"github.com/routecodex/routecodex/internal/transport"
)

// defaultMaxAttempts bounds how many candidate targets one request will
// try before the orchestrator gives up with ServiceUnavailable (spec.md
// §4.6 step 5).
const defaultMaxAttempts = 3

// Result is what a successful Execute returns: exactly one of Response and
// Stream is non-nil, mirroring transport.Transport.Send's contract.
type Result struct {
	Decision router.Decision
	Profile  compat.Profile
	Response *canonical.ChatResponse
	Stream   transport.StreamHandle
}

// QuotaChecker gates a target on a per-key sliding-window request quota
// (spec.md §5). A quota hit is structurally distinct from a transport
// failure: Execute excludes the target for the rest of this request
// without calling Router.RecordResult, so it never counts toward the
// target's own consecutive-failure cooldown. *ratelimit.SlidingWindowQuota
// satisfies this interface; it is defined locally rather than imported so
// internal/pipeline does not need to depend on internal/ratelimit when no
// quota policy is configured.
type QuotaChecker interface {
	Allow(key string) bool
}

// Orchestrator composes C2-C5 into the per-request attempt loop.
type Orchestrator struct {
	Router     *router.Router
	Compat     *compat.Registry
	Transports map[router.ProtocolFamily]transport.Transport
	Auth       CredentialResolver

	// Quota, if set, is consulted before every attempt keyed on
	// target.Key() (provider, model and key id together; spec.md §5
	// "per-key sliding-window counters").
	Quota QuotaChecker

	// MaxAttempts bounds the number of candidate targets tried per
	// request; zero means defaultMaxAttempts.
	MaxAttempts int

	Logger  telemetry.Logger
	Metrics telemetry.Metrics
}

// NewOrchestrator constructs an Orchestrator with defaults filled in.
func NewOrchestrator(rt *router.Router, compatReg *compat.Registry, transports map[router.ProtocolFamily]transport.Transport, auth CredentialResolver, logger telemetry.Logger, metrics telemetry.Metrics) *Orchestrator {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Orchestrator{
		Router: rt, Compat: compatReg, Transports: transports, Auth: auth,
		MaxAttempts: defaultMaxAttempts, Logger: logger, Metrics: metrics,
	}
}

// Execute runs spec.md §4.6's routing/attempt loop for one already-decoded
// canonical request. rc carries the request's cancellation and bookkeeping
// fields; rc.Attempt is updated as candidates are tried.
func (o *Orchestrator) Execute(rc *canonical.RequestContext, req *canonical.ChatRequest) (*Result, error) {
	ctx := rc.Context()
	excluded := make(map[string]bool)
	maxAttempts := o.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		rc.Attempt = attempt + 1

		decision, err := o.Router.SelectNext(ctx, req, excluded)
		if err != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, err
		}
		target := decision.Target
		rc.RouteCategory = string(decision.Category)

		if o.Quota != nil && !o.Quota.Allow(target.Key()) {
			o.Logger.Warn(ctx, "target over quota, skipping without penalty",
				"requestId", rc.RequestID, "target", target.String())
			excluded[target.Key()] = true
			lastErr = routeerr.New(routeerr.KindNoRoute, component, "target over quota").WithCode("quota_exceeded")
			continue
		}

		result, err := o.attempt(ctx, rc, req, decision)
		if err == nil {
			o.Router.RecordResult(ctx, target, true)
			return result, nil
		}

		o.Router.RecordResult(ctx, target, false)
		if rcErr, ok := routeerr.As(err); ok && rcErr.Kind() == routeerr.KindCancelled {
			return nil, err
		}
		o.Logger.Warn(ctx, "attempt failed, advancing to next candidate",
			"requestId", rc.RequestID, "target", target.String(), "attempt", attempt+1, "error", err.Error())
		o.Metrics.IncCounter("pipeline.attempt.failure", 1, "target", target.ProviderID)
		excluded[target.Key()] = true
		lastErr = err
	}

	if lastErr == nil {
		lastErr = routeerr.New(routeerr.KindNoRoute, component, "no eligible target")
	}
	return nil, routeerr.Wrap(routeerr.KindNoRoute, component, "all candidate targets exhausted", lastErr).
		WithRequestID(rc.RequestID).WithCode("no_route_available")
}

// shouldForceAuthRefresh reports whether err is a 401/403 from an
// OAuth-backed target, per spec.md:108: such a failure earns one forced
// token refresh and retry before being surfaced as AuthFailure.
func (o *Orchestrator) shouldForceAuthRefresh(target router.Target, err error) bool {
	if target.Auth.Kind != router.AuthOAuth {
		return false
	}
	rcErr, ok := routeerr.As(err)
	return ok && rcErr.Kind() == routeerr.KindAuth
}

func (o *Orchestrator) attempt(ctx context.Context, rc *canonical.RequestContext, req *canonical.ChatRequest, decision router.Decision) (*Result, error) {
	target := decision.Target

	tr, ok := o.Transports[target.Protocol]
	if !ok {
		return nil, routeerr.New(routeerr.KindInternal, component,
			"no transport registered for protocol "+string(target.Protocol)).WithRequestID(rc.RequestID)
	}

	headers, err := o.Auth.Resolve(ctx, target)
	if err != nil {
		return nil, err
	}

	profile := o.Compat.For(target)
	outbound := compat.ApplyRequest(req, profile)

	opts := transport.SendOptions{
		BaseURL:       target.BaseURL,
		ModelID:       target.ModelID,
		AuthHeaders:   headers,
		ExtraHeaders:  outbound.Headers,
		BodyOverrides: outbound.Body,
	}

	o.Logger.Info(ctx, "attempting target", "requestId", rc.RequestID, "target", target.String(), "attempt", rc.Attempt)
	resp, stream, err := tr.Send(ctx, outbound.Request, opts)
	if err != nil {
		if !o.shouldForceAuthRefresh(target, err) {
			return nil, err
		}
		o.Logger.Warn(ctx, "oauth target rejected with 401/403, forcing refresh and retrying once",
			"requestId", rc.RequestID, "target", target.String())
		if inv, ok := o.Auth.(CredentialInvalidator); ok {
			inv.Invalidate(ctx, target)
		}
		headers, rerr := o.Auth.Resolve(ctx, target)
		if rerr != nil {
			return nil, rerr
		}
		opts.AuthHeaders = headers
		resp, stream, err = tr.Send(ctx, outbound.Request, opts)
		if err != nil {
			return nil, err
		}
	}

	if resp != nil {
		resp = compat.ApplyResponse(resp, profile)
	}
	return &Result{Decision: decision, Profile: profile, Response: resp, Stream: stream}, nil
}
