// Package ratelimit implements the §5 concurrency/resource-model rate and
// quota policies that sit in front of a C2 transport: an AIMD adaptive
// token-bucket limiter tracking tokens-per-minute budget per target, and a
// per-key sliding-window request quota.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/routecodex/routecodex/internal/canonical"
	"github.com/routecodex/routecodex/internal/routeerr"
	"github.com/routecodex/routecodex/internal/transport"
)

// AdaptiveLimiter applies an AIMD-style adaptive token bucket in front of a
// transport.Transport. It estimates the token cost of each request, blocks
// callers until capacity is available, and halves its effective
// tokens-per-minute budget whenever the upstream signals a rate limit
// (HTTP 429), recovering it gradually on subsequent successes.
//
// Middleware wraps one transport.Transport, and every Send through that
// wrapper shares one budget. Orchestrator.Transports holds one Transport
// per protocol family, so a wrapped transport installed there is shared by
// all targets of that family.
type AdaptiveLimiter struct {
	mu sync.Mutex

	limiter *rate.Limiter

	currentTPM float64
	minTPM     float64
	maxTPM     float64

	recoveryRate float64
}

// NewAdaptiveLimiter constructs an AdaptiveLimiter with an initial
// tokens-per-minute budget and an upper bound. maxTPM is clamped to
// initialTPM when zero or smaller.
func NewAdaptiveLimiter(initialTPM, maxTPM float64) *AdaptiveLimiter {
	if initialTPM <= 0 {
		initialTPM = 60000
	}
	if maxTPM <= 0 || maxTPM < initialTPM {
		maxTPM = initialTPM
	}
	minTPM := initialTPM * 0.1
	if minTPM < 1 {
		minTPM = 1
	}
	recoveryRate := initialTPM * 0.05
	if recoveryRate < 1 {
		recoveryRate = 1
	}
	return &AdaptiveLimiter{
		limiter:      rate.NewLimiter(rate.Limit(initialTPM/60.0), int(initialTPM)),
		currentTPM:   initialTPM,
		minTPM:       minTPM,
		maxTPM:       maxTPM,
		recoveryRate: recoveryRate,
	}
}

// Middleware wraps next so every Send call waits on the adaptive budget
// first and feeds the outcome back into it.
func (l *AdaptiveLimiter) Middleware(next transport.Transport) transport.Transport {
	if next == nil {
		return nil
	}
	return &limitedTransport{next: next, limiter: l}
}

type limitedTransport struct {
	next    transport.Transport
	limiter *AdaptiveLimiter
}

func (t *limitedTransport) Send(ctx context.Context, req *canonical.ChatRequest, opts transport.SendOptions) (*canonical.ChatResponse, transport.StreamHandle, error) {
	if err := t.limiter.wait(ctx, req); err != nil {
		return nil, nil, routeerr.Wrap(routeerr.KindCancelled, "ratelimit", "wait for token budget", err)
	}
	resp, stream, err := t.next.Send(ctx, req, opts)
	t.limiter.observe(err)
	return resp, stream, err
}

func (t *limitedTransport) CheckHealth(ctx context.Context, opts transport.SendOptions) error {
	return t.next.CheckHealth(ctx, opts)
}

func (l *AdaptiveLimiter) wait(ctx context.Context, req *canonical.ChatRequest) error {
	return l.limiter.WaitN(ctx, estimateTokens(req))
}

// observe adjusts the budget based on the outcome of a just-completed call:
// a 429 halves it (AIMD backoff), any other outcome nudges it back toward
// maxTPM (AIMD recovery).
func (l *AdaptiveLimiter) observe(err error) {
	if rcErr, ok := routeerr.As(err); ok && rcErr.HTTPStatus() == 429 {
		l.backoff()
		return
	}
	l.probe()
}

func (l *AdaptiveLimiter) backoff() {
	l.mu.Lock()
	defer l.mu.Unlock()
	newTPM := l.currentTPM * 0.5
	if newTPM < l.minTPM {
		newTPM = l.minTPM
	}
	if newTPM == l.currentTPM {
		return
	}
	l.currentTPM = newTPM
	l.limiter.SetLimit(rate.Limit(newTPM / 60.0))
	l.limiter.SetBurst(int(newTPM))
}

func (l *AdaptiveLimiter) probe() {
	l.mu.Lock()
	defer l.mu.Unlock()
	newTPM := l.currentTPM + l.recoveryRate
	if newTPM > l.maxTPM {
		newTPM = l.maxTPM
	}
	if newTPM == l.currentTPM {
		return
	}
	l.currentTPM = newTPM
	l.limiter.SetLimit(rate.Limit(newTPM / 60.0))
	l.limiter.SetBurst(int(newTPM))
}

// CurrentTPM reports the limiter's current effective budget, for
// diagnostics endpoints (spec.md §6 GET /status).
func (l *AdaptiveLimiter) CurrentTPM() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentTPM
}

// estimateTokens computes a cheap heuristic for the token cost of req:
// character counts across text and string tool-result content, converted
// at a fixed ratio, plus a fixed buffer for system-prompt/provider
// framing overhead.
func estimateTokens(req *canonical.ChatRequest) int {
	charCount := 0
	for _, m := range req.Messages {
		for _, p := range m.Parts {
			switch v := p.(type) {
			case canonical.TextPart:
				charCount += len(v.Text)
			case canonical.ToolResultPart:
				if s, ok := v.Content.(string); ok {
					charCount += len(s)
				}
			}
		}
	}
	if charCount <= 0 {
		return 500
	}
	tokens := charCount / 3
	if tokens < 1 {
		tokens = 1
	}
	return tokens + 500
}
