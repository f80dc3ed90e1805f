package ratelimit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routecodex/routecodex/internal/canonical"
	"github.com/routecodex/routecodex/internal/routeerr"
	"github.com/routecodex/routecodex/internal/transport"
)

type stubTransport struct {
	err  error
	resp *canonical.ChatResponse
}

func (s *stubTransport) Send(context.Context, *canonical.ChatRequest, transport.SendOptions) (*canonical.ChatResponse, transport.StreamHandle, error) {
	return s.resp, nil, s.err
}

func (s *stubTransport) CheckHealth(context.Context, transport.SendOptions) error { return nil }

func req() *canonical.ChatRequest {
	return &canonical.ChatRequest{
		Messages: []*canonical.Message{{Role: canonical.RoleUser, Parts: []canonical.Part{canonical.TextPart{Text: "hi"}}}},
	}
}

func TestAdaptiveLimiterBacksOffOn429(t *testing.T) {
	l := NewAdaptiveLimiter(1000, 2000)
	before := l.CurrentTPM()

	stub := &stubTransport{err: routeerr.New(routeerr.KindUpstreamRejected, "transport", "rate limited").WithStatus(429)}
	mw := l.Middleware(stub)

	_, _, err := mw.Send(context.Background(), req(), transport.SendOptions{})
	require.Error(t, err)
	assert.Less(t, l.CurrentTPM(), before)
}

func TestAdaptiveLimiterRecoversTowardMaxOnSuccess(t *testing.T) {
	l := NewAdaptiveLimiter(2000, 4000)
	l.backoff() // drop below max first (burst stays well above the ~501-token estimate) so probe has room to move
	afterBackoff := l.CurrentTPM()

	stub := &stubTransport{resp: &canonical.ChatResponse{}}
	mw := l.Middleware(stub)

	_, _, err := mw.Send(context.Background(), req(), transport.SendOptions{})
	require.NoError(t, err)
	assert.Greater(t, l.CurrentTPM(), afterBackoff)
}

func TestAdaptiveLimiterNeverExceedsMaxTPM(t *testing.T) {
	// Exercise only the AIMD recovery arithmetic (not the token bucket's
	// real refill rate, which would make a 50-iteration loop run for
	// minutes): call probe() directly past maxTPM and check it clamps.
	l := NewAdaptiveLimiter(1000, 1100)
	for i := 0; i < 50; i++ {
		l.probe()
	}
	assert.LessOrEqual(t, l.CurrentTPM(), 1100.0)
}
