package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routecodex/routecodex/internal/canonical"
	"github.com/routecodex/routecodex/internal/compat"
	"github.com/routecodex/routecodex/internal/routeerr"
	"github.com/routecodex/routecodex/internal/router"
	"github.com/routecodex/routecodex/internal/transport"
)

type fakeTransport struct {
	resp     *canonical.ChatResponse
	stream   transport.StreamHandle
	err      error
	lastReq  *canonical.ChatRequest
	lastOpts transport.SendOptions
}

func (f *fakeTransport) Send(_ context.Context, req *canonical.ChatRequest, opts transport.SendOptions) (*canonical.ChatResponse, transport.StreamHandle, error) {
	f.lastReq = req
	f.lastOpts = opts
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.resp, f.stream, nil
}

func (f *fakeTransport) CheckHealth(context.Context, transport.SendOptions) error { return nil }

type fakeResolver struct{ headers map[string]string }

func (f fakeResolver) Resolve(context.Context, router.Target) (map[string]string, error) {
	return f.headers, nil
}

func textReq() *canonical.ChatRequest {
	return &canonical.ChatRequest{
		Messages: []*canonical.Message{{Role: canonical.RoleUser, Parts: []canonical.Part{canonical.TextPart{Text: "hello there"}}}},
	}
}

func twoCandidateRouterConfig() (router.Config, map[string]router.ProviderConfig) {
	providers := map[string]router.ProviderConfig{
		"primary-provider": {ID: "primary-provider", BaseURL: "https://primary.example", Protocol: router.ProtocolOpenAICompat, DefaultMaxContextTokens: 128000},
		"backup-provider":  {ID: "backup-provider", BaseURL: "https://backup.example", Protocol: router.ProtocolOpenAICompat, DefaultMaxContextTokens: 128000},
	}
	cfg := router.Config{
		Categories: map[router.Category]router.CategoryConfig{
			router.CategoryDefault: {Pools: []router.Pool{
				{ID: "primary", Priority: 10, Targets: []router.Target{
					{ProviderID: "primary-provider", ModelID: "m1", MaxContextTokens: 128000, Protocol: router.ProtocolOpenAICompat},
				}},
				{ID: "backup", Priority: 0, Backup: true, Targets: []router.Target{
					{ProviderID: "backup-provider", ModelID: "m1", MaxContextTokens: 128000, Protocol: router.ProtocolOpenAICompat},
				}},
			}},
		},
	}
	return cfg, providers
}

func TestExecuteSucceedsOnFirstCandidate(t *testing.T) {
	cfg, providers := twoCandidateRouterConfig()
	rt := router.New(cfg, providers, nil, nil)
	ft := &fakeTransport{resp: &canonical.ChatResponse{StopReason: canonical.FinishStop}}

	o := NewOrchestrator(rt, compat.NewRegistry(nil),
		map[router.ProtocolFamily]transport.Transport{router.ProtocolOpenAICompat: ft},
		fakeResolver{headers: map[string]string{"Authorization": "Bearer k"}}, nil, nil)

	rc := canonical.NewRequestContext(context.Background(), canonical.ProtocolOpenAIChat)
	result, err := o.Execute(rc, textReq())
	require.NoError(t, err)
	require.NotNil(t, result.Response)
	assert.Equal(t, "primary-provider", result.Decision.Target.ProviderID)
	assert.Equal(t, "Bearer k", ft.lastOpts.AuthHeaders["Authorization"])
}

func TestExecuteFailsOverToBackupCandidate(t *testing.T) {
	cfg, providers := twoCandidateRouterConfig()
	rt := router.New(cfg, providers, nil, nil)

	primary := &fakeTransport{err: routeerr.New(routeerr.KindUpstreamUnreachable, "transport", "boom").WithRetryable(false)}
	backup := &fakeTransport{resp: &canonical.ChatResponse{StopReason: canonical.FinishStop}}

	// Both targets share protocol family openai_compat, but each pool's
	// target belongs to a distinct provider; route to the right fake via
	// a small dispatching transport keyed on BaseURL.
	dispatch := &dispatchingTransport{byBaseURL: map[string]transport.Transport{
		"https://primary.example": primary,
		"https://backup.example":  backup,
	}}

	o := NewOrchestrator(rt, compat.NewRegistry(nil),
		map[router.ProtocolFamily]transport.Transport{router.ProtocolOpenAICompat: dispatch},
		fakeResolver{headers: map[string]string{}}, nil, nil)

	rc := canonical.NewRequestContext(context.Background(), canonical.ProtocolOpenAIChat)
	result, err := o.Execute(rc, textReq())
	require.NoError(t, err)
	assert.Equal(t, "backup-provider", result.Decision.Target.ProviderID)
}

func TestExecuteExhaustsAllCandidates(t *testing.T) {
	cfg, providers := twoCandidateRouterConfig()
	rt := router.New(cfg, providers, nil, nil)
	failing := &fakeTransport{err: routeerr.New(routeerr.KindUpstreamUnreachable, "transport", "boom")}

	o := NewOrchestrator(rt, compat.NewRegistry(nil),
		map[router.ProtocolFamily]transport.Transport{router.ProtocolOpenAICompat: failing},
		fakeResolver{headers: map[string]string{}}, nil, nil)
	o.MaxAttempts = 2

	rc := canonical.NewRequestContext(context.Background(), canonical.ProtocolOpenAIChat)
	_, err := o.Execute(rc, textReq())
	require.Error(t, err)
	assert.Equal(t, routeerr.KindNoRoute, routeerr.KindOf(err))
}

type fakeQuota struct{ denyKeys map[string]bool }

func (q fakeQuota) Allow(key string) bool { return !q.denyKeys[key] }

func TestExecuteSkipsTargetOverQuotaWithoutPenalizingRouter(t *testing.T) {
	cfg, providers := twoCandidateRouterConfig()
	rt := router.New(cfg, providers, nil, nil)

	// Both candidates would succeed if attempted; quota alone must decide
	// that the primary is skipped in favor of the backup.
	primary := &fakeTransport{resp: &canonical.ChatResponse{StopReason: canonical.FinishStop}}
	backup := &fakeTransport{resp: &canonical.ChatResponse{StopReason: canonical.FinishStop}}
	dispatch := &dispatchingTransport{byBaseURL: map[string]transport.Transport{
		"https://primary.example": primary,
		"https://backup.example":  backup,
	}}

	o := NewOrchestrator(rt, compat.NewRegistry(nil),
		map[router.ProtocolFamily]transport.Transport{router.ProtocolOpenAICompat: dispatch},
		fakeResolver{headers: map[string]string{}}, nil, nil)

	primaryTarget := cfg.Categories[router.CategoryDefault].Pools[0].Targets[0]
	o.Quota = fakeQuota{denyKeys: map[string]bool{primaryTarget.Key(): true}}

	rc := canonical.NewRequestContext(context.Background(), canonical.ProtocolOpenAIChat)
	result, err := o.Execute(rc, textReq())
	require.NoError(t, err)
	assert.Equal(t, "backup-provider", result.Decision.Target.ProviderID)
	assert.Nil(t, primary.lastReq, "quota-denied target must never reach the transport")
}

// invalidatingResolver counts Invalidate calls and returns a distinct
// header set after invalidation, so a test can prove the orchestrator
// actually re-resolved credentials before retrying.
type invalidatingResolver struct {
	invalidated bool
}

func (r *invalidatingResolver) Resolve(context.Context, router.Target) (map[string]string, error) {
	if r.invalidated {
		return map[string]string{"Authorization": "Bearer refreshed"}, nil
	}
	return map[string]string{"Authorization": "Bearer stale"}, nil
}

func (r *invalidatingResolver) Invalidate(context.Context, router.Target) {
	r.invalidated = true
}

func TestAttemptForcesRefreshAndRetriesOnceOnOAuth401(t *testing.T) {
	providers := map[string]router.ProviderConfig{
		"oauth-provider": {ID: "oauth-provider", BaseURL: "https://oauth.example", Protocol: router.ProtocolOpenAICompat, DefaultMaxContextTokens: 128000},
	}
	cfg := router.Config{
		Categories: map[router.Category]router.CategoryConfig{
			router.CategoryDefault: {Pools: []router.Pool{
				{ID: "primary", Priority: 10, Targets: []router.Target{
					{
						ProviderID: "oauth-provider", ModelID: "m1", MaxContextTokens: 128000,
						Protocol: router.ProtocolOpenAICompat,
						Auth:     router.AuthDescriptor{Kind: router.AuthOAuth, OAuthProvider: "glm", OAuthAlias: "default"},
					},
				}},
			}},
		},
	}
	rt := router.New(cfg, providers, nil, nil)

	calls := 0
	tr := &authRetryTransport{
		send: func(opts transport.SendOptions) (*canonical.ChatResponse, transport.StreamHandle, error) {
			calls++
			if calls == 1 {
				return nil, nil, routeerr.New(routeerr.KindAuth, "transport", "unauthorized").WithStatus(401)
			}
			if opts.AuthHeaders["Authorization"] != "Bearer refreshed" {
				t.Fatalf("retry did not use refreshed credentials, got %q", opts.AuthHeaders["Authorization"])
			}
			return &canonical.ChatResponse{StopReason: canonical.FinishStop}, nil, nil
		},
	}

	resolver := &invalidatingResolver{}
	o := NewOrchestrator(rt, compat.NewRegistry(nil),
		map[router.ProtocolFamily]transport.Transport{router.ProtocolOpenAICompat: tr},
		resolver, nil, nil)

	rc := canonical.NewRequestContext(context.Background(), canonical.ProtocolOpenAIChat)
	result, err := o.Execute(rc, textReq())
	require.NoError(t, err)
	require.NotNil(t, result.Response)
	assert.Equal(t, 2, calls, "expected exactly one forced retry after the 401")
	assert.True(t, resolver.invalidated)
}

// authRetryTransport lets a test control Send's return per call via a
// closure instead of a canned response/error pair.
type authRetryTransport struct {
	send func(opts transport.SendOptions) (*canonical.ChatResponse, transport.StreamHandle, error)
}

func (a *authRetryTransport) Send(_ context.Context, _ *canonical.ChatRequest, opts transport.SendOptions) (*canonical.ChatResponse, transport.StreamHandle, error) {
	return a.send(opts)
}

func (a *authRetryTransport) CheckHealth(context.Context, transport.SendOptions) error { return nil }

// dispatchingTransport routes Send calls to a sub-transport keyed by
// opts.BaseURL, letting one test exercise two distinct target outcomes
// without a second ProtocolFamily.
type dispatchingTransport struct {
	byBaseURL map[string]transport.Transport
}

func (d *dispatchingTransport) Send(ctx context.Context, req *canonical.ChatRequest, opts transport.SendOptions) (*canonical.ChatResponse, transport.StreamHandle, error) {
	return d.byBaseURL[opts.BaseURL].Send(ctx, req, opts)
}

func (d *dispatchingTransport) CheckHealth(ctx context.Context, opts transport.SendOptions) error {
	return d.byBaseURL[opts.BaseURL].CheckHealth(ctx, opts)
}
