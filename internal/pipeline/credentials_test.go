package pipeline

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routecodex/routecodex/internal/oauth"
	"github.com/routecodex/routecodex/internal/router"
)

func TestEnvAPIKeyResolverReadsEnvVar(t *testing.T) {
	t.Setenv("ROUTECODEX_TEST_KEY", "sk-test-123")
	target := router.Target{Auth: router.AuthDescriptor{Kind: router.AuthAPIKey, APIKeyEnv: "ROUTECODEX_TEST_KEY"}}

	headers, err := EnvAPIKeyResolver{}.Resolve(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk-test-123", headers["Authorization"])
}

func TestEnvAPIKeyResolverMissingVarFails(t *testing.T) {
	os.Unsetenv("ROUTECODEX_TEST_MISSING_KEY")
	target := router.Target{Auth: router.AuthDescriptor{Kind: router.AuthAPIKey, APIKeyEnv: "ROUTECODEX_TEST_MISSING_KEY"}}

	_, err := EnvAPIKeyResolver{}.Resolve(context.Background(), target)
	require.Error(t, err)
}

func TestOAuthResolverFetchesTokenFromManager(t *testing.T) {
	dir := t.TempDir()
	store := oauth.NewStore(dir)
	require.NoError(t, store.Save(&oauth.TokenRecord{
		ProviderType: "anthropic",
		Alias:        "default",
		AccessToken:  "oauth-token-value",
		ExpiresAt:    time.Now().Add(time.Hour),
		State:        oauth.StateValid,
	}))
	manager := oauth.NewManager(store, map[string]oauth.Refresher{})

	resolver := OAuthResolver{Manager: manager}
	target := router.Target{Auth: router.AuthDescriptor{Kind: router.AuthOAuth, OAuthProvider: "anthropic", OAuthAlias: "default"}}

	headers, err := resolver.Resolve(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, "Bearer oauth-token-value", headers["Authorization"])
}

func TestOAuthResolverInvalidateForcesManagerRecheck(t *testing.T) {
	dir := t.TempDir()
	store := oauth.NewStore(dir)
	require.NoError(t, store.Save(&oauth.TokenRecord{
		ProviderType: "anthropic",
		Alias:        "default",
		AccessToken:  "first-token",
		ExpiresAt:    time.Now().Add(time.Hour),
		State:        oauth.StateValid,
	}))
	manager := oauth.NewManager(store, map[string]oauth.Refresher{})
	resolver := OAuthResolver{Manager: manager}
	target := router.Target{Auth: router.AuthDescriptor{Kind: router.AuthOAuth, OAuthProvider: "anthropic", OAuthAlias: "default"}}

	headers, err := resolver.Resolve(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, "Bearer first-token", headers["Authorization"])

	require.NoError(t, store.Save(&oauth.TokenRecord{
		ProviderType: "anthropic",
		Alias:        "default",
		AccessToken:  "second-token",
		ExpiresAt:    time.Now().Add(time.Hour),
		State:        oauth.StateValid,
	}))

	resolver.Invalidate(context.Background(), target)

	headers, err = resolver.Resolve(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, "Bearer second-token", headers["Authorization"], "Invalidate should force a re-read of the on-disk token")
}

func TestCompositeResolverInvalidateDispatchesByAuthKind(t *testing.T) {
	oauthResolver := &invalidatingResolver{}
	composite := CompositeResolver{APIKey: EnvAPIKeyResolver{}, OAuth: oauthResolver}

	oauthTarget := router.Target{Auth: router.AuthDescriptor{Kind: router.AuthOAuth}}
	composite.Invalidate(context.Background(), oauthTarget)
	assert.True(t, oauthResolver.invalidated)

	// EnvAPIKeyResolver has no Invalidate method; dispatching to it must be
	// a silent no-op rather than a panic.
	apiKeyTarget := router.Target{Auth: router.AuthDescriptor{Kind: router.AuthAPIKey}}
	composite.Invalidate(context.Background(), apiKeyTarget)
}

func TestCompositeResolverDispatchesByAuthKind(t *testing.T) {
	t.Setenv("ROUTECODEX_TEST_KEY", "sk-test-123")
	composite := CompositeResolver{APIKey: EnvAPIKeyResolver{}, OAuth: fakeResolver{headers: map[string]string{"Authorization": "Bearer from-oauth"}}}

	apiKeyTarget := router.Target{Auth: router.AuthDescriptor{Kind: router.AuthAPIKey, APIKeyEnv: "ROUTECODEX_TEST_KEY"}}
	headers, err := composite.Resolve(context.Background(), apiKeyTarget)
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk-test-123", headers["Authorization"])

	oauthTarget := router.Target{Auth: router.AuthDescriptor{Kind: router.AuthOAuth}}
	headers, err = composite.Resolve(context.Background(), oauthTarget)
	require.NoError(t, err)
	assert.Equal(t, "Bearer from-oauth", headers["Authorization"])
}
