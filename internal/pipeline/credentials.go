package pipeline

import (
	"context"
	"os"

	"github.com/routecodex/routecodex/internal/oauth"
	"github.com/routecodex/routecodex/internal/routeerr"
	"github.com/routecodex/routecodex/internal/router"
)

const component = "pipeline"

// CredentialResolver resolves the header set a C2 transport must attach to
// authenticate against target, per the target's AuthDescriptor (spec.md
// §4.6 step 4a). Resolution may suspend on an OAuth refresh or device-code
// flow; callers must pass a context they are willing to have block on that.
type CredentialResolver interface {
	Resolve(ctx context.Context, target router.Target) (map[string]string, error)
}

// EnvAPIKeyResolver resolves router.AuthAPIKey targets by reading the
// environment variable named in the target's AuthDescriptor (spec.md §6
// "provider-specific API key variables").
type EnvAPIKeyResolver struct{}

func (EnvAPIKeyResolver) Resolve(_ context.Context, target router.Target) (map[string]string, error) {
	v := os.Getenv(target.Auth.APIKeyEnv)
	if v == "" {
		return nil, routeerr.New(routeerr.KindAuth, component,
			"environment variable "+target.Auth.APIKeyEnv+" is unset").WithCode("missing_api_key")
	}
	return map[string]string{"Authorization": "Bearer " + v}, nil
}

// OAuthResolver resolves router.AuthOAuth targets via an oauth.Manager,
// keyed by the target's OAuthProvider/OAuthAlias (spec.md §4.4).
type OAuthResolver struct {
	Manager *oauth.Manager
}

func (r OAuthResolver) Resolve(ctx context.Context, target router.Target) (map[string]string, error) {
	tok, err := r.Manager.GetToken(ctx, oauth.Ref{
		ProviderType: target.Auth.OAuthProvider,
		Alias:        target.Auth.OAuthAlias,
	})
	if err != nil {
		return nil, err
	}
	return map[string]string{"Authorization": "Bearer " + tok.Value}, nil
}

// Invalidate forces the next Resolve for target's OAuth ref to re-check the
// token on disk and refresh if needed (spec.md:108's forced-refresh-then-
// retry on a 401/403 from an OAuth-backed target).
func (r OAuthResolver) Invalidate(_ context.Context, target router.Target) {
	r.Manager.Invalidate(oauth.Ref{
		ProviderType: target.Auth.OAuthProvider,
		Alias:        target.Auth.OAuthAlias,
	})
}

// CompositeResolver dispatches to the resolver registered for a Target's
// AuthDescriptor.Kind.
type CompositeResolver struct {
	APIKey CredentialResolver
	OAuth  CredentialResolver
}

func (r CompositeResolver) Resolve(ctx context.Context, target router.Target) (map[string]string, error) {
	switch target.Auth.Kind {
	case router.AuthOAuth:
		return r.OAuth.Resolve(ctx, target)
	default:
		return r.APIKey.Resolve(ctx, target)
	}
}

// Invalidate dispatches to the registered resolver's Invalidate method, if
// it has one, for target's AuthDescriptor.Kind. Resolvers that cannot force
// a re-resolution (a static API key) are a no-op.
func (r CompositeResolver) Invalidate(ctx context.Context, target router.Target) {
	var resolver CredentialResolver
	switch target.Auth.Kind {
	case router.AuthOAuth:
		resolver = r.OAuth
	default:
		resolver = r.APIKey
	}
	if inv, ok := resolver.(CredentialInvalidator); ok {
		inv.Invalidate(ctx, target)
	}
}

// CredentialInvalidator is implemented by resolvers that can force a
// credential to be re-resolved on the next Resolve call, used to back a
// forced-refresh-then-retry after an upstream 401/403 (spec.md:108).
type CredentialInvalidator interface {
	Invalidate(ctx context.Context, target router.Target)
}
