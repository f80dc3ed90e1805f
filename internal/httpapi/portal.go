package httpapi

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"time"

	"github.com/routecodex/routecodex/internal/oauth"
)

// deviceCodeFlowTimeout bounds how long a /token-auth/demo-initiated
// onboarding flow waits for the user to complete the portal before giving
// up (spec.md §4.4 "hard 10-minute timeout").
const deviceCodeFlowTimeout = 10 * time.Minute

// handleTokenAuthDemo serves the OAuth onboarding portal (spec.md §6:
// "GET /token-auth/demo?provider=&alias=&tokenFile=&oauthUrl=&sessionId=").
// It starts the provider's device-code flow synchronously (fast: no wait
// on the callback) so it can render the verification link immediately,
// then completes the flow in the background via oauth.Manager.Bootstrap.
func (s *Server) handleTokenAuthDemo(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	provider := q.Get("provider")
	alias := q.Get("alias")
	if alias == "" {
		alias = "default"
	}
	sessionID := q.Get("sessionId")

	if provider == "" {
		http.Error(w, "provider query parameter is required", http.StatusBadRequest)
		return
	}
	if s.OAuthManager == nil {
		http.Error(w, "no OAuth manager configured", http.StatusNotImplemented)
		return
	}
	refresher, ok := s.Refreshers[provider]
	if !ok {
		http.Error(w, fmt.Sprintf("no OAuth refresher registered for provider %q", provider), http.StatusNotFound)
		return
	}

	ref := oauth.Ref{ProviderType: provider, Alias: alias}
	flow, err := refresher.StartDeviceCode(r.Context(), ref)
	if err != nil {
		http.Error(w, "failed to start device-code flow: "+err.Error(), http.StatusBadGateway)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), deviceCodeFlowTimeout)
		defer cancel()
		if _, err := s.OAuthManager.Bootstrap(ctx, ref, refresher, flow); err != nil {
			s.Logger.Error(ctx, "token-auth/demo bootstrap failed", "provider", provider, "alias", alias, "error", err.Error())
		}
	}()

	portalURL := flow.VerificationURI
	if override := q.Get("oauthUrl"); override != "" {
		portalURL = override
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, portalPageTemplate, html.EscapeString(provider), html.EscapeString(alias),
		html.EscapeString(portalURL), html.EscapeString(portalURL), html.EscapeString(sessionID))
}

const portalPageTemplate = `<!DOCTYPE html>
<html>
<head><title>RouteCodex OAuth Portal</title></head>
<body>
<h1>Connect %s (%s)</h1>
<p>Continue in the window below to authorize:</p>
<p><a href="%s" target="_blank" rel="noopener">%s</a></p>
<p>Session: %s</p>
</body>
</html>
`
