package oauth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// readinessPoll/readinessAttempts implement the "probe the callback port
// is actually listening before prompting the user" check (spec.md §4.4:
// "readiness probe via HTTP GET poll ≤15×200ms=3s before prompting").
const (
	readinessPoll     = 200 * time.Millisecond
	readinessAttempts = 15
	callbackPort      = 8080
	callbackPath      = "/oauth2callback"
)

// NewCallbackState generates the opaque state value a device-code flow
// embeds in its portal URL and expects echoed back on the local callback.
func NewCallbackState() string {
	return uuid.NewString()
}

// callbackResult is what the local listener hands back once it observes
// a matching state+code on callbackPath.
type callbackResult struct {
	code string
}

// awaitDeviceCodeCallback starts a local HTTP listener on callbackPort,
// waits for readiness, and blocks until either a matching callback
// arrives, ctx is cancelled (including its deadline), or the listener
// fails. The listener is shut down whenever this function returns. On
// success it returns the authorization code for the caller to exchange via
// Refresher.ExchangeDeviceCode.
func awaitDeviceCodeCallback(ctx context.Context, flow DeviceCodeFlow) (string, error) {
	resultCh := make(chan callbackResult, 1)

	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("state") != flow.CallbackState {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}
		code := q.Get("code")
		select {
		case resultCh <- callbackResult{code: code}:
			fmt.Fprint(w, "authentication complete, you may close this window")
		default:
			fmt.Fprint(w, "already completed")
		}
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", callbackPort), Handler: mux}
	listenErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			listenErrCh <- err
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := waitForReadiness(ctx); err != nil {
		return "", err
	}

	select {
	case res := <-resultCh:
		return res.code, nil
	case err := <-listenErrCh:
		return "", fmt.Errorf("callback listener failed: %w", err)
	case <-ctx.Done():
		return "", fmt.Errorf("device-code flow timed out waiting for callback: %w", ctx.Err())
	}
}

// waitForReadiness polls the callback endpoint until it responds or the
// poll budget (readinessAttempts × readinessPoll) is exhausted.
func waitForReadiness(ctx context.Context) error {
	url := fmt.Sprintf("http://127.0.0.1:%d%s", callbackPort, callbackPath)
	client := &http.Client{Timeout: readinessPoll}
	for i := 0; i < readinessAttempts; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err == nil {
			resp, err := client.Do(req)
			if err == nil {
				resp.Body.Close()
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(readinessPoll):
		}
	}
	return fmt.Errorf("callback listener on port %d did not become ready", callbackPort)
}
