package transport

import (
	"context"
	"math/rand"
	"time"

	"github.com/routecodex/routecodex/internal/routeerr"
)

// RetryPolicy configures the §4.2 retry/backoff contract.
type RetryPolicy struct {
	MaxRetries int           // default 3
	BaseDelay  time.Duration // default 500ms
	Factor     float64       // default 2
	JitterFrac float64       // default 0.2 (±20%)
}

// DefaultRetryPolicy is spec.md §4.2's stated default.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries: 3,
	BaseDelay:  500 * time.Millisecond,
	Factor:     2,
	JitterFrac: 0.2,
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxRetries == 0 {
		p.MaxRetries = DefaultRetryPolicy.MaxRetries
	}
	if p.BaseDelay == 0 {
		p.BaseDelay = DefaultRetryPolicy.BaseDelay
	}
	if p.Factor == 0 {
		p.Factor = DefaultRetryPolicy.Factor
	}
	if p.JitterFrac == 0 {
		p.JitterFrac = DefaultRetryPolicy.JitterFrac
	}
	return p
}

// delay returns the backoff duration before attempt n (0-indexed, n=0 is
// the delay before the first retry), jittered by ±JitterFrac.
func (p RetryPolicy) delay(n int) time.Duration {
	base := float64(p.BaseDelay) * pow(p.Factor, n)
	jitter := 1 + (rand.Float64()*2-1)*p.JitterFrac
	return time.Duration(base * jitter)
}

func pow(base float64, exp int) float64 {
	out := 1.0
	for i := 0; i < exp; i++ {
		out *= base
	}
	return out
}

// Classification is a transport-agnostic verdict on one call attempt.
type Classification struct {
	Retryable bool
	Kind      routeerr.Kind
	Status    int // HTTP status, 0 if not applicable (e.g. network error)
}

// ClassifyStatus implements the §4.2 status-code table: 429/5xx retryable,
// 401/403 surfaced as auth failure (the caller decides whether a refresh
// retry applies), other 4xx fatal.
func ClassifyStatus(status int) Classification {
	switch {
	case status == 429 || status >= 500:
		return Classification{Retryable: true, Kind: routeerr.KindUpstreamUnreachable, Status: status}
	case status == 401 || status == 403:
		return Classification{Retryable: false, Kind: routeerr.KindAuth, Status: status}
	case status >= 400:
		return Classification{Retryable: false, Kind: routeerr.KindUpstreamRejected, Status: status}
	default:
		return Classification{Retryable: false, Status: status}
	}
}

// ClassifyNetworkError classifies a transport-level failure (connect
// refused, DNS, TLS, timeout) as retryable per §4.2 "network/connect
// errors and timeouts are retryable".
func ClassifyNetworkError(err error) Classification {
	if err == nil {
		return Classification{}
	}
	return Classification{Retryable: true, Kind: routeerr.KindUpstreamUnreachable}
}

// Do runs attempt up to policy.MaxRetries+1 times total, honoring ctx
// cancellation and sleeping policy.delay(n) between retries. attempt
// returns a Classification alongside its error so Do can decide whether to
// retry; a nil error ends the loop successfully. component names the
// calling transport for routeerr.Wrap.
func Do(ctx context.Context, policy RetryPolicy, component string, attempt func(ctx context.Context) (Classification, error)) error {
	policy = policy.withDefaults()

	var lastErr error
	var lastClass Classification
	for n := 0; n <= policy.MaxRetries; n++ {
		class, err := attempt(ctx)
		if err == nil {
			return nil
		}
		lastErr, lastClass = err, class
		if !class.Retryable || n == policy.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return routeerr.Wrap(routeerr.KindCancelled, component, "cancelled during retry backoff", ctx.Err())
		case <-time.After(policy.delay(n)):
		}
	}
	if lastErr == nil {
		return nil
	}
	if rcErr, ok := lastErr.(*routeerr.Error); ok {
		return rcErr
	}
	kind := lastClass.Kind
	if kind == "" {
		kind = routeerr.KindUpstreamUnreachable
	}
	e := routeerr.Wrap(kind, component, "upstream call failed after retries", lastErr).WithRetryable(false)
	if lastClass.Status != 0 {
		e = e.WithStatus(lastClass.Status)
	}
	return e
}
