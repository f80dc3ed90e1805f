package oauth

import (
	"context"
	"sync"
	"time"

	"github.com/routecodex/routecodex/internal/routeerr"
)

const component = "oauth"

// Refresher performs the provider-specific half of the lifecycle: turning
// a refresh token into a fresh access token, or starting a device-code
// flow when no refresh token is usable. Implementations live alongside
// each provider's transport.
type Refresher interface {
	// Refresh exchanges rec's refresh token for a new access token.
	Refresh(ctx context.Context, rec TokenRecord) (TokenRecord, error)
	// StartDeviceCode begins an interactive device-code flow for ref,
	// returning the portal URL and the state the callback listener must
	// observe to consider the flow complete.
	StartDeviceCode(ctx context.Context, ref Ref) (DeviceCodeFlow, error)
	// ExchangeDeviceCode trades the code received on the local callback
	// for a token record.
	ExchangeDeviceCode(ctx context.Context, ref Ref, code string) (TokenRecord, error)
}

// entry is the per-(providerType,alias) single-flight gate: at most one
// refresh or device-code flow runs at a time, and concurrent getToken
// callers wait on cond rather than racing duplicate flows (mirrors the
// teacher's AdaptiveRateLimiter mutex/callback coordination shape, here
// applied to a state machine instead of a token bucket).
type entry struct {
	mu    sync.Mutex
	cond  *sync.Cond
	busy  bool
	rec   TokenRecord
	ready bool // rec has been loaded from disk at least once
}

// Manager implements getToken/invalidate/revoke over a Store, gating
// concurrent refreshes per token record (spec.md §4.4). Of the six State
// values, Manager assigns only VALID, REFRESHING and REVOKED.
type Manager struct {
	store     *Store
	refresher map[string]Refresher // keyed by providerType

	mu      sync.Mutex
	entries map[Ref]*entry

	// AllowInteractive permits falling back to a device-code flow when a
	// refresh fails or no refresh token exists. The record's State stays
	// REFRESHING during that flow; it is never set to DEVICE_CODE_PENDING.
	// Non-interactive deployments (e.g. headless workers) set this false so
	// a failed refresh surfaces AuthFailure immediately instead of waiting
	// on a human.
	AllowInteractive bool
	// DeviceCodeTimeout bounds how long the device-code flow waits for the
	// user (spec.md: "hard 10-minute timeout"). When it elapses GetToken
	// returns AuthFailure; the record is not marked REVOKED, so a later
	// GetToken call attempts refresh and device-code recovery again.
	DeviceCodeTimeout time.Duration
}

// NewManager constructs a Manager. refreshers maps providerType to the
// Refresher responsible for that provider's token exchange.
func NewManager(store *Store, refreshers map[string]Refresher) *Manager {
	return &Manager{
		store:             store,
		refresher:         refreshers,
		entries:           make(map[Ref]*entry),
		AllowInteractive:  true,
		DeviceCodeTimeout: 10 * time.Minute,
	}
}

func (m *Manager) entryFor(ref Ref) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[ref]
	if !ok {
		e = &entry{}
		e.cond = sync.NewCond(&e.mu)
		m.entries[ref] = e
	}
	return e
}

// GetToken returns a valid access token for ref, loading from disk,
// refreshing, or driving a device-code flow as needed. Static-alias
// tokens are never refreshed; an expired static token returns AuthFailure.
func (m *Manager) GetToken(ctx context.Context, ref Ref) (AccessToken, error) {
	e := m.entryFor(ref)

	e.mu.Lock()
	for e.busy {
		e.cond.Wait()
	}
	if !e.ready {
		rec, err := m.store.Load(ref)
		if err != nil {
			e.mu.Unlock()
			return AccessToken{}, routeerr.Wrap(routeerr.KindAuth, component, "no token on file for "+ref.ProviderType+"/"+ref.Alias, err)
		}
		rec.State = StateValid
		e.rec = *rec
		e.ready = true
	}

	now := time.Now()
	rec := e.rec

	if !rec.Expired(now) && rec.State != StateRevoked {
		e.mu.Unlock()
		return AccessToken{Value: rec.AccessToken, ExpiresAt: rec.ExpiresAt}, nil
	}

	if rec.State == StateRevoked {
		e.mu.Unlock()
		return AccessToken{}, routeerr.New(routeerr.KindAuth, component, "token for "+ref.ProviderType+"/"+ref.Alias+" has been revoked")
	}

	if rec.IsStatic() {
		e.mu.Unlock()
		return AccessToken{}, routeerr.New(routeerr.KindAuth, component, "static token for "+ref.ProviderType+" has expired")
	}

	// Claim the single-flight slot; other callers wait on e.cond until we
	// broadcast the outcome.
	e.busy = true
	e.rec.State = StateRefreshing
	e.mu.Unlock()

	newRec, err := m.runRefresh(ctx, ref, rec)

	e.mu.Lock()
	e.busy = false
	if err == nil {
		e.rec = newRec
	}
	e.cond.Broadcast()
	e.mu.Unlock()

	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Value: newRec.AccessToken, ExpiresAt: newRec.ExpiresAt}, nil
}

func (m *Manager) runRefresh(ctx context.Context, ref Ref, rec TokenRecord) (TokenRecord, error) {
	refresher, ok := m.refresher[ref.ProviderType]
	if !ok {
		return TokenRecord{}, routeerr.New(routeerr.KindAuth, component, "no refresher registered for provider "+ref.ProviderType)
	}

	if rec.RefreshToken != "" {
		fresh, err := refresher.Refresh(ctx, rec)
		if err == nil {
			fresh.State = StateValid
			if saveErr := m.store.Save(&fresh); saveErr != nil {
				return TokenRecord{}, routeerr.Wrap(routeerr.KindInternal, component, "persist refreshed token", saveErr)
			}
			return fresh, nil
		}
		if !m.AllowInteractive {
			return TokenRecord{}, routeerr.Wrap(routeerr.KindAuth, component, "token refresh failed", err)
		}
	} else if !m.AllowInteractive {
		return TokenRecord{}, routeerr.New(routeerr.KindAuth, component, "token expired with no refresh token and interactive recovery disabled")
	}

	return m.runDeviceCode(ctx, ref, refresher, rec)
}

func (m *Manager) runDeviceCode(ctx context.Context, ref Ref, refresher Refresher, rec TokenRecord) (TokenRecord, error) {
	dctx, cancel := context.WithTimeout(ctx, m.DeviceCodeTimeout)
	defer cancel()

	flow, err := refresher.StartDeviceCode(dctx, ref)
	if err != nil {
		return TokenRecord{}, routeerr.Wrap(routeerr.KindAuth, component, "start device-code flow", err)
	}

	code, err := awaitDeviceCodeCallback(dctx, flow)
	if err != nil {
		return TokenRecord{}, routeerr.Wrap(routeerr.KindAuth, component, "device-code flow did not complete", err)
	}

	completed, err := refresher.ExchangeDeviceCode(dctx, ref, code)
	if err != nil {
		return TokenRecord{}, routeerr.Wrap(routeerr.KindAuth, component, "exchange device code", err)
	}

	completed.ProviderType = ref.ProviderType
	completed.Alias = ref.Alias
	completed.Sequence = rec.Sequence
	completed.State = StateValid
	if err := m.store.Save(&completed); err != nil {
		return TokenRecord{}, routeerr.Wrap(routeerr.KindInternal, component, "persist device-code token", err)
	}
	return completed, nil
}

// Bootstrap onboards a brand-new alias that has no token file on disk yet
// (the "/token-auth/demo" portal flow, spec.md §6): it awaits flow's
// callback, exchanges the resulting code, persists the record, and seeds
// the in-memory entry so a subsequent GetToken finds it ready without
// re-reading from disk. Unlike runDeviceCode, the caller has already
// called StartDeviceCode to obtain flow (so the portal URL can be shown to
// the user before this blocking call returns).
func (m *Manager) Bootstrap(ctx context.Context, ref Ref, refresher Refresher, flow DeviceCodeFlow) (TokenRecord, error) {
	code, err := awaitDeviceCodeCallback(ctx, flow)
	if err != nil {
		return TokenRecord{}, routeerr.Wrap(routeerr.KindAuth, component, "device-code flow did not complete", err)
	}
	rec, err := refresher.ExchangeDeviceCode(ctx, ref, code)
	if err != nil {
		return TokenRecord{}, routeerr.Wrap(routeerr.KindAuth, component, "exchange device code", err)
	}
	rec.ProviderType = ref.ProviderType
	rec.Alias = ref.Alias
	rec.State = StateValid
	if err := m.store.Save(&rec); err != nil {
		return TokenRecord{}, routeerr.Wrap(routeerr.KindInternal, component, "persist bootstrapped token", err)
	}

	e := m.entryFor(ref)
	e.mu.Lock()
	e.rec = rec
	e.ready = true
	e.mu.Unlock()

	return rec, nil
}

// Invalidate forces the next GetToken call to re-read from disk and, if
// still expired, refresh — used when a caller observes a 401 from upstream
// despite a locally "valid" token (clock skew, external revocation).
func (m *Manager) Invalidate(ref Ref) {
	e := m.entryFor(ref)
	e.mu.Lock()
	e.ready = false
	e.mu.Unlock()
}

// Revoke marks ref's token REVOKED both in memory and on disk; subsequent
// GetToken calls fail with AuthFailure until a new token is provisioned
// out of band.
func (m *Manager) Revoke(ref Ref) error {
	e := m.entryFor(ref)
	e.mu.Lock()
	defer e.mu.Unlock()

	rec := e.rec
	if !e.ready {
		loaded, err := m.store.Load(ref)
		if err != nil {
			return err
		}
		rec = *loaded
	}
	rec.State = StateRevoked
	if err := m.store.Save(&rec); err != nil {
		return err
	}
	e.rec = rec
	e.ready = true
	return nil
}
