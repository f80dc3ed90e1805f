// Package oauth implements the OAuth lifecycle manager (C4): token file
// persistence, alias resolution, the per-record state machine, device-code
// portal coordination, and single-flight refresh/device-code gating
// (spec.md §4.4). The teacher has no equivalent component; the state
// machine and file-naming scheme are built directly from the
// specification, borrowing internal/ratelimit's single-flight-per-key
// mutex shape for the concurrency discipline.
package oauth

import "time"

// State is a token record's lifecycle state (spec.md §4.4).
type State string

const (
	StateUnloaded           State = "UNLOADED"
	StateLoading            State = "LOADING"
	StateValid              State = "VALID"
	StateRefreshing         State = "REFRESHING"
	StateDeviceCodePending  State = "DEVICE_CODE_PENDING"
	StateRevoked            State = "REVOKED"
)

// staticAlias is the alias reserved for tokens that are read once at
// startup and never refreshed (spec.md §4.4 "Alias semantics").
const staticAlias = "static"

// TokenRecord is the on-disk and in-memory representation of one OAuth
// token. ProviderType and Alias together with Sequence determine the file
// name; fields are exported for JSON persistence.
type TokenRecord struct {
	ProviderType string    `json:"providerType"`
	Alias        string    `json:"alias"`
	Sequence     int       `json:"sequence"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt"`
	State        State     `json:"state"`
}

// IsStatic reports whether this record's alias opts it out of refresh
// (spec.md §4.4: "static alias: tokens are read at startup and never
// refreshed; expired static tokens produce AuthFailure on use").
func (r TokenRecord) IsStatic() bool { return r.Alias == staticAlias }

// Expired reports whether the record's access token has passed its expiry,
// with a small safety margin so a token does not expire mid-request.
func (r TokenRecord) Expired(now time.Time) bool {
	if r.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(r.ExpiresAt.Add(-expirySkew))
}

const expirySkew = 30 * time.Second

// AccessToken is the value getToken hands back to a successful caller.
type AccessToken struct {
	Value     string
	ExpiresAt time.Time
}

// Ref identifies a token record by provider type and alias, the unit
// getToken/invalidate/revoke operate on.
type Ref struct {
	ProviderType string
	Alias        string
}

// DeviceCodeFlow is what a Refresher returns when a refresh attempt fails
// and interactive recovery is needed. VerificationURI is the portal page
// the manager directs the user to; CallbackState is the opaque value the
// local callback listener must see echoed back for the flow to complete.
type DeviceCodeFlow struct {
	VerificationURI string
	CallbackState   string
}
