// Package router implements the virtual router (C5): request classification
// into route categories and selection of provider/model/key targets under
// priority, health, and context-capacity rules (spec.md §4.5).
package router

import "fmt"

// Category is a route classification bucket (spec.md §4.5).
type Category string

const (
	CategoryDefault     Category = "default"
	CategoryCoding      Category = "coding"
	CategoryThinking    Category = "thinking"
	CategoryTools       Category = "tools"
	CategorySearch      Category = "search"
	CategoryLongContext Category = "longcontext"
	CategoryVision      Category = "vision"
	CategoryBackground  Category = "background"
	CategoryWebSearch   Category = "web_search"
)

// AuthKind identifies how a Target authenticates to its upstream.
type AuthKind string

const (
	AuthAPIKey AuthKind = "api_key"
	AuthOAuth  AuthKind = "oauth"
)

// AuthDescriptor describes how to authenticate requests sent to a Target.
type AuthDescriptor struct {
	Kind AuthKind
	// APIKeyEnv names the environment variable holding the API key when
	// Kind == AuthAPIKey (spec.md §6 "provider-specific API key
	// variables").
	APIKeyEnv string
	// OAuthProvider/OAuthAlias identify the token record when Kind ==
	// AuthOAuth (spec.md §4.4 token file naming).
	OAuthProvider string
	OAuthAlias    string
}

// Target identifies one concrete upstream endpoint (spec.md §3).
type Target struct {
	ProviderID string
	ModelID    string
	KeyID      string

	MaxContextTokens int
	Auth             AuthDescriptor
	BaseURL          string
	Protocol         ProtocolFamily
}

// ProtocolFamily identifies the upstream wire protocol/profile a Target
// speaks, used to pick the C2 transport and C3 compatibility profile.
type ProtocolFamily string

const (
	ProtocolOpenAICompat ProtocolFamily = "openai_compat"
	ProtocolAnthropic    ProtocolFamily = "anthropic"
	ProtocolGemini       ProtocolFamily = "gemini"
)

// Key returns a stable identifier for the target, used as the map key for
// health counters and the pipeline instance cache.
func (t Target) Key() string {
	return fmt.Sprintf("%s.%s.%s", t.ProviderID, t.ModelID, t.KeyID)
}

func (t Target) String() string {
	if t.ModelID == "" {
		return t.ProviderID
	}
	return t.ProviderID + "." + t.ModelID
}

// ProviderConfig describes one configured upstream provider: its base URL,
// protocol family, and the set of keys available for round-robin rotation
// when a route pool target omits an explicit keyId (spec.md §6).
type ProviderConfig struct {
	ID                      string
	BaseURL                 string
	Protocol                ProtocolFamily
	Keys                    []string
	DefaultMaxContextTokens int
	// ModelMaxContextTokens overrides DefaultMaxContextTokens per model id.
	ModelMaxContextTokens map[string]int
}

// Pool is an ordered set of targets sharing a priority class within a route
// category (spec.md §3).
type Pool struct {
	ID       string
	Priority int
	Backup   bool
	Targets  []Target
}

// CategoryConfig is the ordered list of pools configured for one route
// category.
type CategoryConfig struct {
	Pools []Pool
}

// Config is the virtual router's full configuration.
type Config struct {
	Categories map[Category]CategoryConfig

	LongContextThresholdTokens int // default 180000
	WarnRatio                  float64 // default 0.9
	CodingKeywords             []string
	ThinkingKeywords           []string
	SearchKeywords             []string

	FailureThreshold int // default 5
	CooldownMs       int64 // default 30000

	// AllowOverflowRouting permits selecting an overflow-partition target
	// when no safe/risky target is available (spec.md §4.5 "overflow only
	// if policy allows").
	AllowOverflowRouting bool

	// PreferModelFieldDirective flips the default precedence between an
	// explicit "provider.model" in the Model field and an inline
	// "<**provider.model**>" directive (spec.md §9 Open Question; default
	// false means inline wins, per DESIGN.md's decision).
	PreferModelFieldDirective bool
}

// withDefaults fills zero-valued Config fields with spec.md's stated defaults.
func (c Config) withDefaults() Config {
	if c.LongContextThresholdTokens == 0 {
		c.LongContextThresholdTokens = 180000
	}
	if c.WarnRatio == 0 {
		c.WarnRatio = 0.9
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.CooldownMs == 0 {
		c.CooldownMs = 30000
	}
	return c
}
