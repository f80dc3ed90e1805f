// Package config loads and resolves the on-disk configuration root
// (spec.md §6): config.json's provider list and route-pool layout, plus
// the environment variables that override or supply values config.json
// leaves to the deployment (PORT, HOST, per-provider API key variables,
// ROUTECODEX_CONFIG_PATH).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/routecodex/routecodex/internal/router"
)

const (
	defaultPort = 8080
	defaultHost = "0.0.0.0"
)

// ProviderSpec is one provider's entry in config.json's "providers" map.
type ProviderSpec struct {
	BaseURL  string         `json:"baseUrl"`
	Protocol string         `json:"protocol"`
	Keys     []string       `json:"keys,omitempty"`
	Auth     AuthSpec       `json:"auth"`
	MaxCtx   int            `json:"defaultMaxContextTokens,omitempty"`
	ModelCtx map[string]int `json:"modelMaxContextTokens,omitempty"`
}

// AuthSpec describes how requests to a provider authenticate.
type AuthSpec struct {
	Kind          string `json:"kind"` // "api_key" | "oauth"
	APIKeyEnv     string `json:"apiKeyEnv,omitempty"`
	OAuthProvider string `json:"oauthProvider,omitempty"`
	OAuthAlias    string `json:"oauthAlias,omitempty"`
}

// PoolSpec mirrors spec.md §6's illustrative route pool schema:
// routing.{category}: [{id, priority, backup?, targets:["providerId.modelId", ...]}].
type PoolSpec struct {
	ID       string   `json:"id"`
	Priority int      `json:"priority"`
	Backup   bool     `json:"backup,omitempty"`
	Targets  []string `json:"targets"`
}

// RateLimitSpec configures the AIMD adaptive limiter and sliding-window
// quota per provider (spec.md §5). Zero values fall back to
// internal/ratelimit's own defaults.
type RateLimitSpec struct {
	InitialTPM   float64 `json:"initialTpm,omitempty"`
	MaxTPM       float64 `json:"maxTpm,omitempty"`
	QuotaLimit   int     `json:"quotaLimit,omitempty"`
	QuotaWindowS int     `json:"quotaWindowSeconds,omitempty"`
}

// RouterTuning carries the virtual router's tunable thresholds, read
// verbatim into router.Config (spec.md §4.5).
type RouterTuning struct {
	LongContextThresholdTokens int      `json:"longContextThresholdTokens,omitempty"`
	WarnRatio                  float64  `json:"warnRatio,omitempty"`
	CodingKeywords             []string `json:"codingKeywords,omitempty"`
	ThinkingKeywords           []string `json:"thinkingKeywords,omitempty"`
	SearchKeywords             []string `json:"searchKeywords,omitempty"`
	FailureThreshold           int      `json:"failureThreshold,omitempty"`
	CooldownMs                 int64    `json:"cooldownMs,omitempty"`
	AllowOverflowRouting       bool     `json:"allowOverflowRouting,omitempty"`
	PreferModelFieldDirective  bool     `json:"preferModelFieldDirective,omitempty"`
}

// File is the parsed shape of config.json (spec.md §6 "on-disk state
// layout: config.json — main configuration").
type File struct {
	Port      int                       `json:"port,omitempty"`
	Host      string                    `json:"host,omitempty"`
	Providers map[string]ProviderSpec   `json:"providers"`
	Routing   map[string][]PoolSpec     `json:"routing"`
	RateLimit map[string]RateLimitSpec  `json:"rateLimit,omitempty"`
	Router    RouterTuning              `json:"router,omitempty"`
}

// Config is the fully resolved configuration: config.json's contents plus
// environment overrides, ready to build the router/transport/oauth layer
// from (spec.md §6 "environment variables recognized").
type Config struct {
	File

	// RootDir is the directory config.json was loaded from (or the
	// explicit --root override), used to derive auth/, provider/, logs/.
	RootDir string
}

// defaultRootDir returns "~/.routecodex" (spec.md §6's default root).
func defaultRootDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve home directory: %w", err)
	}
	return filepath.Join(home, ".routecodex"), nil
}

// Load reads config.json from root (or ROUTECODEX_CONFIG_PATH, or
// "~/.routecodex/config.json" if both are empty) and applies PORT/HOST
// environment overrides (spec.md §6).
func Load(root string) (*Config, error) {
	if root == "" {
		if envRoot := os.Getenv("ROUTECODEX_CONFIG_PATH"); envRoot != "" {
			root = filepath.Dir(envRoot)
			return loadFile(envRoot, root)
		}
		def, err := defaultRootDir()
		if err != nil {
			return nil, err
		}
		root = def
	}
	return loadFile(filepath.Join(root, "config.json"), root)
}

func loadFile(path, root string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg := &Config{File: f, RootDir: root}
	cfg.applyEnvOverrides()
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.Host == "" {
		cfg.Host = defaultHost
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Port = p
		}
	}
	if v := os.Getenv("HOST"); v != "" {
		c.Host = v
	}
}

// AuthDir, ProviderDir, LogsDir locate the on-disk state layout rooted at
// RootDir (spec.md §6).
func (c *Config) AuthDir() string     { return filepath.Join(c.RootDir, "auth") }
func (c *Config) ProviderDir() string { return filepath.Join(c.RootDir, "provider") }
func (c *Config) LogsDir() string     { return filepath.Join(c.RootDir, "logs") }

// ParseTargetRef splits a "providerId.modelId" or
// "providerId.modelId.keyId" route-pool target string (spec.md §6).
func ParseTargetRef(ref string) (providerID, modelID, keyID string, err error) {
	parts := strings.SplitN(ref, ".", 3)
	if len(parts) < 2 {
		return "", "", "", fmt.Errorf("config: malformed target ref %q, want providerId.modelId[.keyId]", ref)
	}
	providerID, modelID = parts[0], parts[1]
	if len(parts) == 3 {
		keyID = parts[2]
	}
	return providerID, modelID, keyID, nil
}

// BuildRouterConfig translates the loaded File into router.Config plus the
// providers map router.New expects, resolving each pool's target strings
// and each provider's auth descriptor (spec.md §4.5, §6).
func (c *Config) BuildRouterConfig() (router.Config, map[string]router.ProviderConfig, error) {
	providers := make(map[string]router.ProviderConfig, len(c.Providers))
	for id, p := range c.Providers {
		providers[id] = router.ProviderConfig{
			ID:                      id,
			BaseURL:                 p.BaseURL,
			Protocol:                router.ProtocolFamily(p.Protocol),
			Keys:                    p.Keys,
			DefaultMaxContextTokens: p.MaxCtx,
			ModelMaxContextTokens:   p.ModelCtx,
		}
	}

	categories := make(map[router.Category]router.CategoryConfig, len(c.Routing))
	for category, pools := range c.Routing {
		built := make([]router.Pool, 0, len(pools))
		for _, ps := range pools {
			targets := make([]router.Target, 0, len(ps.Targets))
			for _, ref := range ps.Targets {
				providerID, modelID, keyID, err := ParseTargetRef(ref)
				if err != nil {
					return router.Config{}, nil, err
				}
				pc, ok := c.Providers[providerID]
				if !ok {
					return router.Config{}, nil, fmt.Errorf("config: pool %q references unknown provider %q", ps.ID, providerID)
				}
				targets = append(targets, router.Target{
					ProviderID:       providerID,
					ModelID:          modelID,
					KeyID:            keyID,
					MaxContextTokens: maxContextFor(pc, modelID),
					Auth:             buildAuthDescriptor(providerID, pc.Auth),
					BaseURL:          pc.BaseURL,
					Protocol:         router.ProtocolFamily(pc.Protocol),
				})
			}
			built = append(built, router.Pool{ID: ps.ID, Priority: ps.Priority, Backup: ps.Backup, Targets: targets})
		}
		categories[router.Category(category)] = router.CategoryConfig{Pools: built}
	}

	return router.Config{
		Categories:                 categories,
		LongContextThresholdTokens: c.Router.LongContextThresholdTokens,
		WarnRatio:                  c.Router.WarnRatio,
		CodingKeywords:             c.Router.CodingKeywords,
		ThinkingKeywords:           c.Router.ThinkingKeywords,
		SearchKeywords:             c.Router.SearchKeywords,
		FailureThreshold:           c.Router.FailureThreshold,
		CooldownMs:                 c.Router.CooldownMs,
		AllowOverflowRouting:       c.Router.AllowOverflowRouting,
		PreferModelFieldDirective:  c.Router.PreferModelFieldDirective,
	}, providers, nil
}

func maxContextFor(pc ProviderSpec, modelID string) int {
	if n, ok := pc.ModelCtx[modelID]; ok {
		return n
	}
	return pc.MaxCtx
}

func buildAuthDescriptor(providerID string, a AuthSpec) router.AuthDescriptor {
	if a.Kind == "oauth" {
		provider := a.OAuthProvider
		if provider == "" {
			provider = providerID
		}
		return router.AuthDescriptor{Kind: router.AuthOAuth, OAuthProvider: provider, OAuthAlias: a.OAuthAlias}
	}
	apiKeyEnv := a.APIKeyEnv
	if apiKeyEnv == "" {
		apiKeyEnv = strings.ToUpper(providerID) + "_API_KEY"
	}
	return router.AuthDescriptor{Kind: router.AuthAPIKey, APIKeyEnv: apiKeyEnv}
}
