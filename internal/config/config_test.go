package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routecodex/routecodex/internal/router"
)

func writeConfig(t *testing.T, dir string, f File) {
	t.Helper()
	data, err := json.Marshal(f)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), data, 0o600))
}

func sampleFile() File {
	return File{
		Providers: map[string]ProviderSpec{
			"openai": {BaseURL: "https://api.openai.com/v1", Protocol: "openai_compat", Auth: AuthSpec{Kind: "api_key", APIKeyEnv: "OPENAI_API_KEY"}, MaxCtx: 128000},
			"glm":    {BaseURL: "https://glm.example/v1", Protocol: "openai_compat", Auth: AuthSpec{Kind: "oauth", OAuthProvider: "glm", OAuthAlias: "default"}, MaxCtx: 32000},
		},
		Routing: map[string][]PoolSpec{
			"default": {
				{ID: "primary", Priority: 10, Targets: []string{"openai.gpt-4o"}},
				{ID: "backup", Priority: 0, Backup: true, Targets: []string{"glm.glm-4"}},
			},
		},
	}
}

func TestLoadReadsConfigJSONFromRoot(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, sampleFile())

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, defaultPort, cfg.Port)
	assert.Equal(t, defaultHost, cfg.Host)
	assert.Len(t, cfg.Providers, 2)
}

func TestLoadAppliesPortAndHostEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, sampleFile())
	t.Setenv("PORT", "9091")
	t.Setenv("HOST", "127.0.0.1")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 9091, cfg.Port)
	assert.Equal(t, "127.0.0.1", cfg.Host)
}

func TestLoadHonorsRouteCodexConfigPathEnvVar(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, sampleFile())
	t.Setenv("ROUTECODEX_CONFIG_PATH", filepath.Join(dir, "config.json"))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Len(t, cfg.Providers, 2)
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	_, err := Load(t.TempDir())
	require.Error(t, err)
}

func TestParseTargetRefSplitsProviderModelKey(t *testing.T) {
	providerID, modelID, keyID, err := ParseTargetRef("openai.gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, "openai", providerID)
	assert.Equal(t, "gpt-4o", modelID)
	assert.Empty(t, keyID)

	providerID, modelID, keyID, err = ParseTargetRef("openai.gpt-4o.key2")
	require.NoError(t, err)
	assert.Equal(t, "openai", providerID)
	assert.Equal(t, "gpt-4o", modelID)
	assert.Equal(t, "key2", keyID)
}

func TestParseTargetRefRejectsMissingModel(t *testing.T) {
	_, _, _, err := ParseTargetRef("openai")
	require.Error(t, err)
}

func TestBuildRouterConfigResolvesTargetsAndAuth(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, sampleFile())
	cfg, err := Load(dir)
	require.NoError(t, err)

	rcfg, providers, err := cfg.BuildRouterConfig()
	require.NoError(t, err)
	require.Len(t, providers, 2)

	cat := rcfg.Categories[router.CategoryDefault]
	require.Len(t, cat.Pools, 2)

	primary := cat.Pools[0]
	require.Len(t, primary.Targets, 1)
	target := primary.Targets[0]
	assert.Equal(t, "openai", target.ProviderID)
	assert.Equal(t, "gpt-4o", target.ModelID)
	assert.Equal(t, 128000, target.MaxContextTokens)
	assert.Equal(t, router.AuthAPIKey, target.Auth.Kind)
	assert.Equal(t, "OPENAI_API_KEY", target.Auth.APIKeyEnv)

	backup := cat.Pools[1]
	assert.True(t, backup.Backup)
	assert.Equal(t, router.AuthOAuth, backup.Targets[0].Auth.Kind)
	assert.Equal(t, "glm", backup.Targets[0].Auth.OAuthProvider)
}

func TestBuildRouterConfigRejectsUnknownProviderReference(t *testing.T) {
	f := sampleFile()
	f.Routing["default"][0].Targets = []string{"missing.model"}
	dir := t.TempDir()
	writeConfig(t, dir, f)
	cfg, err := Load(dir)
	require.NoError(t, err)

	_, _, err = cfg.BuildRouterConfig()
	require.Error(t, err)
}

func TestBuildRouterConfigUsesPerModelContextOverride(t *testing.T) {
	f := sampleFile()
	p := f.Providers["openai"]
	p.ModelCtx = map[string]int{"gpt-4o": 256000}
	f.Providers["openai"] = p
	dir := t.TempDir()
	writeConfig(t, dir, f)
	cfg, err := Load(dir)
	require.NoError(t, err)

	rcfg, _, err := cfg.BuildRouterConfig()
	require.NoError(t, err)
	assert.Equal(t, 256000, rcfg.Categories[router.CategoryDefault].Pools[0].Targets[0].MaxContextTokens)
}

func TestAuthDirProviderDirLogsDirAreRootedAtRootDir(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, sampleFile())
	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "auth"), cfg.AuthDir())
	assert.Equal(t, filepath.Join(dir, "provider"), cfg.ProviderDir())
	assert.Equal(t, filepath.Join(dir, "logs"), cfg.LogsDir())
}
