package router

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routecodex/routecodex/internal/canonical"
)

func textMessage(role canonical.Role, text string) *canonical.Message {
	return &canonical.Message{Role: role, Parts: []canonical.Part{canonical.TextPart{Text: text}}}
}

func baseConfig() (Config, map[string]ProviderConfig) {
	providers := map[string]ProviderConfig{
		"openai": {ID: "openai", BaseURL: "https://api.openai.com", Protocol: ProtocolOpenAICompat, DefaultMaxContextTokens: 128000},
		"glm":    {ID: "glm", BaseURL: "https://glm.example", Protocol: ProtocolOpenAICompat, DefaultMaxContextTokens: 128000},
	}
	cfg := Config{
		Categories: map[Category]CategoryConfig{
			CategoryDefault: {Pools: []Pool{
				{ID: "primary", Priority: 10, Targets: []Target{
					{ProviderID: "openai", ModelID: "gpt-5", MaxContextTokens: 128000, Protocol: ProtocolOpenAICompat},
				}},
				{ID: "backup", Priority: 0, Backup: true, Targets: []Target{
					{ProviderID: "glm", ModelID: "glm-4.6", MaxContextTokens: 128000, Protocol: ProtocolOpenAICompat},
				}},
			}},
		},
	}
	return cfg, providers
}

func TestSelectNextExplicitDirective(t *testing.T) {
	cfg, providers := baseConfig()
	r := New(cfg, providers, nil, nil)
	req := &canonical.ChatRequest{
		Model:          "openai.gpt-5",
		ModelDirective: &canonical.RoutingDirective{Provider: "openai", Model: "gpt-5", Source: canonical.DirectiveSourceModelField},
		Messages:       []*canonical.Message{textMessage(canonical.RoleUser, "hello")},
	}
	d, err := r.SelectNext(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Equal(t, "openai", d.Target.ProviderID)
	assert.Equal(t, "gpt-5", d.Target.ModelID)
	assert.Equal(t, "explicit_directive", d.Reason)
}

func TestSelectNextFallsBackToBackupPool(t *testing.T) {
	cfg, providers := baseConfig()
	r := New(cfg, providers, nil, nil)
	req := &canonical.ChatRequest{Messages: []*canonical.Message{textMessage(canonical.RoleUser, "hello there")}}

	excluded := map[string]bool{}
	d1, err := r.SelectNext(context.Background(), req, excluded)
	require.NoError(t, err)
	assert.Equal(t, "primary", d1.Pool)

	excluded[d1.Target.Key()] = true
	d2, err := r.SelectNext(context.Background(), req, excluded)
	require.NoError(t, err)
	assert.Equal(t, "backup", d2.Pool)
}

func TestSelectNextNoRouteAvailable(t *testing.T) {
	cfg, providers := baseConfig()
	r := New(cfg, providers, nil, nil)
	req := &canonical.ChatRequest{Messages: []*canonical.Message{textMessage(canonical.RoleUser, "hi")}}

	excluded := map[string]bool{
		Target{ProviderID: "openai", ModelID: "gpt-5"}.Key():  true,
		Target{ProviderID: "glm", ModelID: "glm-4.6"}.Key():   true,
	}
	_, err := r.SelectNext(context.Background(), req, excluded)
	require.Error(t, err)
}

func TestClassifyVisionAndCoding(t *testing.T) {
	cfg := Config{}.withDefaults()
	visionReq := &canonical.ChatRequest{Messages: []*canonical.Message{
		{Role: canonical.RoleUser, Parts: []canonical.Part{canonical.ImagePart{Format: canonical.ImageFormatPNG, URL: "http://x/y.png"}}},
	}}
	assert.Equal(t, CategoryVision, classify(visionReq, cfg))

	codingReq := &canonical.ChatRequest{Messages: []*canonical.Message{textMessage(canonical.RoleUser, "```go\nfunc main(){}\n```")}}
	assert.Equal(t, CategoryCoding, classify(codingReq, cfg))
}

func TestClassifyCodingByToolNameOnly(t *testing.T) {
	cfg := Config{CodingKeywords: []string{"apply_patch", "write_file"}}.withDefaults()
	req := &canonical.ChatRequest{
		Messages: []*canonical.Message{textMessage(canonical.RoleUser, "please fix this for me")},
		Tools:    []*canonical.ToolDefinition{{Name: "apply_patch", Description: "apply a unified diff"}},
	}
	assert.Equal(t, CategoryCoding, classify(req, cfg))
}

func TestSelectNextFallsBackToLongContextPoolOnPerTargetOverflow(t *testing.T) {
	providers := map[string]ProviderConfig{
		"openai": {ID: "openai", BaseURL: "https://api.openai.com", Protocol: ProtocolOpenAICompat, DefaultMaxContextTokens: 8000},
		"glm":    {ID: "glm", BaseURL: "https://glm.example", Protocol: ProtocolOpenAICompat, DefaultMaxContextTokens: 200000},
	}
	cfg := Config{
		Categories: map[Category]CategoryConfig{
			CategoryDefault: {Pools: []Pool{
				{ID: "primary", Priority: 10, Targets: []Target{
					{ProviderID: "openai", ModelID: "gpt-5", MaxContextTokens: 8000, Protocol: ProtocolOpenAICompat},
				}},
			}},
			CategoryLongContext: {Pools: []Pool{
				{ID: "bigctx", Priority: 10, Targets: []Target{
					{ProviderID: "glm", ModelID: "glm-4.6", MaxContextTokens: 200000, Protocol: ProtocolOpenAICompat},
				}},
			}},
		},
	}
	r := New(cfg, providers, nil, nil)

	// Well under LongContextThresholdTokens (180000) in absolute terms, but
	// far above WarnRatio*MaxContextTokens (0.9*8000=7200) for the only
	// target in the default category's pool.
	text := strings.Repeat("word ", 50000)
	req := &canonical.ChatRequest{Messages: []*canonical.Message{textMessage(canonical.RoleUser, text)}}

	d, err := r.SelectNext(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Equal(t, CategoryLongContext, d.Category)
	assert.Equal(t, "glm", d.Target.ProviderID)
}

func TestRecordResultOpensCooldown(t *testing.T) {
	cfg, providers := baseConfig()
	cfg.FailureThreshold = 1
	r := New(cfg, providers, nil, nil)
	target := Target{ProviderID: "openai", ModelID: "gpt-5"}
	r.RecordResult(context.Background(), target, false)
	assert.True(t, r.health.InCooldown(context.Background(), target.Key()))
}

func TestEstimateTokensCJK(t *testing.T) {
	ascii := estimateTokens("abcdefgh")
	cjk := estimateTokens("一二三四")
	assert.Equal(t, 2, ascii)
	assert.Equal(t, 4, cjk)
}
