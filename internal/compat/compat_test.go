package compat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routecodex/routecodex/internal/canonical"
	"github.com/routecodex/routecodex/internal/router"
)

func TestRegistryResolvesByProviderThenFamily(t *testing.T) {
	reg := NewRegistry(nil)

	p := reg.For(router.Target{ProviderID: "glm", Protocol: router.ProtocolOpenAICompat})
	assert.Equal(t, "glm", p.Name)

	p = reg.For(router.Target{ProviderID: "unknown-custom", Protocol: router.ProtocolAnthropic})
	assert.Equal(t, "anthropic", p.Name)

	p = reg.For(router.Target{ProviderID: "unknown-custom", Protocol: router.ProtocolFamily("made_up")})
	assert.Equal(t, "identity", p.Name)
}

func TestApplyRequestFiltersToolsForGemini(t *testing.T) {
	req := &canonical.ChatRequest{
		Model: "gemini-pro",
		Tools: []*canonical.ToolDefinition{
			{Name: "googleSearch"},
			{Name: "get_weather"},
		},
		ToolChoice: &canonical.ToolChoice{Mode: canonical.ToolChoiceAuto},
	}
	out := ApplyRequest(req, geminiProfile)
	require.Len(t, out.Request.Tools, 1)
	assert.Equal(t, "googleSearch", out.Request.Tools[0].Name)
	assert.Equal(t, "agent", out.Body["requestType"])
}

func TestApplyRequestClearsToolChoiceWhenAllToolsFiltered(t *testing.T) {
	req := &canonical.ChatRequest{
		Model: "gemini-pro",
		Tools: []*canonical.ToolDefinition{
			{Name: "get_weather"},
		},
		ToolChoice: &canonical.ToolChoice{Mode: canonical.ToolChoiceRequired},
	}
	out := ApplyRequest(req, geminiProfile)
	assert.Nil(t, out.Request.Tools)
	assert.Nil(t, out.Request.ToolChoice)
}

func TestApplyRequestDoesNotMutateInput(t *testing.T) {
	req := &canonical.ChatRequest{
		Model: "gemini-pro",
		Tools: []*canonical.ToolDefinition{{Name: "get_weather"}},
	}
	_ = ApplyRequest(req, geminiProfile)
	require.Len(t, req.Tools, 1, "original request must be untouched")
}

func TestApplyResponseHarvestsTaggedToolCalls(t *testing.T) {
	resp := &canonical.ChatResponse{
		Content: []canonical.Message{{
			Role: canonical.RoleAssistant,
			Parts: []canonical.Part{canonical.TextPart{
				Text: `Sure, let me check. <tool_calls>[{"name":"get_weather","arguments":{"city":"ny"}}]</tool_calls>`,
			}},
		}},
	}
	out := ApplyResponse(resp, builtinProviderProfiles["qwen"])
	require.Len(t, out.ToolCalls, 1)
	assert.Equal(t, "get_weather", out.ToolCalls[0].Name)
	assert.Equal(t, "Sure, let me check.", out.Content[0].Text())
}

func TestApplyResponseHarvestsFencedJSON(t *testing.T) {
	resp := &canonical.ChatResponse{
		Content: []canonical.Message{{
			Role: canonical.RoleAssistant,
			Parts: []canonical.Part{canonical.TextPart{
				Text: "```json\n{\"name\":\"lookup\",\"arguments\":{\"id\":1}}\n```",
			}},
		}},
	}
	out := ApplyResponse(resp, builtinProviderProfiles["glm"])
	require.Len(t, out.ToolCalls, 1)
	assert.Equal(t, "lookup", out.ToolCalls[0].Name)
}

func TestApplyResponseExtractsReasoningMarkers(t *testing.T) {
	resp := &canonical.ChatResponse{
		Content: []canonical.Message{{
			Role: canonical.RoleAssistant,
			Parts: []canonical.Part{canonical.TextPart{
				Text: "<think>the user wants weather</think>It is sunny.",
			}},
		}},
	}
	out := ApplyResponse(resp, builtinProviderProfiles["iflow"])
	require.Len(t, out.Content[0].Parts, 2)
	reasoning, ok := out.Content[0].Parts[0].(canonical.ReasoningPart)
	require.True(t, ok)
	assert.Equal(t, "the user wants weather", reasoning.Text)
	assert.Equal(t, "It is sunny.", out.Content[0].Text())
}

func TestApplyResponseNormalizesFinishReason(t *testing.T) {
	resp := &canonical.ChatResponse{ProviderStop: "stop_sequence"}
	out := ApplyResponse(resp, anthropicProfile)
	assert.Equal(t, canonical.FinishStop, out.StopReason)
}

func TestApplyResponseIsPure(t *testing.T) {
	resp := &canonical.ChatResponse{ProviderStop: "stop_sequence"}
	_ = ApplyResponse(resp, anthropicProfile)
	assert.Empty(t, resp.StopReason, "original response must be untouched")
}

func TestApplyResponseAppliesUsageFieldMapping(t *testing.T) {
	profile := Profile{
		Name: "swapped-cache-labels",
		ResponseFieldMappings: []FieldMapping{
			{SourcePath: "usage.cache_read_tokens", TargetPath: "usage.cache_write_tokens"},
		},
	}
	resp := &canonical.ChatResponse{Usage: canonical.TokenUsage{CacheReadTokens: 42}}
	out := ApplyResponse(resp, profile)
	assert.Equal(t, 0, out.Usage.CacheReadTokens)
	assert.Equal(t, 42, out.Usage.CacheWriteTokens)
}
