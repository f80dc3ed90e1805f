package anthropicwire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routecodex/routecodex/internal/canonical"
)

func TestDecodeRequestBasic(t *testing.T) {
	body := []byte(`{
		"model": "claude-sonnet-4-5",
		"max_tokens": 1024,
		"system": "be terse",
		"messages": [{"role": "user", "content": "hello"}]
	}`)
	c := New()
	req, err := c.DecodeRequest(body)
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4-5", req.Model)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, canonical.RoleSystem, req.Messages[0].Role)
	assert.Equal(t, "hello", req.Messages[1].Text())
	require.NotNil(t, req.Sampling.MaxTokens)
	assert.Equal(t, 1024, *req.Sampling.MaxTokens)
}

func TestDecodeToolUseAndResult(t *testing.T) {
	body := []byte(`{
		"model": "claude-sonnet-4-5",
		"max_tokens": 100,
		"messages": [
			{"role": "assistant", "content": [{"type":"tool_use","id":"t1","name":"get_weather","input":{"city":"nyc"}}]},
			{"role": "user", "content": [{"type":"tool_result","tool_use_id":"t1","content":"sunny"}]}
		]
	}`)
	c := New()
	req, err := c.DecodeRequest(body)
	require.NoError(t, err)
	require.Len(t, req.Messages, 2)
	toolUses := req.Messages[0].ToolUses()
	require.Len(t, toolUses, 1)
	assert.Equal(t, "get_weather", toolUses[0].Name)
	toolResults := req.Messages[1].ToolResults()
	require.Len(t, toolResults, 1)
	assert.Equal(t, "t1", toolResults[0].ToolUseID)
}

func TestEncodeDecodeResponseRoundTrip(t *testing.T) {
	c := New()
	resp := &canonical.ChatResponse{
		Content: []canonical.Message{{
			Role:  canonical.RoleAssistant,
			Parts: []canonical.Part{canonical.TextPart{Text: "hi"}},
		}},
		StopReason: canonical.FinishToolCall,
		Usage:      canonical.TokenUsage{InputTokens: 10, OutputTokens: 4},
	}
	body, err := c.EncodeResponse(resp)
	require.NoError(t, err)
	decoded, err := c.DecodeResponse(body)
	require.NoError(t, err)
	assert.Equal(t, "hi", decoded.Content[0].Text())
	assert.Equal(t, canonical.FinishToolCall, decoded.StopReason)
}

func TestStreamDecoderTracksToolUseAcrossDeltas(t *testing.T) {
	d := NewStreamDecoder()
	_, err := d.Decode([]byte(`{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"t1","name":"get_weather"}}`))
	require.NoError(t, err)
	chunk, err := d.Decode([]byte(`{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"city\":"}}`))
	require.NoError(t, err)
	assert.Equal(t, canonical.ChunkToolCallDelta, chunk.Type)
	assert.Equal(t, "t1", chunk.ToolCallDelta.ID)
	assert.Equal(t, "get_weather", chunk.ToolCallDelta.Name)
}
