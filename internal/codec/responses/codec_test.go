package responses

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routecodex/routecodex/internal/canonical"
)

func TestDecodeRequestPlainStringInput(t *testing.T) {
	body := []byte(`{"model": "gpt-5", "input": "hello there"}`)
	c := New()
	req, err := c.DecodeRequest(body)
	require.NoError(t, err)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "hello there", req.Messages[0].Text())
}

func TestDecodeRequestItemArrayWithFunctionCall(t *testing.T) {
	body := []byte(`{
		"model": "gpt-5",
		"input": [
			{"type":"message","role":"user","content":[{"type":"input_text","text":"weather?"}]},
			{"type":"function_call","call_id":"c1","name":"get_weather","arguments":"{\"city\":\"nyc\"}"},
			{"type":"function_call_output","call_id":"c1","output":"sunny"}
		]
	}`)
	c := New()
	req, err := c.DecodeRequest(body)
	require.NoError(t, err)
	require.Len(t, req.Messages, 3)
	assert.Equal(t, "get_weather", req.Messages[1].ToolUses()[0].Name)
	assert.Equal(t, "c1", req.Messages[2].ToolResults()[0].ToolUseID)
}

func TestEncodeDecodeResponseRoundTrip(t *testing.T) {
	c := New()
	resp := &canonical.ChatResponse{
		Content: []canonical.Message{{
			Role:  canonical.RoleAssistant,
			Parts: []canonical.Part{canonical.TextPart{Text: "hi"}},
		}},
		StopReason: canonical.FinishStop,
	}
	body, err := c.EncodeResponse(resp)
	require.NoError(t, err)
	decoded, err := c.DecodeResponse(body)
	require.NoError(t, err)
	assert.Equal(t, "hi", decoded.Content[0].Text())
	assert.Equal(t, canonical.FinishStop, decoded.StopReason)
}

func TestStreamDecoderTracksFunctionCallAcrossDeltas(t *testing.T) {
	d := NewStreamDecoder()
	_, err := d.Decode([]byte(`{"type":"response.output_item.added","item_id":"c1","item":{"type":"function_call","call_id":"c1","name":"get_weather"}}`))
	require.NoError(t, err)
	chunk, err := d.Decode([]byte(`{"type":"response.function_call_arguments.delta","item_id":"c1","delta":"{\"city\":"}`))
	require.NoError(t, err)
	assert.Equal(t, canonical.ChunkToolCallDelta, chunk.Type)
	assert.Equal(t, "c1", chunk.ToolCallDelta.ID)
	assert.Equal(t, "get_weather", chunk.ToolCallDelta.Name)
}
