package pipeline

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routecodex/routecodex/internal/canonical"
	"github.com/routecodex/routecodex/internal/codec"
	"github.com/routecodex/routecodex/internal/codec/anthropicwire"
	"github.com/routecodex/routecodex/internal/codec/openai"
)

type fakeStream struct {
	chunks []*canonical.Chunk
	idx    int
	tail   error
}

func (f *fakeStream) Next(context.Context) (*canonical.Chunk, error) {
	if f.idx >= len(f.chunks) {
		if f.tail != nil {
			return nil, f.tail
		}
		return nil, io.EOF
	}
	c := f.chunks[f.idx]
	f.idx++
	return c, nil
}

func (f *fakeStream) Close() error { return nil }

func newRegistry() *codec.Registry {
	return codec.NewRegistry(openai.New(), anthropicwire.New())
}

func TestForwardEmitsOpenAIFramesThenDone(t *testing.T) {
	b := NewBridge(newRegistry())
	stream := &fakeStream{chunks: []*canonical.Chunk{
		{Type: canonical.ChunkText, Text: "hi"},
		{Type: canonical.ChunkStop, StopReason: canonical.FinishStop},
	}}

	var frames []string
	err := b.Forward(context.Background(), canonical.ProtocolOpenAIChat, stream, func(frame []byte) error {
		frames = append(frames, string(frame))
		return nil
	})
	require.NoError(t, err)
	require.Len(t, frames, 3)
	assert.True(t, strings.HasPrefix(frames[0], "data: "))
	assert.Contains(t, frames[0], `"content":"hi"`)
	assert.Contains(t, frames[1], `"finish_reason":"stop"`)
	assert.Equal(t, "data: [DONE]\n\n", frames[2])
}

func TestForwardEmitsAnthropicNamedEvents(t *testing.T) {
	b := NewBridge(newRegistry())
	stream := &fakeStream{chunks: []*canonical.Chunk{
		{Type: canonical.ChunkText, Text: "hi"},
	}}

	var frames []string
	err := b.Forward(context.Background(), canonical.ProtocolAnthropic, stream, func(frame []byte) error {
		frames = append(frames, string(frame))
		return nil
	})
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.True(t, strings.HasPrefix(frames[0], "event: content_block_delta\ndata: "))
	assert.Equal(t, "event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n", frames[1])
}

func TestForwardPropagatesMidStreamError(t *testing.T) {
	b := NewBridge(newRegistry())
	stream := &fakeStream{chunks: []*canonical.Chunk{{Type: canonical.ChunkText, Text: "hi"}}, tail: assertErr}

	var frames []string
	err := b.Forward(context.Background(), canonical.ProtocolOpenAIChat, stream, func(frame []byte) error {
		frames = append(frames, string(frame))
		return nil
	})
	require.Error(t, err)
	require.Len(t, frames, 2)
	assert.Contains(t, frames[1], "stream_interrupted")
}

func TestAggregateAccumulatesTextAndToolCalls(t *testing.T) {
	b := NewBridge(newRegistry())
	stream := &fakeStream{chunks: []*canonical.Chunk{
		{Type: canonical.ChunkText, Text: "hel"},
		{Type: canonical.ChunkText, Text: "lo"},
		{Type: canonical.ChunkToolCallDelta, ToolCallDelta: &canonical.ToolCallDelta{ID: "t1", Name: "lookup"}},
		{Type: canonical.ChunkToolCallDelta, ToolCallDelta: &canonical.ToolCallDelta{ID: "t1", Delta: `{"q":`}},
		{Type: canonical.ChunkToolCallDelta, ToolCallDelta: &canonical.ToolCallDelta{ID: "t1", Delta: `"x"}`}},
		{Type: canonical.ChunkStop, StopReason: canonical.FinishToolCall, UsageDelta: &canonical.TokenUsage{TotalTokens: 42}},
	}}

	resp, err := b.Aggregate(context.Background(), stream)
	require.NoError(t, err)
	require.Len(t, resp.Content, 1)
	assert.Equal(t, "hello", resp.Content[0].Text())
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "lookup", resp.ToolCalls[0].Name)
	assert.Equal(t, map[string]any{"q": "x"}, resp.ToolCalls[0].Payload)
	assert.Equal(t, 42, resp.Usage.TotalTokens)
}

func TestSynthesizeSplitsLargeToolPayloadIntoBoundedDeltas(t *testing.T) {
	b := NewBridge(newRegistry())
	bigArg := strings.Repeat("x", maxToolDeltaBytes*2+5)
	resp := &canonical.ChatResponse{
		ToolCalls:  []canonical.ToolCall{{ID: "t1", Name: "lookup", Payload: map[string]any{"q": bigArg}}},
		StopReason: canonical.FinishToolCall,
	}

	var frames []string
	err := b.Synthesize(context.Background(), canonical.ProtocolOpenAIChat, resp, func(frame []byte) error {
		frames = append(frames, string(frame))
		return nil
	})
	require.NoError(t, err)
	// start delta + >=3 fragments + stop chunk + [DONE]
	assert.GreaterOrEqual(t, len(frames), 6)
	assert.Equal(t, "data: [DONE]\n\n", frames[len(frames)-1])
}

var assertErr = io.ErrUnexpectedEOF
