package anthropicwire

import (
	"encoding/json"

	"github.com/routecodex/routecodex/internal/canonical"
)

// DecodeChunk handles one Anthropic Messages streaming event in isolation.
// Anthropic's tool_use argument deltas (input_json_delta) reference the
// content block only by index, not id/name, so a stateless call cannot
// attach a tool name to argument fragments that arrive after the
// content_block_start event; callers bridging a live Anthropic stream
// should use StreamDecoder instead, which tracks block index -> (id, name)
// across the whole stream.
func (c *Codec) DecodeChunk(data []byte) (*canonical.Chunk, error) {
	var ev wireEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, canonical.NewMalformedError("$", err.Error())
	}
	return decodeEvent(ev, nil)
}

func decodeEvent(ev wireEvent, blockName func(index int) (id, name string)) (*canonical.Chunk, error) {
	switch ev.Type {
	case "content_block_delta":
		if ev.Delta == nil {
			return &canonical.Chunk{Type: canonical.ChunkText}, nil
		}
		switch ev.Delta.Type {
		case "text_delta":
			return &canonical.Chunk{Type: canonical.ChunkText, Text: ev.Delta.Text}, nil
		case "thinking_delta":
			return &canonical.Chunk{Type: canonical.ChunkReasoning, Reasoning: ev.Delta.Thinking}, nil
		case "input_json_delta":
			id, name := "", ""
			if blockName != nil && ev.Index != nil {
				id, name = blockName(*ev.Index)
			}
			return &canonical.Chunk{Type: canonical.ChunkToolCallDelta, ToolCallDelta: &canonical.ToolCallDelta{
				ID: id, Name: name, Delta: ev.Delta.PartialJSON,
			}}, nil
		default:
			return &canonical.Chunk{Type: canonical.ChunkText}, nil
		}
	case "content_block_start":
		if ev.ContentBlock != nil && ev.ContentBlock.Type == "tool_use" {
			return &canonical.Chunk{Type: canonical.ChunkToolCallDelta, ToolCallDelta: &canonical.ToolCallDelta{
				ID: ev.ContentBlock.ID, Name: ev.ContentBlock.Name,
			}}, nil
		}
		return &canonical.Chunk{Type: canonical.ChunkText}, nil
	case "message_delta":
		if ev.Delta != nil && ev.Delta.StopReason != "" {
			reason, _ := canonical.FinishReasonFromWire(canonical.ProtocolAnthropic, ev.Delta.StopReason)
			var usage *canonical.TokenUsage
			if ev.Usage != nil {
				usage = &canonical.TokenUsage{
					InputTokens:              ev.Usage.InputTokens,
					OutputTokens:             ev.Usage.OutputTokens,
					CacheReadTokens:          ev.Usage.CacheReadInputTokens,
					CacheWriteTokens:         ev.Usage.CacheCreationInputTokens,
				}
			}
			return &canonical.Chunk{Type: canonical.ChunkStop, StopReason: reason, UsageDelta: usage}, nil
		}
		if ev.Usage != nil {
			return &canonical.Chunk{Type: canonical.ChunkUsage, UsageDelta: &canonical.TokenUsage{
				InputTokens:  ev.Usage.InputTokens,
				OutputTokens: ev.Usage.OutputTokens,
			}}, nil
		}
		return &canonical.Chunk{Type: canonical.ChunkText}, nil
	case "message_stop", "content_block_stop", "ping", "message_start":
		return &canonical.Chunk{Type: canonical.ChunkText}, nil
	default:
		return &canonical.Chunk{Type: canonical.ChunkText}, nil
	}
}

// StreamDecoder decodes a full Anthropic Messages event-stream session,
// tracking content block index -> (id, name) so input_json_delta events
// can be attached to the tool_use they belong to (spec.md §4.6 streaming
// bridge).
type StreamDecoder struct {
	blocks map[int]wireBlock
}

// NewStreamDecoder constructs a StreamDecoder for one streaming response.
func NewStreamDecoder() *StreamDecoder {
	return &StreamDecoder{blocks: make(map[int]wireBlock)}
}

// Decode processes one SSE event payload and returns the canonical chunk it
// represents.
func (d *StreamDecoder) Decode(data []byte) (*canonical.Chunk, error) {
	var ev wireEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, canonical.NewMalformedError("$", err.Error())
	}
	if ev.Type == "content_block_start" && ev.Index != nil && ev.ContentBlock != nil {
		d.blocks[*ev.Index] = *ev.ContentBlock
	}
	return decodeEvent(ev, func(index int) (string, string) {
		b, ok := d.blocks[index]
		if !ok {
			return "", ""
		}
		return b.ID, b.Name
	})
}

func (c *Codec) EncodeChunk(chunk *canonical.Chunk) ([]byte, error) {
	switch chunk.Type {
	case canonical.ChunkText:
		ev := wireEvent{Type: "content_block_delta", Delta: &wireDelta{Type: "text_delta", Text: chunk.Text}}
		return json.Marshal(ev)
	case canonical.ChunkReasoning:
		ev := wireEvent{Type: "content_block_delta", Delta: &wireDelta{Type: "thinking_delta", Thinking: chunk.Reasoning}}
		return json.Marshal(ev)
	case canonical.ChunkToolCallDelta:
		if chunk.ToolCallDelta == nil {
			return nil, nil
		}
		if chunk.ToolCallDelta.Delta == "" {
			ev := wireEvent{Type: "content_block_start", ContentBlock: &wireBlock{
				Type: "tool_use", ID: chunk.ToolCallDelta.ID, Name: chunk.ToolCallDelta.Name,
			}}
			return json.Marshal(ev)
		}
		ev := wireEvent{Type: "content_block_delta", Delta: &wireDelta{Type: "input_json_delta", PartialJSON: chunk.ToolCallDelta.Delta}}
		return json.Marshal(ev)
	case canonical.ChunkStop:
		wire, _ := canonical.FinishReasonToWire(canonical.ProtocolAnthropic, chunk.StopReason)
		ev := wireEvent{Type: "message_delta", Delta: &wireDelta{StopReason: wire}}
		if chunk.UsageDelta != nil {
			ev.Usage = &wireUsage{InputTokens: chunk.UsageDelta.InputTokens, OutputTokens: chunk.UsageDelta.OutputTokens}
		}
		return json.Marshal(ev)
	case canonical.ChunkUsage:
		ev := wireEvent{Type: "message_delta"}
		if chunk.UsageDelta != nil {
			ev.Usage = &wireUsage{InputTokens: chunk.UsageDelta.InputTokens, OutputTokens: chunk.UsageDelta.OutputTokens}
		}
		return json.Marshal(ev)
	default:
		return nil, nil
	}
}
