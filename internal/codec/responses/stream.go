package responses

import (
	"encoding/json"

	"github.com/routecodex/routecodex/internal/canonical"
)

// DecodeChunk handles one Responses streaming event in isolation. As with
// internal/codec/anthropicwire, function_call_arguments.delta events carry
// only an item_id, not the function name/call_id; callers bridging a live
// stream should use StreamDecoder, which tracks item_id -> (call_id, name)
// from the response.output_item.added event.
func (c *Codec) DecodeChunk(data []byte) (*canonical.Chunk, error) {
	var ev wireEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, canonical.NewMalformedError("$", err.Error())
	}
	return decodeEvent(ev, nil)
}

func decodeEvent(ev wireEvent, lookup func(itemID string) (callID, name string)) (*canonical.Chunk, error) {
	switch ev.Type {
	case "response.output_text.delta":
		return &canonical.Chunk{Type: canonical.ChunkText, Text: ev.Delta}, nil
	case "response.reasoning_summary_text.delta":
		return &canonical.Chunk{Type: canonical.ChunkReasoning, Reasoning: ev.Delta}, nil
	case "response.function_call_arguments.delta":
		callID, name := ev.ItemID, ""
		if lookup != nil {
			callID, name = lookup(ev.ItemID)
		}
		return &canonical.Chunk{Type: canonical.ChunkToolCallDelta, ToolCallDelta: &canonical.ToolCallDelta{
			ID: callID, Name: name, Delta: ev.Delta,
		}}, nil
	case "response.output_item.added":
		if ev.Item != nil && ev.Item.Type == "function_call" {
			return &canonical.Chunk{Type: canonical.ChunkToolCallDelta, ToolCallDelta: &canonical.ToolCallDelta{
				ID: ev.Item.CallID, Name: ev.Item.Name,
			}}, nil
		}
		return &canonical.Chunk{Type: canonical.ChunkText}, nil
	case "response.completed", "response.incomplete":
		var usage *canonical.TokenUsage
		status := ""
		if ev.Response != nil {
			status = ev.Response.Status
			if ev.Response.Usage != nil {
				usage = &canonical.TokenUsage{
					InputTokens:  ev.Response.Usage.InputTokens,
					OutputTokens: ev.Response.Usage.OutputTokens,
					TotalTokens:  ev.Response.Usage.TotalTokens,
				}
			}
		}
		reason, _ := canonical.FinishReasonFromWire(canonical.ProtocolOpenAIResponses, status)
		return &canonical.Chunk{Type: canonical.ChunkStop, StopReason: reason, UsageDelta: usage}, nil
	default:
		return &canonical.Chunk{Type: canonical.ChunkText}, nil
	}
}

// StreamDecoder decodes a full Responses event-stream session, tracking
// item_id -> (call_id, name) so function_call_arguments.delta events can be
// attached to the function_call they belong to.
type StreamDecoder struct {
	items map[string]wireItem
}

// NewStreamDecoder constructs a StreamDecoder for one streaming response.
func NewStreamDecoder() *StreamDecoder {
	return &StreamDecoder{items: make(map[string]wireItem)}
}

// Decode processes one SSE event payload and returns the canonical chunk it
// represents.
func (d *StreamDecoder) Decode(data []byte) (*canonical.Chunk, error) {
	var ev wireEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, canonical.NewMalformedError("$", err.Error())
	}
	if ev.Type == "response.output_item.added" && ev.Item != nil {
		d.items[itemKey(ev)] = *ev.Item
	}
	return decodeEvent(ev, func(itemID string) (string, string) {
		item, ok := d.items[itemID]
		if !ok {
			return itemID, ""
		}
		return item.CallID, item.Name
	})
}

func itemKey(ev wireEvent) string {
	if ev.ItemID != "" {
		return ev.ItemID
	}
	if ev.Item != nil {
		return ev.Item.CallID
	}
	return ""
}

func (c *Codec) EncodeChunk(chunk *canonical.Chunk) ([]byte, error) {
	switch chunk.Type {
	case canonical.ChunkText:
		ev := wireEvent{Type: "response.output_text.delta", Delta: chunk.Text}
		return json.Marshal(ev)
	case canonical.ChunkReasoning:
		ev := wireEvent{Type: "response.reasoning_summary_text.delta", Delta: chunk.Reasoning}
		return json.Marshal(ev)
	case canonical.ChunkToolCallDelta:
		if chunk.ToolCallDelta == nil {
			return nil, nil
		}
		if chunk.ToolCallDelta.Delta == "" {
			ev := wireEvent{Type: "response.output_item.added", ItemID: chunk.ToolCallDelta.ID, Item: &wireItem{
				Type: "function_call", CallID: chunk.ToolCallDelta.ID, Name: chunk.ToolCallDelta.Name,
			}}
			return json.Marshal(ev)
		}
		ev := wireEvent{Type: "response.function_call_arguments.delta", ItemID: chunk.ToolCallDelta.ID, Delta: chunk.ToolCallDelta.Delta}
		return json.Marshal(ev)
	case canonical.ChunkStop:
		status, _ := canonical.FinishReasonToWire(canonical.ProtocolOpenAIResponses, chunk.StopReason)
		ev := wireEvent{Type: "response.completed", Response: &wireResponse{Object: "response", Status: status}}
		if chunk.UsageDelta != nil {
			ev.Response.Usage = &wireUsage{InputTokens: chunk.UsageDelta.InputTokens, OutputTokens: chunk.UsageDelta.OutputTokens, TotalTokens: chunk.UsageDelta.TotalTokens}
		}
		return json.Marshal(ev)
	default:
		return nil, nil
	}
}
