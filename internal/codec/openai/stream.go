package openai

import (
	"encoding/json"

	"github.com/routecodex/routecodex/internal/canonical"
)

func (c *Codec) DecodeChunk(data []byte) (*canonical.Chunk, error) {
	var wc wireChunk
	if err := json.Unmarshal(data, &wc); err != nil {
		return nil, canonical.NewMalformedError("$", err.Error())
	}
	if len(wc.Choices) == 0 {
		if wc.Usage != nil {
			return &canonical.Chunk{
				Type: canonical.ChunkUsage,
				UsageDelta: &canonical.TokenUsage{
					InputTokens:  wc.Usage.PromptTokens,
					OutputTokens: wc.Usage.CompletionTokens,
					TotalTokens:  wc.Usage.TotalTokens,
				},
			}, nil
		}
		return &canonical.Chunk{Type: canonical.ChunkText}, nil
	}
	choice := wc.Choices[0]
	if choice.FinishReason != nil && *choice.FinishReason != "" {
		reason, _ := canonical.FinishReasonFromWire(canonical.ProtocolOpenAIChat, *choice.FinishReason)
		return &canonical.Chunk{Type: canonical.ChunkStop, StopReason: reason}, nil
	}
	if len(choice.Delta.ToolCalls) > 0 {
		tc := choice.Delta.ToolCalls[0]
		return &canonical.Chunk{
			Type: canonical.ChunkToolCallDelta,
			ToolCallDelta: &canonical.ToolCallDelta{
				ID:    tc.ID,
				Name:  tc.Function.Name,
				Delta: tc.Function.Arguments,
			},
		}, nil
	}
	return &canonical.Chunk{Type: canonical.ChunkText, Text: choice.Delta.Content}, nil
}

func (c *Codec) EncodeChunk(chunk *canonical.Chunk) ([]byte, error) {
	wc := wireChunk{Object: "chat.completion.chunk"}
	choice := wireChunkChoice{}
	switch chunk.Type {
	case canonical.ChunkText:
		choice.Delta = wireDelta{Content: chunk.Text}
	case canonical.ChunkToolCallDelta:
		if chunk.ToolCallDelta != nil {
			tc := wireToolCall{ID: chunk.ToolCallDelta.ID, Type: "function"}
			tc.Function.Name = chunk.ToolCallDelta.Name
			tc.Function.Arguments = chunk.ToolCallDelta.Delta
			choice.Delta.ToolCalls = []wireToolCall{tc}
		}
	case canonical.ChunkStop:
		if wire, ok := canonical.FinishReasonToWire(canonical.ProtocolOpenAIChat, chunk.StopReason); ok {
			choice.FinishReason = &wire
		}
	case canonical.ChunkUsage:
		if chunk.UsageDelta != nil {
			wc.Usage = &wireUsage{
				PromptTokens:     chunk.UsageDelta.InputTokens,
				CompletionTokens: chunk.UsageDelta.OutputTokens,
				TotalTokens:      chunk.UsageDelta.TotalTokens,
			}
		}
	case canonical.ChunkReasoning:
		// No wire slot in Chat Completions; dropped (reasoning surfaces only
		// via the Responses and Anthropic codecs).
		return nil, nil
	}
	wc.Choices = []wireChunkChoice{choice}
	return json.Marshal(wc)
}
