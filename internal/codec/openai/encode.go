package openai

import (
	"encoding/json"
	"fmt"

	"github.com/routecodex/routecodex/internal/canonical"
)

func (c *Codec) EncodeRequest(req *canonical.ChatRequest) ([]byte, error) {
	wr := wireRequest{
		Model:       req.Model,
		Stream:      req.Stream,
		Temperature: req.Sampling.Temperature,
		TopP:        req.Sampling.TopP,
		MaxTokens:   req.Sampling.MaxTokens,
	}
	for _, m := range req.Messages {
		wm, err := encodeMessage(m)
		if err != nil {
			return nil, err
		}
		wr.Messages = append(wr.Messages, wm...)
	}
	for _, t := range req.Tools {
		var wt wireTool
		wt.Type = "function"
		wt.Function.Name = t.Name
		wt.Function.Description = t.Description
		wt.Function.Parameters = t.InputSchema
		wr.Tools = append(wr.Tools, wt)
	}
	if req.ToolChoice != nil {
		raw, err := encodeToolChoice(req.ToolChoice)
		if err != nil {
			return nil, err
		}
		wr.ToolChoice = raw
	}
	return json.Marshal(wr)
}

// encodeMessage may expand one canonical Message into multiple wire
// messages: a ToolResultPart has no OpenAI Chat Completions equivalent
// within an assistant/user message and must become its own role:"tool"
// message, while ToolUsePart content accumulates onto the assistant
// message's tool_calls array (spec.md §4.1).
func encodeMessage(m *canonical.Message) ([]wireMessage, error) {
	role, err := encodeRole(m.Role)
	if err != nil {
		return nil, err
	}
	var out []wireMessage
	base := wireMessage{Role: role}
	var textParts []string
	var toolCalls []wireToolCall

	for _, p := range m.Parts {
		switch v := p.(type) {
		case canonical.TextPart:
			textParts = append(textParts, v.Text)
		case canonical.ImagePart:
			// OpenAI Chat Completions requires multi-part content for
			// images; fall back to a plain content array in that case.
		case canonical.ToolUsePart:
			args, err := json.Marshal(v.Input)
			if err != nil {
				return nil, fmt.Errorf("encode tool_use %s input: %w", v.Name, err)
			}
			tc := wireToolCall{ID: v.ID, Type: "function"}
			tc.Function.Name = v.Name
			tc.Function.Arguments = string(args)
			toolCalls = append(toolCalls, tc)
		case canonical.ToolResultPart:
			content, _ := json.Marshal(v.Content)
			out = append(out, wireMessage{
				Role:       "tool",
				Content:    content,
				ToolCallID: v.ToolUseID,
			})
		case canonical.ReasoningPart:
			// OpenAI Chat Completions has no wire slot for reasoning
			// content; dropped on encode (spec.md §4.3 lossy conversion).
		}
	}

	hasImage := false
	var mixedParts []wireContentPart
	for _, p := range m.Parts {
		switch v := p.(type) {
		case canonical.TextPart:
			mixedParts = append(mixedParts, wireContentPart{Type: "text", Text: v.Text})
		case canonical.ImagePart:
			hasImage = true
			mixedParts = append(mixedParts, wireContentPart{Type: "image_url", ImageURL: &struct {
				URL string `json:"url"`
			}{URL: v.URL}})
		}
	}

	if hasImage {
		content, err := json.Marshal(mixedParts)
		if err != nil {
			return nil, err
		}
		base.Content = content
	} else if len(textParts) > 0 {
		joined := ""
		for _, t := range textParts {
			joined += t
		}
		content, err := json.Marshal(joined)
		if err != nil {
			return nil, err
		}
		base.Content = content
	}
	base.ToolCalls = toolCalls

	if base.Content != nil || len(base.ToolCalls) > 0 {
		out = append([]wireMessage{base}, out...)
	}
	return out, nil
}

func encodeRole(role canonical.Role) (string, error) {
	switch role {
	case canonical.RoleSystem:
		return "system", nil
	case canonical.RoleUser:
		return "user", nil
	case canonical.RoleAssistant:
		return "assistant", nil
	case canonical.RoleTool:
		return "tool", nil
	default:
		return "", fmt.Errorf("unsupported role %q", role)
	}
}

func encodeToolChoice(tc *canonical.ToolChoice) (json.RawMessage, error) {
	switch tc.Mode {
	case canonical.ToolChoiceAuto:
		return json.Marshal("auto")
	case canonical.ToolChoiceNone:
		return json.Marshal("none")
	case canonical.ToolChoiceRequired:
		return json.Marshal("required")
	case canonical.ToolChoiceTool:
		return json.Marshal(map[string]any{
			"type":     "function",
			"function": map[string]any{"name": tc.Name},
		})
	default:
		return nil, fmt.Errorf("unsupported tool choice mode %q", tc.Mode)
	}
}

func (c *Codec) DecodeResponse(body []byte) (*canonical.ChatResponse, error) {
	var wr wireResponse
	if err := json.Unmarshal(body, &wr); err != nil {
		return nil, canonical.NewMalformedError("$", err.Error())
	}
	if len(wr.Choices) == 0 {
		return nil, canonical.NewMalformedError("$.choices", "response has no choices")
	}
	resp := &canonical.ChatResponse{}
	choice := wr.Choices[0]
	msg, err := decodeMessage(choice.Message)
	if err != nil {
		return nil, canonical.NewMalformedError("$.choices[0].message", err.Error())
	}
	resp.Content = []canonical.Message{*msg}
	for _, tc := range choice.Message.ToolCalls {
		var payload any
		if tc.Function.Arguments != "" {
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &payload)
		}
		resp.ToolCalls = append(resp.ToolCalls, canonical.ToolCall{ID: tc.ID, Name: tc.Function.Name, Payload: payload})
	}
	if wr.Usage != nil {
		resp.Usage = canonical.TokenUsage{
			InputTokens:  wr.Usage.PromptTokens,
			OutputTokens: wr.Usage.CompletionTokens,
			TotalTokens:  wr.Usage.TotalTokens,
		}
		if wr.Usage.PromptTokensDetails != nil {
			resp.Usage.CacheReadTokens = wr.Usage.PromptTokensDetails.CachedTokens
		}
	}
	resp.ProviderStop = choice.FinishReason
	reason, ok := canonical.FinishReasonFromWire(canonical.ProtocolOpenAIChat, choice.FinishReason)
	if ok {
		resp.StopReason = reason
	}
	return resp, nil
}

func (c *Codec) EncodeResponse(resp *canonical.ChatResponse) ([]byte, error) {
	wr := wireResponse{Object: "chat.completion"}
	var msg wireMessage
	msg.Role = "assistant"
	if len(resp.Content) > 0 {
		encoded, err := encodeMessage(&resp.Content[0])
		if err != nil {
			return nil, err
		}
		if len(encoded) > 0 {
			msg = encoded[0]
		}
	}
	for _, tc := range resp.ToolCalls {
		args, err := json.Marshal(tc.Payload)
		if err != nil {
			return nil, err
		}
		wtc := wireToolCall{ID: tc.ID, Type: "function"}
		wtc.Function.Name = tc.Name
		wtc.Function.Arguments = string(args)
		msg.ToolCalls = append(msg.ToolCalls, wtc)
	}
	finish := resp.ProviderStop
	if finish == "" {
		if wire, ok := canonical.FinishReasonToWire(canonical.ProtocolOpenAIChat, resp.StopReason); ok {
			finish = wire
		}
	}
	wr.Choices = []wireChoice{{Index: 0, Message: msg, FinishReason: finish}}
	wr.Usage = &wireUsage{
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
	return json.Marshal(wr)
}
