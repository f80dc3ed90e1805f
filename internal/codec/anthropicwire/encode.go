package anthropicwire

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
	}
	if req.Sampling.MaxTokens != nil {
		wr.MaxTokens = *req.Sampling.MaxTokens
	} else {
		wr.MaxTokens = 4096
	}

	var systemBlocks []wireBlock
	for _, m := range req.Messages {
		if m.Role != canonical.RoleSystem {
			continue
		}
		systemBlocks = append(systemBlocks, wireBlock{Type: "text", Text: m.Text()})
	}
	if len(systemBlocks) > 0 {
		raw, err := json.Marshal(systemBlocks)
		if err != nil {
			return nil, err
		}
		wr.System = raw
	}

	for _, m := range req.Messages {
		if m.Role == canonical.RoleSystem {
			continue
		}
		wm, err := encodeMessage(m)
		if err != nil {
			return nil, err
		}
		wr.Messages = append(wr.Messages, wm)
	}

	for _, t := range req.Tools {
		wr.Tools = append(wr.Tools, wireTool{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}
	if req.ToolChoice != nil {
		tc, err := encodeToolChoice(req.ToolChoice)
		if err != nil {
			return nil, err
		}
		wr.ToolChoice = tc
	}
	return json.Marshal(wr)
}

func encodeMessage(m *canonical.Message) (wireMessage, error) {
	role, err := encodeRole(m.Role)
	if err != nil {
		return wireMessage{}, err
	}
	var blocks []wireBlock
	for _, p := range m.Parts {
		b, err := encodeBlock(p)
		if err != nil {
			return wireMessage{}, err
		}
		blocks = append(blocks, b)
	}
	content, err := json.Marshal(blocks)
	if err != nil {
		return wireMessage{}, err
	}
	return wireMessage{Role: role, Content: content}, nil
}

func encodeBlock(p canonical.Part) (wireBlock, error) {
	switch v := p.(type) {
	case canonical.TextPart:
		return wireBlock{Type: "text", Text: v.Text}, nil
	case canonical.ImagePart:
		if v.URL != "" {
			return wireBlock{Type: "image", Source: &wireImageSource{Type: "url", URL: v.URL}}, nil
		}
		return wireBlock{Type: "image", Source: &wireImageSource{
			Type:      "base64",
			MediaType: "image/" + string(v.Format),
			Data:      string(v.Bytes),
		}}, nil
	case canonical.ToolUsePart:
		input, err := json.Marshal(v.Input)
		if err != nil {
			return wireBlock{}, fmt.Errorf("encode tool_use %s input: %w", v.Name, err)
		}
		return wireBlock{Type: "tool_use", ID: v.ID, Name: v.Name, Input: input}, nil
	case canonical.ToolResultPart:
		content, err := json.Marshal(v.Content)
		if err != nil {
			return wireBlock{}, err
		}
		return wireBlock{Type: "tool_result", ToolUseID: v.ToolUseID, Content: content, IsError: v.IsError}, nil
	case canonical.ReasoningPart:
		return wireBlock{Type: "thinking", Thinking: v.Text, Signature: v.Signature}, nil
	default:
		return wireBlock{}, fmt.Errorf("unsupported part type %T", p)
	}
}

func encodeRole(role canonical.Role) (string, error) {
	switch role {
	case canonical.RoleUser, canonical.RoleTool:
		return "user", nil
	case canonical.RoleAssistant:
		return "assistant", nil
	default:
		return "", fmt.Errorf("unsupported role %q for anthropic encode", role)
	}
}

func encodeToolChoice(tc *canonical.ToolChoice) (*wireToolChoice, error) {
	switch tc.Mode {
	case canonical.ToolChoiceAuto:
		return &wireToolChoice{Type: "auto"}, nil
	case canonical.ToolChoiceNone:
		return &wireToolChoice{Type: "none"}, nil
	case canonical.ToolChoiceRequired:
		return &wireToolChoice{Type: "any"}, nil
	case canonical.ToolChoiceTool:
		return &wireToolChoice{Type: "tool", Name: tc.Name}, nil
	default:
		return nil, fmt.Errorf("unsupported tool choice mode %q", tc.Mode)
	}
}

func (c *Codec) DecodeResponse(body []byte) (*canonical.ChatResponse, error) {
	var wr wireResponse
	if err := json.Unmarshal(body, &wr); err != nil {
		return nil, canonical.NewMalformedError("$", err.Error())
	}
	resp := &canonical.ChatResponse{}
	var parts []canonical.Part
	for _, b := range wr.Content {
		switch b.Type {
		case "tool_use":
			var input any
			if len(b.Input) > 0 {
				_ = json.Unmarshal(b.Input, &input)
			}
			resp.ToolCalls = append(resp.ToolCalls, canonical.ToolCall{ID: b.ID, Name: b.Name, Payload: input})
		default:
			part, err := decodeBlock(b)
			if err != nil {
				return nil, canonical.NewMalformedError("$.content", err.Error())
			}
			if part != nil {
				parts = append(parts, part)
			}
		}
	}
	if len(parts) > 0 {
		resp.Content = []canonical.Message{{Role: canonical.RoleAssistant, Parts: parts}}
	}
	resp.Usage = canonical.TokenUsage{
		InputTokens:      wr.Usage.InputTokens,
		OutputTokens:     wr.Usage.OutputTokens,
		TotalTokens:      wr.Usage.InputTokens + wr.Usage.OutputTokens,
		CacheReadTokens:  wr.Usage.CacheReadInputTokens,
		CacheWriteTokens: wr.Usage.CacheCreationInputTokens,
	}
	resp.ProviderStop = wr.StopReason
	if reason, ok := canonical.FinishReasonFromWire(canonical.ProtocolAnthropic, wr.StopReason); ok {
		resp.StopReason = reason
	}
	return resp, nil
}

func (c *Codec) EncodeResponse(resp *canonical.ChatResponse) ([]byte, error) {
	wr := wireResponse{Type: "message", Role: "assistant"}
	if len(resp.Content) > 0 {
		for _, p := range resp.Content[0].Parts {
			b, err := encodeBlock(p)
			if err != nil {
				return nil, err
			}
			wr.Content = append(wr.Content, b)
		}
	}
	for _, tc := range resp.ToolCalls {
		input, err := json.Marshal(tc.Payload)
		if err != nil {
			return nil, err
		}
		wr.Content = append(wr.Content, wireBlock{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: input})
	}
	wr.StopReason = resp.ProviderStop
	if wr.StopReason == "" {
		if wire, ok := canonical.FinishReasonToWire(canonical.ProtocolAnthropic, resp.StopReason); ok {
			wr.StopReason = wire
		}
	}
	wr.Usage = wireUsage{
		InputTokens:              resp.Usage.InputTokens,
		OutputTokens:             resp.Usage.OutputTokens,
		CacheReadInputTokens:     resp.Usage.CacheReadTokens,
		CacheCreationInputTokens: resp.Usage.CacheWriteTokens,
	}
	return json.Marshal(wr)
}
