package responses

import (
	"encoding/json"
	"fmt"

	"github.com/routecodex/routecodex/internal/canonical"
)

func (c *Codec) EncodeRequest(req *canonical.ChatRequest) ([]byte, error) {
	wr := wireRequest{
		Model:           req.Model,
		Stream:          req.Stream,
		Temperature:     req.Sampling.Temperature,
		TopP:            req.Sampling.TopP,
		MaxOutputTokens: req.Sampling.MaxTokens,
	}

	var items []wireItem
	for _, m := range req.Messages {
		if m.Role == canonical.RoleSystem {
			if wr.Instructions != "" {
				wr.Instructions += "\n"
			}
			wr.Instructions += m.Text()
			continue
		}
		encoded, err := encodeItems(m)
		if err != nil {
			return nil, err
		}
		items = append(items, encoded...)
	}
	input, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}
	wr.Input = input

	for _, t := range req.Tools {
		wr.Tools = append(wr.Tools, wireTool{Type: "function", Name: t.Name, Description: t.Description, Parameters: t.InputSchema})
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

func encodeItems(m *canonical.Message) ([]wireItem, error) {
	var out []wireItem
	var content []wireContentPart
	for _, p := range m.Parts {
		switch v := p.(type) {
		case canonical.TextPart:
			content = append(content, wireContentPart{Type: textPartType(m.Role), Text: v.Text})
		case canonical.ImagePart:
			content = append(content, wireContentPart{Type: "input_image", ImageURL: v.URL})
		case canonical.ToolUsePart:
			args, err := json.Marshal(v.Input)
			if err != nil {
				return nil, fmt.Errorf("encode function_call %s input: %w", v.Name, err)
			}
			out = append(out, wireItem{Type: "function_call", CallID: v.ID, Name: v.Name, Arguments: string(args)})
		case canonical.ToolResultPart:
			output := ""
			if s, ok := v.Content.(string); ok {
				output = s
			} else if raw, err := json.Marshal(v.Content); err == nil {
				output = string(raw)
			}
			out = append(out, wireItem{Type: "function_call_output", CallID: v.ToolUseID, Output: output})
		case canonical.ReasoningPart:
			out = append(out, wireItem{Type: "reasoning", Summary: []wireReasoningSummary{{Type: "summary_text", Text: v.Text}}})
		}
	}
	if len(content) > 0 {
		role, err := encodeRole(m.Role)
		if err != nil {
			return nil, err
		}
		out = append([]wireItem{{Type: "message", Role: role, Content: content}}, out...)
	}
	return out, nil
}

func textPartType(role canonical.Role) string {
	if role == canonical.RoleAssistant {
		return "output_text"
	}
	return "input_text"
}

func encodeRole(role canonical.Role) (string, error) {
	switch role {
	case canonical.RoleUser, canonical.RoleTool:
		return "user", nil
	case canonical.RoleAssistant:
		return "assistant", nil
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
		return json.Marshal(map[string]any{"type": "function", "name": tc.Name})
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
	for _, item := range wr.Output {
		switch item.Type {
		case "message":
			m, err := decodeItem(item)
			if err != nil {
				return nil, canonical.NewMalformedError("$.output", err.Error())
			}
			resp.Content = append(resp.Content, *m)
		case "function_call":
			var input any
			if item.Arguments != "" {
				_ = json.Unmarshal([]byte(item.Arguments), &input)
			}
			resp.ToolCalls = append(resp.ToolCalls, canonical.ToolCall{ID: item.CallID, Name: item.Name, Payload: input})
		}
	}
	if wr.Usage != nil {
		resp.Usage = canonical.TokenUsage{
			InputTokens:  wr.Usage.InputTokens,
			OutputTokens: wr.Usage.OutputTokens,
			TotalTokens:  wr.Usage.TotalTokens,
		}
	}
	resp.ProviderStop = wr.Status
	if reason, ok := canonical.FinishReasonFromWire(canonical.ProtocolOpenAIResponses, wr.Status); ok {
		resp.StopReason = reason
	}
	return resp, nil
}

func (c *Codec) EncodeResponse(resp *canonical.ChatResponse) ([]byte, error) {
	wr := wireResponse{Object: "response"}
	for _, m := range resp.Content {
		items, err := encodeItems(&m)
		if err != nil {
			return nil, err
		}
		wr.Output = append(wr.Output, items...)
	}
	for _, tc := range resp.ToolCalls {
		args, err := json.Marshal(tc.Payload)
		if err != nil {
			return nil, err
		}
		wr.Output = append(wr.Output, wireItem{Type: "function_call", CallID: tc.ID, Name: tc.Name, Arguments: string(args)})
	}
	status := resp.ProviderStop
	if status == "" {
		if wire, ok := canonical.FinishReasonToWire(canonical.ProtocolOpenAIResponses, resp.StopReason); ok {
			status = wire
		}
	}
	wr.Status = status
	wr.Usage = &wireUsage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens, TotalTokens: resp.Usage.TotalTokens}
	return json.Marshal(wr)
}
