package responses

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/routecodex/routecodex/internal/canonical"
	"github.com/routecodex/routecodex/internal/codec"
)

// Codec implements codec.Codec for the OpenAI Responses protocol.
type Codec struct{}

// New constructs an OpenAI Responses Codec.
func New() *Codec { return &Codec{} }

func (*Codec) Protocol() canonical.WireProtocol { return canonical.ProtocolOpenAIResponses }

func (c *Codec) DecodeRequest(body []byte) (*canonical.ChatRequest, error) {
	var wr wireRequest
	if err := json.Unmarshal(body, &wr); err != nil {
		return nil, canonical.NewMalformedError("$", err.Error())
	}
	if wr.Model == "" {
		return nil, canonical.NewMalformedError("$.model", "model is required")
	}

	req := &canonical.ChatRequest{
		Model:  wr.Model,
		Stream: wr.Stream,
		Sampling: canonical.Sampling{
			Temperature: wr.Temperature,
			TopP:        wr.TopP,
			MaxTokens:   wr.MaxOutputTokens,
		},
	}
	req.ModelDirective = canonical.ParseModelDirective(wr.Model)

	if wr.Instructions != "" {
		req.Messages = append(req.Messages, &canonical.Message{
			Role:  canonical.RoleSystem,
			Parts: []canonical.Part{canonical.TextPart{Text: wr.Instructions}},
		})
	}

	items, err := decodeInput(wr.Input)
	if err != nil {
		return nil, canonical.NewMalformedError("$.input", err.Error())
	}
	for i, item := range items {
		m, err := decodeItem(item)
		if err != nil {
			var de *canonical.DecodeError
			if errors.As(err, &de) {
				de.Path = fmt.Sprintf("$.input[%d].role", i)
				return nil, de
			}
			return nil, canonical.NewMalformedError(fmt.Sprintf("$.input[%d]", i), err.Error())
		}
		if m != nil {
			req.Messages = append(req.Messages, m)
		}
	}

	for _, wt := range wr.Tools {
		if err := codec.ValidateToolSchema(wt.Name, wt.Parameters); err != nil {
			return nil, canonical.NewMalformedError("$.tools", err.Error())
		}
		req.Tools = append(req.Tools, &canonical.ToolDefinition{
			Name:        wt.Name,
			Description: wt.Description,
			InputSchema: wt.Parameters,
		})
	}
	if len(wr.ToolChoice) > 0 {
		tc, err := decodeToolChoice(wr.ToolChoice)
		if err != nil {
			return nil, canonical.NewMalformedError("$.tool_choice", err.Error())
		}
		req.ToolChoice = tc
	}

	for _, m := range req.Messages {
		if m.Role != canonical.RoleUser {
			continue
		}
		if directive, stripped, ok := canonical.ExtractInlineDirective(m.Text()); ok {
			req.InlineDirective = directive
			replaceText(m, stripped)
			break
		}
	}
	return req, nil
}

// decodeInput handles both the plain-string and item-array shapes the
// Responses "input" field allows.
func decodeInput(raw json.RawMessage) ([]wireItem, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return nil, nil
		}
		return []wireItem{{Type: "message", Role: "user", Content: []wireContentPart{{Type: "input_text", Text: s}}}}, nil
	}
	var items []wireItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func decodeItem(item wireItem) (*canonical.Message, error) {
	switch item.Type {
	case "message", "":
		role, err := decodeRole(item.Role)
		if err != nil {
			return nil, err
		}
		parts := make([]canonical.Part, 0, len(item.Content))
		for _, cp := range item.Content {
			switch cp.Type {
			case "input_text", "output_text":
				parts = append(parts, canonical.TextPart{Text: cp.Text})
			case "input_image":
				parts = append(parts, canonical.ImagePart{URL: cp.ImageURL})
			}
		}
		return &canonical.Message{Role: role, Parts: parts}, nil
	case "function_call":
		if item.Name == "" {
			return nil, fmt.Errorf("function_call item missing name")
		}
		var input any
		if item.Arguments != "" {
			if err := json.Unmarshal([]byte(item.Arguments), &input); err != nil {
				input = item.Arguments
			}
		}
		return &canonical.Message{
			Role:  canonical.RoleAssistant,
			Parts: []canonical.Part{canonical.ToolUsePart{ID: item.CallID, Name: item.Name, Input: input}},
			Meta:  map[string]any{"call_id": item.CallID},
		}, nil
	case "function_call_output":
		if item.CallID == "" {
			return nil, fmt.Errorf("function_call_output item missing call_id")
		}
		return &canonical.Message{
			Role:  canonical.RoleTool,
			Parts: []canonical.Part{canonical.ToolResultPart{ToolUseID: item.CallID, Content: item.Output}},
		}, nil
	case "reasoning":
		var text string
		for _, s := range item.Summary {
			text += s.Text
		}
		return &canonical.Message{Role: canonical.RoleAssistant, Parts: []canonical.Part{canonical.ReasoningPart{Text: text}}}, nil
	default:
		return nil, nil
	}
}

func decodeRole(role string) (canonical.Role, error) {
	switch role {
	case "system", "developer":
		return canonical.RoleSystem, nil
	case "user":
		return canonical.RoleUser, nil
	case "assistant":
		return canonical.RoleAssistant, nil
	default:
		return "", canonical.NewUnsupportedError("", fmt.Sprintf("unsupported role %q", role))
	}
}

func decodeToolChoice(raw json.RawMessage) (*canonical.ToolChoice, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch s {
		case "auto":
			return &canonical.ToolChoice{Mode: canonical.ToolChoiceAuto}, nil
		case "none":
			return &canonical.ToolChoice{Mode: canonical.ToolChoiceNone}, nil
		case "required":
			return &canonical.ToolChoice{Mode: canonical.ToolChoiceRequired}, nil
		default:
			return nil, fmt.Errorf("unsupported tool_choice %q", s)
		}
	}
	var obj struct {
		Type string `json:"type"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	if obj.Type != "function" || obj.Name == "" {
		return nil, fmt.Errorf("unsupported tool_choice shape")
	}
	return &canonical.ToolChoice{Mode: canonical.ToolChoiceTool, Name: obj.Name}, nil
}

func replaceText(m *canonical.Message, text string) {
	for i, p := range m.Parts {
		if _, ok := p.(canonical.TextPart); ok {
			m.Parts[i] = canonical.TextPart{Text: text}
			return
		}
	}
	m.Parts = append(m.Parts, canonical.TextPart{Text: text})
}
