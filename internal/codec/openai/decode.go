package openai

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/routecodex/routecodex/internal/canonical"
	"github.com/routecodex/routecodex/internal/codec"
)

// Codec implements codec.Codec for the OpenAI Chat Completions protocol.
type Codec struct{}

// New constructs an OpenAI Chat Completions Codec.
func New() *Codec { return &Codec{} }

func (*Codec) Protocol() canonical.WireProtocol { return canonical.ProtocolOpenAIChat }

func (c *Codec) DecodeRequest(body []byte) (*canonical.ChatRequest, error) {
	var wr wireRequest
	if err := json.Unmarshal(body, &wr); err != nil {
		return nil, canonical.NewMalformedError("$", err.Error())
	}
	if wr.Model == "" {
		return nil, canonical.NewMalformedError("$.model", "model is required")
	}
	if len(wr.Messages) == 0 {
		return nil, canonical.NewMalformedError("$.messages", "at least one message is required")
	}

	messages := make([]*canonical.Message, 0, len(wr.Messages))
	for i, wm := range wr.Messages {
		m, err := decodeMessage(wm)
		if err != nil {
			var de *canonical.DecodeError
			if errors.As(err, &de) {
				de.Path = fmt.Sprintf("$.messages[%d].role", i)
				return nil, de
			}
			return nil, canonical.NewMalformedError(fmt.Sprintf("$.messages[%d]", i), err.Error())
		}
		messages = append(messages, m)
	}

	req := &canonical.ChatRequest{
		Model:    wr.Model,
		Messages: messages,
		Stream:   wr.Stream,
		Sampling: canonical.Sampling{
			Temperature: wr.Temperature,
			TopP:        wr.TopP,
			MaxTokens:   wr.MaxTokens,
		},
	}
	req.ModelDirective = canonical.ParseModelDirective(wr.Model)

	for _, wt := range wr.Tools {
		if err := codec.ValidateToolSchema(wt.Function.Name, wt.Function.Parameters); err != nil {
			return nil, canonical.NewMalformedError("$.tools", err.Error())
		}
		req.Tools = append(req.Tools, &canonical.ToolDefinition{
			Name:        wt.Function.Name,
			Description: wt.Function.Description,
			InputSchema: wt.Function.Parameters,
		})
	}
	if len(wr.ToolChoice) > 0 {
		tc, err := decodeToolChoice(wr.ToolChoice)
		if err != nil {
			return nil, canonical.NewMalformedError("$.tool_choice", err.Error())
		}
		req.ToolChoice = tc
	}

	for _, m := range messages {
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

func decodeMessage(wm wireMessage) (*canonical.Message, error) {
	role, err := decodeRole(wm.Role)
	if err != nil {
		return nil, err
	}
	m := &canonical.Message{Role: role}
	if wm.ToolCallID != "" {
		m.Meta = map[string]any{"tool_call_id": wm.ToolCallID}
		m.Parts = append(m.Parts, canonical.ToolResultPart{
			ToolUseID: wm.ToolCallID,
			Content:   decodeContentAsPlainText(wm.Content),
		})
		return m, nil
	}
	parts, err := decodeContent(wm.Content)
	if err != nil {
		return nil, err
	}
	m.Parts = append(m.Parts, parts...)
	for _, tc := range wm.ToolCalls {
		var input any
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
				input = tc.Function.Arguments
			}
		}
		m.Parts = append(m.Parts, canonical.ToolUsePart{ID: tc.ID, Name: tc.Function.Name, Input: input})
	}
	return m, nil
}

func decodeRole(role string) (canonical.Role, error) {
	switch role {
	case "system", "developer":
		return canonical.RoleSystem, nil
	case "user":
		return canonical.RoleUser, nil
	case "assistant":
		return canonical.RoleAssistant, nil
	case "tool":
		return canonical.RoleTool, nil
	default:
		return "", canonical.NewUnsupportedError("", fmt.Sprintf("unsupported role %q", role))
	}
}

// decodeContent handles both the plain-string and multi-part-array shapes
// OpenAI Chat Completions allows for a message's content field.
func decodeContent(raw json.RawMessage) ([]canonical.Part, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return nil, nil
		}
		return []canonical.Part{canonical.TextPart{Text: s}}, nil
	}
	var parts []wireContentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return nil, fmt.Errorf("content: %w", err)
	}
	out := make([]canonical.Part, 0, len(parts))
	for _, p := range parts {
		switch p.Type {
		case "text":
			out = append(out, canonical.TextPart{Text: p.Text})
		case "image_url":
			if p.ImageURL != nil {
				out = append(out, canonical.ImagePart{URL: p.ImageURL.URL})
			}
		}
	}
	return out, nil
}

func decodeContentAsPlainText(raw json.RawMessage) string {
	parts, err := decodeContent(raw)
	if err != nil {
		return ""
	}
	var out string
	for _, p := range parts {
		if t, ok := p.(canonical.TextPart); ok {
			out += t.Text
		}
	}
	return out
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
		Type     string `json:"type"`
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	if obj.Type != "function" || obj.Function.Name == "" {
		return nil, fmt.Errorf("unsupported tool_choice shape")
	}
	return &canonical.ToolChoice{Mode: canonical.ToolChoiceTool, Name: obj.Function.Name}, nil
}

// replaceText rewrites m's first TextPart with text, or appends one when
// none exists; used after stripping an inline routing directive.
func replaceText(m *canonical.Message, text string) {
	for i, p := range m.Parts {
		if _, ok := p.(canonical.TextPart); ok {
			m.Parts[i] = canonical.TextPart{Text: text}
			return
		}
	}
	m.Parts = append(m.Parts, canonical.TextPart{Text: text})
}
