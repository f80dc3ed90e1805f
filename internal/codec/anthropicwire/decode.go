package anthropicwire

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/routecodex/routecodex/internal/canonical"
	"github.com/routecodex/routecodex/internal/codec"
)

// Codec implements codec.Codec for the Anthropic Messages protocol.
type Codec struct{}

// New constructs an Anthropic Messages Codec.
func New() *Codec { return &Codec{} }

func (*Codec) Protocol() canonical.WireProtocol { return canonical.ProtocolAnthropic }

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

	req := &canonical.ChatRequest{
		Model:  wr.Model,
		Stream: wr.Stream,
		Sampling: canonical.Sampling{
			Temperature: wr.Temperature,
			TopP:        wr.TopP,
			MaxTokens:   intPtr(wr.MaxTokens),
		},
	}
	req.ModelDirective = canonical.ParseModelDirective(wr.Model)

	if len(wr.System) > 0 {
		sysParts, err := decodeContent(wr.System)
		if err != nil {
			return nil, canonical.NewMalformedError("$.system", err.Error())
		}
		if len(sysParts) > 0 {
			req.Messages = append(req.Messages, &canonical.Message{Role: canonical.RoleSystem, Parts: sysParts})
		}
	}

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
		req.Messages = append(req.Messages, m)
	}

	for _, wt := range wr.Tools {
		if err := codec.ValidateToolSchema(wt.Name, wt.InputSchema); err != nil {
			return nil, canonical.NewMalformedError("$.tools", err.Error())
		}
		req.Tools = append(req.Tools, &canonical.ToolDefinition{
			Name:        wt.Name,
			Description: wt.Description,
			InputSchema: wt.InputSchema,
		})
	}
	if wr.ToolChoice != nil {
		tc, err := decodeToolChoice(*wr.ToolChoice)
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

func decodeMessage(wm wireMessage) (*canonical.Message, error) {
	role, err := decodeRole(wm.Role)
	if err != nil {
		return nil, err
	}
	parts, err := decodeContent(wm.Content)
	if err != nil {
		return nil, err
	}
	return &canonical.Message{Role: role, Parts: parts}, nil
}

func decodeRole(role string) (canonical.Role, error) {
	switch role {
	case "user":
		return canonical.RoleUser, nil
	case "assistant":
		return canonical.RoleAssistant, nil
	default:
		return "", canonical.NewUnsupportedError("", fmt.Sprintf("unsupported role %q", role))
	}
}

// decodeContent handles both the plain-string and content-block-array
// shapes Anthropic Messages allows.
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
	var blocks []wireBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil, fmt.Errorf("content: %w", err)
	}
	out := make([]canonical.Part, 0, len(blocks))
	for _, b := range blocks {
		part, err := decodeBlock(b)
		if err != nil {
			return nil, err
		}
		if part != nil {
			out = append(out, part)
		}
	}
	return out, nil
}

func decodeBlock(b wireBlock) (canonical.Part, error) {
	switch b.Type {
	case "text":
		return canonical.TextPart{Text: b.Text}, nil
	case "image":
		if b.Source == nil {
			return nil, fmt.Errorf("image block missing source")
		}
		if b.Source.Type == "url" {
			return canonical.ImagePart{URL: b.Source.URL}, nil
		}
		return canonical.ImagePart{Format: canonical.ImageFormat(mediaSubtype(b.Source.MediaType)), Bytes: []byte(b.Source.Data)}, nil
	case "tool_use":
		if b.Name == "" {
			return nil, fmt.Errorf("tool_use block missing name")
		}
		var input any
		if len(b.Input) > 0 {
			if err := json.Unmarshal(b.Input, &input); err != nil {
				return nil, fmt.Errorf("tool_use input: %w", err)
			}
		}
		return canonical.ToolUsePart{ID: b.ID, Name: b.Name, Input: input}, nil
	case "tool_result":
		if b.ToolUseID == "" {
			return nil, fmt.Errorf("tool_result block missing tool_use_id")
		}
		var content any
		if len(b.Content) > 0 {
			var s string
			if err := json.Unmarshal(b.Content, &s); err == nil {
				content = s
			} else {
				_ = json.Unmarshal(b.Content, &content)
			}
		}
		return canonical.ToolResultPart{ToolUseID: b.ToolUseID, Content: content, IsError: b.IsError}, nil
	case "thinking":
		return canonical.ReasoningPart{Text: b.Thinking, Signature: b.Signature}, nil
	default:
		return nil, nil
	}
}

func mediaSubtype(mediaType string) string {
	for i := len(mediaType) - 1; i >= 0; i-- {
		if mediaType[i] == '/' {
			return mediaType[i+1:]
		}
	}
	return mediaType
}

func decodeToolChoice(wt wireToolChoice) (*canonical.ToolChoice, error) {
	switch wt.Type {
	case "auto":
		return &canonical.ToolChoice{Mode: canonical.ToolChoiceAuto}, nil
	case "none":
		return &canonical.ToolChoice{Mode: canonical.ToolChoiceNone}, nil
	case "any":
		return &canonical.ToolChoice{Mode: canonical.ToolChoiceRequired}, nil
	case "tool":
		if wt.Name == "" {
			return nil, fmt.Errorf("tool_choice type tool requires name")
		}
		return &canonical.ToolChoice{Mode: canonical.ToolChoiceTool, Name: wt.Name}, nil
	default:
		return nil, fmt.Errorf("unsupported tool_choice type %q", wt.Type)
	}
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

func intPtr(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}
