package canonical

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MarshalJSON encodes a Message while preserving the concrete Part types
// stored in Parts via an explicit "kind" discriminator, so snapshots and
// cache payloads round-trip without losing type information.
//
// Grounded on runtime/agent/model/json.go's discriminator approach in the
// teacher repo.
func (m Message) MarshalJSON() ([]byte, error) {
	type alias struct {
		Role  Role           `json:"role"`
		Parts []any          `json:"parts"`
		Meta  map[string]any `json:"meta,omitempty"`
	}
	if len(m.Parts) == 0 {
		return json.Marshal(alias{Role: m.Role, Meta: m.Meta})
	}
	parts := make([]any, 0, len(m.Parts))
	for i, p := range m.Parts {
		enc, err := encodePart(p)
		if err != nil {
			return nil, fmt.Errorf("encode parts[%d]: %w", i, err)
		}
		parts = append(parts, enc)
	}
	return json.Marshal(alias{Role: m.Role, Parts: parts, Meta: m.Meta})
}

// UnmarshalJSON decodes a Message, materializing concrete Part
// implementations from the "kind" discriminator.
func (m *Message) UnmarshalJSON(data []byte) error {
	type alias struct {
		Role  Role              `json:"role"`
		Parts []json.RawMessage `json:"parts"`
		Meta  map[string]any    `json:"meta,omitempty"`
	}
	var tmp alias
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}
	m.Role = tmp.Role
	m.Meta = tmp.Meta
	if len(tmp.Parts) == 0 {
		m.Parts = nil
		return nil
	}
	m.Parts = make([]Part, 0, len(tmp.Parts))
	for i, raw := range tmp.Parts {
		part, err := decodePart(raw)
		if err != nil {
			return fmt.Errorf("decode parts[%d]: %w", i, err)
		}
		m.Parts = append(m.Parts, part)
	}
	return nil
}

func encodePart(p Part) (any, error) {
	switch v := p.(type) {
	case TextPart:
		return struct {
			Kind string `json:"kind"`
			TextPart
		}{"text", v}, nil
	case ImagePart:
		return struct {
			Kind string `json:"kind"`
			ImagePart
		}{"image", v}, nil
	case ToolUsePart:
		return struct {
			Kind string `json:"kind"`
			ToolUsePart
		}{"tool_use", v}, nil
	case ToolResultPart:
		return struct {
			Kind string `json:"kind"`
			ToolResultPart
		}{"tool_result", v}, nil
	case ReasoningPart:
		return struct {
			Kind string `json:"kind"`
			ReasoningPart
		}{"reasoning", v}, nil
	default:
		return nil, fmt.Errorf("canonical: unknown part type %T", p)
	}
}

func decodePart(raw json.RawMessage) (Part, error) {
	var disc struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(raw, &disc); err != nil {
		return nil, fmt.Errorf("decode part kind: %w", err)
	}
	switch disc.Kind {
	case "text":
		var v TextPart
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "image":
		var v ImagePart
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "tool_use":
		var v ToolUsePart
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		if v.Name == "" {
			return nil, errors.New("canonical: tool_use part requires name")
		}
		return v, nil
	case "tool_result":
		var v ToolResultPart
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		if v.ToolUseID == "" {
			return nil, errors.New("canonical: tool_result part requires tool_use_id")
		}
		return v, nil
	case "reasoning":
		var v ReasoningPart
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, fmt.Errorf("canonical: unknown part kind %q", disc.Kind)
	}
}
