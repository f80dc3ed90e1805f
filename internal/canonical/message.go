// Package canonical defines the protocol-neutral chat representation shared
// by every wire codec, compatibility profile, and provider transport
// (spec.md §3). Messages are modeled as typed parts rather than flattened
// strings so no information is lost converting between OpenAI Chat,
// OpenAI Responses, and Anthropic Messages.
package canonical

// Role identifies the speaker of a Message.
type Role string

const (
	// RoleSystem is the role for system/instruction messages.
	RoleSystem Role = "system"

	// RoleUser is the role for end-user messages.
	RoleUser Role = "user"

	// RoleAssistant is the role for model-generated messages.
	RoleAssistant Role = "assistant"

	// RoleTool is the role for tool-result messages. spec.md §3 allows tool
	// results to be carried either as a dedicated tool-role message or as a
	// ToolResultPart attached to a later user/assistant turn; codecs accept
	// both shapes on decode and prefer RoleTool on encode toward protocols
	// that model it explicitly (OpenAI Chat).
	RoleTool Role = "tool"
)

type (
	// Part is implemented by every canonical content block. A Message's
	// Parts preserve order; codecs must not reorder parts when converting
	// between protocols.
	Part interface {
		isPart()
	}

	// TextPart is plain human-readable content.
	TextPart struct {
		Text string
	}

	// ImageFormat identifies the on-wire encoding of an ImagePart.
	ImageFormat string

	// ImagePart carries an image reference attached to a message. Bytes is
	// mutually exclusive with URL; exactly one must be set.
	ImagePart struct {
		Format ImageFormat
		Bytes  []byte
		URL    string
	}

	// ToolUsePart declares a tool invocation requested by the assistant.
	// spec.md §3's invariant: every ToolUsePart.ID must be matched, in some
	// later message, by a ToolResultPart with the same ToolUseID. Codecs
	// preserve this pairing across protocol conversions; internal/compat's
	// pure transforms never break it.
	ToolUsePart struct {
		ID    string
		Name  string
		Input any // JSON-compatible structured arguments (never a JSON string)
	}

	// ToolResultPart carries the result of a prior ToolUsePart.
	ToolResultPart struct {
		ToolUseID string
		Content   any // string or JSON-compatible structured payload
		IsError   bool
	}

	// ReasoningPart carries provider-issued chain-of-thought content
	// (Anthropic thinking blocks, <reasoning> markers extracted by
	// internal/compat from providers that inline it as text).
	ReasoningPart struct {
		Text      string
		Signature string
	}

	// Message is a single ordered chat turn.
	Message struct {
		Role  Role
		Parts []Part
		// Meta carries protocol- or provider-specific metadata that survives
		// a round trip through the canonical form without being
		// interpreted by codecs (e.g. an OpenAI Responses item id).
		Meta map[string]any
	}
)

const (
	ImageFormatPNG  ImageFormat = "png"
	ImageFormatJPEG ImageFormat = "jpeg"
	ImageFormatGIF  ImageFormat = "gif"
	ImageFormatWEBP ImageFormat = "webp"
)

func (TextPart) isPart()       {}
func (ImagePart) isPart()      {}
func (ToolUsePart) isPart()    {}
func (ToolResultPart) isPart() {}
func (ReasoningPart) isPart()  {}

// HasImage reports whether the message contains an ImagePart, used by the
// virtual router's vision classification rule (spec.md §4.5 rule 2).
func (m Message) HasImage() bool {
	for _, p := range m.Parts {
		if _, ok := p.(ImagePart); ok {
			return true
		}
	}
	return false
}

// Text concatenates all TextPart content in the message, used by
// classification keyword matching and routing-directive extraction.
func (m Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if t, ok := p.(TextPart); ok {
			out += t.Text
		}
	}
	return out
}

// ToolUses returns every ToolUsePart in the message, in order.
func (m Message) ToolUses() []ToolUsePart {
	var out []ToolUsePart
	for _, p := range m.Parts {
		if t, ok := p.(ToolUsePart); ok {
			out = append(out, t)
		}
	}
	return out
}

// ToolResults returns every ToolResultPart in the message, in order.
func (m Message) ToolResults() []ToolResultPart {
	var out []ToolResultPart
	for _, p := range m.Parts {
		if t, ok := p.(ToolResultPart); ok {
			out = append(out, t)
		}
	}
	return out
}
