package canonical

import "regexp"

type (
	// ToolDefinition describes a tool exposed to the model.
	ToolDefinition struct {
		Name        string
		Description string
		// InputSchema is a JSON Schema object (decoded, not a raw string).
		InputSchema map[string]any
	}

	// ToolChoiceMode controls how a Request asks the model to use tools.
	ToolChoiceMode string

	// ToolChoice configures tool-use behavior. Nil means provider default
	// (normally auto).
	ToolChoice struct {
		Mode ToolChoiceMode
		Name string // set when Mode == ToolChoiceModeTool
	}

	// Sampling carries optional generation parameters.
	Sampling struct {
		Temperature *float64
		TopP        *float64
		MaxTokens   *int
	}

	// RoutingDirective is an explicit target selector extracted either from
	// the request's Model field ("provider.model") or from an inline
	// "<**provider.model**>" marker in user text (spec.md §3, §4.5 rule 1).
	RoutingDirective struct {
		Provider string
		Model    string
		// Source records where the directive came from, for observability
		// and for the configurable precedence rule (DESIGN.md Open
		// Question decision).
		Source DirectiveSource
	}

	// DirectiveSource identifies where a RoutingDirective was found.
	DirectiveSource string

	// ChatRequest is the canonical representation of an inbound chat
	// completion request, independent of wire protocol.
	ChatRequest struct {
		// Model is the raw model field as given by the client (may be bare
		// or "provider.model"); ModelDirective, when non-nil, is the parsed
		// explicit target extracted from it.
		Model          string
		ModelDirective *RoutingDirective

		Messages []*Message
		Tools    []*ToolDefinition
		ToolChoice *ToolChoice
		Stream   bool
		Sampling Sampling

		// InlineDirective is the directive parsed out of user text, if any
		// (already stripped from the corresponding Message's text by the
		// time decode returns).
		InlineDirective *RoutingDirective
	}
)

const (
	ToolChoiceAuto     ToolChoiceMode = "auto"
	ToolChoiceNone     ToolChoiceMode = "none"
	ToolChoiceRequired ToolChoiceMode = "required"
	ToolChoiceTool     ToolChoiceMode = "tool"
)

const (
	DirectiveSourceModelField DirectiveSource = "model_field"
	DirectiveSourceInline     DirectiveSource = "inline"
)

// inlineDirectivePattern implements the strict grammar decided in
// DESIGN.md's Open Question resolution: greedy match up to the first
// closing "**>", rejecting embedded "*", "<", or ">" so punctuation-heavy
// user text cannot smuggle an unintended close sequence.
var inlineDirectivePattern = regexp.MustCompile(`<\*\*([^*<>]+)\*\*>`)

// ExtractInlineDirective scans text for a "<**provider.model**>" marker. It
// returns the parsed directive, the text with the marker removed, and
// whether a marker was found. Only the first match is honored (spec.md §9:
// "first match wins" is not stated for directives specifically, but is
// consistent with §4.5's classification rule ordering).
func ExtractInlineDirective(text string) (*RoutingDirective, string, bool) {
	loc := inlineDirectivePattern.FindStringSubmatchIndex(text)
	if loc == nil {
		return nil, text, false
	}
	target := text[loc[2]:loc[3]]
	stripped := text[:loc[0]] + text[loc[1]:]
	provider, model, ok := SplitProviderModel(target)
	if !ok {
		return nil, text, false
	}
	return &RoutingDirective{Provider: provider, Model: model, Source: DirectiveSourceInline}, stripped, true
}

// SplitProviderModel splits a "provider.model" directive string at its
// first ".", so the model part may itself contain dots ("iflow.glm-4.7"
// gives provider "iflow" and model "glm-4.7"). ok is false when s has no
// dot or either half is empty. The provider half is not checked against
// any provider-id shape: a dotted bare model name such as "gpt-4.1" also
// splits, into "gpt-4" and "1".
func SplitProviderModel(s string) (provider, model string, ok bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			return s[:i], s[i+1:], s[:i] != "" && s[i+1:] != ""
		}
	}
	return "", "", false
}

// HasVision reports whether any message carries an ImagePart, used by the
// router's vision classification rule (spec.md §4.5).
func (r *ChatRequest) HasVision() bool {
	for _, m := range r.Messages {
		if m.HasImage() {
			return true
		}
	}
	return false
}

// ParseModelDirective extracts an explicit provider.model directive from a
// request's bare Model field, per spec.md §3 ("may be bare... or
// provider.model; the router strips the prefix when present").
func ParseModelDirective(model string) *RoutingDirective {
	provider, m, ok := SplitProviderModel(model)
	if !ok {
		return nil
	}
	return &RoutingDirective{Provider: provider, Model: m, Source: DirectiveSourceModelField}
}
