// Package compat implements the compatibility layer (C3): provider-specific
// request/response adjustments that a protocol codec alone cannot express,
// applied as pure transforms against a declarative Profile (spec.md §4.3).
package compat

import "github.com/routecodex/routecodex/internal/router"

// ToolHarvestMode selects how assistant text is scanned for inline tool
// calls a provider emitted as text instead of a structured tool_use block.
type ToolHarvestMode string

const (
	// HarvestNone performs no text scanning; tool calls are trusted to
	// already be structured.
	HarvestNone ToolHarvestMode = "none"

	// HarvestTagged scans for "<tool_calls>...</tool_calls>" markers
	// containing a JSON array of {name, arguments}.
	HarvestTagged ToolHarvestMode = "tagged"

	// HarvestFencedJSON scans for fenced ```json ... ``` blocks whose
	// content parses as a single tool-call object or array.
	HarvestFencedJSON ToolHarvestMode = "fenced_json"
)

// FieldMapping renames or retypes one field as content crosses the
// compatibility boundary. Path strings are dot-separated, rooted at the
// message/request being transformed (e.g. "sampling.max_tokens").
type FieldMapping struct {
	SourcePath string
	TargetPath string
}

// Profile is the declarative description of one provider's wire quirks
// (spec.md §4.3): "every provider quirk is a data field, not code".
type Profile struct {
	// Name identifies the profile for logging and lookup.
	Name string

	// RequestFieldMappings and ResponseFieldMappings are applied in their
	// respective directions during ApplyRequest/ApplyResponse.
	RequestFieldMappings  []FieldMapping
	ResponseFieldMappings []FieldMapping

	// HeaderOverrides are merged into the outbound HTTP request, taking
	// precedence over the transport's defaults (e.g. Qwen OAuth's
	// X-Goog-Api-Client, Gemini/Antigravity's requestType body injection is
	// handled separately in BodyInjection since it is not a header).
	HeaderOverrides map[string]string

	// BodyInjection adds top-level fields to the outbound wire body that no
	// codec field models (e.g. Gemini/Antigravity's requestType: "agent").
	BodyInjection map[string]any

	// AllowedToolNames, when non-empty, restricts outbound tools to this
	// set (e.g. Gemini-family: only "googleSearch"); if filtering removes
	// every tool, ToolChoice is cleared along with the Tools slice.
	AllowedToolNames []string

	// ToolHarvest selects how inline tool-call text is promoted to
	// structured ToolCalls during ApplyResponse.
	ToolHarvest ToolHarvestMode

	// ReasoningMarkers are paired open/close markers whose enclosed text is
	// extracted into a canonical.ReasoningPart (e.g. {"<reasoning>",
	// "</reasoning>"}).
	ReasoningMarkers []MarkerPair

	// FinishReasonSubstitutions maps a provider's raw finish-reason string
	// to a canonical.FinishReason during ApplyResponse, after the codec has
	// decoded the response; a match overrides the codec's StopReason (e.g.
	// "stop_sequence" -> "stop").
	FinishReasonSubstitutions map[string]string

	// FlattenMixedContent collapses the text and reasoning parts of every
	// outbound message into one leading TextPart and drops images; tool-use
	// and tool-result parts are kept after it (used for providers that only
	// accept plain string content on replay).
	FlattenMixedContent bool
}

// MarkerPair is an open/close delimiter pair used for reasoning extraction.
type MarkerPair struct {
	Open  string
	Close string
}

// Registry resolves a router.Target to its compatibility Profile, first by
// provider id, falling back to the target's protocol family default.
type Registry struct {
	byProvider map[string]Profile
	byFamily   map[router.ProtocolFamily]Profile
}

// NewRegistry constructs a Registry seeded with the built-in profiles and
// any caller-supplied per-provider overrides.
func NewRegistry(overrides map[string]Profile) *Registry {
	r := &Registry{
		byProvider: map[string]Profile{},
		byFamily: map[router.ProtocolFamily]Profile{
			router.ProtocolOpenAICompat: openAIProfile,
			router.ProtocolAnthropic:    anthropicProfile,
			router.ProtocolGemini:       geminiProfile,
		},
	}
	for id, p := range builtinProviderProfiles {
		r.byProvider[id] = p
	}
	for id, p := range overrides {
		r.byProvider[id] = p
	}
	return r
}

// For returns the Profile to apply for target, preferring a provider-id
// match over the protocol-family default.
func (r *Registry) For(target router.Target) Profile {
	if p, ok := r.byProvider[target.ProviderID]; ok {
		return p
	}
	if p, ok := r.byFamily[target.Protocol]; ok {
		return p
	}
	return Profile{Name: "identity"}
}
