package compat

// openAIProfile is the identity profile: OpenAI's own wire shape needs no
// adjustment beyond what the codec already produces.
var openAIProfile = Profile{
	Name:                      "openai",
	FinishReasonSubstitutions: map[string]string{},
}

// anthropicProfile is the Anthropic family default. Unlike openAIProfile it
// is not an identity profile: it substitutes a raw "stop_sequence" provider
// stop value with "stop".
var anthropicProfile = Profile{
	Name: "anthropic",
	FinishReasonSubstitutions: map[string]string{
		"stop_sequence": "stop",
	},
}

// geminiProfile is the protocol-family default for Gemini/Antigravity
// targets not otherwise listed in builtinProviderProfiles.
var geminiProfile = Profile{
	Name:             "gemini",
	AllowedToolNames: []string{"googleSearch"},
	BodyInjection:    map[string]any{"requestType": "agent"},
	ToolHarvest:      HarvestTagged,
}

// builtinProviderProfiles are keyed by provider id (spec.md §6 provider
// identifiers), overriding the protocol-family default for providers with
// their own quirks beyond the family baseline.
var builtinProviderProfiles = map[string]Profile{
	"openai": openAIProfile,

	// GLM (Zhipu) speaks the OpenAI-compatible wire but inlines tool calls
	// as fenced JSON in assistant text rather than a structured field on
	// some model/deployment combinations.
	"glm": {
		Name:        "glm",
		ToolHarvest: HarvestFencedJSON,
		ReasoningMarkers: []MarkerPair{
			{Open: "<reasoning>", Close: "</reasoning>"},
		},
	},

	// Qwen (Alibaba) OAuth-backed endpoint requires specific outbound
	// headers (spec.md §4.2) and emits <tool_calls> tagged blocks for some
	// models.
	"qwen": {
		Name: "qwen",
		HeaderOverrides: map[string]string{
			"User-Agent":        "RouteCodex/1.0 (Qwen-OAuth)",
			"X-Goog-Api-Client": "routecodex",
			"Client-Metadata":   "routecodex-gateway",
		},
		ToolHarvest: HarvestTagged,
	},

	// iFlow speaks OpenAI-compatible wire and commonly wraps reasoning in
	// <think> markers instead of a structured reasoning_content field.
	"iflow": {
		Name:        "iflow",
		ToolHarvest: HarvestFencedJSON,
		ReasoningMarkers: []MarkerPair{
			{Open: "<think>", Close: "</think>"},
		},
	},

	// LM Studio is a local OpenAI-compatible server; no quirks beyond the
	// family default, kept as an explicit entry so its profile is
	// discoverable by provider id rather than silently falling through to
	// the family default.
	"lmstudio": {
		Name: "lmstudio",
	},

	"gemini":      geminiProfile,
	"antigravity": geminiProfile,
}
