package httpapi

import (
	"encoding/json"

	"github.com/routecodex/routecodex/internal/canonical"
)

// detectProtocol sniffs a request body's top-level keys to recognize a
// client posting an Anthropic or Responses-shaped body at
// /v1/chat/completions (spec.md §6: "handler auto-detects and normalizes
// Anthropic or Responses shapes when detected"). Anthropic Messages is the
// only one of the three wire shapes with a top-level "system" field
// (OpenAI folds system into the messages array); Responses is the only one
// with a top-level "input" field. Anything else is treated as the
// requested default.
func detectProtocol(body []byte, fallback canonical.WireProtocol) canonical.WireProtocol {
	var peek struct {
		System json.RawMessage `json:"system"`
		Input  json.RawMessage `json:"input"`
	}
	if err := json.Unmarshal(body, &peek); err != nil {
		return fallback
	}
	if len(peek.Input) > 0 {
		return canonical.ProtocolOpenAIResponses
	}
	if len(peek.System) > 0 {
		return canonical.ProtocolAnthropic
	}
	return fallback
}
