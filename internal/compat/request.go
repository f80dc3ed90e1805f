package compat

import "github.com/routecodex/routecodex/internal/canonical"

// Outbound carries a transformed request alongside the header/body
// additions the C2 transport must merge into the wire call; ApplyRequest
// never mutates req in place so callers can compare before/after.
type Outbound struct {
	Request *canonical.ChatRequest
	Headers map[string]string
	Body    map[string]any
}

// ApplyRequest runs the §4.3 request-side processing order: tool-schema
// filtering, then field mapping, then provider-specific preprocessors. It
// is pure: identical (req, profile) always produces an identical Outbound.
func ApplyRequest(req *canonical.ChatRequest, profile Profile) Outbound {
	out := cloneRequest(req)

	filterTools(out, profile)
	body := requestFieldMappingOverrides(out, profile.RequestFieldMappings)
	for k, v := range profile.BodyInjection {
		body[k] = v
	}
	if profile.FlattenMixedContent {
		flattenRequestContent(out)
	}

	return Outbound{
		Request: out,
		Headers: profile.HeaderOverrides,
		Body:    body,
	}
}

// cloneRequest makes a shallow-deep copy sufficient for compat's own
// mutations (message slice and part slices are copied; part values
// themselves are immutable structs so they are not individually cloned).
func cloneRequest(req *canonical.ChatRequest) *canonical.ChatRequest {
	out := *req
	out.Messages = make([]*canonical.Message, len(req.Messages))
	for i, m := range req.Messages {
		mc := *m
		mc.Parts = append([]canonical.Part(nil), m.Parts...)
		out.Messages[i] = &mc
	}
	out.Tools = append([]*canonical.ToolDefinition(nil), req.Tools...)
	return &out
}

// filterTools restricts Tools to profile.AllowedToolNames when set
// (spec.md §4.3 "Gemini-family only accepts googleSearch tools"). If
// filtering removes every tool, Tools and ToolChoice are both cleared.
func filterTools(req *canonical.ChatRequest, profile Profile) {
	if len(profile.AllowedToolNames) == 0 || len(req.Tools) == 0 {
		return
	}
	allowed := make(map[string]bool, len(profile.AllowedToolNames))
	for _, n := range profile.AllowedToolNames {
		allowed[n] = true
	}
	kept := req.Tools[:0]
	for _, t := range req.Tools {
		if allowed[t.Name] {
			kept = append(kept, t)
		}
	}
	req.Tools = kept
	if len(req.Tools) == 0 {
		req.Tools = nil
		req.ToolChoice = nil
	}
}

// requestFieldMappingOverrides reads the small set of sampling paths
// spec.md's field-mapping example names (the canonical model has no
// generic reflection path, so only the concrete fields a profile plausibly
// needs to rename are supported) and returns a body-override map keyed by
// each mapping's TargetPath; the C2 transport merges this over the codec's
// own encoded body so a provider expecting e.g. "max_output_tokens"
// instead of "max_tokens" gets it under the renamed key.
func requestFieldMappingOverrides(req *canonical.ChatRequest, mappings []FieldMapping) map[string]any {
	body := make(map[string]any, len(mappings))
	for _, m := range mappings {
		switch m.SourcePath {
		case "sampling.max_tokens":
			if req.Sampling.MaxTokens != nil {
				body[m.TargetPath] = *req.Sampling.MaxTokens
			}
		case "sampling.temperature":
			if req.Sampling.Temperature != nil {
				body[m.TargetPath] = *req.Sampling.Temperature
			}
		case "sampling.top_p":
			if req.Sampling.TopP != nil {
				body[m.TargetPath] = *req.Sampling.TopP
			}
		case "model":
			body[m.TargetPath] = req.Model
		}
	}
	return body
}

// flattenRequestContent collapses every message's text down to a single
// leading TextPart, dropping images and other non-text parts a downstream
// provider cannot accept on replay. Tool-use/tool-result parts are
// preserved since dropping them would break the pairing invariant
// (canonical.ToolUsePart doc comment); only ReasoningPart text is folded
// into the message body, since reasoning is provider-visible text on
// providers that require flattening.
func flattenRequestContent(req *canonical.ChatRequest) {
	for _, m := range req.Messages {
		var text string
		var structural []canonical.Part
		for _, p := range m.Parts {
			switch v := p.(type) {
			case canonical.TextPart:
				text += v.Text
			case canonical.ReasoningPart:
				text += v.Text
			case canonical.ToolUsePart, canonical.ToolResultPart:
				structural = append(structural, p)
			default:
				// images and other non-text parts are dropped under
				// flattening; the provider cannot accept them as plain
				// text and the spec names flattening as lossy.
			}
		}
		parts := make([]canonical.Part, 0, len(structural)+1)
		if text != "" {
			parts = append(parts, canonical.TextPart{Text: text})
		}
		parts = append(parts, structural...)
		m.Parts = parts
	}
}
