package compat

import "github.com/routecodex/routecodex/internal/canonical"

// ApplyResponse runs the §4.3 response-side processing order: tool-call
// harvesting from text, then field mapping, then reasoning extraction,
// then finish-reason normalization. It is pure and never mutates resp.
func ApplyResponse(resp *canonical.ChatResponse, profile Profile) *canonical.ChatResponse {
	out := cloneResponse(resp)

	harvestResponseToolCalls(out, profile.ToolHarvest)
	applyResponseFieldMappings(out, profile.ResponseFieldMappings)
	extractResponseReasoning(out, profile.ReasoningMarkers)
	normalizeFinishReason(out, profile.FinishReasonSubstitutions)

	return out
}

func cloneResponse(resp *canonical.ChatResponse) *canonical.ChatResponse {
	out := *resp
	out.Content = make([]canonical.Message, len(resp.Content))
	for i, m := range resp.Content {
		mc := m
		mc.Parts = append([]canonical.Part(nil), m.Parts...)
		out.Content[i] = mc
	}
	out.ToolCalls = append([]canonical.ToolCall(nil), resp.ToolCalls...)
	return &out
}

// harvestResponseToolCalls scans every TextPart in resp.Content for inline
// tool-call markers and promotes recovered calls into resp.ToolCalls,
// removing the matched text and assigning deterministic synthetic IDs in
// source order (spec.md §4.3 "deterministic ordering").
func harvestResponseToolCalls(resp *canonical.ChatResponse, mode ToolHarvestMode) {
	if mode == HarvestNone {
		return
	}
	seq := len(resp.ToolCalls)
	for mi := range resp.Content {
		m := &resp.Content[mi]
		for pi, p := range m.Parts {
			t, ok := p.(canonical.TextPart)
			if !ok {
				continue
			}
			calls, remaining := harvestToolCalls(t.Text, mode)
			if len(calls) == 0 {
				continue
			}
			m.Parts[pi] = canonical.TextPart{Text: remaining}
			for _, c := range calls {
				resp.ToolCalls = append(resp.ToolCalls, canonical.ToolCall{
					ID:      harvestedCallID(seq),
					Name:    c.Name,
					Payload: c.Input,
				})
				seq++
			}
		}
	}
}

func harvestedCallID(seq int) string {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	if seq == 0 {
		return "harvested_0"
	}
	digits := make([]byte, 0, 8)
	for seq > 0 {
		digits = append([]byte{alphabet[seq%len(alphabet)]}, digits...)
		seq /= len(alphabet)
	}
	return "harvested_" + string(digits)
}

// applyResponseFieldMappings reassigns one usage counter to another when a
// provider reports caching under a swapped label (observed on providers
// that call prompt-cache writes "cached_tokens" rather than reads); the
// source field is zeroed once moved so a counter is never double-counted.
func applyResponseFieldMappings(resp *canonical.ChatResponse, mappings []FieldMapping) {
	for _, m := range mappings {
		src := usageField(&resp.Usage, m.SourcePath)
		dst := usageField(&resp.Usage, m.TargetPath)
		if src == nil || dst == nil || src == dst {
			continue
		}
		*dst = *src
		*src = 0
	}
}

func usageField(u *canonical.TokenUsage, path string) *int {
	switch path {
	case "usage.input_tokens":
		return &u.InputTokens
	case "usage.output_tokens":
		return &u.OutputTokens
	case "usage.total_tokens":
		return &u.TotalTokens
	case "usage.cache_read_tokens":
		return &u.CacheReadTokens
	case "usage.cache_write_tokens":
		return &u.CacheWriteTokens
	default:
		return nil
	}
}

// extractResponseReasoning pulls marker-delimited reasoning text out of
// every TextPart and consolidates it into a single ReasoningPart per
// message, preserving part order otherwise.
func extractResponseReasoning(resp *canonical.ChatResponse, markers []MarkerPair) {
	if len(markers) == 0 {
		return
	}
	for mi := range resp.Content {
		m := &resp.Content[mi]
		var reasoning string
		parts := make([]canonical.Part, 0, len(m.Parts))
		for _, p := range m.Parts {
			t, ok := p.(canonical.TextPart)
			if !ok {
				parts = append(parts, p)
				continue
			}
			extracted, remaining := extractReasoning(t.Text, markers)
			reasoning += extracted
			if remaining != "" {
				parts = append(parts, canonical.TextPart{Text: remaining})
			}
		}
		if reasoning != "" {
			parts = append([]canonical.Part{canonical.ReasoningPart{Text: reasoning}}, parts...)
		}
		m.Parts = parts
	}
}

// normalizeFinishReason maps resp.ProviderStop through the profile's
// substitution table onto a canonical.FinishReason when the codec's own
// wire-to-canonical mapping left it unset or the profile overrides it
// (spec.md §4.3 "stop_sequence -> stop").
func normalizeFinishReason(resp *canonical.ChatResponse, substitutions map[string]string) {
	sub, ok := substitutions[resp.ProviderStop]
	if !ok {
		return
	}
	resp.StopReason = canonical.FinishReason(sub)
}
