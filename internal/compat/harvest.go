package compat

import (
	"encoding/json"
	"regexp"
	"strings"
)

// harvestedCall is one tool call recovered from inline assistant text,
// before it is assigned a synthetic ID and appended as a canonical
// ToolUsePart.
type harvestedCall struct {
	Name  string
	Input any
}

var taggedCallsPattern = regexp.MustCompile(`(?s)<tool_calls>(.*?)</tool_calls>`)
var fencedJSONPattern = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// harvestToolCalls scans text for inline tool-call markers per mode and
// returns the recovered calls in source order plus the text with every
// matched region removed (spec.md §4.3 "deterministic ordering").
func harvestToolCalls(text string, mode ToolHarvestMode) ([]harvestedCall, string) {
	switch mode {
	case HarvestTagged:
		return harvestTagged(text)
	case HarvestFencedJSON:
		return harvestFenced(text)
	default:
		return nil, text
	}
}

func harvestTagged(text string) ([]harvestedCall, string) {
	var calls []harvestedCall
	remaining := taggedCallsPattern.ReplaceAllStringFunc(text, func(match string) string {
		sub := taggedCallsPattern.FindStringSubmatch(match)
		if len(sub) != 2 {
			return ""
		}
		calls = append(calls, parseCallPayload(sub[1])...)
		return ""
	})
	return calls, strings.TrimSpace(remaining)
}

func harvestFenced(text string) ([]harvestedCall, string) {
	var calls []harvestedCall
	remaining := fencedJSONPattern.ReplaceAllStringFunc(text, func(match string) string {
		sub := fencedJSONPattern.FindStringSubmatch(match)
		if len(sub) != 2 {
			return match
		}
		parsed := parseCallPayload(sub[1])
		if len(parsed) == 0 {
			return match
		}
		calls = append(calls, parsed...)
		return ""
	})
	return calls, strings.TrimSpace(remaining)
}

// parseCallPayload decodes a JSON object or array of {"name", "arguments"}
// (accepting "input" as an alias for "arguments"); payloads that don't
// parse to this shape are silently skipped rather than failing the whole
// response, since harvesting is best-effort recovery of text a provider
// never intended to be machine-strict.
func parseCallPayload(raw string) []harvestedCall {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var single struct {
		Name      string `json:"name"`
		Arguments any    `json:"arguments"`
		Input     any    `json:"input"`
	}
	if err := json.Unmarshal([]byte(raw), &single); err == nil && single.Name != "" {
		return []harvestedCall{{Name: single.Name, Input: firstNonNil(single.Arguments, single.Input)}}
	}
	var list []struct {
		Name      string `json:"name"`
		Arguments any    `json:"arguments"`
		Input     any    `json:"input"`
	}
	if err := json.Unmarshal([]byte(raw), &list); err == nil {
		out := make([]harvestedCall, 0, len(list))
		for _, c := range list {
			if c.Name == "" {
				continue
			}
			out = append(out, harvestedCall{Name: c.Name, Input: firstNonNil(c.Arguments, c.Input)})
		}
		return out
	}
	return nil
}

func firstNonNil(a, b any) any {
	if a != nil {
		return a
	}
	return b
}

// extractReasoning pulls every occurrence of each marker pair's enclosed
// text out of text, concatenating multiple matches of the same pair in
// order, and returns the remaining text with all matched regions removed.
func extractReasoning(text string, markers []MarkerPair) (reasoning string, remaining string) {
	remaining = text
	for _, mp := range markers {
		if mp.Open == "" || mp.Close == "" {
			continue
		}
		for {
			start := strings.Index(remaining, mp.Open)
			if start < 0 {
				break
			}
			end := strings.Index(remaining[start+len(mp.Open):], mp.Close)
			if end < 0 {
				break
			}
			end += start + len(mp.Open)
			reasoning += remaining[start+len(mp.Open) : end]
			remaining = remaining[:start] + remaining[end+len(mp.Close):]
		}
	}
	return reasoning, strings.TrimSpace(remaining)
}
