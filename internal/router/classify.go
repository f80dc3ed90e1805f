package router

import (
	"strings"

	"github.com/routecodex/routecodex/internal/canonical"
)

// defaultCodingKeywords/defaultThinkingKeywords/defaultSearchKeywords seed
// Config when the operator does not override them in config.json.
var (
	defaultCodingKeywords   = []string{"```", "func ", "def ", "class ", "import ", "SELECT ", "#include"}
	defaultThinkingKeywords = []string{"think step by step", "reason through", "chain of thought", "explain your reasoning"}
	defaultSearchKeywords   = []string{"search the web", "look up", "latest news", "current price"}
)

// classify applies the spec.md §4.5 rule order and returns the route
// category for req. The explicit directive rule is handled separately by
// the caller (Router.SelectNext) since it bypasses category pools entirely.
func classify(req *canonical.ChatRequest, cfg Config) Category {
	if req.HasVision() {
		return CategoryVision
	}
	if estimateRequestTokens(req) >= cfg.LongContextThresholdTokens {
		return CategoryLongContext
	}
	if toolNamesMatch(req.Tools, codingKeywords(cfg)) || containsAny(requestText(req), codingKeywords(cfg)) {
		return CategoryCoding
	}
	if containsAny(requestText(req), thinkingKeywords(cfg)) {
		return CategoryThinking
	}
	if len(req.Tools) > 0 {
		return CategoryTools
	}
	if containsAny(requestText(req), searchKeywords(cfg)) {
		return CategoryWebSearch
	}
	return CategoryDefault
}

func codingKeywords(cfg Config) []string {
	if len(cfg.CodingKeywords) > 0 {
		return cfg.CodingKeywords
	}
	return defaultCodingKeywords
}

func thinkingKeywords(cfg Config) []string {
	if len(cfg.ThinkingKeywords) > 0 {
		return cfg.ThinkingKeywords
	}
	return defaultThinkingKeywords
}

func searchKeywords(cfg Config) []string {
	if len(cfg.SearchKeywords) > 0 {
		return cfg.SearchKeywords
	}
	return defaultSearchKeywords
}

func containsAny(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// toolNamesMatch reports whether req's tool definitions include one whose
// name matches a configured coding keyword (spec.md §4.5 rule 4's first
// disjunct, e.g. a registered apply_patch/write_file tool).
func toolNamesMatch(tools []*canonical.ToolDefinition, keywords []string) bool {
	for _, t := range tools {
		if t == nil {
			continue
		}
		for _, kw := range keywords {
			if strings.EqualFold(t.Name, kw) {
				return true
			}
		}
	}
	return false
}

func requestText(req *canonical.ChatRequest) string {
	var sb strings.Builder
	for _, m := range req.Messages {
		sb.WriteString(m.Text())
		sb.WriteByte('\n')
	}
	return sb.String()
}
