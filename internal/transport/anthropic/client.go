// Package anthropic implements the provider transport (C2) for the
// Anthropic Messages family: direct Anthropic, and any target whose
// internal/compat profile declares the "anthropic" wire shape. It builds
// sdk.MessageNewParams straight from canonical.ChatRequest, bypassing
// internal/codec's wire-JSON structs entirely, since the SDK is the
// outbound call builder here rather than a wire-format decoder.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/routecodex/routecodex/internal/canonical"
	"github.com/routecodex/routecodex/internal/routeerr"
	"github.com/routecodex/routecodex/internal/transport"
)

// MessagesClient captures the subset of the Anthropic SDK used here so
// tests can substitute a mock in place of *sdk.MessageService.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) StreamSource
}

// StreamSource is the subset of *ssestream.Stream[sdk.MessageStreamEventUnion]
// the streamer consumes.
type StreamSource interface {
	Next() bool
	Current() sdk.MessageStreamEventUnion
	Err() error
	Close() error
}

// Transport implements transport.Transport for the Anthropic Messages
// family (spec.md §4.2).
type Transport struct {
	msg          MessagesClient
	defaultModel string

	// RetryPolicy governs Send's retry/backoff loop (spec.md §4.2).
	// Defaults to transport.DefaultRetryPolicy; exported so callers can
	// tune it per provider or shrink it in tests.
	RetryPolicy transport.RetryPolicy
}

// New builds an Anthropic Transport. defaultModel is used when a request
// carries no model id after routing (should not normally occur, since the
// router always resolves one, but keeps Send total).
func New(msg MessagesClient, defaultModel string) *Transport {
	return &Transport{msg: msg, defaultModel: defaultModel, RetryPolicy: transport.DefaultRetryPolicy}
}

const component = "transport.anthropic"

// Send issues req against opts.BaseURL/ModelID via Messages.New or
// Messages.NewStreaming depending on req.Stream.
func (t *Transport) Send(ctx context.Context, req *canonical.ChatRequest, opts transport.SendOptions) (*canonical.ChatResponse, transport.StreamHandle, error) {
	params, nameMap, err := t.prepareRequest(req, opts)
	if err != nil {
		return nil, nil, routeerr.Wrap(routeerr.KindDecode, component, "request encode failed", err)
	}
	reqOpts := requestOptions(opts)

	if req.Stream {
		var stream StreamSource
		retryErr := transport.Do(ctx, t.RetryPolicy, component, func(ctx context.Context) (transport.Classification, error) {
			s := t.msg.NewStreaming(ctx, *params, reqOpts...)
			if err := s.Err(); err != nil {
				return classification(err), classifyErr(err)
			}
			stream = s
			return transport.Classification{}, nil
		})
		if retryErr != nil {
			return nil, nil, retryErr
		}
		return nil, newStreamer(ctx, stream, nameMap), nil
	}

	var msg *sdk.Message
	retryErr := transport.Do(ctx, t.RetryPolicy, component, func(ctx context.Context) (transport.Classification, error) {
		m, err := t.msg.New(ctx, *params, reqOpts...)
		if err != nil {
			return classification(err), classifyErr(err)
		}
		msg = m
		return transport.Classification{}, nil
	})
	if retryErr != nil {
		return nil, nil, retryErr
	}
	resp, err := translateResponse(msg, nameMap)
	if err != nil {
		return nil, nil, routeerr.Wrap(routeerr.KindDecode, component, "response decode failed", err)
	}
	return resp, nil, nil
}

// CheckHealth issues a minimal Messages.New call and reports transport
// reachability independent of any specific caller request.
func (t *Transport) CheckHealth(ctx context.Context, opts transport.SendOptions) error {
	model := opts.ModelID
	if model == "" {
		model = t.defaultModel
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: 1,
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock("ping"))},
	}
	_, err := t.msg.New(ctx, params, requestOptions(opts)...)
	if err != nil {
		return classifyErr(err)
	}
	return nil
}

func requestOptions(opts transport.SendOptions) []option.RequestOption {
	var reqOpts []option.RequestOption
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	for k, v := range opts.MergedHeaders() {
		reqOpts = append(reqOpts, option.WithHeader(k, v))
	}
	reqOpts = append(reqOpts, option.WithRequestTimeout(opts.EffectiveTimeout()))
	return reqOpts
}

func (t *Transport) prepareRequest(req *canonical.ChatRequest, opts transport.SendOptions) (*sdk.MessageNewParams, map[string]string, error) {
	if len(req.Messages) == 0 {
		return nil, nil, errors.New("anthropic: messages are required")
	}
	modelID := opts.ModelID
	if modelID == "" {
		modelID = t.defaultModel
	}
	if modelID == "" {
		return nil, nil, errors.New("anthropic: model identifier is required")
	}

	tools, canonToSan, sanToCanon, err := encodeTools(req.Tools)
	if err != nil {
		return nil, nil, err
	}
	msgs, system, err := encodeMessages(req.Messages, canonToSan)
	if err != nil {
		return nil, nil, err
	}

	maxTokens := 4096
	if req.Sampling.MaxTokens != nil && *req.Sampling.MaxTokens > 0 {
		maxTokens = *req.Sampling.MaxTokens
	}
	if v, ok := opts.BodyOverrides["max_tokens"].(int); ok && v > 0 {
		maxTokens = v
	}

	params := sdk.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
		Model:     sdk.Model(modelID),
	}
	if len(system) > 0 {
		params.System = system
	}
	if len(tools) > 0 {
		params.Tools = tools
	}
	if req.Sampling.Temperature != nil {
		params.Temperature = sdk.Float(*req.Sampling.Temperature)
	}
	if req.Sampling.TopP != nil {
		params.TopP = sdk.Float(*req.Sampling.TopP)
	}
	if req.ToolChoice != nil {
		tc, err := encodeToolChoice(req.ToolChoice, canonToSan, req.Tools)
		if err != nil {
			return nil, nil, err
		}
		params.ToolChoice = tc
	}
	return &params, sanToCanon, nil
}

func encodeMessages(msgs []*canonical.Message, nameMap map[string]string) ([]sdk.MessageParam, []sdk.TextBlockParam, error) {
	conversation := make([]sdk.MessageParam, 0, len(msgs))
	system := make([]sdk.TextBlockParam, 0, len(msgs))

	for _, m := range msgs {
		if m == nil {
			continue
		}
		if m.Role == canonical.RoleSystem {
			if text := m.Text(); text != "" {
				system = append(system, sdk.TextBlockParam{Text: text})
			}
			continue
		}

		blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.Parts))
		for _, part := range m.Parts {
			switch v := part.(type) {
			case canonical.TextPart:
				if v.Text != "" {
					blocks = append(blocks, sdk.NewTextBlock(v.Text))
				}
			case canonical.ToolUsePart:
				if v.Name == "" {
					return nil, nil, errors.New("anthropic: tool_use part missing name")
				}
				sanitized, ok := nameMap[v.Name]
				if !ok || sanitized == "" {
					sanitized = sanitizeToolName(v.Name)
				}
				blocks = append(blocks, sdk.NewToolUseBlock(v.ID, v.Input, sanitized))
			case canonical.ToolResultPart:
				blocks = append(blocks, encodeToolResult(v))
			case canonical.ReasoningPart:
				// Thinking blocks are only accepted back from the model, not
				// re-submitted by the client; dropped on re-encode.
			}
		}
		if len(blocks) == 0 {
			continue
		}
		switch m.Role {
		case canonical.RoleUser, canonical.RoleTool:
			conversation = append(conversation, sdk.NewUserMessage(blocks...))
		case canonical.RoleAssistant:
			conversation = append(conversation, sdk.NewAssistantMessage(blocks...))
		default:
			return nil, nil, fmt.Errorf("anthropic: unsupported message role %q", m.Role)
		}
	}
	if len(conversation) == 0 {
		return nil, nil, errors.New("anthropic: at least one user/assistant message is required")
	}
	return conversation, system, nil
}

func encodeToolResult(v canonical.ToolResultPart) sdk.ContentBlockParamUnion {
	var content string
	switch c := v.Content.(type) {
	case nil:
		content = ""
	case string:
		content = c
	case []byte:
		content = string(c)
	default:
		if data, err := json.Marshal(c); err == nil {
			content = string(data)
		}
	}
	return sdk.NewToolResultBlock(v.ToolUseID, content, v.IsError)
}

func encodeTools(defs []*canonical.ToolDefinition) ([]sdk.ToolUnionParam, map[string]string, map[string]string, error) {
	if len(defs) == 0 {
		return nil, nil, nil, nil
	}
	toolList := make([]sdk.ToolUnionParam, 0, len(defs))
	canonToSan := make(map[string]string, len(defs))
	sanToCanon := make(map[string]string, len(defs))

	for _, def := range defs {
		if def == nil || def.Name == "" {
			continue
		}
		sanitized := sanitizeToolName(def.Name)
		if prev, ok := sanToCanon[sanitized]; ok && prev != def.Name {
			return nil, nil, nil, fmt.Errorf("anthropic: tool name %q sanitizes to %q which collides with %q", def.Name, sanitized, prev)
		}
		sanToCanon[sanitized] = def.Name
		canonToSan[def.Name] = sanitized

		u := sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{ExtraFields: def.InputSchema}, sanitized)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(def.Description)
		}
		toolList = append(toolList, u)
	}
	if len(toolList) == 0 {
		return nil, nil, nil, nil
	}
	return toolList, canonToSan, sanToCanon, nil
}

func encodeToolChoice(choice *canonical.ToolChoice, canonToSan map[string]string, defs []*canonical.ToolDefinition) (sdk.ToolChoiceUnionParam, error) {
	switch choice.Mode {
	case "", canonical.ToolChoiceAuto:
		return sdk.ToolChoiceUnionParam{}, nil
	case canonical.ToolChoiceNone:
		none := sdk.NewToolChoiceNoneParam()
		return sdk.ToolChoiceUnionParam{OfNone: &none}, nil
	case canonical.ToolChoiceRequired:
		return sdk.ToolChoiceUnionParam{OfAny: &sdk.ToolChoiceAnyParam{}}, nil
	case canonical.ToolChoiceTool:
		if choice.Name == "" {
			return sdk.ToolChoiceUnionParam{}, errors.New("anthropic: tool choice mode \"tool\" requires a tool name")
		}
		if !hasToolDefinition(defs, choice.Name) {
			return sdk.ToolChoiceUnionParam{}, fmt.Errorf("anthropic: tool choice name %q does not match any tool", choice.Name)
		}
		sanitized, ok := canonToSan[choice.Name]
		if !ok || sanitized == "" {
			return sdk.ToolChoiceUnionParam{}, fmt.Errorf("anthropic: tool choice name %q does not match any tool", choice.Name)
		}
		return sdk.ToolChoiceParamOfTool(sanitized), nil
	default:
		return sdk.ToolChoiceUnionParam{}, fmt.Errorf("anthropic: unsupported tool choice mode %q", choice.Mode)
	}
}

func hasToolDefinition(defs []*canonical.ToolDefinition, name string) bool {
	for _, def := range defs {
		if def != nil && def.Name == name {
			return true
		}
	}
	return false
}

// sanitizeToolName maps a tool identifier to Anthropic's allowed character
// set (alnum, '_', '-') by replacing any disallowed rune with '_'.
func sanitizeToolName(in string) string {
	if isProviderSafeToolName(in) {
		return in
	}
	out := make([]rune, 0, len(in))
	for _, r := range in {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			out = append(out, r)
		} else {
			out = append(out, '_')
		}
	}
	return strings.TrimSpace(string(out))
}

func isProviderSafeToolName(name string) bool {
	if name == "" || len(name) > 64 {
		return false
	}
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			continue
		}
		return false
	}
	return true
}

func translateResponse(msg *sdk.Message, nameMap map[string]string) (*canonical.ChatResponse, error) {
	if msg == nil {
		return nil, errors.New("anthropic: response message is nil")
	}
	resp := &canonical.ChatResponse{}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			if block.Text == "" {
				continue
			}
			resp.Content = append(resp.Content, canonical.Message{
				Role:  canonical.RoleAssistant,
				Parts: []canonical.Part{canonical.TextPart{Text: block.Text}},
			})
		case "thinking":
			if block.Thinking == "" {
				continue
			}
			resp.Content = append(resp.Content, canonical.Message{
				Role:  canonical.RoleAssistant,
				Parts: []canonical.Part{canonical.ReasoningPart{Text: block.Thinking, Signature: block.Signature}},
			})
		case "tool_use":
			name := block.Name
			if canon, ok := nameMap[name]; ok {
				name = canon
			}
			resp.ToolCalls = append(resp.ToolCalls, canonical.ToolCall{
				ID:      block.ID,
				Name:    name,
				Payload: block.Input,
			})
		}
	}
	u := msg.Usage
	resp.Usage = canonical.TokenUsage{
		InputTokens:      int(u.InputTokens),
		OutputTokens:     int(u.OutputTokens),
		TotalTokens:      int(u.InputTokens + u.OutputTokens),
		CacheReadTokens:  int(u.CacheReadInputTokens),
		CacheWriteTokens: int(u.CacheCreationInputTokens),
	}
	resp.ProviderStop = string(msg.StopReason)
	resp.StopReason = mapStopReason(string(msg.StopReason))
	return resp, nil
}

func mapStopReason(raw string) canonical.FinishReason {
	switch raw {
	case "end_turn", "stop_sequence":
		return canonical.FinishStop
	case "max_tokens":
		return canonical.FinishLength
	case "tool_use":
		return canonical.FinishToolCall
	default:
		return ""
	}
}

func classifyErr(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		status := apiErr.StatusCode
		switch {
		case status == 401 || status == 403:
			return routeerr.Wrap(routeerr.KindAuth, component, "anthropic rejected credentials", err).WithStatus(status)
		case status == 429 || status >= 500:
			return routeerr.Wrap(routeerr.KindUpstreamUnreachable, component, "anthropic transient failure", err).WithStatus(status).WithRetryable(true)
		case status >= 400:
			return routeerr.Wrap(routeerr.KindUpstreamRejected, component, "anthropic rejected request", err).WithStatus(status)
		}
	}
	return routeerr.Wrap(routeerr.KindUpstreamUnreachable, component, "anthropic call failed", err).WithRetryable(true)
}

// classification derives a transport.Classification from the same status
// inspection classifyErr performs, so transport.Do knows whether to retry
// without re-parsing the classified *routeerr.Error.
func classification(err error) transport.Classification {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return transport.ClassifyStatus(apiErr.StatusCode)
	}
	return transport.ClassifyNetworkError(err)
}
