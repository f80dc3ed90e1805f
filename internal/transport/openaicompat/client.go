// Package openaicompat implements the provider transport (C2) for every
// family that speaks the OpenAI Chat Completions wire shape: OpenAI
// itself, and any OAuth/API-key provider whose internal/compat profile
// declares the "openai" family (GLM, Qwen, iFlow, LM Studio, and
// Gemini/Antigravity by way of a profile variant that only differs in
// header/body injection, not in this transport's encode/decode logic).
package openaicompat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/routecodex/routecodex/internal/canonical"
	"github.com/routecodex/routecodex/internal/routeerr"
	"github.com/routecodex/routecodex/internal/transport"
)

// ChatClient captures the subset of openai.Client used here so tests can
// substitute a stub in place of the real client.Chat.Completions service.
type ChatClient interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
	NewStreaming(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) StreamSource
}

// StreamSource is the subset of *ssestream.Stream[openai.ChatCompletionChunk]
// the streamer consumes.
type StreamSource interface {
	Next() bool
	Current() openai.ChatCompletionChunk
	Err() error
	Close() error
}

// Transport implements transport.Transport for OpenAI-wire-compatible
// providers (spec.md §4.2).
type Transport struct {
	chat         ChatClient
	defaultModel string

	// RetryPolicy governs Send's retry/backoff loop (spec.md §4.2).
	// Defaults to transport.DefaultRetryPolicy; exported so callers can
	// tune it per provider or shrink it in tests.
	RetryPolicy transport.RetryPolicy
}

// New builds an openaicompat Transport.
func New(chat ChatClient, defaultModel string) *Transport {
	return &Transport{chat: chat, defaultModel: defaultModel, RetryPolicy: transport.DefaultRetryPolicy}
}

const component = "transport.openaicompat"

// Send issues req against opts.BaseURL/ModelID via Chat.Completions.New or
// .NewStreaming depending on req.Stream.
func (t *Transport) Send(ctx context.Context, req *canonical.ChatRequest, opts transport.SendOptions) (*canonical.ChatResponse, transport.StreamHandle, error) {
	params, err := t.prepareRequest(req, opts)
	if err != nil {
		return nil, nil, routeerr.Wrap(routeerr.KindDecode, component, "request encode failed", err)
	}
	reqOpts := requestOptions(opts)

	if req.Stream {
		params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}
		var stream StreamSource
		retryErr := transport.Do(ctx, t.RetryPolicy, component, func(ctx context.Context) (transport.Classification, error) {
			s := t.chat.NewStreaming(ctx, *params, reqOpts...)
			if err := s.Err(); err != nil {
				return classification(err), classifyErr(err)
			}
			stream = s
			return transport.Classification{}, nil
		})
		if retryErr != nil {
			return nil, nil, retryErr
		}
		return nil, newStreamer(ctx, stream), nil
	}

	var completion *openai.ChatCompletion
	retryErr := transport.Do(ctx, t.RetryPolicy, component, func(ctx context.Context) (transport.Classification, error) {
		c, err := t.chat.New(ctx, *params, reqOpts...)
		if err != nil {
			return classification(err), classifyErr(err)
		}
		completion = c
		return transport.Classification{}, nil
	})
	if retryErr != nil {
		return nil, nil, retryErr
	}
	return translateResponse(completion), nil, nil
}

// CheckHealth issues a minimal chat completion and reports reachability.
func (t *Transport) CheckHealth(ctx context.Context, opts transport.SendOptions) error {
	model := opts.ModelID
	if model == "" {
		model = t.defaultModel
	}
	params := openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(model),
		Messages:            []openai.ChatCompletionMessageParamUnion{openai.UserMessage("ping")},
		MaxCompletionTokens: openai.Int(1),
	}
	_, err := t.chat.New(ctx, params, requestOptions(opts)...)
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

func (t *Transport) prepareRequest(req *canonical.ChatRequest, opts transport.SendOptions) (*openai.ChatCompletionNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("openaicompat: messages are required")
	}
	modelID := opts.ModelID
	if modelID == "" {
		modelID = t.defaultModel
	}
	if modelID == "" {
		return nil, errors.New("openaicompat: model identifier is required")
	}

	msgs, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(modelID),
		Messages: msgs,
	}
	if req.Sampling.MaxTokens != nil && *req.Sampling.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(*req.Sampling.MaxTokens))
	}
	if req.Sampling.Temperature != nil {
		params.Temperature = openai.Float(*req.Sampling.Temperature)
	}
	if req.Sampling.TopP != nil {
		params.TopP = openai.Float(*req.Sampling.TopP)
	}
	if len(req.Tools) > 0 {
		tools, err := encodeTools(req.Tools)
		if err != nil {
			return nil, err
		}
		params.Tools = tools
	}
	if req.ToolChoice != nil {
		tc, err := encodeToolChoice(req.ToolChoice)
		if err != nil {
			return nil, err
		}
		params.ToolChoice = tc
	}
	// opts.BodyOverrides (Gemini/Antigravity's requestType: "agent" and
	// similar top-level fields) have no stable param-struct field on
	// ChatCompletionNewParams and are not sent by this transport; no
	// profile carries them as headers either.
	return &params, nil
}

func encodeMessages(msgs []*canonical.Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		switch m.Role {
		case canonical.RoleSystem:
			if text := m.Text(); text != "" {
				out = append(out, openai.SystemMessage(text))
			}
		case canonical.RoleUser:
			out = append(out, openai.UserMessage(m.Text()))
		case canonical.RoleAssistant:
			out = append(out, encodeAssistantMessage(m))
		case canonical.RoleTool:
			for _, r := range m.ToolResults() {
				out = append(out, openai.ToolMessage(toolResultText(r), r.ToolUseID))
			}
		default:
			return nil, fmt.Errorf("openaicompat: unsupported message role %q", m.Role)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("openaicompat: at least one message is required")
	}
	return out, nil
}

func encodeAssistantMessage(m *canonical.Message) openai.ChatCompletionMessageParamUnion {
	assistant := openai.ChatCompletionAssistantMessageParam{}
	if text := m.Text(); text != "" {
		assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(text)}
	}
	toolUses := m.ToolUses()
	if len(toolUses) == 0 {
		return openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant}
	}
	calls := make([]openai.ChatCompletionMessageToolCallParam, 0, len(toolUses))
	for _, tu := range toolUses {
		calls = append(calls, openai.ChatCompletionMessageToolCallParam{
			ID: tu.ID,
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      tu.Name,
				Arguments: toolInputJSON(tu.Input),
			},
		})
	}
	assistant.ToolCalls = calls
	return openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant}
}

func toolInputJSON(v any) string {
	switch c := v.(type) {
	case nil:
		return "{}"
	case string:
		return c
	case json.RawMessage:
		return string(c)
	default:
		data, err := json.Marshal(c)
		if err != nil {
			return "{}"
		}
		return string(data)
	}
}

func toolResultText(r canonical.ToolResultPart) string {
	switch c := r.Content.(type) {
	case nil:
		return ""
	case string:
		return c
	case []byte:
		return string(c)
	default:
		data, err := json.Marshal(c)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

func encodeTools(defs []*canonical.ToolDefinition) ([]openai.ChatCompletionToolUnionParam, error) {
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(defs))
	for _, def := range defs {
		if def == nil || def.Name == "" {
			continue
		}
		out = append(out, openai.ChatCompletionFunctionTool(shared.FunctionDefinitionParam{
			Name:        def.Name,
			Description: openai.String(def.Description),
			Parameters:  shared.FunctionParameters(def.InputSchema),
		}))
	}
	return out, nil
}

func encodeToolChoice(choice *canonical.ToolChoice) (openai.ChatCompletionToolChoiceOptionUnionParam, error) {
	switch choice.Mode {
	case "", canonical.ToolChoiceAuto:
		return openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("auto")}, nil
	case canonical.ToolChoiceNone:
		return openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("none")}, nil
	case canonical.ToolChoiceRequired:
		return openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("required")}, nil
	case canonical.ToolChoiceTool:
		if choice.Name == "" {
			return openai.ChatCompletionToolChoiceOptionUnionParam{}, errors.New("openaicompat: tool choice mode \"tool\" requires a tool name")
		}
		return openai.ChatCompletionToolChoiceOptionUnionParam{
			OfChatCompletionNamedToolChoice: &openai.ChatCompletionNamedToolChoiceParam{
				Function: openai.ChatCompletionNamedToolChoiceFunctionParam{Name: choice.Name},
			},
		}, nil
	default:
		return openai.ChatCompletionToolChoiceOptionUnionParam{}, fmt.Errorf("openaicompat: unsupported tool choice mode %q", choice.Mode)
	}
}

func translateResponse(completion *openai.ChatCompletion) *canonical.ChatResponse {
	resp := &canonical.ChatResponse{
		Usage: canonical.TokenUsage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:  int(completion.Usage.TotalTokens),
		},
	}
	if len(completion.Choices) == 0 {
		return resp
	}
	choice := completion.Choices[0]
	if choice.Message.Content != "" {
		resp.Content = append(resp.Content, canonical.Message{
			Role:  canonical.RoleAssistant,
			Parts: []canonical.Part{canonical.TextPart{Text: choice.Message.Content}},
		})
	}
	for _, tc := range choice.Message.ToolCalls {
		var payload any
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &payload)
		resp.ToolCalls = append(resp.ToolCalls, canonical.ToolCall{
			ID:      tc.ID,
			Name:    tc.Function.Name,
			Payload: payload,
		})
	}
	resp.ProviderStop = string(choice.FinishReason)
	resp.StopReason = mapFinishReason(string(choice.FinishReason))
	return resp
}

func mapFinishReason(raw string) canonical.FinishReason {
	switch raw {
	case "stop":
		return canonical.FinishStop
	case "length":
		return canonical.FinishLength
	case "tool_calls":
		return canonical.FinishToolCall
	case "content_filter":
		return canonical.FinishFiltered
	default:
		return ""
	}
}

func classifyErr(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		status := apiErr.StatusCode
		switch {
		case status == 401 || status == 403:
			return routeerr.Wrap(routeerr.KindAuth, component, "provider rejected credentials", err).WithStatus(status)
		case status == 429 || status >= 500:
			return routeerr.Wrap(routeerr.KindUpstreamUnreachable, component, "provider transient failure", err).WithStatus(status).WithRetryable(true)
		case status >= 400:
			return routeerr.Wrap(routeerr.KindUpstreamRejected, component, "provider rejected request", err).WithStatus(status)
		}
	}
	return routeerr.Wrap(routeerr.KindUpstreamUnreachable, component, "provider call failed", err).WithRetryable(true)
}

// classification derives a transport.Classification from the same status
// inspection classifyErr performs, so transport.Do knows whether to retry
// without re-parsing the classified *routeerr.Error.
func classification(err error) transport.Classification {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return transport.ClassifyStatus(apiErr.StatusCode)
	}
	return transport.ClassifyNetworkError(err)
}
