// Package responses implements the C1 codec for the OpenAI Responses wire
// protocol (spec.md §4.1): a flatter request/response shape than Chat
// Completions, built around an "input"/"output" item list rather than a
// "messages" array, with distinct item types for messages, function calls,
// and function call outputs.
package responses

import "encoding/json"

type wireRequest struct {
	Model            string          `json:"model"`
	Input            json.RawMessage `json:"input"`
	Instructions     string          `json:"instructions,omitempty"`
	Tools            []wireTool      `json:"tools,omitempty"`
	ToolChoice       json.RawMessage `json:"tool_choice,omitempty"`
	Stream           bool            `json:"stream,omitempty"`
	Temperature      *float64        `json:"temperature,omitempty"`
	TopP             *float64        `json:"top_p,omitempty"`
	MaxOutputTokens  *int            `json:"max_output_tokens,omitempty"`
}

// wireItem models one element of the Responses "input"/"output" array. The
// Type discriminator selects which of the remaining fields apply.
type wireItem struct {
	Type string `json:"type"`

	// message
	Role    string            `json:"role,omitempty"`
	Content []wireContentPart `json:"content,omitempty"`

	// function_call
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`

	// function_call_output
	Output string `json:"output,omitempty"`

	// reasoning
	Summary []wireReasoningSummary `json:"summary,omitempty"`
}

type wireReasoningSummary struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type wireContentPart struct {
	Type     string `json:"type"` // input_text | input_image | output_text
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

type wireTool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type wireResponse struct {
	ID     string     `json:"id"`
	Object string     `json:"object"`
	Model  string     `json:"model"`
	Status string     `json:"status"`
	Output []wireItem `json:"output"`
	Usage  *wireUsage `json:"usage,omitempty"`
}

type wireUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Streaming events (response.output_text.delta, response.function_call_arguments.delta,
// response.reasoning_summary_text.delta, response.completed, response.incomplete).
type wireEvent struct {
	Type string `json:"type"`

	Delta       string        `json:"delta,omitempty"`
	ItemID      string        `json:"item_id,omitempty"`
	OutputIndex *int          `json:"output_index,omitempty"`
	Item        *wireItem     `json:"item,omitempty"`
	Response    *wireResponse `json:"response,omitempty"`
}
