package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/routecodex/routecodex/internal/canonical"
	"github.com/routecodex/routecodex/internal/codec"
	"github.com/routecodex/routecodex/internal/routeerr"
	"github.com/routecodex/routecodex/internal/transport"
)

// maxToolDeltaBytes bounds the size of one synthesized tool-call argument
// fragment (spec.md §4.6 "tool-call input split into bounded-size
// deltas").
const maxToolDeltaBytes = 2048

// Emit delivers one fully wire-framed SSE event (including its trailing
// blank line) to the client connection. Callers typically implement it as
// a write to an http.ResponseWriter followed by a Flush.
type Emit func(frame []byte) error

// Bridge implements the streaming bridge (C6, spec.md §4.6): translating
// between a provider transport's stream/response shape and the client's
// requested stream/response shape, re-encoded for the client's inbound
// wire protocol.
type Bridge struct {
	Codecs *codec.Registry
}

// NewBridge constructs a Bridge over codecs.
func NewBridge(codecs *codec.Registry) *Bridge {
	return &Bridge{Codecs: codecs}
}

// Forward streams src's chunks to emit as they arrive, re-encoded for
// protocol (provider streamed, client wants streaming). It terminates the
// event sequence exactly once: with the protocol's normal terminal marker
// on a clean end-of-stream, with a client-visible cancellation event when
// src reports a Cancelled error (spec.md §4.6 cancellation semantics), or
// with a stream_interrupted error event on any other error.
func (b *Bridge) Forward(ctx context.Context, protocol canonical.WireProtocol, src transport.StreamHandle, emit Emit) error {
	c := b.Codecs.For(protocol)
	if c == nil {
		return routeerr.New(routeerr.KindInternal, component, "no codec registered for protocol "+string(protocol))
	}
	for {
		chunk, err := src.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return emitTerminal(protocol, emit)
			}
			if rcErr, ok := routeerr.As(err); ok && rcErr.Kind() == routeerr.KindCancelled {
				_ = emitCancelled(protocol, emit)
				return err
			}
			_ = emitStreamInterrupted(protocol, emit)
			return err
		}
		if err := encodeAndEmit(c, protocol, chunk, emit); err != nil {
			return err
		}
	}
}

// Aggregate drains src fully and accumulates its chunks into a single
// ChatResponse (provider streamed, client wants non-streaming; spec.md
// §4.6 "accumulate into single aggregated response").
func (b *Bridge) Aggregate(ctx context.Context, src transport.StreamHandle) (*canonical.ChatResponse, error) {
	resp := &canonical.ChatResponse{}
	var text, reasoning string
	type toolAccum struct {
		id, name string
		args     string
	}
	var toolOrder []string
	tools := map[string]*toolAccum{}

	for {
		chunk, err := src.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		switch chunk.Type {
		case canonical.ChunkText:
			text += chunk.Text
		case canonical.ChunkReasoning:
			reasoning += chunk.Reasoning
		case canonical.ChunkToolCallDelta:
			if chunk.ToolCallDelta == nil {
				continue
			}
			id := chunk.ToolCallDelta.ID
			t, ok := tools[id]
			if !ok {
				t = &toolAccum{id: id, name: chunk.ToolCallDelta.Name}
				tools[id] = t
				toolOrder = append(toolOrder, id)
			}
			if chunk.ToolCallDelta.Name != "" {
				t.name = chunk.ToolCallDelta.Name
			}
			t.args += chunk.ToolCallDelta.Delta
		case canonical.ChunkUsage:
			if chunk.UsageDelta != nil {
				resp.Usage = *chunk.UsageDelta
			}
		case canonical.ChunkStop:
			resp.StopReason = chunk.StopReason
			if chunk.UsageDelta != nil {
				resp.Usage = *chunk.UsageDelta
			}
		}
	}

	var parts []canonical.Part
	if text != "" {
		parts = append(parts, canonical.TextPart{Text: text})
	}
	if reasoning != "" {
		parts = append(parts, canonical.ReasoningPart{Text: reasoning})
	}
	if len(parts) > 0 {
		resp.Content = append(resp.Content, canonical.Message{Role: canonical.RoleAssistant, Parts: parts})
	}
	for _, id := range toolOrder {
		t := tools[id]
		var payload any
		if t.args != "" {
			if err := json.Unmarshal([]byte(t.args), &payload); err != nil {
				payload = t.args
			}
		}
		resp.ToolCalls = append(resp.ToolCalls, canonical.ToolCall{ID: t.id, Name: t.name, Payload: payload})
	}
	if len(resp.ToolCalls) > 0 && resp.StopReason == "" {
		resp.StopReason = canonical.FinishToolCall
	}
	return resp, nil
}

// Synthesize turns a complete ChatResponse into the chunk sequence a
// streaming client expects (provider answered non-stream, client wants
// streaming; spec.md §4.6 "orchestrator synthesizes the event sequence").
// Tool-call arguments are marshaled then split into bounded fragments so
// no single synthesized event is unbounded in size.
func (b *Bridge) Synthesize(ctx context.Context, protocol canonical.WireProtocol, resp *canonical.ChatResponse, emit Emit) error {
	c := b.Codecs.For(protocol)
	if c == nil {
		return routeerr.New(routeerr.KindInternal, component, "no codec registered for protocol "+string(protocol))
	}

	for _, msg := range resp.Content {
		for _, p := range msg.Parts {
			switch part := p.(type) {
			case canonical.TextPart:
				if part.Text == "" {
					continue
				}
				if err := encodeAndEmit(c, protocol, &canonical.Chunk{Type: canonical.ChunkText, Text: part.Text}, emit); err != nil {
					return err
				}
			case canonical.ReasoningPart:
				if part.Text == "" {
					continue
				}
				if err := encodeAndEmit(c, protocol, &canonical.Chunk{Type: canonical.ChunkReasoning, Reasoning: part.Text}, emit); err != nil {
					return err
				}
			}
		}
	}

	for _, tc := range resp.ToolCalls {
		if err := encodeAndEmit(c, protocol, &canonical.Chunk{
			Type:          canonical.ChunkToolCallDelta,
			ToolCallDelta: &canonical.ToolCallDelta{ID: tc.ID, Name: tc.Name},
		}, emit); err != nil {
			return err
		}
		raw, err := json.Marshal(tc.Payload)
		if err != nil {
			return routeerr.Wrap(routeerr.KindInternal, component, "marshal tool call payload", err)
		}
		for _, frag := range splitBytes(raw, maxToolDeltaBytes) {
			if err := encodeAndEmit(c, protocol, &canonical.Chunk{
				Type:          canonical.ChunkToolCallDelta,
				ToolCallDelta: &canonical.ToolCallDelta{ID: tc.ID, Delta: string(frag)},
			}, emit); err != nil {
				return err
			}
		}
	}

	if err := encodeAndEmit(c, protocol, &canonical.Chunk{
		Type: canonical.ChunkStop, StopReason: resp.StopReason, UsageDelta: &resp.Usage,
	}, emit); err != nil {
		return err
	}
	return emitTerminal(protocol, emit)
}

func encodeAndEmit(c codec.Codec, protocol canonical.WireProtocol, chunk *canonical.Chunk, emit Emit) error {
	payload, err := c.EncodeChunk(chunk)
	if err != nil {
		return routeerr.Wrap(routeerr.KindInternal, component, "encode chunk", err)
	}
	if payload == nil {
		return nil
	}
	return emit(frame(protocol, payload))
}

// frame wraps an encoded chunk payload in the SSE framing its protocol
// expects. Anthropic Messages uses named SSE events ("event: <type>") in
// addition to the data line; OpenAI's two protocols use a bare data line.
func frame(protocol canonical.WireProtocol, payload []byte) []byte {
	if protocol == canonical.ProtocolAnthropic {
		var head struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal(payload, &head)
		return []byte("event: " + head.Type + "\ndata: " + string(payload) + "\n\n")
	}
	return []byte("data: " + string(payload) + "\n\n")
}

// emitTerminal sends the protocol's terminal marker exactly once at the
// natural end of a successful stream (spec.md §8 "terminal event emitted
// exactly once").
func emitTerminal(protocol canonical.WireProtocol, emit Emit) error {
	if protocol == canonical.ProtocolAnthropic {
		return emit([]byte("event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n"))
	}
	return emit([]byte("data: [DONE]\n\n"))
}

// emitCancelled sends a client-visible cancellation event before the
// connection is torn down (spec.md §4.6 cancellation semantics).
func emitCancelled(protocol canonical.WireProtocol, emit Emit) error {
	if protocol == canonical.ProtocolAnthropic {
		return emit([]byte("event: error\ndata: {\"type\":\"error\",\"error\":{\"type\":\"cancelled\",\"message\":\"request cancelled\"}}\n\n"))
	}
	return emit([]byte("data: {\"error\":{\"message\":\"request cancelled\",\"type\":\"cancelled\"}}\n\n"))
}

// emitStreamInterrupted sends a synthetic terminal error event when the
// upstream stream ends abnormally mid-response (spec.md §4.2 "terminate
// the stream with a synthetic error event").
func emitStreamInterrupted(protocol canonical.WireProtocol, emit Emit) error {
	if protocol == canonical.ProtocolAnthropic {
		return emit([]byte("event: error\ndata: {\"type\":\"error\",\"error\":{\"type\":\"stream_interrupted\",\"message\":\"upstream stream ended unexpectedly\"}}\n\n"))
	}
	return emit([]byte("data: {\"error\":{\"message\":\"upstream stream ended unexpectedly\",\"type\":\"stream_interrupted\"}}\n\n"))
}

// splitBytes divides data into chunks of at most size bytes each, always
// returning at least one (possibly empty) chunk.
func splitBytes(data []byte, size int) [][]byte {
	if len(data) == 0 {
		return [][]byte{data}
	}
	var out [][]byte
	for len(data) > 0 {
		n := size
		if n > len(data) {
			n = len(data)
		}
		out = append(out, data[:n])
		data = data[n:]
	}
	return out
}
