// Package codec defines the C1 protocol codec contract: translating wire
// bytes for one of the three supported protocols (OpenAI Chat Completions,
// OpenAI Responses, Anthropic Messages) to and from the canonical
// representation in internal/canonical (spec.md §4.1).
//
// A single Codec implementation is used in two directions: decoding the
// inbound client request/encoding the outbound client response when a
// client speaks that protocol against the gateway, and encoding an
// outbound provider request/decoding the provider's response when the
// selected upstream speaks that same wire protocol (e.g. GLM, Qwen, iFlow,
// and LM Studio are OpenAI Chat Completions-compatible).
package codec

import "github.com/routecodex/routecodex/internal/canonical"

// Codec converts between one wire protocol's JSON shapes and the canonical
// request/response/chunk types.
type Codec interface {
	Protocol() canonical.WireProtocol

	// DecodeRequest parses a client (or compatible-provider) request body.
	DecodeRequest(body []byte) (*canonical.ChatRequest, error)

	// EncodeRequest renders a canonical request as this protocol's request
	// body, used when forwarding to an upstream that speaks this protocol.
	EncodeRequest(req *canonical.ChatRequest) ([]byte, error)

	// DecodeResponse parses a complete (non-streaming) response body from
	// an upstream speaking this protocol.
	DecodeResponse(body []byte) (*canonical.ChatResponse, error)

	// EncodeResponse renders a canonical response as this protocol's
	// complete response body, used to answer a client.
	EncodeResponse(resp *canonical.ChatResponse) ([]byte, error)

	// DecodeChunk parses one streaming event payload (already stripped of
	// SSE framing) from an upstream speaking this protocol. Terminal
	// markers are not reported here: OpenAI's "[DONE]" sentinel has no JSON
	// body and is handled by the transport layer before DecodeChunk is
	// called.
	DecodeChunk(data []byte) (chunk *canonical.Chunk, err error)

	// EncodeChunk renders a canonical chunk as this protocol's streaming
	// event payload, to forward to a client.
	EncodeChunk(chunk *canonical.Chunk) ([]byte, error)
}

// Registry maps a WireProtocol to its Codec implementation.
type Registry struct {
	codecs map[canonical.WireProtocol]Codec
}

// NewRegistry builds a Registry from the given codecs, indexed by their own
// Protocol().
func NewRegistry(codecs ...Codec) *Registry {
	r := &Registry{codecs: make(map[canonical.WireProtocol]Codec, len(codecs))}
	for _, c := range codecs {
		r.codecs[c.Protocol()] = c
	}
	return r
}

// For returns the Codec registered for protocol, or nil if none is
// registered.
func (r *Registry) For(protocol canonical.WireProtocol) Codec {
	return r.codecs[protocol]
}
