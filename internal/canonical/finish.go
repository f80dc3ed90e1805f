package canonical

// finishTable implements the bidirectional mapping from spec.md §4.1.
// Implementers must keep this as a single source of truth: codec packages
// call ToWire/FromWire rather than hand-rolling per-protocol switches, which
// is what makes the mapping a total, invertible function (spec.md §8).
type finishTable struct {
	openai    map[FinishReason]string
	anthropic map[FinishReason]string
	responses map[FinishReason]string
}

var finishReasons = finishTable{
	openai: map[FinishReason]string{
		FinishStop:     "stop",
		FinishLength:   "length",
		FinishToolCall: "tool_calls",
		FinishFiltered: "content_filter",
	},
	anthropic: map[FinishReason]string{
		FinishStop:     "end_turn",
		FinishLength:   "max_tokens",
		FinishToolCall: "tool_use",
		FinishFiltered: "stop_sequence",
	},
	responses: map[FinishReason]string{
		FinishStop:     "completed",
		FinishLength:   "incomplete:max_output_tokens",
		FinishToolCall: "requires_action",
		FinishFiltered: "incomplete:content_filter",
	},
}

// WireProtocol identifies one of the three supported wire protocols for the
// purpose of finish-reason translation.
type WireProtocol string

const (
	ProtocolOpenAIChat      WireProtocol = "openai_chat"
	ProtocolOpenAIResponses WireProtocol = "openai_responses"
	ProtocolAnthropic       WireProtocol = "anthropic"
)

func tableFor(p WireProtocol) map[FinishReason]string {
	switch p {
	case ProtocolOpenAIChat:
		return finishReasons.openai
	case ProtocolOpenAIResponses:
		return finishReasons.responses
	case ProtocolAnthropic:
		return finishReasons.anthropic
	default:
		return nil
	}
}

// FinishReasonToWire maps a canonical FinishReason to the wire value for
// protocol p. It always succeeds for the four canonical values (the mapping
// is total); an unrecognized FinishReason returns ("", false).
func FinishReasonToWire(p WireProtocol, r FinishReason) (string, bool) {
	t := tableFor(p)
	if t == nil {
		return "", false
	}
	v, ok := t[r]
	return v, ok
}

// FinishReasonFromWire maps a protocol-specific wire value back to the
// canonical set. Providers sometimes emit values outside the table;
// unrecognized values return ("", false) so callers can decide
// between DecodeError{unsupported} and a best-effort fallback.
func FinishReasonFromWire(p WireProtocol, wire string) (FinishReason, bool) {
	t := tableFor(p)
	for canon, v := range t {
		if v == wire {
			return canon, true
		}
	}
	return "", false
}
