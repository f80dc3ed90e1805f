package canonical

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var allFinishReasons = []FinishReason{FinishStop, FinishLength, FinishToolCall, FinishFiltered}

var allWireProtocols = []WireProtocol{ProtocolOpenAIChat, ProtocolOpenAIResponses, ProtocolAnthropic}

func finishReasonGen() gopter.Gen {
	return gen.OneConstOf(
		allFinishReasons[0], allFinishReasons[1], allFinishReasons[2], allFinishReasons[3],
	)
}

func wireProtocolGen() gopter.Gen {
	return gen.OneConstOf(
		allWireProtocols[0], allWireProtocols[1], allWireProtocols[2],
	)
}

// TestFinishReasonRoundTripsThroughEveryWireProtocol checks spec.md §8's
// round-trip law: every canonical FinishReason maps to a wire value for
// every supported protocol, and mapping that value back recovers the
// original FinishReason.
func TestFinishReasonRoundTripsThroughEveryWireProtocol(t *testing.T) {
	params := gopter.DefaultTestParameters()
	props := gopter.NewProperties(params)

	props.Property("ToWire then FromWire recovers the original reason", prop.ForAll(
		func(p WireProtocol, r FinishReason) bool {
			wire, ok := FinishReasonToWire(p, r)
			if !ok {
				return false
			}
			back, ok := FinishReasonFromWire(p, wire)
			return ok && back == r
		},
		wireProtocolGen(),
		finishReasonGen(),
	))

	props.TestingRun(t)
}

// TestFinishReasonToWireIsTotalOverSupportedProtocols checks every
// (protocol, reason) pair in the canonical set succeeds — the mapping
// never silently drops a combination.
func TestFinishReasonToWireIsTotalOverSupportedProtocols(t *testing.T) {
	for _, p := range allWireProtocols {
		for _, r := range allFinishReasons {
			if _, ok := FinishReasonToWire(p, r); !ok {
				t.Fatalf("FinishReasonToWire(%q, %q) reported no mapping", p, r)
			}
		}
	}
}

func TestFinishReasonToWireUnknownProtocolFails(t *testing.T) {
	if _, ok := FinishReasonToWire(WireProtocol("bogus"), FinishStop); ok {
		t.Fatal("expected no mapping for an unrecognized protocol")
	}
}
