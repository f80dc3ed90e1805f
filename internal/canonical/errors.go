package canonical

import "fmt"

// DecodeErrorKind classifies a C1 decode failure (spec.md §4.1).
type DecodeErrorKind string

const (
	// DecodeErrorMalformed marks a payload that is not valid JSON, or whose
	// required fields are absent.
	DecodeErrorMalformed DecodeErrorKind = "malformed"

	// DecodeErrorUnsupported marks a validly shaped payload that uses a
	// message role this decoder does not recognize. Decoders skip content
	// blocks and items they do not recognize instead of rejecting them, and
	// an unrecognized finish reason leaves the canonical StopReason empty;
	// there is no strict/relaxed decoding switch.
	DecodeErrorUnsupported DecodeErrorKind = "unsupported"
)

// DecodeError reports a C1 codec failure with enough structure for the
// caller to build a routeerr.Error without re-parsing the message text.
type DecodeError struct {
	Kind   DecodeErrorKind
	Path   string // JSON pointer-ish path to the offending field, when known
	Detail string
}

func (e *DecodeError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("decode %s at %s: %s", e.Kind, e.Path, e.Detail)
	}
	return fmt.Sprintf("decode %s: %s", e.Kind, e.Detail)
}

// NewMalformedError reports a structurally invalid or incomplete payload.
func NewMalformedError(path, detail string) *DecodeError {
	return &DecodeError{Kind: DecodeErrorMalformed, Path: path, Detail: detail}
}

// NewUnsupportedError reports a validly shaped but unsupported payload
// (an unknown message role).
func NewUnsupportedError(path, detail string) *DecodeError {
	return &DecodeError{Kind: DecodeErrorUnsupported, Path: path, Detail: detail}
}
