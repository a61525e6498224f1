package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a request failure.
type Kind int

const (
	KindSpawnFailure Kind = iota + 1
	KindEncodingFailure
	KindBackendFailure
	KindMalformedBackendOutput
	KindBackendTimeout
	KindMissingField
	KindUnknownOperation
	KindInvalidEnvelope
	KindConnectionError
)

func (k Kind) String() string {
	switch k {
	case KindSpawnFailure:
		return "SpawnFailure"
	case KindEncodingFailure:
		return "EncodingFailure"
	case KindBackendFailure:
		return "BackendFailure"
	case KindMalformedBackendOutput:
		return "MalformedBackendOutput"
	case KindBackendTimeout:
		return "BackendTimeout"
	case KindMissingField:
		return "MissingField"
	case KindUnknownOperation:
		return "UnknownOperation"
	case KindInvalidEnvelope:
		return "InvalidEnvelope"
	case KindConnectionError:
		return "ConnectionError"
	default:
		return "Unknown"
	}
}

// Error is a request failure that is reported back to the client.
type Error struct {
	Kind Kind
	// Name is the field or operation for MissingField and UnknownOperation.
	Name string
	// Detail is the diagnostic text: stderr, parse error, and so on.
	Detail string
	// Raw holds unparseable backend output.
	Raw string
	Err error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindSpawnFailure:
		return "failed to start backend: " + e.Detail
	case KindEncodingFailure:
		return "failed to encode payload: " + e.Detail
	case KindBackendFailure:
		return "backend failed: " + e.Detail
	case KindMalformedBackendOutput:
		return fmt.Sprintf("invalid backend output: %s (raw: %q)", e.Detail, truncate(e.Raw, 200))
	case KindBackendTimeout:
		return "backend timed out after " + e.Detail
	case KindMissingField:
		return fmt.Sprintf("missing '%s' field", e.Name)
	case KindUnknownOperation:
		return "unknown operation: " + e.Name
	case KindInvalidEnvelope:
		return "invalid request: " + e.Detail
	case KindConnectionError:
		return "connection error: " + e.Detail
	default:
		return e.Detail
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same Kind, so errors.Is(err, ErrMissingField)
// works for sentinel comparisons.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && (t.Name == "" || t.Name == e.Name)
}

// Sentinels for errors.Is.
var (
	ErrSpawnFailure           = &Error{Kind: KindSpawnFailure}
	ErrEncodingFailure        = &Error{Kind: KindEncodingFailure}
	ErrBackendFailure         = &Error{Kind: KindBackendFailure}
	ErrMalformedBackendOutput = &Error{Kind: KindMalformedBackendOutput}
	ErrBackendTimeout         = &Error{Kind: KindBackendTimeout}
	ErrMissingField           = &Error{Kind: KindMissingField}
	ErrUnknownOperation       = &Error{Kind: KindUnknownOperation}
	ErrInvalidEnvelope        = &Error{Kind: KindInvalidEnvelope}
)

// MissingField reports an absent or mistyped envelope field.
func MissingField(name string) *Error {
	return &Error{Kind: KindMissingField, Name: name}
}

// UnknownOperation reports an operation or selector with no route.
func UnknownOperation(name string) *Error {
	return &Error{Kind: KindUnknownOperation, Name: name}
}

// InvalidEnvelope reports a request that is not a JSON object.
func InvalidEnvelope(err error) *Error {
	return &Error{Kind: KindInvalidEnvelope, Detail: err.Error(), Err: err}
}

// SpawnFailure reports a backend that could not be started.
func SpawnFailure(err error) *Error {
	return &Error{Kind: KindSpawnFailure, Detail: err.Error(), Err: err}
}

// EncodingFailure reports a payload that could not be serialized.
func EncodingFailure(err error) *Error {
	return &Error{Kind: KindEncodingFailure, Detail: err.Error(), Err: err}
}

// BackendFailure reports a backend that ran and failed.
func BackendFailure(detail string) *Error {
	return &Error{Kind: KindBackendFailure, Detail: detail}
}

// MalformedBackendOutput reports output that is not one JSON document.
func MalformedBackendOutput(diagnostic, raw string) *Error {
	return &Error{Kind: KindMalformedBackendOutput, Detail: diagnostic, Raw: raw}
}

// BackendTimeout reports a backend killed after exceeding its deadline.
func BackendTimeout(after string) *Error {
	return &Error{Kind: KindBackendTimeout, Detail: after}
}

// KindOf returns the Kind of err, or 0 when err is not an *Error.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return 0
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
