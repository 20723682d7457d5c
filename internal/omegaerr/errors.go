// Package omegaerr provides the single tagged error type used across the
// gateway. Callers do not match exhaustively on Kind — they propagate the
// error and let the pipeline's outer catch map it to a user-facing string.
package omegaerr

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

// Kind tags the domain an error originated from.
type Kind string

const (
	Provider      Kind = "provider"
	Channel       Kind = "channel"
	Config        Kind = "config"
	Memory        Kind = "memory"
	Sandbox       Kind = "sandbox"
	Io            Kind = "io"
	Serialization Kind = "serialization"
)

// Error is the tagged error carried through the gateway. Its human-message
// form always begins with its domain label, e.g. "provider: backend timed
// out".
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates a tagged error with no cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a tagged error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a new tagged error, auto-lifting the requested
// kind when the cause is unmistakably an I/O or serialization failure —
// this mirrors the taxonomy's rule that Io and Serialization are derived
// automatically rather than chosen by the caller.
func Wrap(kind Kind, message string, cause error) *Error {
	if cause == nil {
		return New(kind, message)
	}
	return &Error{Kind: classify(kind, cause), Message: message, Cause: cause}
}

func classify(requested Kind, cause error) Kind {
	var pathErr *os.PathError
	var jsonSyntax *json.SyntaxError
	var jsonType *json.UnmarshalTypeError

	switch {
	case errors.As(cause, &jsonSyntax), errors.As(cause, &jsonType):
		return Serialization
	case errors.As(cause, &pathErr),
		errors.Is(cause, os.ErrNotExist),
		errors.Is(cause, os.ErrPermission),
		errors.Is(cause, io.EOF),
		errors.Is(cause, io.ErrUnexpectedEOF):
		return Io
	default:
		return requested
	}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the Kind of err if it is (or wraps) an *Error, and the
// empty Kind otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
