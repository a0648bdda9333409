// Package errkind defines the stable error kinds surfaced in CLI
// envelopes, logs, and spawn results.
package errkind

import (
	"errors"
	"fmt"
)

type Kind string

const (
	// InvalidInput marks bad CLI arguments or malformed spawn input.
	InvalidInput Kind = "INVALID_INPUT"
	// ModelNotFound marks a requested model absent from the driver catalog.
	ModelNotFound Kind = "MODEL_NOT_FOUND"
	// Cancelled marks a run or spawn cancelled by request. Not an error
	// to the CLI.
	Cancelled Kind = "CANCELLED"
	// Runtime marks unexpected conditions: codec failures, worker
	// crashes, IO errors.
	Runtime Kind = "RUNTIME"
	// ConfirmationRejected marks a program refusing a required
	// confirmation; propagates as a spawn failure.
	ConfirmationRejected Kind = "CONFIRMATION_REJECTED"
)

// Error is a tagged error. The Kind is stable; the message is free-form.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind carried by err, or Runtime when err is not
// tagged. A nil err has no kind and returns the empty string.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return Runtime
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
