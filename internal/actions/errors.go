package actions

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the lifecycle wraps exactly one of
// these so the transport layer can map it with errors.Is.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrDownstream = errors.New("downstream failure")
)

// Conflict variants.
var (
	ErrAlreadyResolved   = &Error{Kind: ErrConflict, Msg: "Confirmation has already been resolved"}
	ErrNotConfirmed      = &Error{Kind: ErrConflict, Msg: "Action not confirmed"}
	ErrAlreadyExecuted   = &Error{Kind: ErrConflict, Msg: "Action has already been executed"}
	ErrNoRollbackData    = &Error{Kind: ErrConflict, Msg: "No rollback data available for this action"}
	ErrAlreadyRolledBack = &Error{Kind: ErrConflict, Msg: "Action has already been rolled back"}
	ErrExpired           = &Error{Kind: ErrConflict, Msg: "Confirmation has expired"}
	ErrInvalidTransition = &Error{Kind: ErrConflict, Msg: "Invalid status transition"}
	ErrStatusMismatch    = &Error{Kind: ErrConflict, Msg: "Action status has changed"}
)

// Error is a lifecycle error with a client-facing message.
type Error struct {
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

// Is matches both the kind and, for the predeclared variants, the variant
// itself, so errors.Is(err, ErrConflict) and errors.Is(err, ErrNotConfirmed)
// both hold for a NotConfirmed error.
func (e *Error) Is(target error) bool {
	if target == e.Kind {
		return true
	}
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && t.Msg == e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Validation returns a validation error with the given message.
func Validation(format string, args ...any) error {
	return &Error{Kind: ErrValidation, Msg: fmt.Sprintf(format, args...)}
}

// NotFound returns a not-found error with the given message.
func NotFound(msg string) error {
	return &Error{Kind: ErrNotFound, Msg: msg}
}

// Downstream wraps err as a failure of an external dependency.
func Downstream(msg string, err error) error {
	return &Error{Kind: ErrDownstream, Msg: msg, Err: err}
}

// With returns a copy of a conflict variant that also carries err.
func (e *Error) With(err error) error {
	return &Error{Kind: e.Kind, Msg: e.Msg, Err: err}
}

// Message returns the client-facing message of err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Error()
	}
	return err.Error()
}
