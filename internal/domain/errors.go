// Package domain defines the typed errors shared by the league engine.
// Every business-rule violation maps to one of the codes below so callers
// can branch on errors.Is without string matching.
package domain

import (
	"errors"
	"fmt"
)

// Code classifies an engine error.
type Code string

const (
	// CodeNotFound marks a missing season, session, match, pool or participant.
	CodeNotFound Code = "NOT_FOUND"
	// CodeInvalidState marks an operation that is not valid for the current
	// lifecycle state, e.g. recording a result on a finished session.
	CodeInvalidState Code = "INVALID_STATE"
	// CodeCapacity marks a size violation: wrong party size for a team split,
	// a full session, a pool below one room.
	CodeCapacity Code = "CAPACITY_VIOLATION"
	// CodeStaleEdit marks a correction refused because a later session already
	// consumed the participant's post-settlement rating.
	CodeStaleEdit Code = "STALE_EDIT"
	// CodeValidation marks malformed input, e.g. a winner that is not A or B.
	CodeValidation Code = "VALIDATION"
)

// Error is the discriminated error type returned by repositories and services.
// None of these are fatal; callers surface them as user-facing messages.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an Error with the same code, so
// errors.Is(err, domain.ErrNotFound) matches any not-found error.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// Sentinel instances for errors.Is checks.
var (
	ErrNotFound     = &Error{Code: CodeNotFound, Message: "not found"}
	ErrInvalidState = &Error{Code: CodeInvalidState, Message: "invalid state"}
	ErrCapacity     = &Error{Code: CodeCapacity, Message: "capacity violation"}
	ErrStaleEdit    = &Error{Code: CodeStaleEdit, Message: "stale edit"}
	ErrValidation   = &Error{Code: CodeValidation, Message: "validation failed"}
)

// NotFoundf creates a not-found error with a formatted message.
func NotFoundf(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// InvalidStatef creates an invalid-state error with a formatted message.
func InvalidStatef(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidState, Message: fmt.Sprintf(format, args...)}
}

// Capacityf creates a capacity-violation error with a formatted message.
func Capacityf(format string, args ...any) *Error {
	return &Error{Code: CodeCapacity, Message: fmt.Sprintf(format, args...)}
}

// StaleEditf creates a stale-edit error with a formatted message.
func StaleEditf(format string, args ...any) *Error {
	return &Error{Code: CodeStaleEdit, Message: fmt.Sprintf(format, args...)}
}

// Validationf creates a validation error with a formatted message.
func Validationf(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// Wrapf creates an error of the given code wrapping a cause.
func Wrapf(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// CodeOf extracts the code from an error chain. Returns the empty string
// when the chain contains no *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
