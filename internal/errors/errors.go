// Package errors defines the typed error taxonomy shared by every layer of
// the payment orders service. Callers branch on the error code, never on the
// message text.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies an error for callers and for the HTTP status mapping.
type ErrorCode string

const (
	// ErrCodeValidation marks malformed or missing input.
	ErrCodeValidation ErrorCode = "VALIDATION"
	// ErrCodeNotFound marks an unknown order, link, profile or user.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodeConflict marks duplicate links, settlements already linked to
	// another active order, re-instantiated chains and re-resolved steps.
	ErrCodeConflict ErrorCode = "CONFLICT"
	// ErrCodeState marks a lifecycle transition that is not legal from the
	// order's current status.
	ErrCodeState ErrorCode = "STATE"
	// ErrCodeUnauthorized marks an acting identity not eligible for the
	// current approval step or site.
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	// ErrCodeConcurrency marks row-lock or version contention.
	ErrCodeConcurrency ErrorCode = "CONCURRENCY"
	// ErrCodeInternal marks unexpected infrastructure failures.
	ErrCodeInternal ErrorCode = "INTERNAL"
)

// Error is the service error type. It carries a code, a human-readable
// message and an optional wrapped cause.
type Error struct {
	Code    ErrorCode
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error {
	return e.cause
}

// New creates an error with the given code and message.
func New(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an error with a formatted message.
func Newf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying cause. A nil cause
// returns nil so call sites can wrap unconditionally.
func Wrap(err error, code ErrorCode, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// NotFound reports that the named resource does not exist.
func NotFound(resource, id string) *Error {
	return Newf(ErrCodeNotFound, "%s '%s' not found", resource, id)
}

// InvalidInput reports a validation failure on a specific field.
func InvalidInput(field, reason string) *Error {
	return Newf(ErrCodeValidation, "invalid %s: %s", field, reason)
}

// Code extracts the ErrorCode from an error chain, or ErrCodeInternal when
// the chain carries no typed error.
func Code(err error) ErrorCode {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// HasCode reports whether the error chain carries the given code.
func HasCode(err error, code ErrorCode) bool {
	return err != nil && Code(err) == code
}
