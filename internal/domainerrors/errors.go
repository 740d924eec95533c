// Package domainerrors carries the coded error taxonomy shared by services and
// the HTTP layer. Services return these (optionally wrapping a cause) and the
// handlers translate the code into a status without inspecting messages.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a failure for the transport boundary.
type Code string

const (
	CodeNotFound           Code = "not_found"
	CodeValidation         Code = "validation_error"
	CodeConflict           Code = "conflict"
	CodeVerificationFailed Code = "verification_failed"
	CodeRateLimited        Code = "rate_limited"
	CodeInternal           Code = "internal_error"
)

// Error is a failure with a stable code and a caller-safe message.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a coded error without an underlying cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and caller-safe message to err.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf returns the code of the outermost domain error in err's chain,
// or CodeInternal when there is none.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// MessageOf returns the caller-safe message for err. Internal errors never
// expose their detail.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) && de.Code != CodeInternal {
		return de.Message
	}
	return "internal error"
}
