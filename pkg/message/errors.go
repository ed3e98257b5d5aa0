package message

import (
	"errors"
	"fmt"
)

// Error codes carried in ERROR payloads and returned at call sites.
const (
	CodeNoRoute          = "NO_ROUTE"
	CodeTimeout          = "TIMEOUT"
	CodeHandlerError     = "HANDLER_ERROR"
	CodeAmbiguousMatch   = "AMBIGUOUS_MATCH"
	CodeNoMatch          = "NO_MATCH"
	CodeInvalidArguments = "INVALID_ARGUMENTS"
	CodeNotImplemented   = "NOT_IMPLEMENTED"
)

// Error is a structured protocol error.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// Is matches any *Error with the same code, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrNoRoute          = &Error{Code: CodeNoRoute, Message: "no route to destination"}
	ErrTimeout          = &Error{Code: CodeTimeout, Message: "request timed out"}
	ErrHandler          = &Error{Code: CodeHandlerError, Message: "handler failed"}
	ErrAmbiguousMatch   = &Error{Code: CodeAmbiguousMatch, Message: "more than one object matched"}
	ErrNoMatch          = &Error{Code: CodeNoMatch, Message: "no object matched"}
	ErrInvalidArguments = &Error{Code: CodeInvalidArguments, Message: "invalid arguments"}
	ErrNotImplemented   = &Error{Code: CodeNotImplemented, Message: "not implemented"}
)

// NewError creates an Error with a formatted message.
func NewError(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsError returns err as *Error, wrapping foreign errors as HANDLER_ERROR with
// the original message.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Code: CodeHandlerError, Message: err.Error()}
}
