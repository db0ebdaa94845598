package todo

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error so interface boundaries (REST, WebSocket, MCP)
// can translate it without inspecting message text.
type Kind int

const (
	// KindInternal is an unexpected failure, usually a wrapped storage error.
	KindInternal Kind = iota
	// KindNotFound means the target id does not exist.
	KindNotFound
	// KindValidation means the input is semantically invalid.
	KindValidation
	// KindConflict means the operation clashes with existing state.
	KindConflict
	// KindNotAllowed means a business rule rejected the operation.
	KindNotAllowed
)

// Error is the single error type crossing the service boundary.
type Error struct {
	Kind    Kind
	Message string
	Field   string // offending field for validation errors, may be empty
	Err     error  // wrapped cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Code returns the machine-readable code used on the wire.
func (e *Error) Code() string {
	switch e.Kind {
	case KindNotFound:
		return "TODO_NOT_FOUND"
	case KindValidation:
		return "VALIDATION_ERROR"
	case KindConflict:
		return "CONFLICT"
	case KindNotAllowed:
		return "OPERATION_NOT_ALLOWED"
	default:
		return "INTERNAL_ERROR"
	}
}

// HTTPStatus maps the error kind to a REST status code.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindNotAllowed:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// NotFound reports that no todo with the given id exists.
func NotFound(id string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("todo with id %q not found", id)}
}

// Validation reports a semantically invalid input.
func Validation(message, field string) *Error {
	return &Error{Kind: KindValidation, Message: message, Field: field}
}

// NotAllowed reports a business-rule rejection.
func NotAllowed(message string) *Error {
	return &Error{Kind: KindNotAllowed, Message: message}
}

// Conflict reports a clash with existing state.
func Conflict(message string) *Error {
	return &Error{Kind: KindConflict, Message: message}
}

// Internal wraps an unexpected failure, typically from the store.
func Internal(message string, cause error) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: cause}
}

// AsError extracts a *Error from err, wrapping unknown errors as internal so
// callers can translate exhaustively on Kind.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal("unexpected error", err)
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindNotFound
}
