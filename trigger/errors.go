package trigger

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes returned to callable clients.
const (
	CodeUnauthenticated = "unauthenticated"
	CodeInvalidArgument = "invalid-argument"
	CodeNotFound        = "not-found"
	CodeInternal        = "internal"
)

// CallableError is a structured error for the callable endpoints.
type CallableError struct {
	Code    string
	Message string
}

func (e *CallableError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Status returns the callable protocol status name, e.g. "NOT_FOUND".
func (e *CallableError) Status() string {
	switch e.Code {
	case CodeUnauthenticated:
		return "UNAUTHENTICATED"
	case CodeInvalidArgument:
		return "INVALID_ARGUMENT"
	case CodeNotFound:
		return "NOT_FOUND"
	default:
		return "INTERNAL"
	}
}

// HTTPStatus maps the error code onto an HTTP status.
func (e *CallableError) HTTPStatus() int {
	switch e.Code {
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// AsCallableError converts any error into a CallableError. Errors that are not
// already callable errors become "internal" without leaking their text.
func AsCallableError(err error) *CallableError {
	var ce *CallableError
	if errors.As(err, &ce) {
		return ce
	}
	return &CallableError{Code: CodeInternal, Message: "internal error"}
}

func errUnauthenticated(msg string) error {
	return &CallableError{Code: CodeUnauthenticated, Message: msg}
}

func errInvalidArgument(msg string) error {
	return &CallableError{Code: CodeInvalidArgument, Message: msg}
}

func errNotFound(msg string) error {
	return &CallableError{Code: CodeNotFound, Message: msg}
}

func errInternal(msg string) error {
	return &CallableError{Code: CodeInternal, Message: msg}
}
