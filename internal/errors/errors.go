// Package errors defines coded errors surfaced on the API boundary.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Error carries a machine-readable code alongside an HTTP status so handlers
// and middleware can respond uniformly.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// BadRequest marks a malformed or invalid request.
func BadRequest(message string) *Error {
	return &Error{Code: "bad_request", Message: message, Status: http.StatusBadRequest}
}

// Unauthorized marks a missing or invalid credential.
func Unauthorized(message string) *Error {
	return &Error{Code: "unauthorized", Message: message, Status: http.StatusUnauthorized}
}

// Forbidden marks an authenticated caller lacking the required role.
func Forbidden(message string) *Error {
	return &Error{Code: "forbidden", Message: message, Status: http.StatusForbidden}
}

// NotFound marks a missing entity.
func NotFound(message string) *Error {
	return &Error{Code: "not_found", Message: message, Status: http.StatusNotFound}
}

// Conflict marks an operation rejected by the entity's current state.
func Conflict(message string) *Error {
	return &Error{Code: "conflict", Message: message, Status: http.StatusConflict}
}

// TooManyRequests marks a caller exceeding the request rate limit.
func TooManyRequests(message string) *Error {
	return &Error{Code: "too_many_requests", Message: message, Status: http.StatusTooManyRequests}
}

// Internal marks an unexpected server-side failure.
func Internal(message string) *Error {
	return &Error{Code: "internal", Message: message, Status: http.StatusInternalServerError}
}

// FromError maps any error to a coded error, preserving an existing one.
func FromError(err error) *Error {
	var coded *Error
	if stderrors.As(err, &coded) {
		return coded
	}
	return Internal(err.Error())
}
