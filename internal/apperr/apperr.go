// Package apperr defines the stable error taxonomy surfaced to API clients.
// Every error that crosses the HTTP boundary is mapped to one of these codes
// and rendered as the uniform envelope {error: {code, message, details[]}}.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Stable error codes.
const (
	CodeNotFound                = "NOT_FOUND"
	CodeValidation              = "VALIDATION_ERROR"
	CodeIdempotencyKeyReused    = "IDEMPOTENCY_KEY_REUSED"
	CodePublishConflict         = "PIPELINE_PUBLISH_CONFLICT"
	CodeDuplicate               = "DUPLICATE"
	CodeThreadClosed            = "THREAD_CLOSED"
	CodeThreadArchived          = "THREAD_ARCHIVED"
	CodeUnauthorized            = "UNAUTHORIZED"
	CodePayloadTooLarge         = "PAYLOAD_TOO_LARGE"
	CodeRateLimited             = "RATE_LIMITED"
	CodeSchemaChannelMissing    = "SCHEMA_CHANNEL_MISSING"
	CodeSchemaDefinitionMissing = "SCHEMA_DEFINITION_MISSING"
	CodeInternal                = "INTERNAL"
)

// Error is a client-facing error carrying an HTTP status, a stable code and
// optional structured details.
type Error struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details []any  `json:"details"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New builds an Error with the given status, code and message.
func New(status int, code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message}
}

// Newf builds an Error with a formatted message.
func Newf(status int, code, format string, args ...any) *Error {
	return New(status, code, fmt.Sprintf(format, args...))
}

// WithDetails returns a copy of e with the given details appended.
func (e *Error) WithDetails(details ...any) *Error {
	clone := *e
	clone.Details = append(append([]any{}, e.Details...), details...)
	return &clone
}

// NotFound builds a 404 error for a missing entity kind ("thread", "flow"...).
func NotFound(kind string) *Error {
	return Newf(http.StatusNotFound, CodeNotFound, "%s not found", kind)
}

// Validation builds a 422 error carrying validation issues as details.
func Validation(message string, details ...any) *Error {
	e := New(http.StatusUnprocessableEntity, CodeValidation, message)
	e.Details = details
	return e
}

// Internal wraps an unexpected error as a 500.
func Internal(err error) *Error {
	return New(http.StatusInternalServerError, CodeInternal, err.Error())
}

// From converts any error into an *Error, defaulting to INTERNAL when the
// error carries no taxonomy information.
func From(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Internal(err)
}
