// Package errors provides structured error handling with context propagation and HTTP status code mapping.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the category of error for metrics and response formatting.
type ErrorType string

const (
	// TypeConfiguration indicates missing or invalid configuration (connection parameters, env).
	TypeConfiguration ErrorType = "configuration"
	// TypeDatabase indicates a connection, statement preparation or query failure.
	TypeDatabase ErrorType = "database"
	// TypeIO indicates a transport-level failure surfaced by the connection.
	TypeIO ErrorType = "io"
	// TypeStream indicates a failure while producing a stream item (not exhaustion).
	TypeStream ErrorType = "stream"
	// TypeValidation indicates invalid input (HTTP 400)
	TypeValidation ErrorType = "validation"
	// TypeNotFound indicates resource not found (HTTP 404)
	TypeNotFound ErrorType = "not_found"
	// TypeInternal indicates server-side error (HTTP 500)
	TypeInternal ErrorType = "internal"
	// TypeExternal indicates external service error (HTTP 502/503)
	TypeExternal ErrorType = "external"
)

// Error represents a structured error with type, message, and context.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus returns the appropriate HTTP status code for this error type.
func (e *Error) HTTPStatus() int {
	switch e.Type {
	case TypeValidation:
		return http.StatusBadRequest
	case TypeNotFound:
		return http.StatusNotFound
	case TypeExternal, TypeIO:
		return http.StatusBadGateway
	case TypeDatabase:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func newError(t ErrorType, message string, cause error) *Error {
	return &Error{
		Type:    t,
		Message: message,
		Cause:   cause,
		Context: make(map[string]any),
	}
}

// ConfigurationError creates a new configuration error.
func ConfigurationError(message string) *Error {
	return newError(TypeConfiguration, message, nil)
}

// DatabaseError creates a new database error wrapping cause.
func DatabaseError(message string, cause error) *Error {
	return newError(TypeDatabase, message, cause)
}

// IOError creates a new transport error wrapping cause.
func IOError(message string, cause error) *Error {
	return newError(TypeIO, message, cause)
}

// StreamError creates a new stream error wrapping cause.
func StreamError(message string, cause error) *Error {
	return newError(TypeStream, message, cause)
}

// ValidationError creates a new validation error (HTTP 400).
func ValidationError(message string) *Error {
	return newError(TypeValidation, message, nil)
}

// NotFoundError creates a new not-found error (HTTP 404).
func NotFoundError(message string) *Error {
	return newError(TypeNotFound, message, nil)
}

// InternalError creates a new internal error (HTTP 500).
func InternalError(message string, cause error) *Error {
	return newError(TypeInternal, message, cause)
}

// ExternalError creates a new external service error (HTTP 502).
func ExternalError(message string, cause error) *Error {
	return newError(TypeExternal, message, cause)
}

// WithContext adds context fields to the error (chainable).
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// ErrorResponse represents the JSON structure sent to clients.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Type    ErrorType      `json:"type"`
	Context map[string]any `json:"context,omitempty"`
}

// ToResponse converts an Error to an ErrorResponse for JSON serialization.
func (e *Error) ToResponse() ErrorResponse {
	return ErrorResponse{
		Error:   e.Message,
		Type:    e.Type,
		Context: e.Context,
	}
}

// IsType reports whether err (or anything it wraps) is a structured Error of type t.
func IsType(err error, t ErrorType) bool {
	var structuredErr *Error
	if !errors.As(err, &structuredErr) {
		return false
	}
	return structuredErr.Type == t
}

// AsStructuredError converts any error into a structured Error.
// If err is already an *Error, returns it unchanged.
// Otherwise wraps it as an internal error.
func AsStructuredError(err error) *Error {
	if err == nil {
		return nil
	}

	var structuredErr *Error
	if errors.As(err, &structuredErr) {
		return structuredErr
	}

	return InternalError("internal server error", err)
}
