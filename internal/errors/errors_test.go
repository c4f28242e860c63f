package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigurationError(t *testing.T) {
	err := ConfigurationError("no user specified in db config")

	assert.Equal(t, TypeConfiguration, err.Type)
	assert.Equal(t, "no user specified in db config", err.Message)
	assert.Nil(t, err.Cause)
	assert.NotNil(t, err.Context)
	assert.Equal(t, http.StatusInternalServerError, err.HTTPStatus())
	assert.Contains(t, err.Error(), "configuration")
}

func TestDatabaseError(t *testing.T) {
	cause := fmt.Errorf("duplicate key value")
	err := DatabaseError("failed to insert message", cause)

	assert.Equal(t, TypeDatabase, err.Type)
	assert.Equal(t, cause, err.Cause)
	assert.Equal(t, http.StatusServiceUnavailable, err.HTTPStatus())
	assert.Contains(t, err.Error(), "database")
	assert.Contains(t, err.Error(), "failed to insert message")
	assert.Contains(t, err.Error(), "duplicate key value")
}

func TestIOError(t *testing.T) {
	cause := fmt.Errorf("connection reset by peer")
	err := IOError("connection lost", cause)

	assert.Equal(t, TypeIO, err.Type)
	assert.Equal(t, http.StatusBadGateway, err.HTTPStatus())
	assert.Contains(t, err.Error(), "connection reset by peer")
}

func TestStreamError(t *testing.T) {
	cause := fmt.Errorf("transform rejected message")
	err := StreamError("transform failed", cause)

	assert.Equal(t, TypeStream, err.Type)
	assert.True(t, errors.Is(err, cause))
}

func TestValidationError(t *testing.T) {
	err := ValidationError("invalid input")

	assert.Equal(t, TypeValidation, err.Type)
	assert.Equal(t, "invalid input", err.Message)
	assert.Nil(t, err.Cause)
	assert.Equal(t, http.StatusBadRequest, err.HTTPStatus())
	assert.Contains(t, err.Error(), "validation")
	assert.Contains(t, err.Error(), "invalid input")
}

func TestNotFoundError(t *testing.T) {
	err := NotFoundError("channel not found")

	assert.Equal(t, TypeNotFound, err.Type)
	assert.Equal(t, http.StatusNotFound, err.HTTPStatus())
	assert.Contains(t, err.Error(), "not_found")
}

func TestInternalErrorWithoutCause(t *testing.T) {
	err := InternalError("something went wrong", nil)

	assert.Equal(t, TypeInternal, err.Type)
	assert.Nil(t, err.Cause)
	assert.NotContains(t, err.Error(), "<nil>")
}

func TestExternalError(t *testing.T) {
	cause := fmt.Errorf("redis timeout")
	err := ExternalError("failed to publish message", cause)

	assert.Equal(t, TypeExternal, err.Type)
	assert.Equal(t, http.StatusBadGateway, err.HTTPStatus())
	assert.Contains(t, err.Error(), "redis timeout")
}

func TestWithContextChaining(t *testing.T) {
	err := DatabaseError("failed to prepare statement", nil).
		WithContext("statement", "SELECT 1").
		WithContext("timeout", "1s")

	assert.Len(t, err.Context, 2)
	assert.Equal(t, "SELECT 1", err.Context["statement"])
	assert.Equal(t, "1s", err.Context["timeout"])
}

func TestWithContextNilMap(t *testing.T) {
	err := &Error{
		Type:    TypeValidation,
		Message: "test",
		Context: nil,
	}

	err = err.WithContext("key", "value")

	assert.NotNil(t, err.Context)
	assert.Equal(t, "value", err.Context["key"])
}

func TestToResponse(t *testing.T) {
	err := ValidationError("invalid message").WithContext("field", "channel")

	resp := err.ToResponse()

	assert.Equal(t, "invalid message", resp.Error)
	assert.Equal(t, TypeValidation, resp.Type)
	assert.Equal(t, "channel", resp.Context["field"])
}

func TestUnwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := DatabaseError("wrapped", cause)

	assert.Equal(t, cause, errors.Unwrap(err))
	assert.Nil(t, errors.Unwrap(ValidationError("test")))
}

func TestIsType(t *testing.T) {
	err := fmt.Errorf("connect: %w", DatabaseError("handshake failed", nil))

	assert.True(t, IsType(err, TypeDatabase))
	assert.False(t, IsType(err, TypeIO))
	assert.False(t, IsType(fmt.Errorf("plain"), TypeDatabase))
	assert.False(t, IsType(nil, TypeDatabase))
}

func TestAsStructuredError(t *testing.T) {
	t.Run("structured error is returned unchanged", func(t *testing.T) {
		original := ValidationError("original")
		assert.Equal(t, original, AsStructuredError(original))
	})

	t.Run("standard error becomes internal", func(t *testing.T) {
		original := fmt.Errorf("standard error")
		result := AsStructuredError(original)

		require.NotNil(t, result)
		assert.Equal(t, TypeInternal, result.Type)
		assert.Equal(t, "internal server error", result.Message)
		assert.Equal(t, original, result.Cause)
	})

	t.Run("wrapped structured error is found", func(t *testing.T) {
		wrapped := fmt.Errorf("wrapped: %w", NotFoundError("channel not found"))
		result := AsStructuredError(wrapped)

		require.NotNil(t, result)
		assert.Equal(t, TypeNotFound, result.Type)
	})

	t.Run("nil stays nil", func(t *testing.T) {
		assert.Nil(t, AsStructuredError(nil))
	})
}

func TestHTTPStatusAllTypes(t *testing.T) {
	tests := []struct {
		name       string
		errorType  ErrorType
		wantStatus int
	}{
		{"validation", TypeValidation, http.StatusBadRequest},
		{"not_found", TypeNotFound, http.StatusNotFound},
		{"database", TypeDatabase, http.StatusServiceUnavailable},
		{"io", TypeIO, http.StatusBadGateway},
		{"external", TypeExternal, http.StatusBadGateway},
		{"configuration", TypeConfiguration, http.StatusInternalServerError},
		{"stream", TypeStream, http.StatusInternalServerError},
		{"internal", TypeInternal, http.StatusInternalServerError},
		{"unknown", ErrorType("unknown"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := &Error{Type: tt.errorType}
			assert.Equal(t, tt.wantStatus, err.HTTPStatus())
		})
	}
}
