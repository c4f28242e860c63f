package errors

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPErrorsTotal tracks HTTP errors by type
	HTTPErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total HTTP errors by error type",
		},
		[]string{"type"},
	)
)

// Middleware returns an Echo middleware that handles structured errors.
// It catches errors returned by handlers and converts them to appropriate HTTP responses.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}

			// Echo errors (404 routing, rate limiter, binder) keep their status code.
			var httpErr *echo.HTTPError
			if errors.As(err, &httpErr) {
				structuredErr := WrapHTTPError(httpErr)
				HTTPErrorsTotal.WithLabelValues(string(structuredErr.Type)).Inc()
				return err
			}

			return HandleError(c, err)
		}
	}
}

// HandleError writes err as a JSON error response, records it and logs it.
func HandleError(c echo.Context, err error) error {
	if err == nil {
		return nil
	}

	structuredErr := AsStructuredError(err)
	HTTPErrorsTotal.WithLabelValues(string(structuredErr.Type)).Inc()
	logError(c, structuredErr)
	if err := c.JSON(structuredErr.HTTPStatus(), structuredErr.ToResponse()); err != nil {
		return fmt.Errorf("failed to write error response: %w", err)
	}
	return nil
}

func logError(c echo.Context, err *Error) {
	ctx := c.Request().Context()
	attrs := []any{
		"error_type", err.Type,
		"message", err.Message,
		"path", c.Request().URL.Path,
		"method", c.Request().Method,
		"status", err.HTTPStatus(),
	}

	for k, v := range err.Context {
		attrs = append(attrs, k, v)
	}

	switch err.Type {
	case TypeValidation:
		slog.InfoContext(ctx, "Validation error", attrs...)
	case TypeNotFound:
		slog.InfoContext(ctx, "Not found", attrs...)
	default:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.ErrorContext(ctx, "Request failed", attrs...)
	}
}

// WrapHTTPError converts Echo's HTTPError to a structured error.
func WrapHTTPError(httpErr *echo.HTTPError) *Error {
	message := "internal server error"
	if msg, ok := httpErr.Message.(string); ok {
		message = msg
	}

	var errType ErrorType
	switch httpErr.Code {
	case http.StatusBadRequest, http.StatusTooManyRequests:
		errType = TypeValidation
	case http.StatusNotFound:
		errType = TypeNotFound
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		errType = TypeExternal
	default:
		errType = TypeInternal
	}

	err := newError(errType, message, nil)
	if httpErr.Internal != nil {
		err.Cause = httpErr.Internal
	}
	return err
}
