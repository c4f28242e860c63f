package httpserver

import (
	"github.com/labstack/echo/v4"

	"github.com/nseguin42/chatserver/internal/platform/correlation"
)

// correlationMiddleware reuses a well-formed inbound X-Correlation-ID or
// generates one, stores it in the request context and echoes it back.
func correlationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := correlation.FromHeader(c.Request().Header.Get(correlation.Header))
		ctx := correlation.WithID(c.Request().Context(), id)
		c.SetRequest(c.Request().WithContext(ctx))
		c.Response().Header().Set(correlation.Header, id)
		return next(c)
	}
}
