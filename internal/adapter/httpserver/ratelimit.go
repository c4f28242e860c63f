package httpserver

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	apperrors "github.com/nseguin42/chatserver/internal/errors"
)

// Idle client buckets are evicted after this long.
const rateLimiterExpiry = 5 * time.Minute

// newRateLimiter throttles posting per client IP: perSecond tokens refill a
// bucket of size burst.
func newRateLimiter(perSecond float64, burst int) echo.MiddlewareFunc {
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(perSecond),
			Burst:     burst,
			ExpiresIn: rateLimiterExpiry,
		}),
		IdentifierExtractor: clientIP,
		DenyHandler:         rejectPost,
	})
}

func clientIP(c echo.Context) (string, error) {
	return c.RealIP(), nil
}

func rejectPost(c echo.Context, ip string, _ error) error {
	body := apperrors.ValidationError("rate limit exceeded").
		WithContext("client", ip).
		ToResponse()
	return c.JSON(http.StatusTooManyRequests, body)
}
