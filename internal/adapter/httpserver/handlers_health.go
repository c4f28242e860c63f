package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/nseguin42/chatserver/internal/platform/version"
)

const (
	startupProbeTimeout   = 2 * time.Second
	readinessProbeTimeout = 5 * time.Second
)

// HealthCheck is a dependency probe reported by /health/startup and /health/ready.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type probeResult struct {
	Status      string   `json:"status"`
	Uptime      *float64 `json:"uptime,omitempty"`
	FailedCheck string   `json:"failed_check,omitempty"`
	Error       string   `json:"error,omitempty"`
}

func (s *Server) registerHealthRoutes() {
	s.echo.GET("/health/startup", s.handleStartup)
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/version", s.handleVersion)
}

func (s *Server) handleStartup(c echo.Context) error {
	return s.probe(c, startupProbeTimeout)
}

func (s *Server) handleReadiness(c echo.Context) error {
	return s.probe(c, readinessProbeTimeout)
}

// handleLiveness never consults dependencies; a process that can answer is live.
func (s *Server) handleLiveness(c echo.Context) error {
	uptime := s.clock.Since(s.startTime).Seconds()
	return writeProbe(c, http.StatusOK, probeResult{Status: "ok", Uptime: &uptime})
}

func (s *Server) probe(c echo.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
	defer cancel()

	name, err := s.firstFailingCheck(ctx)
	if err != nil {
		return writeProbe(c, http.StatusServiceUnavailable, probeResult{
			Status:      "unhealthy",
			FailedCheck: name,
			Error:       err.Error(),
		})
	}
	return writeProbe(c, http.StatusOK, probeResult{Status: "ready"})
}

// firstFailingCheck runs checks in registration order and stops at the first error.
func (s *Server) firstFailingCheck(ctx context.Context) (string, error) {
	for _, hc := range s.healthChecks {
		if err := hc.Check(ctx); err != nil {
			return hc.Name, err
		}
	}
	return "", nil
}

func writeProbe(c echo.Context, status int, result probeResult) error {
	if err := c.JSON(status, result); err != nil {
		return fmt.Errorf("write %s probe: %w", result.Status, err)
	}
	return nil
}

func (s *Server) handleVersion(c echo.Context) error {
	if err := c.JSON(http.StatusOK, version.Get()); err != nil {
		return fmt.Errorf("write version: %w", err)
	}
	return nil
}
