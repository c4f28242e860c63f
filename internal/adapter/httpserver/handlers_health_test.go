package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nseguin42/chatserver/internal/platform/version"
)

func healthOK(_ context.Context) error { return nil }

func healthErr(msg string) func(context.Context) error {
	return func(_ context.Context) error { return errors.New(msg) }
}

func TestHandleStartup(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health/startup", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	srv := newTestServer(t, &mockAppService{},
		withHealthChecks(
			HealthCheck{Name: "postgres", Check: healthOK},
			HealthCheck{Name: "redis", Check: healthOK},
		),
	)

	err := srv.handleStartup(c)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready"}`, rec.Body.String())
}

func TestHandleLiveness(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	srv := newTestServer(t, &mockAppService{},
		withHealthChecks(HealthCheck{Name: "postgres", Check: healthErr("down")}),
	)
	err := srv.handleLiveness(c)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.Contains(t, rec.Body.String(), `"uptime"`)
}

func TestHandleLiveness_UptimeFollowsClock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	srv := newTestServer(t, &mockAppService{}, WithClock(clock))
	clock.Advance(90 * time.Second)

	rec := httptest.NewRecorder()
	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/health/live", nil), rec)
	require.NoError(t, srv.handleLiveness(c))

	var body struct {
		Status string  `json:"status"`
		Uptime float64 `json:"uptime"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 90.0, body.Uptime)
}

func TestHandleReadiness_NoChecks(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	srv := newTestServer(t, &mockAppService{})
	require.NoError(t, srv.handleReadiness(c))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleReadiness_PostgresDown(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	srv := newTestServer(t, &mockAppService{},
		withHealthChecks(
			HealthCheck{Name: "postgres", Check: healthErr("database unreachable")},
			HealthCheck{Name: "redis", Check: healthOK},
		),
	)

	err := srv.handleReadiness(c)

	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"unhealthy"`)
	assert.Contains(t, rec.Body.String(), `"failed_check":"postgres"`)
	assert.Contains(t, rec.Body.String(), `"error":"database unreachable"`)
}

func TestHandleReadiness_ReportsFirstFailure(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	srv := newTestServer(t, &mockAppService{},
		withHealthChecks(
			HealthCheck{Name: "postgres", Check: healthOK},
			HealthCheck{Name: "redis", Check: healthErr("connection refused")},
			HealthCheck{Name: "never_reached", Check: healthErr("unreachable")},
		),
	)

	require.NoError(t, srv.handleReadiness(c))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"failed_check":"redis"`)
	assert.NotContains(t, rec.Body.String(), "never_reached")
}

func TestHandleVersion(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/version", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	srv := newTestServer(t, &mockAppService{})
	require.NoError(t, srv.handleVersion(c))

	assert.Equal(t, http.StatusOK, rec.Code)
	var info version.Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, version.Version, info.Version)
	assert.NotEmpty(t, info.GoVersion)
}
