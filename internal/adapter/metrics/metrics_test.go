package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistryServesMetrics(t *testing.T) {
	reg := NewRegistry()
	db := NewDBMetrics(reg)
	db.ConnFailures.Inc()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "chatserver_db_connection_failures_total 1")
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestAllMetricSetsRegisterOnOneRegistry(t *testing.T) {
	reg := NewRegistry()
	require.NotPanics(t, func() {
		NewDBMetrics(reg)
		NewStreamMetrics(reg)
		NewFeedMetrics(reg)
		NewWebSocketMetrics(reg)
		NewHTTPMetrics(reg)
		NewRedisMetrics(reg)
	})
}

func TestHTTPMiddlewareRecordsRoute(t *testing.T) {
	reg := NewRegistry()
	m := NewHTTPMetrics(reg)

	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/channel/:channel", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/health/live", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/channel/general", nil))
	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues(http.MethodGet, "/channel/:channel", "200")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.RequestsTotal))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.InFlightGauge))
}
