package metrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics covers the request/response API. Probe, scrape and WebSocket
// routes are not counted.
type HTTPMetrics struct {
	RequestDuration *prometheus.HistogramVec
	RequestsTotal   *prometheus.CounterVec
	InFlightGauge   prometheus.Gauge
}

var httpLabels = []string{"method", "route", "status_code"}

func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	m := &HTTPMetrics{
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Time spent serving API requests.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, httpLabels),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "API requests served, by route and status.",
		}, httpLabels),
		InFlightGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "API requests currently being served.",
		}),
	}

	reg.MustRegister(m.RequestDuration, m.RequestsTotal, m.InFlightGauge)
	return m
}

func untracked(route string) bool {
	return route == "/metrics" ||
		strings.HasPrefix(route, "/health/") ||
		strings.HasPrefix(route, "/ws/")
}

// Middleware labels by the matched route pattern, so /channel/a and
// /channel/b share a series.
func (m *HTTPMetrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			route := c.Path()
			if untracked(route) {
				return next(c)
			}

			m.InFlightGauge.Inc()
			start := time.Now()
			err := next(c)
			m.InFlightGauge.Dec()

			m.observe(c.Request().Method, route, c.Response().Status, time.Since(start))
			return err
		}
	}
}

func (m *HTTPMetrics) observe(method, route string, status int, elapsed time.Duration) {
	labels := prometheus.Labels{"method": method, "route": route, "status_code": strconv.Itoa(status)}
	m.RequestDuration.With(labels).Observe(elapsed.Seconds())
	m.RequestsTotal.With(labels).Inc()
}
