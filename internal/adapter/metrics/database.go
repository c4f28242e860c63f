package metrics

import "github.com/prometheus/client_golang/prometheus"

// DBMetrics holds Prometheus metrics for the message repository connection.
type DBMetrics struct {
	QueryDuration   *prometheus.HistogramVec
	QueryErrors     *prometheus.CounterVec
	PrepareFailures *prometheus.CounterVec
	ConnFailures    prometheus.Counter
	Connected       prometheus.Gauge
}

// NewDBMetrics creates and registers repository metrics on the given registry.
func NewDBMetrics(reg prometheus.Registerer) *DBMetrics {
	m := &DBMetrics{
		QueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "query_duration_seconds",
			Help:      "Duration of repository statements in seconds, by statement and execution path.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"statement", "target"}),
		QueryErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "query_errors_total",
			Help:      "Total number of failed repository statements, by statement.",
		}, []string{"statement"}),
		PrepareFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "prepare_failures_total",
			Help:      "Total number of server-side prepare failures, by statement.",
		}, []string{"statement"}),
		ConnFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "connection_failures_total",
			Help:      "Total number of terminal connection failures.",
		}),
		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "connected",
			Help:      "1 while the repository connection is healthy.",
		}),
	}

	reg.MustRegister(m.QueryDuration, m.QueryErrors, m.PrepareFailures, m.ConnFailures, m.Connected)
	return m
}
