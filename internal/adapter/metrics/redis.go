package metrics

import "github.com/prometheus/client_golang/prometheus"

// RedisMetrics holds Prometheus metrics for Redis commands issued by the feed.
type RedisMetrics struct {
	CommandsTotal    *prometheus.CounterVec
	CommandDuration  *prometheus.HistogramVec
	ConnectionErrors prometheus.Counter
}

// NewRedisMetrics creates and registers Redis command metrics on the given registry.
func NewRedisMetrics(reg prometheus.Registerer) *RedisMetrics {
	m := &RedisMetrics{
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "commands_total",
			Help:      "Total number of Redis commands, by command and status.",
		}, []string{"command", "status"}),
		CommandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "command_duration_seconds",
			Help:      "Duration of Redis commands in seconds.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"command"}),
		ConnectionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "connection_errors_total",
			Help:      "Total number of failed Redis dials.",
		}),
	}

	reg.MustRegister(m.CommandsTotal, m.CommandDuration, m.ConnectionErrors)
	return m
}
