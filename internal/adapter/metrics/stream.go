package metrics

import "github.com/prometheus/client_golang/prometheus"

// StreamMetrics holds Prometheus metrics for message streams.
type StreamMetrics struct {
	ActiveStreams   prometheus.Gauge
	ItemsDelivered  prometheus.Counter
	TransformErrors prometheus.Counter
}

// NewStreamMetrics creates and registers stream metrics on the given registry.
func NewStreamMetrics(reg prometheus.Registerer) *StreamMetrics {
	m := &StreamMetrics{
		ActiveStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "active",
			Help:      "Number of started message streams.",
		}),
		ItemsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "items_delivered_total",
			Help:      "Total number of messages delivered by streams.",
		}),
		TransformErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "transform_errors_total",
			Help:      "Total number of stream items rejected by a transform.",
		}),
	}

	reg.MustRegister(m.ActiveStreams, m.ItemsDelivered, m.TransformErrors)
	return m
}
