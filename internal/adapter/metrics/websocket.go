package metrics

import "github.com/prometheus/client_golang/prometheus"

// WebSocketMetrics holds Prometheus metrics for live channel connections.
type WebSocketMetrics struct {
	ActiveConnections prometheus.Gauge
	MessagesSent      prometheus.Counter
	WriteErrors       prometheus.Counter
}

// NewWebSocketMetrics creates and registers WebSocket metrics on the given registry.
func NewWebSocketMetrics(reg prometheus.Registerer) *WebSocketMetrics {
	m := &WebSocketMetrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "active_connections",
			Help:      "Number of active WebSocket connections.",
		}),
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "messages_sent_total",
			Help:      "Total number of chat messages written to WebSocket clients.",
		}),
		WriteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "write_errors_total",
			Help:      "Total number of failed WebSocket writes.",
		}),
	}

	reg.MustRegister(m.ActiveConnections, m.MessagesSent, m.WriteErrors)
	return m
}
