package metrics

import "github.com/prometheus/client_golang/prometheus"

// FeedMetrics holds Prometheus metrics for the live message feed.
type FeedMetrics struct {
	Published     *prometheus.CounterVec
	Received      prometheus.Counter
	DecodeErrors  prometheus.Counter
	BreakerState  prometheus.Gauge
	Subscriptions prometheus.Gauge
}

// NewFeedMetrics creates and registers live feed metrics on the given registry.
func NewFeedMetrics(reg prometheus.Registerer) *FeedMetrics {
	m := &FeedMetrics{
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "published_total",
			Help:      "Total number of feed publish attempts, by result.",
		}, []string{"result"}),
		Received: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "received_total",
			Help:      "Total number of messages received from the feed.",
		}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "decode_errors_total",
			Help:      "Total number of feed payloads that could not be decoded.",
		}),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "circuit_breaker_state",
			Help:      "Publish circuit breaker state (0=closed, 1=half-open, 2=open).",
		}),
		Subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "subscriptions_active",
			Help:      "Number of open feed subscriptions.",
		}),
	}

	reg.MustRegister(m.Published, m.Received, m.DecodeErrors, m.BreakerState, m.Subscriptions)
	return m
}
