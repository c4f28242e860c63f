package redis

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/nseguin42/chatserver/internal/adapter/metrics"
	"github.com/nseguin42/chatserver/internal/domain"
	apperrors "github.com/nseguin42/chatserver/internal/errors"
)

const (
	channelPrefix     = "chat:channel:"
	subscriptionDepth = 64
)

func channelKey(channel string) string {
	return channelPrefix + channel
}

// BreakerSettings returns the publish breaker defaults: trip at a 60% failure
// rate over at least 5 requests, probe again after 30s.
func BreakerSettings() gobreaker.Settings {
	return gobreaker.Settings{
		Name:        "redis-feed",
		MaxRequests: 1,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
	}
}

type FeedOption func(*Feed)

func WithLogger(logger *slog.Logger) FeedOption {
	return func(f *Feed) { f.logger = logger }
}

func WithMetrics(m *metrics.FeedMetrics) FeedOption {
	return func(f *Feed) { f.metrics = m }
}

func WithBreakerSettings(s gobreaker.Settings) FeedOption {
	return func(f *Feed) { f.breakerSettings = s }
}

// Feed fans stored messages out over Redis Pub/Sub, one Redis channel per chat channel.
type Feed struct {
	rdb             *goredis.Client
	cb              *gobreaker.CircuitBreaker
	breakerSettings gobreaker.Settings
	logger          *slog.Logger
	metrics         *metrics.FeedMetrics
}

var _ domain.MessageFeed = (*Feed)(nil)

func NewFeed(rdb *goredis.Client, opts ...FeedOption) *Feed {
	f := &Feed{rdb: rdb, breakerSettings: BreakerSettings()}
	for _, opt := range opts {
		opt(f)
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}
	f.logger = f.logger.With("component", "redis_feed")
	if f.metrics == nil {
		f.metrics = metrics.NewFeedMetrics(prometheus.NewRegistry())
	}

	settings := f.breakerSettings
	settings.OnStateChange = func(name string, from, to gobreaker.State) {
		f.logger.Warn("Circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		f.metrics.BreakerState.Set(stateToFloat(to))
	}
	f.cb = gobreaker.NewCircuitBreaker(settings)
	return f
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// BreakerState reports the publish circuit breaker state.
func (f *Feed) BreakerState() gobreaker.State {
	return f.cb.State()
}

// Publish sends msg to every subscriber of its channel.
func (f *Feed) Publish(ctx context.Context, msg domain.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return apperrors.InternalError("failed to encode feed message", err)
	}

	_, err = f.cb.Execute(func() (interface{}, error) {
		return nil, f.rdb.Publish(ctx, channelKey(msg.Channel), data).Err()
	})
	if err != nil {
		result := "error"
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			result = "rejected"
		}
		f.metrics.Published.WithLabelValues(result).Inc()
		return apperrors.ExternalError("failed to publish message", err).WithContext("channel", msg.Channel)
	}

	f.metrics.Published.WithLabelValues("ok").Inc()
	return nil
}

// Subscribe starts receiving messages posted to channel. The subscription is
// confirmed by Redis before it is returned.
func (f *Feed) Subscribe(ctx context.Context, channel string) (domain.Subscription, error) {
	pubsub := f.rdb.Subscribe(ctx, channelKey(channel))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, apperrors.ExternalError("failed to subscribe to channel", err).WithContext("channel", channel)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	sub := &subscription{
		pubsub: pubsub,
		ch:     make(chan domain.Message, subscriptionDepth),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	f.metrics.Subscriptions.Inc()

	go f.forward(subCtx, channel, sub)

	return sub, nil
}

func (f *Feed) forward(ctx context.Context, channel string, sub *subscription) {
	defer close(sub.done)
	defer close(sub.ch)
	defer f.metrics.Subscriptions.Dec()

	msgCh := sub.pubsub.Channel()
	for {
		select {
		case raw, ok := <-msgCh:
			if !ok {
				return
			}
			var msg domain.Message
			if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
				f.metrics.DecodeErrors.Inc()
				f.logger.Warn("Failed to decode feed message", "channel", channel, "error", err)
				continue
			}
			f.metrics.Received.Inc()
			select {
			case sub.ch <- msg:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

type subscription struct {
	pubsub    *goredis.PubSub
	ch        chan domain.Message
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func (s *subscription) C() <-chan domain.Message {
	return s.ch
}

// Close unsubscribes and waits for the forwarding goroutine to exit.
func (s *subscription) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.closeErr = s.pubsub.Close()
		<-s.done
	})
	return s.closeErr
}
