// Package stream wraps asynchronous message sources in a pull-based stream
// that tracks activity timestamps and applies an optional per-item transform.
package stream

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nseguin42/chatserver/internal/adapter/metrics"
	"github.com/nseguin42/chatserver/internal/domain"
	apperrors "github.com/nseguin42/chatserver/internal/errors"
)

// Source is an asynchronous sequence of messages. C is closed when the source
// is exhausted. domain.Subscription satisfies it.
type Source interface {
	C() <-chan domain.Message
	Close() error
}

// Transform is applied to every item before the consumer sees it.
type Transform func(domain.Message) (domain.Message, error)

// Map lifts an infallible function into a Transform.
func Map(fn func(domain.Message) domain.Message) Transform {
	return func(msg domain.Message) (domain.Message, error) {
		return fn(msg), nil
	}
}

type channelSource struct {
	ch <-chan domain.Message
}

// FromChannel adapts a plain channel. The caller keeps ownership of ch;
// closing the source does not close it.
func FromChannel(ch <-chan domain.Message) Source {
	return channelSource{ch: ch}
}

func (s channelSource) C() <-chan domain.Message { return s.ch }
func (s channelSource) Close() error             { return nil }

type Option func(*MessageStream)

func WithClock(clock clockwork.Clock) Option {
	return func(s *MessageStream) { s.clock = clock }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *MessageStream) { s.logger = logger }
}

func WithMetrics(m *metrics.StreamMetrics) Option {
	return func(s *MessageStream) { s.metrics = m }
}

// MessageStream is a pull-based wrapper over a Source.
type MessageStream struct {
	src       Source
	transform Transform
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *metrics.StreamMetrics

	pullMu sync.Mutex
	ended  bool

	tsMu      sync.RWMutex
	createdAt time.Time
	updatedAt time.Time

	started   atomic.Bool
	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// Wrap creates a stream over src.
func Wrap(src Source, opts ...Option) *MessageStream {
	return WrapWithTransform(src, nil, opts...)
}

// WrapWithTransform creates a stream over src that passes every item through t.
func WrapWithTransform(src Source, t Transform, opts ...Option) *MessageStream {
	s := &MessageStream{
		src:       src,
		transform: t,
		clock:     clockwork.NewRealClock(),
		closed:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "stream")
	if s.metrics == nil {
		s.metrics = metrics.NewStreamMetrics(prometheus.NewRegistry())
	}

	now := s.clock.Now()
	s.createdAt = now
	s.updatedAt = now
	return s
}

func (s *MessageStream) CreatedAt() time.Time {
	s.tsMu.RLock()
	defer s.tsMu.RUnlock()
	return s.createdAt
}

func (s *MessageStream) UpdatedAt() time.Time {
	s.tsMu.RLock()
	defer s.tsMu.RUnlock()
	return s.updatedAt
}

func (s *MessageStream) touch() {
	now := s.clock.Now()
	s.tsMu.Lock()
	if now.After(s.updatedAt) {
		s.updatedAt = now
	}
	s.tsMu.Unlock()
}

// Next blocks until the source yields an item, is exhausted or ctx is done.
// Exhaustion returns domain.ErrEndOfStream, and every later call does too.
// A failing transform returns a stream error for that item only.
func (s *MessageStream) Next(ctx context.Context) (domain.Message, error) {
	s.pullMu.Lock()
	defer s.pullMu.Unlock()

	if s.ended {
		s.touch()
		return domain.Message{}, domain.ErrEndOfStream
	}
	if s.isClosed() {
		return s.end()
	}

	select {
	case <-ctx.Done():
		return domain.Message{}, ctx.Err()
	case <-s.closed:
		return s.end()
	case msg, ok := <-s.src.C():
		// Items already buffered in the source are dropped once Close has run.
		if !ok || s.isClosed() {
			return s.end()
		}
		s.touch()
		if s.transform != nil {
			out, err := s.transform(msg)
			if err != nil {
				s.metrics.TransformErrors.Inc()
				return domain.Message{}, apperrors.StreamError("transform failed", err).
					WithContext("channel", msg.Channel)
			}
			msg = out
		}
		s.metrics.ItemsDelivered.Inc()
		return msg, nil
	}
}

func (s *MessageStream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *MessageStream) end() (domain.Message, error) {
	s.ended = true
	s.touch()
	s.logger.Debug("stream exhausted")
	return domain.Message{}, domain.ErrEndOfStream
}

// Start marks the beginning of consumption. It does not gate Next.
func (s *MessageStream) Start() {
	if s.started.CompareAndSwap(false, true) {
		s.metrics.ActiveStreams.Inc()
		s.logger.Debug("starting chat stream")
	}
}

// Stop marks the end of consumption. It does not gate Next.
func (s *MessageStream) Stop() {
	if s.started.CompareAndSwap(true, false) {
		s.metrics.ActiveStreams.Dec()
		s.logger.Debug("stopping chat stream")
	}
}

// Close releases the source. Pending and later pulls report end of stream.
func (s *MessageStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.Stop()
		s.closeErr = s.src.Close()
	})
	return s.closeErr
}
