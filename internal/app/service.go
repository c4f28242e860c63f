package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nseguin42/chatserver/internal/adapter/metrics"
	"github.com/nseguin42/chatserver/internal/domain"
	apperrors "github.com/nseguin42/chatserver/internal/errors"
	"github.com/nseguin42/chatserver/internal/stream"
)

const DefaultHistoryLimit int64 = 10

type Option func(*Service)

func WithClock(clock clockwork.Clock) Option {
	return func(s *Service) { s.clock = clock }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithStreamMetrics(m *metrics.StreamMetrics) Option {
	return func(s *Service) { s.streamMetrics = m }
}

func WithHistoryLimit(limit int64) Option {
	return func(s *Service) { s.historyLimit = limit }
}

// Service is the application layer. It orchestrates all use cases.
type Service struct {
	messages      domain.MessageRepository
	feed          domain.MessageFeed
	historyLimit  int64
	clock         clockwork.Clock
	logger        *slog.Logger
	streamMetrics *metrics.StreamMetrics
}

// NewService creates the application layer service.
// feed may be nil when no live feed is configured.
func NewService(messages domain.MessageRepository, feed domain.MessageFeed, opts ...Option) *Service {
	s := &Service{
		messages:     messages,
		feed:         feed,
		historyLimit: DefaultHistoryLimit,
		clock:        clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "app")
	if s.streamMetrics == nil {
		s.streamMetrics = metrics.NewStreamMetrics(prometheus.NewRegistry())
	}
	return s
}

// FeedEnabled reports whether live subscriptions are available.
func (s *Service) FeedEnabled() bool {
	return s.feed != nil
}

// PostMessage stores msg and then publishes it to live subscribers. A zero
// timestamp is replaced with the current time. A failed publish is logged;
// the stored message is still returned.
func (s *Service) PostMessage(ctx context.Context, msg domain.Message) (domain.Message, error) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.clock.Now()
	}
	if err := msg.Validate(); err != nil {
		return domain.Message{}, apperrors.ValidationError("text, username and channel are required").
			WithContext("detail", err.Error())
	}

	stored, err := s.messages.InsertMessage(ctx, msg)
	if err != nil {
		return domain.Message{}, err
	}

	if s.feed != nil {
		if err := s.feed.Publish(ctx, stored); err != nil {
			s.logger.WarnContext(ctx, "Failed to publish message to live feed", "channel", stored.Channel, "error", err)
		}
	}
	return stored, nil
}

// ChannelHistory returns the most recent messages of channel, newest first.
func (s *Service) ChannelHistory(ctx context.Context, channel string) ([]domain.Message, error) {
	if channel == "" {
		return nil, apperrors.ValidationError("channel is required")
	}
	return s.messages.GetMessagesFromChannel(ctx, channel, s.historyLimit)
}

// UserMessages returns every message posted by username, in no guaranteed order.
func (s *Service) UserMessages(ctx context.Context, username string) ([]domain.Message, error) {
	if username == "" {
		return nil, apperrors.ValidationError("username is required")
	}
	return s.messages.GetMessagesByUser(ctx, username)
}

// Subscribe opens a live stream of messages posted to channel. Messages that
// fail validation surface as stream errors; the stream stays usable.
func (s *Service) Subscribe(ctx context.Context, channel string) (*stream.MessageStream, error) {
	if s.feed == nil {
		return nil, domain.ErrFeedDisabled
	}
	if channel == "" {
		return nil, apperrors.ValidationError("channel is required")
	}

	sub, err := s.feed.Subscribe(ctx, channel)
	if err != nil {
		return nil, err
	}

	st := stream.WrapWithTransform(sub, validated,
		stream.WithClock(s.clock),
		stream.WithLogger(s.logger.With("channel", channel)),
		stream.WithMetrics(s.streamMetrics),
	)
	st.Start()
	return st, nil
}

func validated(msg domain.Message) (domain.Message, error) {
	if err := msg.Validate(); err != nil {
		return domain.Message{}, errors.Join(errors.New("invalid live message"), err)
	}
	return msg, nil
}
