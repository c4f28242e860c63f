package httpserver

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nseguin42/chatserver/internal/domain"
	"github.com/nseguin42/chatserver/internal/platform/config"
	"github.com/nseguin42/chatserver/internal/stream"
)

// --- Mock implementations ---

type mockAppService struct {
	postMessageFn    func(ctx context.Context, msg domain.Message) (domain.Message, error)
	channelHistoryFn func(ctx context.Context, channel string) ([]domain.Message, error)
	userMessagesFn   func(ctx context.Context, username string) ([]domain.Message, error)
	subscribeFn      func(ctx context.Context, channel string) (*stream.MessageStream, error)
}

func (m *mockAppService) PostMessage(ctx context.Context, msg domain.Message) (domain.Message, error) {
	if m.postMessageFn != nil {
		return m.postMessageFn(ctx, msg)
	}
	return msg, nil
}

func (m *mockAppService) ChannelHistory(ctx context.Context, channel string) ([]domain.Message, error) {
	if m.channelHistoryFn != nil {
		return m.channelHistoryFn(ctx, channel)
	}
	return []domain.Message{}, nil
}

func (m *mockAppService) UserMessages(ctx context.Context, username string) ([]domain.Message, error) {
	if m.userMessagesFn != nil {
		return m.userMessagesFn(ctx, username)
	}
	return []domain.Message{}, nil
}

func (m *mockAppService) Subscribe(ctx context.Context, channel string) (*stream.MessageStream, error) {
	if m.subscribeFn != nil {
		return m.subscribeFn(ctx, channel)
	}
	return nil, errors.New("not implemented")
}

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:              "test",
		Port:                "0",
		ChannelHistoryLimit: 10,
		PostRateLimit:       100,
		PostRateBurst:       100,
	}
}

func newTestServer(t *testing.T, app appService, opts ...Option) *Server {
	t.Helper()
	return NewServer(testConfig(), app, prometheus.NewRegistry(), nil, opts...)
}

func withHealthChecks(checks ...HealthCheck) Option {
	return func(s *Server) {
		s.healthChecks = checks
	}
}
