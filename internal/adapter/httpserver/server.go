package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nseguin42/chatserver/internal/adapter/metrics"
	"github.com/nseguin42/chatserver/internal/domain"
	"github.com/nseguin42/chatserver/internal/platform/config"
	"github.com/nseguin42/chatserver/internal/stream"
)

type appService interface {
	PostMessage(ctx context.Context, msg domain.Message) (domain.Message, error)
	ChannelHistory(ctx context.Context, channel string) ([]domain.Message, error)
	UserMessages(ctx context.Context, username string) ([]domain.Message, error)
	Subscribe(ctx context.Context, channel string) (*stream.MessageStream, error)
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	app appService

	registry    *prometheus.Registry
	httpMetrics *metrics.HTTPMetrics
	wsMetrics   *metrics.WebSocketMetrics

	upgrader     websocket.Upgrader
	clock        clockwork.Clock
	healthChecks []HealthCheck
	startTime    time.Time
}

type Option func(*Server)

// WithClock sets the clock behind WebSocket pings and the reported uptime.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Server) { s.clock = clock }
}

// NewServer wires the routes. HTTP and WebSocket metrics are registered on
// registry, which is also served on /metrics.
func NewServer(cfg *config.Config, app appService, registry *prometheus.Registry, healthChecks []HealthCheck, opts ...Option) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:         e,
		config:       cfg,
		app:          app,
		registry:     registry,
		httpMetrics:  metrics.NewHTTPMetrics(registry),
		wsMetrics:    metrics.NewWebSocketMetrics(registry),
		clock:        clockwork.NewRealClock(),
		healthChecks: healthChecks,
	}
	for _, opt := range opts {
		opt(srv)
	}
	srv.startTime = srv.clock.Now()
	srv.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     newCheckOrigin(cfg.AppEnv == "development"),
	}

	srv.registerRoutes()

	return srv
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
