package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"

	"github.com/nseguin42/chatserver/internal/adapter/httpserver"
	"github.com/nseguin42/chatserver/internal/adapter/metrics"
	"github.com/nseguin42/chatserver/internal/adapter/postgres"
	"github.com/nseguin42/chatserver/internal/adapter/redis"
	"github.com/nseguin42/chatserver/internal/app"
	"github.com/nseguin42/chatserver/internal/domain"
	"github.com/nseguin42/chatserver/internal/platform/config"
	"github.com/nseguin42/chatserver/internal/platform/logging"
	"github.com/nseguin42/chatserver/internal/platform/retry"
	"github.com/nseguin42/chatserver/internal/platform/version"
)

const (
	connectAttempts   = 5
	connectBackoff    = 500 * time.Millisecond
	connectMaxBackoff = 8 * time.Second
	connectTimeout    = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
)

func runGracefulShutdown(srv *httpserver.Server, repo *postgres.MessageRepo) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}
		if err := repo.Close(shutdownCtx); err != nil {
			slog.Error("Failed to close message repository", "error", err)
		}

		close(done)
	}()

	return done
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

// setupRepository connects the message repository, retrying transient
// failures. Each attempt uses a fresh repository since a failed one stays failed.
func setupRepository(cfg *config.Config, reg prometheus.Registerer, clock clockwork.Clock) *postgres.MessageRepo {
	desc, err := postgres.BuildDescriptor(cfg.DatabaseParams())
	if err != nil {
		slog.Error("Invalid database configuration", "error", err)
		os.Exit(1)
	}
	mode, err := postgres.ParsePrepareMode(cfg.PGPrepareMode)
	if err != nil {
		slog.Error("Invalid prepare mode", "error", err)
		os.Exit(1)
	}
	slog.Info("Connecting to postgres", "conn", desc.Redacted(), "prepare_mode", mode.String())

	dbMetrics := metrics.NewDBMetrics(reg)
	policy := retry.Policy{
		MaxAttempts:    connectAttempts,
		InitialBackoff: connectBackoff,
		MaxBackoff:     connectMaxBackoff,
		Clock:          clock,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			slog.Warn("Postgres connect failed, retrying", "attempt", attempt, "backoff", backoff, "error", err)
		},
	}

	repo, err := retry.Do(context.Background(), policy, retry.StopOnConfiguration,
		func(ctx context.Context) (*postgres.MessageRepo, error) {
			repo := postgres.NewMessageRepo(desc,
				postgres.WithMetrics(dbMetrics),
				postgres.WithClock(clock),
				postgres.WithHeartbeat(cfg.HeartbeatInterval),
				postgres.WithPrepareMode(mode),
			)
			attemptCtx, cancel := context.WithTimeout(ctx, connectTimeout)
			defer cancel()
			if err := repo.Connect(attemptCtx); err != nil {
				return nil, err
			}
			return repo, nil
		})
	if err != nil {
		slog.Error("Failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	return repo
}

func setupRedis(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) *goredis.Client {
	client, err := redis.NewClient(ctx, cfg.RedisURL, metrics.NewRedisMetrics(reg))
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "version", version.Get().String())

	registry := metrics.NewRegistry()

	repo := setupRepository(cfg, registry, clock)

	healthChecks := []httpserver.HealthCheck{
		{Name: "postgres", Check: repo.Ping},
	}

	// A nil interface keeps the feed disabled without a typed-nil trap.
	var feed domain.MessageFeed
	if cfg.FeedEnabled() {
		redisClient := setupRedis(context.Background(), cfg, registry)
		defer func() { _ = redisClient.Close() }()

		feed = redis.NewFeed(redisClient, redis.WithMetrics(metrics.NewFeedMetrics(registry)))
		healthChecks = append(healthChecks, httpserver.HealthCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	} else {
		slog.Info("REDIS_URL not set, live feed disabled")
	}

	appSvc := app.NewService(repo, feed,
		app.WithClock(clock),
		app.WithHistoryLimit(cfg.ChannelHistoryLimit),
		app.WithStreamMetrics(metrics.NewStreamMetrics(registry)),
	)

	srv := httpserver.NewServer(cfg, appSvc, registry, healthChecks, httpserver.WithClock(clock))

	done := runGracefulShutdown(srv, repo)

	if err := srv.Start(); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
