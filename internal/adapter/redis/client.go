package redis

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/nseguin42/chatserver/internal/adapter/metrics"
)

// NewClient parses redisURL (e.g. "redis://localhost:6379/0"), connects and
// verifies the connection with a ping. When m is non-nil every command is
// instrumented through a MetricsHook.
func NewClient(ctx context.Context, redisURL string, m *metrics.RedisMetrics) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	rdb := goredis.NewClient(opts)
	if m != nil {
		rdb.AddHook(NewMetricsHook(m))
	}

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return rdb, nil
}
