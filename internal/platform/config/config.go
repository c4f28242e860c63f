package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"

	"github.com/nseguin42/chatserver/internal/platform/logging"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	RedisURL  string `env:"REDIS_URL"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	PGUser               string `env:"PG_USER"`
	PGHost               string `env:"PG_HOST"`
	PGPassword           string `env:"PG_PASSWORD"`
	PGDBName             string `env:"PG_DBNAME"`
	PGOptions            string `env:"PG_OPTIONS"`
	PGApplicationName    string `env:"PG_APPLICATION_NAME" default:"chatserver"`
	PGSSLMode            string `env:"PG_SSLMODE"`
	PGPort               string `env:"PG_PORT"`
	PGConnectTimeout     string `env:"PG_CONNECT_TIMEOUT"`
	PGKeepalives         string `env:"PG_KEEPALIVES"`
	PGKeepalivesIdle     string `env:"PG_KEEPALIVES_IDLE"`
	PGTargetSessionAttrs string `env:"PG_TARGET_SESSION_ATTRS"`
	PGChannelBinding     string `env:"PG_CHANNEL_BINDING"`
	PGPrepareMode        string `env:"PG_PREPARE_MODE" default:"eager"`

	HeartbeatInterval   time.Duration `env:"HEARTBEAT_INTERVAL" default:"30s"`
	ChannelHistoryLimit int64         `env:"CHANNEL_HISTORY_LIMIT" default:"10"`
	PostRateLimit       float64       `env:"POST_RATE_LIMIT" default:"5"`
	PostRateBurst       int           `env:"POST_RATE_BURST" default:"10"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	required := map[string]string{
		"PG_USER": cfg.PGUser,
		"PG_HOST": cfg.PGHost,
	}
	for name, value := range required {
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
	}

	if _, err := logging.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", cfg.LogFormat)
	}
	if cfg.PGPrepareMode != "eager" && cfg.PGPrepareMode != "lazy" {
		return fmt.Errorf("PG_PREPARE_MODE must be eager or lazy, got %q", cfg.PGPrepareMode)
	}
	if cfg.ChannelHistoryLimit <= 0 {
		return errors.New("CHANNEL_HISTORY_LIMIT must be positive")
	}
	if cfg.HeartbeatInterval <= 0 {
		return errors.New("HEARTBEAT_INTERVAL must be positive")
	}
	if cfg.PostRateLimit <= 0 || cfg.PostRateBurst <= 0 {
		return errors.New("POST_RATE_LIMIT and POST_RATE_BURST must be positive")
	}

	return nil
}

// DatabaseParams returns the connection parameters as the flat bag the
// repository's descriptor is built from. Unset values are empty.
func (c *Config) DatabaseParams() map[string]string {
	return map[string]string{
		"user":                 c.PGUser,
		"host":                 c.PGHost,
		"password":             c.PGPassword,
		"dbname":               c.PGDBName,
		"options":              c.PGOptions,
		"application_name":     c.PGApplicationName,
		"sslmode":              c.PGSSLMode,
		"port":                 c.PGPort,
		"connect_timeout":      c.PGConnectTimeout,
		"keepalives":           c.PGKeepalives,
		"keepalives_idle":      c.PGKeepalivesIdle,
		"target_session_attrs": c.PGTargetSessionAttrs,
		"channel_binding":      c.PGChannelBinding,
	}
}

// FeedEnabled reports whether a Redis live feed is configured.
func (c *Config) FeedEnabled() bool {
	return c.RedisURL != ""
}
