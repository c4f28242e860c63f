package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/nseguin42/chatserver/internal/platform/correlation"
)

const (
	// LevelTrace sits below debug for per-request wire chatter such as heartbeats.
	LevelTrace = slog.LevelDebug - 4
	// LevelOff is above every level the application logs at.
	LevelOff = slog.LevelError + 8
)

// Logger is the application-wide structured logger instance.
var Logger *slog.Logger

// ParseLevel maps "trace", "debug", "info", "warn", "error" and "off" to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch level {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	case "off":
		return LevelOff, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", level)
	}
}

// NewLogger builds a correlation-aware logger writing to w.
// format: "json" or "text" (defaults to "text"); unknown levels fall back to info.
func NewLogger(w io.Writer, level, format string) *slog.Logger {
	logLevel, _ := ParseLevel(level)

	opts := &slog.HandlerOptions{
		Level:       logLevel,
		ReplaceAttr: renameTrace,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(correlation.NewHandler(handler))
}

// InitLogger initializes the global logger on stdout with the specified level and format.
func InitLogger(level, format string) {
	Logger = NewLogger(os.Stdout, level, format)
	slog.SetDefault(Logger)
}

func renameTrace(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
		a.Value = slog.StringValue("TRACE")
	}
	return a
}
