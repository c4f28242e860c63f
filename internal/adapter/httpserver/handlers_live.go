package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"

	"github.com/nseguin42/chatserver/internal/adapter/metrics"
	"github.com/nseguin42/chatserver/internal/domain"
	"github.com/nseguin42/chatserver/internal/stream"
)

const (
	writeDeadline     = 5 * time.Second
	pingInterval      = 30 * time.Second
	pongDeadline      = 60 * time.Second
	messageBufferSize = 16
)

func (s *Server) handleLive(c echo.Context) error {
	channel := c.Param("channel")

	// The hijacked connection outlives the request context's usual lifecycle.
	ctx := context.WithoutCancel(c.Request().Context())

	st, err := s.app.Subscribe(ctx, channel)
	if errors.Is(err, domain.ErrFeedDisabled) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "live feed is disabled")
	}
	if err != nil {
		return wrapRepoError(err, "failed to subscribe to channel").WithContext("channel", channel)
	}

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		_ = st.Close()
		return nil
	}

	logger := slog.Default().With("subscriber_id", uuid.NewString(), "channel", channel)
	session := &liveSession{
		conn:    conn,
		stream:  st,
		clock:   s.clock,
		metrics: s.wsMetrics,
		logger:  logger,
	}
	session.run(ctx)
	return nil
}

// liveSession writes one channel's live messages to a WebSocket client.
// All writes happen on the goroutine calling run.
type liveSession struct {
	conn    *websocket.Conn
	stream  *stream.MessageStream
	clock   clockwork.Clock
	metrics *metrics.WebSocketMetrics
	logger  *slog.Logger
}

func (ls *liveSession) run(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	ls.metrics.ActiveConnections.Inc()
	defer ls.metrics.ActiveConnections.Dec()
	defer func() { _ = ls.conn.Close() }()
	defer func() { _ = ls.stream.Close() }()

	ls.logger.InfoContext(ctx, "Live subscriber connected")
	defer ls.logger.InfoContext(ctx, "Live subscriber disconnected")

	ls.configurePongHandler()
	go ls.readLoop(cancel)

	messages := make(chan domain.Message, messageBufferSize)
	go ls.pump(ctx, messages)

	ticker := ls.clock.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-messages:
			if !ok {
				ls.writeClose("stream ended")
				return
			}
			if err := ls.writeMessage(msg); err != nil {
				ls.metrics.WriteErrors.Inc()
				ls.logger.DebugContext(ctx, "Failed to write live message", "error", err)
				return
			}
			ls.metrics.MessagesSent.Inc()
		case <-ticker.Chan():
			ls.updateWriteDeadline()
			if err := ls.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				ls.metrics.WriteErrors.Inc()
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// pump pulls from the stream until it ends or ctx is cancelled, then closes out.
func (ls *liveSession) pump(ctx context.Context, out chan<- domain.Message) {
	defer close(out)

	for {
		msg, err := ls.stream.Next(ctx)
		if errors.Is(err, domain.ErrEndOfStream) || ctx.Err() != nil {
			return
		}
		if err != nil {
			ls.logger.WarnContext(ctx, "Skipping live message", "error", err)
			continue
		}

		select {
		case out <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// readLoop drains client frames so pong and close frames are processed.
func (ls *liveSession) readLoop(cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := ls.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (ls *liveSession) writeMessage(msg domain.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	ls.updateWriteDeadline()
	return ls.conn.WriteMessage(websocket.TextMessage, data)
}

func (ls *liveSession) writeClose(reason string) {
	ls.updateWriteDeadline()
	_ = ls.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
}

func (ls *liveSession) configurePongHandler() {
	ls.updateReadDeadline()
	ls.conn.SetPongHandler(func(string) error {
		ls.updateReadDeadline()
		return nil
	})
}

// Socket deadlines are wall-clock; the injected clock only drives pings.
func (ls *liveSession) updateWriteDeadline() {
	_ = ls.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
}

func (ls *liveSession) updateReadDeadline() {
	_ = ls.conn.SetReadDeadline(time.Now().Add(pongDeadline))
}
