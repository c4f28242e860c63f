package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nseguin42/chatserver/internal/domain"
	"github.com/nseguin42/chatserver/internal/stream"
)

func liveApp(ch chan domain.Message) *mockAppService {
	return &mockAppService{
		subscribeFn: func(context.Context, string) (*stream.MessageStream, error) {
			return stream.Wrap(stream.FromChannel(ch)), nil
		},
	}
}

func dialLive(t *testing.T, srv *Server, channel string) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/" + channel
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestHandleLive_StreamsMessages(t *testing.T) {
	ch := make(chan domain.Message, 4)
	srv := newTestServer(t, liveApp(ch))
	conn := dialLive(t, srv, "general")

	ch <- domain.NewMessage("hello", "alice", "general", testTime)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var got domain.Message
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "hello", got.Text)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, 1.0, testutil.ToFloat64(srv.wsMetrics.MessagesSent))
}

func TestHandleLive_StreamEndClosesSocket(t *testing.T) {
	ch := make(chan domain.Message)
	srv := newTestServer(t, liveApp(ch))
	conn := dialLive(t, srv, "general")

	close(ch)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestHandleLive_SendsPings(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ch := make(chan domain.Message)
	srv := newTestServer(t, liveApp(ch), WithClock(clock))
	conn := dialLive(t, srv, "general")

	pinged := make(chan struct{}, 1)
	conn.SetPingHandler(func(string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return nil
	})
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(pingInterval)

	select {
	case <-pinged:
	case <-ctx.Done():
		t.Fatal("timed out waiting for ping")
	}
}

func TestHandleLive_FeedDisabled(t *testing.T) {
	app := &mockAppService{
		subscribeFn: func(context.Context, string) (*stream.MessageStream, error) {
			return nil, domain.ErrFeedDisabled
		},
	}
	srv := newTestServer(t, app)

	rec := serve(srv, http.MethodGet, "/ws/general", "")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleLive_ClientDisconnectReleasesStream(t *testing.T) {
	ch := make(chan domain.Message)
	closed := make(chan struct{})
	app := &mockAppService{
		subscribeFn: func(context.Context, string) (*stream.MessageStream, error) {
			return stream.Wrap(&notifySource{ch: ch, closed: closed}), nil
		},
	}
	srv := newTestServer(t, app)
	conn := dialLive(t, srv, "general")

	require.NoError(t, conn.Close())

	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("stream was not closed after client disconnect")
	}
}

type notifySource struct {
	ch     chan domain.Message
	closed chan struct{}
}

func (s *notifySource) C() <-chan domain.Message { return s.ch }

func (s *notifySource) Close() error {
	close(s.closed)
	return nil
}
