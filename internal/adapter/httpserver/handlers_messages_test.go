package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nseguin42/chatserver/internal/domain"
	apperrors "github.com/nseguin42/chatserver/internal/errors"
)

var testTime = time.Unix(1700000000, 0).UTC()

func serve(srv *Server, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.RemoteAddr = "1.2.3.4:1234"
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestIndexRoutes(t *testing.T) {
	srv := newTestServer(t, &mockAppService{})

	tests := []struct {
		path string
		want string
	}{
		{"/", "Main index"},
		{"/channel/", "Channel index"},
		{"/message", "Messages index"},
		{"/messages/", "Messages index"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := serve(srv, http.MethodGet, tt.path, "")
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.want, rec.Body.String())
		})
	}
}

func TestHandleChannel(t *testing.T) {
	var gotChannel string
	app := &mockAppService{
		channelHistoryFn: func(_ context.Context, channel string) ([]domain.Message, error) {
			gotChannel = channel
			return []domain.Message{
				domain.NewMessage("second", "bob", channel, testTime.Add(time.Second)),
				domain.NewMessage("first", "alice", channel, testTime),
			}, nil
		},
	}
	srv := newTestServer(t, app)

	rec := serve(srv, http.MethodGet, "/channel/general", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "general", gotChannel)
	assert.JSONEq(t, `[
		{"text":"second","username":"bob","channel":"general","timestamp":1700000001},
		{"text":"first","username":"alice","channel":"general","timestamp":1700000000}
	]`, rec.Body.String())
}

func TestHandleChannel_EmptyHistoryIsEmptyArray(t *testing.T) {
	srv := newTestServer(t, &mockAppService{})

	rec := serve(srv, http.MethodGet, "/channel/quiet", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestHandleChannel_DatabaseError(t *testing.T) {
	app := &mockAppService{
		channelHistoryFn: func(context.Context, string) ([]domain.Message, error) {
			return nil, apperrors.DatabaseError("query failed", fmt.Errorf("relation does not exist"))
		},
	}
	srv := newTestServer(t, app)

	rec := serve(srv, http.MethodGet, "/channel/general", "")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp apperrors.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, apperrors.TypeDatabase, resp.Type)
	assert.Equal(t, "general", resp.Context["channel"])
}

func TestHandleChannel_NotConnected(t *testing.T) {
	app := &mockAppService{
		channelHistoryFn: func(context.Context, string) ([]domain.Message, error) {
			return nil, domain.ErrNotConnected
		},
	}
	srv := newTestServer(t, app)

	rec := serve(srv, http.MethodGet, "/channel/general", "")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleUser(t *testing.T) {
	app := &mockAppService{
		userMessagesFn: func(_ context.Context, username string) ([]domain.Message, error) {
			return []domain.Message{domain.NewMessage("hi", username, "general", testTime)}, nil
		},
	}
	srv := newTestServer(t, app)

	rec := serve(srv, http.MethodGet, "/user/alice", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var msgs []domain.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msgs))
	require.Len(t, msgs, 1)
	assert.Equal(t, "alice", msgs[0].Username)
}

func TestHandlePostMessage(t *testing.T) {
	var posted domain.Message
	app := &mockAppService{
		postMessageFn: func(_ context.Context, msg domain.Message) (domain.Message, error) {
			posted = msg
			return msg, nil
		},
	}
	srv := newTestServer(t, app)

	rec := serve(srv, http.MethodPost, "/message",
		`{"text":"hello","username":"alice","channel":"general","timestamp":1700000000}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, posted.Equal(domain.NewMessage("hello", "alice", "general", testTime)))
	assert.JSONEq(t, `{"text":"hello","username":"alice","channel":"general","timestamp":1700000000}`, rec.Body.String())
}

func TestHandlePostMessage_MalformedBody(t *testing.T) {
	called := false
	app := &mockAppService{
		postMessageFn: func(_ context.Context, msg domain.Message) (domain.Message, error) {
			called = true
			return msg, nil
		},
	}
	srv := newTestServer(t, app)

	rec := serve(srv, http.MethodPost, "/message", `{"text":`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, called)
}

func TestHandlePostMessage_ValidationError(t *testing.T) {
	app := &mockAppService{
		postMessageFn: func(context.Context, domain.Message) (domain.Message, error) {
			return domain.Message{}, apperrors.ValidationError("text, username and channel are required")
		},
	}
	srv := newTestServer(t, app)

	rec := serve(srv, http.MethodPost, "/message", `{"username":"alice","channel":"general"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp apperrors.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, apperrors.TypeValidation, resp.Type)
}

func TestHandlePostMessage_RateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.PostRateLimit = 0.01
	cfg.PostRateBurst = 1
	srv := NewServer(cfg, &mockAppService{}, prometheus.NewRegistry(), nil)
	body := `{"text":"hello","username":"alice","channel":"general","timestamp":1700000000}`

	first := serve(srv, http.MethodPost, "/message", body)
	second := serve(srv, http.MethodPost, "/message", body)

	assert.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}

func TestHandleEcho(t *testing.T) {
	srv := newTestServer(t, &mockAppService{})

	rec := serve(srv, http.MethodPost, "/messages/echo", `{"ping":true}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"ping":true}`, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestMetricsRoute(t *testing.T) {
	srv := newTestServer(t, &mockAppService{})

	serve(srv, http.MethodGet, "/channel/general", "")
	rec := serve(srv, http.MethodGet, "/metrics", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "chatserver_http_requests_total")
}

func TestCorrelationHeader(t *testing.T) {
	srv := newTestServer(t, &mockAppService{})

	t.Run("generated when absent", func(t *testing.T) {
		rec := serve(srv, http.MethodGet, "/", "")
		assert.Len(t, rec.Header().Get("X-Correlation-ID"), 8)
	})

	t.Run("inbound value is reused", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Correlation-ID", "req-123")
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		assert.Equal(t, "req-123", rec.Header().Get("X-Correlation-ID"))
	})
}
