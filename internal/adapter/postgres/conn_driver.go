package postgres

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jonboulle/clockwork"

	"github.com/nseguin42/chatserver/internal/adapter/metrics"
	apperrors "github.com/nseguin42/chatserver/internal/errors"
	"github.com/nseguin42/chatserver/internal/platform/logging"
)

const (
	defaultHeartbeat = 30 * time.Second
	pingTimeout      = 5 * time.Second
)

type connFunc func(ctx context.Context, conn *pgx.Conn) error

type driverRequest struct {
	ctx  context.Context
	fn   connFunc
	done chan error
}

// connDriver owns a single pgx connection. All wire traffic runs on its
// goroutine, one request at a time.
type connDriver struct {
	conn      *pgx.Conn
	requests  chan driverRequest
	stop      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	running   atomic.Bool

	clock     clockwork.Clock
	heartbeat time.Duration
	logger    *slog.Logger
	metrics   *metrics.DBMetrics

	mu  sync.RWMutex
	err error
}

func newConnDriver(conn *pgx.Conn, clock clockwork.Clock, heartbeat time.Duration, logger *slog.Logger, m *metrics.DBMetrics) *connDriver {
	return &connDriver{
		conn:      conn,
		requests:  make(chan driverRequest),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		clock:     clock,
		heartbeat: heartbeat,
		logger:    logger,
		metrics:   m,
	}
}

func (d *connDriver) start() {
	d.startOnce.Do(func() {
		d.running.Store(true)
		go d.run()
	})
}

func (d *connDriver) run() {
	defer close(d.done)

	ticker := d.clock.NewTicker(d.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-d.stop:
			return
		case req := <-d.requests:
			req.done <- d.serve(req)
		case <-ticker.Chan():
			d.ping()
		}
	}
}

func (d *connDriver) serve(req driverRequest) error {
	if err := d.Err(); err != nil {
		return err
	}
	if err := req.ctx.Err(); err != nil {
		return err
	}
	err := req.fn(req.ctx, d.conn)
	if err != nil && d.conn != nil && d.conn.IsClosed() {
		d.fail(apperrors.IOError("postgres connection closed", err))
	}
	return err
}

func (d *connDriver) ping() {
	if d.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := d.conn.Ping(ctx); err != nil {
		d.fail(apperrors.IOError("postgres heartbeat failed", err))
		return
	}
	d.logger.Log(ctx, logging.LevelTrace, "postgres heartbeat ok")
}

func (d *connDriver) fail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return
	}
	d.err = err
	d.metrics.ConnFailures.Inc()
	d.metrics.Connected.Set(0)
	d.logger.Error("postgres connection failed", "error", err)
}

// Err returns the terminal connection failure, if any.
func (d *connDriver) Err() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.err
}

// do runs fn on the driver goroutine and waits for it. The wait for the driver
// to accept the request is bounded by ctx.
func (d *connDriver) do(ctx context.Context, fn connFunc) error {
	if err := d.Err(); err != nil {
		return err
	}

	req := driverRequest{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case d.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-d.stop:
		return apperrors.IOError("postgres connection driver stopped", net.ErrClosed)
	}
	return <-req.done
}

// Prepare satisfies preparer by running the prepare on the driver goroutine.
func (d *connDriver) Prepare(ctx context.Context, name, sql string, paramOIDs []uint32) (*pgconn.StatementDescription, error) {
	var sd *pgconn.StatementDescription
	err := d.do(ctx, func(ctx context.Context, conn *pgx.Conn) error {
		var err error
		sd, err = conn.PgConn().Prepare(ctx, name, sql, paramOIDs)
		return err
	})
	return sd, err
}

func (d *connDriver) Ping(ctx context.Context) error {
	return d.do(ctx, func(ctx context.Context, conn *pgx.Conn) error {
		return conn.Ping(ctx)
	})
}

// close stops the driver goroutine and closes the connection.
func (d *connDriver) close(ctx context.Context) error {
	var err error
	d.stopOnce.Do(func() {
		close(d.stop)
		if d.running.Load() {
			<-d.done
		}
		d.metrics.Connected.Set(0)
		if d.conn != nil {
			err = d.conn.Close(ctx)
		}
	})
	return err
}

// isNetworkError reports whether err came from the transport rather than the server.
func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed)
}
