package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nseguin42/chatserver/internal/adapter/metrics"
	"github.com/nseguin42/chatserver/internal/domain"
	apperrors "github.com/nseguin42/chatserver/internal/errors"
)

// PrepareMode controls when statements are prepared on the server.
type PrepareMode int

const (
	// PrepareEager prepares every statement during Connect; any failure fails Connect.
	PrepareEager PrepareMode = iota
	// PrepareLazy prepares a statement on first use and falls back to raw SQL on failure.
	PrepareLazy
)

func (m PrepareMode) String() string {
	if m == PrepareLazy {
		return "lazy"
	}
	return "eager"
}

func ParsePrepareMode(s string) (PrepareMode, error) {
	switch strings.ToLower(s) {
	case "", "eager":
		return PrepareEager, nil
	case "lazy":
		return PrepareLazy, nil
	default:
		return PrepareEager, apperrors.ConfigurationError(fmt.Sprintf("unknown prepare mode %q", s))
	}
}

type connState int

const (
	stateIdle connState = iota
	stateConnected
	stateFailed
	stateClosed
)

type Option func(*MessageRepo)

func WithLogger(logger *slog.Logger) Option {
	return func(r *MessageRepo) { r.logger = logger }
}

func WithMetrics(m *metrics.DBMetrics) Option {
	return func(r *MessageRepo) { r.metrics = m }
}

func WithClock(clock clockwork.Clock) Option {
	return func(r *MessageRepo) { r.clock = clock }
}

func WithHeartbeat(interval time.Duration) Option {
	return func(r *MessageRepo) { r.heartbeat = interval }
}

func WithPrepareMode(mode PrepareMode) Option {
	return func(r *MessageRepo) { r.prepareMode = mode }
}

// MessageRepo stores chat messages over a single persistent connection.
type MessageRepo struct {
	desc        *Descriptor
	logger      *slog.Logger
	metrics     *metrics.DBMetrics
	clock       clockwork.Clock
	heartbeat   time.Duration
	prepareMode PrepareMode

	mu         sync.RWMutex
	state      connState
	connectErr error
	driver     *connDriver
	registry   *Registry
}

var _ domain.MessageRepository = (*MessageRepo)(nil)

// NewMessageRepo builds a repository for desc. It does not touch the network.
func NewMessageRepo(desc *Descriptor, opts ...Option) *MessageRepo {
	r := &MessageRepo{
		desc:      desc,
		clock:     clockwork.NewRealClock(),
		heartbeat: defaultHeartbeat,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.logger = r.logger.With("component", "postgres")
	if r.metrics == nil {
		r.metrics = metrics.NewDBMetrics(prometheus.NewRegistry())
	}
	return r
}

// Connect dials the database, starts the connection driver and prepares the
// statement registry. A failed Connect leaves the repository unusable.
func (r *MessageRepo) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case stateConnected:
		return nil
	case stateFailed:
		return r.failedErr()
	case stateClosed:
		return domain.ErrNotConnected
	}

	cfg, err := r.desc.ConnConfig()
	if err != nil {
		return r.markFailed(err)
	}

	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return r.markFailed(apperrors.DatabaseError("failed to connect to postgres", err).
			WithContext("conn", r.desc.Redacted()))
	}

	// The driver must be running before anything is prepared through it.
	driver := newConnDriver(conn, r.clock, r.heartbeat, r.logger, r.metrics)
	driver.start()

	registry := NewRegistry()
	if r.prepareMode == PrepareEager {
		if err := registry.PrepareAll(ctx, driver); err != nil {
			r.metrics.PrepareFailures.WithLabelValues("connect").Inc()
			_ = driver.close(context.Background())
			return r.markFailed(err)
		}
	}

	r.driver = driver
	r.registry = registry
	r.state = stateConnected
	r.metrics.Connected.Set(1)

	r.logger.Info("postgres connected", "conn", r.desc.Redacted(), "prepare_mode", r.prepareMode.String())
	return nil
}

func (r *MessageRepo) markFailed(err error) error {
	r.state = stateFailed
	r.connectErr = err
	r.metrics.ConnFailures.Inc()
	r.logger.Error("postgres connect failed", "conn", r.desc.Redacted(), "error", err)
	return err
}

func (r *MessageRepo) failedErr() error {
	return fmt.Errorf("%w: %w", domain.ErrConnectFailed, r.connectErr)
}

func (r *MessageRepo) ready() (*connDriver, *Registry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	switch r.state {
	case stateConnected:
		return r.driver, r.registry, nil
	case stateFailed:
		return nil, nil, r.failedErr()
	default:
		return nil, nil, domain.ErrNotConnected
	}
}

// AddMessage stores msg and discards the stored row.
func (r *MessageRepo) AddMessage(ctx context.Context, msg domain.Message) error {
	_, err := r.InsertMessage(ctx, msg)
	return err
}

// InsertMessage stores msg and returns the row as the database recorded it.
func (r *MessageRepo) InsertMessage(ctx context.Context, msg domain.Message) (domain.Message, error) {
	rows, err := r.execute(ctx, KindInsert, msg.Text, msg.Channel, msg.Username, msg.Timestamp)
	if err != nil {
		return domain.Message{}, err
	}
	if len(rows) != 1 {
		return domain.Message{}, apperrors.DatabaseError(fmt.Sprintf("insert returned %d rows", len(rows)), nil)
	}
	return rows[0], nil
}

// GetMessagesFromChannel returns up to limit messages from channel, newest first.
func (r *MessageRepo) GetMessagesFromChannel(ctx context.Context, channel string, limit int64) ([]domain.Message, error) {
	return r.execute(ctx, KindGetByChannel, channel, limit)
}

// GetMessagesByUser returns every message username has posted, in no particular order.
func (r *MessageRepo) GetMessagesByUser(ctx context.Context, username string) ([]domain.Message, error) {
	return r.execute(ctx, KindGetByUser, username)
}

// Ping checks the connection through the driver.
func (r *MessageRepo) Ping(ctx context.Context) error {
	driver, _, err := r.ready()
	if err != nil {
		return err
	}
	if err := driver.Ping(ctx); err != nil {
		return classify(err, "postgres ping failed")
	}
	return nil
}

// Err returns the connection driver's terminal failure, if any.
func (r *MessageRepo) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.driver == nil {
		return nil
	}
	return r.driver.Err()
}

// Close stops the connection driver and closes the connection.
func (r *MessageRepo) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != stateConnected {
		return nil
	}
	r.state = stateClosed
	if err := r.driver.close(ctx); err != nil {
		return apperrors.IOError("failed to close postgres connection", err)
	}
	r.logger.Info("postgres connection closed")
	return nil
}

func (r *MessageRepo) execute(ctx context.Context, kind Kind, args ...any) ([]domain.Message, error) {
	driver, registry, err := r.ready()
	if err != nil {
		return nil, err
	}

	stmt := registry.Get(kind)
	if r.prepareMode == PrepareLazy && stmt.lazyAttempted.CompareAndSwap(false, true) {
		if err := stmt.Prepare(ctx, driver); err != nil {
			r.metrics.PrepareFailures.WithLabelValues(kind.String()).Inc()
			r.logger.Warn("lazy prepare failed, using raw statement", "statement", kind.String(), "error", err)
		}
	}

	target := stmt.target()
	start := r.clock.Now()

	var msgs []domain.Message
	err = driver.do(ctx, func(ctx context.Context, conn *pgx.Conn) error {
		var err error
		msgs, err = stmt.run(ctx, conn, target, args)
		return err
	})

	r.metrics.QueryDuration.WithLabelValues(kind.String(), target.label()).Observe(r.clock.Since(start).Seconds())
	if err != nil {
		r.metrics.QueryErrors.WithLabelValues(kind.String()).Inc()
		return nil, classify(err, fmt.Sprintf("statement %s failed", kind))
	}
	return msgs, nil
}

// classify keeps structured errors as they are and wraps the rest as io or
// database errors.
func classify(err error, message string) error {
	if _, ok := err.(*apperrors.Error); ok {
		return err
	}
	if isNetworkError(err) {
		return apperrors.IOError(message, err)
	}
	return apperrors.DatabaseError(message, err)
}
