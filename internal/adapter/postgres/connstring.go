package postgres

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgconn/ctxwatch"

	apperrors "github.com/nseguin42/chatserver/internal/errors"
)

const (
	keyUser               = "user"
	keyHost               = "host"
	keyPassword           = "password"
	keyDBName             = "dbname"
	keyOptions            = "options"
	keyApplicationName    = "application_name"
	keySSLMode            = "sslmode"
	keyPort               = "port"
	keyConnectTimeout     = "connect_timeout"
	keyKeepalives         = "keepalives"
	keyKeepalivesIdle     = "keepalives_idle"
	keyTargetSessionAttrs = "target_session_attrs"
	keyChannelBinding     = "channel_binding"
)

// optionalKeys is the render order after user and host.
var optionalKeys = []string{
	keyPassword,
	keyDBName,
	keyOptions,
	keyApplicationName,
	keySSLMode,
	keyPort,
	keyConnectTimeout,
	keyKeepalives,
	keyKeepalivesIdle,
	keyTargetSessionAttrs,
	keyChannelBinding,
}

// clientOnlyKeys are libpq options pgx does not understand. Left in the
// config they would be sent to the server as runtime parameters, which the
// server rejects.
var clientOnlyKeys = []string{keyKeepalives, keyKeepalivesIdle, keyChannelBinding}

// cancelDeadlineDelay bounds how long a cancelled query may wait for the
// server to honour the cancel request before the socket is torn down.
const cancelDeadlineDelay = 5 * time.Second

// Descriptor holds the validated parameters for a single Postgres connection.
type Descriptor struct {
	user   string
	host   string
	values map[string]string
}

// BuildDescriptor validates a flat parameter bag. Empty values count as absent
// and unknown keys are ignored.
func BuildDescriptor(params map[string]string) (*Descriptor, error) {
	user := params[keyUser]
	if user == "" {
		return nil, apperrors.ConfigurationError("no user specified in db config")
	}
	host := params[keyHost]
	if host == "" {
		return nil, apperrors.ConfigurationError("no host specified in db config")
	}

	d := &Descriptor{user: user, host: host, values: make(map[string]string)}
	for _, key := range optionalKeys {
		v := params[key]
		if v == "" {
			continue
		}
		if key == keyPort {
			port, err := strconv.ParseUint(v, 10, 16)
			if err != nil {
				return nil, apperrors.ConfigurationError("invalid port in db config").
					WithContext("port", v)
			}
			v = strconv.FormatUint(port, 10)
		}
		d.values[key] = v
	}
	return d, nil
}

func (d *Descriptor) User() string { return d.user }
func (d *Descriptor) Host() string { return d.host }

// Get returns an optional parameter and whether it is set.
func (d *Descriptor) Get(key string) (string, bool) {
	v, ok := d.values[key]
	return v, ok
}

// Render produces the keyword/value connection string. Output is stable for a
// given descriptor.
func (d *Descriptor) Render() string {
	return d.render(false)
}

// Redacted renders the descriptor with the password masked.
func (d *Descriptor) Redacted() string {
	return d.render(true)
}

func (d *Descriptor) String() string {
	return d.Redacted()
}

func (d *Descriptor) render(redact bool) string {
	tokens := make([]string, 0, 2+len(d.values))
	tokens = append(tokens, token(keyUser, d.user), token(keyHost, d.host))
	for _, key := range optionalKeys {
		v, ok := d.values[key]
		if !ok {
			continue
		}
		if redact && key == keyPassword {
			v = "********"
		}
		tokens = append(tokens, token(key, v))
	}
	return strings.Join(tokens, " ")
}

func token(key, value string) string {
	if !strings.ContainsAny(value, " '\\") {
		return key + "=" + value
	}
	escaped := strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(value)
	return key + "='" + escaped + "'"
}

// ConnConfig parses the descriptor into a pgx connection config. TLS is off
// unless sslmode is set and keepalive settings are applied to the dialer.
func (d *Descriptor) ConnConfig() (*pgx.ConnConfig, error) {
	connString := d.Render()
	if _, ok := d.values[keySSLMode]; !ok {
		connString += " sslmode=disable"
	}

	cfg, err := pgx.ParseConfig(connString)
	if err != nil {
		return nil, apperrors.ConfigurationError(fmt.Sprintf("invalid db config: %v", err)).
			WithContext("conn", d.Redacted())
	}

	for _, key := range clientOnlyKeys {
		delete(cfg.RuntimeParams, key)
	}
	if err := d.checkChannelBinding(); err != nil {
		return nil, err
	}

	// Cancelling a caller's context sends a CancelRequest instead of
	// abandoning the socket, so the connection outlives the call.
	cfg.BuildContextWatcherHandler = func(pgConn *pgconn.PgConn) ctxwatch.Handler {
		return &pgconn.CancelRequestContextWatcherHandler{
			Conn:          pgConn,
			DeadlineDelay: cancelDeadlineDelay,
		}
	}

	keepAlive, err := d.keepAlive()
	if err != nil {
		return nil, err
	}
	dialer := &net.Dialer{KeepAlive: keepAlive}
	if cfg.ConnectTimeout > 0 {
		dialer.Timeout = cfg.ConnectTimeout
	}
	cfg.DialFunc = dialer.DialContext

	return cfg, nil
}

// keepAlive maps libpq keepalive settings onto net.Dialer semantics: zero is
// the Go default period, negative disables keepalives.
func (d *Descriptor) keepAlive() (time.Duration, error) {
	if v, ok := d.values[keyKeepalives]; ok && v == "0" {
		return -1, nil
	}
	v, ok := d.values[keyKeepalivesIdle]
	if !ok {
		return 0, nil
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0, apperrors.ConfigurationError("invalid keepalives_idle in db config").
			WithContext("keepalives_idle", v)
	}
	return time.Duration(secs) * time.Second, nil
}

// checkChannelBinding accepts the channel_binding policies the pgx SCRAM
// client can honour. It never negotiates binding, so "require" cannot be met.
func (d *Descriptor) checkChannelBinding() error {
	v, ok := d.values[keyChannelBinding]
	if !ok {
		return nil
	}
	switch v {
	case "disable", "prefer":
		return nil
	case "require":
		return apperrors.ConfigurationError("channel_binding=require is not supported by the postgres driver").
			WithContext("channel_binding", v)
	default:
		return apperrors.ConfigurationError("invalid channel_binding in db config").
			WithContext("channel_binding", v)
	}
}
