package postgres

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/nseguin42/chatserver/internal/domain"
	apperrors "github.com/nseguin42/chatserver/internal/errors"
)

// PrepareTimeout bounds a single server-side prepare, including the wait for
// the connection driver to pick the request up.
const PrepareTimeout = 1 * time.Second

// Kind identifies one of the repository's statements.
type Kind int

const (
	KindInsert Kind = iota
	KindGetByChannel
	KindGetByUser
)

// Kinds enumerates every statement kind in registration order.
func Kinds() []Kind {
	return []Kind{KindInsert, KindGetByChannel, KindGetByUser}
}

func (k Kind) String() string {
	switch k {
	case KindInsert:
		return "insert"
	case KindGetByChannel:
		return "get_by_channel"
	case KindGetByUser:
		return "get_by_user"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Definition is the fixed SQL text and parameter types of a statement kind.
type Definition struct {
	Kind      Kind
	SQL       string
	ParamOIDs []uint32
}

// Definitions returns the statements the message repository runs.
func Definitions() []Definition {
	return []Definition{
		{
			Kind:      KindInsert,
			SQL:       "INSERT INTO chat_messages (text, channel, username, timestamp) VALUES ($1, $2, $3, $4) RETURNING *",
			ParamOIDs: []uint32{pgtype.TextOID, pgtype.TextOID, pgtype.TextOID, pgtype.TimestamptzOID},
		},
		{
			Kind:      KindGetByChannel,
			SQL:       "SELECT * FROM chat_messages WHERE channel = $1 ORDER BY timestamp DESC LIMIT $2",
			ParamOIDs: []uint32{pgtype.TextOID, pgtype.Int8OID},
		},
		{
			Kind:      KindGetByUser,
			SQL:       "SELECT * FROM chat_messages WHERE username = $1",
			ParamOIDs: []uint32{pgtype.TextOID},
		},
	}
}

// preparer creates server-side prepared statements. *pgconn.PgConn and the
// connection driver both satisfy it.
type preparer interface {
	Prepare(ctx context.Context, name, sql string, paramOIDs []uint32) (*pgconn.StatementDescription, error)
}

// execTarget is either raw SQL or the name of a prepared statement.
type execTarget struct {
	prepared bool
	text     string
}

func rawTarget(sql string) execTarget       { return execTarget{text: sql} }
func preparedTarget(name string) execTarget { return execTarget{prepared: true, text: name} }

func (t execTarget) label() string {
	if t.prepared {
		return "prepared"
	}
	return "raw"
}

// Statement is a registered SQL statement with an optional prepared handle.
type Statement struct {
	kind      Kind
	sql       string
	paramOIDs []uint32

	mu       sync.RWMutex
	prepared string

	lazyAttempted atomic.Bool
}

func newStatement(def Definition) *Statement {
	oids := make([]uint32, len(def.ParamOIDs))
	copy(oids, def.ParamOIDs)
	return &Statement{kind: def.Kind, sql: def.SQL, paramOIDs: oids}
}

func (s *Statement) Kind() Kind  { return s.kind }
func (s *Statement) SQL() string { return s.sql }

func (s *Statement) ParamOIDs() []uint32 {
	oids := make([]uint32, len(s.paramOIDs))
	copy(oids, s.paramOIDs)
	return oids
}

func (s *Statement) IsPrepared() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prepared != ""
}

func (s *Statement) name() string {
	return "chat_" + s.kind.String()
}

// Prepare creates the server-side statement with explicit parameter types.
func (s *Statement) Prepare(ctx context.Context, p preparer) error {
	ctx, cancel := context.WithTimeout(ctx, PrepareTimeout)
	defer cancel()

	sd, err := p.Prepare(ctx, s.name(), s.sql, s.paramOIDs)
	if err != nil {
		return apperrors.DatabaseError(fmt.Sprintf("failed to prepare statement %s", s.sql), err).
			WithContext("statement", s.sql).
			WithContext("timeout", PrepareTimeout.String())
	}

	s.mu.Lock()
	s.prepared = sd.Name
	s.mu.Unlock()
	return nil
}

func (s *Statement) target() execTarget {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.prepared != "" {
		return preparedTarget(s.prepared)
	}
	return rawTarget(s.sql)
}

// run executes the statement on conn and maps every returned row. Must be
// called from the goroutine that owns conn.
func (s *Statement) run(ctx context.Context, conn *pgx.Conn, target execTarget, args []any) ([]domain.Message, error) {
	if len(args) != len(s.paramOIDs) {
		return nil, apperrors.InternalError(
			fmt.Sprintf("statement %s expects %d parameters, got %d", s.kind, len(s.paramOIDs), len(args)), nil)
	}

	values, formats, err := encodeParams(conn.TypeMap(), s.paramOIDs, args)
	if err != nil {
		return nil, err
	}

	var rr *pgconn.ResultReader
	if target.prepared {
		rr = conn.PgConn().ExecPrepared(ctx, target.text, values, formats, nil)
	} else {
		rr = conn.PgConn().ExecParams(ctx, target.text, values, s.paramOIDs, formats, nil)
	}

	rows := pgx.RowsFromResultReader(conn.TypeMap(), rr)
	msgs, err := pgx.CollectRows(rows, scanMessage)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return msgs, nil
}

func encodeParams(m *pgtype.Map, oids []uint32, args []any) ([][]byte, []int16, error) {
	values := make([][]byte, len(args))
	formats := make([]int16, len(args))
	for i, arg := range args {
		format := m.FormatCodeForOID(oids[i])
		// A non-nil buffer keeps empty values distinct from NULL.
		buf, err := m.Encode(oids[i], format, arg, make([]byte, 0, 32))
		if err != nil {
			return nil, nil, apperrors.InternalError(fmt.Sprintf("failed to encode parameter $%d", i+1), err)
		}
		values[i] = buf
		formats[i] = format
	}
	return values, formats, nil
}

// scanMessage maps a row by column name. Columns other than the four message
// fields are read and discarded.
func scanMessage(row pgx.CollectableRow) (domain.Message, error) {
	var msg domain.Message
	fields := row.FieldDescriptions()
	dest := make([]any, len(fields))
	found := 0
	for i, fd := range fields {
		switch fd.Name {
		case "text":
			dest[i] = &msg.Text
		case "channel":
			dest[i] = &msg.Channel
		case "username":
			dest[i] = &msg.Username
		case "timestamp":
			dest[i] = &msg.Timestamp
		default:
			dest[i] = new(any)
			continue
		}
		found++
	}
	if found != 4 {
		return domain.Message{}, apperrors.DatabaseError("chat_messages row is missing message columns", nil).
			WithContext("columns", columnNames(fields))
	}
	if err := row.Scan(dest...); err != nil {
		return domain.Message{}, err
	}
	return msg, nil
}

func columnNames(fields []pgconn.FieldDescription) []string {
	names := make([]string, len(fields))
	for i, fd := range fields {
		names[i] = fd.Name
	}
	return names
}

// Registry holds one Statement per Kind.
type Registry struct {
	statements map[Kind]*Statement
}

func NewRegistry() *Registry {
	r := &Registry{statements: make(map[Kind]*Statement)}
	for _, def := range Definitions() {
		r.statements[def.Kind] = newStatement(def)
	}
	return r
}

func (r *Registry) Get(kind Kind) *Statement {
	return r.statements[kind]
}

// PrepareAll prepares every statement in Kinds order, stopping at the first failure.
func (r *Registry) PrepareAll(ctx context.Context, p preparer) error {
	for _, kind := range Kinds() {
		if err := r.statements[kind].Prepare(ctx, p); err != nil {
			return err
		}
	}
	return nil
}
