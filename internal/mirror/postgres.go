package mirror

import (
	"context"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

const createJournal = `CREATE TABLE IF NOT EXISTS session_events (
	id          BIGSERIAL PRIMARY KEY,
	kind        TEXT NOT NULL,
	participant TEXT NOT NULL,
	payload     JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL
)`

const insertEvent = `INSERT INTO session_events (kind, participant, payload, created_at) VALUES ($1, $2, $3, $4)`

// Execer is the subset of *pgxpool.Pool used by JournalSink.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// JournalSink appends events to an audit table. It is write-only.
type JournalSink struct {
	db    Execer
	close func()
}

// NewJournalSink wraps db. Close on the result does not close db.
func NewJournalSink(db Execer) *JournalSink {
	return &JournalSink{db: db, close: func() {}}
}

// OpenJournal connects to databaseURL and creates the journal table.
func OpenJournal(ctx context.Context, databaseURL string) (*JournalSink, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "connect postgres")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}
	s := NewJournalSink(pool)
	s.close = pool.Close
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the session_events table if it does not exist.
func (s *JournalSink) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, createJournal); err != nil {
		return errors.Wrap(err, "create session_events")
	}
	return nil
}

// Name implements Sink.
func (s *JournalSink) Name() string { return "postgres" }

// Write inserts ev as one row.
func (s *JournalSink) Write(ctx context.Context, ev Event) error {
	if _, err := s.db.Exec(ctx, insertEvent, ev.Kind, ev.Participant, string(ev.Payload), ev.At); err != nil {
		return errors.Wrapf(err, "journal %s", ev.Kind)
	}
	return nil
}

// Close releases the pool opened by OpenJournal.
func (s *JournalSink) Close() error {
	s.close()
	return nil
}
