// Package store is the durable state of the venue: users, instruments,
// orders, balances and trades in a single SQLite database accessed
// through sqlx.
//
// All multi-row mutations run inside one transaction via WithTx; the
// connection pool is capped at a single connection and transactions are
// opened immediate, so writers fully serialize and a failed engine call
// rolls back without leaving partial state. Timestamps persist as UTC
// unix nanoseconds, which keeps time-priority comparisons total; rowid
// breaks the (rare) equal-nanosecond tie in insertion order.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a unique key already exists.
	ErrDuplicate = errors.New("already exists")
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id      TEXT PRIMARY KEY,
	name    TEXT NOT NULL,
	role    TEXT NOT NULL DEFAULT 'USER',
	api_key TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS instruments (
	ticker TEXT PRIMARY KEY,
	name   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS orders (
	id        TEXT PRIMARY KEY,
	user_id   TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	ticker    TEXT NOT NULL,
	direction TEXT NOT NULL,
	qty       INTEGER NOT NULL,
	price     INTEGER,
	status    TEXT NOT NULL DEFAULT 'NEW',
	filled    INTEGER NOT NULL DEFAULT 0,
	ts        INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_book
	ON orders (ticker, direction, status, price, ts);
CREATE INDEX IF NOT EXISTS idx_orders_user ON orders (user_id);

CREATE TABLE IF NOT EXISTS balances (
	user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	ticker  TEXT NOT NULL,
	amount  INTEGER NOT NULL DEFAULT 0 CHECK (amount >= 0),
	PRIMARY KEY (user_id, ticker)
);

CREATE TABLE IF NOT EXISTS trades (
	id     TEXT PRIMARY KEY,
	ticker TEXT NOT NULL,
	amount INTEGER NOT NULL,
	price  INTEGER NOT NULL,
	ts     INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_ticker ON trades (ticker, ts);
`

// Store wraps the database handle. Its embedded Queries read the last
// committed state; mutations belong inside WithTx.
type Store struct {
	Queries
	db *sqlx.DB
}

// Open opens (creating if needed) the SQLite database at path and applies
// the schema. Pass ":memory:" for an in-memory database (tests).
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_txlock=immediate", path)
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite permits one writer; a single pooled connection makes every
	// transaction observe that directly instead of via SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{Queries: Queries{ext: db}, db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Tx is one open transaction. It exposes the same typed accessors as the
// Store, executed against the transaction snapshot.
type Tx struct {
	Queries
}

// WithTx runs fn inside a transaction. Any error from fn rolls the whole
// transaction back; otherwise it commits.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	txx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(&Tx{Queries{ext: txx}}); err != nil {
		if rbErr := txx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}

	if err := txx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
