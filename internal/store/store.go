package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// migrations is the upgrade ladder. Entry i takes a database from
// user_version i to i+1 inside one transaction. schema.sql has already
// created every current table by the time a step runs, so steps only add
// what older releases lack or backfill data those tables should hold.
var migrations = []func(tx *sql.Tx) error{
	// v1: Transitions filters by signal; older ledgers scanned the table.
	func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			CREATE INDEX IF NOT EXISTS idx_gate_transitions_signal
			ON gate_transitions(signal, seq)`)
		return err
	},
	// v2: node_sequences appeared. Seed it from the ids already consumed so
	// a resumed ring never reissues one of them.
	backfillSequences,
}

var currentSchemaVersion = len(migrations)

// Store is the sx9 ledger: identifier history, gate transitions, consumed
// ring messages and per-source sequence marks in one SQLite file.
type Store struct {
	db *sql.DB
}

// Open opens the ledger at path, creating it if needed, and brings its
// schema up to date. ":memory:" gives a throwaway ledger. Opening an
// existing ledger twice in a row changes nothing.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect ledger %s: %w", path, err)
	}

	// One connection: a ":memory:" ledger exists per connection, and SQLite
	// serializes writers anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure ledger: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare ledger schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the connection for ad hoc inspection by the CLI and tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

// applyPragmas sets WAL journaling, NORMAL sync, a 5s busy wait and
// foreign key enforcement.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates missing tables, then migrates.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return err
	}

	return nil
}

// runMigrations climbs the ladder from the stored user_version. Each rung
// commits together with its version bump, so a failed step is retried on
// the next Open instead of being skipped.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	for v := version; v < len(migrations); v++ {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("migrate to v%d: %w", v+1, err)
		}
		if err := migrations[v](tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrate to v%d: %w", v+1, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", v+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrate to v%d: set user_version: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migrate to v%d: %w", v+1, err)
		}
	}
	return nil
}

// backfillSequences derives each source's high-water mark from the
// message ids it has had consumed. The WHERE clause keeps SQLite from
// reading ON CONFLICT as a join constraint.
func backfillSequences(tx *sql.Tx) error {
	_, err := tx.Exec(`
		INSERT INTO node_sequences (node, last_seq)
		SELECT (message_id >> 48) & 65535, MAX(message_id & 281474976710655)
		FROM consumed_messages
		WHERE true
		GROUP BY 1
		ON CONFLICT(node) DO UPDATE SET last_seq = MAX(last_seq, excluded.last_seq)`)
	return err
}

// verifyPragma reports whether pragma name reads back as expected.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

// Query executes a query and returns the resulting rows.
// Callers are responsible for closing the returned rows.
func (s *Store) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, query, args...)
}

func micros(t time.Time) int64 { return t.UnixMicro() }

func fromMicros(us int64) time.Time { return time.UnixMicro(us).UTC() }
