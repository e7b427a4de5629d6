// Package store implements the single process-wide handle to relaytrust's
// analytic embedded database (§4.1): append-only observations, replaceable
// per-relay records, and the bulk-aggregate queries every cycle depends on
// to avoid O(N²) per-relay round-trips.
//
// The teacher (mroxso-wotrlay) stores raw Nostr events in a
// github.com/fiatjaf/eventstore/badger backend — a key/value blob store with
// no query language. That fits a relay that only needs id/filter lookups; it
// cannot express the window functions, percentiles, or linear regression
// §4.1 requires. relaytrust instead uses modernc.org/sqlite (the pure-Go
// driver already in the pack via klppl-klistr and the ppiankov-trustwatch
// manifest) through database/sql, which gives real SQL windows
// (PERCENT_RANK) and aggregate-based regression for free.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store is the single process-wide handle. All mutation goes through its
// methods; the underlying engine serializes writes internally, so callers
// never hold a handle across a suspension point longer than one method call.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the database file at path and runs
// migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// SQLite serializes writers internally; a single connection avoids
	// SQLITE_BUSY churn under the write-after-write pattern each cycle uses.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Checkpoint flushes the write-ahead log. Called periodically (~15 minutes)
// and before shutdown, per §4.11.
func (s *Store) Checkpoint(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("store: checkpoint: %w", err)
	}
	return nil
}
