package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const baseSchema = `
CREATE TABLE IF NOT EXISTS probe_observations (
	url TEXT NOT NULL,
	ts INTEGER NOT NULL,
	reachable INTEGER NOT NULL,
	kind TEXT NOT NULL,
	access_level TEXT NOT NULL,
	closed_reason TEXT NOT NULL DEFAULT '',
	connect_ms INTEGER NOT NULL DEFAULT 0,
	read_ms INTEGER NOT NULL DEFAULT 0,
	metadata_ms INTEGER NOT NULL DEFAULT 0,
	metadata BLOB,
	error TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (url, ts)
);
CREATE INDEX IF NOT EXISTS idx_probe_url_ts ON probe_observations(url, ts DESC);

CREATE TABLE IF NOT EXISTS monitor_metrics (
	event_id TEXT PRIMARY KEY,
	url TEXT NOT NULL,
	monitor_pubkey TEXT NOT NULL,
	ts INTEGER NOT NULL,
	rtt_open_ms INTEGER NOT NULL DEFAULT 0,
	rtt_read_ms INTEGER NOT NULL DEFAULT 0,
	rtt_write_ms INTEGER NOT NULL DEFAULT 0,
	network TEXT NOT NULL DEFAULT '',
	capabilities TEXT NOT NULL DEFAULT '[]',
	geohash TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_monitor_url_ts ON monitor_metrics(url, ts DESC);
CREATE INDEX IF NOT EXISTS idx_monitor_pubkey ON monitor_metrics(monitor_pubkey);

CREATE TABLE IF NOT EXISTS reports (
	event_id TEXT PRIMARY KEY,
	url TEXT NOT NULL,
	reporter_pubkey TEXT NOT NULL,
	report_type TEXT NOT NULL,
	content TEXT NOT NULL DEFAULT '',
	ts INTEGER NOT NULL,
	weight REAL NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_reports_url_ts ON reports(url, ts DESC);
CREATE INDEX IF NOT EXISTS idx_reports_reporter_day ON reports(reporter_pubkey, url, ts);

CREATE TABLE IF NOT EXISTS operator_resolutions (
	url TEXT PRIMARY KEY,
	operator_pubkey TEXT NOT NULL DEFAULT '',
	verified_via TEXT NOT NULL DEFAULT '',
	confidence INTEGER NOT NULL DEFAULT 0,
	last_verified_at INTEGER NOT NULL DEFAULT 0,
	metadata_pubkey TEXT NOT NULL DEFAULT '',
	dns_pubkey TEXT NOT NULL DEFAULT '',
	wellknown_pubkey TEXT NOT NULL DEFAULT '',
	sources_disagree INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS jurisdictions (
	url TEXT PRIMARY KEY,
	ip TEXT NOT NULL DEFAULT '',
	country_code TEXT NOT NULL DEFAULT '',
	country TEXT NOT NULL DEFAULT '',
	region TEXT NOT NULL DEFAULT '',
	city TEXT NOT NULL DEFAULT '',
	isp TEXT NOT NULL DEFAULT '',
	asn INTEGER NOT NULL DEFAULT 0,
	is_hosting INTEGER NOT NULL DEFAULT 0,
	is_tor INTEGER NOT NULL DEFAULT 0,
	resolved_at INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS operator_trust (
	pubkey TEXT PRIMARY KEY,
	score INTEGER NOT NULL DEFAULT 0,
	confidence TEXT NOT NULL DEFAULT 'low',
	provider_count INTEGER NOT NULL DEFAULT 0,
	updated_at INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS score_snapshots (
	url TEXT NOT NULL,
	ts INTEGER NOT NULL,
	overall INTEGER NOT NULL,
	reliability INTEGER NOT NULL,
	quality INTEGER NOT NULL,
	accessibility INTEGER NOT NULL,
	operator_trust INTEGER NOT NULL,
	confidence TEXT NOT NULL,
	observation_count INTEGER NOT NULL,
	PRIMARY KEY (url, ts)
);
CREATE INDEX IF NOT EXISTS idx_scores_url_ts ON score_snapshots(url, ts DESC);

CREATE TABLE IF NOT EXISTS published_assertions (
	url TEXT PRIMARY KEY,
	event_id TEXT NOT NULL,
	score INTEGER NOT NULL,
	confidence TEXT NOT NULL,
	observation_count INTEGER NOT NULL DEFAULT 0,
	published_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS trusted_monitors (
	pubkey TEXT PRIMARY KEY,
	added_at INTEGER NOT NULL,
	last_seen INTEGER NOT NULL,
	event_count INTEGER NOT NULL DEFAULT 0
);
`

// migrate runs the base schema (idempotent CREATE TABLE IF NOT EXISTS), then
// applies additive column changes and a rename. Per §4.1 and §9, migrations
// are detected by probing a SELECT on the target column and acting on
// failure, rather than a version table — sqlite's dynamic typing makes that
// form natural here.
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, baseSchema); err != nil {
		return fmt.Errorf("base schema: %w", err)
	}

	// Additive column: closed_reason was added after initial release for
	// relays that close with a reason but still count as reachable.
	if err := s.ensureColumn(ctx, "probe_observations", "closed_reason", "TEXT NOT NULL DEFAULT ''"); err != nil {
		return err
	}

	// Additive column: geohash was added to monitor metrics once monitors
	// started reporting approximate vantage points.
	if err := s.ensureColumn(ctx, "monitor_metrics", "geohash", "TEXT NOT NULL DEFAULT ''"); err != nil {
		return err
	}

	// The one specified rename: jurisdictions.provider -> jurisdictions.isp,
	// to match the ISP terminology used everywhere else in the codebase.
	if err := s.renameColumnIfNeeded(ctx, "jurisdictions", "provider", "isp"); err != nil {
		return err
	}

	return nil
}

// hasColumn probes a SELECT on the target column; failure means it's absent.
func (s *Store) hasColumn(ctx context.Context, table, column string) bool {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf("SELECT %s FROM %s LIMIT 0", column, table))
	return err == nil
}

func (s *Store) ensureColumn(ctx context.Context, table, column, ddl string) error {
	if s.hasColumn(ctx, table, column) {
		return nil
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, ddl))
	if err != nil {
		return fmt.Errorf("add column %s.%s: %w", table, column, err)
	}
	return nil
}

func (s *Store) renameColumnIfNeeded(ctx context.Context, table, from, to string) error {
	if s.hasColumn(ctx, table, to) {
		return nil // already migrated
	}
	if !s.hasColumn(ctx, table, from) {
		return nil // fresh database, base schema already has `to`
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s", table, from, to))
	if err != nil {
		return fmt.Errorf("rename %s.%s to %s: %w", table, from, to, err)
	}
	return nil
}

var errNoRows = sql.ErrNoRows

func isNoRows(err error) bool { return errors.Is(err, errNoRows) }
