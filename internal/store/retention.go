package store

import "context"

// retainedTables lists every append-only table subject to retention, paired
// with the column holding its epoch-seconds timestamp.
var retainedTables = []struct {
	table, tsColumn string
}{
	{"probe_observations", "ts"},
	{"monitor_metrics", "ts"},
	{"reports", "ts"},
	{"score_snapshots", "ts"},
}

// Cleanup deletes rows older than retentionDays from every append-only
// table, returning the per-table delete count for observability. Replaceable
// tables (operator_resolutions, jurisdictions, operator_trust,
// published_assertions, trusted_monitors) hold one row per key and are never
// pruned by age.
func (s *Store) Cleanup(ctx context.Context, retentionDays int, now int64) (map[string]int, error) {
	cutoff := now - int64(retentionDays)*86400

	out := make(map[string]int, len(retainedTables))
	for _, t := range retainedTables {
		res, err := s.db.ExecContext(ctx, "DELETE FROM "+t.table+" WHERE "+t.tsColumn+" < ?", cutoff)
		if err != nil {
			return out, wrapWrite(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return out, wrapWrite(err)
		}
		out[t.table] = int(n)
	}
	return out, nil
}
