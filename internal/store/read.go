package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/relaytrust/relaytrust/internal/model"
)

// LatestProbe returns the single most recent probe for url, if any.
func (s *Store) LatestProbe(ctx context.Context, url string) (model.ProbeObservation, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT url, ts, reachable, kind, access_level, closed_reason, connect_ms, read_ms, metadata_ms, metadata, error
		FROM probe_observations WHERE url = ? ORDER BY ts DESC LIMIT 1`, url)
	o, err := scanProbe(row)
	if isNoRows(err) {
		return model.ProbeObservation{}, false, nil
	}
	if err != nil {
		return model.ProbeObservation{}, false, wrapRead(err)
	}
	return o, true, nil
}

// LatestProbePerRelay is the bulk equivalent of LatestProbe: one query
// returning every tracked relay's latest probe, per §4.1.
func (s *Store) LatestProbePerRelay(ctx context.Context) (map[string]model.ProbeObservation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.url, p.ts, p.reachable, p.kind, p.access_level, p.closed_reason,
			p.connect_ms, p.read_ms, p.metadata_ms, p.metadata, p.error
		FROM probe_observations p
		JOIN (SELECT url, MAX(ts) AS max_ts FROM probe_observations GROUP BY url) latest
			ON latest.url = p.url AND latest.max_ts = p.ts`)
	if err != nil {
		return nil, wrapRead(err)
	}
	defer rows.Close()

	out := make(map[string]model.ProbeObservation)
	for rows.Next() {
		o, err := scanProbeRows(rows)
		if err != nil {
			return nil, wrapRead(err)
		}
		out[o.URL] = o
	}
	return out, wrapRead(rows.Err())
}

// AllProbes returns every probe within the last windowSeconds, grouped by
// url and ordered oldest-first, for Scorer's sequence-dependent computations
// (outage grouping, flapping, consistency).
func (s *Store) AllProbes(ctx context.Context, windowSeconds int64, now int64) (map[string][]model.ProbeObservation, error) {
	cutoff := now - windowSeconds
	rows, err := s.db.QueryContext(ctx, `
		SELECT url, ts, reachable, kind, access_level, closed_reason, connect_ms, read_ms, metadata_ms, metadata, error
		FROM probe_observations WHERE ts >= ? ORDER BY url, ts ASC`, cutoff)
	if err != nil {
		return nil, wrapRead(err)
	}
	defer rows.Close()

	out := make(map[string][]model.ProbeObservation)
	for rows.Next() {
		o, err := scanProbeRows(rows)
		if err != nil {
			return nil, wrapRead(err)
		}
		out[o.URL] = append(out[o.URL], o)
	}
	return out, wrapRead(rows.Err())
}

// ProbeStatsRow summarizes raw connect/read/metadata latency means for one
// relay within a window.
type ProbeStatsRow struct {
	Count           int
	ReachableCount  int
	MeanConnectMs   float64
	MeanReadMs      float64
	MeanMetadataMs  float64
}

// ProbeStats is a bulk aggregate query over probe_observations.
func (s *Store) ProbeStats(ctx context.Context, windowSeconds, now int64) (map[string]ProbeStatsRow, error) {
	cutoff := now - windowSeconds
	rows, err := s.db.QueryContext(ctx, `
		SELECT url, COUNT(*), SUM(reachable),
			AVG(CASE WHEN reachable=1 THEN connect_ms END),
			AVG(CASE WHEN reachable=1 THEN read_ms END),
			AVG(CASE WHEN reachable=1 THEN metadata_ms END)
		FROM probe_observations WHERE ts >= ? GROUP BY url`, cutoff)
	if err != nil {
		return nil, wrapRead(err)
	}
	defer rows.Close()

	out := make(map[string]ProbeStatsRow)
	for rows.Next() {
		var url string
		var r ProbeStatsRow
		var connect, read, meta sql.NullFloat64
		if err := rows.Scan(&url, &r.Count, &r.ReachableCount, &connect, &read, &meta); err != nil {
			return nil, wrapRead(err)
		}
		r.MeanConnectMs, r.MeanReadMs, r.MeanMetadataMs = connect.Float64, read.Float64, meta.Float64
		out[url] = r
	}
	return out, wrapRead(rows.Err())
}

// Nip66Aggregate summarizes monitor-sourced metrics for one relay.
type Nip66Aggregate struct {
	MetricCount          int
	DistinctMonitorCount int
	MeanRTTOpenMs        float64
	MeanRTTReadMs        float64
	MeanRTTWriteMs       float64
	FirstSeen            int64
	LastSeen             int64
	// LatencyPercentileScore is nil when no qualifying monitor (>=20 tracked
	// relays, §3) observed this relay in the window.
	LatencyPercentileScore *float64
}

// Nip66Aggregates is the bulk monitor-metric aggregate, including the
// percentile-based latency score computed via SQL's PERCENT_RANK window
// function over each qualifying monitor's observed relay set (§4.1, §4.8).
func (s *Store) Nip66Aggregates(ctx context.Context, windowSeconds, now int64) (map[string]Nip66Aggregate, error) {
	cutoff := now - windowSeconds

	base, err := s.db.QueryContext(ctx, `
		SELECT url, COUNT(*), COUNT(DISTINCT monitor_pubkey),
			AVG(rtt_open_ms), AVG(rtt_read_ms), AVG(rtt_write_ms), MIN(ts), MAX(ts)
		FROM monitor_metrics WHERE ts >= ? GROUP BY url`, cutoff)
	if err != nil {
		return nil, wrapRead(err)
	}
	defer base.Close()

	out := make(map[string]Nip66Aggregate)
	for base.Next() {
		var url string
		var a Nip66Aggregate
		if err := base.Scan(&url, &a.MetricCount, &a.DistinctMonitorCount,
			&a.MeanRTTOpenMs, &a.MeanRTTReadMs, &a.MeanRTTWriteMs, &a.FirstSeen, &a.LastSeen); err != nil {
			return nil, wrapRead(err)
		}
		out[url] = a
	}
	if err := base.Err(); err != nil {
		return nil, wrapRead(err)
	}

	// Percentile pass: for each monitor tracking >=20 distinct relays in the
	// window, rank its relays by mean observed RTT and take the fraction
	// with a *higher* RTT than each relay (1 - PERCENT_RANK ascending),
	// then average that fraction across qualifying monitors per relay.
	pctRows, err := s.db.QueryContext(ctx, `
		WITH per_monitor_relay AS (
			SELECT monitor_pubkey, url, AVG(rtt_open_ms) AS avg_rtt
			FROM monitor_metrics WHERE ts >= ?
			GROUP BY monitor_pubkey, url
		),
		qualifying AS (
			SELECT monitor_pubkey FROM per_monitor_relay
			GROUP BY monitor_pubkey HAVING COUNT(DISTINCT url) >= 20
		),
		ranked AS (
			SELECT url,
				1.0 - PERCENT_RANK() OVER (PARTITION BY monitor_pubkey ORDER BY avg_rtt ASC) AS frac_higher
			FROM per_monitor_relay
			WHERE monitor_pubkey IN (SELECT monitor_pubkey FROM qualifying)
		)
		SELECT url, AVG(frac_higher) * 100.0 FROM ranked GROUP BY url`, cutoff)
	if err != nil {
		return nil, wrapRead(err)
	}
	defer pctRows.Close()

	for pctRows.Next() {
		var url string
		var score float64
		if err := pctRows.Scan(&url, &score); err != nil {
			return nil, wrapRead(err)
		}
		a := out[url]
		s := score
		a.LatencyPercentileScore = &s
		out[url] = a
	}
	return out, wrapRead(pctRows.Err())
}

// AllJurisdictions returns every relay's cached jurisdiction record.
func (s *Store) AllJurisdictions(ctx context.Context) (map[string]model.JurisdictionInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT url, ip, country_code, country, region, city, isp, asn, is_hosting, is_tor, resolved_at
		FROM jurisdictions`)
	if err != nil {
		return nil, wrapRead(err)
	}
	defer rows.Close()

	out := make(map[string]model.JurisdictionInfo)
	for rows.Next() {
		var j model.JurisdictionInfo
		var hosting, tor int
		if err := rows.Scan(&j.URL, &j.IP, &j.CountryCode, &j.Country, &j.Region, &j.City,
			&j.ISP, &j.ASN, &hosting, &tor, &j.ResolvedAt); err != nil {
			return nil, wrapRead(err)
		}
		j.IsHosting, j.IsTor = hosting != 0, tor != 0
		out[j.URL] = j
	}
	return out, wrapRead(rows.Err())
}

// GetJurisdiction returns one relay's cached jurisdiction record.
func (s *Store) GetJurisdiction(ctx context.Context, url string) (model.JurisdictionInfo, bool, error) {
	all, err := s.AllJurisdictions(ctx)
	if err != nil {
		return model.JurisdictionInfo{}, false, err
	}
	j, ok := all[url]
	return j, ok, nil
}

// AllOperatorResolutions returns every relay's operator-identity record.
func (s *Store) AllOperatorResolutions(ctx context.Context) (map[string]model.OperatorResolution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT url, operator_pubkey, verified_via, confidence, last_verified_at,
			metadata_pubkey, dns_pubkey, wellknown_pubkey, sources_disagree
		FROM operator_resolutions`)
	if err != nil {
		return nil, wrapRead(err)
	}
	defer rows.Close()

	out := make(map[string]model.OperatorResolution)
	for rows.Next() {
		var o model.OperatorResolution
		var disagree int
		var via string
		if err := rows.Scan(&o.URL, &o.OperatorPubkey, &via, &o.Confidence, &o.LastVerifiedAt,
			&o.MetadataPubkey, &o.DNSPubkey, &o.WellKnownPubkey, &disagree); err != nil {
			return nil, wrapRead(err)
		}
		o.VerifiedVia = model.VerifiedVia(via)
		o.SourcesDisagree = disagree != 0
		out[o.URL] = o
	}
	return out, wrapRead(rows.Err())
}

// ReportStatsRow summarizes one relay's reports within a window.
type ReportStatsRow struct {
	Total          int
	WeightedTotal  float64
	ByType         map[model.ReportType]int
	WeightedByType map[model.ReportType]float64
}

// AllReportStats is the bulk per-type report aggregate.
func (s *Store) AllReportStats(ctx context.Context, windowSeconds, now int64) (map[string]ReportStatsRow, error) {
	cutoff := now - windowSeconds
	rows, err := s.db.QueryContext(ctx, `
		SELECT url, report_type, COUNT(*), SUM(weight) FROM reports
		WHERE ts >= ? GROUP BY url, report_type`, cutoff)
	if err != nil {
		return nil, wrapRead(err)
	}
	defer rows.Close()

	out := make(map[string]ReportStatsRow)
	for rows.Next() {
		var url, rtype string
		var count int
		var weighted float64
		if err := rows.Scan(&url, &rtype, &count, &weighted); err != nil {
			return nil, wrapRead(err)
		}
		r, ok := out[url]
		if !ok {
			r = ReportStatsRow{ByType: map[model.ReportType]int{}, WeightedByType: map[model.ReportType]float64{}}
		}
		t := model.ReportType(rtype)
		r.ByType[t] += count
		r.WeightedByType[t] += weighted
		r.Total += count
		r.WeightedTotal += weighted
		out[url] = r
	}
	return out, wrapRead(rows.Err())
}

// AllLatestScores returns each relay's most recent score_snapshot.
func (s *Store) AllLatestScores(ctx context.Context) (map[string]model.ScoreSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.url, s.ts, s.overall, s.reliability, s.quality, s.accessibility,
			s.operator_trust, s.confidence, s.observation_count
		FROM score_snapshots s
		JOIN (SELECT url, MAX(ts) AS max_ts FROM score_snapshots GROUP BY url) latest
			ON latest.url = s.url AND latest.max_ts = s.ts`)
	if err != nil {
		return nil, wrapRead(err)
	}
	defer rows.Close()

	out := make(map[string]model.ScoreSnapshot)
	for rows.Next() {
		var sn model.ScoreSnapshot
		var conf string
		if err := rows.Scan(&sn.URL, &sn.Timestamp, &sn.Overall, &sn.Reliability, &sn.Quality,
			&sn.Accessibility, &sn.OperatorTrust, &conf, &sn.ObservationCount); err != nil {
			return nil, wrapRead(err)
		}
		sn.Confidence = model.ConfidenceLabel(conf)
		out[sn.URL] = sn
	}
	return out, wrapRead(rows.Err())
}

// History returns a relay's score snapshots over the last `days` days,
// oldest first, bounded per §6 (the caller rejects days outside [1,365]).
func (s *Store) History(ctx context.Context, url string, days int, now int64) ([]model.ScoreSnapshot, error) {
	cutoff := now - int64(days)*86400
	rows, err := s.db.QueryContext(ctx, `
		SELECT url, ts, overall, reliability, quality, accessibility, operator_trust, confidence, observation_count
		FROM score_snapshots WHERE url = ? AND ts >= ? ORDER BY ts ASC`, url, cutoff)
	if err != nil {
		return nil, wrapRead(err)
	}
	defer rows.Close()

	var out []model.ScoreSnapshot
	for rows.Next() {
		var sn model.ScoreSnapshot
		var conf string
		if err := rows.Scan(&sn.URL, &sn.Timestamp, &sn.Overall, &sn.Reliability, &sn.Quality,
			&sn.Accessibility, &sn.OperatorTrust, &conf, &sn.ObservationCount); err != nil {
			return nil, wrapRead(err)
		}
		sn.Confidence = model.ConfidenceLabel(conf)
		out = append(out, sn)
	}
	return out, wrapRead(rows.Err())
}

// TrendRow is a linear-regression-over-days summary for one relay.
type TrendRow struct {
	Slope   float64 // score units per day
	Samples int
}

// linearRegressionSQL computes, per url, the slope of overall score against
// day-bucket using the closed-form least-squares formula expressed as SQL
// aggregates: slope = (n*Sxy - Sx*Sy) / (n*Sxx - Sx*Sx). Kept as one shared
// helper since allScoreTrends and allTrendData differ only in window
// selection, not in the regression itself.
func (s *Store) linearRegressionSQL(ctx context.Context, cutoff int64) (map[string]TrendRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		WITH daily AS (
			SELECT url, CAST((ts - ?) / 86400 AS INTEGER) AS day, AVG(overall) AS avg_overall
			FROM score_snapshots WHERE ts >= ? GROUP BY url, day
		)
		SELECT url, COUNT(*) AS n,
			SUM(day) AS sx, SUM(avg_overall) AS sy,
			SUM(day*avg_overall) AS sxy, SUM(day*day) AS sxx
		FROM daily GROUP BY url`, cutoff, cutoff)
	if err != nil {
		return nil, wrapRead(err)
	}
	defer rows.Close()

	out := make(map[string]TrendRow)
	for rows.Next() {
		var url string
		var n int
		var sx, sy, sxy, sxx float64
		if err := rows.Scan(&url, &n, &sx, &sy, &sxy, &sxx); err != nil {
			return nil, wrapRead(err)
		}
		var slope float64
		denom := float64(n)*sxx - sx*sx
		if n >= 2 && denom != 0 {
			slope = (float64(n)*sxy - sx*sy) / denom
		}
		out[url] = TrendRow{Slope: slope, Samples: n}
	}
	return out, wrapRead(rows.Err())
}

// AllScoreTrends uses preferredWindowDays, falling back to the full history
// when fewer than 2 daily buckets are available in that window.
func (s *Store) AllScoreTrends(ctx context.Context, preferredWindowDays int, now int64) (map[string]TrendRow, error) {
	cutoff := now - int64(preferredWindowDays)*86400
	trends, err := s.linearRegressionSQL(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	needsFallback := false
	for _, t := range trends {
		if t.Samples < 2 {
			needsFallback = true
			break
		}
	}
	if !needsFallback {
		return trends, nil
	}

	full, err := s.linearRegressionSQL(ctx, 0)
	if err != nil {
		return nil, err
	}
	for url, t := range trends {
		if t.Samples >= 2 {
			full[url] = t
		}
	}
	return full, nil
}

// AllTrendData computes the regression over a fixed window, with no fallback.
func (s *Store) AllTrendData(ctx context.Context, windowDays int, now int64) (map[string]TrendRow, error) {
	return s.linearRegressionSQL(ctx, now-int64(windowDays)*86400)
}

// AllRollingAverages returns the mean overall score per relay within the window.
func (s *Store) AllRollingAverages(ctx context.Context, windowDays int, now int64) (map[string]float64, error) {
	cutoff := now - int64(windowDays)*86400
	rows, err := s.db.QueryContext(ctx, `
		SELECT url, AVG(overall) FROM score_snapshots WHERE ts >= ? GROUP BY url`, cutoff)
	if err != nil {
		return nil, wrapRead(err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var url string
		var avg float64
		if err := rows.Scan(&url, &avg); err != nil {
			return nil, wrapRead(err)
		}
		out[url] = avg
	}
	return out, wrapRead(rows.Err())
}

// GetPublishedAssertion returns the material-change gate's reference record.
func (s *Store) GetPublishedAssertion(ctx context.Context, url string) (model.PublishedAssertion, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT url, event_id, score, confidence, observation_count, published_at FROM published_assertions WHERE url = ?`, url)
	var p model.PublishedAssertion
	var conf string
	err := row.Scan(&p.URL, &p.EventID, &p.Score, &conf, &p.ObservationCount, &p.PublishedAt)
	if isNoRows(err) {
		return model.PublishedAssertion{}, false, nil
	}
	if err != nil {
		return model.PublishedAssertion{}, false, wrapRead(err)
	}
	p.Confidence = model.ConfidenceLabel(conf)
	return p, true, nil
}

// GetOperatorTrust returns one operator's cached WoT aggregate.
func (s *Store) GetOperatorTrust(ctx context.Context, pubkey string) (model.OperatorTrust, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT pubkey, score, confidence, provider_count, updated_at FROM operator_trust WHERE pubkey = ?`, pubkey)
	var t model.OperatorTrust
	var conf string
	err := row.Scan(&t.Pubkey, &t.Score, &conf, &t.ProviderCount, &t.UpdatedAt)
	if isNoRows(err) {
		return model.OperatorTrust{}, false, nil
	}
	if err != nil {
		return model.OperatorTrust{}, false, wrapRead(err)
	}
	t.Confidence = model.ConfidenceLabel(conf)
	return t, true, nil
}

// StaleOperatorTrustPubkeys returns the knownPubkeys whose trust record is
// missing or was last updated before cutoff, for §4.11's background refresh.
func (s *Store) StaleOperatorTrustPubkeys(ctx context.Context, knownPubkeys []string, cutoff int64) ([]string, error) {
	fresh := make(map[string]bool)
	rows, err := s.db.QueryContext(ctx, `SELECT pubkey FROM operator_trust WHERE updated_at >= ?`, cutoff)
	if err != nil {
		return nil, wrapRead(err)
	}
	for rows.Next() {
		var pk string
		if err := rows.Scan(&pk); err != nil {
			rows.Close()
			return nil, wrapRead(err)
		}
		fresh[pk] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, wrapRead(err)
	}

	var stale []string
	for _, pk := range knownPubkeys {
		if !fresh[pk] {
			stale = append(stale, pk)
		}
	}
	return stale, nil
}

// TrackedURLs returns every distinct relay url that has ever been probed.
func (s *Store) TrackedURLs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT url FROM probe_observations`)
	if err != nil {
		return nil, wrapRead(err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, wrapRead(err)
		}
		out = append(out, u)
	}
	return out, wrapRead(rows.Err())
}

type scannable interface {
	Scan(dest ...any) error
}

func scanProbe(row *sql.Row) (model.ProbeObservation, error) {
	return scanProbeScannable(row)
}

func scanProbeRows(rows *sql.Rows) (model.ProbeObservation, error) {
	return scanProbeScannable(rows)
}

func scanProbeScannable(row scannable) (model.ProbeObservation, error) {
	var o model.ProbeObservation
	var reachable int
	var kind, access string
	err := row.Scan(&o.URL, &o.Timestamp, &reachable, &kind, &access, &o.ClosedReason,
		&o.ConnectLatencyMs, &o.ReadLatencyMs, &o.MetadataLatencyMs, &o.Metadata, &o.Error)
	if err != nil {
		return model.ProbeObservation{}, err
	}
	o.Reachable = reachable != 0
	o.Kind = model.RelayKind(kind)
	o.AccessLevel = model.AccessLevel(access)
	return o, nil
}

var _ = json.Marshal // keep encoding/json import for future blob helpers
