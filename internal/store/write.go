package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/relaytrust/relaytrust/internal/model"
	"github.com/relaytrust/relaytrust/internal/relayerrs"
)

func wrapWrite(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", relayerrs.ErrStoreWrite, err)
}

func wrapRead(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", relayerrs.ErrStoreRead, err)
}

// PutProbe appends a ProbeObservation.
func (s *Store) PutProbe(ctx context.Context, o model.ProbeObservation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO probe_observations
			(url, ts, reachable, kind, access_level, closed_reason, connect_ms, read_ms, metadata_ms, metadata, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url, ts) DO UPDATE SET
			reachable=excluded.reachable, kind=excluded.kind, access_level=excluded.access_level,
			closed_reason=excluded.closed_reason, connect_ms=excluded.connect_ms, read_ms=excluded.read_ms,
			metadata_ms=excluded.metadata_ms, metadata=excluded.metadata, error=excluded.error`,
		o.URL, o.Timestamp, boolToInt(o.Reachable), string(o.Kind), string(o.AccessLevel), o.ClosedReason,
		o.ConnectLatencyMs, o.ReadLatencyMs, o.MetadataLatencyMs, o.Metadata, o.Error,
	)
	return wrapWrite(err)
}

// PutMonitorMetric appends a MonitorMetric, idempotent on event id.
func (s *Store) PutMonitorMetric(ctx context.Context, m model.MonitorMetric) error {
	caps, err := json.Marshal(m.Capabilities)
	if err != nil {
		return fmt.Errorf("%w: marshal capabilities: %v", relayerrs.ErrMalformedInput, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO monitor_metrics
			(event_id, url, monitor_pubkey, ts, rtt_open_ms, rtt_read_ms, rtt_write_ms, network, capabilities, geohash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id) DO NOTHING`,
		m.EventID, m.URL, m.MonitorPubkey, m.Timestamp, m.RTTOpenMs, m.RTTReadMs, m.RTTWriteMs,
		m.Network, string(caps), m.Geohash,
	)
	return wrapWrite(err)
}

// PutReport appends a Report, deduped by event id. Returns (inserted, error):
// inserted is false when the event id already existed (harmless replay) or
// when the per-reporter daily cap silently dropped it (§3 invariant).
func (s *Store) PutReport(ctx context.Context, r model.Report, maxPerReporterPerRelayPerDay int) (bool, error) {
	dayStart := r.Timestamp - (r.Timestamp % 86400)
	dayEnd := dayStart + 86400

	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM reports
		WHERE reporter_pubkey = ? AND url = ? AND ts >= ? AND ts < ?`,
		r.ReporterPubkey, r.URL, dayStart, dayEnd,
	).Scan(&count)
	if err != nil {
		return false, wrapRead(err)
	}
	if count >= maxPerReporterPerRelayPerDay {
		return false, nil
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO reports (event_id, url, reporter_pubkey, report_type, content, ts, weight)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id) DO NOTHING`,
		r.EventID, r.URL, r.ReporterPubkey, string(r.Type), r.Content, r.Timestamp, r.ReporterTrustWeight,
	)
	if err != nil {
		return false, wrapWrite(err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// PutOperatorResolution replaces the per-relay operator record.
func (s *Store) PutOperatorResolution(ctx context.Context, o model.OperatorResolution) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO operator_resolutions
			(url, operator_pubkey, verified_via, confidence, last_verified_at, metadata_pubkey, dns_pubkey, wellknown_pubkey, sources_disagree)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			operator_pubkey=excluded.operator_pubkey, verified_via=excluded.verified_via,
			confidence=excluded.confidence, last_verified_at=excluded.last_verified_at,
			metadata_pubkey=excluded.metadata_pubkey, dns_pubkey=excluded.dns_pubkey,
			wellknown_pubkey=excluded.wellknown_pubkey, sources_disagree=excluded.sources_disagree`,
		o.URL, o.OperatorPubkey, string(o.VerifiedVia), o.Confidence, o.LastVerifiedAt,
		o.MetadataPubkey, o.DNSPubkey, o.WellKnownPubkey, boolToInt(o.SourcesDisagree),
	)
	return wrapWrite(err)
}

// PutJurisdiction replaces the per-relay jurisdiction record.
func (s *Store) PutJurisdiction(ctx context.Context, j model.JurisdictionInfo) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jurisdictions
			(url, ip, country_code, country, region, city, isp, asn, is_hosting, is_tor, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			ip=excluded.ip, country_code=excluded.country_code, country=excluded.country,
			region=excluded.region, city=excluded.city, isp=excluded.isp, asn=excluded.asn,
			is_hosting=excluded.is_hosting, is_tor=excluded.is_tor, resolved_at=excluded.resolved_at`,
		j.URL, j.IP, j.CountryCode, j.Country, j.Region, j.City, j.ISP, j.ASN,
		boolToInt(j.IsHosting), boolToInt(j.IsTor), j.ResolvedAt,
	)
	return wrapWrite(err)
}

// PutOperatorTrust replaces the per-pubkey WoT aggregate.
func (s *Store) PutOperatorTrust(ctx context.Context, t model.OperatorTrust) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO operator_trust (pubkey, score, confidence, provider_count, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(pubkey) DO UPDATE SET
			score=excluded.score, confidence=excluded.confidence,
			provider_count=excluded.provider_count, updated_at=excluded.updated_at`,
		t.Pubkey, t.Score, string(t.Confidence), t.ProviderCount, t.UpdatedAt,
	)
	return wrapWrite(err)
}

// PutScoreSnapshot appends a cycle's score history row.
func (s *Store) PutScoreSnapshot(ctx context.Context, sn model.ScoreSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO score_snapshots
			(url, ts, overall, reliability, quality, accessibility, operator_trust, confidence, observation_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url, ts) DO UPDATE SET
			overall=excluded.overall, reliability=excluded.reliability, quality=excluded.quality,
			accessibility=excluded.accessibility, operator_trust=excluded.operator_trust,
			confidence=excluded.confidence, observation_count=excluded.observation_count`,
		sn.URL, sn.Timestamp, sn.Overall, sn.Reliability, sn.Quality, sn.Accessibility,
		sn.OperatorTrust, string(sn.Confidence), sn.ObservationCount,
	)
	return wrapWrite(err)
}

// PutPublishedAssertion replaces the material-change gate's reference record.
func (s *Store) PutPublishedAssertion(ctx context.Context, p model.PublishedAssertion) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO published_assertions (url, event_id, score, confidence, observation_count, published_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			event_id=excluded.event_id, score=excluded.score,
			confidence=excluded.confidence, observation_count=excluded.observation_count,
			published_at=excluded.published_at`,
		p.URL, p.EventID, p.Score, string(p.Confidence), p.ObservationCount, p.PublishedAt,
	)
	return wrapWrite(err)
}

// PutTrustedMonitor upserts a monitor's last-seen/event-count.
func (s *Store) PutTrustedMonitor(ctx context.Context, pubkey string, seenAt int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trusted_monitors (pubkey, added_at, last_seen, event_count)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(pubkey) DO UPDATE SET
			last_seen=excluded.last_seen, event_count=trusted_monitors.event_count + 1`,
		pubkey, seenAt, seenAt,
	)
	return wrapWrite(err)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
