package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/relaytrust/relaytrust/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(context.Background(), filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutAndGetLatestProbe(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	o := model.ProbeObservation{
		URL: "wss://relay.example.com", Timestamp: 1000, Reachable: true,
		Kind: model.RelayKindGeneral, AccessLevel: model.AccessOpen, ConnectLatencyMs: 50,
	}
	if err := s.PutProbe(ctx, o); err != nil {
		t.Fatalf("PutProbe: %v", err)
	}

	got, ok, err := s.LatestProbe(ctx, o.URL)
	if err != nil || !ok {
		t.Fatalf("LatestProbe: ok=%v err=%v", ok, err)
	}
	if got.ConnectLatencyMs != 50 || !got.Reachable {
		t.Fatalf("unexpected probe: %+v", got)
	}
}

func TestLatestProbePerRelayPicksMostRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	url := "wss://relay.example.com"

	for _, ts := range []int64{100, 200, 300} {
		if err := s.PutProbe(ctx, model.ProbeObservation{URL: url, Timestamp: ts, Reachable: true}); err != nil {
			t.Fatalf("PutProbe(%d): %v", ts, err)
		}
	}

	latest, err := s.LatestProbePerRelay(ctx)
	if err != nil {
		t.Fatalf("LatestProbePerRelay: %v", err)
	}
	if latest[url].Timestamp != 300 {
		t.Fatalf("expected latest ts 300, got %d", latest[url].Timestamp)
	}
}

func TestPutReportEnforcesDailyCap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const day = int64(86400 * 20)
	for i := 0; i < 5; i++ {
		r := model.Report{
			EventID: "evt" + string(rune('a'+i)), URL: "wss://relay.example.com",
			ReporterPubkey: "reporter1", Type: model.ReportSpam, Timestamp: day + int64(i),
		}
		inserted, err := s.PutReport(ctx, r, 3)
		if err != nil {
			t.Fatalf("PutReport(%d): %v", i, err)
		}
		if i < 3 && !inserted {
			t.Fatalf("expected report %d to be inserted under cap", i)
		}
		if i >= 3 && inserted {
			t.Fatalf("expected report %d to be dropped over cap", i)
		}
	}

	stats, err := s.AllReportStats(ctx, 86400*30, day+86400)
	if err != nil {
		t.Fatalf("AllReportStats: %v", err)
	}
	if got := stats["wss://relay.example.com"].Total; got != 3 {
		t.Fatalf("expected 3 reports retained, got %d", got)
	}
}

func TestPutReportDedupesByEventID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := model.Report{EventID: "dup", URL: "wss://relay.example.com", ReporterPubkey: "r1", Type: model.ReportSpam, Timestamp: 1000}
	first, err := s.PutReport(ctx, r, 10)
	if err != nil || !first {
		t.Fatalf("first insert: inserted=%v err=%v", first, err)
	}
	second, err := s.PutReport(ctx, r, 10)
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if second {
		t.Fatalf("expected duplicate event id to be a no-op, not a fresh insert")
	}
}

func TestCleanupPurgesOnlyAppendOnlyTablesPastRetention(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	url := "wss://relay.example.com"

	if err := s.PutProbe(ctx, model.ProbeObservation{URL: url, Timestamp: 100}); err != nil {
		t.Fatalf("PutProbe old: %v", err)
	}
	if err := s.PutProbe(ctx, model.ProbeObservation{URL: url, Timestamp: 86400 * 100}); err != nil {
		t.Fatalf("PutProbe recent: %v", err)
	}
	if err := s.PutJurisdiction(ctx, model.JurisdictionInfo{URL: url, ResolvedAt: 100}); err != nil {
		t.Fatalf("PutJurisdiction: %v", err)
	}

	counts, err := s.Cleanup(ctx, 30, 86400*100)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if counts["probe_observations"] != 1 {
		t.Fatalf("expected exactly 1 stale probe purged, got %d", counts["probe_observations"])
	}

	js, err := s.AllJurisdictions(ctx)
	if err != nil {
		t.Fatalf("AllJurisdictions: %v", err)
	}
	if _, ok := js[url]; !ok {
		t.Fatalf("jurisdiction record should survive Cleanup regardless of age")
	}
}

func TestScoreTrendSlopeSignMatchesDirection(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	url := "wss://relay.example.com"

	base := int64(0)
	for day, score := range []int{40, 50, 60, 70, 80} {
		sn := model.ScoreSnapshot{URL: url, Timestamp: base + int64(day)*86400, Overall: score, Confidence: model.ConfidenceHigh}
		if err := s.PutScoreSnapshot(ctx, sn); err != nil {
			t.Fatalf("PutScoreSnapshot(day=%d): %v", day, err)
		}
	}

	trends, err := s.AllTrendData(ctx, 10, base+5*86400)
	if err != nil {
		t.Fatalf("AllTrendData: %v", err)
	}
	tr := trends[url]
	if tr.Slope <= 0 {
		t.Fatalf("expected positive slope for strictly improving scores, got %f (samples=%d)", tr.Slope, tr.Samples)
	}
}

func TestPublishedAssertionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	url := "wss://relay.example.com"

	_, ok, err := s.GetPublishedAssertion(ctx, url)
	if err != nil {
		t.Fatalf("GetPublishedAssertion (absent): %v", err)
	}
	if ok {
		t.Fatalf("expected no published assertion before any Put")
	}

	p := model.PublishedAssertion{URL: url, EventID: "evt1", Score: 75, Confidence: model.ConfidenceMedium, PublishedAt: 1000}
	if err := s.PutPublishedAssertion(ctx, p); err != nil {
		t.Fatalf("PutPublishedAssertion: %v", err)
	}
	got, ok, err := s.GetPublishedAssertion(ctx, url)
	if err != nil || !ok {
		t.Fatalf("GetPublishedAssertion: ok=%v err=%v", ok, err)
	}
	if got.Score != 75 || got.EventID != "evt1" {
		t.Fatalf("unexpected published assertion: %+v", got)
	}
}
