package service

import (
	"context"
	"testing"

	"github.com/relaytrust/relaytrust/internal/model"
	"github.com/relaytrust/relaytrust/internal/scorer"
	"github.com/relaytrust/relaytrust/internal/store"
)

func TestBuildBundleAssemblesKnownSlices(t *testing.T) {
	url := "wss://relay.example.com"

	probes := map[string][]model.ProbeObservation{
		url: {{URL: url, Timestamp: 100, Reachable: true}, {URL: url, Timestamp: 200, Reachable: true}},
	}
	probeStats := map[string]store.ProbeStatsRow{
		url: {Count: 2, ReachableCount: 2, MeanConnectMs: 50},
	}
	nip66 := map[string]store.Nip66Aggregate{
		url: {MetricCount: 5, DistinctMonitorCount: 2},
	}
	reportStats := map[string]store.ReportStatsRow{
		url: {Total: 1, WeightedTotal: 0.8, ByType: map[model.ReportType]int{model.ReportSpam: 1}, WeightedByType: map[model.ReportType]float64{model.ReportSpam: 0.8}},
	}
	jurisdictions := map[string]model.JurisdictionInfo{
		url: {URL: url, CountryCode: "US"},
	}
	operators := map[string]model.OperatorResolution{
		url: {URL: url, OperatorPubkey: "abc123"},
	}

	b := buildBundle(url, probes, probeStats, nip66, reportStats, jurisdictions, operators)

	if len(b.Probes) != 2 {
		t.Fatalf("Probes len = %d, want 2", len(b.Probes))
	}
	if b.LatestProbe == nil || b.LatestProbe.Timestamp != 200 {
		t.Errorf("LatestProbe not set to the last element")
	}
	if b.ProbeStats == nil || b.ProbeStats.Count != 2 {
		t.Errorf("ProbeStats not assembled correctly")
	}
	if b.Nip66 == nil || b.Nip66.MetricCount != 5 {
		t.Errorf("Nip66 not assembled correctly")
	}
	if b.ReportStats == nil || b.ReportStats.Total != 1 {
		t.Errorf("ReportStats not assembled correctly")
	}
	if b.Jurisdiction == nil || b.Jurisdiction.CountryCode != "US" {
		t.Errorf("Jurisdiction not assembled correctly")
	}
	if b.Operator == nil || b.Operator.OperatorPubkey != "abc123" {
		t.Errorf("Operator not assembled correctly")
	}
}

func TestBuildBundleLeavesNilForUnknownURL(t *testing.T) {
	b := buildBundle("wss://unknown.example.com", nil, nil, nil, nil, nil, nil)
	if b.Probes != nil || b.ProbeStats != nil || b.Nip66 != nil || b.ReportStats != nil || b.Jurisdiction != nil || b.Operator != nil {
		t.Errorf("expected all-nil bundle fields for an unknown relay, got %+v", b)
	}
}

type cycleCountingStore struct {
	probeCalls int
}

func (s *cycleCountingStore) PutProbe(ctx context.Context, o model.ProbeObservation) error {
	s.probeCalls++
	return nil
}
func (s *cycleCountingStore) AllProbes(ctx context.Context, windowSeconds int64, now int64) (map[string][]model.ProbeObservation, error) {
	return map[string][]model.ProbeObservation{}, nil
}
func (s *cycleCountingStore) LatestProbePerRelay(ctx context.Context) (map[string]model.ProbeObservation, error) {
	return map[string]model.ProbeObservation{}, nil
}
func (s *cycleCountingStore) ProbeStats(ctx context.Context, windowSeconds, now int64) (map[string]store.ProbeStatsRow, error) {
	return map[string]store.ProbeStatsRow{}, nil
}
func (s *cycleCountingStore) Nip66Aggregates(ctx context.Context, windowSeconds, now int64) (map[string]store.Nip66Aggregate, error) {
	return map[string]store.Nip66Aggregate{}, nil
}
func (s *cycleCountingStore) AllReportStats(ctx context.Context, windowSeconds, now int64) (map[string]store.ReportStatsRow, error) {
	return map[string]store.ReportStatsRow{}, nil
}
func (s *cycleCountingStore) AllJurisdictions(ctx context.Context) (map[string]model.JurisdictionInfo, error) {
	return map[string]model.JurisdictionInfo{}, nil
}
func (s *cycleCountingStore) AllOperatorResolutions(ctx context.Context) (map[string]model.OperatorResolution, error) {
	return map[string]model.OperatorResolution{}, nil
}
func (s *cycleCountingStore) GetOperatorTrust(ctx context.Context, pubkey string) (model.OperatorTrust, bool, error) {
	return model.OperatorTrust{}, false, nil
}
func (s *cycleCountingStore) PutOperatorTrust(ctx context.Context, t model.OperatorTrust) error {
	return nil
}
func (s *cycleCountingStore) PutOperatorResolution(ctx context.Context, o model.OperatorResolution) error {
	return nil
}
func (s *cycleCountingStore) PutJurisdiction(ctx context.Context, j model.JurisdictionInfo) error {
	return nil
}
func (s *cycleCountingStore) PutScoreSnapshot(ctx context.Context, sn model.ScoreSnapshot) error {
	return nil
}
func (s *cycleCountingStore) StaleOperatorTrustPubkeys(ctx context.Context, knownPubkeys []string, cutoff int64) ([]string, error) {
	return nil, nil
}
func (s *cycleCountingStore) TrackedURLs(ctx context.Context) ([]string, error) {
	return []string{"wss://a.example.com", "wss://b.example.com"}, nil
}
func (s *cycleCountingStore) Cleanup(ctx context.Context, retentionDays int, now int64) (map[string]int, error) {
	return map[string]int{}, nil
}
func (s *cycleCountingStore) Checkpoint(ctx context.Context) error { return nil }

// Exercises the Store interface compiles against scorer.Score's actual
// signature, since buildBundle's output feeds directly into it.
func TestScorerAcceptsAssembledBundle(t *testing.T) {
	b := buildBundle("wss://relay.example.com", nil, nil, nil, nil, nil, nil)
	result := scorer.Score(b, 1000)
	if result.Overall < 0 || result.Overall > 100 {
		t.Errorf("Overall = %d, out of range", result.Overall)
	}
}

func TestTargetsFallsBackToTrackedURLsWhenUnconfigured(t *testing.T) {
	s := &cycleCountingStore{}
	svc := &Service{store: s}
	urls, err := svc.targets(context.Background())
	if err != nil {
		t.Fatalf("targets() error = %v", err)
	}
	if len(urls) != 2 {
		t.Errorf("urls = %v, want 2 tracked urls", urls)
	}
}
