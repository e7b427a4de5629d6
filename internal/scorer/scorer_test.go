package scorer

import (
	"math"
	"testing"

	"github.com/relaytrust/relaytrust/internal/model"
)

func TestWeightSumsToOne(t *testing.T) {
	if got := reliabilityWeightUptime + reliabilityWeightResilience + reliabilityWeightConsistency + reliabilityWeightLatency; math.Abs(got-1.0) > 1e-9 {
		t.Fatalf("reliability weights sum to %f, want 1.0", got)
	}
	if got := qualityWeightPolicy + qualityWeightSecurity + qualityWeightOperator; math.Abs(got-1.0) > 1e-9 {
		t.Fatalf("quality weights sum to %f, want 1.0", got)
	}
	if got := accessibilityWeightBarriers + accessibilityWeightLimits + accessibilityWeightJurisdiction + accessibilityWeightSurveillance; math.Abs(got-1.0) > 1e-9 {
		t.Fatalf("accessibility weights sum to %f, want 1.0", got)
	}
	if got := overallWeightReliability + overallWeightQuality + overallWeightAccessibility; math.Abs(got-1.0) > 1e-9 {
		t.Fatalf("overall weights sum to %f, want 1.0", got)
	}
}

func TestTemporalWeightBounds(t *testing.T) {
	now := int64(1_000_000)
	cases := []int64{now, now - 1, now - 86400, now - 86400*30, now - 86400*365}
	for _, t0 := range cases {
		w := TemporalWeight(t0, now)
		if w < 0.1 || w > 1.0 {
			t.Errorf("TemporalWeight(%d, %d) = %f, out of [0.1,1.0]", t0, now, w)
		}
		if t0 < now && w > 1.0 {
			t.Errorf("TemporalWeight(%d, %d) = %f, want strictly <= 1.0", t0, now, w)
		}
	}
}

func reachableProbe(url string, ts int64, connectMs int64) model.ProbeObservation {
	return model.ProbeObservation{
		URL: url, Timestamp: ts, Reachable: true,
		Kind: model.RelayKindGeneral, AccessLevel: model.AccessOpen, ConnectLatencyMs: connectMs,
	}
}

func TestConsistencyIdenticalLatenciesScoresHundred(t *testing.T) {
	now := int64(100000)
	var probes []model.ProbeObservation
	for i := 0; i < 10; i++ {
		probes = append(probes, reachableProbe("wss://r", now-int64(i)*3600, 50))
	}
	b := &Bundle{URL: "wss://r", Probes: probes, LatestProbe: &probes[0]}
	got := consistencyScore(b)
	if got != 100 {
		t.Fatalf("consistencyScore with identical latencies = %f, want 100", got)
	}
}

func TestConsistencyFewSamplesIsNeutral(t *testing.T) {
	now := int64(100000)
	probes := []model.ProbeObservation{
		reachableProbe("wss://r", now, 50),
		reachableProbe("wss://r", now-3600, 60),
	}
	b := &Bundle{URL: "wss://r", Probes: probes}
	if got := consistencyScore(b); got != 70 {
		t.Fatalf("consistencyScore with <4 samples = %f, want 70", got)
	}
}

func TestOfflineDecayBounds(t *testing.T) {
	now := int64(1_000_000)
	cases := []struct {
		uptime      float64
		lastOnline  int64
	}{
		{90, now}, {90, now - 86400*15}, {90, now - 86400*60}, {90, 0}, {10, now - 86400*10},
	}
	for _, c := range cases {
		v := offlineDecay(c.uptime, c.lastOnline, now)
		if v > 50 {
			t.Errorf("offlineDecay(%v,%v) = %f, want <= 50", c.uptime, c.lastOnline, v)
		}
		want := math.Round(0.2 * math.Min(50, c.uptime))
		if math.Round(v) < want {
			t.Errorf("offlineDecay(%v,%v) = %f (rounded %v), want >= %v", c.uptime, c.lastOnline, v, math.Round(v), want)
		}
	}
}

func TestMaterialChangeInvariantsNotApplicableHere(t *testing.T) {
	// Material-change gate lives in the publisher package; this test only
	// documents that scorer.Score never mutates or reads PublishedAssertion.
}

func TestScoreClampsAndRoundsEveryComponent(t *testing.T) {
	now := int64(2_000_000)
	b := &Bundle{URL: "wss://r", WindowDays: 30}
	res := Score(b, now)

	for name, v := range map[string]int{
		"overall": res.Overall, "reliability": res.Reliability,
		"quality": res.Quality, "accessibility": res.Accessibility,
	} {
		if v < 0 || v > 100 {
			t.Errorf("%s = %d, out of [0,100]", name, v)
		}
	}
}

func TestFreshRelayScenarioS1(t *testing.T) {
	now := int64(1_700_000_000)
	metadata := []byte(`{"name":"Example","description":"A relay","contact":"ops@example.com","software":"strfry","version":"1.0","limitation":{"max_message_length":65536}}`)
	probe := model.ProbeObservation{
		URL: "wss://relay.example.com", Timestamp: now, Reachable: true,
		Kind: model.RelayKindGeneral, AccessLevel: model.AccessOpen,
		ConnectLatencyMs: 45, ReadLatencyMs: 30, Metadata: metadata,
	}
	b := &Bundle{
		URL: probe.URL, WindowDays: 30,
		Probes: []model.ProbeObservation{probe}, LatestProbe: &probe,
	}
	res := Score(b, now)

	if res.Confidence != model.ConfidenceLow {
		t.Errorf("confidence = %q, want low", res.Confidence)
	}
	if res.Overall < 70 {
		t.Errorf("overall = %d, want a healthy score for a fresh open+fast relay", res.Overall)
	}
}

func TestRestrictedButReachableStillScoresDecently(t *testing.T) {
	now := int64(1_700_000_000)
	probe := model.ProbeObservation{
		URL: "wss://relay.example.com", Timestamp: now, Reachable: true,
		Kind: model.RelayKindGeneral, AccessLevel: model.AccessAuthRequired,
		ClosedReason: "auth-required: please authenticate", ConnectLatencyMs: 60,
	}
	b := &Bundle{URL: probe.URL, WindowDays: 30, Probes: []model.ProbeObservation{probe}, LatestProbe: &probe}
	res := Score(b, now)
	if res.Overall < 50 {
		t.Errorf("overall = %d, want >= 50 for restricted-but-reachable (S2)", res.Overall)
	}
}

func TestOutageAndRecoveryLowersReliabilityVersusPerfectUptime(t *testing.T) {
	now := int64(1_700_000_000)
	const hour = int64(3600)

	var perfect, withOutage []model.ProbeObservation
	for i := 0; i < 30; i++ {
		ts := now - int64(29-i)*hour
		perfect = append(perfect, reachableProbe("wss://r", ts, 50))
		unreachable := i >= 24 && i < 28
		p := reachableProbe("wss://r", ts, 50)
		p.Reachable = !unreachable
		withOutage = append(withOutage, p)
	}

	perfectBundle := &Bundle{URL: "wss://r", WindowDays: 30, Probes: perfect, LatestProbe: &perfect[len(perfect)-1]}
	outageBundle := &Bundle{URL: "wss://r", WindowDays: 30, Probes: withOutage, LatestProbe: &withOutage[len(withOutage)-1]}

	perfectScore := Score(perfectBundle, now)
	outageScore := Score(outageBundle, now)

	if outageScore.Reliability >= perfectScore.Reliability {
		t.Errorf("reliability with outage (%d) should be strictly lower than perfect uptime (%d)",
			outageScore.Reliability, perfectScore.Reliability)
	}
}
