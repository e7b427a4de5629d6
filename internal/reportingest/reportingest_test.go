package reportingest

import (
	"context"
	"math"
	"testing"

	"github.com/nbd-wtf/go-nostr"
)

func TestReportWeightFormula(t *testing.T) {
	cases := []struct {
		trust float64
		want  float64
	}{
		{0, 0}, {100, 1}, {150, 1}, {-10, 0}, {50, 0.25},
	}
	for _, c := range cases {
		got := ReportWeight(c.trust, 2)
		if math.Abs(got-c.want) > 1e-9 {
			t.Errorf("ReportWeight(%v, 2) = %f, want %f", c.trust, got, c.want)
		}
	}
}

func TestParseReportType(t *testing.T) {
	evt := &nostr.Event{
		Tags: nostr.Tags{
			{"l", "spam", "relay-report"},
			{"r", "wss://relay.example.com"},
		},
	}
	rt, ok := parseReportType(evt)
	if !ok || rt != "spam" {
		t.Fatalf("parseReportType = (%q, %v), want (spam, true)", rt, ok)
	}
}

func TestParseReportTypeRejectsUnknownType(t *testing.T) {
	evt := &nostr.Event{
		Tags: nostr.Tags{{"l", "bogus", "relay-report"}},
	}
	if _, ok := parseReportType(evt); ok {
		t.Fatal("expected unknown report type to be rejected")
	}
}

type stubTrust struct {
	score float64
	ok    bool
}

func (s stubTrust) Trust(ctx context.Context, pubkey string) (float64, bool) {
	return s.score, s.ok
}

func TestWeightForDefaultsToUnknownWeightWithoutLookup(t *testing.T) {
	i := &Ingestor{trust: nil, exponent: 2, trustFloor: 0}
	if got := i.weightFor(context.Background(), "anyone"); got != defaultUnknownTrustWeight {
		t.Errorf("weightFor = %f, want %f", got, defaultUnknownTrustWeight)
	}
}

func TestWeightForAppliesExponentWhenTrustKnown(t *testing.T) {
	i := &Ingestor{trust: stubTrust{score: 50, ok: true}, exponent: 2, trustFloor: 0}
	want := ReportWeight(50, 2)
	if got := i.weightFor(context.Background(), "reporter"); got != want {
		t.Errorf("weightFor = %f, want %f", got, want)
	}
}

func TestWeightForDropsBelowTrustFloor(t *testing.T) {
	i := &Ingestor{trust: stubTrust{score: 5, ok: true}, exponent: 2, trustFloor: 10}
	if got := i.weightFor(context.Background(), "reporter"); got >= 0 {
		t.Errorf("weightFor = %f, want negative (dropped)", got)
	}
}
