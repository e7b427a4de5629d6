package wot

import (
	"testing"

	"github.com/nbd-wtf/go-nostr"
)

func TestProviderWeightDefaultsToOne(t *testing.T) {
	p := Provider{Name: "a", Endpoint: "wss://x"}
	if got := p.weight(); got != 1 {
		t.Errorf("weight() = %v, want 1", got)
	}
	p.Weight = 3
	if got := p.weight(); got != 3 {
		t.Errorf("weight() = %v, want 3", got)
	}
}

func TestConfidenceForProviderCount(t *testing.T) {
	cases := map[int]string{0: "low", 1: "low", 2: "medium", 3: "high", 5: "high"}
	for n, want := range cases {
		if got := string(confidenceFor(n)); got != want {
			t.Errorf("confidenceFor(%d) = %q, want %q", n, got, want)
		}
	}
}

func TestExtractRankParsesAndClampsTag(t *testing.T) {
	evt := &nostr.Event{Tags: nostr.Tags{{"rank", "150"}}}
	rank, ok := extractRank(evt)
	if !ok || rank != 100 {
		t.Errorf("extractRank = (%v, %v), want (100, true)", rank, ok)
	}

	evt = &nostr.Event{Tags: nostr.Tags{{"rank", "-10"}}}
	rank, ok = extractRank(evt)
	if !ok || rank != 0 {
		t.Errorf("extractRank = (%v, %v), want (0, true)", rank, ok)
	}

	evt = &nostr.Event{Tags: nostr.Tags{{"d", "irrelevant"}}}
	if _, ok := extractRank(evt); ok {
		t.Error("expected missing rank tag to fail extraction")
	}
}

func TestFetchWithNoProvidersReturnsZeroedTrust(t *testing.T) {
	c := New(nil, 30382)
	out, err := c.Fetch(nil, "abc") //nolint:staticcheck // no provider means ctx is never touched
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if out.ProviderCount != 0 || out.Score != 0 {
		t.Errorf("Fetch() = %+v, want zero value", out)
	}
}
