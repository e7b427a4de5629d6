package publisher

import (
	"context"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/relaytrust/relaytrust/internal/model"
	"github.com/relaytrust/relaytrust/internal/pool"
	"github.com/relaytrust/relaytrust/internal/scorer"
)

func TestCrossesConfidenceBoundary(t *testing.T) {
	cases := []struct {
		before, after int
		want          bool
	}{
		{35, 45, true},  // crosses the 40 boundary
		{65, 75, true},  // crosses the 70 boundary
		{45, 65, false}, // stays within the middle band
		{10, 20, false}, // stays below 40
		{80, 90, false}, // stays above 70
	}
	for _, c := range cases {
		if got := crossesConfidenceBoundary(c.before, c.after); got != c.want {
			t.Errorf("crossesConfidenceBoundary(%d, %d) = %v, want %v", c.before, c.after, got, c.want)
		}
	}
}

func TestIsMaterialChangeNoPriorIsAlwaysMaterial(t *testing.T) {
	if !isMaterialChange(model.PublishedAssertion{}, false, scorer.Result{Overall: 50}, 3) {
		t.Error("expected no-prior to be material")
	}
}

func TestIsMaterialChangeSkipsSmallDriftSameConfidence(t *testing.T) {
	prior := model.PublishedAssertion{Score: 72, Confidence: model.ConfidenceMedium, ObservationCount: 100}
	result := scorer.Result{Overall: 74, Confidence: model.ConfidenceMedium, ObservationCount: 110}
	if isMaterialChange(prior, true, result, 3) {
		t.Error("expected small drift with unchanged confidence and <2x observations to be skipped")
	}
}

func TestIsMaterialChangeOnConfidenceLabelChange(t *testing.T) {
	prior := model.PublishedAssertion{Score: 72, Confidence: model.ConfidenceMedium, ObservationCount: 100}
	result := scorer.Result{Overall: 73, Confidence: model.ConfidenceHigh, ObservationCount: 105}
	if !isMaterialChange(prior, true, result, 3) {
		t.Error("expected confidence label change to be material")
	}
}

func TestIsMaterialChangeOnObservationCountDoubling(t *testing.T) {
	prior := model.PublishedAssertion{Score: 72, Confidence: model.ConfidenceMedium, ObservationCount: 50}
	result := scorer.Result{Overall: 73, Confidence: model.ConfidenceMedium, ObservationCount: 100}
	if !isMaterialChange(prior, true, result, 3) {
		t.Error("expected observation count doubling to be material")
	}
}

type stubStore struct {
	prior    model.PublishedAssertion
	hasPrior bool
	puts     []model.PublishedAssertion
}

func (s *stubStore) GetPublishedAssertion(ctx context.Context, url string) (model.PublishedAssertion, bool, error) {
	return s.prior, s.hasPrior, nil
}

func (s *stubStore) PutPublishedAssertion(ctx context.Context, p model.PublishedAssertion) error {
	s.puts = append(s.puts, p)
	return nil
}

type stubPool struct {
	results []pool.EndpointResult
}

func (p *stubPool) Publish(ctx context.Context, evt *nostr.Event) []pool.EndpointResult {
	return p.results
}

func testPrivateKey() string {
	return "3f8f8e4a6c1c9b1e0f4a4e0d9c0a0b1e0f4a4e0d9c0a0b1e0f4a4e0d9c0a0b1e"
}

func TestPublishSkipsBelowMinObservations(t *testing.T) {
	store := &stubStore{}
	p := &stubPool{results: []pool.EndpointResult{{Endpoint: "wss://pub.example.com", Accepted: true}}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched := NewScheduler(ctx, p, time.Millisecond)
	defer sched.Stop()

	pub := New(store, sched, Options{MaterialChangeThreshold: 3, MinObservations: 10, AssertionKind: 30166, PrivateKeyHex: testPrivateKey()})

	err := pub.Publish(ctx, "wss://relay.example.com", scorer.Result{Overall: 80, ObservationCount: 1}, nil, nil, 1000, 0)
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if len(store.puts) != 0 {
		t.Error("expected no PublishedAssertion write when below minObservations")
	}
	_, skipped := pub.Counters()
	if skipped != 1 {
		t.Errorf("skipped = %d, want 1", skipped)
	}
}

func TestPublishWritesRecordOnMaterialChange(t *testing.T) {
	store := &stubStore{}
	p := &stubPool{results: []pool.EndpointResult{{Endpoint: "wss://pub.example.com", Accepted: true}}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched := NewScheduler(ctx, p, time.Millisecond)
	defer sched.Stop()

	pub := New(store, sched, Options{MaterialChangeThreshold: 3, MinObservations: 1, AssertionKind: 30166, PrivateKeyHex: testPrivateKey()})

	err := pub.Publish(ctx, "wss://relay.example.com", scorer.Result{Overall: 80, ObservationCount: 50, Confidence: model.ConfidenceHigh}, nil, nil, 1000, 0)
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if len(store.puts) != 1 {
		t.Fatalf("expected one PublishedAssertion write, got %d", len(store.puts))
	}
	if store.puts[0].Score != 80 {
		t.Errorf("published score = %d, want 80", store.puts[0].Score)
	}
	published, _ := pub.Counters()
	if published != 1 {
		t.Errorf("published = %d, want 1", published)
	}
}
