package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/relaytrust/relaytrust/internal/model"
	"github.com/relaytrust/relaytrust/internal/store"
)

type stubStore struct {
	scores        map[string]model.ScoreSnapshot
	history       []model.ScoreSnapshot
	jurisdictions map[string]model.JurisdictionInfo
	operators     map[string]model.OperatorResolution
	trends        map[string]store.TrendRow
	averages      map[string]float64
	assertion     model.PublishedAssertion
	hasAssertion  bool
	urls          []string
}

func (s *stubStore) AllLatestScores(ctx context.Context) (map[string]model.ScoreSnapshot, error) {
	return s.scores, nil
}
func (s *stubStore) History(ctx context.Context, url string, days int, now int64) ([]model.ScoreSnapshot, error) {
	return s.history, nil
}
func (s *stubStore) AllJurisdictions(ctx context.Context) (map[string]model.JurisdictionInfo, error) {
	return s.jurisdictions, nil
}
func (s *stubStore) AllOperatorResolutions(ctx context.Context) (map[string]model.OperatorResolution, error) {
	return s.operators, nil
}
func (s *stubStore) AllScoreTrends(ctx context.Context, preferredWindowDays int, now int64) (map[string]store.TrendRow, error) {
	return s.trends, nil
}
func (s *stubStore) AllRollingAverages(ctx context.Context, windowDays int, now int64) (map[string]float64, error) {
	return s.averages, nil
}
func (s *stubStore) GetPublishedAssertion(ctx context.Context, url string) (model.PublishedAssertion, bool, error) {
	return s.assertion, s.hasAssertion, nil
}
func (s *stubStore) TrackedURLs(ctx context.Context) ([]string, error) {
	return s.urls, nil
}

func newTestServer(s *stubStore) *Server {
	opts := Options{
		GlobalPerMinute:   60,
		ListPerMinute:     10,
		RelayCacheTTL:     30 * time.Second,
		AggregateCacheTTL: 60 * time.Second,
	}
	return New(s, opts, func() int64 { return 1000 })
}

func TestHandleScoreReturnsNotFoundForUnknownURL(t *testing.T) {
	s := newTestServer(&stubStore{scores: map[string]model.ScoreSnapshot{}})
	req := httptest.NewRequest(http.MethodGet, "/relays/score?url=wss://relay.example.com", nil)
	req.RemoteAddr = "203.0.113.1:5000"
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}

func TestHandleScoreReturnsSnapshot(t *testing.T) {
	url := "wss://relay.example.com"
	s := newTestServer(&stubStore{
		scores: map[string]model.ScoreSnapshot{url: {URL: url, Overall: 80, Confidence: model.ConfidenceHigh}},
	})
	req := httptest.NewRequest(http.MethodGet, "/relays/score?url="+url, nil)
	req.RemoteAddr = "203.0.113.2:5000"
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rr.Code, rr.Body.String())
	}
}

func TestHandleScoreRejectsMissingURL(t *testing.T) {
	s := newTestServer(&stubStore{scores: map[string]model.ScoreSnapshot{}})
	req := httptest.NewRequest(http.MethodGet, "/relays/score", nil)
	req.RemoteAddr = "203.0.113.3:5000"
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func TestHandleHistoryRejectsOutOfRangeDays(t *testing.T) {
	s := newTestServer(&stubStore{})
	req := httptest.NewRequest(http.MethodGet, "/relays/history?url=wss://relay.example.com&days=9999", nil)
	req.RemoteAddr = "203.0.113.4:5000"
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func TestGlobalRateLimitRejectsAfterCapacity(t *testing.T) {
	s := newTestServer(&stubStore{scores: map[string]model.ScoreSnapshot{}})
	var lastCode int
	for i := 0; i < 61; i++ {
		req := httptest.NewRequest(http.MethodGet, "/relays", nil)
		req.RemoteAddr = "203.0.113.5:5000"
		rr := httptest.NewRecorder()
		s.Handler().ServeHTTP(rr, req)
		lastCode = rr.Code
	}
	if lastCode != http.StatusTooManyRequests {
		t.Errorf("final status = %d, want 429 after exceeding capacity", lastCode)
	}
}

func TestAggregateStatsComputesMeanAndBuckets(t *testing.T) {
	scores := map[string]model.ScoreSnapshot{
		"a": {Overall: 80, Confidence: model.ConfidenceHigh},
		"b": {Overall: 50, Confidence: model.ConfidenceMedium},
		"c": {Overall: 20, Confidence: model.ConfidenceLow},
	}
	stats := aggregateStats(scores)
	if stats.RelayCount != 3 {
		t.Errorf("RelayCount = %d, want 3", stats.RelayCount)
	}
	if stats.HighCount != 1 || stats.MediumCount != 1 || stats.LowCount != 1 {
		t.Errorf("unexpected bucket counts: %+v", stats)
	}
	wantMean := (80.0 + 50.0 + 20.0) / 3
	if stats.MeanOverall != wantMean {
		t.Errorf("MeanOverall = %v, want %v", stats.MeanOverall, wantMean)
	}
}

func TestSortRankingsDescending(t *testing.T) {
	r := []ranking{{URL: "a", Overall: 10}, {URL: "b", Overall: 90}, {URL: "c", Overall: 50}}
	sortRankingsDescending(r)
	if r[0].URL != "b" || r[1].URL != "c" || r[2].URL != "a" {
		t.Errorf("unexpected order: %+v", r)
	}
}
