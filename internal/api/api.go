// Package api serves the read-only HTTP surface a dashboard consumes (§6).
// Routing follows mroxso-wotrlay's main.go shape — a plain http.NewServeMux,
// favicon plus a handful of handlers — generalized from one relay-info
// endpoint to the read paths this spec actually needs. Per-IP limiting
// reuses internal/ratelimit's token bucket; response caching reuses
// internal/cache's generic TTL+LRU cache, the same packages the service
// loop and ingestors already depend on.
package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/relaytrust/relaytrust/internal/cache"
	"github.com/relaytrust/relaytrust/internal/logging"
	"github.com/relaytrust/relaytrust/internal/model"
	"github.com/relaytrust/relaytrust/internal/ratelimit"
	"github.com/relaytrust/relaytrust/internal/relayurl"
	"github.com/relaytrust/relaytrust/internal/store"
)

// Store is the subset of *store.Store the API reads through.
type Store interface {
	AllLatestScores(ctx context.Context) (map[string]model.ScoreSnapshot, error)
	History(ctx context.Context, url string, days int, now int64) ([]model.ScoreSnapshot, error)
	AllJurisdictions(ctx context.Context) (map[string]model.JurisdictionInfo, error)
	AllOperatorResolutions(ctx context.Context) (map[string]model.OperatorResolution, error)
	AllScoreTrends(ctx context.Context, preferredWindowDays int, now int64) (map[string]store.TrendRow, error)
	AllRollingAverages(ctx context.Context, windowDays int, now int64) (map[string]float64, error)
	GetPublishedAssertion(ctx context.Context, url string) (model.PublishedAssertion, bool, error)
	TrackedURLs(ctx context.Context) ([]string, error)
}

// Options configures rate limits and cache TTLs (§6).
type Options struct {
	GlobalPerMinute      int
	ListPerMinute        int
	RelayCacheTTL        time.Duration
	AggregateCacheTTL    time.Duration
}

// Server is the HTTP read API.
type Server struct {
	store Store
	opts  Options

	globalLimiter *ratelimit.Limiter
	listLimiter   *ratelimit.Limiter

	relayCache     *cache.Cache[string, []byte]
	aggregateCache *cache.Cache[string, []byte]

	mux *http.ServeMux
	now func() int64
}

// New constructs a Server. now lets tests supply a fixed clock; pass
// model.Now in production.
func New(s Store, opts Options, now func() int64) *Server {
	srv := &Server{
		store:          s,
		opts:           opts,
		globalLimiter:  ratelimit.NewLimiter(10_000),
		listLimiter:    ratelimit.NewLimiter(10_000),
		relayCache:     cache.New[string, []byte](1000, opts.RelayCacheTTL),
		aggregateCache: cache.New[string, []byte](1000, opts.AggregateCacheTTL),
		now:            now,
	}
	srv.mux = http.NewServeMux()
	srv.routes()
	return srv
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /relays", s.withGlobalLimit(s.handleList))
	s.mux.HandleFunc("GET /relays/score", s.withGlobalLimit(s.handleScore))
	s.mux.HandleFunc("GET /relays/detail", s.withGlobalLimit(s.handleDetail))
	s.mux.HandleFunc("GET /relays/history", s.withGlobalLimit(s.handleHistory))
	s.mux.HandleFunc("GET /relays/assertion", s.withGlobalLimit(s.handleAssertion))
	s.mux.HandleFunc("GET /jurisdictions", s.withGlobalLimit(s.handleJurisdictions))
	s.mux.HandleFunc("GET /stats", s.withGlobalLimit(s.handleStats))
	s.mux.HandleFunc("GET /rankings", s.withListLimit(s.handleRankings))
	s.mux.HandleFunc("GET /analytics", s.withListLimit(s.handleAnalytics))
}

// Handler exposes the configured mux for embedding in an *http.Server.
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) withGlobalLimit(h http.HandlerFunc) http.HandlerFunc {
	return s.limit(s.globalLimiter, s.opts.GlobalPerMinute, h)
}

func (s *Server) withListLimit(h http.HandlerFunc) http.HandlerFunc {
	return s.limit(s.listLimiter, s.opts.ListPerMinute, h)
}

func (s *Server) limit(limiter *ratelimit.Limiter, perMinute int, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !limiter.Allow(ip, float64(perMinute), float64(perMinute)/60) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		h(w, r)
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("api: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func (s *Server) queryURL(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw := r.URL.Query().Get("url")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "missing url parameter")
		return "", false
	}
	canonical, err := relayurl.Canonicalize(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid url parameter")
		return "", false
	}
	return canonical, true
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	url, ok := s.queryURL(w, r)
	if !ok {
		return
	}
	cacheKey := "score:" + url
	if cached, ok := s.relayCache.Get(cacheKey); ok {
		w.Header().Set("Content-Type", "application/json")
		w.Write(cached)
		return
	}

	scores, err := s.store.AllLatestScores(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	snapshot, ok := scores[url]
	if !ok {
		writeError(w, http.StatusNotFound, "no score for relay")
		return
	}

	buf, _ := json.Marshal(snapshot)
	s.relayCache.Set(cacheKey, buf)
	w.Header().Set("Content-Type", "application/json")
	w.Write(buf)
}

// relayDetail combines a score snapshot with its operator and jurisdiction
// context, for the single-relay detail endpoint.
type relayDetail struct {
	Score        *model.ScoreSnapshot       `json:"score,omitempty"`
	Operator     *model.OperatorResolution  `json:"operator,omitempty"`
	Jurisdiction *model.JurisdictionInfo    `json:"jurisdiction,omitempty"`
}

func (s *Server) handleDetail(w http.ResponseWriter, r *http.Request) {
	url, ok := s.queryURL(w, r)
	if !ok {
		return
	}

	scores, err := s.store.AllLatestScores(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	operators, err := s.store.AllOperatorResolutions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	jurisdictions, err := s.store.AllJurisdictions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}

	var detail relayDetail
	if sc, ok := scores[url]; ok {
		detail.Score = &sc
	}
	if op, ok := operators[url]; ok {
		detail.Operator = &op
	}
	if j, ok := jurisdictions[url]; ok {
		detail.Jurisdiction = &j
	}
	if detail.Score == nil && detail.Operator == nil && detail.Jurisdiction == nil {
		writeError(w, http.StatusNotFound, "relay not found")
		return
	}
	writeJSON(w, detail)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	url, ok := s.queryURL(w, r)
	if !ok {
		return
	}

	days := 30
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 365 {
			writeError(w, http.StatusBadRequest, "days must be between 1 and 365")
			return
		}
		days = n
	}

	history, err := s.store.History(r.Context(), url, days, s.now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	writeJSON(w, history)
}

func (s *Server) handleAssertion(w http.ResponseWriter, r *http.Request) {
	url, ok := s.queryURL(w, r)
	if !ok {
		return
	}
	pub, found, err := s.store.GetPublishedAssertion(r.Context(), url)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "no published assertion for relay")
		return
	}
	writeJSON(w, pub)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	urls, err := s.store.TrackedURLs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	writeJSON(w, urls)
}

func (s *Server) handleJurisdictions(w http.ResponseWriter, r *http.Request) {
	cacheKey := "jurisdictions"
	if cached, ok := s.aggregateCache.Get(cacheKey); ok {
		w.Header().Set("Content-Type", "application/json")
		w.Write(cached)
		return
	}
	jurisdictions, err := s.store.AllJurisdictions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	buf, _ := json.Marshal(jurisdictions)
	s.aggregateCache.Set(cacheKey, buf)
	w.Header().Set("Content-Type", "application/json")
	w.Write(buf)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	cacheKey := "stats"
	if cached, ok := s.aggregateCache.Get(cacheKey); ok {
		w.Header().Set("Content-Type", "application/json")
		w.Write(cached)
		return
	}

	scores, err := s.store.AllLatestScores(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}

	stats := aggregateStats(scores)
	buf, _ := json.Marshal(stats)
	s.aggregateCache.Set(cacheKey, buf)
	w.Header().Set("Content-Type", "application/json")
	w.Write(buf)
}

type overallStats struct {
	RelayCount   int     `json:"relay_count"`
	MeanOverall  float64 `json:"mean_overall"`
	HighCount    int     `json:"high_confidence_count"`
	MediumCount  int     `json:"medium_confidence_count"`
	LowCount     int     `json:"low_confidence_count"`
}

func aggregateStats(scores map[string]model.ScoreSnapshot) overallStats {
	var sum float64
	stats := overallStats{RelayCount: len(scores)}
	for _, sc := range scores {
		sum += float64(sc.Overall)
		switch sc.Confidence {
		case model.ConfidenceHigh:
			stats.HighCount++
		case model.ConfidenceMedium:
			stats.MediumCount++
		default:
			stats.LowCount++
		}
	}
	if stats.RelayCount > 0 {
		stats.MeanOverall = sum / float64(stats.RelayCount)
	}
	return stats
}

type ranking struct {
	URL     string              `json:"url"`
	Overall int                 `json:"overall"`
	Confidence model.ConfidenceLabel `json:"confidence"`
}

func (s *Server) handleRankings(w http.ResponseWriter, r *http.Request) {
	scores, err := s.store.AllLatestScores(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}

	rankings := make([]ranking, 0, len(scores))
	for url, sc := range scores {
		rankings = append(rankings, ranking{URL: url, Overall: sc.Overall, Confidence: sc.Confidence})
	}
	sortRankingsDescending(rankings)
	writeJSON(w, rankings)
}

func sortRankingsDescending(r []ranking) {
	for i := 1; i < len(r); i++ {
		for j := i; j > 0 && r[j].Overall > r[j-1].Overall; j-- {
			r[j], r[j-1] = r[j-1], r[j]
		}
	}
}

type analyticsRow struct {
	URL           string  `json:"url"`
	Overall       int     `json:"overall"`
	Slope         float64 `json:"trend_slope"`
	RollingAvg    float64 `json:"rolling_average"`
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	scores, err := s.store.AllLatestScores(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	trends, err := s.store.AllScoreTrends(r.Context(), 30, s.now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	averages, err := s.store.AllRollingAverages(r.Context(), 7, s.now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}

	rows := make([]analyticsRow, 0, len(scores))
	for url, sc := range scores {
		row := analyticsRow{URL: url, Overall: sc.Overall}
		if t, ok := trends[url]; ok {
			row.Slope = t.Slope
		}
		if a, ok := averages[url]; ok {
			row.RollingAvg = a
		}
		rows = append(rows, row)
	}
	writeJSON(w, rows)
}
