// Package scorer computes Reliability, Quality, Accessibility, and overall
// trust scores for one relay from its aggregate bundle (§4.8). Every
// function here is pure: no system clock, no I/O, no Store handle. Time
// always arrives as an explicit `now` parameter, per §9's clock-source rule,
// so the whole package is deterministic and trivially testable against the
// §8 invariants and scenarios.
package scorer

import "github.com/relaytrust/relaytrust/internal/model"

// Nip66Aggregate mirrors store.Nip66Aggregate. Scorer does not import store
// (store is an I/O boundary; scorer is pure), so the aggregate bundle is
// assembled by the caller — the service loop — from whatever Store returns.
type Nip66Aggregate struct {
	MetricCount            int
	DistinctMonitorCount    int
	MeanRTTOpenMs           float64
	MeanRTTReadMs           float64
	MeanRTTWriteMs          float64
	FirstSeen               int64
	LastSeen                int64
	LatencyPercentileScore  *float64
}

// ReportStats mirrors store.ReportStatsRow.
type ReportStats struct {
	Total          int
	WeightedTotal  float64
	ByType         map[model.ReportType]int
	WeightedByType map[model.ReportType]float64
}

// ProbeStats mirrors store.ProbeStatsRow.
type ProbeStats struct {
	Count          int
	ReachableCount int
	MeanConnectMs  float64
	MeanReadMs     float64
	MeanMetadataMs float64
}

// Bundle is everything the Scorer needs for one relay, for one cycle. A nil
// pointer field means "no data", which the Scorer treats as insufficient
// data (neutral defaults), never as zero (§4.1).
type Bundle struct {
	URL string

	// WindowDays is the span of history this bundle's Probes/ReportStats
	// cover, used by the weighted-observation-count formula.
	WindowDays int

	// Probes is every probe observation in the evaluation window, ascending
	// by timestamp.
	Probes []model.ProbeObservation

	// LatestProbe is the most recent probe regardless of window (may be
	// older than the window if the relay has gone silent).
	LatestProbe *model.ProbeObservation

	ProbeStats    *ProbeStats
	Nip66         *Nip66Aggregate
	Jurisdiction  *model.JurisdictionInfo
	Operator      *model.OperatorResolution
	OperatorTrust *model.OperatorTrust
	ReportStats   *ReportStats
}

// Result is the Scorer's full output for one relay.
type Result struct {
	Overall          int
	Reliability      int
	Quality          int
	Accessibility    int
	OperatorScore    int // the Operator sub-component of Quality, tracked separately (§3 ScoreSnapshot.operator-trust)
	Confidence       model.ConfidenceLabel
	ObservationCount int
}

func clampScore(v float64) int {
	if v < 0 {
		v = 0
	}
	if v > 100 {
		v = 100
	}
	return int(v + 0.5)
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
