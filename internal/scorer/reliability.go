package scorer

import (
	"sort"

	"github.com/relaytrust/relaytrust/internal/model"
)

const (
	reliabilityWeightUptime      = 0.40
	reliabilityWeightResilience  = 0.20
	reliabilityWeightConsistency = 0.20
	reliabilityWeightLatency     = 0.20
)

// reliability computes the 0.40/0.20/0.20/0.20 blend (§4.8), then applies
// the reachable=false override.
func reliability(b *Bundle, now int64) int {
	uptime := uptimeScore(b, now)
	resilience := resilienceScore(b, now)
	consistency := consistencyScore(b)
	latency := latencyScore(b)

	raw := reliabilityWeightUptime*uptime +
		reliabilityWeightResilience*resilience +
		reliabilityWeightConsistency*consistency +
		reliabilityWeightLatency*latency

	if b.LatestProbe != nil && !b.LatestProbe.Reachable {
		return clampScore(offlineDecay(uptime, lastOnlineTimestamp(b), now))
	}
	return clampScore(raw)
}

// uptimeScore is the weighted fraction (by TemporalWeight) of reachable
// probes, times 100. Zero probes with positive monitor metrics defaults to
// 95 (external evidence the relay is alive even without our own probes);
// zero probes and zero monitor metrics defaults to 50 (no information).
func uptimeScore(b *Bundle, now int64) float64 {
	if len(b.Probes) == 0 {
		if b.Nip66 != nil && b.Nip66.MetricCount > 0 {
			return 95
		}
		return 50
	}

	var weightedReachable, totalWeight float64
	for _, p := range b.Probes {
		w := TemporalWeight(p.Timestamp, now)
		totalWeight += w
		if p.Reachable {
			weightedReachable += w
		}
	}
	if totalWeight == 0 {
		return 50
	}
	return clampFloat(100*weightedReachable/totalWeight, 0, 100)
}

// resilienceScore starts at 100 and subtracts outage-severity, frequency,
// and flapping penalties (§4.8).
func resilienceScore(b *Bundle, now int64) float64 {
	if len(b.Probes) == 0 {
		return 100
	}

	runs := outageRuns(b.Probes)

	severity := 0.0
	for _, r := range runs {
		points := outageSeverityPoints(r.length)
		severity += points * TemporalWeight(b.Probes[r.endIndex].Timestamp, now)
	}
	severity = clampFloat(severity, 0, 60)

	frequency := clampFloat(float64(len(runs))*2, 0, 20)

	flapping := flappingPenalty(b.Probes)

	return clampFloat(100-severity-frequency-flapping, 0, 100)
}

type outageRun struct {
	length   int
	endIndex int
}

// outageRuns groups consecutive unreachable probes into runs.
func outageRuns(probes []model.ProbeObservation) []outageRun {
	var runs []outageRun
	runLen := 0
	for i, p := range probes {
		if !p.Reachable {
			runLen++
			continue
		}
		if runLen > 0 {
			runs = append(runs, outageRun{length: runLen, endIndex: i - 1})
			runLen = 0
		}
	}
	if runLen > 0 {
		runs = append(runs, outageRun{length: runLen, endIndex: len(probes) - 1})
	}
	return runs
}

func outageSeverityPoints(length int) float64 {
	switch {
	case length <= 1:
		return 2
	case length <= 3:
		return 6
	case length <= 6:
		return 15
	case length <= 12:
		return 25
	case length <= 24:
		return 40
	default:
		return 60
	}
}

const flappingWindowSeconds = 6 * 3600

// flappingPenalty slides a 6-hour window across the probe stream counting
// reachability state changes; if the maximum found in any window exceeds 3,
// the penalty is changes*3 capped at 15.
func flappingPenalty(probes []model.ProbeObservation) float64 {
	if len(probes) < 2 {
		return 0
	}

	maxChanges := 0
	start := 0
	for end := 1; end < len(probes); end++ {
		for probes[end].Timestamp-probes[start].Timestamp > flappingWindowSeconds {
			start++
		}
		changes := 0
		for i := start + 1; i <= end; i++ {
			if probes[i].Reachable != probes[i-1].Reachable {
				changes++
			}
		}
		if changes > maxChanges {
			maxChanges = changes
		}
	}

	if maxChanges <= 3 {
		return 0
	}
	return clampFloat(float64(maxChanges)*3, 0, 15)
}

// consistencyScore uses connect latencies of reachable probes only (never
// mixed with read latencies). <4 samples is neutral (§8.6).
func consistencyScore(b *Bundle) float64 {
	var latencies []float64
	for _, p := range b.Probes {
		if p.Reachable {
			latencies = append(latencies, float64(p.ConnectLatencyMs))
		}
	}
	if len(latencies) < 4 {
		return 70
	}
	sort.Float64s(latencies)

	p25 := percentile(latencies, 25)
	p50 := percentile(latencies, 50)
	p75 := percentile(latencies, 75)

	if p75 == p25 {
		return 100
	}
	if p50 == 0 {
		return 100
	}
	return clampFloat(100-50*(p75-p25)/p50, 0, 100)
}

// percentile uses linear interpolation between closest ranks over an
// already-sorted slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(rank)
	hi := lo + 1
	if hi >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// latencyTiers maps a fused mean RTT (ms) to a latency score when no
// qualifying-monitor percentile is available.
var latencyTiers = []struct {
	maxMs float64
	score float64
}{
	{50, 100}, {100, 95}, {150, 90}, {200, 85}, {300, 75}, {500, 60}, {750, 40}, {1000, 20},
}

func latencyScore(b *Bundle) float64 {
	if b.Nip66 != nil && b.Nip66.LatencyPercentileScore != nil {
		return clampFloat(*b.Nip66.LatencyPercentileScore, 0, 100)
	}

	probeMean, haveProbe := 0.0, false
	if b.ProbeStats != nil && b.ProbeStats.MeanConnectMs > 0 {
		probeMean, haveProbe = b.ProbeStats.MeanConnectMs, true
	}
	monitorMean, haveMonitor := 0.0, false
	if b.Nip66 != nil && b.Nip66.MeanRTTOpenMs > 0 {
		monitorMean, haveMonitor = b.Nip66.MeanRTTOpenMs, true
	}

	var fused float64
	switch {
	case haveProbe && haveMonitor:
		fused = 0.3*probeMean + 0.7*monitorMean
	case haveProbe:
		fused = probeMean
	case haveMonitor:
		fused = monitorMean
	default:
		return 50
	}

	for _, tier := range latencyTiers {
		if fused <= tier.maxMs {
			return tier.score
		}
	}
	return 0
}

// lastOnlineTimestamp finds the most recent reachable probe's timestamp
// within the bundle, or 0 if none exists.
func lastOnlineTimestamp(b *Bundle) int64 {
	var last int64
	for _, p := range b.Probes {
		if p.Reachable && p.Timestamp > last {
			last = p.Timestamp
		}
	}
	return last
}

// offlineDecay implements §4.8's reliability override for a relay whose
// latest probe is unreachable: cap uptime% at 50, then linearly decay
// toward 20% of that capped base over 30 days since last-online-ts. No
// last-online-ts collapses straight to the floor (§8.4).
func offlineDecay(uptimePercent float64, lastOnlineTs, now int64) float64 {
	base := clampFloat(uptimePercent, 0, 50)
	floor := 0.2 * base

	if lastOnlineTs == 0 {
		return floor
	}

	daysSince := float64(now-lastOnlineTs) / 86400
	frac := clampFloat(daysSince/30, 0, 1)
	return base*(1-frac) + floor*frac
}
