package scorer

import "github.com/relaytrust/relaytrust/internal/model"

// weightedObservationCount implements §4.8's Wobs formula literally,
// including its middle factor (1 + min(1, months/1)·0) which always
// evaluates to 1 regardless of input. Kept byte-faithful rather than
// simplified away.
func weightedObservationCount(b *Bundle) float64 {
	probeCount := float64(len(b.Probes))

	nip66Count := 0.0
	monitors := 0
	if b.Nip66 != nil {
		nip66Count = float64(b.Nip66.MetricCount)
		monitors = b.Nip66.DistinctMonitorCount
	}

	days := float64(b.WindowDays)
	monitorFactor := 1 + maxFloat(1, float64(monitors))/10
	daysFactor := 1 + minFloat(30, days)/30
	monthsFactorAlwaysOne := 1 + minFloat(1, 1)*0

	return probeCount + nip66Count*monthsFactorAlwaysOne*monitorFactor*daysFactor
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// confidenceLabel buckets the weighted observation count (§4.8).
func confidenceLabel(wobs float64) model.ConfidenceLabel {
	switch {
	case wobs >= 500:
		return model.ConfidenceHigh
	case wobs >= 100:
		return model.ConfidenceMedium
	default:
		return model.ConfidenceLow
	}
}
