package scorer

import "math"

// TemporalWeight implements w(t) = max(0.1, exp(-(now-t)/86400/3)): an
// exponential decay with a 3-day time constant (half-life about 2.1 days),
// floored at 0.1 so very old observations still count
// for something (§4.8). Invariant (§8.5): w(t) ∈ [0.1, 1.0], strictly ≤1.0
// for any t < now.
func TemporalWeight(t, now int64) float64 {
	ageDays := float64(now-t) / 86400
	w := math.Exp(-ageDays / 3)
	if w < 0.1 {
		return 0.1
	}
	if w > 1.0 {
		return 1.0
	}
	return w
}
