package scorer

import "math"

const (
	overallWeightReliability   = 0.40
	overallWeightQuality       = 0.35
	overallWeightAccessibility = 0.25
)

// Score computes the full §4.8 result for one relay's aggregate bundle.
// Never fails and never suspends: insufficient data yields neutral
// defaults rather than an error (§7's pure-function propagation policy).
func Score(b *Bundle, now int64) Result {
	rel := reliability(b, now)
	qual, operatorSub := quality(b)
	acc := accessibility(b)

	overall := clampScore(overallWeightReliability*float64(rel) +
		overallWeightQuality*float64(qual) +
		overallWeightAccessibility*float64(acc))

	wobs := weightedObservationCount(b)

	return Result{
		Overall:          overall,
		Reliability:      rel,
		Quality:          qual,
		Accessibility:    acc,
		OperatorScore:    operatorSub,
		Confidence:       confidenceLabel(wobs),
		ObservationCount: int(math.Round(wobs)),
	}
}
