package scorer

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/relaytrust/relaytrust/internal/model"
)

const (
	accessibilityWeightBarriers     = 0.40
	accessibilityWeightLimits       = 0.20
	accessibilityWeightJurisdiction = 0.20
	accessibilityWeightSurveillance = 0.20
)

func accessibility(b *Bundle) int {
	barriers := barriersScore(b)
	limits := limitsScore(b)
	jurisdiction := jurisdictionScore(b)
	surveillance := surveillanceScore(b)

	raw := accessibilityWeightBarriers*barriers +
		accessibilityWeightLimits*limits +
		accessibilityWeightJurisdiction*jurisdiction +
		accessibilityWeightSurveillance*surveillance
	return clampScore(raw)
}

// barriersScore penalizes auth/payment requirements and a steep
// proof-of-work minimum.
func barriersScore(b *Bundle) float64 {
	score := 100.0

	switch accessLevel(b) {
	case model.AccessAuthRequired:
		score -= 20
	case model.AccessPaymentRequired:
		score -= 30
	case model.AccessRestricted:
		score -= 25
	}

	if b.LatestProbe != nil && len(b.LatestProbe.Metadata) > 0 {
		minPow := gjson.GetBytes(b.LatestProbe.Metadata, "limitation.min_pow_difficulty").Int()
		if minPow > 0 {
			score -= clampFloat(float64(minPow)/2, 0, 30)
		}
	}

	return clampFloat(score, 0, 100)
}

// limitsScore rewards generous message/subscription/filter ceilings. No
// limitation data is neutral.
func limitsScore(b *Bundle) float64 {
	if b.LatestProbe == nil || len(b.LatestProbe.Metadata) == 0 {
		return 50
	}
	limitation := gjson.GetBytes(b.LatestProbe.Metadata, "limitation")
	if !limitation.Exists() || !limitation.IsObject() {
		return 50
	}

	score := 50.0
	if limitation.Get("max_message_length").Int() >= 16384 {
		score += 15
	}
	if limitation.Get("max_subscriptions").Int() >= 20 {
		score += 15
	}
	if limitation.Get("max_filters").Int() >= 10 {
		score += 20
	}
	return clampFloat(score, 0, 100)
}

// freeCountries / notFreeCountries are a deliberately small, representative
// classification — good enough to exercise the formula's shape; a full
// Freedom House import would belong to JurisdictionResolver, not Scorer.
var freeCountries = map[string]bool{
	"US": true, "CA": true, "GB": true, "DE": true, "FR": true, "NL": true,
	"SE": true, "NO": true, "FI": true, "DK": true, "JP": true, "AU": true,
	"CH": true, "IS": true, "IE": true, "NZ": true, "ES": true, "PT": true,
}

var notFreeCountries = map[string]bool{
	"RU": true, "CN": true, "IR": true, "KP": true, "SY": true, "CU": true,
	"BY": true, "TM": true, "ER": true,
}

// jurisdictionScore maps country freedom status to {free:100, partly-free:
// 60, not-free:20}. An unresolved jurisdiction (no data yet) defaults to
// the most permissive value rather than penalizing a relay before its first
// geo lookup completes.
func jurisdictionScore(b *Bundle) float64 {
	if b.Jurisdiction == nil || b.Jurisdiction.CountryCode == "" {
		return 100
	}
	code := strings.ToUpper(b.Jurisdiction.CountryCode)
	switch {
	case freeCountries[code]:
		return 100
	case notFreeCountries[code]:
		return 20
	default:
		return 60
	}
}

var fiveEyes = map[string]bool{"US": true, "GB": true, "CA": true, "AU": true, "NZ": true}
var nineEyesExtra = map[string]bool{"DK": true, "FR": true, "NL": true, "NO": true}
var fourteenEyesExtra = map[string]bool{"DE": true, "BE": true, "IT": true, "SE": true, "ES": true}
var privacyFriendly = map[string]bool{"CH": true, "IS": true}

// surveillanceScore maps country to intelligence-alliance membership
// (§4.8). An unresolved jurisdiction is "unknown" (50), matching the
// table's own explicit unknown entry.
func surveillanceScore(b *Bundle) float64 {
	if b.Jurisdiction == nil || b.Jurisdiction.CountryCode == "" {
		return 50
	}
	code := strings.ToUpper(b.Jurisdiction.CountryCode)
	switch {
	case privacyFriendly[code]:
		return 100
	case fiveEyes[code]:
		return 10
	case nineEyesExtra[code]:
		return 25
	case fourteenEyesExtra[code]:
		return 40
	default:
		return 80 // non-aligned: known country, no alliance membership on record
	}
}
