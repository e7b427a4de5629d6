package scorer

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/relaytrust/relaytrust/internal/model"
)

const (
	qualityWeightPolicy   = 0.60
	qualityWeightSecurity = 0.25
	qualityWeightOperator = 0.15
)

// quality computes the 0.60/0.25/0.15 blend and returns both the overall
// quality score and the operator sub-score (tracked separately in
// ScoreSnapshot per §3).
func quality(b *Bundle) (overall int, operatorScore int) {
	var metadata []byte
	if b.LatestProbe != nil {
		metadata = b.LatestProbe.Metadata
	}

	policy := policyScore(metadata, accessLevel(b))
	security := securityScore(b.URL)
	operator := operatorScore2(b)

	raw := qualityWeightPolicy*policy + qualityWeightSecurity*security + qualityWeightOperator*operator
	return clampScore(raw), clampScore(operator)
}

func accessLevel(b *Bundle) model.AccessLevel {
	if b.LatestProbe == nil {
		return model.AccessUnknown
	}
	return b.LatestProbe.AccessLevel
}

// policyScore starts at 50 and adds increments for advertised NIP-11 fields,
// then applies the three downward caps (§4.8). A nil/empty metadata blob
// scores the identity-missing cap directly.
func policyScore(metadata []byte, access model.AccessLevel) float64 {
	if len(metadata) == 0 || !gjson.ValidBytes(metadata) {
		return 50
	}

	name := gjson.GetBytes(metadata, "name").String()
	description := gjson.GetBytes(metadata, "description").String()
	contact := gjson.GetBytes(metadata, "contact").String()
	software := gjson.GetBytes(metadata, "software").String()
	version := gjson.GetBytes(metadata, "version").String()
	limitation := gjson.GetBytes(metadata, "limitation")
	fees := gjson.GetBytes(metadata, "fees")

	hasIdentity := name != "" && description != ""
	hasContact := contact != ""
	hasSoftwareVersion := software != "" && version != ""
	hasLimitation := limitation.Exists() && limitation.IsObject() && len(limitation.Map()) > 0
	feesMatchPaymentRequired := access != model.AccessPaymentRequired || (fees.Exists() && fees.IsObject() && len(fees.Map()) > 0)

	score := 50.0
	if hasIdentity {
		score += 15
	}
	if hasContact {
		score += 10
	}
	if hasSoftwareVersion {
		score += 10
	}
	if hasLimitation {
		score += 10
	}
	if feesMatchPaymentRequired {
		score += 5
	}

	if !hasIdentity {
		score = minFloat(score, 50)
	}
	if !hasContact {
		score = minFloat(score, 70)
	}
	if !hasLimitation {
		score = minFloat(score, 85)
	}

	return clampFloat(score, 0, 100)
}

func securityScore(canonicalURL string) float64 {
	switch {
	case strings.HasPrefix(canonicalURL, "wss://"):
		return 100
	case strings.HasPrefix(canonicalURL, "ws://"):
		return 0
	default:
		return 50
	}
}

// operatorScore2 blends corroboration confidence with WoT score when both
// are available; confidence alone otherwise; neutral when the relay has no
// operator resolution at all (fresh relay, §8 S1).
func operatorScore2(b *Bundle) float64 {
	if b.Operator == nil || b.Operator.OperatorPubkey == "" {
		return 50
	}
	confidence := float64(b.Operator.Confidence)
	if b.OperatorTrust != nil {
		return 0.5*confidence + 0.5*float64(b.OperatorTrust.Score)
	}
	return confidence
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
