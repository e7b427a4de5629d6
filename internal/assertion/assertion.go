// Package assertion projects a Scorer result into the signed, replaceable
// event a relay's trust record gets published as (§4.9). Building the
// record is pure; only Sign touches a private key and only Marshal touches
// wire format, matching §5's "Scorer and Assertion Builder never suspend"
// rule — no network, no Store handle, anywhere in this package.
package assertion

import (
	"encoding/json"
	"fmt"

	"github.com/nbd-wtf/go-nostr"

	"github.com/relaytrust/relaytrust/internal/model"
	"github.com/relaytrust/relaytrust/internal/scorer"
)

// Assertion is the structured record the builder produces, before it is
// serialized into an event.
type Assertion struct {
	URL              string               `json:"url"`
	Timestamp        int64                `json:"timestamp"`
	Overall          int                  `json:"overall"`
	Reliability      int                  `json:"reliability"`
	Quality          int                  `json:"quality"`
	Accessibility    int                  `json:"accessibility"`
	OperatorScore    int                  `json:"operator_trust"`
	Confidence       model.ConfidenceLabel `json:"confidence"`
	ObservationCount int                  `json:"observation_count"`

	Operator     *OperatorInfo     `json:"operator,omitempty"`
	Jurisdiction *JurisdictionInfo `json:"jurisdiction,omitempty"`

	AlgorithmVersion string `json:"algorithm_version"`
	AlgorithmURL     string `json:"algorithm_url"`
}

// OperatorInfo is the operator-identity snapshot, included only when an
// operator pubkey was actually resolved.
type OperatorInfo struct {
	Pubkey      string             `json:"pubkey"`
	VerifiedVia model.VerifiedVia `json:"verified_via"`
	Confidence  int                `json:"confidence"`
}

// JurisdictionInfo is the geo/network snapshot included on an assertion when
// the relay has a resolved jurisdiction record; it is left nil otherwise.
type JurisdictionInfo struct {
	CountryCode string `json:"country_code,omitempty"`
	ASN         int    `json:"asn,omitempty"`
	IsTor       bool   `json:"is_tor,omitempty"`
	IsHosting   bool   `json:"is_hosting,omitempty"`
}

// Build deterministically projects a scorer.Result plus its supporting
// bundle into an Assertion. now is the caller-supplied cycle timestamp;
// Build never reads the system clock.
func Build(url string, result scorer.Result, operator *model.OperatorResolution, jurisdiction *model.JurisdictionInfo, algoVersion, algoURL string, now int64) Assertion {
	a := Assertion{
		URL:              url,
		Timestamp:        now,
		Overall:          result.Overall,
		Reliability:      result.Reliability,
		Quality:          result.Quality,
		Accessibility:    result.Accessibility,
		OperatorScore:    result.OperatorScore,
		Confidence:       result.Confidence,
		ObservationCount: result.ObservationCount,
		AlgorithmVersion: algoVersion,
		AlgorithmURL:     algoURL,
	}

	if operator != nil && operator.OperatorPubkey != "" {
		a.Operator = &OperatorInfo{
			Pubkey:      operator.OperatorPubkey,
			VerifiedVia: operator.VerifiedVia,
			Confidence:  operator.Confidence,
		}
	}

	if jurisdiction != nil {
		a.Jurisdiction = &JurisdictionInfo{
			CountryCode: jurisdiction.CountryCode,
			ASN:         jurisdiction.ASN,
			IsTor:       jurisdiction.IsTor,
			IsHosting:   jurisdiction.IsHosting,
		}
	}

	return a
}

// Sign serializes a into its replaceable-event JSON content, builds a
// kind-`assertionKind` event keyed by a `d` tag on url, and signs it with
// privateKeyHex. The caller owns publication; Sign never touches a relay.
func Sign(a Assertion, assertionKind int, privateKeyHex string, now int64) (*nostr.Event, error) {
	content, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("assertion: marshal content: %w", err)
	}

	pubkey, err := nostr.GetPublicKey(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("assertion: derive pubkey: %w", err)
	}

	evt := nostr.Event{
		PubKey:    pubkey,
		CreatedAt: nostr.Timestamp(now),
		Kind:      assertionKind,
		Tags:      nostr.Tags{{"d", a.URL}},
		Content:   string(content),
	}

	if err := evt.Sign(privateKeyHex); err != nil {
		return nil, fmt.Errorf("assertion: sign: %w", err)
	}
	return &evt, nil
}
