package operator

import "testing"

func sourceSet(ss ...source) map[source]bool {
	m := make(map[source]bool)
	for _, s := range ss {
		m[s] = true
	}
	return m
}

func TestPickWinnerSingleSourceDNSBeatsWellKnownOnConfidence(t *testing.T) {
	candidates := map[string]map[source]bool{
		"a": sourceSet(sourceWellKnown),
		"b": sourceSet(sourceDNS),
	}
	pk, confidence, via := pickWinner(candidates)
	if pk != "b" || confidence != 80 || via != "dns" {
		t.Errorf("pickWinner = (%q, %d, %q), want (b, 80, dns)", pk, confidence, via)
	}
}

func TestPickWinnerDNSAndMetadataAgreeingOutranksLoneWellKnown(t *testing.T) {
	candidates := map[string]map[source]bool{
		"agreed": sourceSet(sourceDNS, sourceMetadata),
		"lone":   sourceSet(sourceWellKnown),
	}
	pk, confidence, via := pickWinner(candidates)
	if pk != "agreed" || confidence != 90 || via != "dns" {
		t.Errorf("pickWinner = (%q, %d, %q), want (agreed, 90, dns)", pk, confidence, via)
	}
}

func TestPickWinnerAllThreeSourcesAgree(t *testing.T) {
	candidates := map[string]map[source]bool{
		"x": sourceSet(sourceDNS, sourceMetadata, sourceWellKnown),
	}
	pk, confidence, via := pickWinner(candidates)
	if pk != "x" || confidence != 95 || via != "dns" {
		t.Errorf("pickWinner = (%q, %d, %q), want (x, 95, dns)", pk, confidence, via)
	}
}

func TestPickWinnerLoneMetadataIsLabeledClaimed(t *testing.T) {
	candidates := map[string]map[source]bool{
		"only": sourceSet(sourceMetadata),
	}
	pk, confidence, via := pickWinner(candidates)
	if pk != "only" || confidence != 70 || via != "claimed" {
		t.Errorf("pickWinner = (%q, %d, %q), want (only, 70, claimed)", pk, confidence, via)
	}
}

func TestPickWinnerNoCandidatesReturnsEmpty(t *testing.T) {
	pk, confidence, via := pickWinner(map[string]map[source]bool{})
	if pk != "" || confidence != 0 || via != "" {
		t.Errorf("pickWinner(empty) = (%q, %d, %q), want zero values", pk, confidence, via)
	}
}

func TestExtractMetadataPubkeyFromValidJSON(t *testing.T) {
	doc := []byte(`{"name":"relay","pubkey":"ABCDEF0000000000000000000000000000000000000000000000000000ABCD"}`)
	got := extractMetadataPubkey(doc)
	want := "abcdef0000000000000000000000000000000000000000000000000000abcd"
	if got != want {
		t.Errorf("extractMetadataPubkey = %q, want %q", got, want)
	}
}

func TestExtractMetadataPubkeyHandlesMissingOrInvalid(t *testing.T) {
	if got := extractMetadataPubkey(nil); got != "" {
		t.Errorf("extractMetadataPubkey(nil) = %q, want empty", got)
	}
	if got := extractMetadataPubkey([]byte("not json")); got != "" {
		t.Errorf("extractMetadataPubkey(invalid) = %q, want empty", got)
	}
}

func TestResolveReturnsEmptyOnUnparseableURL(t *testing.T) {
	r := New()
	res := r.Resolve(nil, "", nil, 0) //nolint:staticcheck // ctx unused on this short-circuit path
	if res.OperatorPubkey != "" {
		t.Errorf("expected empty resolution for unparseable URL, got %+v", res)
	}
}
