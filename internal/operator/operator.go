// Package operator cross-checks a relay's claimed operator identity against
// DNS TXT and a well-known HTTP document, producing a corroborated
// confidence (§4.5). The well-known fetch follows the
// joelklabo-wot-scoring reference's http.Client{Timeout}+json-decode shape
// — the pack's only example of an ad-hoc external trust/identity lookup —
// generalized to three parallel sources instead of one.
package operator

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/relaytrust/relaytrust/internal/model"
	"github.com/relaytrust/relaytrust/internal/relayurl"
)

var hexPubkeyRe = regexp.MustCompile(`^[0-9a-f]{64}$`)
var dnsTxtPubkeyRe = regexp.MustCompile(`(?i)pubkey=([0-9a-f]{64})`)

const lookupTimeout = 5 * time.Second

type source string

const (
	sourceMetadata  source = "metadata"
	sourceDNS       source = "dns"
	sourceWellKnown source = "well-known"
)

// confidenceTable is the §4.5 corroboration table, keyed by the sorted,
// comma-joined source set.
var confidenceTable = map[string]int{
	"metadata":            70,
	"well-known":          75,
	"dns":                 80,
	"metadata,well-known": 85,
	"dns,metadata":        90,
	"dns,well-known":      90,
	"dns,metadata,well-known": 95,
}

// sourcePriority breaks ties between equally-corroborated pubkeys, and
// names the VerifiedVia label: dns outranks well-known outranks a lone
// metadata claim.
var sourcePriority = []source{sourceDNS, sourceWellKnown, sourceMetadata}

// Resolver performs the three parallel sidechannel lookups.
type Resolver struct {
	httpClient *http.Client
}

// New constructs a Resolver.
func New() *Resolver {
	return &Resolver{httpClient: &http.Client{Timeout: lookupTimeout}}
}

// Resolve implements §4.5 end to end, given the relay's canonical URL and
// its (possibly nil) fetched NIP-11 metadata blob.
func (r *Resolver) Resolve(ctx context.Context, canonicalURL string, metadata []byte, now int64) model.OperatorResolution {
	host, err := relayurl.Hostname(canonicalURL)
	if err != nil {
		return model.OperatorResolution{URL: canonicalURL}
	}
	domain := relayurl.Domain(host)

	var wg sync.WaitGroup
	var metadataPubkey, dnsPubkey, wellKnownPubkey string

	wg.Add(3)
	go func() {
		defer wg.Done()
		metadataPubkey = extractMetadataPubkey(metadata)
	}()
	go func() {
		defer wg.Done()
		dnsPubkey = r.lookupDNS(ctx, domain)
	}()
	go func() {
		defer wg.Done()
		wellKnownPubkey = r.lookupWellKnown(ctx, domain)
	}()
	wg.Wait()

	candidates := make(map[string]map[source]bool)
	record := func(pubkey string, s source) {
		if pubkey == "" || !hexPubkeyRe.MatchString(pubkey) {
			return
		}
		if candidates[pubkey] == nil {
			candidates[pubkey] = make(map[source]bool)
		}
		candidates[pubkey][s] = true
	}
	record(metadataPubkey, sourceMetadata)
	record(dnsPubkey, sourceDNS)
	record(wellKnownPubkey, sourceWellKnown)

	winner, confidence, via := pickWinner(candidates)

	return model.OperatorResolution{
		URL:             canonicalURL,
		OperatorPubkey:  winner,
		VerifiedVia:     via,
		Confidence:      confidence,
		LastVerifiedAt:  now,
		MetadataPubkey:  metadataPubkey,
		DNSPubkey:       dnsPubkey,
		WellKnownPubkey: wellKnownPubkey,
		SourcesDisagree: len(candidates) >= 2,
	}
}

func pickWinner(candidates map[string]map[source]bool) (pubkey string, confidence int, via model.VerifiedVia) {
	if len(candidates) == 0 {
		return "", 0, ""
	}

	bestScore := -1
	var bestPubkey string
	var bestSources map[source]bool
	for pk, sources := range candidates {
		score := confidenceTable[sourceSetKey(sources)]
		if score > bestScore || (score == bestScore && higherPriority(sources, bestSources)) {
			bestScore = score
			bestPubkey = pk
			bestSources = sources
		}
	}
	return bestPubkey, bestScore, verifiedViaLabel(bestSources)
}

func sourceSetKey(sources map[source]bool) string {
	var parts []string
	for _, s := range []source{sourceDNS, sourceMetadata, sourceWellKnown} {
		if sources[s] {
			parts = append(parts, string(s))
		}
	}
	return strings.Join(parts, ",")
}

// higherPriority breaks exact confidence ties deterministically using
// sourcePriority.
func higherPriority(candidate, current map[source]bool) bool {
	if current == nil {
		return true
	}
	for _, s := range sourcePriority {
		ci, ii := candidate[s], current[s]
		if ci && !ii {
			return true
		}
		if !ci && ii {
			return false
		}
	}
	return false
}

func verifiedViaLabel(sources map[source]bool) model.VerifiedVia {
	if sources == nil {
		return ""
	}
	for _, s := range sourcePriority {
		if sources[s] {
			switch s {
			case sourceDNS:
				return model.VerifiedDNS
			case sourceWellKnown:
				return model.VerifiedWellKnown
			case sourceMetadata:
				// A lone, uncorroborated metadata claim: the relay's own
				// assertion, nothing else agrees.
				return model.VerifiedClaimed
			}
		}
	}
	return ""
}

func extractMetadataPubkey(metadata []byte) string {
	if len(metadata) == 0 || !gjson.ValidBytes(metadata) {
		return ""
	}
	return strings.ToLower(gjson.GetBytes(metadata, "pubkey").String())
}

func (r *Resolver) lookupDNS(ctx context.Context, domain string) string {
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	var resolver net.Resolver
	records, err := resolver.LookupTXT(ctx, "_nostr."+domain)
	if err != nil {
		return ""
	}
	for _, rec := range records {
		if m := dnsTxtPubkeyRe.FindStringSubmatch(rec); m != nil {
			return strings.ToLower(m[1])
		}
	}
	return ""
}

type wellKnownDocument struct {
	Relay struct {
		Pubkey string `json:"pubkey"`
	} `json:"relay"`
}

func (r *Resolver) lookupWellKnown(ctx context.Context, domain string) string {
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	url := fmt.Sprintf("https://%s/.well-known/nostr.json", domain)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ""
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}

	var doc wellKnownDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return ""
	}
	return strings.ToLower(doc.Relay.Pubkey)
}
