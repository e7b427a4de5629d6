// Package prober performs a single-relay probe (§4.2): TCP/TLS connect via
// the relay protocol handshake, a best-effort NIP-11-shaped metadata fetch,
// relay-kind detection from the advertised capability list, and — for
// general relays — a minimal application-level read to confirm the relay
// actually answers requests rather than merely accepting connections.
//
// It reuses mroxso-wotrlay's nbd-wtf/go-nostr relay client for the handshake
// and subscription lifecycle (mroxso-wotrlay/rank.go already drives the
// same RelayConnect/Subscribe surface for its own JSON-RPC round trip).
// Metadata is parsed with tidwall/gjson rather than the go-nostr nip11
// struct: §3 stores the metadata document as an opaque blob, and the
// scorer only ever needs a handful of fields out of it, so gjson keeps the
// prober decoupled from the exact shape of a type it doesn't own.
package prober

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/tidwall/gjson"

	"github.com/relaytrust/relaytrust/internal/model"
	"github.com/relaytrust/relaytrust/internal/relayurl"
)

// Timeouts bundles the connect/metadata deadlines that differ for .onion
// targets (§4.2).
type Timeouts struct {
	ConnectTimeout        time.Duration
	MetadataTimeout       time.Duration
	OnionConnectTimeout   time.Duration
	OnionMetadataTimeout  time.Duration
}

// DefaultTimeouts returns the standard connect/metadata timeouts (10s/5s,
// 30s/15s for onion addresses).
func DefaultTimeouts() Timeouts {
	return Timeouts{
		ConnectTimeout:       10 * time.Second,
		MetadataTimeout:      5 * time.Second,
		OnionConnectTimeout:  30 * time.Second,
		OnionMetadataTimeout: 15 * time.Second,
	}
}

func (t Timeouts) forURL(canonicalURL string) (connect, metadata time.Duration) {
	if relayurl.IsOnion(canonicalURL) {
		return t.OnionConnectTimeout, t.OnionMetadataTimeout
	}
	return t.ConnectTimeout, t.MetadataTimeout
}

// remoteSignerHostHints catches known remote-signer (NIP-46 "bunker")
// deployments whose NIP-11 document, if present at all, rarely carries the
// capability list the rule in §4.2 depends on.
var remoteSignerHostHints = []string{"nsecbunker", "bunker."}

// Prober fetches one ProbeObservation per call. Safe for concurrent use.
type Prober struct {
	httpClient *http.Client
	timeouts   Timeouts
}

// New constructs a Prober with the given timeout profile.
func New(timeouts Timeouts) *Prober {
	return &Prober{
		httpClient: &http.Client{},
		timeouts:   timeouts,
	}
}

// Probe runs the full §4.2 decision tree against one canonical relay URL.
// now is stamped onto the returned observation's Timestamp by the caller
// (the service loop uses cycle start, not wall time at write, per §5).
func (p *Prober) Probe(ctx context.Context, canonicalURL string, now int64) model.ProbeObservation {
	obs := model.ProbeObservation{
		URL:         canonicalURL,
		Timestamp:   now,
		Kind:        model.RelayKindUnknown,
		AccessLevel: model.AccessUnknown,
	}

	connectTimeout, metadataTimeout := p.timeouts.forURL(canonicalURL)

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	start := time.Now()
	relay, err := nostr.RelayConnect(connectCtx, canonicalURL)
	obs.ConnectLatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		obs.Reachable = false
		obs.Error = classifyNetworkError(err)
		return obs
	}
	defer relay.Close()

	metaStart := time.Now()
	metadata, metaErr := p.fetchMetadata(ctx, canonicalURL, metadataTimeout)
	obs.MetadataLatencyMs = time.Since(metaStart).Milliseconds()
	if metaErr == nil {
		obs.Metadata = metadata
	}

	obs.Kind = detectKind(canonicalURL, metadata)

	switch obs.Kind {
	case model.RelayKindSpecialized, model.RelayKindRemoteSigner:
		// Connect-only relays: handshake success is the whole test.
		obs.Reachable = true
		obs.AccessLevel = model.AccessRestricted
	default:
		p.probeApplicationLayer(ctx, relay, connectTimeout, &obs)
	}

	return obs
}

// probeApplicationLayer implements the *general* branch of §4.2: open a
// fresh subscription and wait (bounded) for an end-of-stored-events or
// closed terminal frame. An auth challenge alone never terminates the wait.
func (p *Prober) probeApplicationLayer(ctx context.Context, relay *nostr.Relay, bound time.Duration, obs *model.ProbeObservation) {
	subCtx, cancel := context.WithTimeout(ctx, bound)
	defer cancel()

	readStart := time.Now()
	sub, err := relay.Subscribe(subCtx, nostr.Filters{{Limit: 1}})
	if err != nil {
		obs.Reachable = false
		obs.Error = classifyNetworkError(err)
		return
	}
	defer sub.Unsub()

	sawEvent := false
	for {
		select {
		case <-sub.EndOfStoredEvents:
			obs.ReadLatencyMs = time.Since(readStart).Milliseconds()
			obs.Reachable = true
			obs.AccessLevel = model.AccessOpen
			return
		case reason, ok := <-sub.ClosedReason:
			if !ok {
				// Channel closed with no reason: treat like a dropped
				// connection unless we already saw application data.
				obs.ReadLatencyMs = time.Since(readStart).Milliseconds()
				obs.Reachable = sawEvent
				if !sawEvent {
					obs.Error = "connection-closed"
				} else {
					obs.AccessLevel = model.AccessOpen
				}
				return
			}
			obs.ReadLatencyMs = time.Since(readStart).Milliseconds()
			obs.Reachable = true
			obs.ClosedReason = reason
			obs.AccessLevel = parseClosedReason(reason)
			return
		case _, ok := <-sub.Events:
			if !ok {
				continue
			}
			// An event frame proves the relay answers reads; keep waiting
			// (bounded) for the terminal frame to pin down access-level.
			sawEvent = true
		case <-subCtx.Done():
			obs.ReadLatencyMs = time.Since(readStart).Milliseconds()
			if sawEvent {
				obs.Reachable = true
				obs.AccessLevel = model.AccessOpen
			} else {
				obs.Reachable = false
				obs.Error = "probe-timeout"
			}
			return
		}
	}
}

// parseClosedReason maps a NIP-01 CLOSED message reason prefix (e.g.
// "auth-required: please authenticate") to an AccessLevel.
func parseClosedReason(reason string) model.AccessLevel {
	prefix := reason
	if i := strings.Index(reason, ":"); i >= 0 {
		prefix = reason[:i]
	}
	switch strings.TrimSpace(strings.ToLower(prefix)) {
	case "auth-required":
		return model.AccessAuthRequired
	case "payment-required":
		return model.AccessPaymentRequired
	case "restricted":
		return model.AccessRestricted
	default:
		return model.AccessRestricted
	}
}

func classifyNetworkError(err error) string {
	// Sanitized per §7: error names only, never the raw message (which may
	// embed host/path detail).
	switch {
	case strings.Contains(err.Error(), "timeout"):
		return "timeout"
	case strings.Contains(err.Error(), "refused"):
		return "connection-refused"
	case strings.Contains(err.Error(), "no such host"):
		return "dns-failure"
	default:
		return "transient-network"
	}
}

// fetchMetadata does a best-effort HTTPS GET for the relay's NIP-11
// information document. Failure is never fatal to the probe.
func (p *Prober) fetchMetadata(ctx context.Context, canonicalURL string, timeout time.Duration) ([]byte, error) {
	host, err := relayurl.Hostname(canonicalURL)
	if err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	infoURL := fmt.Sprintf("https://%s", host)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, infoURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/nostr+json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("prober: metadata fetch status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("prober: metadata not valid json")
	}
	return body, nil
}

// detectKind applies the §4.2 capability-list rule. Absent metadata is
// unknown regardless of hostname hints, except for the known remote-signer
// host patterns, which classify even without a fetched document.
func detectKind(canonicalURL string, metadata []byte) model.RelayKind {
	if metadata == nil {
		for _, hint := range remoteSignerHostHints {
			if strings.Contains(canonicalURL, hint) {
				return model.RelayKindRemoteSigner
			}
		}
		return model.RelayKindUnknown
	}

	caps := supportedNIPs(metadata)
	if len(caps) == 0 {
		return model.RelayKindGeneral
	}

	if containsInt(caps, 46) && isSubsetOf(caps, map[int]bool{1: true, 9: true, 46: true}) {
		return model.RelayKindRemoteSigner
	}
	if len(caps) <= 3 {
		return model.RelayKindSpecialized
	}
	return model.RelayKindGeneral
}

func supportedNIPs(metadata []byte) []int {
	arr := gjson.GetBytes(metadata, "supported_nips")
	if !arr.IsArray() {
		return nil
	}
	var out []int
	for _, v := range arr.Array() {
		out = append(out, int(v.Int()))
	}
	return out
}

func containsInt(xs []int, n int) bool {
	for _, x := range xs {
		if x == n {
			return true
		}
	}
	return false
}

func isSubsetOf(xs []int, allowed map[int]bool) bool {
	for _, x := range xs {
		if !allowed[x] {
			return false
		}
	}
	return true
}
