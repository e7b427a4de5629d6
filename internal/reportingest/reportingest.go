// Package reportingest subscribes to the label-event (NIP-32 style) source
// endpoints, verifies and dedups relay reports, weighs them by reporter
// trust, and persists them (§4.4). Its subscription lifecycle mirrors
// internal/monitoringest's — same reconnect-with-backoff shape, same
// nbd-wtf/go-nostr client — since both ingestors are driven by the same
// long-lived-WS contract (§6).
package reportingest

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/relaytrust/relaytrust/internal/logging"
	"github.com/relaytrust/relaytrust/internal/moderation"
	"github.com/relaytrust/relaytrust/internal/model"
	"github.com/relaytrust/relaytrust/internal/nostrshape"
	"github.com/relaytrust/relaytrust/internal/relayurl"
)

const (
	backoffInitial = time.Second
	backoffCap     = 60 * time.Second

	// defaultUnknownTrustWeight is used when trust lookup is enabled but
	// returns no result for the reporter (§4.4: "trust unknown -> default
	// weight 0.5").
	defaultUnknownTrustWeight = 0.5

	labelNamespace = "relay-report"
)

// Store is the subset of *store.Store the ingestor writes through.
type Store interface {
	PutReport(ctx context.Context, r model.Report, maxPerReporterPerRelayPerDay int) (bool, error)
}

// TrustLookup resolves a reporter's operator trust score, if known.
type TrustLookup interface {
	Trust(ctx context.Context, pubkey string) (score float64, ok bool)
}

// ReportWeight implements §4.4 / §8.10's trust-to-weight curve:
// weight = (clamp(trust,0,100)/100)^exponent.
func ReportWeight(trust float64, exponent float64) float64 {
	clamped := trust
	if clamped < 0 {
		clamped = 0
	}
	if clamped > 100 {
		clamped = 100
	}
	return math.Pow(clamped/100, exponent)
}

var reportTypes = map[string]model.ReportType{
	"spam":       model.ReportSpam,
	"censorship": model.ReportCensorship,
	"unreliable": model.ReportUnreliable,
	"malicious":  model.ReportMalicious,
}

// Ingestor owns one long-lived subscription per configured source endpoint.
type Ingestor struct {
	store      Store
	trust      TrustLookup // nil disables the trust-weighted path entirely
	endpoints  []string
	kind       int
	exponent   float64
	trustFloor float64
	maxPerDay  int
}

// New constructs an Ingestor. trust may be nil, in which case every report
// gets the default unknown-trust weight.
func New(s Store, trust TrustLookup, endpoints []string, kind int, exponent, trustFloor float64, maxPerDay int) *Ingestor {
	return &Ingestor{
		store: s, trust: trust, endpoints: endpoints, kind: kind,
		exponent: exponent, trustFloor: trustFloor, maxPerDay: maxPerDay,
	}
}

// Run blocks until ctx is cancelled, maintaining one reconnecting
// subscription per endpoint.
func (i *Ingestor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, endpoint := range i.endpoints {
		wg.Add(1)
		go func(endpoint string) {
			defer wg.Done()
			i.subscribeLoop(ctx, endpoint)
		}(endpoint)
	}
	wg.Wait()
}

func (i *Ingestor) subscribeLoop(ctx context.Context, endpoint string) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		err := i.consumeEndpoint(ctx, endpoint)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			attempt = 0
			continue
		}

		logging.Warn("reportingest: %s: %v", endpoint, err)
		delay := backoffDelay(attempt)
		attempt++

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

func backoffDelay(attempt int) time.Duration {
	d := backoffInitial << attempt
	if d <= 0 || d > backoffCap {
		return backoffCap
	}
	return d
}

func (i *Ingestor) consumeEndpoint(ctx context.Context, endpoint string) error {
	relay, err := nostr.RelayConnect(ctx, endpoint)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer relay.Close()

	sub, err := relay.Subscribe(ctx, nostr.Filters{{
		Kinds: []int{i.kind},
		Tags:  nostr.TagMap{"L": {labelNamespace}},
	}})
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer sub.Unsub()

	for {
		select {
		case evt, ok := <-sub.Events:
			if !ok {
				return nil
			}
			i.handleEvent(ctx, evt)
		case <-sub.ClosedReason:
			return fmt.Errorf("subscription closed by relay")
		case <-ctx.Done():
			return nil
		}
	}
}

func (i *Ingestor) handleEvent(ctx context.Context, evt *nostr.Event) {
	if !nostrshape.Valid(evt) {
		return
	}

	reportType, ok := parseReportType(evt)
	if !ok {
		return
	}
	url := nostrshape.FirstTagValue(evt.Tags, "r")
	canonical, err := relayurl.Canonicalize(url)
	if err != nil {
		return
	}

	signed, err := evt.CheckSignature()
	if err != nil || !signed {
		return
	}

	weight := i.weightFor(ctx, evt.PubKey)
	if weight < 0 {
		// Below the trust floor: drop per §4.4.
		return
	}
	weight *= moderation.Assess(reportType, evt.Content)

	r := model.Report{
		EventID:             evt.ID,
		URL:                 canonical,
		ReporterPubkey:      evt.PubKey,
		Type:                reportType,
		Content:             evt.Content,
		Timestamp:           int64(evt.CreatedAt),
		ReporterTrustWeight: weight,
	}

	if _, err := i.store.PutReport(ctx, r, i.maxPerDay); err != nil {
		logging.Error("reportingest: store report: %v", err)
	}
}

// weightFor resolves the reporter's trust-derived weight, or -1 if the
// report should be dropped for falling below the trust floor.
func (i *Ingestor) weightFor(ctx context.Context, reporterPubkey string) float64 {
	if i.trust == nil {
		return defaultUnknownTrustWeight
	}
	score, ok := i.trust.Trust(ctx, reporterPubkey)
	if !ok {
		return defaultUnknownTrustWeight
	}
	if score < i.trustFloor {
		return -1
	}
	return ReportWeight(score, i.exponent)
}

// parseReportType finds an ["l", <type>, "relay-report"] tag with a
// recognized type value (§6).
func parseReportType(evt *nostr.Event) (model.ReportType, bool) {
	for _, tag := range evt.Tags {
		if len(tag) >= 3 && tag[0] == "l" && tag[2] == labelNamespace {
			if rt, ok := reportTypes[tag[1]]; ok {
				return rt, true
			}
		}
	}
	return "", false
}
