// Package monitoringest subscribes to configured source endpoints and
// persists external monitor reachability/latency observations (§4.3). It
// reuses mroxso-wotrlay's nbd-wtf/go-nostr relay client and mirrors
// mroxso-wotrlay/rank.go's reconnect-on-failure style, generalized into an
// explicit exponential-backoff loop since this component, unlike that
// single cached lookup connection, must stay attached to many independent
// long-lived source endpoints for the life of the process.
package monitoringest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/relaytrust/relaytrust/internal/logging"
	"github.com/relaytrust/relaytrust/internal/model"
	"github.com/relaytrust/relaytrust/internal/nostrshape"
	"github.com/relaytrust/relaytrust/internal/relayurl"
)

// Store is the subset of *store.Store the ingestor writes through.
type Store interface {
	PutMonitorMetric(ctx context.Context, m model.MonitorMetric) error
	PutTrustedMonitor(ctx context.Context, pubkey string, seenAt int64) error
}

const (
	backoffInitial = time.Second
	backoffCap     = 60 * time.Second
)

// monitorPayload is the content body a monitor event carries: RTT
// measurements and the capability list it observed on the target relay.
type monitorPayload struct {
	RTTOpenMs    int64  `json:"rtt_open_ms"`
	RTTReadMs    int64  `json:"rtt_read_ms"`
	RTTWriteMs   int64  `json:"rtt_write_ms"`
	SupportedNIPs []int `json:"supported_nips"`
}

// Ingestor owns one long-lived subscription per configured source endpoint.
type Ingestor struct {
	store     Store
	endpoints []string
	kind      int
	sinceDays int
}

// New constructs an Ingestor. kind is the monitor-event kind (default
// 10166); sinceDays bounds the initial backfill request (default 90).
func New(s Store, endpoints []string, kind, sinceDays int) *Ingestor {
	return &Ingestor{store: s, endpoints: endpoints, kind: kind, sinceDays: sinceDays}
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
		delay := backoffInitial
		if err == nil {
			// consumeEndpoint only returns nil on a clean EOF after
			// successfully running for a while; still back off lightly so a
			// persistently-closing peer can't spin us hot.
			attempt = 0
		} else {
			logging.Warn("monitoringest: %s: %v", endpoint, err)
			delay = backoffDelay(attempt)
			attempt++
		}

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

	since := nostr.Timestamp(model.Now() - int64(i.sinceDays)*86400)
	sub, err := relay.Subscribe(ctx, nostr.Filters{{
		Kinds: []int{i.kind},
		Since: &since,
	}})
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer sub.Unsub()

	// The caller resets its attempt counter only when this returns nil (the
	// event stream ended). A CLOSED sent by the relay after a successful open
	// is returned as an error, so the counter keeps growing across such closes.
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
	ok, err := evt.CheckSignature()
	if err != nil || !ok {
		return
	}

	url := nostrshape.FirstTagValue(evt.Tags, "d")
	if url == "" {
		url = nostrshape.FirstTagValue(evt.Tags, "r")
	}
	canonical, err := relayurl.Canonicalize(url)
	if err != nil {
		return
	}

	var payload monitorPayload
	if err := json.Unmarshal([]byte(evt.Content), &payload); err != nil {
		return
	}

	m := model.MonitorMetric{
		EventID:       evt.ID,
		URL:           canonical,
		MonitorPubkey: evt.PubKey,
		Timestamp:     int64(evt.CreatedAt),
		RTTOpenMs:     payload.RTTOpenMs,
		RTTReadMs:     payload.RTTReadMs,
		RTTWriteMs:    payload.RTTWriteMs,
		Network:       nostrshape.FirstTagValue(evt.Tags, "n"),
		Capabilities:  payload.SupportedNIPs,
		Geohash:       nostrshape.FirstTagValue(evt.Tags, "g"),
	}

	if err := i.store.PutMonitorMetric(ctx, m); err != nil {
		logging.Error("monitoringest: store metric: %v", err)
		return
	}
	if err := i.store.PutTrustedMonitor(ctx, evt.PubKey, model.Now()); err != nil {
		logging.Error("monitoringest: store trusted monitor: %v", err)
	}
}

