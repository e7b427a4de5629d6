// Package wot queries third-party trust-assertion endpoints about operator
// pubkeys and aggregates the results into a single rank (§4.6). The
// one-shot fetch-by-filter shape is grounded on mroxso-wotrlay's
// RankCache.contextVMResponse, which issues a bounded QuerySync against a
// cached *nostr.Relay rather than opening a subscription. Fetch also reuses
// RankCache.GetRank's singleflight.Group to collapse concurrent lookups for
// the same pubkey into one provider round-trip.
package wot

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"golang.org/x/sync/singleflight"

	"github.com/relaytrust/relaytrust/internal/logging"
	"github.com/relaytrust/relaytrust/internal/model"
)

const queryTimeout = 8 * time.Second

// Provider is one configured third-party assertion endpoint.
type Provider struct {
	Name     string
	Endpoint string
	Weight   float64 // 0 means "unset", treated as the default weight of 1
}

func (p Provider) weight() float64 {
	if p.Weight == 0 {
		return 1
	}
	return p.Weight
}

// Client fetches and aggregates third-party operator-trust assertions.
type Client struct {
	providers []Provider
	kind      int

	mu    sync.Mutex
	cache map[string]*nostr.Relay // endpoint -> reused connection

	// flight collapses concurrent Fetch calls for the same pubkey on this
	// Client into one provider round-trip. The service loop and the report
	// ingestor each construct their own Client, so calls from the two are
	// not collapsed together.
	flight singleflight.Group
}

// New constructs a Client. kind is the assertion event kind to query.
func New(providers []Provider, kind int) *Client {
	return &Client{providers: providers, kind: kind, cache: make(map[string]*nostr.Relay)}
}

// assertion is one provider's opinion, parsed from its latest matching event.
type assertion struct {
	provider string
	rank     float64 // 0-100
	at       nostr.Timestamp
}

// Trust implements reportingest.TrustLookup: it reports whether any
// provider responded at all.
func (c *Client) Trust(ctx context.Context, pubkey string) (float64, bool) {
	result, err := c.Fetch(ctx, pubkey)
	if err != nil || result.ProviderCount == 0 {
		return 0, false
	}
	return float64(result.Score), true
}

// Fetch queries every configured provider in parallel for its latest
// assertion about pubkey and aggregates them (§4.6).
func (c *Client) Fetch(ctx context.Context, pubkey string) (model.OperatorTrust, error) {
	if len(c.providers) == 0 {
		return model.OperatorTrust{Pubkey: pubkey}, nil
	}

	v, err, _ := c.flight.Do(pubkey, func() (any, error) {
		return c.fetchUncached(ctx, pubkey)
	})
	if err != nil {
		return model.OperatorTrust{}, err
	}
	return v.(model.OperatorTrust), nil
}

func (c *Client) fetchUncached(ctx context.Context, pubkey string) (model.OperatorTrust, error) {
	var wg sync.WaitGroup
	results := make([]*assertion, len(c.providers))

	for i, p := range c.providers {
		wg.Add(1)
		go func(i int, p Provider) {
			defer wg.Done()
			a, err := c.queryProvider(ctx, p, pubkey)
			if err != nil {
				logging.Debug("wot", "Fetch", "%s: %v", p.Name, err)
				return
			}
			results[i] = a
		}(i, p)
	}
	wg.Wait()

	var weightedSum, weightTotal float64
	var providerCount int
	var newest nostr.Timestamp
	for i, a := range results {
		if a == nil {
			continue
		}
		w := c.providers[i].weight()
		weightedSum += a.rank * w
		weightTotal += w
		providerCount++
		if a.at > newest {
			newest = a.at
		}
	}

	out := model.OperatorTrust{Pubkey: pubkey, ProviderCount: providerCount}
	if weightTotal > 0 {
		out.Score = int(math.Round(weightedSum / weightTotal))
		out.UpdatedAt = int64(newest)
	}
	out.Confidence = confidenceFor(providerCount)
	return out, nil
}

func confidenceFor(providerCount int) model.ConfidenceLabel {
	switch {
	case providerCount >= 3:
		return model.ConfidenceHigh
	case providerCount == 2:
		return model.ConfidenceMedium
	default:
		return model.ConfidenceLow
	}
}

func (c *Client) queryProvider(ctx context.Context, p Provider, pubkey string) (*assertion, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	relay, err := c.getRelay(ctx, p.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", p.Endpoint, err)
	}

	filter := nostr.Filter{
		Kinds: []int{c.kind},
		Tags:  nostr.TagMap{"p": {pubkey}},
		Limit: 50,
	}
	events, err := relay.QuerySync(ctx, filter)
	if err != nil {
		c.dropRelay(p.Endpoint)
		return nil, fmt.Errorf("query %s: %w", p.Endpoint, err)
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("no assertions from %s", p.Name)
	}

	latest := events[0]
	for _, e := range events[1:] {
		if e.CreatedAt > latest.CreatedAt {
			latest = e
		}
	}

	rank, ok := extractRank(latest)
	if !ok {
		return nil, fmt.Errorf("%s: assertion missing rank tag", p.Name)
	}
	return &assertion{provider: p.Name, rank: rank, at: latest.CreatedAt}, nil
}

// extractRank reads a numeric rank out of a ["rank", "<0-100>"] tag.
func extractRank(evt *nostr.Event) (float64, bool) {
	for _, tag := range evt.Tags {
		if len(tag) >= 2 && tag[0] == "rank" {
			var v float64
			if _, err := fmt.Sscanf(tag[1], "%f", &v); err == nil {
				if v < 0 {
					v = 0
				}
				if v > 100 {
					v = 100
				}
				return v, true
			}
		}
	}
	return 0, false
}

func (c *Client) getRelay(ctx context.Context, endpoint string) (*nostr.Relay, error) {
	c.mu.Lock()
	if r, ok := c.cache[endpoint]; ok && r.IsConnected() {
		c.mu.Unlock()
		return r, nil
	}
	c.mu.Unlock()

	r, err := nostr.RelayConnect(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[endpoint] = r
	c.mu.Unlock()
	return r, nil
}

func (c *Client) dropRelay(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.cache[endpoint]; ok {
		r.Close()
		delete(c.cache, endpoint)
	}
}

// Close releases every cached connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for endpoint, r := range c.cache {
		r.Close()
		delete(c.cache, endpoint)
	}
}
