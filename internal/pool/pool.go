// Package pool maintains one persistent WebSocket per publish endpoint
// (§4.10 RelayPool). Reconnection follows the same exponential-backoff
// shape as internal/monitoringest and internal/reportingest, capped the
// same way, and a connection actually waits out its backoff delay
// (gated behind a timer, same as those packages) before the next dial
// attempt instead of redialing at whatever pace the caller publishes at.
// Per-event acknowledgement rides on nbd-wtf/go-nostr's own Publish call,
// which already blocks until the relay's OK frame resolves or the
// context expires — the same publish-then-await shape mroxso-wotrlay's
// contextVMResponse uses for its QuerySync round trip.
package pool

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/relaytrust/relaytrust/internal/logging"
)

const (
	backoffInitial = time.Second
	backoffCap     = 60 * time.Second
	maxAttempts    = 10
	ackTimeout     = 10 * time.Second
)

// rateLimitHints are substrings relay OK messages use to signal they are
// throttling us (§4.10).
var rateLimitHints = []string{"rate", "too many", "slow down"}

// Connection tracks one persistent endpoint connection.
type Connection struct {
	Endpoint string

	mu               sync.Mutex
	relay            *nostr.Relay
	connected        bool
	reconnects       int
	dormant          bool
	nextAttempt      time.Time
	sendsThisMinute  int
	minuteStarted    time.Time
	rateLimitedUntil time.Time
}

func newConnection(endpoint string) *Connection {
	return &Connection{Endpoint: endpoint}
}

// Pool owns one Connection per configured publish endpoint.
type Pool struct {
	mu    sync.Mutex
	conns map[string]*Connection
}

// New constructs a Pool for the given endpoints. Connections are lazily
// dialed on first Publish.
func New(endpoints []string) *Pool {
	conns := make(map[string]*Connection, len(endpoints))
	for _, e := range endpoints {
		conns[e] = newConnection(e)
	}
	return &Pool{conns: conns}
}

// EndpointResult is one endpoint's outcome for a single publish attempt.
type EndpointResult struct {
	Endpoint string
	Accepted bool
	Err      error
}

// Publish sends evt to every non-dormant, non-rate-limited endpoint and
// waits (bounded by ackTimeout) for each endpoint's ack, returning one
// EndpointResult per configured endpoint.
func (p *Pool) Publish(ctx context.Context, evt *nostr.Event) []EndpointResult {
	p.mu.Lock()
	conns := make([]*Connection, 0, len(p.conns))
	for _, c := range p.conns {
		conns = append(conns, c)
	}
	p.mu.Unlock()

	results := make([]EndpointResult, len(conns))
	var wg sync.WaitGroup
	for i, c := range conns {
		wg.Add(1)
		go func(i int, c *Connection) {
			defer wg.Done()
			results[i] = c.publishOne(ctx, evt)
		}(i, c)
	}
	wg.Wait()
	return results
}

func (c *Connection) publishOne(ctx context.Context, evt *nostr.Event) EndpointResult {
	c.mu.Lock()
	if c.dormant {
		c.mu.Unlock()
		return EndpointResult{Endpoint: c.Endpoint, Err: fmt.Errorf("pool: %s is dormant after %d failed reconnects", c.Endpoint, maxAttempts)}
	}
	if !c.rateLimitedUntil.IsZero() && time.Now().Before(c.rateLimitedUntil) {
		c.mu.Unlock()
		return EndpointResult{Endpoint: c.Endpoint, Err: fmt.Errorf("pool: %s is rate-limited until %s", c.Endpoint, c.rateLimitedUntil)}
	}
	c.mu.Unlock()

	relay, err := c.ensureConnected(ctx)
	if err != nil {
		return EndpointResult{Endpoint: c.Endpoint, Err: err}
	}

	c.mu.Lock()
	c.recordSendLocked()
	c.mu.Unlock()

	ackCtx, cancel := context.WithTimeout(ctx, ackTimeout)
	defer cancel()

	if err := relay.Publish(ackCtx, *evt); err != nil {
		if isRateLimitHint(err.Error()) {
			c.mu.Lock()
			c.rateLimitedUntil = time.Now().Add(60 * time.Second)
			c.mu.Unlock()
		}
		return EndpointResult{Endpoint: c.Endpoint, Err: fmt.Errorf("pool: publish to %s: %w", c.Endpoint, err)}
	}

	return EndpointResult{Endpoint: c.Endpoint, Accepted: true}
}

func (c *Connection) recordSendLocked() {
	now := time.Now()
	if now.Sub(c.minuteStarted) > time.Minute {
		c.minuteStarted = now
		c.sendsThisMinute = 0
	}
	c.sendsThisMinute++
}

func (c *Connection) ensureConnected(ctx context.Context) (*nostr.Relay, error) {
	c.mu.Lock()
	if c.connected && c.relay != nil && c.relay.IsConnected() {
		r := c.relay
		c.mu.Unlock()
		return r, nil
	}
	wait := time.Until(c.nextAttempt)
	c.mu.Unlock()

	if wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	relay, err := nostr.RelayConnect(ctx, c.Endpoint)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.connected = false
		c.reconnects++
		if c.reconnects >= maxAttempts {
			c.dormant = true
		}
		delay := backoffDelay(c.reconnects - 1)
		c.nextAttempt = time.Now().Add(delay)
		logging.Warn("pool: %s: connect failed (attempt %d, retry in %s): %v", c.Endpoint, c.reconnects, delay, err)
		return nil, fmt.Errorf("pool: connect %s: %w", c.Endpoint, err)
	}

	c.relay = relay
	c.connected = true
	c.reconnects = 0
	c.dormant = false
	c.nextAttempt = time.Time{}
	return relay, nil
}

func isRateLimitHint(message string) bool {
	lower := strings.ToLower(message)
	for _, hint := range rateLimitHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

func backoffDelay(attempt int) time.Duration {
	d := backoffInitial << attempt
	if d <= 0 || d > backoffCap {
		return backoffCap
	}
	return d
}

// Close tears down every connection.
func (p *Pool) Close() {
	p.mu.Lock()
	conns := make([]*Connection, 0, len(p.conns))
	for _, c := range p.conns {
		conns = append(conns, c)
	}
	p.mu.Unlock()

	for _, c := range conns {
		c.mu.Lock()
		relay := c.relay
		c.mu.Unlock()
		if relay != nil {
			relay.Close()
		}
	}
}
