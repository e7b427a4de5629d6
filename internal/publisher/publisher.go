// Package publisher implements the per-relay publish workflow and its
// pacing scheduler (§4.10). The priority queue is a container/heap wrapper:
// ordered work with no third-party priority-queue dependency pulled in,
// since container/heap is what the standard library itself offers for
// exactly this.
package publisher

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/relaytrust/relaytrust/internal/assertion"
	"github.com/relaytrust/relaytrust/internal/logging"
	"github.com/relaytrust/relaytrust/internal/model"
	"github.com/relaytrust/relaytrust/internal/pool"
	"github.com/relaytrust/relaytrust/internal/scorer"
)

// Store is the subset of *store.Store the publisher needs.
type Store interface {
	GetPublishedAssertion(ctx context.Context, url string) (model.PublishedAssertion, bool, error)
	PutPublishedAssertion(ctx context.Context, p model.PublishedAssertion) error
}

// Pool is the subset of *pool.Pool the publisher dispatches through.
type Pool interface {
	Publish(ctx context.Context, evt *nostr.Event) []pool.EndpointResult
}

// Counters tracks the publish/skip outcomes for a cycle's observability.
type Counters struct {
	mu        sync.Mutex
	Published int
	Skipped   int
}

func (c *Counters) incPublished() {
	c.mu.Lock()
	c.Published++
	c.mu.Unlock()
}

func (c *Counters) incSkipped() {
	c.mu.Lock()
	c.Skipped++
	c.mu.Unlock()
}

// Options configures the per-relay publish workflow (§4.10 steps 2-4).
type Options struct {
	MaterialChangeThreshold int
	MinObservations         int
	AssertionKind           int
	AlgorithmVersion        string
	AlgorithmURL            string
	PrivateKeyHex           string
}

// Publisher runs the per-relay publish workflow, serialized per url (§5:
// "publishes for the same url are strictly serialized").
type Publisher struct {
	store     Store
	scheduler *Scheduler
	opts      Options
	counters  Counters

	mu      sync.Mutex
	perURL  map[string]*sync.Mutex
}

// New constructs a Publisher backed by a running Scheduler.
func New(s Store, scheduler *Scheduler, opts Options) *Publisher {
	return &Publisher{store: s, scheduler: scheduler, opts: opts, perURL: make(map[string]*sync.Mutex)}
}

func (p *Publisher) lockFor(url string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.perURL[url]
	if !ok {
		m = &sync.Mutex{}
		p.perURL[url] = m
	}
	return m
}

// Publish runs steps 1-6 of §4.10 for one relay. priority orders this
// relay's item in the scheduler queue (higher runs sooner).
func (p *Publisher) Publish(ctx context.Context, url string, result scorer.Result, operator *model.OperatorResolution, jurisdiction *model.JurisdictionInfo, now int64, priority int) error {
	lock := p.lockFor(url)
	lock.Lock()
	defer lock.Unlock()

	prior, hasPrior, err := p.store.GetPublishedAssertion(ctx, url)
	if err != nil {
		return err
	}

	if !isMaterialChange(prior, hasPrior, result, p.opts.MaterialChangeThreshold) {
		p.counters.incSkipped()
		return nil
	}
	if result.ObservationCount < p.opts.MinObservations {
		p.counters.incSkipped()
		return nil
	}

	a := assertion.Build(url, result, operator, jurisdiction, p.opts.AlgorithmVersion, p.opts.AlgorithmURL, now)
	evt, err := assertion.Sign(a, p.opts.AssertionKind, p.opts.PrivateKeyHex, now)
	if err != nil {
		return err
	}

	settled := p.scheduler.Enqueue(ctx, priority, evt)
	results := <-settled

	anySuccess := false
	for _, r := range results {
		if r.Err == nil && r.Accepted {
			anySuccess = true
			break
		}
	}
	if !anySuccess {
		p.counters.incSkipped()
		logging.Warn("publisher: %s: no endpoint accepted the assertion", url)
		return nil
	}

	published := model.PublishedAssertion{
		URL:              url,
		EventID:          evt.ID,
		Score:            result.Overall,
		Confidence:       result.Confidence,
		ObservationCount: result.ObservationCount,
		PublishedAt:      now,
	}
	if err := p.store.PutPublishedAssertion(ctx, published); err != nil {
		return err
	}
	p.counters.incPublished()
	return nil
}

// Counters returns a snapshot of the publish/skip totals.
func (p *Publisher) Counters() (published, skipped int) {
	p.counters.mu.Lock()
	defer p.counters.mu.Unlock()
	return p.counters.Published, p.counters.Skipped
}

// isMaterialChange implements §4.10 step 2 / §8.8's gate.
func isMaterialChange(prior model.PublishedAssertion, hasPrior bool, result scorer.Result, threshold int) bool {
	if !hasPrior {
		return true
	}
	if abs(result.Overall-prior.Score) >= threshold {
		return true
	}
	if result.Confidence != prior.Confidence {
		return true
	}
	if crossesConfidenceBoundary(prior.Score, result.Overall) {
		return true
	}
	if prior.ObservationCount > 0 && result.ObservationCount >= 2*prior.ObservationCount {
		return true
	}
	return false
}

// scoreBoundaries are the score bucket edges checked by
// crossesConfidenceBoundary: an overall score that moves across either edge
// between the last published assertion and this cycle counts as a material
// change (§4.10 step 2).
var scoreBoundaries = []int{40, 70}

func crossesConfidenceBoundary(before, after int) bool {
	for _, b := range scoreBoundaries {
		if (before < b) != (after < b) {
			return true
		}
	}
	return false
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// item is one queued publish job.
type item struct {
	priority int
	seq      int64
	evt      *nostr.Event
	done     chan []pool.EndpointResult
}

type itemHeap []*item

func (h itemHeap) Len() int { return len(h) }
func (h itemHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *itemHeap) Push(x any)   { *h = append(*h, x.(*item)) }
func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

// Scheduler is the priority-ordered publish drain (§4.10 PublishScheduler):
// a single serialized task paced by minDelay between successive sends.
type Scheduler struct {
	pool     Pool
	minDelay time.Duration

	mu   sync.Mutex
	cond *sync.Cond
	h    itemHeap
	seq  int64

	closed bool
}

// NewScheduler constructs a Scheduler and starts its drain goroutine. Call
// Stop to shut it down.
func NewScheduler(ctx context.Context, p Pool, minDelay time.Duration) *Scheduler {
	s := &Scheduler{pool: p, minDelay: minDelay}
	s.cond = sync.NewCond(&s.mu)
	go s.drain(ctx)
	return s
}

// Enqueue is non-blocking; it returns a channel that receives the
// per-endpoint results once the item has been sent and settled.
func (s *Scheduler) Enqueue(ctx context.Context, priority int, evt *nostr.Event) <-chan []pool.EndpointResult {
	done := make(chan []pool.EndpointResult, 1)

	s.mu.Lock()
	s.seq++
	heap.Push(&s.h, &item{priority: priority, seq: s.seq, evt: evt, done: done})
	s.mu.Unlock()
	s.cond.Signal()

	return done
}

func (s *Scheduler) drain(ctx context.Context) {
	for {
		s.mu.Lock()
		for len(s.h) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed && len(s.h) == 0 {
			s.mu.Unlock()
			return
		}
		it := heap.Pop(&s.h).(*item)
		s.mu.Unlock()

		if ctx.Err() != nil {
			it.done <- nil
			continue
		}

		results := s.pool.Publish(ctx, it.evt)
		it.done <- results

		select {
		case <-time.After(s.minDelay):
		case <-ctx.Done():
		}
	}
}

// Stop signals the drain loop to exit once its queue is empty.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cond.Broadcast()
}
