// Package service runs relaytrust's cycle loop (§4.11): the startup
// sequence, the probe/score/publish cycle run on a fixed interval, and
// graceful shutdown. It is the wiring layer that turns the Store,
// Prober, ingestors, resolvers, Scorer, and Publisher into a running
// process, the same role mroxso-wotrlay's main.go plays for its relay
// server loop — generalized from "serve websocket connections" to
// "evaluate every tracked relay on a schedule". Shutdown runs under a
// watchdog timer that force-exits the process if teardown hangs.
package service

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/relaytrust/relaytrust/internal/config"
	"github.com/relaytrust/relaytrust/internal/jurisdiction"
	"github.com/relaytrust/relaytrust/internal/logging"
	"github.com/relaytrust/relaytrust/internal/model"
	"github.com/relaytrust/relaytrust/internal/monitoringest"
	"github.com/relaytrust/relaytrust/internal/operator"
	"github.com/relaytrust/relaytrust/internal/pool"
	"github.com/relaytrust/relaytrust/internal/prober"
	"github.com/relaytrust/relaytrust/internal/publisher"
	"github.com/relaytrust/relaytrust/internal/reportingest"
	"github.com/relaytrust/relaytrust/internal/scorer"
	"github.com/relaytrust/relaytrust/internal/store"
	"github.com/relaytrust/relaytrust/internal/wot"
)

const (
	observationWindowSeconds = 30 * 86400
	staleTrustAfterSeconds   = 24 * 3600
	wotRefreshBatch          = 20

	// shutdownWatchdog bounds the entire teardown sequence; a wedged
	// ingestor goroutine or pool close must not hang the process forever.
	shutdownWatchdog = 30 * time.Second
)

// Store is the subset of *store.Store the cycle loop reads and writes
// through directly (beyond what Publisher/ingestors already wrap).
type Store interface {
	PutProbe(ctx context.Context, o model.ProbeObservation) error
	AllProbes(ctx context.Context, windowSeconds int64, now int64) (map[string][]model.ProbeObservation, error)
	LatestProbePerRelay(ctx context.Context) (map[string]model.ProbeObservation, error)
	ProbeStats(ctx context.Context, windowSeconds, now int64) (map[string]store.ProbeStatsRow, error)
	Nip66Aggregates(ctx context.Context, windowSeconds, now int64) (map[string]store.Nip66Aggregate, error)
	AllReportStats(ctx context.Context, windowSeconds, now int64) (map[string]store.ReportStatsRow, error)
	AllJurisdictions(ctx context.Context) (map[string]model.JurisdictionInfo, error)
	AllOperatorResolutions(ctx context.Context) (map[string]model.OperatorResolution, error)
	GetOperatorTrust(ctx context.Context, pubkey string) (model.OperatorTrust, bool, error)
	PutOperatorTrust(ctx context.Context, t model.OperatorTrust) error
	PutOperatorResolution(ctx context.Context, o model.OperatorResolution) error
	PutJurisdiction(ctx context.Context, j model.JurisdictionInfo) error
	PutScoreSnapshot(ctx context.Context, sn model.ScoreSnapshot) error
	StaleOperatorTrustPubkeys(ctx context.Context, knownPubkeys []string, cutoff int64) ([]string, error)
	TrackedURLs(ctx context.Context) ([]string, error)
	Cleanup(ctx context.Context, retentionDays int, now int64) (map[string]int, error)
	Checkpoint(ctx context.Context) error
}

// Service owns the cycle loop and the long-running ingestors.
type Service struct {
	cfg       config.Config
	store     Store
	prober    *prober.Prober
	operator  *operator.Resolver
	juris     *jurisdiction.Resolver
	wotClient *wot.Client
	pool      *pool.Pool
	publisher *publisher.Publisher
	scheduler *publisher.Scheduler

	monitorIngestor *monitoringest.Ingestor
	reportIngestor  *reportingest.Ingestor

	mu              sync.Mutex
	lastCleanup     int64
	lastCheckpoint  int64

	stop chan struct{}
	done chan struct{}
}

// New wires every component into a runnable Service. The caller remains
// responsible for opening and eventually closing the Store.
func New(cfg config.Config, s Store, monitorIngestor *monitoringest.Ingestor, reportIngestor *reportingest.Ingestor) *Service {
	p := prober.New(prober.DefaultTimeouts())
	opResolver := operator.New()
	jResolver := jurisdiction.New(s, "http://ip-api.com/json", 7*86400)

	wotProviders := make([]wot.Provider, 0, len(cfg.WotProviders))
	for endpoint, weight := range cfg.WotProviders {
		wotProviders = append(wotProviders, wot.Provider{Name: endpoint, Endpoint: endpoint, Weight: weight})
	}
	wotClient := wot.New(wotProviders, 30382)

	relayPool := pool.New(cfg.Publishing.Endpoints)

	return &Service{
		cfg:             cfg,
		store:           s,
		prober:          p,
		operator:        opResolver,
		juris:           jResolver,
		wotClient:       wotClient,
		pool:            relayPool,
		monitorIngestor: monitorIngestor,
		reportIngestor:  reportIngestor,
		stop:            make(chan struct{}),
		done:            make(chan struct{}),
	}
}

// Run starts the ingestors (if configured) and the cycle loop, blocking
// until ctx is cancelled or Stop is called.
func (svc *Service) Run(ctx context.Context) {
	defer close(svc.done)

	cycleCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if svc.pool != nil {
		svc.scheduler = publisher.NewScheduler(cycleCtx, svc.pool, time.Duration(svc.cfg.Publishing.MinDelayMs)*time.Millisecond)
		svc.publisher = publisher.New(svc.store, svc.scheduler, publisher.Options{
			MaterialChangeThreshold: svc.cfg.Publishing.MaterialChangeThreshold,
			MinObservations:         svc.cfg.Publishing.MinObservations,
			AssertionKind:           svc.cfg.Publishing.AssertionKind,
			AlgorithmVersion:        svc.cfg.Provider.AlgorithmVersion,
			AlgorithmURL:            svc.cfg.Provider.AlgorithmURL,
			PrivateKeyHex:           svc.cfg.Provider.PrivateKey,
		})
	}

	if svc.monitorIngestor != nil {
		go svc.monitorIngestor.Run(cycleCtx)
	}
	if svc.reportIngestor != nil {
		go svc.reportIngestor.Run(cycleCtx)
	}

	svc.runCycle(cycleCtx)

	ticker := time.NewTicker(svc.cfg.CycleInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			svc.shutdownGuarded()
			return
		case <-svc.stop:
			svc.shutdownGuarded()
			return
		case <-ticker.C:
			svc.runCycle(cycleCtx)
		}
	}
}

// Stop requests a graceful shutdown; Run returns once cleanup completes or
// the shutdown watchdog force-exits the process, whichever comes first.
func (svc *Service) Stop() {
	close(svc.stop)
	<-svc.done
}

// shutdownGuarded runs shutdown with a watchdog: if teardown hangs past
// shutdownWatchdog (a stuck ingestor goroutine, a wedged pool close), it
// logs and force-exits rather than leaving the process stuck forever.
func (svc *Service) shutdownGuarded() {
	done := make(chan struct{})
	go func() {
		defer close(done)
		svc.shutdown()
	}()

	select {
	case <-done:
	case <-time.After(shutdownWatchdog):
		logging.Error("service: shutdown exceeded %s, forcing exit", shutdownWatchdog)
		os.Exit(1)
	}
}

func (svc *Service) shutdown() {
	if svc.scheduler != nil {
		svc.scheduler.Stop()
	}
	if svc.pool != nil {
		svc.pool.Close()
	}
	if svc.wotClient != nil {
		svc.wotClient.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := svc.store.Checkpoint(ctx); err != nil {
		logging.Error("service: checkpoint on shutdown: %v", err)
	}
}

// runCycle executes one full pass: probe, score, WoT refresh, publish,
// retention, checkpoint (§4.11).
func (svc *Service) runCycle(ctx context.Context) {
	now := model.Now()
	logging.Info("service: cycle starting at %d", now)

	urls, err := svc.targets(ctx)
	if err != nil {
		logging.Error("service: resolve targets: %v", err)
		return
	}

	svc.probeAll(ctx, urls, now)
	svc.refreshOperatorsAndJurisdictions(ctx, urls, now)
	svc.refreshStaleTrust(ctx, now)
	svc.scoreAndPublish(ctx, urls, now)

	svc.maybeCleanup(ctx, now)
	svc.maybeCheckpoint(ctx, now)

	logging.Info("service: cycle complete")
}

func (svc *Service) targets(ctx context.Context) ([]string, error) {
	if len(svc.cfg.Targets.URLs) > 0 {
		return svc.cfg.Targets.URLs, nil
	}
	return svc.store.TrackedURLs(ctx)
}

// probeAll fans out probes in bounded batches with a settle delay between
// batches, per §5's "no more than N in-flight probes at once" rule.
func (svc *Service) probeAll(ctx context.Context, urls []string, now int64) {
	concurrency := svc.cfg.Probing.Concurrency
	if concurrency <= 0 {
		concurrency = 30
	}
	settle := time.Duration(svc.cfg.Probing.SettleDelayMs) * time.Millisecond

	for start := 0; start < len(urls); start += concurrency {
		end := start + concurrency
		if end > len(urls) {
			end = len(urls)
		}
		batch := urls[start:end]

		var wg sync.WaitGroup
		for _, u := range batch {
			wg.Add(1)
			go func(u string) {
				defer wg.Done()
				obs := svc.prober.Probe(ctx, u, now)
				if err := svc.store.PutProbe(ctx, obs); err != nil {
					logging.Error("service: store probe for %s: %v", u, err)
				}
			}(u)
		}
		wg.Wait()

		if end < len(urls) {
			select {
			case <-time.After(settle):
			case <-ctx.Done():
				return
			}
		}
	}
}

// refreshOperatorsAndJurisdictions re-resolves operator identity and
// jurisdiction for every tracked relay, using the latest probe's metadata
// blob as the operator-resolution input.
func (svc *Service) refreshOperatorsAndJurisdictions(ctx context.Context, urls []string, now int64) {
	latest, err := svc.store.LatestProbePerRelay(ctx)
	if err != nil {
		logging.Error("service: latest probes: %v", err)
		return
	}

	for _, u := range urls {
		obs, ok := latest[u]
		var metadata []byte
		if ok {
			metadata = obs.Metadata
		}

		res := svc.operator.Resolve(ctx, u, metadata, now)
		if err := svc.store.PutOperatorResolution(ctx, res); err != nil {
			logging.Error("service: store operator resolution for %s: %v", u, err)
		}

		j, err := svc.juris.Resolve(ctx, u, now)
		if err != nil {
			logging.Error("service: resolve jurisdiction for %s: %v", u, err)
			continue
		}
		if err := svc.store.PutJurisdiction(ctx, j); err != nil {
			logging.Error("service: store jurisdiction for %s: %v", u, err)
		}
	}
}

// refreshStaleTrust re-fetches WoT aggregates for operator pubkeys whose
// cached trust record is missing or older than 24h, in bounded batches.
func (svc *Service) refreshStaleTrust(ctx context.Context, now int64) {
	operators, err := svc.store.AllOperatorResolutions(ctx)
	if err != nil {
		logging.Error("service: list operator resolutions: %v", err)
		return
	}

	known := make([]string, 0, len(operators))
	seen := make(map[string]bool)
	for _, o := range operators {
		if o.OperatorPubkey == "" || seen[o.OperatorPubkey] {
			continue
		}
		seen[o.OperatorPubkey] = true
		known = append(known, o.OperatorPubkey)
	}

	stale, err := svc.store.StaleOperatorTrustPubkeys(ctx, known, now-staleTrustAfterSeconds)
	if err != nil {
		logging.Error("service: stale trust pubkeys: %v", err)
		return
	}

	for start := 0; start < len(stale); start += wotRefreshBatch {
		end := start + wotRefreshBatch
		if end > len(stale) {
			end = len(stale)
		}
		batch := stale[start:end]

		var wg sync.WaitGroup
		for _, pk := range batch {
			wg.Add(1)
			go func(pk string) {
				defer wg.Done()
				trust, err := svc.wotClient.Fetch(ctx, pk)
				if err != nil {
					logging.Error("service: fetch trust for %s: %v", pk, err)
					return
				}
				trust.Pubkey = pk
				trust.UpdatedAt = now
				if err := svc.store.PutOperatorTrust(ctx, trust); err != nil {
					logging.Error("service: store trust for %s: %v", pk, err)
				}
			}(pk)
		}
		wg.Wait()
	}
}

// scoreAndPublish assembles each relay's Bundle from the bulk Store
// queries, scores it, records the snapshot, and publishes if enabled.
func (svc *Service) scoreAndPublish(ctx context.Context, urls []string, now int64) {
	probes, err := svc.store.AllProbes(ctx, observationWindowSeconds, now)
	if err != nil {
		logging.Error("service: bulk probes: %v", err)
		return
	}
	probeStats, err := svc.store.ProbeStats(ctx, observationWindowSeconds, now)
	if err != nil {
		logging.Error("service: probe stats: %v", err)
		return
	}
	nip66, err := svc.store.Nip66Aggregates(ctx, observationWindowSeconds, now)
	if err != nil {
		logging.Error("service: nip66 aggregates: %v", err)
		return
	}
	reportStats, err := svc.store.AllReportStats(ctx, observationWindowSeconds, now)
	if err != nil {
		logging.Error("service: report stats: %v", err)
		return
	}
	jurisdictions, err := svc.store.AllJurisdictions(ctx)
	if err != nil {
		logging.Error("service: jurisdictions: %v", err)
		return
	}
	operators, err := svc.store.AllOperatorResolutions(ctx)
	if err != nil {
		logging.Error("service: operator resolutions: %v", err)
		return
	}

	for i, u := range urls {
		b := buildBundle(u, probes, probeStats, nip66, reportStats, jurisdictions, operators)

		if b.Operator != nil && b.Operator.OperatorPubkey != "" {
			if trust, found, err := svc.store.GetOperatorTrust(ctx, b.Operator.OperatorPubkey); err == nil && found {
				b.OperatorTrust = &trust
			}
		}

		result := scorer.Score(b, now)

		snapshot := model.ScoreSnapshot{
			URL:              u,
			Timestamp:        now,
			Overall:          result.Overall,
			Reliability:      result.Reliability,
			Quality:          result.Quality,
			Accessibility:    result.Accessibility,
			OperatorTrust:    result.OperatorScore,
			Confidence:       result.Confidence,
			ObservationCount: result.ObservationCount,
		}
		if err := svc.store.PutScoreSnapshot(ctx, snapshot); err != nil {
			logging.Error("service: store score snapshot for %s: %v", u, err)
		}

		if svc.publisher != nil && svc.cfg.Publishing.Enabled {
			if err := svc.publisher.Publish(ctx, u, result, b.Operator, b.Jurisdiction, now, len(urls)-i); err != nil {
				logging.Error("service: publish for %s: %v", u, err)
			}
		}
	}
}

func buildBundle(
	url string,
	probes map[string][]model.ProbeObservation,
	probeStats map[string]store.ProbeStatsRow,
	nip66 map[string]store.Nip66Aggregate,
	reportStats map[string]store.ReportStatsRow,
	jurisdictions map[string]model.JurisdictionInfo,
	operators map[string]model.OperatorResolution,
) *scorer.Bundle {
	b := &scorer.Bundle{URL: url, WindowDays: observationWindowSeconds / 86400}

	if ps, ok := probes[url]; ok {
		b.Probes = ps
		if len(ps) > 0 {
			last := ps[len(ps)-1]
			b.LatestProbe = &last
		}
	}
	if row, ok := probeStats[url]; ok {
		b.ProbeStats = &scorer.ProbeStats{
			Count:          row.Count,
			ReachableCount: row.ReachableCount,
			MeanConnectMs:  row.MeanConnectMs,
			MeanReadMs:     row.MeanReadMs,
			MeanMetadataMs: row.MeanMetadataMs,
		}
	}
	if agg, ok := nip66[url]; ok {
		b.Nip66 = &scorer.Nip66Aggregate{
			MetricCount:            agg.MetricCount,
			DistinctMonitorCount:   agg.DistinctMonitorCount,
			MeanRTTOpenMs:          agg.MeanRTTOpenMs,
			MeanRTTReadMs:          agg.MeanRTTReadMs,
			MeanRTTWriteMs:         agg.MeanRTTWriteMs,
			FirstSeen:              agg.FirstSeen,
			LastSeen:               agg.LastSeen,
			LatencyPercentileScore: agg.LatencyPercentileScore,
		}
	}
	if rep, ok := reportStats[url]; ok {
		b.ReportStats = &scorer.ReportStats{
			Total:          rep.Total,
			WeightedTotal:  rep.WeightedTotal,
			ByType:         rep.ByType,
			WeightedByType: rep.WeightedByType,
		}
	}
	if j, ok := jurisdictions[url]; ok {
		b.Jurisdiction = &j
	}
	if o, ok := operators[url]; ok {
		b.Operator = &o
	}

	return b
}

func (svc *Service) maybeCleanup(ctx context.Context, now int64) {
	svc.mu.Lock()
	due := now-svc.lastCleanup >= 86400
	svc.mu.Unlock()
	if !due {
		return
	}

	counts, err := svc.store.Cleanup(ctx, svc.cfg.Intervals.RetentionDays, now)
	if err != nil {
		logging.Error("service: retention cleanup: %v", err)
		return
	}
	svc.mu.Lock()
	svc.lastCleanup = now
	svc.mu.Unlock()
	logging.Info("service: retention cleanup removed %v", counts)
}

func (svc *Service) maybeCheckpoint(ctx context.Context, now int64) {
	interval := int64(svc.cfg.CheckpointInterval().Seconds())
	svc.mu.Lock()
	due := now-svc.lastCheckpoint >= interval
	svc.mu.Unlock()
	if !due {
		return
	}

	if err := svc.store.Checkpoint(ctx); err != nil {
		logging.Error("service: checkpoint: %v", err)
		return
	}
	svc.mu.Lock()
	svc.lastCheckpoint = now
	svc.mu.Unlock()
}
