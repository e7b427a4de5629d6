// Command relaytrust runs the relay trust-evaluation service: it wires the
// Store, Prober, ingestors, identity/jurisdiction/WoT resolvers, Scorer,
// Publisher, and read API together and owns the process lifecycle. The
// startup/shutdown shape is lifted straight from mroxso-wotrlay's main.go: a
// signal.NotifyContext-derived context, an HTTP server run in a goroutine
// reporting to an error channel, and a select between ctx.Done() and that
// error channel driving a bounded graceful shutdown.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relaytrust/relaytrust/internal/api"
	"github.com/relaytrust/relaytrust/internal/config"
	"github.com/relaytrust/relaytrust/internal/logging"
	"github.com/relaytrust/relaytrust/internal/metrics"
	"github.com/relaytrust/relaytrust/internal/model"
	"github.com/relaytrust/relaytrust/internal/monitoringest"
	"github.com/relaytrust/relaytrust/internal/reportingest"
	"github.com/relaytrust/relaytrust/internal/service"
	"github.com/relaytrust/relaytrust/internal/store"
	"github.com/relaytrust/relaytrust/internal/web"
	"github.com/relaytrust/relaytrust/internal/wot"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file (optional; env vars always win)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("relaytrust: load config: %v", err)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			log.Printf("relaytrust: config error: %s", e)
		}
		log.Fatal("relaytrust: invalid configuration, exiting")
	}

	logging.SetVerbose(cfg.Logging.Verbose)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := store.Open(ctx, cfg.Database.Path)
	if err != nil {
		log.Fatalf("relaytrust: open store: %v", err)
	}
	defer db.Close()

	wotProviders := make([]wot.Provider, 0, len(cfg.WotProviders))
	for endpoint, weight := range cfg.WotProviders {
		wotProviders = append(wotProviders, wot.Provider{Name: endpoint, Endpoint: endpoint, Weight: weight})
	}
	wotClient := wot.New(wotProviders, 30382)

	var monitorIngestor *monitoringest.Ingestor
	var reportIngestor *reportingest.Ingestor
	if len(cfg.Sources.Endpoints) > 0 {
		monitorIngestor = monitoringest.New(db, cfg.Sources.Endpoints, cfg.Sources.MonitorEventKind, cfg.Sources.MonitorSinceDays)
		reportIngestor = reportingest.New(db, wotClient, cfg.Sources.Endpoints, cfg.Sources.ReportEventKind,
			cfg.ReportExponent, cfg.ReportTrustFloor, cfg.MaxReportsPerReporterPerRelayPerDay)
	}

	svc := service.New(cfg, db, monitorIngestor, reportIngestor)

	apiOpts := api.Options{
		GlobalPerMinute:   cfg.API.GlobalRateLimitPerMin,
		ListPerMinute:     cfg.API.ListRateLimitPerMin,
		RelayCacheTTL:     time.Duration(cfg.API.RelayCacheTTLSeconds) * time.Second,
		AggregateCacheTTL: time.Duration(cfg.API.AggregateCacheTTLSeconds) * time.Second,
	}
	apiServer := api.New(db, apiOpts, model.Now)

	landing := web.ServeLandingPage(web.Info{
		Name:             cfg.Provider.Name,
		AlgorithmVersion: cfg.Provider.AlgorithmVersion,
		AlgorithmURL:     cfg.Provider.AlgorithmURL,
	})

	mux := http.NewServeMux()
	mux.Handle("/favicon.ico", web.ServeFavicon())
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", landing)
	mux.Handle("/relays", apiServer.Handler())
	mux.Handle("/relays/", apiServer.Handler())
	mux.Handle("/jurisdictions", apiServer.Handler())
	mux.Handle("/stats", apiServer.Handler())
	mux.Handle("/rankings", apiServer.Handler())
	mux.Handle("/analytics", apiServer.Handler())

	httpServer := &http.Server{
		Addr:    cfg.API.Addr,
		Handler: metrics.InstrumentHandler(mux),
	}

	exitErr := make(chan error, 1)
	go func() {
		log.Printf("relaytrust: listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			exitErr <- err
		}
	}()

	go svc.Run(ctx)

	select {
	case <-ctx.Done():
		log.Printf("relaytrust: shutdown signal received")
	case err := <-exitErr:
		log.Printf("relaytrust: http server error: %v", err)
	}

	svc.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("relaytrust: http server shutdown error: %v", err)
	}

	log.Printf("relaytrust: shutdown complete")
}
