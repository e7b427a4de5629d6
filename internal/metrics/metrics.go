// Package metrics exposes relaytrust's cycle, probe, publish, and API
// counters through Prometheus, grounded on the r3e-network/service_layer
// metrics package's shape (a process-wide Registry, CounterVec/HistogramVec
// pairs per concern, a promhttp.HandlerFor-backed /metrics endpoint) — the
// one pack repo that wires prometheus/client_golang end to end.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds every relaytrust collector.
	Registry = prometheus.NewRegistry()

	cyclesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "relaytrust",
		Subsystem: "service",
		Name:      "cycles_total",
		Help:      "Total number of evaluation cycles run.",
	})

	cycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "relaytrust",
		Subsystem: "service",
		Name:      "cycle_duration_seconds",
		Help:      "Duration of a full evaluation cycle.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	})

	probesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relaytrust",
		Subsystem: "prober",
		Name:      "probes_total",
		Help:      "Total number of relay probes attempted, by outcome.",
	}, []string{"reachable"})

	probeDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "relaytrust",
		Subsystem: "prober",
		Name:      "probe_duration_seconds",
		Help:      "Duration of a single relay probe.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"reachable"})

	publishesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relaytrust",
		Subsystem: "publisher",
		Name:      "assertions_total",
		Help:      "Total number of assertion publish decisions, by outcome.",
	}, []string{"outcome"})

	publishEndpointResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relaytrust",
		Subsystem: "pool",
		Name:      "endpoint_results_total",
		Help:      "Per-endpoint publish outcomes.",
	}, []string{"endpoint", "accepted"})

	wotRefreshTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relaytrust",
		Subsystem: "wot",
		Name:      "refreshes_total",
		Help:      "Total number of web-of-trust aggregate refreshes, by outcome.",
	}, []string{"outcome"})

	httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relaytrust",
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "Total HTTP requests served by the read API.",
	}, []string{"path", "status"})

	httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "relaytrust",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "Duration of HTTP requests served by the read API.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"path"})

	trackedRelays = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "relaytrust",
		Subsystem: "service",
		Name:      "tracked_relays",
		Help:      "Number of relays tracked in the most recent cycle.",
	})
)

func init() {
	Registry.MustRegister(
		cyclesTotal,
		cycleDuration,
		probesTotal,
		probeDuration,
		publishesTotal,
		publishEndpointResults,
		wotRefreshTotal,
		httpRequestsTotal,
		httpRequestDuration,
		trackedRelays,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler exposes the registered collectors for a /metrics route.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordCycle records one completed evaluation cycle's duration and
// relay count.
func RecordCycle(duration time.Duration, relayCount int) {
	cyclesTotal.Inc()
	cycleDuration.Observe(duration.Seconds())
	trackedRelays.Set(float64(relayCount))
}

// RecordProbe records one relay probe's outcome and duration.
func RecordProbe(reachable bool, duration time.Duration) {
	label := reachableLabel(reachable)
	probesTotal.WithLabelValues(label).Inc()
	probeDuration.WithLabelValues(label).Observe(duration.Seconds())
}

// RecordPublishOutcome records one relay's publish-workflow outcome:
// "published", "skipped", or "error".
func RecordPublishOutcome(outcome string) {
	publishesTotal.WithLabelValues(outcome).Inc()
}

// RecordEndpointResult records one RelayPool endpoint's send outcome.
func RecordEndpointResult(endpoint string, accepted bool) {
	publishEndpointResults.WithLabelValues(endpoint, boolLabel(accepted)).Inc()
}

// RecordWotRefresh records one WotClient aggregate refresh's outcome:
// "success" or "error".
func RecordWotRefresh(outcome string) {
	wotRefreshTotal.WithLabelValues(outcome).Inc()
}

// InstrumentHandler wraps an http.Handler with request-count and latency
// instrumentation, labeled by the request's canonical path.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		httpRequestsTotal.WithLabelValues(r.URL.Path, statusClass(rec.status)).Inc()
		httpRequestDuration.WithLabelValues(r.URL.Path).Observe(duration.Seconds())
	})
}

func reachableLabel(reachable bool) string {
	if reachable {
		return "true"
	}
	return "false"
}

func boolLabel(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
