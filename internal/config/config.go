// Package config loads relaytrust's structured configuration document (§6):
// sections provider, targets, sources, publishing, probing, intervals,
// logging, database, api. It mirrors mroxso-wotrlay's godotenv + os.Getenv
// overlay (its main.go's loadConfig), generalized to first populate defaults
// from an optional YAML document and then let environment variables win,
// exactly the precedence mroxso-wotrlay gives explicit env vars over
// defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Provider describes this service's own signing identity and the
// algorithm-version metadata stamped onto every assertion (§4.9).
type Provider struct {
	PrivateKey     string `yaml:"privateKey"`
	Name           string `yaml:"name"`
	AlgorithmVersion string `yaml:"algorithmVersion"`
	AlgorithmURL   string `yaml:"algorithmUrl"`
}

// Targets lists the relays to track, or asks the service to discover them.
type Targets struct {
	URLs                []string `yaml:"urls"`
	DiscoverFromMonitors bool    `yaml:"discoverFromMonitors"`
}

// Sources lists external WS endpoints MonitorIngestor and ReportIngestor
// subscribe to, and the event kinds each filters for.
type Sources struct {
	Endpoints        []string `yaml:"endpoints"`
	MonitorEventKind int      `yaml:"monitorEventKind"`
	ReportEventKind  int      `yaml:"reportEventKind"`
	MonitorSinceDays int      `yaml:"monitorSinceDays"`
}

// Publishing controls the Publisher/RelayPool (§4.10).
type Publishing struct {
	Enabled                 bool     `yaml:"enabled"`
	Endpoints               []string `yaml:"endpoints"`
	MaterialChangeThreshold int      `yaml:"materialChangeThreshold"`
	MinObservations         int      `yaml:"minObservations"`
	MinDelayMs              int      `yaml:"minDelayMs"`
	AssertionKind           int      `yaml:"assertionKind"`
}

// Probing controls the per-cycle probe fan-out (§4.2, §5).
type Probing struct {
	Concurrency      int `yaml:"concurrency"`
	SettleDelayMs    int `yaml:"settleDelayMs"`
	ConnectTimeoutMs int `yaml:"connectTimeoutMs"`
	MetadataTimeoutMs int `yaml:"metadataTimeoutMs"`
	OnionConnectTimeoutMs int `yaml:"onionConnectTimeoutMs"`
	OnionMetadataTimeoutMs int `yaml:"onionMetadataTimeoutMs"`
}

// Intervals controls the service loop cadence (§4.11).
type Intervals struct {
	CycleSeconds     int `yaml:"cycleSeconds"`
	RetentionDays    int `yaml:"retentionDays"`
	CheckpointMinutes int `yaml:"checkpointMinutes"`
}

// Logging controls verbosity (girino-derived, see internal/logging).
type Logging struct {
	Verbose string `yaml:"verbose"`
	Debug   bool   `yaml:"debug"`
}

// Database points at the embedded analytic store file.
type Database struct {
	Path string `yaml:"path"`
}

// API controls the read-only HTTP surface (§6).
type API struct {
	Addr                string `yaml:"addr"`
	GlobalRateLimitPerMin int  `yaml:"globalRateLimitPerMin"`
	ListRateLimitPerMin   int  `yaml:"listRateLimitPerMin"`
	RelayCacheTTLSeconds  int  `yaml:"relayCacheTtlSeconds"`
	AggregateCacheTTLSeconds int `yaml:"aggregateCacheTtlSeconds"`
}

// Config is the root structured document.
type Config struct {
	Provider   Provider   `yaml:"provider"`
	Targets    Targets    `yaml:"targets"`
	Sources    Sources    `yaml:"sources"`
	Publishing Publishing `yaml:"publishing"`
	Probing    Probing    `yaml:"probing"`
	Intervals  Intervals  `yaml:"intervals"`
	Logging    Logging    `yaml:"logging"`
	Database   Database   `yaml:"database"`
	API        API        `yaml:"api"`

	// WotProviders maps a WoT assertion-provider relay endpoint to its
	// aggregation weight (§4.6). Defaults to weight 1 for every endpoint
	// when unset.
	WotProviders map[string]float64 `yaml:"wotProviders"`

	// ReportExponent is the trust->weight exponent from §4.4 (default 2).
	ReportExponent float64 `yaml:"reportExponent"`
	// ReportTrustFloor: reports from reporters below this trust are dropped.
	ReportTrustFloor float64 `yaml:"reportTrustFloor"`
	// MaxReportsPerReporterPerRelayPerDay enforces the §3 Report invariant.
	MaxReportsPerReporterPerRelayPerDay int `yaml:"maxReportsPerReporterPerRelayPerDay"`
}

func defaults() Config {
	return Config{
		Provider: Provider{
			Name:             "relaytrust",
			AlgorithmVersion: "1.0.0",
			AlgorithmURL:     "https://github.com/relaytrust/relaytrust",
		},
		Publishing: Publishing{
			MaterialChangeThreshold: 3,
			MinObservations:         1,
			MinDelayMs:              2000,
			AssertionKind:           30166,
		},
		Sources: Sources{
			MonitorEventKind: 10166,
			ReportEventKind:  1985,
			MonitorSinceDays: 90,
		},
		Probing: Probing{
			Concurrency:            30,
			SettleDelayMs:          200,
			ConnectTimeoutMs:       10_000,
			MetadataTimeoutMs:      5_000,
			OnionConnectTimeoutMs:  30_000,
			OnionMetadataTimeoutMs: 15_000,
		},
		Intervals: Intervals{
			CycleSeconds:      300,
			RetentionDays:     90,
			CheckpointMinutes: 15,
		},
		Database: Database{Path: "./relaytrust.db"},
		API: API{
			Addr:                     ":8080",
			GlobalRateLimitPerMin:    60,
			ListRateLimitPerMin:      10,
			RelayCacheTTLSeconds:     30,
			AggregateCacheTTLSeconds: 60,
		},
		ReportExponent:   2,
		ReportTrustFloor: 0,
		MaxReportsPerReporterPerRelayPerDay: 10,
	}
}

// Load reads an optional YAML document at path (skipped if path is empty or
// missing), then overlays a `.env` file (best-effort) and environment
// variables on top. Env vars always win over both the YAML document and
// built-in defaults.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("config: parse %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	// Best-effort: ignore errors so containerized deployments without a
	// local .env file keep working.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PRIVATE_KEY"); v != "" {
		cfg.Provider.PrivateKey = v
	}
	if v := os.Getenv("RELAY_NAME"); v != "" {
		cfg.Provider.Name = v
	}
	if v := os.Getenv("TARGETS"); v != "" {
		cfg.Targets.URLs = splitCSV(v)
	}
	if v := os.Getenv("DISCOVER_FROM_MONITORS"); v != "" {
		cfg.Targets.DiscoverFromMonitors = parseBool(v, cfg.Targets.DiscoverFromMonitors)
	}
	if v := os.Getenv("SOURCE_ENDPOINTS"); v != "" {
		cfg.Sources.Endpoints = splitCSV(v)
	}
	if v := os.Getenv("PUBLISH_ENABLED"); v != "" {
		cfg.Publishing.Enabled = parseBool(v, cfg.Publishing.Enabled)
	}
	if v := os.Getenv("PUBLISH_ENDPOINTS"); v != "" {
		cfg.Publishing.Endpoints = splitCSV(v)
	}
	if v := os.Getenv("CYCLE_SECONDS"); v != "" {
		cfg.Intervals.CycleSeconds = parseInt(v, cfg.Intervals.CycleSeconds)
	}
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("API_ADDR"); v != "" {
		cfg.API.Addr = v
	}
	if v := os.Getenv("DEBUG"); v != "" {
		cfg.Logging.Debug = parseBool(v, cfg.Logging.Debug)
	}
	if v := os.Getenv("VERBOSE"); v != "" {
		cfg.Logging.Verbose = v
	}
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseBool(v string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		return def
	}
}

func parseInt(v string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

// Validate returns a list of human-readable errors, per §6. It never calls
// log.Fatal itself — config-invalid is fatal only at process startup (§7),
// and that decision belongs to main, not the loader.
func (c Config) Validate() []string {
	var errs []string

	if c.Publishing.Enabled && c.Provider.PrivateKey == "" {
		errs = append(errs, "provider.privateKey is required when publishing.enabled is true")
	}
	if c.Intervals.CycleSeconds < 300 {
		errs = append(errs, fmt.Sprintf("intervals.cycleSeconds must be >= 300, got %d", c.Intervals.CycleSeconds))
	}
	if len(c.Targets.URLs) == 0 && !c.Targets.DiscoverFromMonitors {
		errs = append(errs, "targets.urls must be non-empty unless targets.discoverFromMonitors is true")
	}
	if c.Publishing.Enabled && len(c.Publishing.Endpoints) == 0 {
		errs = append(errs, "publishing.endpoints must be non-empty when publishing.enabled is true")
	}
	if c.Probing.Concurrency <= 0 {
		errs = append(errs, "probing.concurrency must be > 0")
	}

	return errs
}

// CycleInterval returns intervals.cycleSeconds as a time.Duration.
func (c Config) CycleInterval() time.Duration {
	return time.Duration(c.Intervals.CycleSeconds) * time.Second
}

// CheckpointInterval returns intervals.checkpointMinutes as a time.Duration.
func (c Config) CheckpointInterval() time.Duration {
	return time.Duration(c.Intervals.CheckpointMinutes) * time.Minute
}
