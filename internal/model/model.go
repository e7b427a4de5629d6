// Package model holds the entity types shared across every component, per
// spec §3. Every entity is keyed by a string (url or pubkey) and looked up
// through the Store — never by in-memory pointer — so there is no ownership
// cycle between cached operator, jurisdiction, and report state.
package model

import "time"

// RelayKind classifies what a probed relay advertises itself as.
type RelayKind string

const (
	RelayKindGeneral      RelayKind = "general"
	RelayKindSpecialized  RelayKind = "specialized"
	RelayKindRemoteSigner RelayKind = "remote-signer"
	RelayKindUnknown      RelayKind = "unknown"
)

// AccessLevel classifies how open a relay is to unauthenticated clients.
type AccessLevel string

const (
	AccessOpen             AccessLevel = "open"
	AccessAuthRequired     AccessLevel = "auth-required"
	AccessPaymentRequired  AccessLevel = "payment-required"
	AccessRestricted       AccessLevel = "restricted"
	AccessUnknown          AccessLevel = "unknown"
)

// ConfidenceLabel buckets a weighted observation count into a human label.
type ConfidenceLabel string

const (
	ConfidenceLow    ConfidenceLabel = "low"
	ConfidenceMedium ConfidenceLabel = "medium"
	ConfidenceHigh   ConfidenceLabel = "high"
)

// VerifiedVia names the strongest corroborating source for an operator pubkey.
type VerifiedVia string

const (
	VerifiedClaimed   VerifiedVia = "claimed"
	VerifiedMetadata  VerifiedVia = "metadata"
	VerifiedDNS       VerifiedVia = "dns"
	VerifiedWellKnown VerifiedVia = "well-known"
)

// ReportType enumerates the kinds of relay-report a Report event may carry.
type ReportType string

const (
	ReportSpam        ReportType = "spam"
	ReportCensorship  ReportType = "censorship"
	ReportUnreliable  ReportType = "unreliable"
	ReportMalicious   ReportType = "malicious"
)

// ProbeObservation is an append-only record of one direct probe attempt.
// Primary key: (URL, Timestamp).
type ProbeObservation struct {
	URL                string
	Timestamp          int64 // whole seconds since epoch
	Reachable          bool
	Kind               RelayKind
	AccessLevel        AccessLevel
	ClosedReason        string
	ConnectLatencyMs    int64
	ReadLatencyMs       int64
	MetadataLatencyMs   int64
	Metadata            []byte // opaque structured blob (NIP-11 JSON, typically)
	Error               string
}

// MonitorMetric is an append-only external-monitor observation, identified by
// the source event id.
type MonitorMetric struct {
	EventID      string
	URL          string
	MonitorPubkey string
	Timestamp    int64
	RTTOpenMs    int64
	RTTReadMs    int64
	RTTWriteMs   int64
	Network      string
	Capabilities []int
	Geohash      string
}

// Report is an append-only, dedup-by-event-id report about a relay.
type Report struct {
	EventID          string
	URL              string
	ReporterPubkey   string
	Type             ReportType
	Content          string
	Timestamp        int64
	ReporterTrustWeight float64 // [0,1]
}

// OperatorResolution is the replaceable per-relay identity-corroboration record.
type OperatorResolution struct {
	URL              string
	OperatorPubkey   string // "" if none resolved
	VerifiedVia      VerifiedVia
	Confidence       int // 0-100
	LastVerifiedAt   int64
	MetadataPubkey   string
	DNSPubkey        string
	WellKnownPubkey  string
	SourcesDisagree  bool
}

// JurisdictionInfo is the replaceable per-relay geo/network record.
type JurisdictionInfo struct {
	URL         string
	IP          string
	CountryCode string
	Country     string
	Region      string
	City        string
	ISP         string
	ASN         int
	IsHosting   bool
	IsTor       bool
	ResolvedAt  int64
}

// OperatorTrust is the replaceable per-pubkey web-of-trust aggregate.
type OperatorTrust struct {
	Pubkey        string
	Score         int // 0-100
	Confidence    ConfidenceLabel
	ProviderCount int
	UpdatedAt     int64
}

// ScoreSnapshot is an append-only per-cycle score history row.
type ScoreSnapshot struct {
	URL              string
	Timestamp        int64
	Overall          int
	Reliability      int
	Quality          int
	Accessibility    int
	OperatorTrust    int
	Confidence       ConfidenceLabel
	ObservationCount int
}

// PublishedAssertion is the replaceable record the material-change gate
// compares against.
type PublishedAssertion struct {
	URL              string
	EventID          string
	Score            int
	Confidence       ConfidenceLabel
	ObservationCount int
	PublishedAt      int64
}

// TrustedMonitor is a replaceable-by-pubkey record of a monitor we have
// observed events from.
type TrustedMonitor struct {
	Pubkey     string
	AddedAt    int64
	LastSeen   int64
	EventCount int64
}

// Now returns the current time as whole seconds since the epoch. Pure logic
// (Scorer, Assertion Builder) never calls this directly — it always takes a
// `now` parameter — but components at the I/O boundary (ingestors, prober,
// service loop) use it to stamp records.
func Now() int64 { return time.Now().Unix() }
