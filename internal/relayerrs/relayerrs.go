// Package relayerrs defines the error kinds from spec §7. These are kinds,
// not types: call sites wrap a sentinel with %w and callers compare with
// errors.Is.
package relayerrs

import "errors"

var (
	// ErrTransientNetwork covers timeouts, resets, and DNS failures. The
	// caller retries next cycle (probe) or reconnects with backoff
	// (ingestor/publisher). Never escalated to the process.
	ErrTransientNetwork = errors.New("transient-network")

	// ErrMalformedInput covers bad URLs, bad event shapes, and non-hex
	// pubkeys. Dropped silently; never reaches a write path.
	ErrMalformedInput = errors.New("malformed-input")

	// ErrStoreWrite is returned by the Store on any write failure.
	ErrStoreWrite = errors.New("store-write-failed")

	// ErrStoreRead is returned by the Store on any read failure.
	ErrStoreRead = errors.New("store-read-failed")

	// ErrConfigInvalid is fatal on startup only.
	ErrConfigInvalid = errors.New("config-invalid")

	// ErrCancelled is returned to pending publish callbacks on shutdown.
	// Never logged.
	ErrCancelled = errors.New("cancelled")

	// ErrRateLimited pauses the offending endpoint for 60s; not escalated
	// beyond result accounting.
	ErrRateLimited = errors.New("rate-limited")
)
