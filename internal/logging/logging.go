// Package logging provides module/method-filtered verbose logging, adapted
// from girino-saint-michaels-mirror's logging package, which solves "log
// everything in dev, log almost nothing in production" without pulling in
// a structured-logging framework. mroxso-wotrlay has no logger of its own
// beyond bare log.Printf.
package logging

import (
	"log"
	"strings"
	"sync"
)

var (
	mu             sync.RWMutex
	verboseAll     bool
	verboseFilters map[string]bool
)

// SetVerbose configures verbosity from a single string, typically sourced
// from config.Logging.Verbose:
//   - "" or "false": disable all verbose logging
//   - "true" or "all": enable all verbose logging
//   - "scorer,prober.Probe": enable the scorer module and prober's Probe method
func SetVerbose(spec string) {
	mu.Lock()
	defer mu.Unlock()

	verboseFilters = make(map[string]bool)
	verboseAll = false

	spec = strings.TrimSpace(spec)
	if spec == "" || spec == "false" {
		return
	}
	if spec == "true" || spec == "all" {
		verboseAll = true
		return
	}
	for _, f := range strings.Split(spec, ",") {
		f = strings.TrimSpace(f)
		if f != "" {
			verboseFilters[f] = true
		}
	}
}

func isVerbose(module, method string) bool {
	mu.RLock()
	defer mu.RUnlock()

	if verboseAll {
		return true
	}
	if method != "" && verboseFilters[module+"."+method] {
		return true
	}
	return verboseFilters[module]
}

// Debug logs only when module (optionally module.method) is enabled via
// SetVerbose.
func Debug(module, method, format string, v ...any) {
	if isVerbose(module, method) {
		log.Printf("[DEBUG] "+module+"."+method+": "+format, v...)
	}
}

// Info logs unconditionally.
func Info(format string, v ...any) { log.Printf("[INFO] "+format, v...) }

// Warn logs unconditionally.
func Warn(format string, v ...any) { log.Printf("[WARN] "+format, v...) }

// Error logs unconditionally. Per §7, messages must be sanitized: error
// names only, never file paths, headers, or user input.
func Error(format string, v ...any) { log.Printf("[ERROR] "+format, v...) }
