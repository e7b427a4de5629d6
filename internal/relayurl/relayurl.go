// Package relayurl canonicalizes Nostr relay URLs so every component keys
// its records by the same string.
package relayurl

import (
	"fmt"
	"net/url"
	"strings"
)

// Canonicalize normalizes a relay URL: lowercased scheme and host, no
// trailing slash, no fragment, no default port. It is idempotent:
// Canonicalize(Canonicalize(u)) == Canonicalize(u) for any valid u.
func Canonicalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("relayurl: empty url")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("relayurl: parse %q: %w", raw, err)
	}

	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case "ws", "wss":
	case "http":
		scheme = "ws"
	case "https":
		scheme = "wss"
	default:
		return "", fmt.Errorf("relayurl: unsupported scheme %q", u.Scheme)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("relayurl: missing host in %q", raw)
	}

	out := url.URL{
		Scheme: scheme,
		Host:   host,
		Path:   strings.TrimRight(u.Path, "/"),
	}
	if port := u.Port(); port != "" && !isDefaultPort(scheme, port) {
		out.Host = host + ":" + port
	}
	if u.RawQuery != "" {
		out.RawQuery = u.RawQuery
	}

	return out.String(), nil
}

func isDefaultPort(scheme, port string) bool {
	switch scheme {
	case "ws":
		return port == "80"
	case "wss":
		return port == "443"
	}
	return false
}

// IsOnion reports whether the canonical url targets a .onion hidden service.
func IsOnion(canonical string) bool {
	u, err := url.Parse(canonical)
	if err != nil {
		return false
	}
	return strings.HasSuffix(strings.ToLower(u.Hostname()), ".onion")
}

// Hostname extracts the hostname (no port) from a canonical relay url.
func Hostname(canonical string) (string, error) {
	u, err := url.Parse(canonical)
	if err != nil {
		return "", fmt.Errorf("relayurl: parse %q: %w", canonical, err)
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("relayurl: no host in %q", canonical)
	}
	return host, nil
}

// Domain strips a leading "www." label, useful for DNS TXT / well-known lookups.
func Domain(hostname string) string {
	return strings.TrimPrefix(strings.ToLower(hostname), "www.")
}
