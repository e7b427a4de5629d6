// Package nostrshape holds the structural validation both ingestors apply
// to inbound frames before any business logic runs (§4.3, §6): dynamic JSON
// at the boundary is reduced to a single known-shape value, per §9.
package nostrshape

import (
	"regexp"

	"github.com/nbd-wtf/go-nostr"
)

var hexIDRe = regexp.MustCompile(`^[0-9a-f]{64}$`)
var hexPubkeyRe = regexp.MustCompile(`^[0-9a-f]{64}$`)
var hexSigRe = regexp.MustCompile(`^[0-9a-f]{128}$`)

const (
	minCreatedAt = 1_577_836_800  // 2020-01-01T00:00:00Z
	maxCreatedAt = 4_102_444_800  // 2100-01-01T00:00:00Z
)

// Valid reports whether evt has the well-formed shape §4.3 requires: 64-hex
// id/pubkey, 128-hex sig, created_at within [2020, 2100). It does not check
// the signature itself — that is a separate, more expensive step callers
// run only after this passes.
func Valid(evt *nostr.Event) bool {
	if evt == nil {
		return false
	}
	if !hexIDRe.MatchString(evt.ID) {
		return false
	}
	if !hexPubkeyRe.MatchString(evt.PubKey) {
		return false
	}
	if !hexSigRe.MatchString(evt.Sig) {
		return false
	}
	created := int64(evt.CreatedAt)
	if created < minCreatedAt || created >= maxCreatedAt {
		return false
	}
	return true
}

// FirstTagValue returns the second element of the first tag named name, or
// "" if absent.
func FirstTagValue(tags nostr.Tags, name string) string {
	for _, tag := range tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1]
		}
	}
	return ""
}

// TagValues returns the second elements of every tag named name, in order.
func TagValues(tags nostr.Tags, name string) []string {
	var out []string
	for _, tag := range tags {
		if len(tag) >= 2 && tag[0] == name {
			out = append(out, tag[1])
		}
	}
	return out
}
