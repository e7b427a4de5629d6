// Package moderation weighs free-text report content for self-promotion
// and link-spam signals (§4.4). The URL-detection heuristic — a
// conservative RE2 candidate scan plus localhost/private-IP/`.local`
// exclusion — is adapted from mroxso-wotrlay's url.go content-policy check,
// which used it to gate low-trust publishers from posting links at all.
// relaytrust has no write path to gate, so the same detector is retargeted
// here: counting distinct linked hosts and weighing a report's trust
// contribution by both that count and its declared report type, since a
// link is evidence in a malicious/censorship report but a self-promotion
// red flag in a spam/unreliable one.
package moderation

import (
	"net"
	"regexp"
	"strings"

	"github.com/relaytrust/relaytrust/internal/model"
)

// urlCandidateRegex finds URL-ish substrings in text content.
//
// It intentionally aims to be:
//   - Simple and fast (RE2; no catastrophic backtracking)
//   - Conservative on what it matches (to reduce false positives)
//
// Validation (localhost/private IP exclusion) stays in Go code because RE2
// doesn't support lookahead/lookbehind.
var urlCandidateRegex = regexp.MustCompile(`(?i)(?:https?://|www\.)[^\s]+|(?:[a-z0-9-]+\.)+[a-z]{2,}(?:/[^\s]*)?`)

func isDomainChar(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9') || b == '-' || b == '_'
}

// excessiveLinkCount is the number of distinct public hosts above which a
// report reads as link spam regardless of its declared type.
const excessiveLinkCount = 3

// linkWeightByType holds the trust-weight multiplier applied once a report
// contains at least one public link, keyed by the report's declared type.
// Malicious and censorship reports often need to cite the offending URL as
// evidence, so they are left unpenalized below the excessive-link
// threshold; spam and unreliable reports rarely have a legitimate reason to
// link elsewhere, so even one link is treated as a moderate-to-strong
// self-promotion signal.
var linkWeightByType = map[model.ReportType]float64{
	model.ReportSpam:       0.4,
	model.ReportUnreliable: 0.75,
	model.ReportCensorship: 1.0,
	model.ReportMalicious:  1.0,
}

// Assess returns the trust-weight multiplier a report's content earns,
// given its declared type. 1.0 means the content carries no link-spam
// penalty.
func Assess(reportType model.ReportType, content string) float64 {
	count := countPublicLinks(content)
	if count == 0 {
		return 1.0
	}
	if count > excessiveLinkCount {
		// Several distinct linked hosts in one report reads as link spam
		// no matter what type it claims to be.
		return 0.4
	}
	if w, ok := linkWeightByType[reportType]; ok {
		return w
	}
	return 0.5
}

// countPublicLinks returns the number of distinct public (non-localhost,
// non-private, non-.local) hosts mentioned in content.
func countPublicLinks(content string) int {
	if content == "" {
		return 0
	}

	seen := make(map[string]struct{})
	for off := 0; off < len(content); {
		loc := urlCandidateRegex.FindStringIndex(content[off:])
		if loc == nil {
			break
		}
		start := off + loc[0]
		end := off + loc[1]
		off = end

		// Skip matches preceded by '@' (emails) or domain characters, so
		// "test.com" inside "example_test.com" doesn't match.
		if start > 0 {
			prev := content[start-1]
			if prev == '@' || isDomainChar(prev) {
				continue
			}
		}

		candidate := strings.Trim(content[start:end], "()[]{}<>,.\"'`")
		if candidate == "" {
			continue
		}
		if strings.IndexByte(candidate, '_') >= 0 {
			continue
		}
		if host, ok := publicHost(candidate); ok {
			seen[host] = struct{}{}
		}
	}

	return len(seen)
}

// publicHost extracts candidate's host and reports whether it names a
// public address: not localhost, not a .local name, not a loopback/
// private/link-local/unspecified IP.
func publicHost(candidate string) (string, bool) {
	// Only http/https, www.*, and bare domains count as URLs; other
	// schemes are excluded by construction since the regex doesn't match
	// them.
	s := candidate
	if len(s) >= 7 && strings.EqualFold(s[:7], "http://") {
		s = s[7:]
	} else if len(s) >= 8 && strings.EqualFold(s[:8], "https://") {
		s = s[8:]
	}

	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if at := strings.LastIndexByte(s, '@'); at >= 0 {
		s = s[at+1:]
	}
	host := s
	if h, _, err := net.SplitHostPort(s); err == nil {
		host = h
	} else if c := strings.LastIndexByte(s, ':'); c >= 0 {
		port := s[c+1:]
		ok := port != ""
		for i := 0; ok && i < len(port); i++ {
			b := port[i]
			ok = b >= '0' && b <= '9'
		}
		if ok {
			host = s[:c]
		}
	}

	if host == "" {
		return "", false
	}
	hostLower := strings.ToLower(host)
	if hostLower == "localhost" {
		return "", false
	}
	if strings.HasSuffix(hostLower, ".local") {
		return "", false
	}

	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
			return "", false
		}
		return hostLower, true
	}

	if !strings.Contains(hostLower, ".") {
		return "", false
	}
	return hostLower, true
}
