package moderation

import (
	"testing"

	"github.com/relaytrust/relaytrust/internal/model"
)

func TestCountPublicLinks(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    int
	}{
		{name: "http URL", content: "Check out http://example.com", want: 1},
		{name: "https URL", content: "Visit https://example.com/path?query=value", want: 1},
		{name: "https URL with port", content: "https://example.com:8080/path", want: 1},
		{name: "www URL", content: "Go to www.example.com", want: 1},
		{name: "bare domain", content: "Visit example.com", want: 1},
		{name: "subdomain", content: "sub.example.com", want: 1},
		{name: "nostr scheme", content: "nostr:npub1...", want: 0},
		{name: "mailto scheme", content: "mailto:test@example.com", want: 0},
		{name: "localhost", content: "http://localhost:8080", want: 0},
		{name: "127.0.0.1", content: "http://127.0.0.1:8080", want: 0},
		{name: "192.168.x.x", content: "http://192.168.1.1", want: 0},
		{name: "dot-local is not public", content: "printer.local/status", want: 0},
		{name: "plain text", content: "Just some plain text without URLs", want: 0},
		{name: "email address", content: "Contact me at test@example.com", want: 0},
		{name: "version number", content: "Version 1.2.3", want: 0},
		{name: "two distinct URLs", content: "Visit https://example.com and www.test.org", want: 2},
		{name: "same host twice counts once", content: "https://example.com and http://example.com/other", want: 1},
		{name: "domain with underscore", content: "example_test.com", want: 0},
		{name: "domain in parentheses", content: "(example.com)", want: 1},
		{name: "domain with trailing punctuation", content: "example.com.", want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := countPublicLinks(tt.content); got != tt.want {
				t.Errorf("countPublicLinks(%q) = %d, want %d", tt.content, got, tt.want)
			}
		})
	}
}

func TestAssessNoLinksIsUnpenalized(t *testing.T) {
	for _, rt := range []model.ReportType{model.ReportSpam, model.ReportCensorship, model.ReportUnreliable, model.ReportMalicious} {
		if got := Assess(rt, "this relay drops writes under load"); got != 1.0 {
			t.Errorf("Assess(%s, no-link content) = %v, want 1.0", rt, got)
		}
	}
}

func TestAssessPenalizesSpamLinksMoreThanEvidenceLinks(t *testing.T) {
	content := "check out https://unrelated-shop.example for a better deal"

	spam := Assess(model.ReportSpam, content)
	malicious := Assess(model.ReportMalicious, content)

	if spam >= 1.0 {
		t.Errorf("Assess(spam, linked content) = %v, want < 1.0", spam)
	}
	if malicious != 1.0 {
		t.Errorf("Assess(malicious, linked content) = %v, want 1.0 (link is evidence)", malicious)
	}
	if spam >= malicious {
		t.Errorf("spam penalty %v should be stricter than malicious %v", spam, malicious)
	}
}

func TestAssessExcessiveLinksArePenalizedRegardlessOfType(t *testing.T) {
	content := "see a.example.com b.example.org c.example.net d.example.io"
	if got := Assess(model.ReportMalicious, content); got != 0.4 {
		t.Errorf("Assess(malicious, 4-link content) = %v, want 0.4", got)
	}
}
