package nostrshape

import (
	"testing"

	"github.com/nbd-wtf/go-nostr"
)

func validEvent() *nostr.Event {
	return &nostr.Event{
		ID:        "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		PubKey:    "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		Sig:       "cccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccc",
		CreatedAt: nostr.Timestamp(1_700_000_000),
		Tags:      nostr.Tags{{"d", "wss://relay.example.com"}},
	}
}

func TestValidAcceptsWellFormedEvent(t *testing.T) {
	if !Valid(validEvent()) {
		t.Fatal("expected well-formed event to pass shape validation")
	}
}

func TestValidRejectsBadID(t *testing.T) {
	e := validEvent()
	e.ID = "short"
	if Valid(e) {
		t.Fatal("expected short id to fail shape validation")
	}
}

func TestValidRejectsBadPubkey(t *testing.T) {
	e := validEvent()
	e.PubKey = "not-hex-at-all-----------------------------------------------"
	if Valid(e) {
		t.Fatal("expected non-hex pubkey to fail shape validation")
	}
}

func TestValidRejectsBadSig(t *testing.T) {
	e := validEvent()
	e.Sig = "tooshort"
	if Valid(e) {
		t.Fatal("expected short sig to fail shape validation")
	}
}

func TestValidRejectsOutOfRangeTimestamp(t *testing.T) {
	e := validEvent()
	e.CreatedAt = nostr.Timestamp(1_000_000_000) // year 2001
	if Valid(e) {
		t.Fatal("expected pre-2020 created_at to fail shape validation")
	}
	e.CreatedAt = nostr.Timestamp(5_000_000_000) // year 2128
	if Valid(e) {
		t.Fatal("expected post-2100 created_at to fail shape validation")
	}
}

func TestFirstTagValueAndTagValues(t *testing.T) {
	tags := nostr.Tags{{"l", "spam", "relay-report"}, {"l", "malicious", "relay-report"}, {"r", "wss://relay.example.com"}}
	if got := FirstTagValue(tags, "r"); got != "wss://relay.example.com" {
		t.Errorf("FirstTagValue(r) = %q", got)
	}
	if got := FirstTagValue(tags, "missing"); got != "" {
		t.Errorf("FirstTagValue(missing) = %q, want empty", got)
	}
	vals := TagValues(tags, "l")
	if len(vals) != 2 || vals[0] != "spam" || vals[1] != "malicious" {
		t.Errorf("TagValues(l) = %v", vals)
	}
}
