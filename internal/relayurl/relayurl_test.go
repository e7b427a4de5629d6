package relayurl

import "testing"

func TestCanonicalizeIdempotent(t *testing.T) {
	inputs := []string{
		"wss://Relay.Example.com/",
		"WSS://relay.example.com:443",
		"ws://relay.example.com:80/",
		"https://relay.example.com",
		"wss://relay.example.com/path/",
		"wss://relay.onion.onion",
	}

	for _, in := range inputs {
		first, err := Canonicalize(in)
		if err != nil {
			t.Fatalf("Canonicalize(%q): %v", in, err)
		}
		second, err := Canonicalize(first)
		if err != nil {
			t.Fatalf("Canonicalize(%q) (second pass): %v", first, err)
		}
		if first != second {
			t.Errorf("not idempotent: %q -> %q -> %q", in, first, second)
		}
	}
}

func TestCanonicalizeNormalization(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"wss://Relay.Example.com/", "wss://relay.example.com"},
		{"wss://relay.example.com:443", "wss://relay.example.com"},
		{"ws://relay.example.com:80/", "ws://relay.example.com"},
		{"https://relay.example.com", "wss://relay.example.com"},
		{"http://relay.example.com", "ws://relay.example.com"},
	}
	for _, tt := range tests {
		got, err := Canonicalize(tt.in)
		if err != nil {
			t.Fatalf("Canonicalize(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("Canonicalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCanonicalizeRejectsInvalid(t *testing.T) {
	tests := []string{"", "   ", "not a url at all \x00", "ftp://relay.example.com", "relay.example.com"}
	for _, in := range tests {
		if _, err := Canonicalize(in); err == nil {
			t.Errorf("Canonicalize(%q) expected error, got nil", in)
		}
	}
}

func TestIsOnion(t *testing.T) {
	on, _ := Canonicalize("wss://abc123def456.onion")
	off, _ := Canonicalize("wss://relay.example.com")
	if !IsOnion(on) {
		t.Errorf("expected %q to be onion", on)
	}
	if IsOnion(off) {
		t.Errorf("expected %q to not be onion", off)
	}
}
