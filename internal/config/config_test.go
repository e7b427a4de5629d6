package config

import "testing"

func TestValidateRequiresPrivateKeyWhenPublishing(t *testing.T) {
	cfg := defaults()
	cfg.Targets.URLs = []string{"wss://relay.example.com"}
	cfg.Publishing.Enabled = true
	cfg.Publishing.Endpoints = []string{"wss://relay.example.com"}

	errs := cfg.Validate()
	found := false
	for _, e := range errs {
		if e == "provider.privateKey is required when publishing.enabled is true" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected missing-private-key error, got %v", errs)
	}
}

func TestValidateMinimumCycleInterval(t *testing.T) {
	cfg := defaults()
	cfg.Targets.URLs = []string{"wss://relay.example.com"}
	cfg.Intervals.CycleSeconds = 60

	errs := cfg.Validate()
	if len(errs) == 0 {
		t.Fatal("expected validation error for cycle interval below 300s")
	}
}

func TestValidateAllowsDiscoverWithoutTargets(t *testing.T) {
	cfg := defaults()
	cfg.Targets.DiscoverFromMonitors = true

	for _, e := range cfg.Validate() {
		if e == "targets.urls must be non-empty unless targets.discoverFromMonitors is true" {
			t.Errorf("did not expect targets error when discoverFromMonitors is true")
		}
	}
}

func TestValidateHappyPath(t *testing.T) {
	cfg := defaults()
	cfg.Targets.URLs = []string{"wss://relay.example.com"}

	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("expected no errors, got %v", errs)
	}
}
