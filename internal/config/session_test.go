package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadSessionDefaultsAndOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.yaml")
	yamlContent := `
max_broadcasts_per_agent: 5
broadcast: agents
broadcast_timeout_ms: 30s
skip_voting: true
initial_round_timeout_seconds: 120s
subsequent_round_timeout_seconds: 60s
round_timeout_grace_seconds: 10s
voting_sensitivity: high
`
	if err := os.WriteFile(path, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadSession(path)
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if cfg.MaxBroadcastsPerAgent != 5 {
		t.Errorf("MaxBroadcastsPerAgent = %d, want 5", cfg.MaxBroadcastsPerAgent)
	}
	if cfg.Broadcast != "agents" {
		t.Errorf("Broadcast = %q, want agents", cfg.Broadcast)
	}
	if cfg.BroadcastTimeout.Duration != 30*time.Second {
		t.Errorf("BroadcastTimeout = %v, want 30s", cfg.BroadcastTimeout.Duration)
	}
	if !cfg.SkipVoting {
		t.Error("SkipVoting = false, want true")
	}
	if cfg.InitialRoundTimeout.Duration != 120*time.Second {
		t.Errorf("InitialRoundTimeout = %v, want 120s", cfg.InitialRoundTimeout.Duration)
	}
	// BroadcastSensitivity was not overridden; default carries through.
	if cfg.BroadcastSensitivity != "medium" {
		t.Errorf("BroadcastSensitivity = %q, want default medium", cfg.BroadcastSensitivity)
	}
	// PersonaEasingEnabled also not overridden.
	if !cfg.PersonaEasingEnabled {
		t.Error("PersonaEasingEnabled = false, want default true")
	}
}

func TestLoadSessionInvalidBroadcastMode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.yaml")
	if err := os.WriteFile(path, []byte("broadcast: carrier-pigeon\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := LoadSession(path); err == nil {
		t.Fatal("LoadSession: expected error for invalid broadcast mode, got nil")
	}
}

func TestLoadSessionMissingFile(t *testing.T) {
	if _, err := LoadSession("/nonexistent/session.yaml"); err == nil {
		t.Fatal("LoadSession: expected error for missing file, got nil")
	}
}

func TestDefaultSessionConfigIsValid(t *testing.T) {
	cfg := DefaultSessionConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("DefaultSessionConfig().Validate() = %v, want nil", err)
	}
}
