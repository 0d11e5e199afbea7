package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// validBroadcastModes is the set of supported BroadcastChannel distribution
// modes (spec.md §6's "broadcast").
var validBroadcastModes = map[string]bool{
	"agents": true,
	"human":  true,
	"off":    true,
}

// validSensitivities is the set of supported sensitivity levels for
// voting_sensitivity and broadcast_sensitivity (spec.md §6).
var validSensitivities = map[string]bool{
	"low":    true,
	"medium": true,
	"high":   true,
}

// SessionConfig carries every coordination-session option recognized by
// spec.md §6, loaded the same way ProjectConfig is: YAML plus ${VAR}
// environment substitution (see envsubst.go), reusing the teacher's
// Duration type for every timeout field.
type SessionConfig struct {
	// MaxBroadcastsPerAgent bounds how many broadcasts one agent may have
	// in flight at once. Zero means unbounded.
	MaxBroadcastsPerAgent int `yaml:"max_broadcasts_per_agent"`
	// BroadcastTimeout is the default wait for a broadcast's responses.
	BroadcastTimeout Duration `yaml:"broadcast_timeout_ms"`
	// BroadcastSensitivity influences ask_others prompting guidance.
	BroadcastSensitivity string `yaml:"broadcast_sensitivity"`
	// Broadcast selects the BroadcastChannel distribution mode.
	Broadcast string `yaml:"broadcast"`

	// SkipVoting, if true, ends a round as soon as every agent has an
	// answer; the winner is the first agent in registration order.
	SkipVoting bool `yaml:"skip_voting"`
	// DisableInjection disables mid-stream peer-answer injection.
	DisableInjection bool `yaml:"disable_injection"`

	// InitialRoundTimeout bounds the first coordination round.
	InitialRoundTimeout Duration `yaml:"initial_round_timeout_seconds"`
	// SubsequentRoundTimeout bounds every round after the first.
	SubsequentRoundTimeout Duration `yaml:"subsequent_round_timeout_seconds"`
	// RoundTimeoutGrace is the grace period between soft and hard timeout.
	RoundTimeoutGrace Duration `yaml:"round_timeout_grace_seconds"`

	// VotingSensitivity controls vote prompt wording strictness.
	VotingSensitivity string `yaml:"voting_sensitivity"`
	// PersonaEasingEnabled softens agent personas once peer answers exist.
	PersonaEasingEnabled bool `yaml:"persona_easing_enabled"`
}

// DefaultSessionConfig returns the zero-value-safe defaults a session runs
// with when no gogrid-session.yaml is supplied.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		MaxBroadcastsPerAgent: 3,
		Broadcast:             "off",
		BroadcastSensitivity:  "medium",
		VotingSensitivity:     "medium",
		PersonaEasingEnabled:  true,
	}
}

// LoadSession reads a session config YAML file, substitutes ${VAR}
// references, parses it over DefaultSessionConfig, and validates the
// result.
func LoadSession(path string) (*SessionConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	substituted := Substitute(string(data))

	cfg := DefaultSessionConfig()
	if err := yaml.Unmarshal([]byte(substituted), &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that the session configuration is well-formed.
func (c *SessionConfig) Validate() error {
	if c.Broadcast != "" && !validBroadcastModes[c.Broadcast] {
		return fmt.Errorf("config: unsupported broadcast mode %q (valid: agents, human, off)", c.Broadcast)
	}
	if c.BroadcastSensitivity != "" && !validSensitivities[c.BroadcastSensitivity] {
		return fmt.Errorf("config: unsupported broadcast_sensitivity %q (valid: low, medium, high)", c.BroadcastSensitivity)
	}
	if c.VotingSensitivity != "" && !validSensitivities[c.VotingSensitivity] {
		return fmt.Errorf("config: unsupported voting_sensitivity %q (valid: low, medium, high)", c.VotingSensitivity)
	}
	if c.MaxBroadcastsPerAgent < 0 {
		return fmt.Errorf("config: max_broadcasts_per_agent must be >= 0")
	}
	return nil
}
