// Command massgen-demo wires one complete coordination session end-to-end:
// agent identities, an optional session config file, cost tracking, a
// stdout tracer, and the orchestrator's Run stream, drained to a terminal
// result. This is an illustrative example in the spirit of the teacher's
// own examples/ tree, not the product surface — config loading, TUI
// display, and CLI ergonomics remain explicitly out of the core's scope
// (spec.md §1).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/massgen-go/massgen/internal/config"
	"github.com/massgen-go/massgen/pkg/broadcast"
	"github.com/massgen-go/massgen/pkg/cost"
	"github.com/massgen-go/massgen/pkg/llm"
	"github.com/massgen-go/massgen/pkg/llm/anthropic"
	"github.com/massgen-go/massgen/pkg/llm/gemini"
	"github.com/massgen-go/massgen/pkg/llm/mock"
	"github.com/massgen-go/massgen/pkg/llm/openai"
	"github.com/massgen-go/massgen/pkg/orchestrator"
	"github.com/massgen-go/massgen/pkg/trace"
)

func main() {
	sessionPath := flag.String("session", "", "path to a session.yaml (optional; defaults applied otherwise)")
	task := flag.String("task", "Propose a name for a new open-source Go logging library.", "the task to coordinate on")
	flag.Parse()

	sessCfg := config.DefaultSessionConfig()
	if *sessionPath != "" {
		loaded, err := config.LoadSession(*sessionPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "massgen-demo:", err)
			os.Exit(1)
		}
		sessCfg = *loaded
	}

	agents := buildAgents()
	costs := cost.NewTracker()
	tracer := trace.NewStdout(os.Stderr)

	opts := []orchestrator.Option{
		orchestrator.WithConfig(sessionOrchestratorConfig(sessCfg)),
		orchestrator.WithTracer(tracer),
		orchestrator.WithCostTracker(costs),
	}
	if sessCfg.Broadcast != "off" {
		opts = append(opts, orchestrator.WithBroadcast(buildBroadcastChannel(sessCfg, agents)))
	}

	orch := orchestrator.New(agents, opts...)

	stream, err := orch.Run(context.Background(), *task)
	if err != nil {
		fmt.Fprintln(os.Stderr, "massgen-demo:", err)
		os.Exit(1)
	}

	for chunk := range stream {
		switch chunk.Type {
		case orchestrator.ChunkTypeContent:
			fmt.Printf("[%s] %s", chunk.AgentID, chunk.Text)
		case orchestrator.ChunkTypeResult:
			switch chunk.ResultKind {
			case orchestrator.ResultAnswer:
				fmt.Printf("\n[%s] submitted an answer\n", chunk.AgentID)
			case orchestrator.ResultVote:
				fmt.Printf("[%s] voted for %s\n", chunk.AgentID, chunk.Vote.VotedForRealID)
			case orchestrator.ResultFinal:
				fmt.Printf("\n=== winner: %s ===\n%s\n", chunk.FinalWinner, chunk.FinalAnswer)
			}
		case orchestrator.ChunkTypeError:
			fmt.Fprintf(os.Stderr, "[%s] error: %v\n", chunk.AgentID, chunk.Err)
		}
	}

	report := costs.Report()
	fmt.Printf("\n--- cost report ---\ntotal: $%.4f across %d calls\n", report.TotalCost, len(costs.Records()))
}

// buildAgents wires one agent per supported concrete backend when its API
// key is present in the environment, falling back to scripted mock
// backends so the demo runs deterministically with no credentials at all.
func buildAgents() []orchestrator.AgentConfig {
	var agents []orchestrator.AgentConfig

	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		agents = append(agents, orchestrator.AgentConfig{
			ID:      "claude",
			Backend: llm.FromProvider(anthropic.New(key), "claude-sonnet-4-5-20250929"),
			Model:   "claude-sonnet-4-5-20250929",
			Persona: "a meticulous technical writer",
		})
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		agents = append(agents, orchestrator.AgentConfig{
			ID:      "gpt",
			Backend: llm.FromProvider(openai.New(key), "gpt-4o"),
			Model:   "gpt-4o",
			Persona: "a pragmatic engineer who favors simple names",
		})
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		if p, err := gemini.New(context.Background(), key); err == nil {
			agents = append(agents, orchestrator.AgentConfig{
				ID:      "gemini",
				Backend: llm.FromProvider(p, "gemini-2.0-flash"),
				Model:   "gemini-2.0-flash",
				Persona: "a creative brainstormer",
			})
		}
	}

	if len(agents) > 0 {
		return agents
	}
	return mockAgents()
}

// mockAgents builds a deterministic three-agent scripted session matching
// spec.md §8 scenario 1 (unanimous consensus, single round): each agent
// answers once, then votes for the first registered agent.
func mockAgents() []orchestrator.AgentConfig {
	names := []string{"agent-a", "agent-b", "agent-c"}
	agents := make([]orchestrator.AgentConfig, len(names))
	for i, name := range names {
		backend := &mock.Backend{
			ToolCallResponses: [][]mock.ScriptedToolCall{
				{{Name: "new_answer", Arguments: map[string]any{"content": fmt.Sprintf("GoGrid-style name proposal from %s: \"slogline\"", name)}}},
				{{Name: "vote", Arguments: map[string]any{"agent_id": "agent1", "reason": "clean, memorable, and Go-idiomatic"}}},
			},
		}
		agents[i] = orchestrator.AgentConfig{
			ID:      name,
			Backend: backend,
			Model:   "mock-model",
			Persona: "a naming-convention enthusiast",
		}
	}
	return agents
}

func sessionOrchestratorConfig(c config.SessionConfig) orchestrator.Config {
	return orchestrator.Config{
		SkipVoting:             c.SkipVoting,
		DisableInjection:       c.DisableInjection,
		PersonaEasing:          c.PersonaEasingEnabled,
		BroadcastEnabled:       c.Broadcast != "off",
		BroadcastSensitivity:   c.BroadcastSensitivity,
		VotingSensitivity:      c.VotingSensitivity,
		InitialRoundTimeout:    c.InitialRoundTimeout.Duration,
		SubsequentRoundTimeout: c.SubsequentRoundTimeout.Duration,
		RoundTimeoutGrace:      c.RoundTimeoutGrace.Duration,
	}
}

func buildBroadcastChannel(c config.SessionConfig, agents []orchestrator.AgentConfig) *broadcast.Channel {
	ids := make([]string, len(agents))
	for i, a := range agents {
		ids[i] = string(a.ID)
	}
	mode := broadcast.ModeAgents
	if c.Broadcast == "human" {
		mode = broadcast.ModeHuman
	}
	return broadcast.New(broadcast.Config{
		Mode:                  mode,
		MaxBroadcastsPerAgent: c.MaxBroadcastsPerAgent,
		DefaultTimeout:        c.BroadcastTimeout.Duration,
		Agents:                ids,
	})
}
