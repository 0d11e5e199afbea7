package hook

import (
	"fmt"
	"strings"
)

// SubagentResult is one completed background subagent result available for
// injection into its parent agent's buffer.
type SubagentResult struct {
	ID      string
	Content string
}

// SubagentResultSource polls for subagent results that have completed
// since the last poll for a given agent. Implementations must not block;
// an empty slice means nothing new is ready yet.
type SubagentResultSource interface {
	PollResults(agentID string) []SubagentResult
}

// AsyncSubagentResultHook is the optional PostToolUse hook that injects
// completed background-subagent output as an "ASYNC SUBAGENT RESULTS"
// message (spec §4.4.3), using a configurable injection strategy.
type AsyncSubagentResultHook struct {
	Source   SubagentResultSource
	Strategy InjectStrategy
}

func (h *AsyncSubagentResultHook) Name() string { return "async_subagent_result" }

func (h *AsyncSubagentResultHook) Handle(event Event, call Call, ctx *Context) Result {
	if event != PostToolUse || h.Source == nil {
		return Result{Decision: Allow}
	}
	results := h.Source.PollResults(ctx.AgentID)
	if len(results) == 0 {
		return Result{Decision: Allow}
	}

	strategy := h.Strategy
	if strategy == "" {
		strategy = InjectAsUser
	}

	var b strings.Builder
	b.WriteString("ASYNC SUBAGENT RESULTS\n")
	for _, r := range results {
		fmt.Fprintf(&b, "[%s]\n%s\n", r.ID, r.Content)
	}

	return Result{
		Decision: Allow,
		Inject:   &Injection{Content: b.String(), Strategy: strategy},
	}
}
