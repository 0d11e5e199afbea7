package hook

import (
	"fmt"
	"sort"
	"strings"

	"github.com/massgen-go/massgen/pkg/coordination"
)

// RestartState is the subset of per-agent state PeerAnswerInjection needs
// to decide whether a restart is pending and which answers this agent has
// already seen. The orchestrator owns the authoritative AgentState; this
// interface lets the hook read and clear just the fields it's responsible
// for without taking a dependency on the orchestrator package.
type RestartState interface {
	// RestartPending reports whether agent currently has a pending restart.
	RestartPending(agentID string) bool
	// KnownAnswerIDs returns the set of agent ids whose answers this agent
	// has already been shown.
	KnownAnswerIDs(agentID string) map[string]bool
	// MarkAnswerKnown records that agentID has now seen sourceID's answer.
	MarkAnswerKnown(agentID, sourceID string)
	// ClearRestartPending completes the restart for agentID (delegates to
	// coordination.Tracker.CompleteAgentRestart) and increments its
	// injection count.
	ClearRestartPending(agentID string)
}

// PeerAnswerInjection is the PostToolUse hook that synthesizes the
// "UPDATE: new answers" message described in spec §4.1.4/§4.4: when a
// restart is pending for this agent and peers have produced answers it
// hasn't seen yet, it injects them under anon tags and clears the pending
// flag. If a restart is pending but nothing new exists (a stale restart
// from a vote-only peer), it still clears the flag without injecting.
type PeerAnswerInjection struct {
	Tracker *coordination.Tracker
	State   RestartState
}

func (h *PeerAnswerInjection) Name() string { return "peer_answer_injection" }

func (h *PeerAnswerInjection) Handle(event Event, call Call, ctx *Context) Result {
	if event != PostToolUse {
		return Result{Decision: Allow}
	}
	if !h.State.RestartPending(ctx.AgentID) {
		return Result{Decision: Allow}
	}

	answers, err := h.Tracker.AllLatestAnswers()
	if err != nil {
		return Result{Decision: Allow}
	}
	known := h.State.KnownAnswerIDs(ctx.AgentID)
	reverse, err := h.Tracker.GetReverseMapping() // real -> anon
	if err != nil {
		return Result{Decision: Allow}
	}

	type fresh struct {
		anon, content string
	}
	var newOnes []fresh
	for realID, answer := range answers {
		if string(realID) == ctx.AgentID {
			continue
		}
		if known[string(realID)] {
			continue
		}
		newOnes = append(newOnes, fresh{anon: reverse[realID], content: answer.Content})
		h.State.MarkAnswerKnown(ctx.AgentID, string(realID))
	}

	h.State.ClearRestartPending(ctx.AgentID)

	if len(newOnes) == 0 {
		return Result{Decision: Allow}
	}
	sort.Slice(newOnes, func(i, j int) bool { return newOnes[i].anon < newOnes[j].anon })

	var b strings.Builder
	b.WriteString("UPDATE: new answers are available\n")
	for _, f := range newOnes {
		fmt.Fprintf(&b, "<%s>%s</%s>\n", f.anon, f.content, f.anon)
	}

	return Result{
		Decision: Allow,
		Inject:   &Injection{Content: b.String(), Strategy: InjectAsUser},
	}
}
