package hook

import (
	"testing"
	"time"

	"github.com/massgen-go/massgen/pkg/coordination"
)

type fakeRestartState struct {
	pending map[string]bool
	known   map[string]map[string]bool
}

func newFakeRestartState() *fakeRestartState {
	return &fakeRestartState{pending: map[string]bool{}, known: map[string]map[string]bool{}}
}

func (f *fakeRestartState) RestartPending(agentID string) bool { return f.pending[agentID] }

func (f *fakeRestartState) KnownAnswerIDs(agentID string) map[string]bool {
	return f.known[agentID]
}

func (f *fakeRestartState) MarkAnswerKnown(agentID, sourceID string) {
	if f.known[agentID] == nil {
		f.known[agentID] = map[string]bool{}
	}
	f.known[agentID][sourceID] = true
}

func (f *fakeRestartState) ClearRestartPending(agentID string) {
	f.pending[agentID] = false
}

func TestPeerAnswerInjectionInjectsNewAnswersAndClearsPending(t *testing.T) {
	tr := coordination.NewTracker()
	tr.InitSession([]coordination.AgentID{"a", "b"})
	tr.AddAnswer("a", "a's answer", 1)

	state := newFakeRestartState()
	state.pending["b"] = true

	h := &PeerAnswerInjection{Tracker: tr, State: state}
	res := h.Handle(PostToolUse, Call{ToolName: "read_file"}, &Context{AgentID: "b"})

	if res.Decision != Allow {
		t.Fatalf("Decision = %v, want Allow", res.Decision)
	}
	if res.Inject == nil {
		t.Fatal("Inject = nil, want an injection with a's new answer")
	}
	if state.pending["b"] {
		t.Error("restart_pending still true after injection, want cleared")
	}
}

func TestPeerAnswerInjectionClearsStaleRestartWithoutInjection(t *testing.T) {
	tr := coordination.NewTracker()
	tr.InitSession([]coordination.AgentID{"a", "b"})

	state := newFakeRestartState()
	state.pending["b"] = true
	state.MarkAnswerKnown("b", "a") // nothing new: b already knows everything (here, nothing exists)

	h := &PeerAnswerInjection{Tracker: tr, State: state}
	res := h.Handle(PostToolUse, Call{}, &Context{AgentID: "b"})

	if res.Inject != nil {
		t.Errorf("Inject = %+v, want nil (stale restart, no new answers)", res.Inject)
	}
	if state.pending["b"] {
		t.Error("restart_pending still true, want cleared even with nothing new")
	}
}

func TestRoundTimeoutSoftThenHard(t *testing.T) {
	start := time.Now().Add(-5 * time.Second)
	clock := start.Add(5 * time.Second) // "now" = 5s after round start
	h := &RoundTimeoutHook{
		InitialRoundTimeout: time.Second,
		GracePeriod:         0,
		Now:                 func() time.Time { return clock },
	}
	ctx := &Context{AgentID: "a", Round: 1, RoundStart: start}

	soft := h.Handle(PostToolUse, Call{ToolName: "read_file"}, ctx)
	if soft.Inject == nil {
		t.Fatal("expected soft timeout injection")
	}

	hard := h.Handle(PreToolUse, Call{ToolName: "read_file"}, ctx)
	if hard.Decision != Deny {
		t.Fatalf("Decision = %v, want Deny on hard timeout for non-workflow tool", hard.Decision)
	}

	allowed := h.Handle(PreToolUse, Call{ToolName: "vote"}, ctx)
	if allowed.Decision != Allow {
		t.Errorf("Decision = %v, want Allow for vote during hard timeout", allowed.Decision)
	}
	if RoundTimeoutPhaseOf(ctx).ConsecutiveHardDenials != 0 {
		t.Errorf("ConsecutiveHardDenials = %d, want 0 after an allowed workflow tool", RoundTimeoutPhaseOf(ctx).ConsecutiveHardDenials)
	}
}

func TestManagerFirstDenyShortCircuits(t *testing.T) {
	denier := denyHook{}
	never := spyHook{}
	m := NewManager(denier, &never)

	res := m.Run(PreToolUse, Call{ToolName: "read_file"}, &Context{})
	if res.Decision != Deny {
		t.Fatalf("Decision = %v, want Deny", res.Decision)
	}
	if never.called {
		t.Error("second hook ran after first hook denied, want short-circuit")
	}
}

type denyHook struct{}

func (denyHook) Name() string { return "deny" }
func (denyHook) Handle(Event, Call, *Context) Result {
	return Result{Decision: Deny, Reason: "nope"}
}

type spyHook struct{ called bool }

func (h *spyHook) Name() string { return "spy" }
func (h *spyHook) Handle(Event, Call, *Context) Result {
	h.called = true
	return Result{Decision: Allow}
}

func TestManagerCombinesInjectionsFromMultipleHooks(t *testing.T) {
	m := NewManager(injectHook{text: "first"}, injectHook{text: "second"})
	res := m.Run(PostToolUse, Call{}, &Context{})
	if res.Inject == nil {
		t.Fatal("Inject = nil, want combined injection")
	}
	if res.Inject.Content != "first\n\nsecond" {
		t.Errorf("Inject.Content = %q, want combined in run order", res.Inject.Content)
	}
}

type injectHook struct{ text string }

func (h injectHook) Name() string { return "inject:" + h.text }
func (h injectHook) Handle(Event, Call, *Context) Result {
	return Result{Decision: Allow, Inject: &Injection{Content: h.text, Strategy: InjectAsUser}}
}
