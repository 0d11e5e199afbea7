// Package hook implements the pre/post tool-call interceptor pipeline: the
// mechanism by which the orchestrator injects mid-stream peer-answer
// updates and enforces per-round time budgets without the agent backend
// knowing any of this machinery exists.
package hook

import (
	"fmt"
	"time"
)

// Event identifies which side of a tool call a hook is observing.
type Event string

const (
	// PreToolUse fires before a tool call is dispatched; a hook may deny it.
	PreToolUse Event = "pre_tool_use"
	// PostToolUse fires after a tool call completes; a hook may inject a
	// follow-up user message.
	PostToolUse Event = "post_tool_use"
)

// Decision is the verdict a hook returns for PreToolUse.
type Decision string

const (
	Allow Decision = "allow"
	Deny  Decision = "deny"
)

// InjectStrategy controls how Injection.Content is appended.
type InjectStrategy string

const (
	// InjectAsUser appends the content as a user-role entry.
	InjectAsUser InjectStrategy = "user"
	// InjectAsSystemNote appends the content as a system-role note.
	InjectAsSystemNote InjectStrategy = "system_note"
)

// Injection is a follow-up message a hook wants appended to the agent's
// buffer after the current tool result.
type Injection struct {
	Content  string
	Strategy InjectStrategy
}

// Context carries the call-site information a hook needs to decide.
type Context struct {
	AgentID   string
	Round     int
	RoundStart time.Time
	// Extra carries component-specific state a hook needs across calls
	// within one agent's lifetime (e.g. known_answer_ids, timeout phase).
	// Hooks type-assert their own key to the state they stored previously.
	Extra map[string]any
}

// Call describes the tool invocation being intercepted.
type Call struct {
	ToolName  string
	Arguments []byte
}

// Result is what a hook returns for a given Event.
type Result struct {
	Decision Decision
	Reason   string
	Inject   *Injection
}

// Hook is a single pre/post tool-call interceptor. Implementations must be
// safe for concurrent use across different agents' contexts, but are only
// ever invoked for one agent's turn at a time (never concurrently for the
// same Context.AgentID).
type Hook interface {
	// Name identifies the hook for diagnostics and registration order.
	Name() string
	// Handle runs the hook for the given event. Hooks that don't care about
	// an event should return an Allow decision with no injection.
	Handle(event Event, call Call, ctx *Context) Result
}

// Manager runs registered hooks in order, short-circuiting on first deny
// and accumulating injections from every hook that ran (last-write-wins on
// strategy when more than one hook injects for the same event).
//
// Grounded on the teacher's Bus pub/sub ordering discipline (registration
// order preserved, subscriber list copied under lock before use) adapted
// from "fan out a message" to "run an ordered interceptor chain".
type Manager struct {
	hooks []Hook
}

// NewManager creates a Manager with the given hooks run in the given order.
func NewManager(hooks ...Hook) *Manager {
	return &Manager{hooks: hooks}
}

// Register appends a hook to the end of the chain.
func (m *Manager) Register(h Hook) {
	m.hooks = append(m.hooks, h)
}

// Run executes every hook for the given event against ctx, stopping at the
// first deny. It returns the aggregate decision and a combined injection:
// content from every hook that returned one is concatenated in run order
// separated by blank lines; the strategy used is the last hook's.
func (m *Manager) Run(event Event, call Call, ctx *Context) Result {
	var combined []string
	var strategy InjectStrategy = InjectAsUser
	var hadInject bool

	for _, h := range m.hooks {
		res := h.Handle(event, call, ctx)
		if res.Decision == Deny {
			return Result{Decision: Deny, Reason: fmt.Sprintf("%s: %s", h.Name(), res.Reason)}
		}
		if res.Inject != nil && res.Inject.Content != "" {
			combined = append(combined, res.Inject.Content)
			strategy = res.Inject.Strategy
			hadInject = true
		}
	}

	result := Result{Decision: Allow}
	if hadInject {
		content := combined[0]
		for _, s := range combined[1:] {
			content += "\n\n" + s
		}
		result.Inject = &Injection{Content: content, Strategy: strategy}
	}
	return result
}
