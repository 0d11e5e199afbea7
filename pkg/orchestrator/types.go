// Package orchestrator drives the full coordination protocol described in
// spec.md §4.1: a round-based state machine that dispatches one goroutine
// per agent turn, intercepts the new_answer/vote workflow tools, mediates
// restarts when peer answers arrive mid-stream, and determines a winner.
//
// Grounded on the teacher's pkg/orchestrator/team.Team — same functional
// options shape and per-round goroutine fan-out — generalized from
// consensus-strategy evaluation to the vote/restart protocol this spec
// requires, and on pkg/agent.Run's single-turn loop (span-per-phase,
// tool-not-found/violation is non-fatal, backward-scan for the final
// message) adapted to stream from llm.Backend/ChunkStream instead of a
// single Provider.Complete call.
package orchestrator

import (
	"fmt"
	"sync"
	"time"

	"github.com/massgen-go/massgen/pkg/broadcast"
	"github.com/massgen-go/massgen/pkg/coordination"
	"github.com/massgen-go/massgen/pkg/cost"
	"github.com/massgen-go/massgen/pkg/hook"
	"github.com/massgen-go/massgen/pkg/llm"
	"github.com/massgen-go/massgen/pkg/sysmsg"
	"github.com/massgen-go/massgen/pkg/trace"
)

// ChunkType identifies the kind of payload an orchestrator Chunk carries
// (spec.md §4.1: "content|tool_calls|done|error|result").
type ChunkType string

const (
	ChunkTypeContent           ChunkType = "content"
	ChunkTypeExternalToolCalls ChunkType = "external_tool_calls"
	ChunkTypeDone              ChunkType = "done"
	ChunkTypeError             ChunkType = "error"
	ChunkTypeResult            ChunkType = "result"
)

// ResultKind distinguishes the three shapes a "result" Chunk can carry.
type ResultKind string

const (
	ResultAnswer ResultKind = "answer"
	ResultVote   ResultKind = "vote"
	ResultFinal  ResultKind = "final"
)

// Chunk is one event on the orchestrator's output stream, tagged with its
// source agent (empty for the terminal final-result chunk).
type Chunk struct {
	AgentID coordination.AgentID
	Type    ChunkType

	Text              string
	ExternalToolCalls []llm.ToolCall
	Err               error

	ResultKind    ResultKind
	AnswerContent string
	Vote          *coordination.AgentVote
	FinalWinner   coordination.AgentID
	FinalAnswer   string
}

// WorkspaceProvider is the optional capability a Backend may implement to
// expose filesystem snapshot operations (spec.md §9's duck-typed
// "filesystem_manager"). When a backend implements it, SaveSnapshot(false)
// is called after each accepted new_answer; backends that don't skip that
// step. The system message's filesystem section is not filled from this
// interface.
type WorkspaceProvider interface {
	SaveSnapshot(isFinal bool) (dir string, err error)
	ClearWorkspace() error
	CopySnapshotsToTempWorkspace(snapshots map[coordination.AgentID]string, anon map[coordination.AgentID]string) (string, error)
}

// ExternalTool is a tool definition the orchestrator passes through
// unmodified: its lifecycle is intercepted by the hook pipeline but its
// semantics are the caller's (spec.md §4.1.1 "other tools ... pass through
// unmodified").
type ExternalTool = llm.ToolDefinition

// MemoryProvider is the optional capability a Backend may implement to
// surface archived per-turn memory notes for the sysmsg "memory" section
// (spec.md §4.5 section 6). Mirrors WorkspaceProvider's duck-typed
// capability pattern (spec.md §9): backends that don't implement it simply
// get no memory section.
type MemoryProvider interface {
	MemoryNotes() []sysmsg.MemoryNote
}

// AgentConfig is one participating agent: its identity, backend, persona,
// and any externally-executed tools offered alongside the workflow tools.
type AgentConfig struct {
	ID            coordination.AgentID
	Backend       llm.Backend
	Model         string // model identifier, used for cost attribution only
	Persona       string
	ExternalTools []ExternalTool
	Skills        map[string]string
}

// Config controls session-wide orchestrator behavior (spec.md §6).
type Config struct {
	MaxRetries int // enforcement retries per turn; 0 defaults to 3

	SkipVoting       bool
	DisableInjection bool
	PersonaEasing    bool

	BroadcastEnabled     bool
	BroadcastSensitivity string
	VotingSensitivity    string

	InitialRoundTimeout    time.Duration
	SubsequentRoundTimeout time.Duration
	RoundTimeoutGrace      time.Duration

	SessionTimeout time.Duration
}

func (c Config) maxRetries() int {
	if c.MaxRetries > 0 {
		return c.MaxRetries
	}
	return 3
}

// AgentState is the per-agent, per-session mutable state the orchestrator
// and hook pipeline share (spec.md §3's AgentState). Guarded by its own
// mutex since both the owning turn goroutine and concurrently-running
// sibling turns (via restart signaling) touch it.
type AgentState struct {
	mu sync.Mutex

	Round          int
	RestartPending bool
	InjectionCount int
	KnownAnswerIDs map[string]bool
	Answer         string
	HasVoted       bool
	RoundStart     time.Time
}

// stateRegistry owns every agent's AgentState plus the tracker, and
// implements hook.RestartState so the peer-answer-injection hook can read
// and clear the fields it's responsible for without depending on this
// package.
type stateRegistry struct {
	mu      sync.Mutex
	states  map[coordination.AgentID]*AgentState
	tracker *coordination.Tracker
}

func newStateRegistry(tracker *coordination.Tracker) *stateRegistry {
	return &stateRegistry{states: make(map[coordination.AgentID]*AgentState), tracker: tracker}
}

func (r *stateRegistry) init(id coordination.AgentID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[id] = &AgentState{KnownAnswerIDs: make(map[string]bool), Round: 1}
}

func (r *stateRegistry) get(id coordination.AgentID) *AgentState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.states[id]
}

func (r *stateRegistry) RestartPending(agentID string) bool {
	s := r.get(coordination.AgentID(agentID))
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.RestartPending
}

func (r *stateRegistry) KnownAnswerIDs(agentID string) map[string]bool {
	s := r.get(coordination.AgentID(agentID))
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool, len(s.KnownAnswerIDs))
	for k, v := range s.KnownAnswerIDs {
		out[k] = v
	}
	return out
}

func (r *stateRegistry) MarkAnswerKnown(agentID, sourceID string) {
	s := r.get(coordination.AgentID(agentID))
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.KnownAnswerIDs == nil {
		s.KnownAnswerIDs = make(map[string]bool)
	}
	s.KnownAnswerIDs[sourceID] = true
}

func (r *stateRegistry) ClearRestartPending(agentID string) {
	s := r.get(coordination.AgentID(agentID))
	if s == nil {
		return
	}
	s.mu.Lock()
	s.RestartPending = false
	s.InjectionCount++
	s.mu.Unlock()
	r.tracker.CompleteAgentRestart(coordination.AgentID(agentID))
}

var _ hook.RestartState = (*stateRegistry)(nil)

// Orchestrator drives one coordination session across its configured
// agents. Construct with New and run with Run; an Orchestrator is single
// use (one session per instance), matching the teacher's Team.Run shape.
type Orchestrator struct {
	agents  []AgentConfig
	tracker *coordination.Tracker
	hooks   *hook.Manager
	bcast   *broadcast.Channel
	states  *stateRegistry
	config  Config
	tracer  trace.Tracer
	costs   *cost.Tracker

	registrationOrder []coordination.AgentID
}

// Option is a functional option for configuring an Orchestrator.
type Option func(*Orchestrator)

// WithConfig sets the session configuration.
func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) { o.config = cfg }
}

// WithBroadcast attaches a BroadcastChannel, enabling ask_others/
// respond_to_broadcast. Without one, ask_others always reports itself
// disabled.
func WithBroadcast(ch *broadcast.Channel) Option {
	return func(o *Orchestrator) { o.bcast = ch }
}

// WithTracer attaches a trace.Tracer; defaults to trace.Noop{}.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithCostTracker attaches a cost.Tracker. When set, every agent turn's
// final Usage is recorded against the agent's AgentConfig.Model, allocated
// per agent id via AddForEntity (spec.md §10.1's "every component ...
// continues to be instrumented").
func WithCostTracker(t *cost.Tracker) Option {
	return func(o *Orchestrator) { o.costs = t }
}

// WithHooks registers additional hooks, in the order given. New applies
// options first and registers the built-in hooks (peer-answer injection,
// round timeout) afterwards, so these hooks run before the built-in ones.
func WithHooks(hooks ...hook.Hook) Option {
	return func(o *Orchestrator) {
		for _, h := range hooks {
			o.hooks.Register(h)
		}
	}
}

// New creates an Orchestrator for the given agents.
func New(agents []AgentConfig, opts ...Option) *Orchestrator {
	tracker := coordination.NewTracker()
	o := &Orchestrator{
		agents:  agents,
		tracker: tracker,
		hooks:   hook.NewManager(),
		states:  newStateRegistry(tracker),
		tracer:  trace.Noop{},
	}
	for _, opt := range opts {
		opt(o)
	}

	if !o.config.DisableInjection {
		o.hooks.Register(&hook.PeerAnswerInjection{Tracker: tracker, State: o.states})
	}
	if o.config.InitialRoundTimeout > 0 || o.config.SubsequentRoundTimeout > 0 {
		o.hooks.Register(&hook.RoundTimeoutHook{
			InitialRoundTimeout:    o.config.InitialRoundTimeout,
			SubsequentRoundTimeout: o.config.SubsequentRoundTimeout,
			GracePeriod:            o.config.RoundTimeoutGrace,
		})
	}

	order := make([]coordination.AgentID, len(agents))
	for i, a := range agents {
		order[i] = a.ID
	}
	sortAgentIDs(order)
	o.registrationOrder = order

	return o
}

func sortAgentIDs(ids []coordination.AgentID) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j] < ids[j-1]; j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}
}

var (
	// ErrNoAgents is returned by Run when no agents were configured.
	ErrNoAgents = fmt.Errorf("orchestrator: no agents configured")
	// ErrNoAnswers is returned by winner determination when skip_voting is
	// set (or no votes exist) and no agent has produced a non-empty answer.
	ErrNoAnswers = fmt.Errorf("orchestrator: no agent produced an answer")
)
