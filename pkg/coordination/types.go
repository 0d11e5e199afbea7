// Package coordination holds the authoritative state of one MassGen
// coordination session: answers, votes, rounds, and the anonymous identity
// mapping used in every peer-visible prompt.
package coordination

import (
	"fmt"
	"time"
)

// AgentID is an opaque, caller-assigned identifier for a coordinating agent.
type AgentID string

// Suggestions maps an anonymous agent id to a free-text improvement
// suggestion, attached to a vote.
type Suggestions map[string]string

// AgentAnswer is one answer an agent submitted during the session.
type AgentAnswer struct {
	AgentID   AgentID
	Content   string
	Timestamp time.Time
	Round     int
	// Label is "{anon}.{N}", the Nth answer this agent has submitted.
	Label string
	// Changedoc is the optional structured decision journal text that
	// accompanied this answer (see original_source/massgen/changedoc.py).
	Changedoc string
}

// AgentVote is one vote an agent cast during the session.
type AgentVote struct {
	VoterID        AgentID
	VoterAnonID    string
	VotedForRealID AgentID
	VotedForLabel  string
	Reason         string
	Suggestions    Suggestions
	Timestamp      time.Time
}

// VotePayload is the caller-supplied content of a vote call; AgentIDAnon is
// the anonymous alias the voting agent referenced (e.g. "agent2").
type VotePayload struct {
	AgentIDAnon string
	Reason      string
	Suggestions Suggestions
}

// RestartAudit records one restart-completion event, preserving the
// generation at which restart_pending flipped back to false for a given
// agent. Adapted from the ownership-transfer audit trail pattern so the
// true->false transition invariant (spec.md §3/§8) is independently
// verifiable after the fact.
type RestartAudit struct {
	AgentID    AgentID
	Generation uint64
	Round      int
	Timestamp  time.Time
}

// Sentinel errors returned by Tracker mutators.
var (
	// ErrUnknownAgent is returned when an operation references an agent id
	// that was never registered with InitSession.
	ErrUnknownAgent = fmt.Errorf("coordination: unknown agent id")
	// ErrUnknownAnon is returned when an anonymous alias cannot be resolved.
	ErrUnknownAnon = fmt.Errorf("coordination: unknown anonymous agent id")
	// ErrNoSuchCandidate is returned when a vote targets an agent that has
	// not submitted any answer yet.
	ErrNoSuchCandidate = fmt.Errorf("coordination: vote target has no recorded answer")
	// ErrSessionNotInitialized is returned when a mutator is called before
	// InitSession.
	ErrSessionNotInitialized = fmt.Errorf("coordination: session not initialized")
)
