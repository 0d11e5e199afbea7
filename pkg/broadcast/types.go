// Package broadcast implements BroadcastChannel: request/response fan-out
// from one agent to its peers (via shadow clones) or to a human operator,
// with bounded concurrency, rate limiting, and timeouts.
package broadcast

import (
	"fmt"
	"time"
)

// Mode selects how a channel's broadcasts are distributed.
type Mode string

const (
	// ModeAgents distributes to shadow agents cloned from each peer.
	ModeAgents Mode = "agents"
	// ModeHuman prompts a human operator instead of peer agents.
	ModeHuman Mode = "human"
	// ModeOff disables ask_others entirely; CreateBroadcast always fails.
	ModeOff Mode = "off"
)

// Status is the lifecycle state of a BroadcastRequest.
type Status string

const (
	StatusPending    Status = "pending"
	StatusCollecting Status = "collecting"
	StatusComplete   Status = "complete"
	StatusTimeout    Status = "timeout"
)

// StructuredQuestionOption is one selectable choice on a StructuredQuestion.
type StructuredQuestionOption struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// StructuredQuestion is the wire schema for one broadcast question with
// selectable options (spec.md §6).
type StructuredQuestion struct {
	Text        string                     `json:"text"`
	Options     []StructuredQuestionOption `json:"options,omitempty"`
	MultiSelect bool                       `json:"multiSelect,omitempty"`
	AllowOther  bool                       `json:"allowOther,omitempty"`
	Required    bool                       `json:"required,omitempty"`
}

// StructuredResponse is the wire schema for one answer to a
// StructuredQuestion.
type StructuredResponse struct {
	QuestionIDOrIndex string   `json:"question_id_or_index"`
	SelectedOptionIDs []string `json:"selected_option_ids,omitempty"`
	OtherText         string   `json:"other_text,omitempty"`
}

// Question is either a plain string prompt or a set of StructuredQuestions.
// Exactly one should be populated; when both are, Structured wins (spec.md
// §6, mirroring original_source's "questions takes precedence" rule).
type Question struct {
	Text       string
	Structured []StructuredQuestion
}

// IsStructured reports whether q carries structured questions.
func (q Question) IsStructured() bool { return len(q.Structured) > 0 }

// Response is either a plain string or a set of StructuredResponses.
type Response struct {
	Text       string
	Structured []StructuredResponse
}

// Request is one broadcast question in flight.
type Request struct {
	ID                    string
	SenderAgentID         string
	Question              Question
	Timestamp             time.Time
	Timeout               time.Duration
	ExpectedResponseCount int
	TargetAgents          []string // anonymous ids, as supplied by the caller
	Status                Status
	ResponsesReceived     int
}

// ResponseRecord is one collected answer to a Request.
type ResponseRecord struct {
	RequestID  string
	ResponderID string
	Content    Response
	IsHuman    bool
	Timestamp  time.Time
}

// WaitResult is returned by WaitForResponses.
type WaitResult struct {
	Status    Status
	Responses []ResponseRecord
}

// StatusReport is returned by Status.
type StatusReport struct {
	Status        Status
	ResponseCount int
	ExpectedCount int
	WaitingFor    []string
}

// QAEntry is one recorded human question/answer pair from this session.
type QAEntry struct {
	Question Question
	Answer   Response
}

var (
	// ErrRateLimited is returned when a sender has too many in-flight
	// broadcasts.
	ErrRateLimited = fmt.Errorf("broadcast: sender has reached its in-flight broadcast limit")
	// ErrNoValidTargets is returned when target_agents resolves to an empty
	// set (after excluding the sender and invalid aliases).
	ErrNoValidTargets = fmt.Errorf("broadcast: no valid target agents")
	// ErrUnknownRequest is returned when an operation names a request id
	// that doesn't exist (or has already been cleaned up).
	ErrUnknownRequest = fmt.Errorf("broadcast: unknown request id")
	// ErrDisabled is returned by CreateBroadcast when the channel's mode is
	// ModeOff.
	ErrDisabled = fmt.Errorf("broadcast: ask_others is disabled for this session")
)
