package coordination

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Session is the authoritative record of one coordination run: every answer
// and vote submitted, current round per agent, and the stable anonymous
// identity mapping shown to agents in place of real ids.
type Session struct {
	AnswersByAgent map[AgentID][]AgentAnswer
	Votes          []AgentVote
	AgentRounds    map[AgentID]int
	AnonForward    map[AgentID]string // real -> anon, e.g. "agent2"
	AnonReverse    map[string]AgentID // anon -> real
	IsFinalRound   bool
	FinalWinner    AgentID
}

type restartState struct {
	pending    bool
	generation uint64
}

// Tracker is the concurrency-safe owner of a Session plus the bookkeeping
// needed to resolve vote labels and enforce restart-pending transitions.
// Grounded on the generation-counter ownership-transfer pattern (adapted
// from a single-owner handoff primitive into a per-agent pending/cleared
// flag that can only be cleared through CompleteAgentRestart).
type Tracker struct {
	mu sync.Mutex

	session *Session

	// contextSnapshots[voter][target] holds the last answer text the voter
	// was shown for target, used to resolve which labeled answer a vote
	// actually refers to.
	contextSnapshots map[AgentID]map[AgentID]string

	restarts map[AgentID]*restartState
	audit    []RestartAudit
}

// NewTracker creates a Tracker with no session initialized.
func NewTracker() *Tracker {
	return &Tracker{}
}

// InitSession registers the participating agents and assigns the stable
// anonymous alias mapping in sorted-lexicographic order of their real ids
// (agent1 is the lexicographically smallest id, regardless of join order).
func (t *Tracker) InitSession(agents []AgentID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	sorted := make([]AgentID, len(agents))
	copy(sorted, agents)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	forward := make(map[AgentID]string, len(sorted))
	reverse := make(map[string]AgentID, len(sorted))
	rounds := make(map[AgentID]int, len(sorted))
	restarts := make(map[AgentID]*restartState, len(sorted))
	for i, id := range sorted {
		anon := fmt.Sprintf("agent%d", i+1)
		forward[id] = anon
		reverse[anon] = id
		rounds[id] = 1
		restarts[id] = &restartState{}
	}

	t.session = &Session{
		AnswersByAgent: make(map[AgentID][]AgentAnswer),
		AgentRounds:    rounds,
		AnonForward:    forward,
		AnonReverse:    reverse,
	}
	t.contextSnapshots = make(map[AgentID]map[AgentID]string)
	t.restarts = restarts
	t.audit = nil
}

func (t *Tracker) mustSession() (*Session, error) {
	if t.session == nil {
		return nil, ErrSessionNotInitialized
	}
	return t.session, nil
}

// AddAnswer records a plain-text answer for agent in the given round and
// returns its assigned label ("{anon}.{N}").
func (t *Tracker) AddAnswer(agent AgentID, content string, round int) (string, error) {
	return t.AddAnswerWithChangedoc(agent, content, round, "")
}

// AddAnswerWithChangedoc is AddAnswer with an attached changedoc snapshot
// (see original_source/massgen/changedoc.py) recorded alongside the answer.
func (t *Tracker) AddAnswerWithChangedoc(agent AgentID, content string, round int, changedoc string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, err := t.mustSession()
	if err != nil {
		return "", err
	}
	anon, ok := s.AnonForward[agent]
	if !ok {
		return "", ErrUnknownAgent
	}

	n := len(s.AnswersByAgent[agent]) + 1
	label := fmt.Sprintf("%s.%d", anon, n)
	s.AnswersByAgent[agent] = append(s.AnswersByAgent[agent], AgentAnswer{
		AgentID:   agent,
		Content:   content,
		Timestamp: nowFunc(),
		Round:     round,
		Label:     label,
		Changedoc: changedoc,
	})
	return label, nil
}

// TrackContext records the full set of peer answers voter was shown as of
// the moment their current turn began (real id -> answer content). Used
// later by AddVote to resolve which specific labeled answer a vote names,
// since the target may have submitted a newer answer between when the
// voter read it and when they cast their vote.
func (t *Tracker) TrackContext(voter AgentID, shown map[AgentID]string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	snapshot := make(map[AgentID]string, len(shown))
	for k, v := range shown {
		snapshot[k] = v
	}
	t.contextSnapshots[voter] = snapshot
}

// AddVote records a vote. The vote's label is resolved against the
// snapshot voter last saw for the target (via TrackContext); if no
// snapshot matches any recorded answer, the target's latest answer label
// is used instead.
func (t *Tracker) AddVote(voter AgentID, payload VotePayload) (AgentVote, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, err := t.mustSession()
	if err != nil {
		return AgentVote{}, err
	}
	voterAnon, ok := s.AnonForward[voter]
	if !ok {
		return AgentVote{}, ErrUnknownAgent
	}
	target, ok := s.AnonReverse[payload.AgentIDAnon]
	if !ok {
		return AgentVote{}, ErrUnknownAnon
	}
	answers := s.AnswersByAgent[target]
	if len(answers) == 0 {
		return AgentVote{}, ErrNoSuchCandidate
	}

	label := answers[len(answers)-1].Label
	if snapshot, ok := t.contextSnapshots[voter][target]; ok {
		for _, a := range answers {
			if a.Content == snapshot {
				label = a.Label
				break
			}
		}
	}

	vote := AgentVote{
		VoterID:        voter,
		VoterAnonID:    voterAnon,
		VotedForRealID: target,
		VotedForLabel:  label,
		Reason:         payload.Reason,
		Suggestions:    payload.Suggestions,
		Timestamp:      nowFunc(),
	}
	s.Votes = append(s.Votes, vote)
	return vote, nil
}

// TrackRestartSignal marks agent as having a pending restart, bumping its
// generation counter. CompleteAgentRestart is the only way to clear
// pending; callers must not flip it back to false by any other path.
func (t *Tracker) TrackRestartSignal(agent AgentID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.mustSession(); err != nil {
		return err
	}
	rs, ok := t.restarts[agent]
	if !ok {
		return ErrUnknownAgent
	}
	rs.pending = true
	rs.generation++
	return nil
}

// IsRestartPending reports whether agent currently has an uncompleted
// restart signal.
func (t *Tracker) IsRestartPending(agent AgentID) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rs, ok := t.restarts[agent]
	if !ok {
		return false, ErrUnknownAgent
	}
	return rs.pending, nil
}

// CompleteAgentRestart clears agent's pending restart flag and, if it was
// set, advances the agent's round counter. It returns whether the round
// actually advanced (false if there was no pending restart to complete,
// which is a no-op, not an error).
func (t *Tracker) CompleteAgentRestart(agent AgentID) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, err := t.mustSession()
	if err != nil {
		return false, err
	}
	rs, ok := t.restarts[agent]
	if !ok {
		return false, ErrUnknownAgent
	}
	if !rs.pending {
		return false, nil
	}
	rs.pending = false
	s.AgentRounds[agent]++
	t.audit = append(t.audit, RestartAudit{
		AgentID:    agent,
		Generation: rs.generation,
		Round:      s.AgentRounds[agent],
		Timestamp:  nowFunc(),
	})
	return true, nil
}

// StartNewIteration resets final-round state for a fresh coordination
// iteration, keeping accumulated answers and votes intact.
func (t *Tracker) StartNewIteration() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, err := t.mustSession()
	if err != nil {
		return err
	}
	s.IsFinalRound = false
	s.FinalWinner = ""
	return nil
}

// StartFinalRound marks the session as being in its final round with the
// given winner, advancing the winner's round counter to one past the
// highest round number recorded for any agent.
func (t *Tracker) StartFinalRound(winner AgentID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, err := t.mustSession()
	if err != nil {
		return err
	}
	if _, ok := s.AnonForward[winner]; !ok {
		return ErrUnknownAgent
	}

	max := 0
	for _, r := range s.AgentRounds {
		if r > max {
			max = r
		}
	}
	s.IsFinalRound = true
	s.FinalWinner = winner
	s.AgentRounds[winner] = max + 1
	return nil
}

// GetAnonymousMapping returns the anonymous-alias -> real-id mapping
// ("anon_to_real" in the original implementation, despite the name).
func (t *Tracker) GetAnonymousMapping() (map[string]AgentID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, err := t.mustSession()
	if err != nil {
		return nil, err
	}
	out := make(map[string]AgentID, len(s.AnonReverse))
	for k, v := range s.AnonReverse {
		out[k] = v
	}
	return out, nil
}

// GetReverseMapping returns the real-id -> anonymous-alias mapping.
func (t *Tracker) GetReverseMapping() (map[AgentID]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, err := t.mustSession()
	if err != nil {
		return nil, err
	}
	out := make(map[AgentID]string, len(s.AnonForward))
	for k, v := range s.AnonForward {
		out[k] = v
	}
	return out, nil
}

// GetLatestAnswerLabel returns the label of agent's most recent answer, or
// "" if agent has not answered yet.
func (t *Tracker) GetLatestAnswerLabel(agent AgentID) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, err := t.mustSession()
	if err != nil {
		return "", err
	}
	answers := s.AnswersByAgent[agent]
	if len(answers) == 0 {
		return "", nil
	}
	return answers[len(answers)-1].Label, nil
}

// GetAgentRound returns agent's current round number.
func (t *Tracker) GetAgentRound(agent AgentID) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, err := t.mustSession()
	if err != nil {
		return 0, err
	}
	r, ok := s.AgentRounds[agent]
	if !ok {
		return 0, ErrUnknownAgent
	}
	return r, nil
}

// AllLatestAnswers returns, for every agent that has answered at least
// once, its most recent AgentAnswer.
func (t *Tracker) AllLatestAnswers() (map[AgentID]AgentAnswer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, err := t.mustSession()
	if err != nil {
		return nil, err
	}
	out := make(map[AgentID]AgentAnswer, len(s.AnswersByAgent))
	for id, answers := range s.AnswersByAgent {
		if len(answers) > 0 {
			out[id] = answers[len(answers)-1]
		}
	}
	return out, nil
}

// Snapshot returns a deep-enough copy of the current session state for
// read-only consumers (prompt builders, status reporting).
func (t *Tracker) Snapshot() (Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, err := t.mustSession()
	if err != nil {
		return Session{}, err
	}

	answers := make(map[AgentID][]AgentAnswer, len(s.AnswersByAgent))
	for k, v := range s.AnswersByAgent {
		cp := make([]AgentAnswer, len(v))
		copy(cp, v)
		answers[k] = cp
	}
	votes := make([]AgentVote, len(s.Votes))
	copy(votes, s.Votes)
	rounds := make(map[AgentID]int, len(s.AgentRounds))
	for k, v := range s.AgentRounds {
		rounds[k] = v
	}

	return Session{
		AnswersByAgent: answers,
		Votes:          votes,
		AgentRounds:    rounds,
		AnonForward:    s.AnonForward,
		AnonReverse:    s.AnonReverse,
		IsFinalRound:   s.IsFinalRound,
		FinalWinner:    s.FinalWinner,
	}, nil
}

// RestartAuditLog returns the recorded history of completed restarts, in
// the order they completed.
func (t *Tracker) RestartAuditLog() []RestartAudit {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]RestartAudit, len(t.audit))
	copy(out, t.audit)
	return out
}

// nowFunc is overridable in tests that need deterministic timestamps.
var nowFunc = time.Now
