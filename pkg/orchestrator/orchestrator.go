package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/massgen-go/massgen/pkg/buffer"
	"github.com/massgen-go/massgen/pkg/coordination"
)

// timeNow is overridable in tests for deterministic round-start timestamps.
var timeNow = time.Now

// Run starts a coordination session for task and returns a channel of
// Chunks. The channel is closed after the terminal result/done/error
// chunk is sent (spec.md §4.1's protocol state machine: Init ->
// Coordination round -> Consensus check -> Final round -> Termination).
func (o *Orchestrator) Run(ctx context.Context, task string) (<-chan Chunk, error) {
	if len(o.agents) == 0 {
		return nil, ErrNoAgents
	}

	ids := make([]coordination.AgentID, len(o.agents))
	for i, a := range o.agents {
		ids[i] = a.ID
	}
	o.tracker.InitSession(ids)

	buffers := make(map[coordination.AgentID]*buffer.Buffer, len(ids))
	for _, id := range ids {
		o.states.init(id)
		buffers[id] = buffer.New(string(id))
	}

	out := make(chan Chunk, 64)
	go o.run(ctx, task, buffers, out)
	return out, nil
}

func (o *Orchestrator) run(ctx context.Context, task string, buffers map[coordination.AgentID]*buffer.Buffer, out chan<- Chunk) {
	defer close(out)

	ctx, span := o.tracer.StartSpan(ctx, "orchestrator.run")
	defer o.tracer.EndSpan(span)

	// callerCtx is the context Run was actually called with (after span
	// wrapping, which preserves its Done channel). sessionCtx may add its
	// own internal deadline on top of it; comparing the two after
	// sessionCtx.Done() fires is how a caller-initiated cancellation is
	// told apart from the internal session timeout (spec.md §4.1.5 vs
	// §4.1's termination-on-cancel requirement).
	callerCtx := ctx
	sessionCtx := ctx
	if o.config.SessionTimeout > 0 {
		var cancel context.CancelFunc
		sessionCtx, cancel = context.WithTimeout(ctx, o.config.SessionTimeout)
		defer cancel()
	}

	for {
		o.settleVoteOnlyRestarts()
		active := o.activeAgents()
		if len(active) == 0 {
			break
		}

		var wg sync.WaitGroup
		for _, ac := range active {
			wg.Add(1)
			go func(ac AgentConfig) {
				defer wg.Done()
				o.runTurn(sessionCtx, ac, task, buffers[ac.ID], out)
			}(ac)
		}
		waitDone := make(chan struct{})
		go func() { wg.Wait(); close(waitDone) }()

		select {
		case <-waitDone:
		case <-sessionCtx.Done():
			<-waitDone
			if callerCtx.Err() == nil {
				o.forceRemainingVotes(out)
			}
		}

		if callerCtx.Err() != nil {
			// Caller cancelled: every in-flight turn has already been
			// joined above via waitDone, no hooks fire for turns that
			// never produced a tool call, and no forced vote or final
			// round runs — the session simply ends with no result.
			out <- Chunk{Type: ChunkTypeDone}
			return
		}

		if o.consensusReached() {
			break
		}
		if sessionCtx.Err() != nil {
			break
		}
	}

	winner, finalAnswer, err := o.finalRound(sessionCtx, task, buffers, out)
	if err != nil {
		out <- Chunk{Type: ChunkTypeDone}
		return
	}
	out <- Chunk{Type: ChunkTypeResult, ResultKind: ResultFinal, FinalWinner: winner, FinalAnswer: finalAnswer}
}

// activeAgents returns the agents that still need a turn this wave: under
// skip_voting, agents with no answer yet; otherwise, agents that have not
// yet cast a vote, or that have voted but have a legitimate restart_pending
// flag set by a later peer answer (spec.md:81 — "spawn one concurrent task
// per agent that has no answer or whose restart_pending is true"). An
// already-voted agent with no prior answer and restart_pending set is
// instead settled by settleVoteOnlyRestarts below and never reaches here.
func (o *Orchestrator) activeAgents() []AgentConfig {
	var out []AgentConfig
	for _, ac := range o.agents {
		s := o.states.get(ac.ID)
		s.mu.Lock()
		var active bool
		if o.config.SkipVoting {
			active = s.Answer == ""
		} else {
			active = !s.HasVoted || s.RestartPending
		}
		s.mu.Unlock()
		if active {
			out = append(out, ac)
		}
	}
	return out
}

// settleVoteOnlyRestarts clears restart_pending, without a backend call or
// injection, for an agent that has already voted and has no prior answer
// (spec.md:112's "vote-only restart": the agent never had a deliverable of
// its own to revise, so a peer's new answer has nothing left to change). An
// agent that has both answered and voted keeps its restart_pending flag and
// is re-spawned by activeAgents above so it can see the update and revise
// its vote.
func (o *Orchestrator) settleVoteOnlyRestarts() {
	for _, ac := range o.agents {
		s := o.states.get(ac.ID)
		s.mu.Lock()
		shouldClear := s.HasVoted && s.RestartPending && s.Answer == ""
		if shouldClear {
			s.RestartPending = false
		}
		s.mu.Unlock()
		if shouldClear {
			o.tracker.CompleteAgentRestart(ac.ID)
		}
	}
}

func (o *Orchestrator) consensusReached() bool {
	for _, ac := range o.agents {
		s := o.states.get(ac.ID)
		s.mu.Lock()
		var ok bool
		if o.config.SkipVoting {
			ok = s.Answer != ""
		} else {
			ok = s.HasVoted && !s.RestartPending
		}
		s.mu.Unlock()
		if !ok {
			return false
		}
	}
	return true
}

// forceRemainingVotes implements the total-session-timeout failure
// semantics of spec.md §4.1.5: force a vote for every agent that has not
// yet voted, all for the same candidate: the first agent in sorted id order
// that has at least one recorded answer. If no agent has an answer, no
// votes are forced.
func (o *Orchestrator) forceRemainingVotes(out chan<- Chunk) {
	snap, err := o.tracker.Snapshot()
	if err != nil {
		return
	}
	var candidate coordination.AgentID
	for _, id := range o.registrationOrder {
		if len(snap.AnswersByAgent[id]) > 0 {
			candidate = id
			break
		}
	}
	if candidate == "" {
		return
	}
	anon := snap.AnonForward[candidate]

	for _, ac := range o.agents {
		s := o.states.get(ac.ID)
		s.mu.Lock()
		voted := s.HasVoted
		s.mu.Unlock()
		if voted {
			continue
		}
		vote, err := o.tracker.AddVote(ac.ID, coordination.VotePayload{AgentIDAnon: anon, Reason: "forced by session timeout"})
		if err != nil {
			continue
		}
		s.mu.Lock()
		s.HasVoted = true
		s.mu.Unlock()
		out <- Chunk{AgentID: ac.ID, Type: ChunkTypeResult, ResultKind: ResultVote, Vote: &vote}
	}
}

// finalRound determines the winner (spec.md §4.1.3) and runs it as
// presenter with the presentation-mode system message, returning its
// final deliverable.
func (o *Orchestrator) finalRound(ctx context.Context, task string, buffers map[coordination.AgentID]*buffer.Buffer, out chan<- Chunk) (coordination.AgentID, string, error) {
	snap, err := o.tracker.Snapshot()
	if err != nil {
		return "", "", err
	}
	winner, err := determineWinner(snap, o.registrationOrder)
	if err != nil {
		return "", "", err
	}
	if err := o.tracker.StartFinalRound(winner); err != nil {
		return "", "", err
	}

	var presenter AgentConfig
	for _, ac := range o.agents {
		if ac.ID == winner {
			presenter = ac
			break
		}
	}

	finalAnswer, err := o.runPresentationTurn(ctx, presenter, buffers[winner], out)
	if err != nil {
		return "", "", err
	}
	return winner, finalAnswer, nil
}
