package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/massgen-go/massgen/pkg/buffer"
	"github.com/massgen-go/massgen/pkg/coordination"
	"github.com/massgen-go/massgen/pkg/hook"
	"github.com/massgen-go/massgen/pkg/llm"
	"github.com/massgen-go/massgen/pkg/sysmsg"
	"github.com/massgen-go/massgen/pkg/tool"
)

// newAnswerArgs/voteArgs/askOthersArgs are aliases onto pkg/tool's
// gjson-backed dynamic parsers (see pkg/tool/args.go), kept under these
// names so the rest of this file reads the way it did before the parsing
// was factored out.
type newAnswerArgs = tool.NewAnswerArgs
type voteArgs = tool.VoteArgs
type askOthersArgs = tool.AskOthersArgs
type askOthersStructuredQuestion = tool.StructuredQuestionArg
type askOthersStructuredQuestionOpt = tool.StructuredQuestionOptionArg

// runTurn drives one full agent turn: builds and appends the system
// message, streams from the backend, intercepts tool calls through the
// hook pipeline, enforces the workflow-tool protocol with up to
// config.maxRetries attempts, and emits result/content/error chunks to out
// (spec.md §4.1.2).
func (o *Orchestrator) runTurn(ctx context.Context, ac AgentConfig, task string, buf *buffer.Buffer, out chan<- Chunk) {
	state := o.states.get(ac.ID)

	state.mu.Lock()
	state.RoundStart = timeNow()
	round := state.Round
	answered := state.Answer != ""
	state.mu.Unlock()

	ctx, span := o.tracer.StartSpan(ctx, "orchestrator.turn")
	span.SetAttribute("agent_id", string(ac.ID))
	defer o.tracer.EndSpan(span)

	o.tracker.TrackContext(ac.ID, o.peerAnswersMap(ac.ID))

	if len(buf.Entries()) == 0 {
		buf.AddSystem(sysmsg.Build(o.buildSysmsgInput(ac, false)))
		buf.AddUser(task)
	} else {
		buf.AddSystem(sysmsg.Build(o.buildSysmsgInput(ac, false)))
	}

	tools := o.workflowTools(answered)
	tools = append(tools, ac.ExternalTools...)

	hctx := &hook.Context{AgentID: string(ac.ID), Round: round, RoundStart: state.RoundStart, Extra: make(map[string]any)}

	maxAttempts := o.config.maxRetries()
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		outcome, violation, err := o.runAttempt(ctx, ac, buf, tools, hctx, out)
		if err != nil {
			out <- Chunk{AgentID: ac.ID, Type: ChunkTypeError, Err: err}
			return
		}
		if outcome.externalCalls != nil {
			out <- Chunk{AgentID: ac.ID, Type: ChunkTypeExternalToolCalls, ExternalToolCalls: outcome.externalCalls}
			return
		}
		if violation == "" {
			o.commitOutcome(ac, state, round, outcome, out)
			return
		}
		if attempt == maxAttempts {
			out <- Chunk{
				AgentID: ac.ID,
				Type:    ChunkTypeError,
				Err:     fmt.Errorf("orchestrator: agent %s failed to use workflow tools after %d attempts: %s", ac.ID, attempt, violation),
			}
			return
		}
		buf.AddUser(violation)
	}
}

// turnOutcome is what one backend round-trip within a turn produced.
type turnOutcome struct {
	calledNewAnswer bool
	calledVote      bool
	newAnswer       newAnswerArgs
	vote            coordination.VotePayload
	externalCalls   []llm.ToolCall
}

// runAttempt issues one backend Stream call and processes its chunks,
// handling ask_others inline (it never ends the turn) and validating
// new_answer/vote against the protocol. Returns a non-empty violation
// string when the attempt should be retried.
func (o *Orchestrator) runAttempt(ctx context.Context, ac AgentConfig, buf *buffer.Buffer, tools []llm.ToolDefinition, hctx *hook.Context, out chan<- Chunk) (turnOutcome, string, error) {
	var outcome turnOutcome

	messages := buf.ToMessages(true, true)
	stream, err := ac.Backend.Stream(ctx, messages, tools)
	if err != nil {
		return outcome, "", fmt.Errorf("orchestrator: backend stream: %w", err)
	}
	defer stream.Close()

	var streamErr error
	for stream.Next() {
		c := stream.Chunk()
		switch c.Type {
		case llm.ChunkContent:
			buf.AddContent(c.Text)
			out <- Chunk{AgentID: ac.ID, Type: ChunkTypeContent, Text: c.Text}
		case llm.ChunkReasoning:
			buf.AddReasoning(c.Text)
		case llm.ChunkError:
			streamErr = c.Err
		case llm.ChunkToolCall:
			o.handleToolCall(ctx, ac, buf, c.ToolCall, hctx, &outcome)
		}
		if c.Usage != nil && o.costs != nil {
			o.costs.AddForEntity(ac.Model, string(ac.ID), *c.Usage)
		}
	}
	if streamErr == nil {
		streamErr = stream.Err()
	}
	if streamErr != nil {
		return outcome, "", fmt.Errorf("orchestrator: backend stream: %w", streamErr)
	}

	buf.FlushTurn()

	if len(outcome.externalCalls) > 0 {
		return outcome, "", nil
	}

	violation := o.checkViolation(outcome)
	return outcome, violation, nil
}

// handleToolCall dispatches one tool call chunk: runs the PreToolUse hook
// (denying hard-timed-out non-workflow calls), records workflow/ask_others
// results into the buffer, tracks external tool calls, then runs
// PostToolUse and applies any injection.
func (o *Orchestrator) handleToolCall(ctx context.Context, ac AgentConfig, buf *buffer.Buffer, call *llm.ToolCall, hctx *hook.Context, outcome *turnOutcome) {
	buf.AddToolCall(*call)

	hc := hook.Call{ToolName: call.Function, Arguments: call.Arguments}
	pre := o.hooks.Run(hook.PreToolUse, hc, hctx)
	if pre.Decision == hook.Deny {
		buf.AddToolResult(call.Function, call.ID, "denied: "+pre.Reason)
		return
	}

	switch call.Function {
	case tool.NewAnswerTool:
		args := tool.ParseNewAnswerArgs(call.Arguments)
		outcome.calledNewAnswer = true
		outcome.newAnswer = args
		buf.AddToolResult(call.Function, call.ID, "answer recorded")
	case tool.VoteTool:
		args := tool.ParseVoteArgs(call.Arguments)
		outcome.calledVote = true
		outcome.vote = coordination.VotePayload{AgentIDAnon: args.AgentIDAnon, Reason: args.Reason, Suggestions: args.Suggestions}
		buf.AddToolResult(call.Function, call.ID, tool.EncodeVoteResult(args.AgentIDAnon, len(args.Suggestions)))
	case tool.AskOthersTool:
		result := o.handleAskOthers(ctx, ac.ID, call.Arguments)
		buf.AddToolResult(call.Function, call.ID, result)
	default:
		outcome.externalCalls = append(outcome.externalCalls, *call)
	}

	post := o.hooks.Run(hook.PostToolUse, hc, hctx)
	if post.Inject != nil {
		buf.InjectUpdate(post.Inject.Content, true)
	}
}

// checkViolation implements the enforcement rules of spec.md §4.1.2 and
// §12's exact retry wording.
func (o *Orchestrator) checkViolation(outcome turnOutcome) string {
	switch {
	case !outcome.calledNewAnswer && !outcome.calledVote:
		return "failed to use workflow tools: you must call exactly one of new_answer or vote this turn"
	case outcome.calledNewAnswer && outcome.calledVote:
		return "Cannot use both 'vote' and 'new_answer' in the same turn; call exactly one"
	case outcome.calledVote:
		answers, _ := o.tracker.AllLatestAnswers()
		if len(answers) == 0 {
			return "Cannot vote when no answers exist yet"
		}
		mapping, _ := o.tracker.GetAnonymousMapping() // anon -> real
		target, ok := mapping[outcome.vote.AgentIDAnon]
		if !ok {
			return fmt.Sprintf("Invalid agent_id %q: no such agent", outcome.vote.AgentIDAnon)
		}
		if _, ok := answers[target]; !ok {
			return fmt.Sprintf("Invalid agent_id %q: that agent has no recorded answer", outcome.vote.AgentIDAnon)
		}
	}
	return ""
}

// commitOutcome records an accepted new_answer or vote into the tracker
// and state, triggers restart signaling, and emits the result chunk.
func (o *Orchestrator) commitOutcome(ac AgentConfig, state *AgentState, round int, outcome turnOutcome, out chan<- Chunk) {
	if outcome.calledNewAnswer {
		o.tracker.AddAnswerWithChangedoc(ac.ID, outcome.newAnswer.Content, round, outcome.newAnswer.Changedoc)
		state.mu.Lock()
		state.Answer = outcome.newAnswer.Content
		state.mu.Unlock()

		if ws, ok := ac.Backend.(WorkspaceProvider); ok {
			ws.SaveSnapshot(false)
		}
		o.signalRestart(ac.ID)

		out <- Chunk{AgentID: ac.ID, Type: ChunkTypeResult, ResultKind: ResultAnswer, AnswerContent: outcome.newAnswer.Content}
		return
	}

	vote, err := o.tracker.AddVote(ac.ID, outcome.vote)
	if err != nil {
		out <- Chunk{AgentID: ac.ID, Type: ChunkTypeError, Err: fmt.Errorf("orchestrator: record vote: %w", err)}
		return
	}
	state.mu.Lock()
	state.HasVoted = true
	state.mu.Unlock()

	out <- Chunk{AgentID: ac.ID, Type: ChunkTypeResult, ResultKind: ResultVote, Vote: &vote}
}

// signalRestart marks every other agent's restart_pending flag, per
// spec.md §4.1.4.
func (o *Orchestrator) signalRestart(source coordination.AgentID) {
	for _, ac := range o.agents {
		if ac.ID == source {
			continue
		}
		o.tracker.TrackRestartSignal(ac.ID)
		s := o.states.get(ac.ID)
		s.mu.Lock()
		s.RestartPending = true
		s.mu.Unlock()
	}
}

func (o *Orchestrator) workflowTools(alreadyAnswered bool) []llm.ToolDefinition {
	var tools []llm.ToolDefinition
	switch {
	case o.config.SkipVoting:
		tools = append(tools, tool.NewAnswerDefinition())
	case alreadyAnswered:
		tools = append(tools, tool.VoteDefinition())
	default:
		tools = append(tools, tool.NewAnswerDefinition(), tool.VoteDefinition())
	}
	if o.config.BroadcastEnabled && o.bcast != nil {
		tools = append(tools, tool.AskOthersDefinition())
	}
	return tools
}

// handleAskOthers executes a broadcast synchronously within the calling
// turn: it does not end the turn (spec.md §4.1.1).
func (o *Orchestrator) handleAskOthers(ctx context.Context, agentID coordination.AgentID, raw []byte) string {
	if o.bcast == nil {
		return "[ask_others is disabled for this session]"
	}

	args := tool.ParseAskOthersArgs(raw)

	question := broadcastQuestionFrom(args)

	reqID, err := o.bcast.CreateBroadcast(ctx, string(agentID), question, 0, args.TargetAgents)
	if err != nil {
		return fmt.Sprintf("[Error: %s]", err)
	}
	defer o.bcast.Cleanup(reqID)

	if err := o.bcast.InjectIntoAgents(ctx, reqID); err != nil {
		return fmt.Sprintf("[Error: %s]", err)
	}

	result, err := o.bcast.WaitForResponses(ctx, reqID, 0)
	if err != nil {
		return fmt.Sprintf("[Error: %s]", err)
	}

	sort.Slice(result.Responses, func(i, j int) bool {
		return result.Responses[i].ResponderID < result.Responses[j].ResponderID
	})
	var b strings.Builder
	for _, r := range result.Responses {
		fmt.Fprintf(&b, "%s: %s\n", r.ResponderID, r.Content.Text)
	}
	if result.Status == "timeout" {
		b.WriteString("[some responses timed out]\n")
	}
	return b.String()
}
