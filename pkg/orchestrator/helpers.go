package orchestrator

import (
	"context"
	"fmt"
	"sort"

	"github.com/massgen-go/massgen/pkg/broadcast"
	"github.com/massgen-go/massgen/pkg/buffer"
	"github.com/massgen-go/massgen/pkg/coordination"
	"github.com/massgen-go/massgen/pkg/llm"
	"github.com/massgen-go/massgen/pkg/sysmsg"
	"github.com/massgen-go/massgen/pkg/tool"
)

// peerAnswersMap returns every other agent's latest answer content, keyed
// by real id, as shown to self this turn. Used both to build the
// <current_answers> section and to snapshot voter context via
// Tracker.TrackContext.
func (o *Orchestrator) peerAnswersMap(self coordination.AgentID) map[coordination.AgentID]string {
	answers, err := o.tracker.AllLatestAnswers()
	if err != nil {
		return nil
	}
	out := make(map[coordination.AgentID]string, len(answers))
	for id, a := range answers {
		if id == self {
			continue
		}
		out[id] = a.Content
	}
	return out
}

// buildSysmsgInput assembles the sysmsg.Input for ac's next turn
// (spec.md §4.5).
func (o *Orchestrator) buildSysmsgInput(ac AgentConfig, presentation bool) sysmsg.Input {
	reverse, _ := o.tracker.GetReverseMapping() // real -> anon
	answers, _ := o.tracker.AllLatestAnswers()

	state := o.states.get(ac.ID)
	state.mu.Lock()
	answered := state.Answer != ""
	state.mu.Unlock()

	var ids []coordination.AgentID
	for id := range answers {
		if id != ac.ID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return reverse[ids[i]] < reverse[ids[j]] })

	peers := make([]sysmsg.PeerAnswer, 0, len(ids))
	for _, id := range ids {
		a := answers[id]
		peers = append(peers, sysmsg.PeerAnswer{AnonID: reverse[id], Content: a.Content, Changedoc: a.Changedoc})
	}

	humanMode := o.bcast != nil && o.bcast.Mode() == broadcast.ModeHuman
	var humanQA []sysmsg.HumanQA
	if humanMode {
		for _, qa := range o.bcast.HumanQAHistory() {
			humanQA = append(humanQA, sysmsg.HumanQA{Question: qa.Question.Text, Answer: qa.Answer.Text})
		}
	}

	var memories []sysmsg.MemoryNote
	if mp, ok := ac.Backend.(MemoryProvider); ok {
		memories = mp.MemoryNotes()
	}

	return sysmsg.Input{
		Persona:              ac.Persona,
		PersonaEased:         o.config.PersonaEasing && len(peers) > 0,
		VoteOnly:             !presentation && !o.config.SkipVoting && answered,
		Presentation:         presentation,
		Skills:               ac.Skills,
		Memories:             memories,
		PeerAnswers:          peers,
		HumanMode:            humanMode,
		HumanQA:              humanQA,
		VotingSensitivity:    o.config.VotingSensitivity,
		BroadcastSensitivity: o.config.BroadcastSensitivity,
		BroadcastEnabled:     o.config.BroadcastEnabled && o.bcast != nil,
	}
}

// runPresentationTurn runs the winning agent's final turn: it may only
// call new_answer, producing the session's deliverable.
func (o *Orchestrator) runPresentationTurn(ctx context.Context, presenter AgentConfig, buf *buffer.Buffer, out chan<- Chunk) (string, error) {
	ctx, span := o.tracer.StartSpan(ctx, "orchestrator.presentation")
	span.SetAttribute("agent_id", string(presenter.ID))
	defer o.tracer.EndSpan(span)

	buf.AddSystem(sysmsg.Build(o.buildSysmsgInput(presenter, true)))
	tools := []llm.ToolDefinition{tool.NewAnswerDefinition()}

	maxAttempts := o.config.maxRetries()
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		messages := buf.ToMessages(true, true)
		stream, err := presenter.Backend.Stream(ctx, messages, tools)
		if err != nil {
			return "", fmt.Errorf("orchestrator: presentation stream: %w", err)
		}

		var content string
		var gotAnswer bool
		var streamErr error
		for stream.Next() {
			c := stream.Chunk()
			switch c.Type {
			case llm.ChunkContent:
				buf.AddContent(c.Text)
				out <- Chunk{AgentID: presenter.ID, Type: ChunkTypeContent, Text: c.Text}
			case llm.ChunkError:
				streamErr = c.Err
			case llm.ChunkToolCall:
				buf.AddToolCall(*c.ToolCall)
				if c.ToolCall.Function == tool.NewAnswerTool {
					args := tool.ParseNewAnswerArgs(c.ToolCall.Arguments)
					content = args.Content
					gotAnswer = true
					buf.AddToolResult(c.ToolCall.Function, c.ToolCall.ID, "final answer recorded")
				}
			}
			if c.Usage != nil && o.costs != nil {
				o.costs.AddForEntity(presenter.Model, string(presenter.ID), *c.Usage)
			}
		}
		if streamErr == nil {
			streamErr = stream.Err()
		}
		stream.Close()
		if streamErr != nil {
			return "", fmt.Errorf("orchestrator: presentation stream: %w", streamErr)
		}

		buf.FlushTurn()

		if gotAnswer {
			o.tracker.AddAnswer(presenter.ID, content, 0)
			return content, nil
		}
		if attempt == maxAttempts {
			return "", fmt.Errorf("orchestrator: presenter failed to use workflow tools after %d attempts", attempt)
		}
		buf.AddUser("failed to use workflow tools: you must call new_answer with your final deliverable")
	}
	return "", fmt.Errorf("orchestrator: presenter produced no answer")
}

// broadcastQuestionFrom converts the ask_others tool payload into a
// broadcast.Question (spec.md §6: "questions" takes precedence over
// "question" when both are present).
func broadcastQuestionFrom(args askOthersArgs) broadcast.Question {
	if len(args.Questions) > 0 {
		sq := make([]broadcast.StructuredQuestion, len(args.Questions))
		for i, q := range args.Questions {
			opts := make([]broadcast.StructuredQuestionOption, len(q.Options))
			for j, o := range q.Options {
				opts[j] = broadcast.StructuredQuestionOption{ID: o.ID, Label: o.Label, Description: o.Description}
			}
			sq[i] = broadcast.StructuredQuestion{
				Text:        q.Text,
				Options:     opts,
				MultiSelect: q.MultiSelect,
				AllowOther:  q.AllowOther,
				Required:    q.Required,
			}
		}
		return broadcast.Question{Structured: sq}
	}
	return broadcast.Question{Text: args.Question}
}
