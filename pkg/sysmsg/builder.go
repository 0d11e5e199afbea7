// Package sysmsg assembles the per-turn system message from reusable
// sections (spec.md §4.5): identity, evaluation protocol, planning,
// filesystem, skills, memory, current answers, human Q&A history, and
// previous-turn summaries. The same builder serves coordination turns,
// presentation turns, and post-evaluation turns; callers select sections
// via Input fields.
package sysmsg

import (
	"fmt"
	"sort"
	"strings"
)

// PeerAnswer is one peer's current answer as shown to another agent.
type PeerAnswer struct {
	AnonID    string
	Content   string
	Changedoc string
}

// HumanQA is one human question/answer pair carried over from an earlier
// broadcast in this session.
type HumanQA struct {
	Question string
	Answer   string
}

// MemoryNote is one archived per-turn memory entry, identified by the
// filename it was saved under (used to deduplicate, most-recent wins).
type MemoryNote struct {
	Filename string
	Content  string
}

// Workspace describes the filesystem section, when the backend exposes one.
type Workspace struct {
	Path          string
	Writable      bool
	PeerSnapshots map[string]string // anon id -> snapshot directory
}

// Input selects which sections to render and supplies their content.
type Input struct {
	// Persona is the agent's configured identity/system prompt.
	Persona string
	// PersonaEased, when true, softens the persona instruction once peer
	// answers exist (spec.md §4.5 section 1).
	PersonaEased bool

	// VoteOnly forbids new_answer in the evaluation-protocol section.
	VoteOnly bool
	// Presentation selects the presentation-mode variant: omits
	// evaluation rules, adds the "you were selected" instruction.
	Presentation bool

	// PlanningMode, if non-empty, is included as a planning instruction.
	PlanningMode string

	Workspace *Workspace

	// Skills is the catalog of available skill names/descriptions,
	// pre-filtered by the session's case-insensitive allowlist.
	Skills map[string]string

	// Memories are archived notes, deduplicated by Filename (most-recent
	// wins) before rendering.
	Memories []MemoryNote

	// PeerAnswers are the other agents' current answers, excluding self.
	PeerAnswers []PeerAnswer

	// HumanMode includes the human Q&A history section when true.
	HumanMode bool
	HumanQA   []HumanQA

	// PreviousTurns holds condensed summaries for multi-turn sessions.
	PreviousTurns []string

	VotingSensitivity    string // low | medium | high
	BroadcastSensitivity string // low | medium | high
	BroadcastEnabled     bool
}

// Build assembles the full system message from in, in the fixed section
// order spec.md §4.5 requires.
func Build(in Input) string {
	var b strings.Builder

	writeIdentity(&b, in)
	if in.Presentation {
		writePresentationProtocol(&b)
	} else {
		writeEvaluationProtocol(&b, in)
	}
	if in.PlanningMode != "" {
		fmt.Fprintf(&b, "\n<planning_mode>\n%s\n</planning_mode>\n", in.PlanningMode)
	}
	if in.Workspace != nil {
		writeFilesystem(&b, *in.Workspace)
	}
	if len(in.Skills) > 0 {
		writeSkills(&b, in.Skills)
	}
	if len(in.Memories) > 0 {
		writeMemory(&b, in.Memories)
	}
	if len(in.PeerAnswers) > 0 {
		writeCurrentAnswers(&b, in.PeerAnswers)
	}
	if in.HumanMode && len(in.HumanQA) > 0 {
		writeHumanQA(&b, in.HumanQA)
	}
	if len(in.PreviousTurns) > 0 {
		writePreviousTurns(&b, in.PreviousTurns)
	}

	return b.String()
}

func writeIdentity(b *strings.Builder, in Input) {
	b.WriteString("<agent_identity>\n")
	if in.Persona != "" {
		b.WriteString(in.Persona)
	} else {
		b.WriteString("You are a helpful collaborative agent.")
	}
	if in.PersonaEased {
		b.WriteString("\nTreat the above persona as a preference, not a position: synthesize the strongest ideas available, including peers', rather than defending your own answer for its own sake.")
	}
	b.WriteString("\n</agent_identity>\n")
}

func writeEvaluationProtocol(b *strings.Builder, in Input) {
	b.WriteString("\n<evaluation_protocol>\n")
	if in.VoteOnly {
		b.WriteString("You have already submitted an answer. You may only call vote this turn; new_answer is not available.\n")
	} else {
		b.WriteString("Call new_answer(content) to submit your answer to the task, or vote(agent_id, reason, suggestions?) to vote for the best answer among all submitted so far, including your own. You must call exactly one of new_answer or vote each turn.\n")
	}
	b.WriteString("Refer to peers only by their anonymous id (e.g. agent2), never by any other identifier.\n")
	if in.VotingSensitivity != "" {
		fmt.Fprintf(b, "Voting sensitivity: %s.\n", in.VotingSensitivity)
	}
	if in.BroadcastEnabled {
		b.WriteString("You may call ask_others to ask peers (or the human operator) a clarifying question without ending your turn.\n")
		if in.BroadcastSensitivity != "" {
			fmt.Fprintf(b, "Broadcast sensitivity: %s.\n", in.BroadcastSensitivity)
		}
	}
	b.WriteString("</evaluation_protocol>\n")
}

func writePresentationProtocol(b *strings.Builder) {
	b.WriteString("\n<evaluation_protocol>\n")
	b.WriteString("You have been selected as the winning agent. Emit the final deliverable by calling new_answer(content).\n")
	b.WriteString("</evaluation_protocol>\n")
}

func writeFilesystem(b *strings.Builder, ws Workspace) {
	b.WriteString("\n<filesystem>\n")
	fmt.Fprintf(b, "Workspace: %s (writable=%t)\n", ws.Path, ws.Writable)
	if len(ws.PeerSnapshots) > 0 {
		b.WriteString("Peer workspace snapshots:\n")
		anons := make([]string, 0, len(ws.PeerSnapshots))
		for anon := range ws.PeerSnapshots {
			anons = append(anons, anon)
		}
		sort.Strings(anons)
		for _, anon := range anons {
			fmt.Fprintf(b, "  %s: %s\n", anon, ws.PeerSnapshots[anon])
		}
	}
	b.WriteString("</filesystem>\n")
}

func writeSkills(b *strings.Builder, skills map[string]string) {
	b.WriteString("\n<skills>\n")
	names := make([]string, 0, len(skills))
	for name := range skills {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(b, "- %s: %s\n", name, skills[name])
	}
	b.WriteString("</skills>\n")
}

// dedupeMemories keeps only the most-recent entry for each filename,
// "most recent" being the one that appears last in notes.
func dedupeMemories(notes []MemoryNote) []MemoryNote {
	latest := make(map[string]MemoryNote, len(notes))
	var order []string
	for _, n := range notes {
		if _, seen := latest[n.Filename]; !seen {
			order = append(order, n.Filename)
		}
		latest[n.Filename] = n
	}
	out := make([]MemoryNote, len(order))
	for i, fn := range order {
		out[i] = latest[fn]
	}
	return out
}

func writeMemory(b *strings.Builder, notes []MemoryNote) {
	deduped := dedupeMemories(notes)
	b.WriteString("\n<memory>\n")
	for _, n := range deduped {
		fmt.Fprintf(b, "### %s\n%s\n\n", n.Filename, n.Content)
	}
	b.WriteString("</memory>\n")
}

func writeCurrentAnswers(b *strings.Builder, answers []PeerAnswer) {
	b.WriteString("\n<current_answers>\n")
	for _, a := range answers {
		fmt.Fprintf(b, "<%s>%s</%s>\n", a.AnonID, a.Content, a.AnonID)
		if a.Changedoc != "" {
			fmt.Fprintf(b, "<changedoc agent=\"%s\">%s</changedoc>\n", a.AnonID, a.Changedoc)
		}
	}
	b.WriteString("</current_answers>\n")
}

func writeHumanQA(b *strings.Builder, qa []HumanQA) {
	b.WriteString("\n<human_qa_history>\n")
	for _, e := range qa {
		fmt.Fprintf(b, "Q: %s\nA: %s\n", e.Question, e.Answer)
	}
	b.WriteString("</human_qa_history>\n")
}

func writePreviousTurns(b *strings.Builder, turns []string) {
	b.WriteString("\n<previous_turns>\n")
	for i, t := range turns {
		fmt.Fprintf(b, "Turn %d: %s\n", i+1, t)
	}
	b.WriteString("</previous_turns>\n")
}
