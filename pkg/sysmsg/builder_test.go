package sysmsg

import "testing"

func TestBuildIncludesEvaluationProtocolByDefault(t *testing.T) {
	out := Build(Input{Persona: "You are Alice."})
	if !contains(out, "<agent_identity>") || !contains(out, "You are Alice.") {
		t.Errorf("missing identity section: %s", out)
	}
	if !contains(out, "new_answer") || !contains(out, "vote(") {
		t.Errorf("missing evaluation protocol: %s", out)
	}
}

func TestBuildVoteOnlyOmitsNewAnswer(t *testing.T) {
	out := Build(Input{VoteOnly: true})
	if contains(out, "new_answer is available") {
		t.Errorf("vote-only mode should not offer new_answer: %s", out)
	}
	if !contains(out, "only call vote") {
		t.Errorf("expected vote-only notice: %s", out)
	}
}

func TestBuildPresentationModeOmitsEvaluationRulesAndSelectsAgent(t *testing.T) {
	out := Build(Input{Presentation: true})
	if contains(out, "You must call exactly one of new_answer or vote") {
		t.Errorf("presentation mode should omit coordination rules: %s", out)
	}
	if !contains(out, "selected as the winning agent") {
		t.Errorf("expected selection notice: %s", out)
	}
}

func TestBuildCurrentAnswersIncludesChangedoc(t *testing.T) {
	out := Build(Input{PeerAnswers: []PeerAnswer{
		{AnonID: "agent2", Content: "their answer", Changedoc: "tried X, switched to Y"},
	}})
	if !contains(out, "<agent2>their answer</agent2>") {
		t.Errorf("missing peer answer tag: %s", out)
	}
	if !contains(out, "tried X, switched to Y") {
		t.Errorf("missing changedoc: %s", out)
	}
}

func TestDedupeMemoriesKeepsMostRecentByFilename(t *testing.T) {
	out := Build(Input{Memories: []MemoryNote{
		{Filename: "notes.md", Content: "old"},
		{Filename: "notes.md", Content: "new"},
	}})
	if contains(out, "old") {
		t.Errorf("expected stale memory entry to be dropped: %s", out)
	}
	if !contains(out, "new") {
		t.Errorf("expected latest memory entry to survive: %s", out)
	}
}

func TestBuildHumanQAHistoryOnlyWhenHumanMode(t *testing.T) {
	qa := []HumanQA{{Question: "pick a color", Answer: "blue"}}
	withHuman := Build(Input{HumanMode: true, HumanQA: qa})
	if !contains(withHuman, "pick a color") {
		t.Errorf("expected human QA section: %s", withHuman)
	}
	withoutHuman := Build(Input{HumanMode: false, HumanQA: qa})
	if contains(withoutHuman, "pick a color") {
		t.Errorf("expected human QA section omitted when HumanMode is false: %s", withoutHuman)
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
