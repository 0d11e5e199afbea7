package tool

import (
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// NewAnswerArgs is the parsed payload of a new_answer call.
type NewAnswerArgs struct {
	Content   string
	Changedoc string
}

// VoteArgs is the parsed payload of a vote call.
type VoteArgs struct {
	AgentIDAnon string
	Reason      string
	Suggestions map[string]string
}

// ParseNewAnswerArgs parses a new_answer call's raw JSON arguments.
func ParseNewAnswerArgs(raw []byte) NewAnswerArgs {
	r := gjson.ParseBytes(raw)
	return NewAnswerArgs{
		Content:   r.Get("content").String(),
		Changedoc: r.Get("changedoc").String(),
	}
}

// ParseVoteArgs parses a vote call's raw JSON arguments using gjson rather
// than a strict struct unmarshal, because "suggestions" is a dynamic shape
// (spec.md §9): models sometimes emit it as a JSON object (the documented
// shape) and sometimes as a JSON-encoded string containing that same
// object, mirroring the teacher's "submit_checklist accepts dict or string"
// design note. Both shapes parse to the same map[string]string; malformed
// suggestions are dropped rather than failing the whole vote.
func ParseVoteArgs(raw []byte) VoteArgs {
	r := gjson.ParseBytes(raw)
	args := VoteArgs{
		AgentIDAnon: r.Get("agent_id").String(),
		Reason:      r.Get("reason").String(),
	}

	sug := r.Get("suggestions")
	switch {
	case sug.IsObject():
		args.Suggestions = suggestionsFromResult(sug)
	case sug.Type == gjson.String:
		// The model encoded the map as a JSON string; re-parse it.
		if nested := gjson.Parse(sug.String()); nested.IsObject() {
			args.Suggestions = suggestionsFromResult(nested)
		}
	}
	return args
}

func suggestionsFromResult(obj gjson.Result) map[string]string {
	out := make(map[string]string)
	obj.ForEach(func(key, value gjson.Result) bool {
		out[key.String()] = value.String()
		return true
	})
	if len(out) == 0 {
		return nil
	}
	return out
}

// EncodeVoteResult builds the small JSON tool-result payload fed back to the
// model after a vote is recorded, built incrementally with sjson rather than
// a struct marshal since the field set grows optionally (suggestions is
// present only when non-empty).
func EncodeVoteResult(votedForAnon string, suggestionCount int) string {
	out, err := sjson.Set("{}", "status", "recorded")
	if err != nil {
		return fmt.Sprintf(`{"status":"recorded","voted_for":%q}`, votedForAnon)
	}
	out, _ = sjson.Set(out, "voted_for", votedForAnon)
	if suggestionCount > 0 {
		out, _ = sjson.Set(out, "suggestion_count", suggestionCount)
	}
	return out
}

// AskOthersArgs is the parsed payload of an ask_others call.
type AskOthersArgs struct {
	Question     string
	Questions    []StructuredQuestionArg
	TargetAgents []string
	Wait         bool
}

// StructuredQuestionArg mirrors the wire StructuredQuestion shape (spec.md §6).
type StructuredQuestionArg struct {
	Text        string
	Options     []StructuredQuestionOptionArg
	MultiSelect bool
	AllowOther  bool
	Required    bool
}

// StructuredQuestionOptionArg is one option of a StructuredQuestionArg.
type StructuredQuestionOptionArg struct {
	ID          string
	Label       string
	Description string
}

// ParseAskOthersArgs parses an ask_others call's raw JSON arguments.
// "questions" wins over "question" when both are present (spec.md §6).
func ParseAskOthersArgs(raw []byte) AskOthersArgs {
	r := gjson.ParseBytes(raw)
	args := AskOthersArgs{
		Question: r.Get("question").String(),
		Wait:     r.Get("wait").Bool(),
	}
	for _, t := range r.Get("target_agents").Array() {
		args.TargetAgents = append(args.TargetAgents, t.String())
	}
	for _, q := range r.Get("questions").Array() {
		sq := StructuredQuestionArg{
			Text:        q.Get("text").String(),
			MultiSelect: q.Get("multiSelect").Bool(),
			AllowOther:  q.Get("allowOther").Bool(),
			Required:    q.Get("required").Bool(),
		}
		for _, opt := range q.Get("options").Array() {
			sq.Options = append(sq.Options, StructuredQuestionOptionArg{
				ID:          opt.Get("id").String(),
				Label:       opt.Get("label").String(),
				Description: opt.Get("description").String(),
			})
		}
		args.Questions = append(args.Questions, sq)
	}
	return args
}
