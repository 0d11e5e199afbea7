package tool

import "github.com/massgen-go/massgen/pkg/llm"

// Workflow tool names. These are the only tools that advance coordination
// state; the orchestrator intercepts calls to them before they ever reach a
// generic Registry.
const (
	NewAnswerTool         = "new_answer"
	VoteTool              = "vote"
	AskOthersTool         = "ask_others"
	RespondToBroadcastTool = "respond_to_broadcast"
)

// NewAnswerDefinition returns the tool definition for new_answer, injected
// into every coordinating agent's turn.
func NewAnswerDefinition() llm.ToolDefinition {
	schema := Schema{
		Type: "object",
		Properties: map[string]*Schema{
			"content":   {Type: "string", Description: "The agent's full answer to the task."},
			"changedoc": {Type: "string", Description: "Optional decision journal describing what changed since your last answer and why."},
		},
		Required: []string{"content"},
	}
	raw, _ := schema.ToRawJSON()
	return llm.ToolDefinition{
		Name:        NewAnswerTool,
		Description: "Submit your answer to the task. Replaces any prior answer you submitted this session.",
		Parameters:  raw,
	}
}

// VoteDefinition returns the tool definition for vote.
func VoteDefinition() llm.ToolDefinition {
	schema := Schema{
		Type: "object",
		Properties: map[string]*Schema{
			"agent_id": {Type: "string", Description: "Anonymous id (e.g. agent2) of the answer you are voting for."},
			"reason":   {Type: "string", Description: "Why this answer is the best available."},
			"suggestions": {
				Type:        "object",
				Description: "Optional map of anonymous agent id to improvement suggestion.",
			},
		},
		Required: []string{"agent_id", "reason"},
	}
	raw, _ := schema.ToRawJSON()
	return llm.ToolDefinition{
		Name:        VoteTool,
		Description: "Vote for the best answer among all submitted answers, including your own.",
		Parameters:  raw,
	}
}

// AskOthersDefinition returns the tool definition for ask_others, included
// only when broadcast is enabled.
func AskOthersDefinition() llm.ToolDefinition {
	questionSchema := &Schema{
		Type: "object",
		Properties: map[string]*Schema{
			"text": {Type: "string"},
			"options": {
				Type: "array",
				Items: &Schema{
					Type: "object",
					Properties: map[string]*Schema{
						"id":          {Type: "string"},
						"label":       {Type: "string"},
						"description": {Type: "string"},
					},
					Required: []string{"id", "label"},
				},
			},
			"multiSelect": {Type: "boolean"},
			"allowOther":  {Type: "boolean"},
			"required":    {Type: "boolean"},
		},
		Required: []string{"text"},
	}
	schema := Schema{
		Type: "object",
		Properties: map[string]*Schema{
			"question":      {Type: "string", Description: "A simple open-ended question."},
			"questions":     {Type: "array", Items: questionSchema, Description: "Structured questions; takes precedence over question if both are set."},
			"target_agents": {Type: "array", Items: &Schema{Type: "string"}, Description: "Anonymous ids to target. Omit to ask everyone else."},
			"wait":          {Type: "boolean", Description: "Block until responses arrive."},
		},
	}
	raw, _ := schema.ToRawJSON()
	return llm.ToolDefinition{
		Name:        AskOthersTool,
		Description: "Ask one or more peer agents (or the human operator) a question without interrupting your own turn.",
		Parameters:  raw,
	}
}

// RespondToBroadcastDefinition returns the tool definition for
// respond_to_broadcast, offered only to shadow agents answering a broadcast.
func RespondToBroadcastDefinition() llm.ToolDefinition {
	schema := Schema{
		Type: "object",
		Properties: map[string]*Schema{
			"answer": {Type: "string", Description: "Your concise answer to the broadcast question."},
		},
		Required: []string{"answer"},
	}
	raw, _ := schema.ToRawJSON()
	return llm.ToolDefinition{
		Name:        RespondToBroadcastTool,
		Description: "Answer the external question you were just asked.",
		Parameters:  raw,
	}
}
