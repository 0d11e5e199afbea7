package mock

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/massgen-go/massgen/pkg/llm"
)

// ScriptedToolCall is one tool invocation a Backend emits for a turn.
type ScriptedToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// Backend is a deterministic, scriptable llm.Backend used to drive the
// coordination core's test scenarios without a live provider. Each call to
// Stream consumes the next entry of ToolCallResponses and Responses in
// order, mirroring a script written ahead of time.
//
// A turn whose ToolCallResponses entry is non-empty emits one ChunkToolCall
// per scripted call, then a ChunkCompleteMessage carrying those calls, then
// ChunkDone (no content). A turn whose entry
// is empty emits the corresponding Responses string as ChunkContent, then a
// ChunkCompleteMessage and ChunkDone.
type Backend struct {
	mu sync.Mutex

	// ToolCallResponses holds the scripted tool calls for each successive
	// Stream call. A nil or empty slice for a given turn means "no tool
	// calls this turn".
	ToolCallResponses [][]ScriptedToolCall
	// Responses holds the scripted assistant text for each successive
	// Stream call (used only when the corresponding ToolCallResponses entry
	// is empty; ignored for a turn that has tool calls).
	Responses []string

	callCount atomic.Int32
}

// CallCount returns the number of Stream calls made so far.
func (b *Backend) CallCount() int { return int(b.callCount.Load()) }

// Stream implements llm.Backend.
func (b *Backend) Stream(ctx context.Context, _ []llm.Message, _ []llm.ToolDefinition) (llm.ChunkStream, error) {
	n := int(b.callCount.Add(1)) - 1

	b.mu.Lock()
	var toolCalls []ScriptedToolCall
	if n < len(b.ToolCallResponses) {
		toolCalls = b.ToolCallResponses[n]
	}
	var text string
	if n < len(b.Responses) {
		text = b.Responses[n]
	}
	b.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var chunks []llm.Chunk
	if len(toolCalls) > 0 {
		for _, tc := range toolCalls {
			args, _ := json.Marshal(tc.Arguments)
			id := tc.ID
			if id == "" {
				id = tc.Name
			}
			call := llm.ToolCall{ID: id, Function: tc.Name, Arguments: args}
			chunks = append(chunks, llm.Chunk{Type: llm.ChunkToolCall, ToolCall: &call})
		}
		msg := llm.Message{Role: llm.RoleAssistant}
		for _, c := range chunks {
			msg.ToolCalls = append(msg.ToolCalls, *c.ToolCall)
		}
		chunks = append(chunks, llm.Chunk{Type: llm.ChunkCompleteMessage, Message: &msg})
	} else {
		if text != "" {
			chunks = append(chunks, llm.Chunk{Type: llm.ChunkContent, Text: text})
		}
		msg := llm.NewAssistantMessage(text)
		chunks = append(chunks, llm.Chunk{Type: llm.ChunkCompleteMessage, Message: &msg})
	}
	chunks = append(chunks, llm.Chunk{Type: llm.ChunkDone})

	return llm.NewSliceStream(chunks), nil
}

// DelayedErrorBackend wraps a Backend but fails the first N calls with a
// fixed error after an optional delay, useful for exercising the
// orchestrator's "backend stream error" failure path.
type DelayedErrorBackend struct {
	Inner     llm.Backend
	Err       error
	FailCount int
	Delay     time.Duration

	calls atomic.Int32
}

// Stream implements llm.Backend.
func (b *DelayedErrorBackend) Stream(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition) (llm.ChunkStream, error) {
	n := int(b.calls.Add(1))
	if b.Delay > 0 {
		select {
		case <-time.After(b.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if b.Err != nil && n <= b.FailCount {
		return nil, b.Err
	}
	return b.Inner.Stream(ctx, messages, tools)
}
