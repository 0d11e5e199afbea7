package llm

import (
	"context"
	"fmt"
)

// ChunkType identifies the kind of payload carried by a Chunk.
type ChunkType string

const (
	// ChunkContent carries incremental assistant text.
	ChunkContent ChunkType = "content"
	// ChunkReasoning carries incremental reasoning/thinking text.
	ChunkReasoning ChunkType = "reasoning"
	// ChunkToolCall carries a single tool invocation requested by the model.
	ChunkToolCall ChunkType = "tool_call"
	// ChunkToolResult carries the result of a tool call fed back to the model.
	ChunkToolResult ChunkType = "tool_result"
	// ChunkDone signals the backend has finished this turn.
	ChunkDone ChunkType = "done"
	// ChunkError carries a terminal backend error.
	ChunkError ChunkType = "error"
	// ChunkCompleteMessage carries a fully assembled message (role + content),
	// emitted once accumulation is finished for backends that don't stream
	// token-by-token.
	ChunkCompleteMessage ChunkType = "complete_message"
)

// Chunk is one event in a Backend's response stream for a single turn.
type Chunk struct {
	Type ChunkType
	// Text holds the incremental payload for ChunkContent/ChunkReasoning.
	Text string
	// ToolCall holds the invocation for ChunkToolCall.
	ToolCall *ToolCall
	// ToolResult holds the result for ChunkToolResult.
	ToolResult *ToolResult
	// Message holds the assembled message for ChunkCompleteMessage.
	Message *Message
	// Err holds the failure for ChunkError.
	Err error
	// Usage is populated on terminal chunks when known.
	Usage *Usage
}

// ChunkStream iterates the chunks of a single Backend turn.
// Mirrors the existing Stream iterator shape (Next/Event/Err/Close) but at
// the granularity the orchestrator core consumes: individual tool calls
// rather than raw provider deltas.
type ChunkStream interface {
	// Next advances to the next chunk. Returns false when exhausted.
	Next() bool
	// Chunk returns the current chunk. Only valid after Next returns true.
	Chunk() Chunk
	// Err returns the first error encountered while streaming.
	Err() error
	// Close releases resources held by the stream.
	Close() error
}

// Backend is the abstract interface the coordination core consumes for a
// single LLM-backed agent. Concrete backends (Anthropic, OpenAI, Gemini,
// mock) are adapters outside the core; the core never imports a concrete
// provider package directly.
type Backend interface {
	// Stream issues one turn and returns an iterator of Chunks.
	Stream(ctx context.Context, messages []Message, tools []ToolDefinition) (ChunkStream, error)
}

// sliceStream is a ChunkStream backed by a pre-built slice, used by the
// single-shot adapter and by test backends.
type sliceStream struct {
	chunks []Chunk
	pos    int
	err    error
}

// NewSliceStream builds a ChunkStream that replays a fixed slice of chunks.
func NewSliceStream(chunks []Chunk) ChunkStream {
	return &sliceStream{chunks: chunks, pos: -1}
}

func (s *sliceStream) Next() bool {
	if s.pos+1 >= len(s.chunks) {
		return false
	}
	s.pos++
	return true
}

func (s *sliceStream) Chunk() Chunk {
	if s.pos < 0 || s.pos >= len(s.chunks) {
		return Chunk{}
	}
	return s.chunks[s.pos]
}

func (s *sliceStream) Err() error { return s.err }
func (s *sliceStream) Close() error { return nil }

// singleShotBackend adapts a non-streaming Provider to Backend by issuing
// one Complete call and replaying its result as a small chunk sequence.
// Used for providers whose SDK does not expose token-level streaming in a
// shape the core needs (or where a caller prefers simplicity over latency).
type singleShotBackend struct {
	provider Provider
	model    string
}

// FromProvider adapts a Provider (Complete-only) into a Backend by wrapping
// each turn in a single request/response exchange.
func FromProvider(provider Provider, model string) Backend {
	return &singleShotBackend{provider: provider, model: model}
}

func (b *singleShotBackend) Stream(ctx context.Context, messages []Message, tools []ToolDefinition) (ChunkStream, error) {
	resp, err := b.provider.Complete(ctx, Params{
		Model:    b.model,
		Messages: messages,
		Tools:    tools,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: single-shot complete: %w", err)
	}

	var chunks []Chunk
	if resp.Message.Content != "" {
		chunks = append(chunks, Chunk{Type: ChunkContent, Text: resp.Message.Content})
	}
	for i := range resp.Message.ToolCalls {
		tc := resp.Message.ToolCalls[i]
		chunks = append(chunks, Chunk{Type: ChunkToolCall, ToolCall: &tc})
	}
	msg := resp.Message
	usage := resp.Usage
	chunks = append(chunks, Chunk{Type: ChunkCompleteMessage, Message: &msg, Usage: &usage})
	chunks = append(chunks, Chunk{Type: ChunkDone, Usage: &usage})

	return NewSliceStream(chunks), nil
}
