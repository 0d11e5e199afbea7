// Package buffer implements ConversationBuffer, the single source of truth
// for one agent's turn history within a coordination session.
package buffer

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/massgen-go/massgen/pkg/llm"
)

// Kind identifies what a ConversationEntry represents.
type Kind string

const (
	KindSystem     Kind = "system"
	KindUser       Kind = "user"
	KindAssistant  Kind = "assistant"
	KindToolCall   Kind = "tool_call"
	KindToolResult Kind = "tool_result"
	KindInjection  Kind = "injection"
	KindReasoning  Kind = "reasoning"
)

// Entry is one permanent record in a ConversationBuffer.
type Entry struct {
	Timestamp time.Time         `json:"timestamp"`
	Kind      Kind              `json:"kind"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	ToolCall  *llm.ToolCall     `json:"tool_call,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

// WithMetadata returns a copy of md with key=value set; md may be nil.
func WithMetadata(md map[string]string, key, value string) map[string]string {
	out := make(map[string]string, len(md)+1)
	for k, v := range md {
		out[k] = v
	}
	out[key] = value
	return out
}

// pendingToolCall tracks a tool call awaiting its result.
type pendingToolCall struct {
	call     llm.ToolCall
	resolved bool
	result   string
}

// Buffer is the per-agent conversation log plus streaming accumulators.
// Owned by a single agent's turn goroutine; never shared.
type Buffer struct {
	mu sync.Mutex

	agentID string
	entries []Entry

	pendingContent   string
	pendingReasoning string
	pendingToolCalls []*pendingToolCall
}

// New creates an empty Buffer for the given agent.
func New(agentID string) *Buffer {
	return &Buffer{agentID: agentID}
}

// AddSystem appends a permanent system entry.
func (b *Buffer) AddSystem(content string) {
	b.append(Entry{Kind: KindSystem, Content: content})
}

// AddUser appends a permanent user entry.
func (b *Buffer) AddUser(content string) {
	b.append(Entry{Kind: KindUser, Content: content})
}

// AddContent accumulates incremental assistant text for the current turn.
func (b *Buffer) AddContent(delta string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pendingContent += delta
}

// AddReasoning accumulates incremental reasoning text for the current turn.
func (b *Buffer) AddReasoning(delta string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pendingReasoning += delta
}

// AddToolCall records a tool call made during the current turn.
func (b *Buffer) AddToolCall(call llm.ToolCall) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pendingToolCalls = append(b.pendingToolCalls, &pendingToolCall{call: call})
}

// AddToolResult attaches a result to a pending tool call. If callID is
// non-empty, it matches by call ID; otherwise it resolves the most recent
// unresolved call with the given name.
func (b *Buffer) AddToolResult(name, callID, result string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if callID != "" {
		for _, p := range b.pendingToolCalls {
			if p.call.ID == callID && !p.resolved {
				p.resolved = true
				p.result = result
				return
			}
		}
		return
	}
	for i := len(b.pendingToolCalls) - 1; i >= 0; i-- {
		p := b.pendingToolCalls[i]
		if p.call.Function == name && !p.resolved {
			p.resolved = true
			p.result = result
			return
		}
	}
}

// FlushTurn promotes all accumulators into permanent entries, in order:
// reasoning, each tool call paired with its result, then assistant content.
// Accumulators are empty after this call.
func (b *Buffer) FlushTurn() {
	b.mu.Lock()
	reasoning := b.pendingReasoning
	content := b.pendingContent
	calls := b.pendingToolCalls
	b.pendingReasoning = ""
	b.pendingContent = ""
	b.pendingToolCalls = nil
	b.mu.Unlock()

	if reasoning != "" {
		b.append(Entry{Kind: KindReasoning, Content: reasoning})
	}
	for _, p := range calls {
		call := p.call
		b.append(Entry{
			Kind:     KindToolCall,
			Content:  string(call.Arguments),
			ToolCall: &call,
			Metadata: map[string]string{"tool_name": call.Function, "call_id": call.ID},
		})
		if p.resolved {
			b.append(Entry{
				Kind:       KindToolResult,
				Content:    p.result,
				ToolCallID: call.ID,
				Metadata:   map[string]string{"tool_name": call.Function, "call_id": call.ID},
			})
		}
	}
	if content != "" {
		b.append(Entry{Kind: KindAssistant, Content: content})
	}
}

// HasPending reports whether any accumulator currently holds data.
func (b *Buffer) HasPending() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pendingContent != "" || b.pendingReasoning != "" || len(b.pendingToolCalls) != 0
}

// InjectUpdate appends an injection entry, typically a synthesized
// "UPDATE: new answers" message from the hook pipeline. When anonymize is
// true the caller is expected to have already rewritten real agent ids to
// anonymous aliases in content.
func (b *Buffer) InjectUpdate(content string, anonymize bool) {
	md := map[string]string{"anonymized": fmt.Sprintf("%t", anonymize)}
	b.append(Entry{Kind: KindInjection, Content: content, Metadata: md})
}

func (b *Buffer) append(e Entry) {
	e.Timestamp = now()
	b.mu.Lock()
	b.entries = append(b.entries, e)
	b.mu.Unlock()
}

// now is overridable in tests that need deterministic timestamps.
var now = time.Now

// Entries returns a copy of all permanent entries in order.
func (b *Buffer) Entries() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make([]Entry, len(b.entries))
	copy(cp, b.entries)
	return cp
}

// ToMessages renders the buffer as canonical role/content messages plus
// tool-call/tool-result records, suitable for backends that support the
// full tool-message role.
func (b *Buffer) ToMessages(includeReasoning, includeToolDetails bool) []llm.Message {
	entries := b.Entries()
	var msgs []llm.Message

	for _, e := range entries {
		switch e.Kind {
		case KindSystem:
			msgs = append(msgs, llm.NewSystemMessage(e.Content))
		case KindUser, KindInjection:
			msgs = append(msgs, llm.NewUserMessage(e.Content))
		case KindAssistant:
			msgs = append(msgs, llm.NewAssistantMessage(e.Content))
		case KindReasoning:
			if includeReasoning {
				msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: e.Content, Metadata: map[string]string{"reasoning": "true"}})
			}
		case KindToolCall:
			if includeToolDetails {
				msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{*e.ToolCall}})
			}
		case KindToolResult:
			if includeToolDetails {
				msgs = append(msgs, llm.NewToolMessage(e.ToolCallID, e.Content))
			}
		}
	}
	return msgs
}

// ToSimpleMessages collapses tool calls and results into assistant/user
// pseudo-messages for backends that don't support a distinct tool role.
func (b *Buffer) ToSimpleMessages() []llm.Message {
	entries := b.Entries()
	var msgs []llm.Message

	for _, e := range entries {
		switch e.Kind {
		case KindSystem:
			msgs = append(msgs, llm.NewSystemMessage(e.Content))
		case KindUser, KindInjection:
			msgs = append(msgs, llm.NewUserMessage(e.Content))
		case KindAssistant, KindReasoning:
			msgs = append(msgs, llm.NewAssistantMessage(e.Content))
		case KindToolCall:
			msgs = append(msgs, llm.NewAssistantMessage(fmt.Sprintf("[called %s(%s)]", e.ToolCall.Function, string(e.ToolCall.Arguments))))
		case KindToolResult:
			msgs = append(msgs, llm.NewUserMessage(fmt.Sprintf("[tool result] %s", e.Content)))
		}
	}
	return msgs
}

// MarshalJSON serializes all permanent entries. Pending accumulators must
// be empty (call FlushTurn first); a non-empty accumulator is a bug in the
// caller, not a recoverable condition, so it is not represented here.
func (b *Buffer) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		AgentID string  `json:"agent_id"`
		Entries []Entry `json:"entries"`
	}{AgentID: b.agentID, Entries: b.Entries()})
}

// UnmarshalJSON restores a Buffer previously produced by MarshalJSON.
func (b *Buffer) UnmarshalJSON(data []byte) error {
	var payload struct {
		AgentID string  `json:"agent_id"`
		Entries []Entry `json:"entries"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("buffer: unmarshal: %w", err)
	}
	b.agentID = payload.AgentID
	b.entries = payload.Entries
	b.pendingContent = ""
	b.pendingReasoning = ""
	b.pendingToolCalls = nil
	return nil
}
