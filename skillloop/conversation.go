package skillloop

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alexezh/shadow-sub001/llmstream"
)

// DiagnosticEntry is one record in the conversation's append-only
// observability log. Diagnostics never affect correctness.
type DiagnosticEntry struct {
	At     time.Time `json:"at"`
	Kind   string    `json:"kind"` // "message" or "usage"
	Detail string    `json:"detail"`
}

// ConversationState owns the ordered message log, cumulative usage counters,
// and the last accepted phase for one logical conversation. It is mutated
// only by the orchestration loop and lives for the duration of one chain
// run.
//
// Not safe for concurrent use: each conversation has exactly one owner.
type ConversationState struct {
	id        string
	createdAt time.Time
	messages  []llmstream.Message
	usage     llmstream.Usage
	lastPhase *Phase
	diagLog   []DiagnosticEntry
}

// NewConversationState creates an empty conversation.
func NewConversationState() *ConversationState {
	return &ConversationState{
		id:        uuid.New().String(),
		createdAt: time.Now(),
	}
}

// ID returns the conversation identifier.
func (c *ConversationState) ID() string { return c.id }

// CreatedAt returns the conversation creation time.
func (c *ConversationState) CreatedAt() time.Time { return c.createdAt }

// AppendMessage commits a message to the log. Committed messages are never
// mutated in place.
func (c *ConversationState) AppendMessage(msg llmstream.Message) {
	c.messages = append(c.messages, msg)
	c.diagLog = append(c.diagLog, DiagnosticEntry{
		At:     time.Now(),
		Kind:   "message",
		Detail: fmt.Sprintf("role=%s content_len=%d tool_calls=%d", msg.Role, len(msg.Content), len(msg.ToolCalls)),
	})
}

// Messages returns a copy of the message log.
func (c *ConversationState) Messages() []llmstream.Message {
	out := make([]llmstream.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Len returns the number of committed messages.
func (c *ConversationState) Len() int { return len(c.messages) }

// AddUsage accumulates a turn's usage into the conversation counters.
func (c *ConversationState) AddUsage(u llmstream.Usage) {
	c.usage = c.usage.Add(u)
	c.diagLog = append(c.diagLog, DiagnosticEntry{
		At:     time.Now(),
		Kind:   "usage",
		Detail: fmt.Sprintf("prompt=%d completion=%d total=%d", u.PromptTokens, u.CompletionTokens, u.TotalTokens),
	})
}

// Usage returns the cumulative usage counters.
func (c *ConversationState) Usage() llmstream.Usage { return c.usage }

// LastPhase returns the last accepted phase, or nil before the first
// enveloped turn.
func (c *ConversationState) LastPhase() *Phase {
	if c.lastPhase == nil {
		return nil
	}
	p := *c.lastPhase
	return &p
}

// SetLastPhase records the phase of an accepted turn.
func (c *ConversationState) SetLastPhase(p Phase) {
	c.lastPhase = &p
}

// Diagnostics returns a copy of the diagnostic entry log.
func (c *ConversationState) Diagnostics() []DiagnosticEntry {
	out := make([]DiagnosticEntry, len(c.diagLog))
	copy(out, c.diagLog)
	return out
}
