package llmstream

// Role identifies who produced a message in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a model-initiated request to invoke an external function.
// ArgumentsText is assembled incrementally from stream fragments and is not
// guaranteed to be valid JSON until the stream has completed.
type ToolCall struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ArgumentsText string `json:"arguments_text"`
}

// Message is one turn in a conversation log. Content may be empty for pure
// tool-call turns. ToolCallID is set only on RoleTool messages.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// SystemMessage creates a system Message.
func SystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: text}
}

// UserMessage creates a user Message.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: text}
}

// AssistantMessage creates an assistant Message with text content.
func AssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Content: text}
}

// ToolMessage creates a tool result Message tied to a tool call.
func ToolMessage(toolCallID, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: toolCallID}
}

// Usage tracks token consumption. Counters are monotonically non-decreasing
// across turns.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add returns a new Usage that is the sum of u and other.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
		TotalTokens:      u.TotalTokens + other.TotalTokens,
	}
}

// Normalize fills in TotalTokens from the component counters when the
// backend did not report it explicitly.
func (u Usage) Normalize() Usage {
	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	return u
}

// ToolDefinition describes a tool for the backend (serializable metadata).
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Request is the input to a backend streaming call.
type Request struct {
	Model       string           `json:"model"`
	Messages    []Message        `json:"messages"`
	ToolDefs    []ToolDefinition `json:"tools,omitempty"`
	Backend     string           `json:"backend,omitempty"`
	Temperature *float64         `json:"temperature,omitempty"`
	MaxTokens   *int             `json:"max_tokens,omitempty"`
}

// EventKind identifies the kind of wire event. The set is closed: the
// assembler dispatches exhaustively over these constants, and backends
// normalize any provider-specific tag they do not recognize to EventOther
// with the original tag preserved in RawKind.
type EventKind string

const (
	EventTextDelta         EventKind = "text_delta"
	EventInputTextDelta    EventKind = "input_text_delta"
	EventRefusalDelta      EventKind = "refusal_delta"
	EventToolCallCreated   EventKind = "tool_call_created"
	EventToolCallArgsDelta EventKind = "tool_call_arguments_delta"
	EventUsageDelta        EventKind = "usage_delta"
	EventUsageFinal        EventKind = "usage_final"
	EventCompleted         EventKind = "completed"
	EventError             EventKind = "error"
	EventOther             EventKind = "other"
)

// WireEvent is a single incremental event from a streaming backend.
// Exactly which fields are meaningful depends on Kind:
//
//   - EventTextDelta / EventInputTextDelta / EventRefusalDelta: Delta
//   - EventToolCallCreated: CallID, ToolName
//   - EventToolCallArgsDelta: CallID, Delta
//   - EventUsageDelta / EventUsageFinal: Usage
//   - EventError: Err
//   - EventOther: RawKind
type WireEvent struct {
	Kind     EventKind `json:"kind"`
	Delta    string    `json:"delta,omitempty"`
	CallID   string    `json:"call_id,omitempty"`
	ToolName string    `json:"tool_name,omitempty"`
	Usage    *Usage    `json:"usage,omitempty"`
	Err      error     `json:"-"`
	RawKind  string    `json:"raw_kind,omitempty"`
}
