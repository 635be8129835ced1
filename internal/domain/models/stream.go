package models

// CompletionAction tells the backend how a completion relates to existing messages.
type CompletionAction string

const (
	ActionNone       CompletionAction = ""
	ActionEdit       CompletionAction = "edit"
	ActionRegenerate CompletionAction = "regenerate"
)

func (a CompletionAction) Valid() bool {
	switch a {
	case ActionNone, ActionEdit, ActionRegenerate:
		return true
	}
	return false
}

// ToolCallDelta is one fragment of a streamed tool invocation.
type ToolCallDelta struct {
	ID        string `json:"id" msgpack:"id"`
	Name      string `json:"name,omitempty" msgpack:"name,omitempty"`
	Arguments string `json:"arguments,omitempty" msgpack:"arguments,omitempty"`
}

// StreamChunk is one incremental unit of a streamed completion. Done and
// Error are terminal markers set by the producer and never serialized.
type StreamChunk struct {
	Role       MessageRole     `json:"role,omitempty" msgpack:"role,omitempty"`
	Content    string          `json:"content,omitempty" msgpack:"content,omitempty"`
	Reasoning  string          `json:"reasoning,omitempty" msgpack:"reasoning,omitempty"`
	ToolCalls  []ToolCallDelta `json:"tool_calls,omitempty" msgpack:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty" msgpack:"tool_call_id,omitempty"`

	Done  bool  `json:"-" msgpack:"-"`
	Error error `json:"-" msgpack:"-"`
}

// IsToolResult reports whether the chunk carries the output of a tool call.
func (c StreamChunk) IsToolResult() bool {
	return c.Role == MessageRoleTool && c.ToolCallID != ""
}

// IsRoundMarker reports whether the chunk only separates assistant rounds.
func (c StreamChunk) IsRoundMarker() bool {
	return c.Role == MessageRoleAssistant &&
		c.Content == "" &&
		c.Reasoning == "" &&
		len(c.ToolCalls) == 0 &&
		c.ToolCallID == ""
}

// StreamState describes whether a conversation has a generation in flight.
type StreamState struct {
	IsStreaming bool   `json:"is_streaming" msgpack:"is_streaming"`
	MessageID   string `json:"message_id,omitempty" msgpack:"message_id,omitempty"`
}

// InputMessage is the plain-text form of a message sent to the transport.
type InputMessage struct {
	Role    MessageRole `json:"role" msgpack:"role"`
	Content string      `json:"content" msgpack:"content"`
}
