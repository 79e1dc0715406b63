// ABOUTME: Core conversation data model shared across transports and storage
// ABOUTME: Message, ToolUse and per-research Conversation state

package chat

import "time"

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ToolUse records a tool invocation attached to an assistant message.
// Result and Error are filled in later if the server reports them.
type ToolUse struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Result    any            `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Message is a single entry in a conversation transcript.
// Content is append-only except while an assistant reply is streaming,
// when chunks are concatenated in place.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	ToolUses  []ToolUse `json:"tool_uses,omitempty"`
}

// Conversation holds the transcript and connection state for one
// research item. Exactly one instance exists per key; the Manager
// hands out the same pointer for the lifetime of the process.
type Conversation struct {
	Key       string
	Messages  []*Message
	Connected bool
	Streaming bool

	// LastError is the most recent surfaced error, empty when healthy.
	LastError string
}

// lastMessage returns the final transcript entry, or nil when empty.
func (c *Conversation) lastMessage() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return c.Messages[len(c.Messages)-1]
}
