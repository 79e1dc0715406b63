// ABOUTME: Wire frame types for the streaming chat connection
// ABOUTME: Inbound server frames are tagged by a "type" discriminator

package chat

import "time"

// FrameType discriminates inbound streaming frames.
type FrameType string

const (
	FrameChunk    FrameType = "chunk"
	FrameComplete FrameType = "complete"
	FrameError    FrameType = "error"
	FrameToolUse  FrameType = "tool_use"
)

// serverFrame is an inbound frame from the streaming endpoint.
// Content carries chunk text, the full message on complete, or the
// error text. Tool and Arguments are set on tool_use frames.
type serverFrame struct {
	Type      FrameType      `json:"type"`
	Content   string         `json:"content,omitempty"`
	Tool      string         `json:"tool,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// sendFrame is the outbound payload for a streaming send. History is
// the transcript as it stood before the message being sent.
type sendFrame struct {
	Message string         `json:"message"`
	History []historyEntry `json:"history"`
}

// historyEntry is the wire form of a transcript message. Timestamps
// are ISO-8601, matching what the backend parses.
type historyEntry struct {
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// historyBefore converts all but the last n messages of a transcript
// into wire history entries.
func historyBefore(messages []*Message, n int) []historyEntry {
	end := len(messages) - n
	if end < 0 {
		end = 0
	}
	history := make([]historyEntry, 0, end)
	for _, msg := range messages[:end] {
		history = append(history, historyEntry{
			Role:      msg.Role,
			Content:   msg.Content,
			Timestamp: msg.Timestamp.Format(time.RFC3339),
		})
	}
	return history
}
