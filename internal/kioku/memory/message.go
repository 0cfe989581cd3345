// Package memory implements the tiered memory of a Kioku agent session:
// core memory (always in context), the working queue with its rolling
// summary, and the recall/archival vector indexes.
package memory

import (
	"fmt"
	"strings"
	"time"

	"github.com/bdobrica/Kioku/internal/kioku/llm"
)

// Metadata keys carried on tool-result messages.
const (
	MetaOperation  = "operation"
	MetaToolCallID = "tool_call_id"
	MetaStatus     = "status"
)

// Message is one entry of the working queue.
type Message struct {
	Role      llm.Role          `json:"role"`
	Content   string            `json:"content"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	ToolCalls []llm.ToolCall    `json:"tool_calls,omitempty"`
}

// NewMessage returns a message stamped with the current time.
func NewMessage(role llm.Role, content string) Message {
	return Message{Role: role, Content: content, Timestamp: time.Now().UTC()}
}

// Operation returns the originating operation name of a tool-result message.
func (m Message) Operation() string {
	return m.Metadata[MetaOperation]
}

// Text renders the message body for search and transcripts. Assistant
// messages that only requested operations render as call signatures.
func (m Message) Text() string {
	if len(m.ToolCalls) == 0 {
		return m.Content
	}
	var b strings.Builder
	b.WriteString(m.Content)
	for _, tc := range m.ToolCalls {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s(%s)", tc.Function.Name, tc.Function.Arguments)
	}
	return b.String()
}

// formatTranscript renders messages as "role: text" lines.
func formatTranscript(msgs []Message) string {
	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s: %s", m.Role, m.Text())
	}
	return b.String()
}
