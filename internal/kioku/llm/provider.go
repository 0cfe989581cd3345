// Package llm defines the inference collaborator consumed by the memory
// agent: chat messages, tool definitions, and the Provider interface.
//
// A single Complete call is one inference round. The agent loop calls it
// repeatedly while executed tools keep requesting a heartbeat.
package llm

import "context"

// Role is the role of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single chat message sent to or received from the model.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // when Role == RoleTool
	Name       string     `json:"name,omitempty"`         // operation name when Role == RoleTool
}

// ToolCall is an operation requested by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"` // always "function"
	Function FunctionCall `json:"function"`
}

// FunctionCall holds the operation name and its raw JSON arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDefinition advertises an operation to the model.
type ToolDefinition struct {
	Type     string      `json:"type"` // "function"
	Function FunctionDef `json:"function"`
}

// FunctionDef is the schema of a callable operation.
type FunctionDef struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"` // JSON Schema object
}

// CompletionRequest is the input to one inference round.
type CompletionRequest struct {
	Model     string
	Messages  []Message
	Tools     []ToolDefinition
	MaxTokens int
}

// CompletionResponse is the output of one inference round.
type CompletionResponse struct {
	Message Message
	// FinishReason is "stop" for plain text and "tool_calls" when operations
	// were requested.
	FinishReason string
	Usage        TokenUsage
}

// TokenUsage reports provider-side token accounting.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Provider is implemented by every inference backend.
type Provider interface {
	// Complete returns the next assistant message, which may carry tool calls.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
