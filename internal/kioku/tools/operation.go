// Package tools defines the memory operations the model may request and the
// dispatcher that executes them against a session's memory tiers.
//
// Operations form a closed set: Parse maps every tool call to exactly one
// Operation variant, with UnknownOperation standing in for names outside the
// set, and the dispatcher switches over the variants exhaustively.
package tools

import "errors"

// Operation names as advertised to the model.
const (
	OpCoreMemoryAppend     = "core_memory_append"
	OpCoreMemoryReplace    = "core_memory_replace"
	OpConversationSearch   = "conversation_search"
	OpArchivalMemorySearch = "archival_memory_search"
	OpArchivalMemoryInsert = "archival_memory_insert"
	OpSendMessage          = "send_message"
)

var (
	// ErrUnknownOperation is reported for tool calls outside the operation set.
	ErrUnknownOperation = errors.New("unknown operation")
	// ErrInvalidArguments is reported when arguments fail schema validation
	// or decoding.
	ErrInvalidArguments = errors.New("invalid arguments")
)

// Operation is one of the variants below.
type Operation interface {
	// Name returns the operation name.
	Name() string
	// Heartbeat reports whether the model asked for another inference round
	// after this operation.
	Heartbeat() bool

	operation()
}

// CoreMemoryAppend appends Content to a core memory field.
type CoreMemoryAppend struct {
	Field            string `json:"field"`
	Content          string `json:"content"`
	RequestHeartbeat bool   `json:"request_heartbeat"`
}

// CoreMemoryReplace replaces OldContent with NewContent in a core memory field.
type CoreMemoryReplace struct {
	Field            string `json:"field"`
	OldContent       string `json:"old_content"`
	NewContent       string `json:"new_content"`
	RequestHeartbeat bool   `json:"request_heartbeat"`
}

// ConversationSearch searches the recall store.
type ConversationSearch struct {
	Query            string `json:"query"`
	Page             int    `json:"page"`
	RequestHeartbeat bool   `json:"request_heartbeat"`
}

// ArchivalMemorySearch searches the archival store.
type ArchivalMemorySearch struct {
	Query            string `json:"query"`
	Page             int    `json:"page"`
	RequestHeartbeat bool   `json:"request_heartbeat"`
}

// ArchivalMemoryInsert writes a record to the archival store.
type ArchivalMemoryInsert struct {
	Content          string         `json:"content"`
	Metadata         map[string]any `json:"metadata"`
	RequestHeartbeat bool           `json:"request_heartbeat"`
}

// SendMessage is the user-facing reply.
type SendMessage struct {
	Message          string `json:"message"`
	RequestHeartbeat bool   `json:"request_heartbeat"`
}

// UnknownOperation is a tool call whose name is not in the operation set.
type UnknownOperation struct {
	Requested string
}

func (CoreMemoryAppend) Name() string     { return OpCoreMemoryAppend }
func (CoreMemoryReplace) Name() string    { return OpCoreMemoryReplace }
func (ConversationSearch) Name() string   { return OpConversationSearch }
func (ArchivalMemorySearch) Name() string { return OpArchivalMemorySearch }
func (ArchivalMemoryInsert) Name() string { return OpArchivalMemoryInsert }
func (SendMessage) Name() string          { return OpSendMessage }
func (u UnknownOperation) Name() string   { return u.Requested }

func (o CoreMemoryAppend) Heartbeat() bool     { return o.RequestHeartbeat }
func (o CoreMemoryReplace) Heartbeat() bool    { return o.RequestHeartbeat }
func (o ConversationSearch) Heartbeat() bool   { return o.RequestHeartbeat }
func (o ArchivalMemorySearch) Heartbeat() bool { return o.RequestHeartbeat }
func (o ArchivalMemoryInsert) Heartbeat() bool { return o.RequestHeartbeat }
func (o SendMessage) Heartbeat() bool          { return o.RequestHeartbeat }

// Heartbeat is always true so the model sees the error and can recover.
func (UnknownOperation) Heartbeat() bool { return true }

func (CoreMemoryAppend) operation()     {}
func (CoreMemoryReplace) operation()    {}
func (ConversationSearch) operation()   {}
func (ArchivalMemorySearch) operation() {}
func (ArchivalMemoryInsert) operation() {}
func (SendMessage) operation()          {}
func (UnknownOperation) operation()     {}
