package agent

import (
	"fmt"
	"strings"

	"github.com/bdobrica/Kioku/internal/kioku/llm"
	"github.com/bdobrica/Kioku/internal/kioku/memory"
)

// DefaultInstructions is the operating manual given to the model when the
// configuration does not supply one.
const DefaultInstructions = `You are a travel planning assistant with a tiered memory that you manage yourself.

## Memory

- CORE MEMORY is always shown below. Keep durable facts about the user there
  (budget, travel style, dietary and accessibility needs, accommodation
  preferences) using core_memory_append and core_memory_replace. Space is
  limited, so keep it short.
- RECALL holds every past message, including ones no longer shown to you.
  Search it with conversation_search before saying you do not remember.
- ARCHIVAL holds saved trips, plans and documents. Search it with
  archival_memory_search and save new material with archival_memory_insert.

## Control flow

- Set request_heartbeat to true on an operation when you need another step
  after seeing its result, for example to read the next page of results.
- Without a heartbeat, control returns to the user.
- Reply to the user with send_message.
- When a Memory Pressure Warning appears, move important facts into core or
  archival memory. Older messages stay searchable in recall.`

const noSummary = "No messages evicted yet."

// buildSystemPrompt assembles the system message:
//
//  1. instructions
//  2. CORE MEMORY block (rendered fields)
//  3. QUEUE SUMMARY block (rolling summary of evicted messages)
//
// Operations are advertised through the request's tools parameter, not here.
func buildSystemPrompt(instructions, core, summary string) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(instructions))

	sb.WriteString("\n\n## CORE MEMORY\n")
	sb.WriteString(core)

	sb.WriteString("\n\n## QUEUE SUMMARY\n")
	if strings.TrimSpace(summary) == "" {
		sb.WriteString(noSummary)
	} else {
		sb.WriteString(summary)
	}
	return sb.String()
}

// buildMessages converts the queue window into chat messages after the system
// message. A tool result is only sent as a tool message when the assistant
// message that requested it is also in the window; otherwise it is rendered
// as system text so the request stays well formed.
func buildMessages(system string, window []memory.Message) []llm.Message {
	calls := make(map[string]bool)
	for _, m := range window {
		for _, tc := range m.ToolCalls {
			calls[tc.ID] = true
		}
	}

	out := make([]llm.Message, 0, len(window)+1)
	out = append(out, llm.Message{Role: llm.RoleSystem, Content: system})
	for _, m := range window {
		switch m.Role {
		case llm.RoleTool:
			id := m.Metadata[memory.MetaToolCallID]
			if id != "" && calls[id] {
				out = append(out, llm.Message{
					Role:       llm.RoleTool,
					Content:    m.Content,
					ToolCallID: id,
					Name:       m.Operation(),
				})
				continue
			}
			out = append(out, llm.Message{
				Role:    llm.RoleSystem,
				Content: fmt.Sprintf("Result of %s: %s", orUnknown(m.Operation()), m.Content),
			})
		case llm.RoleAssistant:
			out = append(out, llm.Message{Role: llm.RoleAssistant, Content: m.Content, ToolCalls: m.ToolCalls})
		default:
			out = append(out, llm.Message{Role: m.Role, Content: m.Content})
		}
	}
	return out
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown operation"
	}
	return s
}

func pressureWarning(u memory.Usage) string {
	return fmt.Sprintf("Memory Pressure Warning: %d/%d tokens used. "+
		"Consider saving important information to core memory or archival storage.", u.Estimate, u.Max)
}
