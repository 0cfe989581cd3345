package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/bdobrica/Kioku/internal/kioku/llm"
	"github.com/bdobrica/Kioku/internal/kioku/memory"
)

// opDef describes one operation for the model and for validation.
type opDef struct {
	name        string
	description string
	params      map[string]any
	schema      *jsonschema.Schema
	decode      func(raw []byte) (Operation, error)
}

var heartbeatProp = map[string]any{
	"type":        "boolean",
	"description": "Request another reasoning step after this operation completes.",
	"default":     false,
}

func object(required []string, props map[string]any) map[string]any {
	props["request_heartbeat"] = heartbeatProp
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

func fieldEnum() []any {
	fields := memory.CoreFields()
	out := make([]any, len(fields))
	for i, f := range fields {
		out[i] = string(f)
	}
	return out
}

func pageProp(size int) map[string]any {
	return map[string]any{
		"type":        "integer",
		"minimum":     1,
		"default":     1,
		"description": fmt.Sprintf("1-indexed results page (%d results per page).", size),
	}
}

func decodeInto[T Operation](raw []byte) (Operation, error) {
	var op T
	if err := json.Unmarshal(raw, &op); err != nil {
		return nil, err
	}
	return op, nil
}

func buildDefs(recallPageSize, archivalPageSize int) []*opDef {
	text := func(desc string) map[string]any {
		return map[string]any{"type": "string", "minLength": 1, "description": desc}
	}
	field := map[string]any{
		"type":        "string",
		"enum":        fieldEnum(),
		"description": "Core memory field to edit.",
	}

	return []*opDef{
		{
			name:        OpCoreMemoryAppend,
			description: "Append durable facts to a core memory field. Core memory is always visible to you.",
			params: object([]string{"field", "content"}, map[string]any{
				"field":   field,
				"content": text("Text to append."),
			}),
			decode: decodeInto[CoreMemoryAppend],
		},
		{
			name:        OpCoreMemoryReplace,
			description: "Replace existing text in a core memory field. old_content must match the current text exactly.",
			params: object([]string{"field", "old_content", "new_content"}, map[string]any{
				"field":       field,
				"old_content": text("Exact text currently in the field."),
				"new_content": map[string]any{"type": "string", "description": "Replacement text; empty deletes."},
			}),
			decode: decodeInto[CoreMemoryReplace],
		},
		{
			name:        OpConversationSearch,
			description: "Search the full history of past messages with this user, including ones no longer in context.",
			params: object([]string{"query"}, map[string]any{
				"query": text("What to look for."),
				"page":  pageProp(recallPageSize),
			}),
			decode: decodeInto[ConversationSearch],
		},
		{
			name:        OpArchivalMemorySearch,
			description: "Search long-term archival memory for saved facts, documents and past plans.",
			params: object([]string{"query"}, map[string]any{
				"query": text("What to look for."),
				"page":  pageProp(archivalPageSize),
			}),
			decode: decodeInto[ArchivalMemorySearch],
		},
		{
			name:        OpArchivalMemoryInsert,
			description: "Save information to long-term archival memory for later search.",
			params: object([]string{"content"}, map[string]any{
				"content": text("Text to store."),
				"metadata": map[string]any{
					"type":        "object",
					"description": "Optional labels such as category or type.",
				},
			}),
			decode: decodeInto[ArchivalMemoryInsert],
		},
		{
			name:        OpSendMessage,
			description: "Send a message to the user. This is the only way the user sees your reply.",
			params: object([]string{"message"}, map[string]any{
				"message": text("Message text shown to the user."),
			}),
			decode: decodeInto[SendMessage],
		},
	}
}

// compileDefs compiles every operation parameter schema.
func compileDefs(defs []*opDef) error {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	for _, s := range defs {
		raw, err := json.Marshal(s.params)
		if err != nil {
			return fmt.Errorf("tools: marshal schema %s: %w", s.name, err)
		}
		url := "kioku://tools/" + s.name + ".json"
		if err := c.AddResource(url, bytes.NewReader(raw)); err != nil {
			return fmt.Errorf("tools: add schema %s: %w", s.name, err)
		}
		if s.schema, err = c.Compile(url); err != nil {
			return fmt.Errorf("tools: compile schema %s: %w", s.name, err)
		}
	}
	return nil
}

// definition returns the model-facing definition.
func (s *opDef) definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Type: "function",
		Function: llm.FunctionDef{
			Name:        s.name,
			Description: s.description,
			Parameters:  s.params,
		},
	}
}

// parse validates raw arguments and decodes them into the operation variant.
func (s *opDef) parse(arguments string) (Operation, error) {
	raw := []byte(strings.TrimSpace(arguments))
	if len(raw) == 0 {
		raw = []byte("{}")
	}

	var doc any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %s: malformed JSON: %v", ErrInvalidArguments, s.name, err)
	}
	if err := s.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidArguments, s.name, err)
	}
	op, err := s.decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidArguments, s.name, err)
	}
	return op, nil
}
