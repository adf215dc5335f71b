// Package models provides domain types for the Prism agent runtime.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ContentType discriminates the kinds of content parts a message can carry.
type ContentType string

const (
	ContentText       ContentType = "text"
	ContentToolUse    ContentType = "tool_use"
	ContentToolResult ContentType = "tool_result"
)

// ContentPart is one element of a message's content. Exactly the fields for
// its Type are populated; a plain-text message is the single text-part case.
type ContentPart struct {
	Type ContentType `json:"type"`

	// Text content (Type == ContentText).
	Text string `json:"text,omitempty"`

	// Tool use (Type == ContentToolUse). ID is assigned by the LLM.
	ToolUseID string          `json:"tool_use_id,omitempty"`
	ToolName  string          `json:"tool_name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`

	// Tool result (Type == ContentToolResult). ToolUseID references the
	// tool_use part in an earlier assistant message.
	Content string `json:"content,omitempty"`
	IsError bool   `json:"is_error,omitempty"`
}

// TextPart builds a text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: ContentText, Text: text}
}

// ToolUsePart builds a tool_use content part.
func ToolUsePart(id, name string, input json.RawMessage) ContentPart {
	return ContentPart{Type: ContentToolUse, ToolUseID: id, ToolName: name, Input: input}
}

// ToolResultPart builds a tool_result content part referencing a tool_use id.
func ToolResultPart(toolUseID, content string, isError bool) ContentPart {
	return ContentPart{Type: ContentToolResult, ToolUseID: toolUseID, Content: content, IsError: isError}
}

// MessageMeta carries provider bookkeeping attached to a message.
type MessageMeta struct {
	Model        string `json:"model,omitempty"`
	InputTokens  int    `json:"input_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
}

// Message is a single entry in a session's conversation log.
type Message struct {
	ID        string        `json:"id"`
	Role      Role          `json:"role"`
	Content   []ContentPart `json:"content"`
	CreatedAt time.Time     `json:"created_at"`
	Meta      *MessageMeta  `json:"meta,omitempty"`
}

// NewTextMessage builds a message whose content is a single text part.
func NewTextMessage(role Role, text string) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   []ContentPart{TextPart(text)},
		CreatedAt: time.Now(),
	}
}

// Text concatenates the message's text parts.
func (m *Message) Text() string {
	var out string
	for _, part := range m.Content {
		if part.Type == ContentText {
			out += part.Text
		}
	}
	return out
}

// ToolUses returns the tool_use parts of the message in order.
func (m *Message) ToolUses() []ContentPart {
	var uses []ContentPart
	for _, part := range m.Content {
		if part.Type == ContentToolUse {
			uses = append(uses, part)
		}
	}
	return uses
}

// ToolResults returns the tool_result parts of the message in order.
func (m *Message) ToolResults() []ContentPart {
	var results []ContentPart
	for _, part := range m.Content {
		if part.Type == ContentToolResult {
			results = append(results, part)
		}
	}
	return results
}
