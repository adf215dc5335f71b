package models

import (
	"encoding/json"
	"testing"
)

func TestNewTextMessage(t *testing.T) {
	msg := NewTextMessage(RoleUser, "hello")
	if msg.ID == "" {
		t.Fatal("expected generated id")
	}
	if msg.Role != RoleUser {
		t.Errorf("role = %q, want user", msg.Role)
	}
	if got := msg.Text(); got != "hello" {
		t.Errorf("Text() = %q, want hello", got)
	}
	if len(msg.ToolUses()) != 0 {
		t.Error("expected no tool uses")
	}
}

func TestMessageTextConcatenation(t *testing.T) {
	msg := &Message{
		Role: RoleAssistant,
		Content: []ContentPart{
			TextPart("first "),
			ToolUsePart("tu_1", "read_file", json.RawMessage(`{"path":"a.go"}`)),
			TextPart("second"),
		},
	}
	if got := msg.Text(); got != "first second" {
		t.Errorf("Text() = %q", got)
	}
	uses := msg.ToolUses()
	if len(uses) != 1 || uses[0].ToolUseID != "tu_1" || uses[0].ToolName != "read_file" {
		t.Errorf("ToolUses() = %+v", uses)
	}
}

func TestMessageToolResults(t *testing.T) {
	msg := &Message{
		Role: RoleUser,
		Content: []ContentPart{
			ToolResultPart("tu_1", "ok", false),
			ToolResultPart("tu_2", "path escapes workspace", true),
		},
	}
	results := msg.ToolResults()
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].ToolUseID != "tu_1" || results[0].IsError {
		t.Errorf("first result = %+v", results[0])
	}
	if results[1].ToolUseID != "tu_2" || !results[1].IsError {
		t.Errorf("second result = %+v", results[1])
	}
}

func TestContentPartRoundTrip(t *testing.T) {
	part := ToolUsePart("tu_9", "shell", json.RawMessage(`{"command":"ls"}`))
	data, err := json.Marshal(part)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded ContentPart
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Type != ContentToolUse || decoded.ToolUseID != "tu_9" || decoded.ToolName != "shell" {
		t.Errorf("decoded = %+v", decoded)
	}
}
