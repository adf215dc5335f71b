package models

import (
	"encoding/json"
	"time"
)

// ToolCallStatus tracks a tool invocation through its lifecycle.
type ToolCallStatus string

const (
	ToolCallPending    ToolCallStatus = "pending"
	ToolCallValidating ToolCallStatus = "validating"
	ToolCallExecuting  ToolCallStatus = "executing"
	ToolCallCompleted  ToolCallStatus = "completed"
	ToolCallFailed     ToolCallStatus = "failed"
	ToolCallCancelled  ToolCallStatus = "cancelled"
)

// ToolCall is a mutable record tracking one tool invocation. It is created by
// the stream parser when a tool_use block begins, mutated by the scheduler,
// and surfaced to clients through tool_start/tool_complete events.
type ToolCall struct {
	ID          string          `json:"id"`
	Name        string          `json:"tool"`
	Params      json.RawMessage `json:"params,omitempty"`
	Status      ToolCallStatus  `json:"status"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Result      string          `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// NewToolCall builds a pending tool call with the LLM-assigned id.
func NewToolCall(id, name string) *ToolCall {
	return &ToolCall{ID: id, Name: name, Status: ToolCallPending}
}

// Duration returns the execution duration, or zero if the call has not
// both started and finished.
func (c *ToolCall) Duration() time.Duration {
	if c.StartedAt == nil || c.CompletedAt == nil {
		return 0
	}
	return c.CompletedAt.Sub(*c.StartedAt)
}

// Terminal reports whether the call has reached a final status.
func (c *ToolCall) Terminal() bool {
	switch c.Status {
	case ToolCallCompleted, ToolCallFailed, ToolCallCancelled:
		return true
	default:
		return false
	}
}

// Clone returns a copy safe to hand to another goroutine.
func (c *ToolCall) Clone() *ToolCall {
	if c == nil {
		return nil
	}
	clone := *c
	if c.StartedAt != nil {
		t := *c.StartedAt
		clone.StartedAt = &t
	}
	if c.CompletedAt != nil {
		t := *c.CompletedAt
		clone.CompletedAt = &t
	}
	if c.Params != nil {
		clone.Params = append(json.RawMessage(nil), c.Params...)
	}
	return &clone
}
