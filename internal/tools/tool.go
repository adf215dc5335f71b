// Package tools defines the tool contract consumed by the scheduler and a
// registry for dynamic tool dispatch.
//
// Tools implement a common interface; the registry is a map from name to
// implementation. New tools are added by registering an implementation, never
// by extending a variant type.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// Tool is a named, schema-typed local capability advertised to the LLM.
type Tool interface {
	// Name returns the tool name for LLM function calling.
	// Must be a valid function name (alphanumeric, underscores).
	Name() string

	// Description returns a natural language description of what the tool
	// does. This helps the LLM decide when to use the tool.
	Description() string

	// Schema returns the JSON Schema defining the tool's parameters.
	Schema() json.RawMessage

	// Execute runs the tool with the given JSON parameters. Execution
	// errors are reported via Result.IsError so the model can react; a
	// non-nil error return means the tool itself failed unexpectedly.
	Execute(ctx context.Context, params json.RawMessage) (*Result, error)
}

// Modifier is implemented by tools that mutate the workstation. Tools that
// do not implement it are treated as read-only.
type Modifier interface {
	// Modifies reports whether the tool mutates state outside the process.
	Modifies() bool

	// RequiresApproval reports whether a confirmation prompt should guard
	// the call. Confirmation UX is the caller's concern.
	RequiresApproval() bool
}

// ProgressReporter is implemented by tools that can report fractional
// progress while executing. The scheduler forwards progress to the client.
type ProgressReporter interface {
	ExecuteWithProgress(ctx context.Context, params json.RawMessage, progress func(float64)) (*Result, error)
}

// Result contains the output from a tool execution.
type Result struct {
	// Content is the tool's textual output.
	Content string `json:"content"`

	// IsError indicates this result represents an error condition.
	IsError bool `json:"is_error,omitempty"`

	// Metadata carries tool-specific extras (byte counts, match counts).
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Errorf builds an error result from a format string.
func Errorf(format string, args ...any) *Result {
	return &Result{Content: fmt.Sprintf(format, args...), IsError: true}
}

// Textf builds a success result from a format string.
func Textf(format string, args ...any) *Result {
	return &Result{Content: fmt.Sprintf(format, args...)}
}

// IsModifying reports whether the tool declares itself as mutating.
func IsModifying(t Tool) bool {
	m, ok := t.(Modifier)
	return ok && m.Modifies()
}
