package agent

import (
	"context"
	"encoding/json"

	"github.com/prismlabs/prism/pkg/models"
)

// CompletionRequest is the provider-neutral shape of one streaming LLM
// call. System instructions travel in their own field; the message list
// never contains system-role entries.
type CompletionRequest struct {
	Model       string
	MaxTokens   int
	Temperature float64
	System      string
	Messages    []models.Message
	Tools       []ToolSpec
}

// ToolSpec advertises one tool to the LLM.
type ToolSpec struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// ChunkKind discriminates streaming chunks. The kinds mirror the
// provider wire protocol: a message envelope containing content blocks,
// each block delivered as a start, deltas, and a stop.
type ChunkKind string

const (
	ChunkMessageStart   ChunkKind = "message_start"
	ChunkTextDelta      ChunkKind = "text_delta"
	ChunkToolUseStart   ChunkKind = "tool_use_start"
	ChunkToolInputDelta ChunkKind = "tool_input_delta"
	ChunkBlockStop      ChunkKind = "block_stop"
	ChunkMessageStop    ChunkKind = "message_stop"
	ChunkError          ChunkKind = "error"
)

// Chunk is one element of a provider stream. Exactly the fields for its
// Kind are populated.
type Chunk struct {
	Kind ChunkKind

	// MessageID and InputTokens arrive with message_start.
	MessageID   string
	InputTokens int

	// Text carries a fragment for text_delta.
	Text string

	// ToolID and ToolName arrive with tool_use_start.
	ToolID   string
	ToolName string

	// PartialJSON extends the current tool call's input for
	// tool_input_delta.
	PartialJSON string

	// OutputTokens arrives with message_stop.
	OutputTokens int

	// Err is set for error chunks; the stream closes after one.
	Err error
}

// Provider is a streaming LLM backend. Stream returns a channel that is
// closed after message_stop or an error chunk. Implementations must
// honor ctx cancellation by closing the channel promptly.
type Provider interface {
	Name() string
	Stream(ctx context.Context, req *CompletionRequest) (<-chan *Chunk, error)
}
