package models

import (
	"time"
)

// StreamEventType identifies the kind of client-visible stream event.
type StreamEventType string

const (
	EventConnected    StreamEventType = "connected"
	EventThinking     StreamEventType = "thinking"
	EventToolStart    StreamEventType = "tool_start"
	EventToolProgress StreamEventType = "tool_progress"
	EventToolComplete StreamEventType = "tool_complete"
	EventResponse     StreamEventType = "response"
	EventComplete     StreamEventType = "complete"
	EventError        StreamEventType = "error"
)

// StreamEvent is the discriminated union delivered to clients over SSE.
// Every event carries the session id and a millisecond server timestamp in
// its data payload; the remaining fields are kind-specific.
type StreamEvent struct {
	Type StreamEventType `json:"type"`
	Data EventData       `json:"data"`
}

// EventData is the payload of a StreamEvent.
type EventData struct {
	SessionID string `json:"sessionId"`
	Timestamp int64  `json:"timestamp"`

	// Content for thinking and response events.
	Content string `json:"content,omitempty"`

	// ToolCall for tool_start, tool_progress, and tool_complete events.
	ToolCall *ToolCall `json:"toolCall,omitempty"`

	// Progress in [0, 1] for tool_progress events.
	Progress *float64 `json:"progress,omitempty"`

	// Message is the final assistant message for complete events.
	Message *Message `json:"message,omitempty"`

	// Error for error events.
	Error *AgentError `json:"error,omitempty"`
}

// Terminal reports whether the event ends a stream.
func (e *StreamEvent) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

func newEvent(kind StreamEventType, sessionID string) *StreamEvent {
	return &StreamEvent{
		Type: kind,
		Data: EventData{
			SessionID: sessionID,
			Timestamp: time.Now().UnixMilli(),
		},
	}
}

// ConnectedEvent is emitted once when a client stream attaches.
func ConnectedEvent(sessionID string) *StreamEvent {
	return newEvent(EventConnected, sessionID)
}

// ThinkingEvent summarises the turn the loop is about to run.
func ThinkingEvent(sessionID, content string) *StreamEvent {
	ev := newEvent(EventThinking, sessionID)
	ev.Data.Content = content
	return ev
}

// ResponseEvent carries one incremental text fragment.
func ResponseEvent(sessionID, delta string) *StreamEvent {
	ev := newEvent(EventResponse, sessionID)
	ev.Data.Content = delta
	return ev
}

// ToolStartEvent is emitted when the scheduler begins executing a call.
func ToolStartEvent(sessionID string, call *ToolCall) *StreamEvent {
	ev := newEvent(EventToolStart, sessionID)
	ev.Data.ToolCall = call.Clone()
	return ev
}

// ToolProgressEvent reports fractional progress for a running call.
func ToolProgressEvent(sessionID string, call *ToolCall, progress float64) *StreamEvent {
	ev := newEvent(EventToolProgress, sessionID)
	ev.Data.ToolCall = call.Clone()
	ev.Data.Progress = &progress
	return ev
}

// ToolCompleteEvent is emitted when a call reaches a terminal status.
func ToolCompleteEvent(sessionID string, call *ToolCall) *StreamEvent {
	ev := newEvent(EventToolComplete, sessionID)
	ev.Data.ToolCall = call.Clone()
	return ev
}

// CompleteEvent carries the final assistant message for the request.
func CompleteEvent(sessionID string, message *Message) *StreamEvent {
	ev := newEvent(EventComplete, sessionID)
	ev.Data.Message = message
	return ev
}

// ErrorEvent carries a structured error and terminates the stream.
func ErrorEvent(sessionID string, err *AgentError) *StreamEvent {
	ev := newEvent(EventError, sessionID)
	ev.Data.Error = err
	return ev
}
