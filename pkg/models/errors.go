package models

import (
	"fmt"
	"time"
)

// ErrorCode is the stable error taxonomy surfaced on the wire.
type ErrorCode string

const (
	ErrCodeConfiguration ErrorCode = "configuration"
	ErrCodeValidation    ErrorCode = "validation"
	ErrCodeRateLimit     ErrorCode = "rate-limit"
	ErrCodeTimeout       ErrorCode = "timeout"
	ErrCodeCancellation  ErrorCode = "cancellation"
	ErrCodeUpstream      ErrorCode = "upstream"
	ErrCodeInternal      ErrorCode = "internal"
)

// AgentError is a structured error with a stable code. It is what clients see
// inside an `error` stream event.
type AgentError struct {
	Code      ErrorCode      `json:"code"`
	Message   string         `json:"message"`
	Timestamp int64          `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
	Cause     error          `json:"-"`
}

// NewAgentError builds an AgentError with the current timestamp.
func NewAgentError(code ErrorCode, message string) *AgentError {
	return &AgentError{
		Code:      code,
		Message:   message,
		Timestamp: time.Now().UnixMilli(),
	}
}

// WithDetail attaches a detail field and returns the error for chaining.
func (e *AgentError) WithDetail(key string, value any) *AgentError {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

// WithCause records the underlying error.
func (e *AgentError) WithCause(err error) *AgentError {
	e.Cause = err
	return e
}

// Error implements the error interface.
func (e *AgentError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying error for errors.Is/As.
func (e *AgentError) Unwrap() error {
	return e.Cause
}

// AsAgentError converts any error to an AgentError, defaulting unknown
// errors to the internal code with a generic client-safe message.
func AsAgentError(err error) *AgentError {
	if err == nil {
		return nil
	}
	if ae, ok := err.(*AgentError); ok {
		return ae
	}
	return NewAgentError(ErrCodeInternal, "internal error").WithCause(err)
}
