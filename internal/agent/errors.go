package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/prismlabs/prism/pkg/models"
)

// ErrMaxTurns is returned when a run exhausts its turn budget without a
// terminal assistant answer.
var ErrMaxTurns = errors.New("agent: max turns exceeded")

// upstreamError wraps a provider failure so the loop can decide whether
// the turn is worth retrying.
type upstreamError struct {
	err error
}

func (e *upstreamError) Error() string {
	return fmt.Sprintf("upstream: %v", e.err)
}

func (e *upstreamError) Unwrap() error {
	return e.err
}

// Upstream marks err as a provider-layer failure.
func Upstream(err error) error {
	if err == nil {
		return nil
	}
	return &upstreamError{err: err}
}

// retryable reports whether the turn that produced err may be rebuilt
// and retried. Cancellation never retries.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var ue *upstreamError
	return errors.As(err, &ue)
}

// AsAgentError converts a loop failure into the structured error shape
// surfaced to clients.
func AsAgentError(err error) *models.AgentError {
	var ae *models.AgentError
	if errors.As(err, &ae) {
		return ae
	}
	if errors.Is(err, ErrMaxTurns) {
		return models.NewAgentError(models.ErrCodeInternal, "conversation exceeded the maximum number of turns")
	}
	var ue *upstreamError
	if errors.As(err, &ue) {
		return models.NewAgentError(models.ErrCodeUpstream, "the language model request failed").WithCause(ue.err)
	}
	return models.NewAgentError(models.ErrCodeInternal, "an unexpected error occurred").WithCause(err)
}
