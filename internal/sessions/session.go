// Package sessions owns the process-wide mapping from session id to
// conversation state: creation, resumption, eviction, cancellation,
// and the one-stream-per-session channel contract.
package sessions

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/prismlabs/prism/internal/agent"
	"github.com/prismlabs/prism/pkg/models"
)

// Session is the aggregate state for one conversation. The message log
// and state record are mutated only while holding the session's
// serialization lock, so turns can never interleave.
type Session struct {
	ID          string
	CreatedAt   time.Time
	ProjectRoot string
	UserMemory  string

	// mu is the serialization lock: exactly one agent loop runs per
	// session at a time.
	mu sync.Mutex

	// stateMu guards the fields below, which are read by Stats and the
	// sweep while a turn may be running.
	stateMu      sync.Mutex
	lastActivity time.Time
	phase        agent.Phase
	turn         int
	tokens       int64
	stream       chan<- *models.StreamEvent

	loop *agent.Loop

	// ctx is the session's cancellation handle; cancel trips every
	// in-flight LLM read and tool execution for the session.
	ctx    context.Context
	cancel context.CancelFunc

	messages []models.Message
}

// newSessionID builds an id from the creation time plus a random
// suffix, making collisions impossible by construction.
func newSessionID(now time.Time) string {
	return fmt.Sprintf("sess_%d_%s", now.UnixMilli(), uuid.NewString()[:8])
}

// Phase returns the session's current state.
func (s *Session) Phase() agent.Phase {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.phase
}

// LastActivity returns the last-activity timestamp.
func (s *Session) LastActivity() time.Time {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.lastActivity
}

// Tokens returns the session's cumulative token count.
func (s *Session) Tokens() int64 {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.tokens
}

// Turn returns the current turn counter.
func (s *Session) Turn() int {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.turn
}

// Messages returns a copy of the message log.
func (s *Session) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Cancel trips the session's cancellation handle.
func (s *Session) Cancel() {
	s.cancel()
}

func (s *Session) touch(now time.Time) {
	s.stateMu.Lock()
	s.lastActivity = now
	s.stateMu.Unlock()
}

func (s *Session) addUsage(input, output int) {
	s.stateMu.Lock()
	s.tokens += int64(input + output)
	s.stateMu.Unlock()
}

// attach associates the client stream channel. One active stream per
// session.
func (s *Session) attach(ch chan<- *models.StreamEvent) error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.stream != nil {
		return fmt.Errorf("sessions: a stream is already attached to %s", s.ID)
	}
	s.stream = ch
	return nil
}

// detach disassociates the stream and returns it for closing.
func (s *Session) detach() chan<- *models.StreamEvent {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	ch := s.stream
	s.stream = nil
	return ch
}

// emit forwards an event to the attached stream, if any. The send
// aborts when the current run's context or the session itself is
// cancelled, so a client that stops reading can never wedge the loop
// past its own disconnect.
func (s *Session) emit(ctx context.Context, ev *models.StreamEvent) {
	s.stateMu.Lock()
	ch := s.stream
	s.stateMu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- ev:
	case <-ctx.Done():
	case <-s.ctx.Done():
	}
}
