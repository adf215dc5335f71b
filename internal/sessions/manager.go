package sessions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prismlabs/prism/internal/agent"
	"github.com/prismlabs/prism/internal/config"
	"github.com/prismlabs/prism/internal/observability"
	"github.com/prismlabs/prism/pkg/models"
)

// ErrNotFound is returned for operations on unknown session ids.
var ErrNotFound = errors.New("sessions: session not found")

// activeWindow is the recency window Stats counts as active.
const activeWindow = 5 * time.Minute

// LoopFactory builds an agent loop bound to a project root. Creation
// failures must not leave partial state behind.
type LoopFactory func(projectRoot string) (*agent.Loop, error)

// Manager owns the session map. The map itself is guarded by a
// read-mostly mutex; each session carries its own serialization lock.
type Manager struct {
	cfg     *config.Config
	log     *observability.Logger
	metrics *observability.Metrics
	newLoop LoopFactory

	// systemPrompt is read per request so prompt-file reloads take
	// effect without restarting.
	systemPrompt func() string

	mu       sync.RWMutex
	sessions map[string]*Session

	nowFunc func() time.Time
	started bool
	stop    chan struct{}
	done    chan struct{}
}

// Stats summarises the live session population.
type Stats struct {
	Total  int        `json:"total"`
	Active int        `json:"active"`
	Oldest *time.Time `json:"oldest,omitempty"`
	Newest *time.Time `json:"newest,omitempty"`
}

// NewManager creates a manager. Call Start to begin the eviction sweep
// and Close to stop it and drop all sessions.
func NewManager(cfg *config.Config, newLoop LoopFactory, systemPrompt func() string, log *observability.Logger, metrics *observability.Metrics) *Manager {
	return &Manager{
		cfg:          cfg,
		log:          log,
		metrics:      metrics,
		newLoop:      newLoop,
		systemPrompt: systemPrompt,
		sessions:     make(map[string]*Session),
		nowFunc:      time.Now,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start launches the periodic eviction sweep.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	interval := m.cfg.Session.SweepInterval.Std()
	if interval <= 0 {
		interval = config.DefaultSweepInterval
	}
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				m.Sweep()
			}
		}
	}()
}

// Close stops the sweep and deletes every session. Safe to call
// whether or not Start ran, and safe to call twice.
func (m *Manager) Close() {
	m.mu.RLock()
	started := m.started
	m.mu.RUnlock()

	select {
	case <-m.stop:
	default:
		close(m.stop)
		if started {
			<-m.done
		}
	}
	for _, id := range m.ids() {
		m.Delete(id)
	}
}

// CreateOrResume returns the session for id when it is live, refreshing
// its last-activity; otherwise it creates a new session bound to the
// project root. The boolean reports whether the session was created.
func (m *Manager) CreateOrResume(id, projectRoot, userMemory string) (*Session, bool, error) {
	now := m.nowFunc()

	if id != "" {
		m.mu.RLock()
		session, ok := m.sessions[id]
		m.mu.RUnlock()
		if ok {
			session.touch(now)
			return session, false, nil
		}
	}

	loop, err := m.newLoop(projectRoot)
	if err != nil {
		return nil, false, fmt.Errorf("sessions: create failed: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	session := &Session{
		ID:           newSessionID(now),
		CreatedAt:    now,
		ProjectRoot:  projectRoot,
		UserMemory:   userMemory,
		lastActivity: now,
		phase:        agent.PhaseIdle,
		loop:         loop,
		ctx:          ctx,
		cancel:       cancel,
	}

	m.mu.Lock()
	maxSessions := m.cfg.Session.MaxSessions
	if maxSessions <= 0 {
		maxSessions = config.DefaultMaxSessions
	}
	var evict *Session
	if len(m.sessions) >= maxSessions {
		evict = m.leastRecentlyActiveLocked()
	}
	m.sessions[session.ID] = session
	m.mu.Unlock()

	if evict != nil {
		m.log.Info(ctx, "session cap reached, evicting least recently active",
			"evicted", evict.ID, "cap", maxSessions)
		m.evict(evict.ID, "capacity")
	}

	if m.metrics != nil {
		m.metrics.SessionsCreated.Inc()
		m.metrics.ActiveSessions.Set(float64(m.count()))
	}
	return session, true, nil
}

// Get returns the session for id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return session, nil
}

// AttachStream associates a client stream channel with the session.
// At most one stream may be attached at a time.
func (m *Manager) AttachStream(id string, ch chan<- *models.StreamEvent) error {
	session, err := m.Get(id)
	if err != nil {
		return err
	}
	return session.attach(ch)
}

// DetachStream removes the session's stream association without
// closing the channel. Unknown ids are ignored.
func (m *Manager) DetachStream(id string) {
	if session, err := m.Get(id); err == nil {
		session.detach()
	}
}

// ProcessMessage runs the agent loop for one user message under the
// session's serialization lock, forwarding events to the attached
// stream. It returns after the terminal event (complete or error) has
// been emitted, or silently on cancellation.
func (m *Manager) ProcessMessage(ctx context.Context, id, userText string) error {
	session, err := m.Get(id)
	if err != nil {
		return err
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	session.touch(m.nowFunc())

	// The run stops when either the caller's context or the session's
	// cancellation handle trips.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopWatch := context.AfterFunc(session.ctx, cancel)
	defer stopWatch()

	phase := agent.PhaseIdle
	turn := 0
	actx := &agent.Context{
		SessionID: session.ID,
		System:    m.buildSystemPrompt(session),
		Messages:  &session.messages,
		Phase:     &phase,
		Turn:      &turn,
		AddUsage:  session.addUsage,
	}

	emit := func(ev *models.StreamEvent) { session.emit(runCtx, ev) }
	runErr := session.loop.Run(runCtx, actx, userText, emit)

	session.stateMu.Lock()
	session.phase = phase
	session.turn = turn
	session.lastActivity = m.nowFunc()
	session.stateMu.Unlock()

	if runErr != nil {
		if runCtx.Err() != nil {
			// Cancellation ends the stream without an error event.
			m.log.Info(ctx, "session run cancelled", "session_id", session.ID)
			session.stateMu.Lock()
			session.phase = agent.PhaseIdle
			session.stateMu.Unlock()
			return nil
		}
		m.log.Error(ctx, "session run failed", "session_id", session.ID, "error", runErr)
		session.emit(runCtx, models.ErrorEvent(session.ID, agent.AsAgentError(runErr)))
		return runErr
	}
	return nil
}

// Delete cancels the session, closes any attached stream, and removes
// the entry. Idempotent.
func (m *Manager) Delete(id string) {
	m.remove(id, "deleted")
}

// Sweep evicts every session whose last activity is older than the TTL.
func (m *Manager) Sweep() {
	ttl := m.cfg.Session.TTL.Std()
	if ttl <= 0 {
		ttl = config.DefaultSessionTTL
	}
	cutoff := m.nowFunc().Add(-ttl)

	m.mu.RLock()
	var expired []string
	for id, session := range m.sessions {
		if session.LastActivity().Before(cutoff) {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range expired {
		m.log.Info(context.Background(), "evicting expired session", "session_id", id)
		m.evict(id, "ttl")
	}
}

// Stats reports totals over the live session map.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{Total: len(m.sessions)}
	cutoff := m.nowFunc().Add(-activeWindow)
	for _, session := range m.sessions {
		last := session.LastActivity()
		if last.After(cutoff) {
			stats.Active++
		}
		created := session.CreatedAt
		if stats.Oldest == nil || created.Before(*stats.Oldest) {
			t := created
			stats.Oldest = &t
		}
		if stats.Newest == nil || created.After(*stats.Newest) {
			t := created
			stats.Newest = &t
		}
	}
	return stats
}

func (m *Manager) buildSystemPrompt(session *Session) string {
	prompt := m.systemPrompt()
	if session.UserMemory != "" {
		prompt += "\n\n# User memory\n" + session.UserMemory
	}
	return prompt
}

func (m *Manager) evict(id, reason string) {
	if m.remove(id, reason) && m.metrics != nil {
		m.metrics.SessionsEvicted.WithLabelValues(reason).Inc()
	}
}

// remove implements Delete semantics and reports whether the session
// existed.
func (m *Manager) remove(id, reason string) bool {
	m.mu.Lock()
	session, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}

	// Cancel in-flight work, then wait for the loop to unwind before
	// closing the stream so no event is written to a closed channel.
	session.cancel()
	session.mu.Lock()
	ch := session.detach()
	session.mu.Unlock()
	if ch != nil {
		close(ch)
	}

	if m.metrics != nil {
		m.metrics.ActiveSessions.Set(float64(m.count()))
	}
	m.log.Debug(context.Background(), "session removed", "session_id", id, "reason", reason)
	return true
}

func (m *Manager) count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) ids() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// leastRecentlyActiveLocked finds the eviction candidate. Caller holds
// the map write lock.
func (m *Manager) leastRecentlyActiveLocked() *Session {
	var oldest *Session
	for _, session := range m.sessions {
		if oldest == nil || session.LastActivity().Before(oldest.LastActivity()) {
			oldest = session
		}
	}
	return oldest
}
