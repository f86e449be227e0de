package session

import (
	"sync"

	"go.uber.org/zap"
)

// PlannerFactory builds the Planner that backs one session, lazily
// instantiated on first message — mirrors
// original_source/core/session.py's SessionManager creating an
// AgentExecutor per session on demand.
type PlannerFactory func(sessionID string) Planner

// Manager lazily creates and tracks one DebounceSession per
// session_id. Grounded on original_source/core/session.py's
// SessionManager.
type Manager struct {
	factory    PlannerFactory
	debounceMs int
	logger     *zap.Logger

	mu       sync.Mutex
	sessions map[string]*DebounceSession
}

// NewManager creates a Manager that builds sessions on demand via
// factory, each debouncing for debounceMs.
func NewManager(factory PlannerFactory, debounceMs int, logger *zap.Logger) *Manager {
	return &Manager{
		factory:    factory,
		debounceMs: debounceMs,
		logger:     logger,
		sessions:   make(map[string]*DebounceSession),
	}
}

// Get returns (creating if necessary) the session for sessionID.
func (m *Manager) Get(sessionID string) *DebounceSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionID]; ok {
		return s
	}
	s := NewDebounceSession(sessionID, m.factory(sessionID), m.debounceMs, m.logger)
	m.sessions[sessionID] = s
	return s
}

// HandleMessage delegates to the named session's HandleMessage,
// creating the session if this is its first message.
func (m *Manager) HandleMessage(sessionID, text string) *Handle {
	return m.Get(sessionID).HandleMessage(text)
}

// Clear tears down a session so the next message for sessionID starts
// fresh (a new Planner, empty history).
func (m *Manager) Clear(sessionID string) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	if ok {
		s.Cancel()
	}
}

// SetProvider overrides the preferred LLM provider for sessionID's
// planner, creating the session if it doesn't exist yet. Backs the
// /provider/{session_id} REST endpoint (spec §6).
func (m *Manager) SetProvider(sessionID, name string) error {
	return m.Get(sessionID).SetProvider(name)
}

// Cancel cancels the named session's in-flight turn without removing
// the session itself (used by agent.stop, spec §9 Open Question (c)).
func (m *Manager) Cancel(sessionID string) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if ok {
		s.Cancel()
	}
}
