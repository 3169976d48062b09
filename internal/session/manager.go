package session

import "sync"

// Manager is the process-wide registry of live sessions keyed by connection
// ID. Removal is first-wins, which anchors the exactly-once disconnect
// cleanup: whichever goroutine removes the session runs the cleanup, everyone
// else sees ok=false.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session)}
}

// Create registers a new session in the Connecting state for the given
// connection.
func (m *Manager) Create(id string, conn Conn) *Session {
	s := NewSession(id, conn)
	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()
	return s
}

// Get returns the session for the connection ID, or nil.
func (m *Manager) Get(id string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

// Remove unregisters and returns the session. The second return value is
// false if the session was already removed.
func (m *Manager) Remove(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	delete(m.sessions, id)
	return s, true
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
