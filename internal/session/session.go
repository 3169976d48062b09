// Package session owns the per-connection runtime state machine
// (Connecting -> Authenticated -> Joined* -> Closed) and guarantees that
// disconnect cleanup runs exactly once per session.
package session

import (
	"sync"

	"github.com/tradepost/chat-service/internal/chat"
)

// State is the session lifecycle state.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is the outbound half of the underlying connection. ws.Connection
// satisfies it.
type Conn interface {
	WriteMessage(data []byte) error
}

// Session binds one live connection to an authenticated user identity and the
// set of conversations it has joined. It implements room.Subscriber.
type Session struct {
	id   string
	conn Conn

	mu     sync.Mutex
	state  State
	userID string
	joined map[string]struct{}
}

// NewSession creates a session in the Connecting state.
func NewSession(id string, conn Conn) *Session {
	return &Session{
		id:     id,
		conn:   conn,
		state:  StateConnecting,
		joined: make(map[string]struct{}),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// UserID returns the authenticated user identity, or "" before
// authentication.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Authenticate transitions Connecting -> Authenticated, attaching the
// resolved user identity. Any other starting state is an error.
func (s *Session) Authenticate(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateConnecting {
		return chat.ErrNotAuthenticated
	}
	s.state = StateAuthenticated
	s.userID = userID
	return nil
}

// Authenticated reports whether the session may emit intents.
func (s *Session) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateAuthenticated
}

// Join records membership in a conversation. Joining twice is a no-op; the
// return value reports whether the join set changed. Fails with
// ErrNotAuthenticated outside the Authenticated state.
func (s *Session) Join(conversationID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateAuthenticated {
		return false, chat.ErrNotAuthenticated
	}
	if _, ok := s.joined[conversationID]; ok {
		return false, nil
	}
	s.joined[conversationID] = struct{}{}
	return true, nil
}

// Leave removes a conversation from the join set. No-op if absent.
func (s *Session) Leave(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.joined, conversationID)
}

// Joined returns the conversations the session is currently a member of.
func (s *Session) Joined() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	convs := make([]string, 0, len(s.joined))
	for conversationID := range s.joined {
		convs = append(convs, conversationID)
	}
	return convs
}

// Close transitions the session to Closed and returns the conversations it
// was joined to, exactly once: later calls return nil so cleanup driven off
// the returned set cannot run twice even if disconnect is signaled
// repeatedly.
func (s *Session) Close() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return nil
	}
	s.state = StateClosed

	convs := make([]string, 0, len(s.joined))
	for conversationID := range s.joined {
		convs = append(convs, conversationID)
	}
	s.joined = make(map[string]struct{})
	return convs
}

// Send writes an encoded event to the session's connection.
func (s *Session) Send(data []byte) error {
	return s.conn.WriteMessage(data)
}
