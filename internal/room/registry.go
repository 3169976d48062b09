// Package room maintains the in-memory mapping from conversation IDs to the
// set of live sessions currently subscribed to that conversation. Membership
// is process-local: each server instance tracks only the sessions it owns.
package room

import (
	"log/slog"
	"sync"
)

// Subscriber is one joined session. Send must be safe for concurrent use;
// errors mean the underlying connection is gone and are ignored by Broadcast
// (dead connections are evicted by the transport's own cleanup path).
type Subscriber interface {
	ID() string
	UserID() string
	Send(data []byte) error
}

// Registry is a thread-safe registry of conversation rooms. Membership sets
// are mutated only through Join, Leave, and EvictSession.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]map[string]Subscriber // conversationID -> sessionID -> subscriber
	index map[string]map[string]struct{}   // sessionID -> set of conversationIDs
}

// NewRegistry creates an empty Registry ready for use.
func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]map[string]Subscriber),
		index: make(map[string]map[string]struct{}),
	}
}

// Join adds the subscriber to the conversation's room. Joining twice is a
// no-op; the return value reports whether membership actually changed.
// Authorization is the caller's concern.
func (r *Registry) Join(conversationID string, sub Subscriber) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[conversationID]
	if !ok {
		members = make(map[string]Subscriber)
		r.rooms[conversationID] = members
	}
	if _, exists := members[sub.ID()]; exists {
		return false
	}
	members[sub.ID()] = sub

	convs, ok := r.index[sub.ID()]
	if !ok {
		convs = make(map[string]struct{})
		r.index[sub.ID()] = convs
	}
	convs[conversationID] = struct{}{}
	return true
}

// Leave removes the session from the conversation's room. Leaving a room the
// session is not in is a no-op.
func (r *Registry) Leave(conversationID, sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(conversationID, sessionID)
}

func (r *Registry) leaveLocked(conversationID, sessionID string) bool {
	members, ok := r.rooms[conversationID]
	if !ok {
		return false
	}
	if _, exists := members[sessionID]; !exists {
		return false
	}
	delete(members, sessionID)
	if len(members) == 0 {
		delete(r.rooms, conversationID)
	}

	if convs, ok := r.index[sessionID]; ok {
		delete(convs, conversationID)
		if len(convs) == 0 {
			delete(r.index, sessionID)
		}
	}
	return true
}

// EvictSession removes the session from every room it joined and returns the
// conversation IDs it was evicted from. Used by the disconnect cleanup path.
func (r *Registry) EvictSession(sessionID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	convs := make([]string, 0, len(r.index[sessionID]))
	for conversationID := range r.index[sessionID] {
		convs = append(convs, conversationID)
	}
	for _, conversationID := range convs {
		r.leaveLocked(conversationID, sessionID)
	}
	return convs
}

// Broadcast delivers data to every session joined to the conversation.
// Delivery is best-effort: a failed send is logged at debug and never aborts
// delivery to the remaining sessions. Returns the number of successful sends.
func (r *Registry) Broadcast(conversationID string, data []byte) int {
	r.mu.RLock()
	members := make([]Subscriber, 0, len(r.rooms[conversationID]))
	for _, sub := range r.rooms[conversationID] {
		members = append(members, sub)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, sub := range members {
		if err := sub.Send(data); err != nil {
			slog.Debug("room: broadcast send failed",
				"conversation_id", conversationID, "session_id", sub.ID(), "err", err)
			continue
		}
		delivered++
	}
	return delivered
}

// Members returns the number of sessions currently joined to a conversation.
func (r *Registry) Members(conversationID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[conversationID])
}

// Conversations returns the conversation IDs the session is currently joined
// to.
func (r *Registry) Conversations(sessionID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	convs := make([]string, 0, len(r.index[sessionID]))
	for conversationID := range r.index[sessionID] {
		convs = append(convs, conversationID)
	}
	return convs
}
