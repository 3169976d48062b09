// Package presence tracks ephemeral per-conversation typing state. Nothing
// here is persisted: flags decay on explicit stop, on send, on disconnect,
// and after an inactivity timeout enforced by a background sweeper.
package presence

import (
	"sync"
	"time"
)

// DefaultTypingTimeout is how long a typing flag survives without renewal.
// Clients that vanish without a typing_stop (tab closed, network drop before
// the transport notices) are cleared by the sweeper within this window.
const DefaultTypingTimeout = 7 * time.Second

// Entry identifies one (conversation, user) typing flag.
type Entry struct {
	ConversationID string
	UserID         string
}

// Tracker holds the typing flags. All methods are safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	timeout time.Duration
	active  map[string]map[string]time.Time // conversationID -> userID -> expiry
}

// NewTracker creates a Tracker whose flags expire after timeout. A
// non-positive timeout falls back to DefaultTypingTimeout.
func NewTracker(timeout time.Duration) *Tracker {
	if timeout <= 0 {
		timeout = DefaultTypingTimeout
	}
	return &Tracker{
		timeout: timeout,
		active:  make(map[string]map[string]time.Time),
	}
}

// Set updates the typing flag for (conversationID, userID) and reports
// whether the observable state changed. Setting true renews the expiry, so a
// client that keeps typing keeps the flag alive without it counting as a
// change.
func (t *Tracker) Set(conversationID, userID string, isTyping bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !isTyping {
		return t.clearLocked(conversationID, userID)
	}

	users, ok := t.active[conversationID]
	if !ok {
		users = make(map[string]time.Time)
		t.active[conversationID] = users
	}
	_, wasTyping := users[userID]
	users[userID] = time.Now().Add(t.timeout)
	return !wasTyping
}

// Clear removes the typing flag for (conversationID, userID), reporting
// whether a flag was actually cleared. Used on send and on disconnect.
func (t *Tracker) Clear(conversationID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.clearLocked(conversationID, userID)
}

func (t *Tracker) clearLocked(conversationID, userID string) bool {
	users, ok := t.active[conversationID]
	if !ok {
		return false
	}
	if _, exists := users[userID]; !exists {
		return false
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(t.active, conversationID)
	}
	return true
}

// IsTyping reports whether the user currently holds an unexpired typing flag
// in the conversation.
func (t *Tracker) IsTyping(conversationID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	expiry, ok := t.active[conversationID][userID]
	return ok && time.Now().Before(expiry)
}

// ActiveCount returns the total number of live typing flags.
func (t *Tracker) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, users := range t.active {
		n += len(users)
	}
	return n
}

// Expire removes every flag whose expiry is at or before now and returns the
// cleared entries so the caller can broadcast the change.
func (t *Tracker) Expire(now time.Time) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	var expired []Entry
	for conversationID, users := range t.active {
		for userID, expiry := range users {
			if !expiry.After(now) {
				expired = append(expired, Entry{ConversationID: conversationID, UserID: userID})
				delete(users, userID)
			}
		}
		if len(users) == 0 {
			delete(t.active, conversationID)
		}
	}
	return expired
}

// StartSweeper runs a background goroutine that expires stale typing flags at
// the given interval, invoking onExpire for each cleared entry. It returns
// immediately; the goroutine exits when done is closed.
func StartSweeper(t *Tracker, interval time.Duration, done <-chan struct{}, onExpire func(Entry)) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case now := <-ticker.C:
				for _, entry := range t.Expire(now) {
					onExpire(entry)
				}
			}
		}
	}()
}
