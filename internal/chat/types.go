// Package chat implements the message pipeline for listing conversations:
// validation, lazy conversation creation, durable append with store-assigned
// ordering, and fan-out to the conversation's room.
package chat

import "time"

// Conversation is a two-party chat thread tied to a marketplace listing.
// OwnerID is the listing owner, UserID the inquiring counterpart; at most one
// conversation exists per (listing, owner, user) triple.
type Conversation struct {
	ID        string
	ListingID string
	OwnerID   string
	UserID    string
	CreatedAt time.Time
}

// IsParticipant reports whether userID is one of the two participants.
func (c *Conversation) IsParticipant(userID string) bool {
	return userID == c.OwnerID || userID == c.UserID
}

// Counterpart returns the other participant's user ID, or "" if userID is
// not a participant.
func (c *Conversation) Counterpart(userID string) string {
	if userID == c.OwnerID {
		return c.UserID
	}
	if userID == c.UserID {
		return c.OwnerID
	}
	return ""
}

// Message is one persisted chat message. Seq is assigned by the durable store
// on insert and is strictly increasing within a conversation; it is the single
// source of ordering truth and is never renumbered.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Body           string
	Seq            int64
	CreatedAt      time.Time
}
