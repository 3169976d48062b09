// Package store provides the PostgreSQL-backed store of record for
// conversations and messages. Message order is assigned by the database at
// insert time (a bigserial sequence), which makes it the single source of
// ordering truth under concurrent sends.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/tradepost/chat-service/internal/chat"
)

// Store implements chat.ConversationStore against PostgreSQL.
type Store struct {
	db *sql.DB
}

// New creates a Store backed by the given database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateConversationIfAbsent returns the conversation for the given
// (listing, owner, user) triple, creating it when none exists. The unique
// index on the triple makes concurrent first sends converge on one row.
func (s *Store) CreateConversationIfAbsent(ctx context.Context, listingID, ownerID, userID string) (*chat.Conversation, error) {
	const insert = `
		INSERT INTO conversations (id, listing_id, owner_id, user_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (listing_id, owner_id, user_id) DO NOTHING`

	if _, err := s.db.ExecContext(ctx, insert, uuid.New().String(), listingID, ownerID, userID); err != nil {
		return nil, fmt.Errorf("store: insert conversation: %w", err)
	}

	const query = `
		SELECT id, listing_id, owner_id, user_id, created_at
		FROM conversations
		WHERE listing_id = $1 AND owner_id = $2 AND user_id = $3`

	var conv chat.Conversation
	err := s.db.QueryRowContext(ctx, query, listingID, ownerID, userID).
		Scan(&conv.ID, &conv.ListingID, &conv.OwnerID, &conv.UserID, &conv.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: select conversation: %w", err)
	}
	return &conv, nil
}

// GetConversation returns a conversation by ID, or nil if it does not exist.
func (s *Store) GetConversation(ctx context.Context, id string) (*chat.Conversation, error) {
	const query = `
		SELECT id, listing_id, owner_id, user_id, created_at
		FROM conversations
		WHERE id = $1`

	var conv chat.Conversation
	err := s.db.QueryRowContext(ctx, query, id).
		Scan(&conv.ID, &conv.ListingID, &conv.OwnerID, &conv.UserID, &conv.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get conversation: %w", err)
	}
	return &conv, nil
}

// AppendMessage inserts a message and returns it with the store-assigned
// order key and timestamp. The RETURNING clause makes order assignment atomic
// with the insert.
func (s *Store) AppendMessage(ctx context.Context, conversationID, senderID, body string) (*chat.Message, error) {
	const insert = `
		INSERT INTO messages (id, conversation_id, sender_id, body)
		VALUES ($1, $2, $3, $4)
		RETURNING seq, created_at`

	msg := chat.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Body:           body,
	}
	err := s.db.QueryRowContext(ctx, insert, msg.ID, conversationID, senderID, body).
		Scan(&msg.Seq, &msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: append message: %w", err)
	}
	return &msg, nil
}

// ListMessages returns all messages of a conversation in insertion order,
// oldest first.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]chat.Message, error) {
	const query = `
		SELECT id, conversation_id, sender_id, body, seq, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("store: list messages: %w", err)
	}
	defer rows.Close()

	msgs := make([]chat.Message, 0, 16)
	for rows.Next() {
		var m chat.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Body, &m.Seq, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list messages: %w", err)
	}
	return msgs, nil
}

// IsParticipant reports whether userID is one of the conversation's two
// participants. A missing conversation reports false.
func (s *Store) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	const query = `
		SELECT 1
		FROM conversations
		WHERE id = $1 AND (owner_id = $2 OR user_id = $2)`

	var one int
	err := s.db.QueryRowContext(ctx, query, conversationID, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: is participant: %w", err)
	}
	return true, nil
}
