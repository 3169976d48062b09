package readstate

import (
	"context"
	"log/slog"
	"time"

	"github.com/tradepost/chat-service/internal/chat"
	"github.com/tradepost/chat-service/internal/protocol"
)

// Watermarks is the storage consumed by the Propagator. The Redis Store
// implements it; tests substitute an in-memory fake with the same monotonic
// contract.
type Watermarks interface {
	Advance(ctx context.Context, conversationID, userID string, ts int64) (bool, error)
}

// Membership answers whether a user participates in a conversation. Satisfied
// by the conversation store.
type Membership interface {
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
}

// Propagator advances read watermarks and broadcasts the change to the
// conversation's room.
type Propagator struct {
	marks Watermarks
	convs Membership
	rooms chat.Broadcaster
	log   *slog.Logger
}

// NewPropagator wires a Propagator from its collaborators.
func NewPropagator(marks Watermarks, convs Membership, rooms chat.Broadcaster, log *slog.Logger) *Propagator {
	if log == nil {
		log = slog.Default()
	}
	return &Propagator{marks: marks, convs: convs, rooms: rooms, log: log}
}

// MarkRead advances the user's watermark to now and broadcasts a read_changed
// event to the room. A stale intent (watermark already past now) is absorbed
// silently; a non-participant is rejected. Returns the watermark that was
// applied.
func (p *Propagator) MarkRead(ctx context.Context, conversationID, userID string) (int64, error) {
	ok, err := p.convs.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return 0, &chat.PersistenceError{Op: "membership lookup", Err: err}
	}
	if !ok {
		return 0, chat.ErrNotAParticipant
	}

	ts := time.Now().UnixMilli()
	advanced, err := p.marks.Advance(ctx, conversationID, userID, ts)
	if err != nil {
		return 0, &chat.PersistenceError{Op: "advance watermark", Err: err}
	}
	if !advanced {
		return ts, nil
	}

	data, err := protocol.NewServerMessage(protocol.TypeReadChanged, protocol.ReadChangedMsg{
		ConversationID: conversationID,
		UserID:         userID,
		Ts:             ts,
	})
	if err != nil {
		p.log.Error("readstate: encode read_changed failed",
			"conversation_id", conversationID, "user_id", userID, "err", err)
		return ts, nil
	}
	p.rooms.Broadcast(conversationID, data)

	return ts, nil
}
