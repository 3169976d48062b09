package chat

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/tradepost/chat-service/internal/protocol"
)

// ConversationStore is the durable store consumed by the pipeline. AppendMessage
// must assign the order key atomically; the pipeline never orders messages
// itself so that concurrent sends serialize at the store.
type ConversationStore interface {
	CreateConversationIfAbsent(ctx context.Context, listingID, ownerID, userID string) (*Conversation, error)
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	AppendMessage(ctx context.Context, conversationID, senderID, body string) (*Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]Message, error)
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
}

// Broadcaster delivers an encoded event to every session currently joined to
// a conversation. Delivery is best-effort per session; a dead peer must not
// abort delivery to the rest of the room.
type Broadcaster interface {
	Broadcast(conversationID string, data []byte)
}

// SendIntent is a validated-on-entry send request. ConversationID may be
// empty on the first message about a listing, in which case ListingID and To
// (the listing owner) identify the thread to create.
type SendIntent struct {
	ConversationID string
	ListingID      string
	To             string
	SenderID       string
	Body           string
}

// sendShards is the size of the per-conversation lock table. Sends to the
// same conversation always hash to the same lock; sends to different
// conversations rarely contend.
const sendShards = 64

// Pipeline validates, persists, and fans out send intents, and replays
// ordered history on join.
type Pipeline struct {
	store  ConversationStore
	rooms  Broadcaster
	log    *slog.Logger
	sendMu [sendShards]sync.Mutex
}

// NewPipeline builds a Pipeline on top of the given store and broadcaster.
func NewPipeline(store ConversationStore, rooms Broadcaster, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{store: store, rooms: rooms, log: log}
}

// Send runs the full pipeline for one send intent: validate the body, resolve
// (or lazily create) the conversation, verify membership, persist through the
// store to obtain the definitive order key, and broadcast the persisted
// message to the room. On persistence failure nothing is broadcast and the
// intent is safe to retry.
func (p *Pipeline) Send(ctx context.Context, intent SendIntent) (*Message, error) {
	if err := ValidateBody(intent.Body); err != nil {
		return nil, err
	}

	conv, err := p.resolveConversation(ctx, intent)
	if err != nil {
		return nil, err
	}
	if !conv.IsParticipant(intent.SenderID) {
		return nil, ErrNotAParticipant
	}

	// Persist and fan out as one critical section per conversation: without
	// it, two concurrent sends can broadcast in the opposite order of their
	// store-assigned sequence when the earlier insert's reply arrives later,
	// and every joined session would observe seq 2 before seq 1.
	mu := p.sendLock(conv.ID)
	mu.Lock()
	defer mu.Unlock()

	msg, err := p.store.AppendMessage(ctx, conv.ID, intent.SenderID, intent.Body)
	if err != nil {
		return nil, &PersistenceError{Op: "append", Err: err}
	}

	data, err := protocol.NewServerMessage(protocol.TypeMessageCreated, protocol.MessageCreatedMsg{
		ConversationID: msg.ConversationID,
		ID:             msg.ID,
		SenderID:       msg.SenderID,
		Body:           msg.Body,
		Seq:            msg.Seq,
		Ts:             msg.CreatedAt.UnixMilli(),
	})
	if err != nil {
		// The message is durably stored; sessions will see it via history
		// replay even if this fan-out is lost.
		p.log.Error("chat: encode message_created failed",
			"conversation_id", msg.ConversationID, "message_id", msg.ID, "err", err)
		return msg, nil
	}
	p.rooms.Broadcast(conv.ID, data)

	return msg, nil
}

// sendLock returns the lock shard for a conversation.
func (p *Pipeline) sendLock(conversationID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(conversationID))
	return &p.sendMu[h.Sum32()%sendShards]
}

// Authorize reports whether the user may act on the conversation. A missing
// conversation and a non-participant both fail with ErrNotAParticipant.
func (p *Pipeline) Authorize(ctx context.Context, conversationID, userID string) error {
	conv, err := p.store.GetConversation(ctx, conversationID)
	if err != nil {
		return &PersistenceError{Op: "get conversation", Err: err}
	}
	if conv == nil || !conv.IsParticipant(userID) {
		return ErrNotAParticipant
	}
	return nil
}

// History returns all messages of a conversation oldest first, provided the
// requester is a participant.
func (p *Pipeline) History(ctx context.Context, conversationID, requesterID string) ([]Message, error) {
	conv, err := p.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, &PersistenceError{Op: "get conversation", Err: err}
	}
	if conv == nil || !conv.IsParticipant(requesterID) {
		return nil, ErrNotAParticipant
	}

	msgs, err := p.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, &PersistenceError{Op: "list messages", Err: err}
	}
	return msgs, nil
}

// resolveConversation looks up an existing conversation by ID, or mints one
// when the intent carries a listing and counterpart instead. This lazy-create
// path is the only place a conversation comes into existence.
func (p *Pipeline) resolveConversation(ctx context.Context, intent SendIntent) (*Conversation, error) {
	if intent.ConversationID != "" {
		conv, err := p.store.GetConversation(ctx, intent.ConversationID)
		if err != nil {
			return nil, &PersistenceError{Op: "get conversation", Err: err}
		}
		if conv == nil {
			return nil, ErrNotAParticipant
		}
		return conv, nil
	}

	// First message about a listing: the recipient is the listing owner and
	// the sender is the inquirer. The store enforces at most one conversation
	// per (listing, owner, user) triple, so concurrent first sends converge
	// on the same thread.
	if intent.ListingID == "" || intent.To == "" || intent.To == intent.SenderID {
		return nil, fmt.Errorf("%w: conversation not resolvable from intent", ErrNotAParticipant)
	}
	conv, err := p.store.CreateConversationIfAbsent(ctx, intent.ListingID, intent.To, intent.SenderID)
	if err != nil {
		return nil, &PersistenceError{Op: "create conversation", Err: err}
	}
	return conv, nil
}
