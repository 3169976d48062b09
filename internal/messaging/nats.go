// Package messaging provides the NATS relay that extends room broadcasts
// across chatserver instances. Each instance publishes its room events to a
// per-conversation subject tagged with its own name and re-broadcasts events
// that originated elsewhere into its local rooms.
package messaging

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// SubjectConversation is the subject root for conversation fan-out; the full
// subject is convo.<conversation_id>.
const SubjectConversation = "convo"

// RelayEvent wraps one encoded room event with its origin instance so
// subscribers can filter out their own publishes.
type RelayEvent struct {
	Origin string          `json:"origin"`
	Data   json.RawMessage `json:"data"`
}

// RelayConfig holds NATS connection settings.
type RelayConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	Origin        string        // this instance's name, used for self-filtering
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultRelayConfig returns sensible defaults.
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		URL:           "nats://localhost:4222",
		Name:          "chatserver",
		Origin:        "chat-1",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// natsSub is the part of *nats.Subscription the relay uses; an interface so
// subscription bookkeeping is testable without a broker.
type natsSub interface {
	Unsubscribe() error
	Drain() error
}

type relaySub struct {
	sub    natsSub
	owners map[string]struct{} // session IDs holding this subscription
}

// Relay wraps the NATS connection with per-conversation subscriptions owned
// by the set of local sessions joined to the conversation. Ownership is
// tracked per session ID, so subscribing or unsubscribing the same session
// twice is a no-op and concurrent cleanup paths cannot release someone else's
// hold.
type Relay struct {
	conn      *nats.Conn
	origin    string
	subscribe func(subject string, cb nats.MsgHandler) (natsSub, error)
	mu        sync.Mutex
	subs      map[string]*relaySub // conversationID -> subscription
}

// NewRelay connects to NATS with the given config and returns a ready Relay.
// It returns an error if the initial connection fails.
func NewRelay(config RelayConfig) (*Relay, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats: disconnected", "err", err)
			} else {
				slog.Info("nats: disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats: reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			slog.Info("nats: connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	slog.Info("nats: connected", "url", nc.ConnectedUrl(), "origin", config.Origin)

	return &Relay{
		conn:   nc,
		origin: config.Origin,
		subscribe: func(subject string, cb nats.MsgHandler) (natsSub, error) {
			return nc.Subscribe(subject, cb)
		},
		subs: make(map[string]*relaySub),
	}, nil
}

// Publish sends an encoded room event to the conversation's subject, tagged
// with this instance's origin.
func (r *Relay) Publish(conversationID string, data []byte) error {
	payload, err := json.Marshal(RelayEvent{Origin: r.origin, Data: data})
	if err != nil {
		return fmt.Errorf("nats: marshal relay event: %w", err)
	}
	return r.conn.Publish(SubjectConversation+"."+conversationID, payload)
}

// Subscribe registers the session as an owner of the conversation's subject.
// The first owner creates the NATS subscription; later owners are recorded
// without touching NATS. Subscribing a session that already owns the
// subscription is a no-op. Events originating from this instance are filtered
// out before deliver is called.
func (r *Relay) Subscribe(conversationID, sessionID string, deliver func(data []byte)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.subs[conversationID]; ok {
		entry.owners[sessionID] = struct{}{}
		return nil
	}

	subject := SubjectConversation + "." + conversationID
	sub, err := r.subscribe(subject, func(msg *nats.Msg) {
		var event RelayEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			slog.Warn("nats: bad relay event", "subject", subject, "err", err)
			return
		}
		if event.Origin == r.origin {
			return // our own publish, already delivered locally
		}
		deliver(event.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	r.subs[conversationID] = &relaySub{
		sub:    sub,
		owners: map[string]struct{}{sessionID: {}},
	}
	return nil
}

// Unsubscribe releases the session's hold on the conversation's subscription
// and tears down the NATS subscription when the last owner is gone. Releasing
// a hold the session does not have is a no-op, so join/disconnect races
// resolve to exactly one release per session.
func (r *Relay) Unsubscribe(conversationID, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.subs[conversationID]
	if !ok {
		return nil
	}
	if _, owner := entry.owners[sessionID]; !owner {
		return nil
	}
	delete(entry.owners, sessionID)
	if len(entry.owners) > 0 {
		return nil
	}
	delete(r.subs, conversationID)

	if err := entry.sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", conversationID, err)
	}
	return nil
}

// Subscribed reports whether the conversation currently has a live relay
// subscription on this instance.
func (r *Relay) Subscribed(conversationID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.subs[conversationID]
	return ok
}

// Close drains all active subscriptions and closes the NATS connection.
func (r *Relay) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for conversationID, entry := range r.subs {
		if err := entry.sub.Drain(); err != nil {
			slog.Warn("nats: drain failed", "conversation_id", conversationID, "err", err)
		}
	}
	r.subs = make(map[string]*relaySub)

	if err := r.conn.Drain(); err != nil {
		slog.Warn("nats: connection drain failed", "err", err)
	}

	slog.Info("nats: relay closed")
}
