package messaging

import "log/slog"

// LocalBroadcaster is the process-local room fan-out; the room registry
// satisfies it.
type LocalBroadcaster interface {
	Broadcast(conversationID string, data []byte) int
}

// Fanout composes local room delivery with the cross-instance relay. It is
// the Broadcaster handed to the message pipeline: every event reaches local
// joiners directly and remote joiners via NATS. With a nil Relay it degrades
// to purely local delivery.
type Fanout struct {
	Local LocalBroadcaster
	Relay *Relay
}

// Broadcast delivers locally and relays to other instances. Relay failures
// are best-effort; local delivery already happened and joiners recover missed
// events through history replay.
func (f *Fanout) Broadcast(conversationID string, data []byte) {
	f.Local.Broadcast(conversationID, data)
	if f.Relay != nil {
		if err := f.Relay.Publish(conversationID, data); err != nil {
			slog.Warn("messaging: relay publish failed",
				"conversation_id", conversationID, "err", err)
		}
	}
}
