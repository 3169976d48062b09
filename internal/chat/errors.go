package chat

import (
	"errors"
	"fmt"
)

// Sentinel errors for the intent-level failure taxonomy. All of them are
// terminal for the single intent that triggered them; none of them close the
// connection.
var (
	// ErrUnauthenticated means the connection credential could not be
	// resolved to a user identity. Unlike the other sentinels this one is
	// raised before a session exists and the connection is never upgraded.
	ErrUnauthenticated = errors.New("chat: unauthenticated")

	// ErrNotAuthenticated means an intent arrived before authentication
	// completed. The intent is dropped without side effect.
	ErrNotAuthenticated = errors.New("chat: not authenticated")

	// ErrNotAParticipant means the acting user is not one of the
	// conversation's two participants (or the conversation does not exist).
	ErrNotAParticipant = errors.New("chat: not a participant")

	// ErrInvalidMessage means the message body failed validation. Nothing
	// was persisted and nothing was broadcast.
	ErrInvalidMessage = errors.New("chat: invalid message")
)

// PersistenceError wraps a durable-store failure. No broadcast happened and
// nothing was partially applied, so the same send intent is safe to retry.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("chat: persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ErrorCode maps a pipeline error to the protocol-level error code reported
// back to the originating connection.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrNotAuthenticated):
		return "not_authenticated"
	case errors.Is(err, ErrNotAParticipant):
		return "not_a_participant"
	case errors.Is(err, ErrInvalidMessage):
		return "invalid_message"
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return "persistence_error"
	}
	return "internal_error"
}
