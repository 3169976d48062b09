package protocol

import (
	"encoding/json"
	"testing"
)

// ---------------------------------------------------------------------------
// Test: Parsing a valid send_message message
// ---------------------------------------------------------------------------

func TestParseClientMessage_SendMessage(t *testing.T) {
	input := []byte(`{"type":"send_message","conversation_id":"conv-1","body":"is this still available?"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeSendMessage {
		t.Fatalf("expected type %q, got %q", TypeSendMessage, msgType)
	}

	sm, ok := msg.(SendMessageMsg)
	if !ok {
		t.Fatalf("expected SendMessageMsg, got %T", msg)
	}
	if sm.ConversationID != "conv-1" {
		t.Errorf("expected conversation_id %q, got %q", "conv-1", sm.ConversationID)
	}
	if sm.Body != "is this still available?" {
		t.Errorf("expected body %q, got %q", "is this still available?", sm.Body)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a first-contact send with listing_id and to
// ---------------------------------------------------------------------------

func TestParseClientMessage_SendMessageFirstContact(t *testing.T) {
	input := []byte(`{"type":"send_message","listing_id":"listing-9","to":"owner-1","body":"hi"}`)

	_, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sm, ok := msg.(SendMessageMsg)
	if !ok {
		t.Fatalf("expected SendMessageMsg, got %T", msg)
	}
	if sm.ConversationID != "" {
		t.Errorf("expected empty conversation_id, got %q", sm.ConversationID)
	}
	if sm.ListingID != "listing-9" {
		t.Errorf("expected listing_id %q, got %q", "listing-9", sm.ListingID)
	}
	if sm.To != "owner-1" {
		t.Errorf("expected to %q, got %q", "owner-1", sm.To)
	}
}

// ---------------------------------------------------------------------------
// Test: Creating a message_created server message
// ---------------------------------------------------------------------------

func TestNewServerMessage_MessageCreated(t *testing.T) {
	payload := MessageCreatedMsg{
		ConversationID: "conv-1",
		ID:             "msg-uuid",
		SenderID:       "user-a",
		Body:           "hello",
		Seq:            42,
		Ts:             1756700000000,
	}

	data, err := NewServerMessage(TypeMessageCreated, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Decode back and verify structure.
	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}

	if result["type"] != TypeMessageCreated {
		t.Errorf("expected type %q, got %v", TypeMessageCreated, result["type"])
	}
	if result["conversation_id"] != "conv-1" {
		t.Errorf("expected conversation_id %q, got %v", "conv-1", result["conversation_id"])
	}
	if result["sender_id"] != "user-a" {
		t.Errorf("expected sender_id %q, got %v", "user-a", result["sender_id"])
	}

	seq, ok := result["seq"].(float64)
	if !ok {
		t.Fatalf("expected seq to be a number, got %T", result["seq"])
	}
	if int64(seq) != 42 {
		t.Errorf("expected seq 42, got %v", seq)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing an unknown message type returns an error
// ---------------------------------------------------------------------------

func TestParseClientMessage_UnknownType(t *testing.T) {
	input := []byte(`{"type":"unknown_type","data":"something"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err == nil {
		t.Fatal("expected an error for unknown message type, got nil")
	}
	if msg != nil {
		t.Errorf("expected nil message for unknown type, got %v", msg)
	}
	if msgType != "unknown_type" {
		t.Errorf("expected returned type %q, got %q", "unknown_type", msgType)
	}
}

// ---------------------------------------------------------------------------
// Test: Server-only types are rejected on the client path
// ---------------------------------------------------------------------------

func TestParseClientMessage_ServerOnlyType(t *testing.T) {
	input := []byte(`{"type":"message_created","conversation_id":"conv-1"}`)

	_, msg, err := ParseClientMessage(input)
	if err == nil {
		t.Fatal("expected an error for server-only message type, got nil")
	}
	if msg != nil {
		t.Errorf("expected nil message, got %v", msg)
	}
}

// ---------------------------------------------------------------------------
// Test: Round-trip through NewServerMessage
// ---------------------------------------------------------------------------

func TestRoundTrip_History(t *testing.T) {
	original := HistoryMsg{
		ConversationID: "conv-7",
		Messages: []MessageRecord{
			{ID: "m1", SenderID: "user-a", Body: "first", Seq: 1, Ts: 100},
			{ID: "m2", SenderID: "user-b", Body: "second", Seq: 2, Ts: 200},
		},
	}

	data, err := NewServerMessage(TypeHistory, original)
	if err != nil {
		t.Fatalf("failed to create server message: %v", err)
	}

	var decoded HistoryMsg
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}

	if decoded.Type != TypeHistory {
		t.Errorf("type mismatch: expected %q, got %q", TypeHistory, decoded.Type)
	}
	if decoded.ConversationID != original.ConversationID {
		t.Errorf("conversation_id mismatch: expected %q, got %q", original.ConversationID, decoded.ConversationID)
	}
	if len(decoded.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(decoded.Messages))
	}
	for i := range original.Messages {
		if decoded.Messages[i].Seq != original.Messages[i].Seq {
			t.Errorf("message[%d] seq mismatch: expected %d, got %d", i, original.Messages[i].Seq, decoded.Messages[i].Seq)
		}
		if decoded.Messages[i].Body != original.Messages[i].Body {
			t.Errorf("message[%d] body mismatch: expected %q, got %q", i, original.Messages[i].Body, decoded.Messages[i].Body)
		}
	}
}

// ---------------------------------------------------------------------------
// Test: Envelope UnmarshalJSON edge cases
// ---------------------------------------------------------------------------

func TestEnvelope_MissingType(t *testing.T) {
	input := []byte(`{"data":"no type field"}`)
	var env Envelope
	if err := json.Unmarshal(input, &env); err == nil {
		t.Fatal("expected error for missing type field, got nil")
	}
}

func TestEnvelope_InvalidJSON(t *testing.T) {
	input := []byte(`{invalid json}`)
	var env Envelope
	if err := json.Unmarshal(input, &env); err == nil {
		t.Fatal("expected error for invalid JSON, got nil")
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing all client message types succeeds
// ---------------------------------------------------------------------------

func TestParseClientMessage_AllTypes(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		wantType string
	}{
		{"join_conversation", `{"type":"join_conversation","conversation_id":"c1"}`, TypeJoinConversation},
		{"leave_conversation", `{"type":"leave_conversation","conversation_id":"c1"}`, TypeLeaveConversation},
		{"send_message", `{"type":"send_message","conversation_id":"c1","body":"hi"}`, TypeSendMessage},
		{"typing_start", `{"type":"typing_start","conversation_id":"c1"}`, TypeTypingStart},
		{"typing_stop", `{"type":"typing_stop","conversation_id":"c1"}`, TypeTypingStop},
		{"read", `{"type":"read","conversation_id":"c1"}`, TypeRead},
		{"ping", `{"type":"ping"}`, TypePing},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msgType, msg, err := ParseClientMessage([]byte(tc.input))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if msgType != tc.wantType {
				t.Errorf("expected type %q, got %q", tc.wantType, msgType)
			}
			if msg == nil {
				t.Error("expected non-nil message")
			}
		})
	}
}
