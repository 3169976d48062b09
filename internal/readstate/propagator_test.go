package readstate

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/tradepost/chat-service/internal/chat"
)

// fakeWatermarks is an in-memory Watermarks with the same monotonic contract
// as the Redis store: Advance applies only strictly greater timestamps.
type fakeWatermarks struct {
	mu    sync.Mutex
	marks map[string]int64 // conversationID/userID -> ts
	fail  error
}

func newFakeWatermarks() *fakeWatermarks {
	return &fakeWatermarks{marks: make(map[string]int64)}
}

func (f *fakeWatermarks) Advance(_ context.Context, conversationID, userID string, ts int64) (bool, error) {
	if f.fail != nil {
		return false, f.fail
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := conversationID + "/" + userID
	if ts <= f.marks[key] {
		return false, nil
	}
	f.marks[key] = ts
	return true, nil
}

type fakeMembership struct {
	participants map[string]bool // conversationID/userID
	fail         error
}

func (f *fakeMembership) IsParticipant(_ context.Context, conversationID, userID string) (bool, error) {
	if f.fail != nil {
		return false, f.fail
	}
	return f.participants[conversationID+"/"+userID], nil
}

type captureBroadcaster struct {
	mu     sync.Mutex
	events [][]byte
}

func (c *captureBroadcaster) Broadcast(_ string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, data)
}

func (c *captureBroadcaster) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

// ---------------------------------------------------------------------------
// Test: MarkRead advances and broadcasts read_changed
// ---------------------------------------------------------------------------

func TestPropagator_MarkRead(t *testing.T) {
	marks := newFakeWatermarks()
	convs := &fakeMembership{participants: map[string]bool{"conv-1/user-a": true}}
	rooms := &captureBroadcaster{}
	p := NewPropagator(marks, convs, rooms, nil)

	ts, err := p.MarkRead(context.Background(), "conv-1", "user-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts <= 0 {
		t.Errorf("expected positive watermark, got %d", ts)
	}
	if rooms.count() != 1 {
		t.Fatalf("expected 1 broadcast, got %d", rooms.count())
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(rooms.events[0], &decoded); err != nil {
		t.Fatalf("broadcast payload is not valid JSON: %v", err)
	}
	if decoded["type"] != "read_changed" {
		t.Errorf("expected read_changed event, got %v", decoded["type"])
	}
	if decoded["user_id"] != "user-a" {
		t.Errorf("expected user_id user-a, got %v", decoded["user_id"])
	}
}

// ---------------------------------------------------------------------------
// Test: A stale intent is absorbed without a broadcast
// ---------------------------------------------------------------------------

func TestPropagator_MarkReadStale(t *testing.T) {
	marks := newFakeWatermarks()
	convs := &fakeMembership{participants: map[string]bool{"conv-1/user-a": true}}
	rooms := &captureBroadcaster{}
	p := NewPropagator(marks, convs, rooms, nil)

	// Pre-seed a watermark far in the future.
	marks.marks["conv-1/user-a"] = 1<<62 - 1

	ts, err := p.MarkRead(context.Background(), "conv-1", "user-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts <= 0 {
		t.Errorf("expected applied timestamp, got %d", ts)
	}
	if rooms.count() != 0 {
		t.Errorf("stale read must not broadcast, got %d events", rooms.count())
	}
	if marks.marks["conv-1/user-a"] != 1<<62-1 {
		t.Error("stale read must not move the watermark backwards")
	}
}

// ---------------------------------------------------------------------------
// Test: Non-participants are rejected before any state change
// ---------------------------------------------------------------------------

func TestPropagator_MarkReadNotParticipant(t *testing.T) {
	marks := newFakeWatermarks()
	convs := &fakeMembership{participants: map[string]bool{}}
	rooms := &captureBroadcaster{}
	p := NewPropagator(marks, convs, rooms, nil)

	_, err := p.MarkRead(context.Background(), "conv-1", "lurker")
	if !errors.Is(err, chat.ErrNotAParticipant) {
		t.Fatalf("expected ErrNotAParticipant, got %v", err)
	}
	if rooms.count() != 0 {
		t.Errorf("expected no broadcast, got %d", rooms.count())
	}
	if len(marks.marks) != 0 {
		t.Errorf("expected no watermark written, got %v", marks.marks)
	}
}

// ---------------------------------------------------------------------------
// Test: Store failures surface as PersistenceError
// ---------------------------------------------------------------------------

func TestPropagator_MarkReadFailures(t *testing.T) {
	boom := errors.New("redis down")

	t.Run("membership lookup", func(t *testing.T) {
		p := NewPropagator(newFakeWatermarks(), &fakeMembership{fail: boom}, &captureBroadcaster{}, nil)
		_, err := p.MarkRead(context.Background(), "conv-1", "user-a")
		var pe *chat.PersistenceError
		if !errors.As(err, &pe) {
			t.Fatalf("expected PersistenceError, got %v", err)
		}
	})

	t.Run("advance watermark", func(t *testing.T) {
		marks := newFakeWatermarks()
		marks.fail = boom
		convs := &fakeMembership{participants: map[string]bool{"conv-1/user-a": true}}
		rooms := &captureBroadcaster{}
		p := NewPropagator(marks, convs, rooms, nil)
		_, err := p.MarkRead(context.Background(), "conv-1", "user-a")
		var pe *chat.PersistenceError
		if !errors.As(err, &pe) {
			t.Fatalf("expected PersistenceError, got %v", err)
		}
		if rooms.count() != 0 {
			t.Errorf("expected no broadcast on failure, got %d", rooms.count())
		}
	})
}
