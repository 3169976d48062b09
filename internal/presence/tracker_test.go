package presence

import (
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Test: Set and Clear report observable state changes
// ---------------------------------------------------------------------------

func TestTracker_SetAndClear(t *testing.T) {
	tr := NewTracker(time.Minute)

	if !tr.Set("conv-1", "user-a", true) {
		t.Error("first typing_start should change state")
	}
	if tr.Set("conv-1", "user-a", true) {
		t.Error("renewing an active flag should not count as a change")
	}
	if !tr.IsTyping("conv-1", "user-a") {
		t.Error("flag should be active")
	}

	if !tr.Set("conv-1", "user-a", false) {
		t.Error("typing_stop on an active flag should change state")
	}
	if tr.Set("conv-1", "user-a", false) {
		t.Error("typing_stop on a cleared flag should be a no-op")
	}
	if tr.IsTyping("conv-1", "user-a") {
		t.Error("flag should be cleared")
	}
}

func TestTracker_ClearUnknown(t *testing.T) {
	tr := NewTracker(time.Minute)
	if tr.Clear("conv-1", "user-a") {
		t.Error("clearing an absent flag should report no change")
	}
}

// ---------------------------------------------------------------------------
// Test: Flags are independent per conversation and per user
// ---------------------------------------------------------------------------

func TestTracker_Independence(t *testing.T) {
	tr := NewTracker(time.Minute)
	tr.Set("conv-1", "user-a", true)
	tr.Set("conv-1", "user-b", true)
	tr.Set("conv-2", "user-a", true)

	if got := tr.ActiveCount(); got != 3 {
		t.Fatalf("expected 3 active flags, got %d", got)
	}

	tr.Clear("conv-1", "user-a")
	if tr.IsTyping("conv-1", "user-a") {
		t.Error("cleared flag should be inactive")
	}
	if !tr.IsTyping("conv-1", "user-b") {
		t.Error("other user's flag should survive")
	}
	if !tr.IsTyping("conv-2", "user-a") {
		t.Error("same user's flag in another conversation should survive")
	}
}

// ---------------------------------------------------------------------------
// Test: Expire clears stale flags and renewal pushes back expiry
// ---------------------------------------------------------------------------

func TestTracker_Expire(t *testing.T) {
	tr := NewTracker(time.Minute)
	tr.Set("conv-1", "user-a", true)
	tr.Set("conv-1", "user-b", true)

	// Nothing expires before the deadline.
	if expired := tr.Expire(time.Now()); len(expired) != 0 {
		t.Fatalf("expected no expirations yet, got %v", expired)
	}

	// Both expire once the deadline passes.
	expired := tr.Expire(time.Now().Add(2 * time.Minute))
	if len(expired) != 2 {
		t.Fatalf("expected 2 expirations, got %d", len(expired))
	}
	for _, e := range expired {
		if e.ConversationID != "conv-1" {
			t.Errorf("unexpected conversation in expiry: %v", e)
		}
	}
	if got := tr.ActiveCount(); got != 0 {
		t.Errorf("expected no active flags after expiry, got %d", got)
	}
}

func TestTracker_RenewalExtendsExpiry(t *testing.T) {
	tr := NewTracker(time.Minute)
	tr.Set("conv-1", "user-a", true)

	deadline := time.Now().Add(30 * time.Second)

	// Renew; the old deadline no longer expires the flag.
	tr.Set("conv-1", "user-a", true)
	if expired := tr.Expire(deadline); len(expired) != 0 {
		t.Errorf("renewed flag should not expire at the old deadline, got %v", expired)
	}
	if !tr.IsTyping("conv-1", "user-a") {
		t.Error("renewed flag should still be active")
	}
}

// ---------------------------------------------------------------------------
// Test: Sweeper delivers expiry callbacks and stops on done
// ---------------------------------------------------------------------------

func TestTracker_Sweeper(t *testing.T) {
	tr := NewTracker(10 * time.Millisecond)
	tr.Set("conv-1", "user-a", true)

	done := make(chan struct{})
	expired := make(chan Entry, 1)
	StartSweeper(tr, 5*time.Millisecond, done, func(e Entry) {
		select {
		case expired <- e:
		default:
		}
	})
	defer close(done)

	select {
	case e := <-expired:
		if e.ConversationID != "conv-1" || e.UserID != "user-a" {
			t.Errorf("unexpected expiry entry: %v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("sweeper never expired the flag")
	}
	if tr.IsTyping("conv-1", "user-a") {
		t.Error("flag should be gone after sweeper expiry")
	}
}
