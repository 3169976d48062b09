package session

import (
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/tradepost/chat-service/internal/chat"
)

type fakeConn struct {
	mu     sync.Mutex
	writes [][]byte
}

func (f *fakeConn) WriteMessage(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, data)
	return nil
}

// ---------------------------------------------------------------------------
// Test: Lifecycle state machine
// ---------------------------------------------------------------------------

func TestSession_Lifecycle(t *testing.T) {
	s := NewSession("sess-1", &fakeConn{})

	if s.State() != StateConnecting {
		t.Fatalf("expected connecting, got %s", s.State())
	}
	if s.Authenticated() {
		t.Error("new session must not be authenticated")
	}
	if s.UserID() != "" {
		t.Errorf("expected empty user before auth, got %q", s.UserID())
	}

	if err := s.Authenticate("user-a"); err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}
	if s.State() != StateAuthenticated {
		t.Errorf("expected authenticated, got %s", s.State())
	}
	if s.UserID() != "user-a" {
		t.Errorf("expected user-a, got %q", s.UserID())
	}

	// Authenticating twice is an error.
	if err := s.Authenticate("user-b"); !errors.Is(err, chat.ErrNotAuthenticated) {
		t.Errorf("expected ErrNotAuthenticated on double auth, got %v", err)
	}
	if s.UserID() != "user-a" {
		t.Errorf("identity must not change on failed re-auth, got %q", s.UserID())
	}

	s.Close()
	if s.State() != StateClosed {
		t.Errorf("expected closed, got %s", s.State())
	}
	if s.Authenticated() {
		t.Error("closed session must not count as authenticated")
	}
}

// ---------------------------------------------------------------------------
// Test: Intents are rejected before authentication
// ---------------------------------------------------------------------------

func TestSession_JoinBeforeAuth(t *testing.T) {
	s := NewSession("sess-1", &fakeConn{})

	if _, err := s.Join("conv-1"); !errors.Is(err, chat.ErrNotAuthenticated) {
		t.Errorf("expected ErrNotAuthenticated, got %v", err)
	}
	if got := len(s.Joined()); got != 0 {
		t.Errorf("rejected join must leave no membership, got %d", got)
	}
}

func TestSession_JoinAfterClose(t *testing.T) {
	s := NewSession("sess-1", &fakeConn{})
	_ = s.Authenticate("user-a")
	s.Close()

	if _, err := s.Join("conv-1"); !errors.Is(err, chat.ErrNotAuthenticated) {
		t.Errorf("expected ErrNotAuthenticated after close, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Test: Join set semantics
// ---------------------------------------------------------------------------

func TestSession_JoinAndLeave(t *testing.T) {
	s := NewSession("sess-1", &fakeConn{})
	_ = s.Authenticate("user-a")

	changed, err := s.Join("conv-1")
	if err != nil || !changed {
		t.Fatalf("expected first join to change set, got changed=%v err=%v", changed, err)
	}
	changed, err = s.Join("conv-1")
	if err != nil || changed {
		t.Fatalf("expected repeat join to be a no-op, got changed=%v err=%v", changed, err)
	}

	if _, err := s.Join("conv-2"); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	joined := s.Joined()
	sort.Strings(joined)
	if len(joined) != 2 || joined[0] != "conv-1" || joined[1] != "conv-2" {
		t.Errorf("unexpected join set: %v", joined)
	}

	s.Leave("conv-1")
	s.Leave("conv-absent")
	if got := s.Joined(); len(got) != 1 || got[0] != "conv-2" {
		t.Errorf("unexpected join set after leave: %v", got)
	}
}

// ---------------------------------------------------------------------------
// Test: Close yields the joined set exactly once
// ---------------------------------------------------------------------------

func TestSession_CloseExactlyOnce(t *testing.T) {
	s := NewSession("sess-1", &fakeConn{})
	_ = s.Authenticate("user-a")
	_, _ = s.Join("conv-1")
	_, _ = s.Join("conv-2")

	first := s.Close()
	sort.Strings(first)
	if len(first) != 2 || first[0] != "conv-1" || first[1] != "conv-2" {
		t.Fatalf("expected both conversations from first close, got %v", first)
	}

	if second := s.Close(); second != nil {
		t.Errorf("second close must return nil, got %v", second)
	}
}

func TestSession_CloseConcurrent(t *testing.T) {
	s := NewSession("sess-1", &fakeConn{})
	_ = s.Authenticate("user-a")
	_, _ = s.Join("conv-1")

	var wg sync.WaitGroup
	results := make([][]string, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			results[n] = s.Close()
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, r := range results {
		if r != nil {
			winners++
		}
	}
	if winners != 1 {
		t.Errorf("expected exactly one close to win, got %d", winners)
	}
}

// ---------------------------------------------------------------------------
// Test: Send forwards to the connection
// ---------------------------------------------------------------------------

func TestSession_Send(t *testing.T) {
	conn := &fakeConn{}
	s := NewSession("sess-1", conn)
	_ = s.Authenticate("user-a")

	if err := s.Send([]byte("payload")); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if len(conn.writes) != 1 || string(conn.writes[0]) != "payload" {
		t.Errorf("unexpected writes: %v", conn.writes)
	}
}
