package ws

import (
	"sync"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Test: Liveness timestamp is safe under concurrent touch and read
// ---------------------------------------------------------------------------

func TestConnection_LastPingConcurrent(t *testing.T) {
	c := &Connection{ID: "sess-1"}
	c.TouchPing()

	var wg sync.WaitGroup
	stop := make(chan struct{})

	// Workers touching, heartbeat-style reader in parallel. The race
	// detector flags this if the timestamp is not synchronized.
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					c.TouchPing()
				}
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				if c.LastPing().IsZero() {
					t.Error("liveness timestamp lost")
					return
				}
			}
		}
	}()

	time.Sleep(20 * time.Millisecond)
	close(stop)
	wg.Wait()
}

func TestConnection_LastPingAdvances(t *testing.T) {
	c := &Connection{ID: "sess-1"}
	c.TouchPing()
	first := c.LastPing()

	time.Sleep(2 * time.Millisecond)
	c.TouchPing()
	if !c.LastPing().After(first) {
		t.Errorf("expected timestamp to advance past %v, got %v", first, c.LastPing())
	}
}
