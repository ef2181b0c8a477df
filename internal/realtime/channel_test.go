package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"territorywar.gg/internal/protocol"
)

type fakeConn struct {
	frames chan []byte
	done   chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan []byte, 16), done: make(chan struct{})}
}

func (c *fakeConn) Next() ([]byte, error) {
	select {
	case b := <-c.frames:
		return b, nil
	case <-c.done:
		return nil, io.EOF
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

// fakeTransport fails the first `failures` subscribe attempts, then hands out
// live fakeConns through the conns channel so the test can drive them.
type fakeTransport struct {
	mu       sync.Mutex
	failures int
	attempts int
	conns    chan *fakeConn
}

func newFakeTransport(failures int) *fakeTransport {
	return &fakeTransport{failures: failures, conns: make(chan *fakeConn, 16)}
}

func (t *fakeTransport) Subscribe(ctx context.Context) (Conn, error) {
	t.mu.Lock()
	t.attempts++
	fail := t.failures > 0
	if fail {
		t.failures--
	}
	t.mu.Unlock()
	if fail {
		return nil, errors.New("dial failed")
	}
	c := newFakeConn()
	t.conns <- c
	return c, nil
}

func (t *fakeTransport) attemptCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts
}

func fastConfig(maxAttempts int) Config {
	return Config{
		Backoff:     Backoff{Base: time.Millisecond, Max: 2 * time.Millisecond, Jitter: 1},
		MaxAttempts: maxAttempts,
		RateWindow:  time.Minute,
		RateTick:    time.Hour, // keep the estimator quiet in lifecycle tests
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func territoryFrame(t *testing.T, seq uint64, prevActions, curActions uint64) []byte {
	t.Helper()
	b, err := json.Marshal(protocol.TerritoryChangeMsg{
		Type:            protocol.TypeTerritoryChange,
		ProtocolVersion: protocol.Version,
		Seq:             seq,
		TerritoryID:     "alpha",
		Previous:        protocol.TerritoryState{TerritoryID: "alpha", DefenseCapacity: 10, DefenseCurrent: 5, TotalActions: prevActions},
		Current:         protocol.TerritoryState{TerritoryID: "alpha", DefenseCapacity: 10, DefenseCurrent: 4, TotalActions: curActions},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestChannelConnectAndDeliver(t *testing.T) {
	tr := newFakeTransport(0)
	ch := NewChannel(tr, fastConfig(5), nil)
	defer ch.Unsubscribe()

	var mu sync.Mutex
	var got []protocol.TerritoryChangeMsg
	sub := ch.OnTerritoryChange(func(msg protocol.TerritoryChangeMsg) {
		mu.Lock()
		got = append(got, msg)
		mu.Unlock()
	})
	defer sub.Close()

	ch.Subscribe()
	conn := <-tr.conns
	waitFor(t, "connected", func() bool { return ch.Status() == StatusConnected })

	conn.frames <- territoryFrame(t, 1, 0, 1)
	waitFor(t, "delivery", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	})
	mu.Lock()
	if got[0].Seq != 1 || got[0].TerritoryID != "alpha" {
		t.Fatalf("unexpected message: %+v", got[0])
	}
	mu.Unlock()
}

func TestChannelReconnectsAfterDrop(t *testing.T) {
	tr := newFakeTransport(0)
	ch := NewChannel(tr, fastConfig(5), nil)
	defer ch.Unsubscribe()

	ch.Subscribe()
	conn1 := <-tr.conns
	waitFor(t, "first connect", func() bool { return ch.Status() == StatusConnected })

	// Server-side drop: the channel must redial on its own.
	_ = conn1.Close()
	conn2 := <-tr.conns
	waitFor(t, "reconnect", func() bool { return ch.Status() == StatusConnected })
	if conn2 == conn1 {
		t.Fatalf("expected a fresh connection")
	}
	if tr.attemptCount() != 2 {
		t.Fatalf("attempts=%d, want 2", tr.attemptCount())
	}
}

func TestChannelRetriesFailedDials(t *testing.T) {
	tr := newFakeTransport(3)
	ch := NewChannel(tr, fastConfig(10), nil)
	defer ch.Unsubscribe()

	ch.Subscribe()
	<-tr.conns
	waitFor(t, "connect after retries", func() bool { return ch.Status() == StatusConnected })
	if tr.attemptCount() != 4 {
		t.Fatalf("attempts=%d, want 4 (3 failures + 1 success)", tr.attemptCount())
	}
}

func TestChannelGivesUpAfterMaxAttempts(t *testing.T) {
	tr := newFakeTransport(1000)
	ch := NewChannel(tr, fastConfig(3), nil)

	var mu sync.Mutex
	var statuses []Status
	sub := ch.OnConnectionStatus(func(s Status) {
		mu.Lock()
		statuses = append(statuses, s)
		mu.Unlock()
	})
	defer sub.Close()

	ch.Subscribe()
	waitFor(t, "permanent disconnect", func() bool { return ch.Status() == StatusDisconnected })
	attempts := tr.attemptCount()
	if attempts != 4 {
		t.Fatalf("attempts=%d, want 4 (initial + 3 retries)", attempts)
	}

	// No further attempts happen on their own.
	time.Sleep(50 * time.Millisecond)
	if tr.attemptCount() != attempts {
		t.Fatalf("channel kept retrying after giving up")
	}

	// An explicit Subscribe resumes the cycle.
	tr.mu.Lock()
	tr.failures = 0
	tr.mu.Unlock()
	ch.Subscribe()
	<-tr.conns
	waitFor(t, "resubscribe", func() bool { return ch.Status() == StatusConnected })
	ch.Unsubscribe()

	mu.Lock()
	defer mu.Unlock()
	if statuses[0] != StatusConnecting {
		t.Fatalf("first status=%v, want connecting", statuses[0])
	}
}

func TestChannelUnsubscribeStopsReconnects(t *testing.T) {
	tr := newFakeTransport(1000)
	ch := NewChannel(tr, fastConfig(100), nil)

	ch.Subscribe()
	waitFor(t, "some attempts", func() bool { return tr.attemptCount() >= 2 })
	ch.Unsubscribe()
	if ch.Status() != StatusDisconnected {
		t.Fatalf("status=%v, want disconnected", ch.Status())
	}

	n := tr.attemptCount()
	time.Sleep(50 * time.Millisecond)
	// One in-flight attempt may still land; after that it must stay quiet.
	if tr.attemptCount() > n+1 {
		t.Fatalf("attempts kept growing after Unsubscribe: %d -> %d", n, tr.attemptCount())
	}
}

func TestObserverCloseDetaches(t *testing.T) {
	ch := NewChannel(newFakeTransport(0), fastConfig(5), nil)

	var mu sync.Mutex
	first, second := 0, 0
	s1 := ch.OnTerritoryChange(func(protocol.TerritoryChangeMsg) { mu.Lock(); first++; mu.Unlock() })
	s2 := ch.OnTerritoryChange(func(protocol.TerritoryChangeMsg) { mu.Lock(); second++; mu.Unlock() })

	ch.dispatchRaw(territoryFrame(t, 1, 0, 1))
	s1.Close()
	s1.Close() // idempotent
	ch.dispatchRaw(territoryFrame(t, 2, 1, 2))
	s2.Close()

	mu.Lock()
	defer mu.Unlock()
	if first != 1 || second != 2 {
		t.Fatalf("first=%d second=%d, want 1 and 2", first, second)
	}
}

func TestObserverPanicIsIsolated(t *testing.T) {
	ch := NewChannel(newFakeTransport(0), fastConfig(5), nil)

	var mu sync.Mutex
	delivered := 0
	s1 := ch.OnTerritoryChange(func(protocol.TerritoryChangeMsg) { panic("observer bug") })
	s2 := ch.OnTerritoryChange(func(protocol.TerritoryChangeMsg) { mu.Lock(); delivered++; mu.Unlock() })
	defer s1.Close()
	defer s2.Close()

	ch.dispatchRaw(territoryFrame(t, 1, 0, 1))

	mu.Lock()
	defer mu.Unlock()
	if delivered != 1 {
		t.Fatalf("panicking observer blocked delivery: delivered=%d", delivered)
	}
}

func TestDispatchRoutesByType(t *testing.T) {
	ch := NewChannel(newFakeTransport(0), fastConfig(5), nil)

	var mu sync.Mutex
	var worlds, presences int
	ch.OnWorldStateChange(func(protocol.WorldStateMsg) { mu.Lock(); worlds++; mu.Unlock() })
	ch.OnPresence(func(protocol.PresenceMsg) { mu.Lock(); presences++; mu.Unlock() })

	wb, _ := json.Marshal(protocol.WorldStateMsg{
		Type:            protocol.TypeWorldState,
		ProtocolVersion: protocol.Version,
		World:           protocol.WorldSnapshot{TotalActors: 3, Open: true},
	})
	pb, _ := json.Marshal(protocol.PresenceMsg{
		Type:            protocol.TypePresence,
		ProtocolVersion: protocol.Version,
		Event:           protocol.PresenceJoin,
		ActorID:         "a1",
	})
	ch.dispatchRaw(wb)
	ch.dispatchRaw(pb)
	ch.dispatchRaw([]byte(`{"type":"UNKNOWN"}`)) // ignored
	ch.dispatchRaw([]byte(`not json`))           // ignored

	mu.Lock()
	defer mu.Unlock()
	if worlds != 1 || presences != 1 {
		t.Fatalf("worlds=%d presences=%d, want 1/1", worlds, presences)
	}
}

func TestDispatchFeedsRateEstimator(t *testing.T) {
	ch := NewChannel(newFakeTransport(0), fastConfig(5), nil)

	ch.dispatchRaw(territoryFrame(t, 1, 0, 5))
	ch.rate.recompute()
	if got := ch.rate.Rate(); got != 300 {
		t.Fatalf("rate=%d, want 300 (delta 5 over clamped 1s span)", got)
	}
}
