package realtime

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"territorywar.gg/internal/protocol"
)

func presenceFrame(t *testing.T, event, actorID string, actorIDs []string) []byte {
	t.Helper()
	b, err := json.Marshal(protocol.PresenceMsg{
		Type:            protocol.TypePresence,
		ProtocolVersion: protocol.Version,
		Event:           event,
		ActorID:         actorID,
		ActorIDs:        actorIDs,
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestPresenceJoinLeave(t *testing.T) {
	ch := NewChannel(newFakeTransport(0), fastConfig(5), nil)
	p := NewPresenceTracker(ch, nil, nil)
	defer p.Close()

	ch.dispatchRaw(presenceFrame(t, protocol.PresenceJoin, "a1", nil))
	ch.dispatchRaw(presenceFrame(t, protocol.PresenceJoin, "a2", nil))
	ch.dispatchRaw(presenceFrame(t, protocol.PresenceJoin, "a2", nil)) // duplicate join
	if got := p.OnlineCount(); got != 2 {
		t.Fatalf("online=%d, want 2", got)
	}

	ch.dispatchRaw(presenceFrame(t, protocol.PresenceLeave, "a1", nil))
	ch.dispatchRaw(presenceFrame(t, protocol.PresenceLeave, "missing", nil)) // no-op
	if got := p.OnlineCount(); got != 1 {
		t.Fatalf("online=%d, want 1", got)
	}
}

func TestPresenceSyncReplacesSet(t *testing.T) {
	ch := NewChannel(newFakeTransport(0), fastConfig(5), nil)
	p := NewPresenceTracker(ch, nil, nil)
	defer p.Close()

	ch.dispatchRaw(presenceFrame(t, protocol.PresenceJoin, "stale", nil))
	ch.dispatchRaw(presenceFrame(t, protocol.PresenceSync, "", []string{"a1", "a2", "a3"}))
	if got := p.OnlineCount(); got != 3 {
		t.Fatalf("online=%d, want 3 after sync", got)
	}
}

func TestPresenceTotalFromWorldState(t *testing.T) {
	ch := NewChannel(newFakeTransport(0), fastConfig(5), nil)
	p := NewPresenceTracker(ch, nil, nil)
	defer p.Close()

	wb, _ := json.Marshal(protocol.WorldStateMsg{
		Type:            protocol.TypeWorldState,
		ProtocolVersion: protocol.Version,
		World:           protocol.WorldSnapshot{TotalActors: 42, Open: true},
	})
	ch.dispatchRaw(wb)
	if got := p.TotalCount(); got != 42 {
		t.Fatalf("total=%d, want 42", got)
	}
}

func TestPresenceRefresh(t *testing.T) {
	ch := NewChannel(newFakeTransport(0), fastConfig(5), nil)
	p := NewPresenceTracker(ch, func() (int, error) { return 7, nil }, nil)
	defer p.Close()

	if err := p.Refresh(); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got := p.TotalCount(); got != 7 {
		t.Fatalf("total=%d, want 7", got)
	}

	boom := errors.New("boom")
	p2 := NewPresenceTracker(ch, func() (int, error) { return 0, boom }, nil)
	defer p2.Close()
	if err := p2.Refresh(); !errors.Is(err, boom) {
		t.Fatalf("want fetch error, got %v", err)
	}
}

func TestPresenceObserversNotifiedOnChange(t *testing.T) {
	ch := NewChannel(newFakeTransport(0), fastConfig(5), nil)
	p := NewPresenceTracker(ch, nil, nil)
	defer p.Close()

	var mu sync.Mutex
	type pair struct{ online, total int }
	var calls []pair
	sub := p.OnChange(func(online, total int) {
		mu.Lock()
		calls = append(calls, pair{online, total})
		mu.Unlock()
	})
	defer sub.Close()

	ch.dispatchRaw(presenceFrame(t, protocol.PresenceJoin, "a1", nil))
	ch.dispatchRaw(presenceFrame(t, protocol.PresenceLeave, "missing", nil)) // count unchanged: no call

	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 1 {
		t.Fatalf("calls=%v, want exactly 1", calls)
	}
	if calls[0].online != 1 {
		t.Fatalf("online=%d, want 1", calls[0].online)
	}
}

func TestPresenceCloseDetaches(t *testing.T) {
	ch := NewChannel(newFakeTransport(0), fastConfig(5), nil)
	p := NewPresenceTracker(ch, nil, nil)

	ch.dispatchRaw(presenceFrame(t, protocol.PresenceJoin, "a1", nil))
	p.Close()
	ch.dispatchRaw(presenceFrame(t, protocol.PresenceJoin, "a2", nil))

	if got := p.OnlineCount(); got != 1 {
		t.Fatalf("tracker kept receiving after Close: online=%d", got)
	}
}
