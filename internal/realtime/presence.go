package realtime

import (
	"log"
	"sync"
	"time"

	"territorywar.gg/internal/protocol"
)

// PresenceTracker maintains the set of currently-connected actors from the
// channel's presence events, plus the total registered actor count (taken
// from world-state snapshots or fetched on demand, never derived from
// presence). Observers are notified whenever either count changes.
type PresenceTracker struct {
	log        *log.Logger
	fetchTotal func() (int, error)
	now        func() time.Time

	mu     sync.Mutex
	online map[string]time.Time // actor id -> last seen
	total  int
	obs    map[uint64]func(online, total int)
	nextID uint64

	subs []*Subscription
}

func NewPresenceTracker(ch *Channel, fetchTotal func() (int, error), logger *log.Logger) *PresenceTracker {
	p := &PresenceTracker{
		log:        logger,
		fetchTotal: fetchTotal,
		now:        time.Now,
		online:     map[string]time.Time{},
		obs:        map[uint64]func(int, int){},
	}
	p.subs = append(p.subs,
		ch.OnPresence(p.handlePresence),
		ch.OnWorldStateChange(p.handleWorld),
	)
	return p
}

// Close detaches the tracker from its channel.
func (p *PresenceTracker) Close() {
	for _, s := range p.subs {
		s.Close()
	}
}

func (p *PresenceTracker) OnlineCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.online)
}

func (p *PresenceTracker) TotalCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}

// Refresh fetches the total registered actor count on demand.
func (p *PresenceTracker) Refresh() error {
	if p.fetchTotal == nil {
		return nil
	}
	total, err := p.fetchTotal()
	if err != nil {
		return err
	}
	p.mu.Lock()
	changed := total != p.total
	p.total = total
	online := len(p.online)
	obs := p.observersLocked()
	p.mu.Unlock()
	if changed {
		notify(obs, online, total)
	}
	return nil
}

// OnChange registers an observer called with (onlineCount, totalCount).
func (p *PresenceTracker) OnChange(fn func(online, total int)) *Subscription {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.obs[id] = fn
	return &Subscription{close: func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.obs, id)
	}}
}

func (p *PresenceTracker) handlePresence(msg protocol.PresenceMsg) {
	p.mu.Lock()
	before := len(p.online)
	switch msg.Event {
	case protocol.PresenceJoin:
		if msg.ActorID != "" {
			p.online[msg.ActorID] = p.now()
		}
	case protocol.PresenceLeave:
		delete(p.online, msg.ActorID)
	case protocol.PresenceSync:
		p.online = make(map[string]time.Time, len(msg.ActorIDs))
		seen := p.now()
		for _, id := range msg.ActorIDs {
			p.online[id] = seen
		}
	default:
		p.mu.Unlock()
		if p.log != nil {
			p.log.Printf("presence: unknown event %q", msg.Event)
		}
		return
	}
	changed := len(p.online) != before
	online, total := len(p.online), p.total
	obs := p.observersLocked()
	p.mu.Unlock()
	if changed {
		notify(obs, online, total)
	}
}

func (p *PresenceTracker) handleWorld(msg protocol.WorldStateMsg) {
	p.mu.Lock()
	total := int(msg.World.TotalActors)
	changed := total != p.total
	p.total = total
	online := len(p.online)
	obs := p.observersLocked()
	p.mu.Unlock()
	if changed {
		notify(obs, online, total)
	}
}

func (p *PresenceTracker) observersLocked() []func(int, int) {
	obs := make([]func(int, int), 0, len(p.obs))
	for _, fn := range p.obs {
		obs = append(obs, fn)
	}
	return obs
}

func notify(obs []func(int, int), online, total int) {
	for _, fn := range obs {
		fn(online, total)
	}
}
