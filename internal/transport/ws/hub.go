package ws

import (
	"encoding/json"
	"log"
	"sort"
	"sync"

	"territorywar.gg/internal/game/ledger"
	"territorywar.gg/internal/game/resolver"
	"territorywar.gg/internal/protocol"
)

type session struct {
	id      string
	actorID string
	out     chan []byte
}

// Hub fans change events out to every subscribed session. Publishing for the
// same territory happens from inside the ledger commit path, so the per-
// territory sequence numbers assigned here follow commit order.
type Hub struct {
	log *log.Logger

	mu       sync.Mutex
	sessions map[string]*session
	seq      map[string]uint64
	dropped  uint64
}

func NewHub(logger *log.Logger) *Hub {
	return &Hub{
		log:      logger,
		sessions: map[string]*session{},
		seq:      map[string]uint64{},
	}
}

// PublishTerritoryChange converts a committed ledger mutation into a
// TERRITORY_CHANGE event and broadcasts it.
func (h *Hub) PublishTerritoryChange(prev, cur ledger.Territory) {
	h.mu.Lock()
	h.seq[cur.ID]++
	msg := protocol.TerritoryChangeMsg{
		Type:            protocol.TypeTerritoryChange,
		ProtocolVersion: protocol.Version,
		Seq:             h.seq[cur.ID],
		TerritoryID:     cur.ID,
		Previous:        territoryState(prev),
		Current:         territoryState(cur),
	}
	b, err := json.Marshal(msg)
	if err != nil {
		h.mu.Unlock()
		return
	}
	h.broadcastLocked(b)
	h.mu.Unlock()
}

// PublishWorldState broadcasts the current WorldState snapshot.
func (h *Hub) PublishWorldState(ws resolver.WorldState) {
	b, err := json.Marshal(worldStateMsg(ws))
	if err != nil {
		return
	}
	h.mu.Lock()
	h.broadcastLocked(b)
	h.mu.Unlock()
}

func (h *Hub) register(s *session) {
	h.mu.Lock()
	h.sessions[s.id] = s
	h.mu.Unlock()
	if s.actorID != "" {
		h.publishPresence(protocol.PresenceMsg{
			Type:            protocol.TypePresence,
			ProtocolVersion: protocol.Version,
			Event:           protocol.PresenceJoin,
			ActorID:         s.actorID,
		})
	}
}

func (h *Hub) unregister(s *session) {
	h.mu.Lock()
	delete(h.sessions, s.id)
	h.mu.Unlock()
	if s.actorID != "" {
		h.publishPresence(protocol.PresenceMsg{
			Type:            protocol.TypePresence,
			ProtocolVersion: protocol.Version,
			Event:           protocol.PresenceLeave,
			ActorID:         s.actorID,
		})
	}
}

func (h *Hub) publishPresence(msg protocol.PresenceMsg) {
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.mu.Lock()
	h.broadcastLocked(b)
	h.mu.Unlock()
}

// OnlineActors returns the actor ids of all sessions that declared one.
func (h *Hub) OnlineActors() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.sessions))
	seen := map[string]struct{}{}
	for _, s := range h.sessions {
		if s.actorID == "" {
			continue
		}
		if _, dup := seen[s.actorID]; dup {
			continue
		}
		seen[s.actorID] = struct{}{}
		ids = append(ids, s.actorID)
	}
	sort.Strings(ids)
	return ids
}

// Stats reports the live session count and total dropped frames.
func (h *Hub) Stats() (sessions int, dropped uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions), h.dropped
}

// broadcastLocked delivers b to every session without blocking: a session
// whose buffer is full loses this frame rather than stalling the rest.
func (h *Hub) broadcastLocked(b []byte) {
	for _, s := range h.sessions {
		select {
		case s.out <- b:
		default:
			h.dropped++
		}
	}
}

func territoryState(t ledger.Territory) protocol.TerritoryState {
	return protocol.TerritoryState{
		TerritoryID:      t.ID,
		DefenseCapacity:  t.DefenseCapacity,
		DefenseCurrent:   t.DefenseCurrent,
		ControllingParty: t.ControllingParty,
		TotalActions:     t.TotalActions,
	}
}

func worldStateMsg(ws resolver.WorldState) protocol.WorldStateMsg {
	return protocol.WorldStateMsg{
		Type:            protocol.TypeWorldState,
		ProtocolVersion: protocol.Version,
		World: protocol.WorldSnapshot{
			TotalActors:  ws.TotalActors,
			TotalActions: ws.TotalActions,
			Open:         ws.Open,
			EndsAtUnix:   ws.EndsAt.Unix(),
		},
	}
}
