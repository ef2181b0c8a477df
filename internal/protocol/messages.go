package protocol

// JOIN (client -> server). Creates an actor aligned to a party.
type JoinMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Nickname        string `json:"nickname"`
	PartyID         string `json:"party_id"`
}

// WELCOME (server -> client). Response to JOIN.
type WelcomeMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	ActorID         string         `json:"actor_id"`
	PartyID         string         `json:"party_id"`
	Catalogs        CatalogDigests `json:"catalogs"`
	World           WorldSnapshot  `json:"world"`
}

type CatalogDigests struct {
	Parties   DigestRef `json:"parties"`
	Provinces DigestRef `json:"provinces"`
}

type DigestRef struct {
	Digest string `json:"digest"` // sha256 hex
	Count  int    `json:"count"`
}

// ACT (client -> server). One action by one actor against one territory.
type ActMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ActorID         string `json:"actor_id"`
	TerritoryID     string `json:"territory_id"`
	PartyID         string `json:"party_id"`
}

// OUTCOME (server -> client). Result of an ACT.
// Success=false carries a Code from errors.go; Action is empty then.
type OutcomeMsg struct {
	Type             string `json:"type"`
	ProtocolVersion  string `json:"protocol_version"`
	Success          bool   `json:"success"`
	Action           string `json:"action,omitempty"` // "defend" | "attack" | "capture"
	TerritoryID      string `json:"territory_id,omitempty"`
	DefenseCurrent   int64  `json:"defense_current"`
	ControllingParty string `json:"controlling_party,omitempty"`
	ActingPartyTally int64  `json:"acting_party_tally"`
	Code             string `json:"code,omitempty"`
	Message          string `json:"message,omitempty"`
}

// SUBSCRIBE (client -> server). First message on the events WS connection.
// ActorID is optional; when present the session counts toward presence.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ActorID         string `json:"actor_id,omitempty"`
}

// TerritoryState is the wire snapshot of one territory's contested state.
type TerritoryState struct {
	TerritoryID      string `json:"territory_id"`
	DefenseCapacity  int64  `json:"defense_capacity"`
	DefenseCurrent   int64  `json:"defense_current"`
	ControllingParty string `json:"controlling_party,omitempty"` // empty = neutral
	TotalActions     uint64 `json:"total_actions"`
}

// TERRITORY_CHANGE (server -> client). Seq is monotonic per territory.
type TerritoryChangeMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	Seq             uint64         `json:"seq"`
	TerritoryID     string         `json:"territory_id"`
	Previous        TerritoryState `json:"previous"`
	Current         TerritoryState `json:"current"`
}

// WorldSnapshot mirrors the WorldState aggregate.
type WorldSnapshot struct {
	TotalActors  uint64 `json:"total_actors"`
	TotalActions uint64 `json:"total_actions"`
	Open         bool   `json:"open"`
	EndsAtUnix   int64  `json:"ends_at_unix"`
}

// WORLD_STATE (server -> client).
type WorldStateMsg struct {
	Type            string        `json:"type"`
	ProtocolVersion string        `json:"protocol_version"`
	World           WorldSnapshot `json:"world"`
}

// Presence event kinds.
const (
	PresenceJoin  = "join"
	PresenceLeave = "leave"
	PresenceSync  = "sync"
)

// PRESENCE (server -> client). Sync carries the full online set; join/leave
// carry the single affected actor.
type PresenceMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	Event           string   `json:"event"`
	ActorID         string   `json:"actor_id,omitempty"`
	ActorIDs        []string `json:"actor_ids,omitempty"`
}
