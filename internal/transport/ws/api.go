package ws

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"territorywar.gg/internal/game/resolver"
	"territorywar.gg/internal/protocol"
)

// JoinHandler serves POST /v1/join: creates an actor aligned to a party.
func (s *Server) JoinHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var msg protocol.JoinMsg
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			writeError(rw, http.StatusBadRequest, protocol.ErrProtoBadRequest, "bad join request")
			return
		}
		a, err := s.resolver.Join(msg.Nickname, msg.PartyID, time.Now())
		if err != nil {
			switch {
			case errors.Is(err, resolver.ErrInvalidParty):
				writeError(rw, http.StatusBadRequest, protocol.ErrInvalidParty, err.Error())
			case errors.Is(err, resolver.ErrInvalidNickname):
				writeError(rw, http.StatusBadRequest, protocol.ErrProtoBadRequest, err.Error())
			default:
				writeError(rw, http.StatusInternalServerError, protocol.ErrInternal, err.Error())
			}
			return
		}
		world := s.resolver.World()
		writeOK(rw, protocol.WelcomeMsg{
			Type:            protocol.TypeWelcome,
			ProtocolVersion: protocol.Version,
			ActorID:         a.ID,
			PartyID:         a.PartyID,
			Catalogs: protocol.CatalogDigests{
				Parties:   protocol.DigestRef{Digest: s.cats.Parties.Digest, Count: len(s.cats.Parties.IDs)},
				Provinces: protocol.DigestRef{Digest: s.cats.Provinces.Digest, Count: len(s.cats.Provinces.IDs)},
			},
			World: protocol.WorldSnapshot{
				TotalActors:  world.TotalActors,
				TotalActions: world.TotalActions,
				Open:         world.Open,
				EndsAtUnix:   world.EndsAt.Unix(),
			},
		})
	}
}

// ActHandler serves POST /v1/act: resolves one action and returns the typed
// outcome. Rate-limited actions come back success=false with the code set;
// clients absorb those silently.
func (s *Server) ActHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var msg protocol.ActMsg
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			writeError(rw, http.StatusBadRequest, protocol.ErrProtoBadRequest, "bad act request")
			return
		}
		if msg.ActorID == "" || msg.TerritoryID == "" || msg.PartyID == "" {
			writeError(rw, http.StatusBadRequest, protocol.ErrProtoBadRequest, "actor_id, territory_id and party_id are required")
			return
		}

		out, err := s.resolver.ResolveAction(msg.ActorID, msg.TerritoryID, msg.PartyID, time.Now())
		if err != nil {
			writeOK(rw, outcomeError(err))
			return
		}
		if s.onOutcome != nil {
			s.onOutcome(msg.ActorID, msg.PartyID, out)
		}
		writeOK(rw, outcomeMsg(out))
	}
}

type partyChangeRequest struct {
	ActorID string `json:"actor_id"`
	PartyID string `json:"party_id"`
}

type partyChangeResponse struct {
	Success        bool   `json:"success"`
	PartyID        string `json:"party_id,omitempty"`
	Code           string `json:"code,omitempty"`
	HoursRemaining int    `json:"hours_remaining,omitempty"`
}

// PartyChangeHandler serves POST /v1/party: switches an actor's allegiance
// subject to the 24h cooldown. On violation the hours remaining are returned.
func (s *Server) PartyChangeHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req partyChangeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(rw, http.StatusBadRequest, protocol.ErrProtoBadRequest, "bad party change request")
			return
		}
		a, err := s.resolver.ChangeParty(req.ActorID, req.PartyID, time.Now())
		if err != nil {
			var cd *resolver.CooldownError
			switch {
			case errors.As(err, &cd):
				writeOK(rw, partyChangeResponse{Success: false, Code: protocol.ErrPartyCooldown, HoursRemaining: cd.HoursRemaining})
			case errors.Is(err, resolver.ErrInvalidParty):
				writeError(rw, http.StatusBadRequest, protocol.ErrInvalidParty, err.Error())
			case errors.Is(err, resolver.ErrActorNotFound):
				writeError(rw, http.StatusNotFound, protocol.ErrNotFound, err.Error())
			default:
				writeError(rw, http.StatusInternalServerError, protocol.ErrInternal, err.Error())
			}
			return
		}
		writeOK(rw, partyChangeResponse{Success: true, PartyID: a.PartyID})
	}
}

// LeaderboardHandler serves GET /v1/leaderboard.
func (s *Server) LeaderboardHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeOK(rw, s.board.Rank())
	}
}

// TerritoriesHandler serves GET /v1/territories: every territory's state.
func (s *Server) TerritoriesHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		terrs := s.resolver.Territories()
		states := make([]protocol.TerritoryState, 0, len(terrs))
		for _, t := range terrs {
			states = append(states, territoryState(t))
		}
		writeOK(rw, states)
	}
}

// StateHandler serves GET /v1/state: the current WorldState snapshot.
func (s *Server) StateHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeOK(rw, worldStateMsg(s.resolver.World()))
	}
}

func outcomeMsg(out resolver.Outcome) protocol.OutcomeMsg {
	msg := protocol.OutcomeMsg{
		Type:            protocol.TypeOutcome,
		ProtocolVersion: protocol.Version,
		Success:         true,
	}
	switch o := out.(type) {
	case resolver.Defend:
		msg.Action = "defend"
		msg.TerritoryID = o.TerritoryID
		msg.DefenseCurrent = o.DefenseCurrent
		msg.ControllingParty = o.ControllingParty
	case resolver.Attack:
		msg.Action = "attack"
		msg.TerritoryID = o.TerritoryID
		msg.DefenseCurrent = o.DefenseCurrent
		msg.ControllingParty = o.ControllingParty
		msg.ActingPartyTally = o.ActingPartyTally
	case resolver.Capture:
		msg.Action = "capture"
		msg.TerritoryID = o.TerritoryID
		msg.DefenseCurrent = o.DefenseCurrent
		msg.ControllingParty = o.Winner
		msg.ActingPartyTally = 0
	}
	return msg
}

func outcomeError(err error) protocol.OutcomeMsg {
	msg := protocol.OutcomeMsg{
		Type:            protocol.TypeOutcome,
		ProtocolVersion: protocol.Version,
		Success:         false,
		Message:         err.Error(),
	}
	switch {
	case errors.Is(err, resolver.ErrRateLimited):
		msg.Code = protocol.ErrRateLimited
	case errors.Is(err, resolver.ErrTerritoryNotFound):
		msg.Code = protocol.ErrNotFound
	case errors.Is(err, resolver.ErrInvalidParty):
		msg.Code = protocol.ErrInvalidParty
	case errors.Is(err, resolver.ErrContestClosed):
		msg.Code = protocol.ErrContestClosed
	default:
		msg.Code = protocol.ErrInternal
	}
	return msg
}

type errorResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

func writeOK(rw http.ResponseWriter, v any) {
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int, code, message string) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(errorResponse{Success: false, Code: code, Message: message})
}
