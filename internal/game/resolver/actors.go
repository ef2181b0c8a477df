package resolver

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrActorNotFound = errors.New("actor not found")

// Actor is one player identity. LastActionAt zero means no prior action.
type Actor struct {
	ID             string
	Nickname       string
	PartyID        string
	LastActionAt   time.Time
	ActionCount    uint64
	PartyChangedAt time.Time
	JoinedAt       time.Time
}

type actorEntry struct {
	mu sync.Mutex
	a  Actor
}

// actorStore keys actors by id. The rate-limit check-and-stamp runs under the
// per-actor lock so two concurrent actions from the same actor can never both
// pass the check.
type actorStore struct {
	mu     sync.RWMutex
	actors map[string]*actorEntry
}

func newActorStore() *actorStore {
	return &actorStore{actors: map[string]*actorEntry{}}
}

func (s *actorStore) create(nickname, partyID string, now time.Time) Actor {
	a := Actor{
		ID:       uuid.NewString(),
		Nickname: nickname,
		PartyID:  partyID,
		JoinedAt: now,
	}
	s.mu.Lock()
	s.actors[a.ID] = &actorEntry{a: a}
	s.mu.Unlock()
	return a
}

func (s *actorStore) get(id string) (Actor, bool) {
	s.mu.RLock()
	e := s.actors[id]
	s.mu.RUnlock()
	if e == nil {
		return Actor{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.a, true
}

func (s *actorStore) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.actors)
}

// ensure returns the entry for id, creating a fresh actor record when the id
// is unknown (an actor acting for the first time has no prior timestamp).
func (s *actorStore) ensure(id, partyID string, now time.Time) *actorEntry {
	s.mu.RLock()
	e := s.actors[id]
	s.mu.RUnlock()
	if e != nil {
		return e
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e = s.actors[id]; e != nil {
		return e
	}
	e = &actorEntry{a: Actor{ID: id, PartyID: partyID, JoinedAt: now}}
	s.actors[id] = e
	return e
}

// beginAction is the atomic rate-limit check-and-stamp. On success the
// timestamp and counter are already updated; on ErrRateLimited nothing
// changed.
func (s *actorStore) beginAction(id, partyID string, now time.Time, cooldown time.Duration) (Actor, error) {
	e := s.ensure(id, partyID, now)
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.a.LastActionAt.IsZero() && now.Sub(e.a.LastActionAt) < cooldown {
		return Actor{}, ErrRateLimited
	}
	e.a.LastActionAt = now
	e.a.ActionCount++
	return e.a, nil
}

// changeParty enforces the change cooldown. On success the action counter
// resets to 0 but the identity persists.
func (s *actorStore) changeParty(id, newPartyID string, now time.Time, cooldown time.Duration) (Actor, error) {
	s.mu.RLock()
	e := s.actors[id]
	s.mu.RUnlock()
	if e == nil {
		return Actor{}, ErrActorNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.a.PartyChangedAt.IsZero() {
		elapsed := now.Sub(e.a.PartyChangedAt)
		if elapsed < cooldown {
			remaining := cooldown - elapsed
			hours := int((remaining + time.Hour - 1) / time.Hour)
			return Actor{}, &CooldownError{HoursRemaining: hours}
		}
	}
	e.a.PartyID = newPartyID
	e.a.ActionCount = 0
	e.a.PartyChangedAt = now
	return e.a, nil
}
