// Package resolver decides the outcome of actor actions against territories:
// defend, attack, or capture. It owns actor rate-limit bookkeeping and the
// WorldState aggregate; territory state itself lives in the ledger.
package resolver

import (
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"territorywar.gg/internal/game/catalogs"
	"territorywar.gg/internal/game/ledger"
)

var ErrInvalidNickname = errors.New("nickname must be 3-20 characters")

// WorldState is the singleton aggregate observers see.
type WorldState struct {
	TotalActors  uint64
	TotalActions uint64
	Open         bool
	EndsAt       time.Time
}

type Config struct {
	ActionCooldown         time.Duration // min gap between two actions by one actor
	PartyChangeCooldown    time.Duration
	InitialDefensePermille int // seed defense, floor
	CaptureResetPermille   int // post-capture defense, rounded half up
	ContestEndsAt          time.Time
}

type Resolver struct {
	ledger *ledger.Ledger
	cats   *catalogs.Catalogs
	actors *actorStore
	cfg    Config

	mu           sync.Mutex
	world        WorldState
	partyActions map[string]uint64
	onWorld      func(WorldState)
}

func New(l *ledger.Ledger, cats *catalogs.Catalogs, cfg Config) *Resolver {
	return &Resolver{
		ledger: l,
		cats:   cats,
		actors: newActorStore(),
		cfg:    cfg,
		world: WorldState{
			Open:   true,
			EndsAt: cfg.ContestEndsAt,
		},
		partyActions: map[string]uint64{},
	}
}

// SetWorldChangeHook registers the observer notified after every WorldState
// mutation. Must be called before the resolver handles traffic.
func (r *Resolver) SetWorldChangeHook(fn func(WorldState)) {
	r.onWorld = fn
}

// SeedWorld creates one territory per province: capacity floor(population/10),
// defense at the configured initial fraction, neutral controller. Runs once
// at startup.
func (r *Resolver) SeedWorld() error {
	for _, id := range r.cats.Provinces.IDs {
		p := r.cats.Provinces.ByID[id]
		capacity := p.Population / 10
		if capacity < 1 {
			capacity = 1
		}
		t := ledger.Territory{
			ID:              p.ID,
			DefenseCapacity: capacity,
			DefenseCurrent:  capacity * int64(r.cfg.InitialDefensePermille) / 1000,
			ChallengerTally: map[string]int64{},
		}
		if err := r.ledger.Put(t); err != nil {
			return fmt.Errorf("seed %s: %w", p.ID, err)
		}
	}
	return nil
}

// Join creates a new actor aligned to partyID.
func (r *Resolver) Join(nickname, partyID string, now time.Time) (Actor, error) {
	n := utf8.RuneCountInString(nickname)
	if n < 3 || n > 20 {
		return Actor{}, ErrInvalidNickname
	}
	if !r.cats.ValidParty(partyID) {
		return Actor{}, ErrInvalidParty
	}
	a := r.actors.create(nickname, partyID, now)

	r.mu.Lock()
	r.world.TotalActors++
	ws := r.world
	r.mu.Unlock()
	r.notifyWorld(ws)
	return a, nil
}

// ChangeParty switches an actor's allegiance, subject to the cooldown. On a
// cooldown violation the returned error is a *CooldownError carrying the
// hours remaining.
func (r *Resolver) ChangeParty(actorID, newPartyID string, now time.Time) (Actor, error) {
	if !r.cats.ValidParty(newPartyID) {
		return Actor{}, ErrInvalidParty
	}
	return r.actors.changeParty(actorID, newPartyID, now, r.cfg.PartyChangeCooldown)
}

// Actor returns a copy of the actor record.
func (r *Resolver) Actor(id string) (Actor, error) {
	a, ok := r.actors.get(id)
	if !ok {
		return Actor{}, ErrActorNotFound
	}
	return a, nil
}

// ResolveAction applies one action by actorID against territoryID on behalf
// of partyID. now is injected so callers (and tests) control time.
func (r *Resolver) ResolveAction(actorID, territoryID, partyID string, now time.Time) (Outcome, error) {
	if !r.cats.ValidParty(partyID) {
		return nil, ErrInvalidParty
	}
	if !r.contestOpen(now) {
		return nil, ErrContestClosed
	}

	// Rate limit: atomic check-and-stamp per actor. On failure nothing else
	// is touched, not even the territory.
	if _, err := r.actors.beginAction(actorID, partyID, now, r.cfg.ActionCooldown); err != nil {
		return nil, err
	}

	var out Outcome
	_, err := r.ledger.Mutate(territoryID, func(t *ledger.Territory) error {
		t.TotalActions++
		if partyID == t.ControllingParty && partyID != "" {
			// Defend.
			if t.DefenseCurrent < t.DefenseCapacity {
				t.DefenseCurrent++
			}
			out = Defend{
				TerritoryID:      t.ID,
				DefenseCurrent:   t.DefenseCurrent,
				ControllingParty: t.ControllingParty,
			}
			return nil
		}

		// Attack (rival-held or neutral territory).
		t.DefenseCurrent--
		t.ChallengerTally[partyID]++

		if t.DefenseCurrent <= 0 {
			// Capture: highest accumulated tally wins, not the final blow.
			winner := pickWinner(t.ChallengerTally)
			t.ControllingParty = winner
			t.DefenseCurrent = roundPermille(t.DefenseCapacity, r.cfg.CaptureResetPermille)
			t.ChallengerTally = map[string]int64{}
			out = Capture{
				TerritoryID:      t.ID,
				DefenseCurrent:   t.DefenseCurrent,
				Winner:           winner,
				ActingPartyTally: 0,
			}
			return nil
		}

		out = Attack{
			TerritoryID:      t.ID,
			DefenseCurrent:   t.DefenseCurrent,
			ControllingParty: t.ControllingParty,
			ActingPartyTally: t.ChallengerTally[partyID],
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, ErrTerritoryNotFound
		}
		return nil, err
	}

	r.mu.Lock()
	r.world.TotalActions++
	r.partyActions[partyID]++
	ws := r.world
	r.mu.Unlock()
	r.notifyWorld(ws)
	return out, nil
}

// Territories returns copies of every territory, ordered by id.
func (r *Resolver) Territories() []ledger.Territory {
	return r.ledger.Snapshot()
}

// World returns the current WorldState snapshot.
func (r *Resolver) World() WorldState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.world
}

// PartyActions returns a copy of the per-party resolved-action totals.
func (r *Resolver) PartyActions() map[string]uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]uint64, len(r.partyActions))
	for k, v := range r.partyActions {
		out[k] = v
	}
	return out
}

// CloseContest closes the contest window explicitly.
func (r *Resolver) CloseContest() {
	r.mu.Lock()
	r.world.Open = false
	ws := r.world
	r.mu.Unlock()
	r.notifyWorld(ws)
}

func (r *Resolver) contestOpen(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.world.Open {
		return false
	}
	if !r.world.EndsAt.IsZero() && !now.Before(r.world.EndsAt) {
		r.world.Open = false
		return false
	}
	return true
}

func (r *Resolver) notifyWorld(ws WorldState) {
	if r.onWorld != nil {
		r.onWorld(ws)
	}
}

// pickWinner returns the party with the highest tally; exact ties break to
// the lexicographically smallest party id so the result never depends on map
// iteration order.
func pickWinner(tally map[string]int64) string {
	var winner string
	var best int64 = -1
	for party, n := range tally {
		if n > best || (n == best && party < winner) {
			winner = party
			best = n
		}
	}
	return winner
}

// roundPermille computes round(capacity * permille / 1000) with half-up
// rounding, matching round(0.05 * capacity) for the default permille of 50.
func roundPermille(capacity int64, permille int) int64 {
	return (capacity*int64(permille) + 500) / 1000
}
