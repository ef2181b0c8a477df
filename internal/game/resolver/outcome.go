package resolver

import (
	"errors"
	"fmt"
)

// Outcome is the result of one resolved action. The concrete type tags the
// branch so callers switch exhaustively instead of inspecting a shape.
type Outcome interface {
	outcome()
}

// Defend: the controlling party reinforced its own territory.
type Defend struct {
	TerritoryID      string
	DefenseCurrent   int64
	ControllingParty string
}

// Attack: a rival eroded the territory without exhausting it.
type Attack struct {
	TerritoryID      string
	DefenseCurrent   int64
	ControllingParty string
	ActingPartyTally int64
}

// Capture: the territory's defense was exhausted and control transferred to
// the highest-tally challenger. ActingPartyTally is always 0: the tally map
// is cleared on capture.
type Capture struct {
	TerritoryID      string
	DefenseCurrent   int64
	Winner           string
	ActingPartyTally int64
}

func (Defend) outcome()  {}
func (Attack) outcome()  {}
func (Capture) outcome() {}

// Resolution errors. RateLimited is expected and frequent; callers absorb it
// silently. The others indicate a client or integration bug.
var (
	ErrRateLimited       = errors.New("rate limited")
	ErrTerritoryNotFound = errors.New("territory not found")
	ErrInvalidParty      = errors.New("unknown party")
	ErrContestClosed     = errors.New("contest window closed")
)

// CooldownError reports a party change attempted before the 24h cooldown ran
// out.
type CooldownError struct {
	HoursRemaining int
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("party change on cooldown: %dh remaining", e.HoursRemaining)
}
