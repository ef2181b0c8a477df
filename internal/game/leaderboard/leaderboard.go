// Package leaderboard ranks parties by territorial control. Rankings are
// computed from the ledger on demand and cached until a territory change
// invalidates them.
package leaderboard

import (
	"sort"
	"sync"

	"territorywar.gg/internal/game/catalogs"
	"territorywar.gg/internal/game/ledger"
)

type Row struct {
	Rank                int    `json:"rank"`
	PartyID             string `json:"party_id"`
	PartyName           string `json:"party_name"`
	Color               string `json:"color"`
	ProvincesControlled int    `json:"provinces_controlled"`
	TotalActions        uint64 `json:"total_actions"`
}

// Aggregator reads the ledger (never mutates it) plus the per-party action
// totals supplied by the resolver.
type Aggregator struct {
	ledger  *ledger.Ledger
	cats    *catalogs.Catalogs
	actions func() map[string]uint64

	mu     sync.Mutex
	cached []Row
	dirty  bool
}

func New(l *ledger.Ledger, cats *catalogs.Catalogs, actions func() map[string]uint64) *Aggregator {
	return &Aggregator{ledger: l, cats: cats, actions: actions, dirty: true}
}

// Invalidate marks the cache stale. Wired to territory-change events.
func (a *Aggregator) Invalidate() {
	a.mu.Lock()
	a.dirty = true
	a.mu.Unlock()
}

// Rank returns every catalog party ordered by provinces controlled desc,
// then total actions desc, then party id asc. Ranks are strict 1-based
// positions: rows equal on both keys still get distinct ranks, in id order,
// so the output never depends on request order.
func (a *Aggregator) Rank() []Row {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.dirty && a.cached != nil {
		return append([]Row(nil), a.cached...)
	}

	controlled := map[string]int{}
	for _, t := range a.ledger.Snapshot() {
		if t.ControllingParty != "" {
			controlled[t.ControllingParty]++
		}
	}
	actions := a.actions()

	rows := make([]Row, 0, len(a.cats.Parties.IDs))
	for _, id := range a.cats.Parties.IDs {
		p := a.cats.Parties.ByID[id]
		rows = append(rows, Row{
			PartyID:             p.ID,
			PartyName:           p.Name,
			Color:               p.Color,
			ProvincesControlled: controlled[p.ID],
			TotalActions:        actions[p.ID],
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].ProvincesControlled != rows[j].ProvincesControlled {
			return rows[i].ProvincesControlled > rows[j].ProvincesControlled
		}
		if rows[i].TotalActions != rows[j].TotalActions {
			return rows[i].TotalActions > rows[j].TotalActions
		}
		return rows[i].PartyID < rows[j].PartyID
	})
	for i := range rows {
		rows[i].Rank = i + 1
	}

	a.cached = rows
	a.dirty = false
	return append([]Row(nil), rows...)
}
