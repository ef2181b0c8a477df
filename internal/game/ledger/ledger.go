// Package ledger holds the contested state of every territory and provides
// atomic read-modify-write access keyed by territory id. It carries no
// contest policy; callers mutate records through Mutate and the ledger
// enforces the numeric invariants on commit.
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var ErrNotFound = errors.New("territory not found")

// Territory is one contestable unit. ControllingParty empty means neutral.
type Territory struct {
	ID               string
	DefenseCapacity  int64
	DefenseCurrent   int64
	ControllingParty string
	ChallengerTally  map[string]int64
	TotalActions     uint64
}

// Clone returns a deep copy (the tally map is not shared).
func (t Territory) Clone() Territory {
	c := t
	c.ChallengerTally = make(map[string]int64, len(t.ChallengerTally))
	for k, v := range t.ChallengerTally {
		c.ChallengerTally[k] = v
	}
	return c
}

func (t Territory) validate() error {
	if t.ID == "" {
		return errors.New("empty territory id")
	}
	if t.DefenseCapacity <= 0 {
		return fmt.Errorf("territory %s: non-positive capacity %d", t.ID, t.DefenseCapacity)
	}
	if t.DefenseCurrent < 0 || t.DefenseCurrent > t.DefenseCapacity {
		return fmt.Errorf("territory %s: defense %d outside [0,%d]", t.ID, t.DefenseCurrent, t.DefenseCapacity)
	}
	return nil
}

// CommitHook observes every committed mutation. It is invoked while the
// territory's lock is still held, so invocations for the same territory are
// seen in commit order. Keep it fast.
type CommitHook func(previous, current Territory)

type entry struct {
	mu sync.Mutex
	t  Territory
}

type Ledger struct {
	mu          sync.RWMutex // guards the map, not the entries
	territories map[string]*entry
	onCommit    CommitHook
}

type Option func(*Ledger)

func WithCommitHook(h CommitHook) Option {
	return func(l *Ledger) { l.onCommit = h }
}

func New(opts ...Option) *Ledger {
	l := &Ledger{territories: map[string]*entry{}}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Put inserts a territory record. Used at world-seed time only; replacing an
// existing record is an error.
func (l *Ledger) Put(t Territory) error {
	if err := t.validate(); err != nil {
		return err
	}
	if t.ChallengerTally == nil {
		t.ChallengerTally = map[string]int64{}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.territories[t.ID]; ok {
		return fmt.Errorf("territory %s already exists", t.ID)
	}
	l.territories[t.ID] = &entry{t: t.Clone()}
	return nil
}

// Get returns a copy of the territory record.
func (l *Ledger) Get(id string) (Territory, error) {
	e := l.lookup(id)
	if e == nil {
		return Territory{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.t.Clone(), nil
}

// Mutate applies fn to the current record and commits the result as a single
// atomic step; no other mutation of the same territory interleaves. fn gets a
// private copy: returning an error discards it, otherwise it is validated and
// committed, and the commit hook (if any) runs before the lock is released.
func (l *Ledger) Mutate(id string, fn func(*Territory) error) (Territory, error) {
	e := l.lookup(id)
	if e == nil {
		return Territory{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	prev := e.t.Clone()
	next := e.t.Clone()
	if err := fn(&next); err != nil {
		return Territory{}, err
	}
	if next.ID != prev.ID {
		return Territory{}, fmt.Errorf("territory %s: id is immutable", prev.ID)
	}
	if err := next.validate(); err != nil {
		return Territory{}, err
	}
	if next.ChallengerTally == nil {
		next.ChallengerTally = map[string]int64{}
	}
	e.t = next
	if l.onCommit != nil {
		l.onCommit(prev, next.Clone())
	}
	return next.Clone(), nil
}

// Snapshot returns copies of all territories ordered by id.
func (l *Ledger) Snapshot() []Territory {
	l.mu.RLock()
	entries := make([]*entry, 0, len(l.territories))
	for _, e := range l.territories {
		entries = append(entries, e)
	}
	l.mu.RUnlock()

	out := make([]Territory, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.t.Clone())
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.territories)
}

func (l *Ledger) lookup(id string) *entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.territories[id]
}
