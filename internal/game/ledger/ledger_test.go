package ledger

import (
	"errors"
	"sync"
	"testing"
)

func seedTerritory(t *testing.T, l *Ledger) {
	t.Helper()
	err := l.Put(Territory{ID: "t1", DefenseCapacity: 10, DefenseCurrent: 5})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
}

func TestPutRejectsDuplicatesAndBadRecords(t *testing.T) {
	l := New()
	seedTerritory(t, l)

	if err := l.Put(Territory{ID: "t1", DefenseCapacity: 10, DefenseCurrent: 5}); err == nil {
		t.Fatalf("duplicate put must fail")
	}
	if err := l.Put(Territory{ID: "", DefenseCapacity: 10}); err == nil {
		t.Fatalf("empty id must fail")
	}
	if err := l.Put(Territory{ID: "t2", DefenseCapacity: 0}); err == nil {
		t.Fatalf("zero capacity must fail")
	}
	if err := l.Put(Territory{ID: "t3", DefenseCapacity: 10, DefenseCurrent: 11}); err == nil {
		t.Fatalf("defense above capacity must fail")
	}
}

func TestGetReturnsCopy(t *testing.T) {
	l := New()
	seedTerritory(t, l)

	a, err := l.Get("t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	a.DefenseCurrent = 0
	a.ChallengerTally["x"] = 99

	b, _ := l.Get("t1")
	if b.DefenseCurrent != 5 || len(b.ChallengerTally) != 0 {
		t.Fatalf("mutating a Get result leaked into the ledger: %+v", b)
	}

	if _, err := l.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestMutateCommitsOrDiscards(t *testing.T) {
	l := New()
	seedTerritory(t, l)

	got, err := l.Mutate("t1", func(tr *Territory) error {
		tr.DefenseCurrent--
		tr.ChallengerTally["red"]++
		return nil
	})
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if got.DefenseCurrent != 4 || got.ChallengerTally["red"] != 1 {
		t.Fatalf("unexpected result: %+v", got)
	}

	// fn error discards the mutation.
	boom := errors.New("boom")
	_, err = l.Mutate("t1", func(tr *Territory) error {
		tr.DefenseCurrent = 0
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("want fn error, got %v", err)
	}
	after, _ := l.Get("t1")
	if after.DefenseCurrent != 4 {
		t.Fatalf("failed mutation leaked: defense=%d", after.DefenseCurrent)
	}

	// Invariant violation discards too.
	if _, err := l.Mutate("t1", func(tr *Territory) error {
		tr.DefenseCurrent = tr.DefenseCapacity + 1
		return nil
	}); err == nil {
		t.Fatalf("invariant violation must fail the mutation")
	}
	if _, err := l.Mutate("t1", func(tr *Territory) error {
		tr.ID = "other"
		return nil
	}); err == nil {
		t.Fatalf("id mutation must fail")
	}
}

func TestCommitHookSeesOrderedCommits(t *testing.T) {
	var mu sync.Mutex
	var defenses []int64
	l := New(WithCommitHook(func(prev, cur Territory) {
		mu.Lock()
		defenses = append(defenses, cur.DefenseCurrent)
		mu.Unlock()
	}))
	if err := l.Put(Territory{ID: "t1", DefenseCapacity: 1000, DefenseCurrent: 1000}); err != nil {
		t.Fatalf("put: %v", err)
	}

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = l.Mutate("t1", func(tr *Territory) error {
				tr.DefenseCurrent--
				return nil
			})
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(defenses) != n {
		t.Fatalf("hook fired %d times, want %d", len(defenses), n)
	}
	// The hook runs inside the entry lock, so per-territory values are strictly
	// descending regardless of goroutine scheduling.
	for i := 1; i < len(defenses); i++ {
		if defenses[i] != defenses[i-1]-1 {
			t.Fatalf("out-of-order commit at %d: %d after %d", i, defenses[i], defenses[i-1])
		}
	}

	final, _ := l.Get("t1")
	if final.DefenseCurrent != 1000-n {
		t.Fatalf("final defense=%d, want %d", final.DefenseCurrent, 1000-n)
	}
}

func TestSnapshotSortedCopies(t *testing.T) {
	l := New()
	for _, id := range []string{"c", "a", "b"} {
		if err := l.Put(Territory{ID: id, DefenseCapacity: 5, DefenseCurrent: 2}); err != nil {
			t.Fatalf("put %s: %v", id, err)
		}
	}
	snap := l.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("len=%d, want 3", len(snap))
	}
	for i, want := range []string{"a", "b", "c"} {
		if snap[i].ID != want {
			t.Fatalf("snapshot[%d]=%s, want %s", i, snap[i].ID, want)
		}
	}
	if l.Len() != 3 {
		t.Fatalf("len=%d, want 3", l.Len())
	}
}
