package leaderboard

import (
	"testing"

	"territorywar.gg/internal/game/catalogs"
	"territorywar.gg/internal/game/ledger"
)

func testCatalogs() *catalogs.Catalogs {
	return &catalogs.Catalogs{
		Parties: catalogs.PartyCatalog{
			IDs: []string{"blue", "green", "red"},
			ByID: map[string]catalogs.PartyDef{
				"blue":  {ID: "blue", Name: "Blue", Color: "#0000ff"},
				"green": {ID: "green", Name: "Green", Color: "#00ff00"},
				"red":   {ID: "red", Name: "Red", Color: "#ff0000"},
			},
		},
	}
}

func seed(t *testing.T, l *ledger.Ledger, id, controller string) {
	t.Helper()
	err := l.Put(ledger.Territory{ID: id, DefenseCapacity: 10, DefenseCurrent: 5, ControllingParty: controller})
	if err != nil {
		t.Fatalf("put %s: %v", id, err)
	}
}

func TestRankOrdering(t *testing.T) {
	led := ledger.New()
	seed(t, led, "a", "red")
	seed(t, led, "b", "red")
	seed(t, led, "c", "blue")
	seed(t, led, "d", "") // neutral: counts for nobody

	actions := map[string]uint64{"red": 10, "blue": 50, "green": 7}
	agg := New(led, testCatalogs(), func() map[string]uint64 { return actions })

	rows := agg.Rank()
	if len(rows) != 3 {
		t.Fatalf("len=%d, want every catalog party", len(rows))
	}
	// red: 2 provinces. blue: 1. green: 0 but has actions.
	want := []string{"red", "blue", "green"}
	for i, id := range want {
		if rows[i].PartyID != id {
			t.Fatalf("rank %d: got %s, want %s", i+1, rows[i].PartyID, id)
		}
		if rows[i].Rank != i+1 {
			t.Fatalf("rank field=%d, want %d", rows[i].Rank, i+1)
		}
	}
	if rows[0].ProvincesControlled != 2 || rows[1].ProvincesControlled != 1 {
		t.Fatalf("bad province counts: %+v", rows)
	}
}

func TestRankTieBreaks(t *testing.T) {
	led := ledger.New()
	seed(t, led, "a", "red")
	seed(t, led, "b", "blue")

	// Same provinces; actions decide. Then equal on both -> id order, with
	// strictly distinct ranks.
	actions := map[string]uint64{"red": 5, "blue": 5, "green": 0}
	agg := New(led, testCatalogs(), func() map[string]uint64 { return actions })

	rows := agg.Rank()
	if rows[0].PartyID != "blue" || rows[1].PartyID != "red" {
		t.Fatalf("equal parties must order by id: %+v", rows)
	}
	if rows[0].Rank == rows[1].Rank {
		t.Fatalf("ranks must be distinct even on full ties")
	}
}

func TestRankCacheInvalidation(t *testing.T) {
	led := ledger.New()
	seed(t, led, "a", "red")
	actions := map[string]uint64{}
	agg := New(led, testCatalogs(), func() map[string]uint64 { return actions })

	first := agg.Rank()
	if first[0].PartyID != "red" {
		t.Fatalf("want red first, got %+v", first)
	}

	// A territory flips; without Invalidate the cache still answers.
	if _, err := led.Mutate("a", func(tr *ledger.Territory) error {
		tr.ControllingParty = "blue"
		return nil
	}); err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if got := agg.Rank(); got[0].PartyID != "red" {
		t.Fatalf("stale cache expected before Invalidate, got %+v", got)
	}

	agg.Invalidate()
	if got := agg.Rank(); got[0].PartyID != "blue" {
		t.Fatalf("post-invalidate rank stale: %+v", got)
	}
}

func TestRankReturnsCopies(t *testing.T) {
	led := ledger.New()
	seed(t, led, "a", "red")
	agg := New(led, testCatalogs(), func() map[string]uint64 { return nil })

	rows := agg.Rank()
	rows[0].PartyID = "mutated"
	if agg.Rank()[0].PartyID == "mutated" {
		t.Fatalf("Rank must return copies")
	}
}
