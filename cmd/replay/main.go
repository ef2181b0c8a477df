// Command replay rebuilds world state from the compressed action logs and
// verifies each logged outcome against a fresh resolve. The JSONL logs are
// the source of truth; this tool proves they are sufficient to reconstruct
// the sqlite index and the live territory table.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	stdlog "log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"territorywar.gg/internal/game/catalogs"
	"territorywar.gg/internal/game/ledger"
	"territorywar.gg/internal/game/resolver"
	"territorywar.gg/internal/game/tuning"
	"territorywar.gg/internal/persistence/log"
)

func main() {
	var (
		dataDir   = flag.String("data", "./data", "data directory containing actions/ logs")
		configDir = flag.String("configs", "./configs", "directory with parties.json and provinces.json")
		tunePath  = flag.String("tuning", "./configs/tuning.yaml", "tuning overrides (yaml)")
		verbose   = flag.Bool("v", false, "print every replayed entry")
	)
	flag.Parse()

	logger := stdlog.New(os.Stdout, "[replay] ", stdlog.LstdFlags|stdlog.Lmicroseconds)

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}
	tune := tuning.Defaults()
	if _, err := os.Stat(*tunePath); err == nil {
		tune, err = tuning.Load(*tunePath)
		if err != nil {
			logger.Fatalf("load tuning: %v", err)
		}
	}

	led := ledger.New()
	// Cooldowns off: every logged action already passed them once, and log
	// timestamps are stamped after resolution, not at the rate-limit check.
	res := resolver.New(led, cats, resolver.Config{
		InitialDefensePermille: tune.InitialDefensePermille,
		CaptureResetPermille:   tune.CaptureResetPermille,
	})
	if err := res.SeedWorld(); err != nil {
		logger.Fatalf("seed world: %v", err)
	}

	files, err := listActionFiles(filepath.Join(*dataDir, "actions"))
	if err != nil {
		logger.Fatalf("list action logs: %v", err)
	}
	if len(files) == 0 {
		logger.Fatalf("no action logs under %s", filepath.Join(*dataDir, "actions"))
	}

	var (
		entries    int
		mismatches int
		byParty    = map[string]int64{}
		captures   = map[string]int64{}
	)
	for _, path := range files {
		n, bad, err := replayFile(path, res, byParty, captures, *verbose, logger)
		if err != nil {
			logger.Fatalf("replay %s: %v", filepath.Base(path), err)
		}
		entries += n
		mismatches += bad
		logger.Printf("replayed %s: %d entries", filepath.Base(path), n)
	}

	logger.Printf("total: files=%d entries=%d mismatches=%d", len(files), entries, mismatches)

	parties := make([]string, 0, len(byParty))
	for p := range byParty {
		parties = append(parties, p)
	}
	sort.Strings(parties)
	for _, p := range parties {
		logger.Printf("party %-12s actions=%d captures=%d", p, byParty[p], captures[p])
	}

	for _, t := range res.Territories() {
		holder := t.ControllingParty
		if holder == "" {
			holder = "(neutral)"
		}
		logger.Printf("territory %-20s holder=%-12s defense=%d/%d actions=%d",
			t.ID, holder, t.DefenseCurrent, t.DefenseCapacity, t.TotalActions)
	}

	if mismatches > 0 {
		os.Exit(1)
	}
}

// listActionFiles returns the hourly action logs sorted by name, which is
// also chronological order given the hour-stamped file names.
func listActionFiles(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "actions-") || !strings.HasSuffix(name, ".jsonl.zst") {
			continue
		}
		out = append(out, filepath.Join(dir, name))
	}
	sort.Strings(out)
	return out, nil
}

func replayFile(path string, res *resolver.Resolver, byParty, captures map[string]int64, verbose bool, logger *stdlog.Logger) (entries, mismatches int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return 0, 0, err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		var e log.ActionEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return entries, mismatches, err
		}
		entries++
		byParty[e.PartyID]++

		at, err := time.Parse(time.RFC3339Nano, e.At)
		if err != nil {
			at = time.Now()
		}
		out, err := res.ResolveAction(e.ActorID, e.TerritoryID, e.PartyID, at)
		if err != nil {
			logger.Printf("mismatch %s: resolve failed: %v", describe(e), err)
			mismatches++
			continue
		}
		kind, defense := outcomeKindDefense(out)
		if kind == "capture" {
			captures[e.PartyID]++
		}
		if kind != e.Action || defense != e.Defense {
			logger.Printf("mismatch %s: replayed %s defense=%d", describe(e), kind, defense)
			mismatches++
			continue
		}
		if verbose {
			logger.Printf("ok %s", describe(e))
		}
	}
	return entries, mismatches, sc.Err()
}

func describe(e log.ActionEntry) string {
	return e.At + " " + e.ActorID + " " + e.Action + " " + e.TerritoryID + " as " + e.PartyID
}

func outcomeKindDefense(out resolver.Outcome) (string, int64) {
	switch o := out.(type) {
	case resolver.Defend:
		return "defend", o.DefenseCurrent
	case resolver.Attack:
		return "attack", o.DefenseCurrent
	case resolver.Capture:
		return "capture", o.DefenseCurrent
	default:
		return "", 0
	}
}
