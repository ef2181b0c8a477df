package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"territorywar.gg/internal/game/catalogs"
	"territorywar.gg/internal/game/leaderboard"
	"territorywar.gg/internal/game/ledger"
	"territorywar.gg/internal/game/resolver"
	"territorywar.gg/internal/game/tuning"
	"territorywar.gg/internal/persistence/indexdb"
	persistlog "territorywar.gg/internal/persistence/log"
	"territorywar.gg/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite action/territory index")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Printf("tuning not found (%s); using defaults", tp)
			tune = tuning.Defaults()
		} else {
			logger.Fatalf("load tuning: %v", err)
		}
	}

	_ = os.MkdirAll(*dataDir, 0o755)

	// Optional: read-model index (does not affect contest resolution).
	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(*dataDir, "index", "territorywar.db"))
		if err != nil {
			logger.Fatalf("open index db: %v", err)
		}
		defer idx.Close()
		if err := idx.UpsertCatalogs(*configDir, cats, tune); err != nil {
			logger.Printf("index db: upsert catalogs: %v", err)
		}
	}

	actionLog := persistlog.NewActionLogger(*dataDir)
	auditLog := persistlog.NewAuditLogger(*dataDir)
	defer actionLog.Close()
	defer auditLog.Close()

	hub := ws.NewHub(logger)

	// The commit hook runs inside the territory lock: leaderboard invalidation,
	// change fan-out and the index mirror all see commits in per-territory
	// order.
	var board *leaderboard.Aggregator
	led := ledger.New(ledger.WithCommitHook(func(prev, cur ledger.Territory) {
		board.Invalidate()
		hub.PublishTerritoryChange(prev, cur)
		if idx != nil {
			idx.UpsertTerritory(cur)
		}
		if cur.ControllingParty != prev.ControllingParty {
			now := time.Now()
			if idx != nil {
				idx.RecordCapture(now, cur.ID, cur.ControllingParty, prev.ChallengerTally)
			}
			_ = auditLog.WriteAudit(persistlog.AuditEntry{
				At:          now.UTC().Format(time.RFC3339Nano),
				Kind:        "capture",
				TerritoryID: cur.ID,
				Winner:      cur.ControllingParty,
			})
		}
	}))

	endsAt := time.Now().Add(time.Duration(tune.ContestDurationHours) * time.Hour)
	res := resolver.New(led, cats, resolver.Config{
		ActionCooldown:         time.Duration(tune.ActionCooldownMs) * time.Millisecond,
		PartyChangeCooldown:    time.Duration(tune.PartyChangeCooldownH) * time.Hour,
		InitialDefensePermille: tune.InitialDefensePermille,
		CaptureResetPermille:   tune.CaptureResetPermille,
		ContestEndsAt:          endsAt,
	})
	res.SetWorldChangeHook(func(w resolver.WorldState) {
		hub.PublishWorldState(w)
		if idx != nil {
			idx.RecordWorld(time.Now(), w.TotalActors, w.TotalActions, w.Open, w.EndsAt.Unix())
		}
	})

	board = leaderboard.New(led, cats, res.PartyActions)

	if err := res.SeedWorld(); err != nil {
		logger.Fatalf("seed world: %v", err)
	}
	logger.Printf("seeded %d territories, contest ends %s", led.Len(), endsAt.Format(time.RFC3339))

	srvWS := ws.NewServer(res, board, cats, hub, logger)
	srvWS.SetOutcomeHook(func(actorID, partyID string, out resolver.Outcome) {
		entry := persistlog.ActionEntry{
			At:      time.Now().UTC().Format(time.RFC3339Nano),
			ActorID: actorID,
			PartyID: partyID,
		}
		switch o := out.(type) {
		case resolver.Defend:
			entry.Action = "defend"
			entry.TerritoryID = o.TerritoryID
			entry.Defense = o.DefenseCurrent
			entry.Controlling = o.ControllingParty
		case resolver.Attack:
			entry.Action = "attack"
			entry.TerritoryID = o.TerritoryID
			entry.Defense = o.DefenseCurrent
			entry.Controlling = o.ControllingParty
		case resolver.Capture:
			entry.Action = "capture"
			entry.TerritoryID = o.TerritoryID
			entry.Defense = o.DefenseCurrent
			entry.Controlling = o.Winner
		}
		_ = actionLog.WriteAction(entry)
		if idx != nil {
			idx.WriteAction(entry)
		}
	})

	ctx, cancel := signalContext()
	defer cancel()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		w := res.World()
		sessions, dropped := hub.Stats()

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP territorywar_actions_total Total resolved actions.\n")
		fmt.Fprintf(rw, "# TYPE territorywar_actions_total counter\n")
		fmt.Fprintf(rw, "territorywar_actions_total %d\n", w.TotalActions)

		fmt.Fprintf(rw, "# HELP territorywar_actors_total Total registered actors.\n")
		fmt.Fprintf(rw, "# TYPE territorywar_actors_total counter\n")
		fmt.Fprintf(rw, "territorywar_actors_total %d\n", w.TotalActors)

		fmt.Fprintf(rw, "# HELP territorywar_contest_open Whether the contest window is open.\n")
		fmt.Fprintf(rw, "# TYPE territorywar_contest_open gauge\n")
		open := 0
		if w.Open {
			open = 1
		}
		fmt.Fprintf(rw, "territorywar_contest_open %d\n", open)

		fmt.Fprintf(rw, "# HELP territorywar_territories Seeded territory count.\n")
		fmt.Fprintf(rw, "# TYPE territorywar_territories gauge\n")
		fmt.Fprintf(rw, "territorywar_territories %d\n", led.Len())

		fmt.Fprintf(rw, "# HELP territorywar_sessions Connected event subscribers.\n")
		fmt.Fprintf(rw, "# TYPE territorywar_sessions gauge\n")
		fmt.Fprintf(rw, "territorywar_sessions %d\n", sessions)

		fmt.Fprintf(rw, "# HELP territorywar_dropped_frames_total Frames dropped on saturated subscriber buffers.\n")
		fmt.Fprintf(rw, "# TYPE territorywar_dropped_frames_total counter\n")
		fmt.Fprintf(rw, "territorywar_dropped_frames_total %d\n", dropped)

		fmt.Fprintf(rw, "# HELP territorywar_party_actions_total Resolved actions per party.\n")
		fmt.Fprintf(rw, "# TYPE territorywar_party_actions_total counter\n")
		for _, id := range cats.Parties.IDs {
			fmt.Fprintf(rw, "territorywar_party_actions_total{party=%q} %d\n", id, res.PartyActions()[id])
		}
	})

	if envBool("TW_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	mux.HandleFunc("/v1/join", srvWS.JoinHandler())
	mux.HandleFunc("/v1/act", srvWS.ActHandler())
	mux.HandleFunc("/v1/party", srvWS.PartyChangeHandler())
	mux.HandleFunc("/v1/territories", srvWS.TerritoriesHandler())
	mux.HandleFunc("/v1/leaderboard", srvWS.LeaderboardHandler())
	mux.HandleFunc("/v1/state", srvWS.StateHandler())
	mux.HandleFunc("/v1/events", srvWS.EventsHandler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func envBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
