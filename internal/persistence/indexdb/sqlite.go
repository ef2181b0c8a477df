package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"territorywar.gg/internal/game/catalogs"
	"territorywar.gg/internal/game/ledger"
	"territorywar.gg/internal/game/tuning"
	"territorywar.gg/internal/persistence/log"
)

// SQLiteIndex mirrors resolved actions and territory state into sqlite for
// queries and tooling. Writes go through a single writer goroutine; the JSONL
// logs remain the source of truth, so a backed-up index drops rather than
// stalls.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
}

type reqKind int

const (
	reqAction reqKind = iota + 1
	reqCapture
	reqTerritory
	reqWorld
	reqFlush
)

type req struct {
	kind reqKind

	action    log.ActionEntry
	capture   captureRow
	territory ledger.Territory
	world     worldRow
	flushDone chan struct{}
}

type captureRow struct {
	At          string
	TerritoryID string
	Winner      string
	TallyJSON   string
}

type worldRow struct {
	At           string
	TotalActors  uint64
	TotalActions uint64
	Open         bool
	EndsAtUnix   int64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		// High buffer: bursty click storms must not stall the resolver.
		ch: make(chan req, 262144),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	// NORMAL is a decent durability/perf tradeoff for a secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS actions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			at TEXT NOT NULL,
			actor_id TEXT NOT NULL,
			party_id TEXT NOT NULL,
			territory_id TEXT NOT NULL,
			action TEXT NOT NULL,
			defense INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_actions_actor ON actions(actor_id, at);`,
		`CREATE INDEX IF NOT EXISTS idx_actions_territory ON actions(territory_id, at);`,
		`CREATE TABLE IF NOT EXISTS captures (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			at TEXT NOT NULL,
			territory_id TEXT NOT NULL,
			winner TEXT NOT NULL,
			tally_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_captures_territory ON captures(territory_id, at);`,
		`CREATE TABLE IF NOT EXISTS territories (
			territory_id TEXT PRIMARY KEY,
			defense_capacity INTEGER NOT NULL,
			defense_current INTEGER NOT NULL,
			controlling_party TEXT NOT NULL,
			total_actions INTEGER NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS world (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			at TEXT NOT NULL,
			total_actors INTEGER NOT NULL,
			total_actions INTEGER NOT NULL,
			open INTEGER NOT NULL,
			ends_at INTEGER NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) WriteAction(entry log.ActionEntry) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqAction, action: entry}:
	default:
		// Drop if the indexer falls behind; JSONL logs remain the source of truth.
	}
}

func (s *SQLiteIndex) RecordCapture(at time.Time, territoryID, winner string, tally map[string]int64) {
	if s == nil || s.closed.Load() {
		return
	}
	b, _ := json.Marshal(tally)
	r := captureRow{
		At:          at.UTC().Format(time.RFC3339Nano),
		TerritoryID: territoryID,
		Winner:      winner,
		TallyJSON:   string(b),
	}
	select {
	case s.ch <- req{kind: reqCapture, capture: r}:
	default:
	}
}

// UpsertTerritory mirrors the committed state of one territory.
func (s *SQLiteIndex) UpsertTerritory(t ledger.Territory) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqTerritory, territory: t}:
	default:
	}
}

func (s *SQLiteIndex) RecordWorld(at time.Time, totalActors, totalActions uint64, open bool, endsAtUnix int64) {
	if s == nil || s.closed.Load() {
		return
	}
	r := worldRow{
		At:           at.UTC().Format(time.RFC3339Nano),
		TotalActors:  totalActors,
		TotalActions: totalActions,
		Open:         open,
		EndsAtUnix:   endsAtUnix,
	}
	select {
	case s.ch <- req{kind: reqWorld, world: r}:
	default:
	}
}

// UpsertCatalogs stores the loaded catalogs and effective tuning so tooling
// can verify what a given database was built against.
func (s *SQLiteIndex) UpsertCatalogs(configDir string, cats *catalogs.Catalogs, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)

	raw := map[string][]byte{}
	read := func(name, path string) {
		b, err := os.ReadFile(path)
		if err != nil {
			return
		}
		raw[name] = b
	}
	if configDir != "" {
		read("parties", filepath.Join(configDir, "parties.json"))
		read("provinces", filepath.Join(configDir, "provinces.json"))
	}

	type kv struct {
		name   string
		digest string
		json   []byte
	}
	var rows []kv
	if b := raw["parties"]; len(b) > 0 {
		rows = append(rows, kv{name: "parties", digest: cats.Parties.Digest, json: b})
	}
	if b := raw["provinces"]; len(b) > 0 {
		rows = append(rows, kv{name: "provinces", digest: cats.Provinces.Digest, json: b})
	}

	// Tuning: store the values we actually apply (canonical JSON).
	{
		b, _ := json.Marshal(tune)
		sum := sha256.Sum256(b)
		digest := hex.EncodeToString(sum[:])
		rows = append(rows, kv{name: "tuning", digest: digest, json: b})
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if r.name == "" || r.digest == "" || len(r.json) == 0 {
			continue
		}
		if _, err := stmt.Exec(r.name, r.digest, string(r.json), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Flush blocks until every request enqueued before the call has been
// committed. Intended for tests and shutdown paths.
func (s *SQLiteIndex) Flush() {
	if s == nil || s.closed.Load() {
		return
	}
	done := make(chan struct{})
	s.ch <- req{kind: reqFlush, flushDone: done}
	<-done
}

// ActionCount reports the number of indexed actions.
func (s *SQLiteIndex) ActionCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM actions`).Scan(&n)
	return n, err
}

// CaptureCount reports the number of indexed captures.
func (s *SQLiteIndex) CaptureCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM captures`).Scan(&n)
	return n, err
}

// Territory reads back the mirrored state of one territory.
func (s *SQLiteIndex) Territory(id string) (ledger.Territory, error) {
	var t ledger.Territory
	err := s.db.QueryRow(
		`SELECT territory_id, defense_capacity, defense_current, controlling_party, total_actions
		 FROM territories WHERE territory_id = ?`, id,
	).Scan(&t.ID, &t.DefenseCapacity, &t.DefenseCurrent, &t.ControllingParty, &t.TotalActions)
	return t, err
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertAction, _ := s.db.Prepare(`INSERT INTO actions(at,actor_id,party_id,territory_id,action,defense) VALUES(?,?,?,?,?,?)`)
	insertCapture, _ := s.db.Prepare(`INSERT INTO captures(at,territory_id,winner,tally_json) VALUES(?,?,?,?)`)
	upsertTerritory, _ := s.db.Prepare(`INSERT OR REPLACE INTO territories(territory_id,defense_capacity,defense_current,controlling_party,total_actions,updated_at) VALUES(?,?,?,?,?,?)`)
	upsertWorld, _ := s.db.Prepare(`INSERT OR REPLACE INTO world(id,at,total_actors,total_actions,open,ends_at) VALUES(1,?,?,?,?,?)`)
	defer func() {
		if insertAction != nil {
			_ = insertAction.Close()
		}
		if insertCapture != nil {
			_ = insertCapture.Close()
		}
		if upsertTerritory != nil {
			_ = upsertTerritory.Close()
		}
		if upsertWorld != nil {
			_ = upsertWorld.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	for r := range s.ch {
		if r.kind == reqFlush {
			commit()
			close(r.flushDone)
			continue
		}
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqAction:
			a := r.action
			if insertAction != nil {
				if _, err := tx.Stmt(insertAction).Exec(a.At, a.ActorID, a.PartyID, a.TerritoryID, a.Action, a.Defense); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqCapture:
			c := r.capture
			if insertCapture != nil {
				if _, err := tx.Stmt(insertCapture).Exec(c.At, c.TerritoryID, c.Winner, c.TallyJSON); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqTerritory:
			t := r.territory
			if upsertTerritory != nil {
				now := time.Now().UTC().Format(time.RFC3339Nano)
				if _, err := tx.Stmt(upsertTerritory).Exec(t.ID, t.DefenseCapacity, t.DefenseCurrent, t.ControllingParty, int64(t.TotalActions), now); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqWorld:
			w := r.world
			if upsertWorld != nil {
				open := 0
				if w.Open {
					open = 1
				}
				if _, err := tx.Stmt(upsertWorld).Exec(w.At, int64(w.TotalActors), int64(w.TotalActions), open, w.EndsAtUnix); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		}
		flushIfNeeded()
	}

	commit()
}
