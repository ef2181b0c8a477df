package main

import (
	"database/sql"
	"flag"
	"fmt"
	"path/filepath"

	_ "modernc.org/sqlite"
)

func newFlagSet(name string, args []string) (*flag.FlagSet, *int, *string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	limit := fs.Int("limit", 20, "max rows")
	dataDir := fs.String("data", "./data", "data directory")
	return fs, limit, dataDir
}

func openIndex(dataDir string) (*sql.DB, error) {
	path := filepath.Join(dataDir, "index", "territorywar.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

func cmdActions(args []string) error {
	fs, limit, dataDir := newFlagSet("actions", args)
	territory := fs.String("territory", "", "filter by territory id")
	actor := fs.String("actor", "", "filter by actor id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	db, err := openIndex(*dataDir)
	if err != nil {
		return err
	}
	defer db.Close()

	q := `SELECT at, actor_id, party_id, territory_id, action, defense FROM actions`
	var conds []string
	var binds []any
	if *territory != "" {
		conds = append(conds, "territory_id = ?")
		binds = append(binds, *territory)
	}
	if *actor != "" {
		conds = append(conds, "actor_id = ?")
		binds = append(binds, *actor)
	}
	for i, c := range conds {
		if i == 0 {
			q += " WHERE " + c
		} else {
			q += " AND " + c
		}
	}
	q += " ORDER BY id DESC LIMIT ?"
	binds = append(binds, *limit)

	rows, err := db.Query(q, binds...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var at, actorID, partyID, territoryID, action string
		var defense int64
		if err := rows.Scan(&at, &actorID, &partyID, &territoryID, &action, &defense); err != nil {
			return err
		}
		fmt.Printf("%s\t%s\t%s\t%s\t%s\tdefense=%d\n", at, actorID, partyID, territoryID, action, defense)
	}
	return rows.Err()
}

func cmdCaptures(args []string) error {
	fs, limit, dataDir := newFlagSet("captures", args)
	territory := fs.String("territory", "", "filter by territory id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	db, err := openIndex(*dataDir)
	if err != nil {
		return err
	}
	defer db.Close()

	q := `SELECT at, territory_id, winner, tally_json FROM captures`
	var binds []any
	if *territory != "" {
		q += " WHERE territory_id = ?"
		binds = append(binds, *territory)
	}
	q += " ORDER BY id DESC LIMIT ?"
	binds = append(binds, *limit)

	rows, err := db.Query(q, binds...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var at, territoryID, winner, tally string
		if err := rows.Scan(&at, &territoryID, &winner, &tally); err != nil {
			return err
		}
		fmt.Printf("%s\t%s\twinner=%s\ttally=%s\n", at, territoryID, winner, tally)
	}
	return rows.Err()
}

func cmdTerritories(args []string) error {
	fs, _, dataDir := newFlagSet("territories", args)
	if err := fs.Parse(args); err != nil {
		return err
	}
	db, err := openIndex(*dataDir)
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := db.Query(`SELECT territory_id, defense_capacity, defense_current, controlling_party, total_actions, updated_at
		FROM territories ORDER BY territory_id`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var id, holder, updated string
		var capacity, current, actions int64
		if err := rows.Scan(&id, &capacity, &current, &holder, &actions, &updated); err != nil {
			return err
		}
		if holder == "" {
			holder = "(neutral)"
		}
		fmt.Printf("%s\tholder=%s\tdefense=%d/%d\tactions=%d\tupdated=%s\n", id, holder, current, capacity, actions, updated)
	}
	return rows.Err()
}

func cmdWorld(args []string) error {
	fs, _, dataDir := newFlagSet("world", args)
	if err := fs.Parse(args); err != nil {
		return err
	}
	db, err := openIndex(*dataDir)
	if err != nil {
		return err
	}
	defer db.Close()

	var at string
	var actors, actions, open, endsAt int64
	err = db.QueryRow(`SELECT at, total_actors, total_actions, open, ends_at FROM world WHERE id = 1`).
		Scan(&at, &actors, &actions, &open, &endsAt)
	if err == sql.ErrNoRows {
		fmt.Println("no world row recorded yet")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Printf("at=%s actors=%d actions=%d open=%d ends_at_unix=%d\n", at, actors, actions, open, endsAt)
	return nil
}

func cmdCatalogs(args []string) error {
	fs, _, dataDir := newFlagSet("catalogs", args)
	if err := fs.Parse(args); err != nil {
		return err
	}
	db, err := openIndex(*dataDir)
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := db.Query(`SELECT name, digest, updated_at FROM catalogs ORDER BY name`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var name, digest, updated string
		if err := rows.Scan(&name, &digest, &updated); err != nil {
			return err
		}
		fmt.Printf("%s\t%s\tupdated=%s\n", name, digest, updated)
	}
	return rows.Err()
}
