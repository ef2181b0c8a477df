// Command admin inspects a running deployment's on-disk state: the sqlite
// index and the compressed JSONL logs. It never mutates game state.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: admin <command> [flags]

commands:
  actions      recent indexed actions
  captures     recent captures with winning tallies
  territories  mirrored territory states
  world        last recorded world row
  catalogs     catalog digests the index was built against
  logs         list JSONL log files under the data directory
`)
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	var err error
	switch os.Args[1] {
	case "actions":
		err = cmdActions(os.Args[2:])
	case "captures":
		err = cmdCaptures(os.Args[2:])
	case "territories":
		err = cmdTerritories(os.Args[2:])
	case "world":
		err = cmdWorld(os.Args[2:])
	case "catalogs":
		err = cmdCatalogs(os.Args[2:])
	case "logs":
		err = cmdLogs(os.Args[2:])
	default:
		usage()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "admin %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func cmdLogs(args []string) error {
	fs, _, dataDir := newFlagSet("logs", args)
	if err := fs.Parse(args); err != nil {
		return err
	}
	for _, sub := range []string{"actions", "audit"} {
		dir := filepath.Join(*dataDir, sub)
		ents, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		names := make([]string, 0, len(ents))
		for _, e := range ents {
			if strings.HasSuffix(e.Name(), ".jsonl.zst") {
				names = append(names, e.Name())
			}
		}
		sort.Strings(names)
		for _, name := range names {
			info, err := os.Stat(filepath.Join(dir, name))
			if err != nil {
				return err
			}
			fmt.Printf("%s/%s\t%d bytes\n", sub, name, info.Size())
		}
	}
	return nil
}
