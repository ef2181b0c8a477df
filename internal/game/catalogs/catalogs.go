package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
)

type Catalogs struct {
	Parties   PartyCatalog
	Provinces ProvinceCatalog
}

type PartyCatalog struct {
	IDs    []string
	ByID   map[string]PartyDef
	Digest string
}

type PartyDef struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Color        string `json:"color"` // "#RRGGBB"
	BallotNumber int    `json:"ballot_number,omitempty"`
}

type ProvinceCatalog struct {
	IDs    []string
	ByID   map[string]ProvinceDef
	Digest string
}

type ProvinceDef struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Region     string `json:"region"`
	Population int64  `json:"population"`
}

var colorRe = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

func Load(configDir string) (*Catalogs, error) {
	var c Catalogs

	if err := loadParties(filepath.Join(configDir, "parties.json"), &c.Parties); err != nil {
		return nil, err
	}
	if err := loadProvinces(filepath.Join(configDir, "provinces.json"), &c.Provinces); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalogs) ValidParty(id string) bool {
	_, ok := c.Parties.ByID[id]
	return ok
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func loadParties(path string, out *PartyCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	out.Digest = sha256Hex(raw)

	var defs []PartyDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("parties.json: %w", err)
	}
	out.ByID = map[string]PartyDef{}
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("parties.json: empty id")
		}
		if _, dup := out.ByID[d.ID]; dup {
			return fmt.Errorf("parties.json: duplicate id %q", d.ID)
		}
		if !colorRe.MatchString(d.Color) {
			return fmt.Errorf("parties.json: party %q: bad color %q", d.ID, d.Color)
		}
		out.ByID[d.ID] = d
	}

	ids := make([]string, 0, len(out.ByID))
	for id := range out.ByID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out.IDs = ids
	return nil
}

func loadProvinces(path string, out *ProvinceCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	out.Digest = sha256Hex(raw)

	var defs []ProvinceDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("provinces.json: %w", err)
	}
	out.ByID = map[string]ProvinceDef{}
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("provinces.json: empty id")
		}
		if _, dup := out.ByID[d.ID]; dup {
			return fmt.Errorf("provinces.json: duplicate id %q", d.ID)
		}
		if d.Population <= 0 {
			return fmt.Errorf("provinces.json: province %q: population must be positive", d.ID)
		}
		out.ByID[d.ID] = d
	}

	ids := make([]string, 0, len(out.ByID))
	for id := range out.ByID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out.IDs = ids
	return nil
}
