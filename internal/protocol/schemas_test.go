package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	compile := func(name string) *jsonschema.Schema {
		t.Helper()
		p := filepath.Join("..", "..", "schemas", name)
		s, err := jsonschema.Compile(p)
		if err != nil {
			t.Fatalf("compile %s: %v", name, err)
		}
		return s
	}

	validate := func(s *jsonschema.Schema, v any) {
		t.Helper()
		if err := s.Validate(v); err != nil {
			t.Fatalf("validate: %v", err)
		}
	}

	joinSchema := compile("join.schema.json")
	welcomeSchema := compile("welcome.schema.json")
	actSchema := compile("act.schema.json")
	outcomeSchema := compile("outcome.schema.json")
	subscribeSchema := compile("subscribe.schema.json")
	changeSchema := compile("territory_change.schema.json")
	worldSchema := compile("world_state.schema.json")
	presenceSchema := compile("presence.schema.json")

	var join any
	_ = json.Unmarshal([]byte(`{
	  "type":"JOIN",
	  "protocol_version":"1.0",
	  "nickname":"somchai",
	  "party_id":"unity"
	}`), &join)
	validate(joinSchema, join)

	var welcome any
	_ = json.Unmarshal([]byte(`{
	  "type":"WELCOME",
	  "protocol_version":"1.0",
	  "actor_id":"6f1c9f9e-9a2e-4a2e-b7a4-1d2f3a4b5c6d",
	  "party_id":"unity",
	  "catalogs":{
	    "parties":{"digest":"`+hex64+`","count":6},
	    "provinces":{"digest":"`+hex64+`","count":16}
	  },
	  "world":{"total_actors":1,"total_actions":0,"open":true,"ends_at_unix":1767225600}
	}`), &welcome)
	validate(welcomeSchema, welcome)

	var act any
	_ = json.Unmarshal([]byte(`{
	  "type":"ACT",
	  "protocol_version":"1.0",
	  "actor_id":"6f1c9f9e-9a2e-4a2e-b7a4-1d2f3a4b5c6d",
	  "territory_id":"bangkok",
	  "party_id":"unity"
	}`), &act)
	validate(actSchema, act)

	var outcome any
	_ = json.Unmarshal([]byte(`{
	  "type":"OUTCOME",
	  "protocol_version":"1.0",
	  "success":true,
	  "action":"attack",
	  "territory_id":"bangkok",
	  "defense_current":274745,
	  "controlling_party":"heartland",
	  "acting_party_tally":12
	}`), &outcome)
	validate(outcomeSchema, outcome)

	var rejected any
	_ = json.Unmarshal([]byte(`{
	  "type":"OUTCOME",
	  "protocol_version":"1.0",
	  "success":false,
	  "defense_current":0,
	  "acting_party_tally":0,
	  "code":"E_RATE_LIMITED",
	  "message":"too fast"
	}`), &rejected)
	validate(outcomeSchema, rejected)

	var subscribe any
	_ = json.Unmarshal([]byte(`{
	  "type":"SUBSCRIBE",
	  "protocol_version":"1.0",
	  "actor_id":"6f1c9f9e-9a2e-4a2e-b7a4-1d2f3a4b5c6d"
	}`), &subscribe)
	validate(subscribeSchema, subscribe)

	var change any
	_ = json.Unmarshal([]byte(`{
	  "type":"TERRITORY_CHANGE",
	  "protocol_version":"1.0",
	  "seq":42,
	  "territory_id":"bangkok",
	  "previous":{"territory_id":"bangkok","defense_capacity":549493,"defense_current":1,"controlling_party":"heartland","total_actions":99},
	  "current":{"territory_id":"bangkok","defense_capacity":549493,"defense_current":27475,"controlling_party":"unity","total_actions":100}
	}`), &change)
	validate(changeSchema, change)

	var world any
	_ = json.Unmarshal([]byte(`{
	  "type":"WORLD_STATE",
	  "protocol_version":"1.0",
	  "world":{"total_actors":120,"total_actions":45231,"open":true,"ends_at_unix":1767225600}
	}`), &world)
	validate(worldSchema, world)

	var presence any
	_ = json.Unmarshal([]byte(`{
	  "type":"PRESENCE",
	  "protocol_version":"1.0",
	  "event":"sync",
	  "actor_ids":["a1","a2"]
	}`), &presence)
	validate(presenceSchema, presence)
}

const hex64 = "a3f5c9d1e2b4a6c8d0e2f4a6b8c0d2e4f6a8b0c2d4e6f8a0b2c4d6e8f0a2b4c6"
