package protocol_test

import (
	"encoding/json"
	"testing"

	"clickerclicker.app/internal/protocol"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	validate := func(name, raw string) {
		t.Helper()
		if err := protocol.ValidateJSON(name, []byte(raw)); err != nil {
			t.Fatalf("validate %s: %v", name, err)
		}
	}
	reject := func(name, raw string) {
		t.Helper()
		if err := protocol.ValidateJSON(name, []byte(raw)); err == nil {
			t.Fatalf("expected %s to reject %s", name, raw)
		}
	}

	validate(protocol.SchemaRegister, `{"player_name":"Ada"}`)
	reject(protocol.SchemaRegister, `{"name":"Ada"}`)

	progress := `{
	  "stage": 4,
	  "coins": 1200,
	  "upgrades": {
	    "small_attack": 10, "medium_attack": 0, "large_attack": 0,
	    "small_hp": 0, "medium_hp": 0, "large_hp": 0,
	    "small_speed": 0, "medium_speed": 0, "large_speed": 20,
	    "coin_rate": 0, "base_hp": 10
	  },
	  "max_player_base_hp": 1100,
	  "max_enemy_base_hp": 2000
	}`
	validate(protocol.SchemaProgress, progress)
	validate(protocol.SchemaSync, `{"progress":`+progress+`}`)
	validate(protocol.SchemaProfile, `{"player_id":"p1","player_name":"Ada","last_update":1700000000,"progress":`+progress+`}`)

	reject(protocol.SchemaSync, `{}`)
	reject(protocol.SchemaSync, `{"progress":{"stage":0,"coins":0,"upgrades":{},"max_player_base_hp":1000,"max_enemy_base_hp":500}}`)
	reject(protocol.SchemaProfile, `{"player_id":"","player_name":"Ada","last_update":1,"progress":`+progress+`}`)
}

func TestSchemas_GoValuesValidate(t *testing.T) {
	p := protocol.PlayerProfile{
		PlayerID:   "00000000-0000-4000-8000-000000000000",
		PlayerName: "Ada",
		Progress:   protocol.DefaultProgress(),
		LastUpdate: 1,
	}
	b, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := protocol.ValidateJSON(protocol.SchemaProfile, b); err != nil {
		t.Fatalf("default profile rejected: %v", err)
	}
	if _, err := protocol.Schema("nope.schema.json"); err == nil {
		t.Fatalf("expected unknown schema error")
	}
}
