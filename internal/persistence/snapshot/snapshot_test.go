package snapshot

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"clickerclicker.app/internal/sim/combat"
	"clickerclicker.app/internal/sim/economy"
)

func sample() StateV1 {
	u := combat.Unit{ID: 7, Kind: economy.Medium, Position: 312.5, HP: 20, MaxHP: 30, Attack: 15, Speed: 80, Side: combat.Player}
	u.SetTarget(9)
	return StateV1{
		PlayerUnits:     []combat.Unit{u},
		EnemyUnits:      []combat.Unit{{ID: 9, Kind: economy.Small, Position: 320, HP: 3, MaxHP: 15, Attack: 4, Speed: 90, Side: combat.Enemy}},
		PlayerBaseHP:    800,
		MaxPlayerBaseHP: 1100,
		EnemyBaseHP:     200,
		MaxEnemyBaseHP:  750,
		Coins:           4242,
		Stage:           2,
		ClickCount:      11,
		TypeCount:       31,
		Upgrades:        economy.Upgrades{SmallAttack: 20, BaseHP: 10},
		AutoBuy:         AutoBuyV1{Enabled: true, UpgradeType: "attack", UnitType: "small", RemainingTime: 12.5},
		NextUnitID:      10,
		EnemySpawnTimer: 1.25,
	}
}

func TestWriteRead_JSONText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "game_state.json")
	if err := WriteState(path, sample()); err != nil {
		t.Fatalf("write: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read raw: %v", err)
	}
	if !strings.Contains(string(raw), `"max_player_base_hp": 1100`) {
		t.Fatalf("expected indented json text, got %s", raw)
	}
	got, err := ReadState(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Header.Version != Version {
		t.Fatalf("version=%d", got.Header.Version)
	}
	if got.Coins != 4242 || got.Stage != 2 || got.Upgrades.SmallAttack != 20 || got.AutoBuy.UnitType != "small" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if len(got.PlayerUnits) != 1 || got.PlayerUnits[0].TargetID == nil || *got.PlayerUnits[0].TargetID != 9 {
		t.Fatalf("units mismatch: %+v", got.PlayerUnits)
	}
	if got.EnemyUnits[0].Side != combat.Enemy {
		t.Fatalf("enemy side lost")
	}
}

func TestWriteRead_Zstd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "game_state.json.zst")
	if err := WriteState(path, sample()); err != nil {
		t.Fatalf("write: %v", err)
	}
	raw, _ := os.ReadFile(path)
	if len(raw) < 4 || raw[0] != 0x28 || raw[1] != 0xb5 || raw[2] != 0x2f || raw[3] != 0xfd {
		t.Fatalf("zst snapshot lacks zstd magic (%d bytes)", len(raw))
	}
	got, err := ReadState(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.MaxEnemyBaseHP != 750 || got.ClickCount != 11 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestReadState_Failures(t *testing.T) {
	dir := t.TempDir()
	if _, err := ReadState(filepath.Join(dir, "missing.json")); !os.IsNotExist(err) {
		t.Fatalf("expected not-exist, got %v", err)
	}
	garbage := filepath.Join(dir, "garbage.json")
	_ = os.WriteFile(garbage, []byte("{not json"), 0o644)
	if _, err := ReadState(garbage); err == nil {
		t.Fatalf("expected parse error")
	}
	empty := filepath.Join(dir, "empty.json")
	_ = os.WriteFile(empty, nil, 0o644)
	if _, err := ReadState(empty); err == nil {
		t.Fatalf("expected error for empty file")
	}
	zero := filepath.Join(dir, "zero.json")
	_ = os.WriteFile(zero, []byte(`{"stage":0,"max_player_base_hp":1000,"max_enemy_base_hp":500}`), 0o644)
	if _, err := ReadState(zero); err == nil {
		t.Fatalf("expected validation error for stage 0")
	}
}

func TestWriter_FlushesLatestOnClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	w := NewWriter(path, log.New(io.Discard, "", 0))
	for i := 0; i < 50; i++ {
		st := sample()
		st.Coins = uint64(i)
		w.Persist(st)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	got, err := ReadState(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Coins != 49 {
		t.Fatalf("coins=%d want latest 49", got.Coins)
	}
	if got.Header.SavedAt == 0 {
		t.Fatalf("saved_at not stamped")
	}
	s := w.Stats()
	if s.Writes == 0 || s.Failures != 0 {
		t.Fatalf("stats=%+v", s)
	}
	// No-op after close.
	w.Persist(sample())
}

func TestWriter_LogsFailures(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	_ = os.WriteFile(blocker, []byte("x"), 0o644)
	w := NewWriter(filepath.Join(blocker, "state.json"), log.New(io.Discard, "", 0))
	w.Persist(sample())
	_ = w.Close()
	if s := w.Stats(); s.Failures != 1 || s.Writes != 0 {
		t.Fatalf("stats=%+v", s)
	}
}
