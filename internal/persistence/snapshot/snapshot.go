package snapshot

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"clickerclicker.app/internal/sim/combat"
	"clickerclicker.app/internal/sim/economy"
)

const Version = 1

type Header struct {
	Version int   `json:"version"`
	SavedAt int64 `json:"saved_at"`
}

type AutoBuyV1 struct {
	Enabled       bool    `json:"enabled"`
	UpgradeType   string  `json:"upgrade_type"`
	UnitType      string  `json:"unit_type"`
	RemainingTime float64 `json:"remaining_time"`
}

// StateV1 is the whole battle state as stored on disk. The save interval timer is not part of it.
type StateV1 struct {
	Header Header `json:"header"`

	PlayerUnits []combat.Unit `json:"player_units"`
	EnemyUnits  []combat.Unit `json:"enemy_units"`

	PlayerBaseHP    float64 `json:"player_base_hp"`
	MaxPlayerBaseHP float64 `json:"max_player_base_hp"`
	EnemyBaseHP     float64 `json:"enemy_base_hp"`
	MaxEnemyBaseHP  float64 `json:"max_enemy_base_hp"`

	Coins      uint64 `json:"coins"`
	Stage      uint32 `json:"stage"`
	ClickCount uint64 `json:"click_count"`
	TypeCount  uint64 `json:"type_count"`

	Upgrades economy.Upgrades `json:"upgrades"`
	AutoBuy  AutoBuyV1        `json:"auto_buy"`

	// NextUnitID is informational; loaders recompute it from the rosters.
	NextUnitID      uint64  `json:"next_unit_id"`
	EnemySpawnTimer float64 `json:"enemy_spawn_timer"`
	StageClear      bool    `json:"stage_clear"`
}

func (s StateV1) Validate() error {
	if s.Stage == 0 {
		return errors.New("stage must be >= 1")
	}
	if s.MaxPlayerBaseHP <= 0 || s.MaxEnemyBaseHP <= 0 {
		return errors.New("base hp caps must be > 0")
	}
	return nil
}

// Compressed reports whether path selects the zstd variant.
func Compressed(path string) bool { return strings.HasSuffix(path, ".zst") }

// WriteState overwrites path in place. Paths ending in .zst get zstd-compressed JSON, anything else
// indented JSON text.
func WriteState(path string, st StateV1) error {
	if st.Header.Version == 0 {
		st.Header.Version = Version
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if !Compressed(path) {
		b, err := json.MarshalIndent(st, "", "  ")
		if err != nil {
			return fmt.Errorf("json encode: %w", err)
		}
		_, err = f.Write(append(b, '\n'))
		return err
	}

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)
	if err := json.NewEncoder(bw).Encode(&st); err != nil {
		_ = enc.Close()
		return fmt.Errorf("json encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

func ReadState(path string) (StateV1, error) {
	var st StateV1
	f, err := os.Open(path)
	if err != nil {
		return st, err
	}
	defer f.Close()

	var r io.Reader = bufio.NewReaderSize(f, 64*1024)
	if Compressed(path) {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return st, err
		}
		defer dec.Close()
		r = dec
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return st, err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return st, errors.New("empty snapshot")
	}
	if err := json.Unmarshal(raw, &st); err != nil {
		return st, fmt.Errorf("json decode: %w", err)
	}
	if st.Header.Version > Version {
		return st, fmt.Errorf("unsupported snapshot version %d", st.Header.Version)
	}
	if err := st.Validate(); err != nil {
		return st, fmt.Errorf("invalid snapshot: %w", err)
	}
	return st, nil
}
