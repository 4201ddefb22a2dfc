package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	TickRateHz          int     `yaml:"tick_rate_hz"`
	SaveEverySeconds    float64 `yaml:"save_every_seconds"`
	LargeSpawnEverySecs float64 `yaml:"large_spawn_every_seconds"`
	AutoBuyPrice        uint64  `yaml:"auto_buy_price"`
	// MaxInputPerBatch bounds clicks and keys per input message and per tick.
	MaxInputPerBatch    int     `yaml:"max_input_per_batch"`

	PlayerBaseHP float64 `yaml:"player_base_hp"`
	EnemyBaseHP  float64 `yaml:"enemy_base_hp"`
	// Enemy base cap grows by this fraction of EnemyBaseHP per stage cleared.
	EnemyBaseHPGrowth float64 `yaml:"enemy_base_hp_growth"`
	BaseHPUpgradeMul  float64 `yaml:"base_hp_upgrade_mul"`

	UpgradeCostBase   float64 `yaml:"upgrade_cost_base"`
	UpgradeCostGrowth float64 `yaml:"upgrade_cost_growth"`
	UpgradeStep       int     `yaml:"upgrade_step"`

	KillReward       float64 `yaml:"kill_reward"`
	StageRewardPer   uint64  `yaml:"stage_reward_per"`
	StageRewardFloor uint64  `yaml:"stage_reward_floor"`

	Spawn      SpawnCurve   `yaml:"spawn"`
	Reposition Reposition   `yaml:"reposition"`
	Player     UnitStatsSet `yaml:"player_units"`
	Enemy      UnitStatsSet `yaml:"enemy_units"`
}

// SpawnCurve drives enemy pacing: interval = max(MinInterval, BaseInterval - min(MaxReduction, stage*PerStage)).
type SpawnCurve struct {
	BaseInterval   float64 `yaml:"base_interval"`
	PerStage       float64 `yaml:"per_stage"`
	MaxReduction   float64 `yaml:"max_reduction"`
	MinInterval    float64 `yaml:"min_interval"`
	SmallChance    float64 `yaml:"small_chance"`
	MediumOfRest   float64 `yaml:"medium_of_rest"`
	LinearPerStage float64 `yaml:"linear_per_stage"`
	LogWeight      float64 `yaml:"log_weight"`
}

type Reposition struct {
	MaxPosition    float64 `yaml:"max_position"`
	DamageFraction float64 `yaml:"damage_fraction"`
	MinDistance    float64 `yaml:"min_distance"`
	MaxDistance    float64 `yaml:"max_distance"`
	MinDuration    float64 `yaml:"min_duration"`
	MaxDuration    float64 `yaml:"max_duration"`
}

type UnitStats struct {
	HP     float64 `yaml:"hp"`
	Attack float64 `yaml:"attack"`
	Speed  float64 `yaml:"speed"`
}

type UnitStatsSet struct {
	Small  UnitStats `yaml:"small"`
	Medium UnitStats `yaml:"medium"`
	Large  UnitStats `yaml:"large"`
}

func Defaults() Tuning {
	return Tuning{
		TickRateHz:          60,
		SaveEverySeconds:    5,
		LargeSpawnEverySecs: 60,
		AutoBuyPrice:        5000,
		MaxInputPerBatch:    1000,

		PlayerBaseHP:      1000,
		EnemyBaseHP:       500,
		EnemyBaseHPGrowth: 0.5,
		BaseHPUpgradeMul:  1.1,

		UpgradeCostBase:   3000,
		UpgradeCostGrowth: 1.2,
		UpgradeStep:       10,

		KillReward:       1,
		StageRewardPer:   20,
		StageRewardFloor: 10,

		Spawn: SpawnCurve{
			BaseInterval:  3.0,
			PerStage:      0.002,
			MaxReduction:  2.0,
			MinInterval:   1.0,
			SmallChance:   0.7,
			MediumOfRest:  0.5,
			LinearPerStage: 0.05,
			LogWeight:     0.3,
		},
		Reposition: Reposition{
			MaxPosition:    400,
			DamageFraction: 0.35,
			MinDistance:    30,
			MaxDistance:    200,
			MinDuration:    0.35,
			MaxDuration:    0.85,
		},
		Player: UnitStatsSet{
			Small:  UnitStats{HP: 10, Attack: 5, Speed: 100},
			Medium: UnitStats{HP: 30, Attack: 15, Speed: 80},
			Large:  UnitStats{HP: 100, Attack: 50, Speed: 60},
		},
		Enemy: UnitStatsSet{
			Small:  UnitStats{HP: 15, Attack: 4, Speed: 90},
			Medium: UnitStats{HP: 40, Attack: 12, Speed: 70},
			Large:  UnitStats{HP: 120, Attack: 40, Speed: 50},
		},
	}
}

// Load overlays the YAML file at path on top of Defaults, so a partial file only changes the keys it names.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if t.TickRateHz <= 0 {
		return fmt.Errorf("tick_rate_hz must be > 0")
	}
	if t.SaveEverySeconds <= 0 {
		return fmt.Errorf("save_every_seconds must be > 0")
	}
	if t.MaxInputPerBatch <= 0 {
		return fmt.Errorf("max_input_per_batch must be > 0")
	}
	if t.UpgradeCostGrowth <= 1 {
		return fmt.Errorf("upgrade_cost_growth must be > 1")
	}
	if t.UpgradeStep <= 0 {
		return fmt.Errorf("upgrade_step must be > 0")
	}
	if t.Spawn.MinInterval <= 0 {
		return fmt.Errorf("spawn.min_interval must be > 0")
	}
	if t.Spawn.SmallChance < 0 || t.Spawn.SmallChance > 1 || t.Spawn.MediumOfRest < 0 || t.Spawn.MediumOfRest > 1 {
		return fmt.Errorf("spawn chances must be within [0,1]")
	}
	if t.Reposition.MaxDistance < t.Reposition.MinDistance || t.Reposition.MaxDuration <= t.Reposition.MinDuration || t.Reposition.MinDuration <= 0 {
		return fmt.Errorf("reposition ranges are inverted or empty")
	}
	return nil
}
