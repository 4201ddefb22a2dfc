package economy

import (
	"math"

	"clickerclicker.app/internal/sim/tuning"
)

type Rules struct {
	CostBase   float64
	CostGrowth float64
	Step       int
	BaseHPMul  float64

	KillReward       float64
	StageRewardPer   uint64
	StageRewardFloor uint64
}

func DefaultRules() Rules { return RulesFrom(tuning.Defaults()) }

func RulesFrom(t tuning.Tuning) Rules {
	return Rules{
		CostBase:         t.UpgradeCostBase,
		CostGrowth:       t.UpgradeCostGrowth,
		Step:             t.UpgradeStep,
		BaseHPMul:        t.BaseHPUpgradeMul,
		KillReward:       t.KillReward,
		StageRewardPer:   t.StageRewardPer,
		StageRewardFloor: t.StageRewardFloor,
	}
}

// Cost is floor(CostBase * CostGrowth^level), saturating at MaxUint64.
func (r Rules) Cost(level int) uint64 {
	v := math.Floor(r.CostBase * math.Pow(r.CostGrowth, float64(level)))
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= math.MaxUint64 {
		return math.MaxUint64
	}
	return uint64(v)
}

func (r Rules) CostOf(u Upgrades, t Target) uint64 { return r.Cost(u.Level(t)) }

// KillRewardFor is the coin payout for one enemy kill: max(1, floor(KillReward * (1 + coinRate/100))).
func (r Rules) KillRewardFor(coinRate int) uint64 {
	v := math.Floor(Scale(r.KillReward, coinRate))
	if v < 1 {
		return 1
	}
	return uint64(v)
}

// StageClearReward is max(floor, per*stage/2) for the stage that was just cleared.
func (r Rules) StageClearReward(stage uint32) uint64 {
	v := r.StageRewardPer * uint64(stage) / 2
	if v < r.StageRewardFloor {
		return r.StageRewardFloor
	}
	return v
}

// Wallet is the economic slice of the game state a purchase may touch.
type Wallet struct {
	Coins           uint64
	Upgrades        Upgrades
	PlayerBaseHP    float64
	MaxPlayerBaseHP float64
}

// Purchase debits the cost of t and raises its counter. Nothing changes on error.
func (r Rules) Purchase(w *Wallet, t Target) error {
	if !t.Valid() {
		return ErrInvalidAxis
	}
	cost := r.CostOf(w.Upgrades, t)
	if w.Coins < cost {
		return ErrInsufficientFunds
	}
	w.Coins -= cost
	w.Upgrades.bump(t, r.Step)
	if t.Axis == BaseHP {
		w.MaxPlayerBaseHP *= r.BaseHPMul
		w.PlayerBaseHP = w.MaxPlayerBaseHP
	}
	return nil
}

// Affordable reports whether Purchase would succeed for t.
func (r Rules) Affordable(w Wallet, t Target) bool {
	return t.Valid() && w.Coins >= r.CostOf(w.Upgrades, t)
}
