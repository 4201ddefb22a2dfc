package engine

import (
	"clickerclicker.app/internal/persistence/snapshot"
	"clickerclicker.app/internal/protocol"
	"clickerclicker.app/internal/sim/combat"
	"clickerclicker.app/internal/sim/economy"
	"clickerclicker.app/internal/sim/tuning"
)

type AutoBuy struct {
	Enabled   bool
	Target    economy.Target
	HasTarget bool
	// Remaining is the countdown in seconds; it reaching zero disables the auto-buyer.
	Remaining float64
}

// GameState is the whole battle. It is owned by one Engine and only touched under its lock.
type GameState struct {
	PlayerUnits []combat.Unit
	EnemyUnits  []combat.Unit

	// Coins, upgrades and the player base.
	economy.Wallet

	EnemyBaseHP    float64
	MaxEnemyBaseHP float64

	Stage      uint32
	ClickCount uint64
	TypeCount  uint64

	AutoBuy AutoBuy

	NextUnitID      uint64
	EnemySpawnTimer float64
	// StageClear latches a cleared stage so it is rewarded once.
	StageClear bool

	saveTimer float64
}

func Fresh(t tuning.Tuning) *GameState {
	return &GameState{
		Wallet: economy.Wallet{
			PlayerBaseHP:    t.PlayerBaseHP,
			MaxPlayerBaseHP: t.PlayerBaseHP,
		},
		EnemyBaseHP:    t.EnemyBaseHP,
		MaxEnemyBaseHP: t.EnemyBaseHP,
		Stage:          1,
	}
}

func (s *GameState) toSnapshot() snapshot.StateV1 {
	st := snapshot.StateV1{
		Header:          snapshot.Header{Version: snapshot.Version},
		PlayerUnits:     combat.Clone(s.PlayerUnits),
		EnemyUnits:      combat.Clone(s.EnemyUnits),
		PlayerBaseHP:    s.PlayerBaseHP,
		MaxPlayerBaseHP: s.MaxPlayerBaseHP,
		EnemyBaseHP:     s.EnemyBaseHP,
		MaxEnemyBaseHP:  s.MaxEnemyBaseHP,
		Coins:           s.Coins,
		Stage:           s.Stage,
		ClickCount:      s.ClickCount,
		TypeCount:       s.TypeCount,
		Upgrades:        s.Upgrades,
		AutoBuy: snapshot.AutoBuyV1{
			Enabled:       s.AutoBuy.Enabled,
			RemainingTime: s.AutoBuy.Remaining,
		},
		NextUnitID:      s.NextUnitID,
		EnemySpawnTimer: s.EnemySpawnTimer,
		StageClear:      s.StageClear,
	}
	if st.PlayerUnits == nil {
		st.PlayerUnits = []combat.Unit{}
	}
	if st.EnemyUnits == nil {
		st.EnemyUnits = []combat.Unit{}
	}
	if s.AutoBuy.HasTarget {
		st.AutoBuy.UpgradeType, st.AutoBuy.UnitType = s.AutoBuy.Target.Wire()
	}
	return st
}

// stateFromSnapshot rebuilds a GameState. The stored id cursor is ignored in favour of
// max(unit id)+1 so hand-edited saves cannot produce duplicate ids.
func stateFromSnapshot(st snapshot.StateV1) *GameState {
	s := &GameState{
		PlayerUnits: combat.Clone(st.PlayerUnits),
		EnemyUnits:  combat.Clone(st.EnemyUnits),
		Wallet: economy.Wallet{
			Coins:           st.Coins,
			Upgrades:        st.Upgrades,
			PlayerBaseHP:    st.PlayerBaseHP,
			MaxPlayerBaseHP: st.MaxPlayerBaseHP,
		},
		EnemyBaseHP:     st.EnemyBaseHP,
		MaxEnemyBaseHP:  st.MaxEnemyBaseHP,
		Stage:           st.Stage,
		ClickCount:      st.ClickCount,
		TypeCount:       st.TypeCount,
		EnemySpawnTimer: st.EnemySpawnTimer,
		StageClear:      st.StageClear,
		AutoBuy: AutoBuy{
			Enabled:   st.AutoBuy.Enabled,
			Remaining: st.AutoBuy.RemainingTime,
		},
	}
	for i := range s.PlayerUnits {
		s.PlayerUnits[i].Side = combat.Player
	}
	for i := range s.EnemyUnits {
		s.EnemyUnits[i].Side = combat.Enemy
	}
	if st.AutoBuy.UpgradeType != "" {
		if t, err := economy.ParseTarget(st.AutoBuy.UpgradeType, st.AutoBuy.UnitType); err == nil {
			s.AutoBuy.Target = t
			s.AutoBuy.HasTarget = true
		} else {
			s.AutoBuy.Enabled = false
		}
	}
	s.NextUnitID = combat.MaxID(s.PlayerUnits, s.EnemyUnits) + 1
	return s
}

func (s *GameState) view() protocol.StateView {
	v := protocol.StateView{
		PlayerUnits:     combat.Clone(s.PlayerUnits),
		EnemyUnits:      combat.Clone(s.EnemyUnits),
		PlayerBaseHP:    s.PlayerBaseHP,
		MaxPlayerBaseHP: s.MaxPlayerBaseHP,
		EnemyBaseHP:     s.EnemyBaseHP,
		MaxEnemyBaseHP:  s.MaxEnemyBaseHP,
		Coins:           s.Coins,
		Stage:           s.Stage,
		ClickCount:      s.ClickCount,
		TypeCount:       s.TypeCount,
		Upgrades:        s.Upgrades,
		AutoBuy:         s.AutoBuy.view(),
	}
	if v.PlayerUnits == nil {
		v.PlayerUnits = []combat.Unit{}
	}
	if v.EnemyUnits == nil {
		v.EnemyUnits = []combat.Unit{}
	}
	return v
}

func (a AutoBuy) view() protocol.AutoBuyView {
	v := protocol.AutoBuyView{Enabled: a.Enabled, RemainingTime: a.Remaining}
	if a.HasTarget {
		v.UpgradeType, v.UnitType = a.Target.Wire()
	}
	return v
}

func (s *GameState) progress() protocol.PlayerProgress {
	return protocol.PlayerProgress{
		Stage:           s.Stage,
		Coins:           s.Coins,
		Upgrades:        s.Upgrades,
		MaxPlayerBaseHP: s.MaxPlayerBaseHP,
		MaxEnemyBaseHP:  s.MaxEnemyBaseHP,
	}
}
