package engine

import (
	"math"
	"time"

	"clickerclicker.app/internal/protocol"
	"clickerclicker.app/internal/sim/combat"
	"clickerclicker.app/internal/sim/economy"
	"clickerclicker.app/internal/sim/tuning"
)

// Step spawns keys Small and clicks Medium player units, then advances the battle by dt seconds.
func (e *Engine) Step(dt float64, clicks, keys int) uint64 {
	return e.step(dt, clicks, keys, 0)
}

func (e *Engine) step(dt float64, clicks, keys, large int) uint64 {
	start := time.Now()
	e.mu.Lock()
	for i := 0; i < keys; i++ {
		e.spawnPlayerLocked(economy.Small)
	}
	for i := 0; i < clicks; i++ {
		e.spawnPlayerLocked(economy.Medium)
	}
	for i := 0; i < large; i++ {
		e.spawnPlayerLocked(economy.Large)
	}
	e.tickLocked(dt)
	tick := e.tick
	var msg protocol.StateMsg
	sink := e.sink
	if sink != nil {
		msg = protocol.StateMsg{Type: protocol.TypeState, ProtocolVersion: protocol.Version, Tick: tick, State: e.st.view()}
	}
	snap, save, events := e.takeOutputsLocked()
	e.stats.lastStep = time.Since(start)
	e.mu.Unlock()

	e.flush(snap, save, events)
	if sink != nil {
		sendLatest(sink, msg)
	}
	return tick
}

func (e *Engine) tickLocked(dt float64) {
	st := e.st
	e.tick++

	st.EnemySpawnTimer += dt
	if st.EnemySpawnTimer >= spawnInterval(e.tun.Spawn, st.Stage) {
		e.spawnEnemyLocked()
		st.EnemySpawnTimer = 0
	}

	dead := make(map[uint64]struct{})
	pr := combat.StepSide(st.PlayerUnits, st.EnemyUnits, combat.Player, dt, dead)
	st.EnemyBaseHP -= pr.BaseDamage
	if pr.Kills > 0 {
		st.Coins = addCoins(st.Coins, uint64(pr.Kills)*e.rules.KillRewardFor(st.Upgrades.CoinRate))
		e.stats.kills += uint64(pr.Kills)
	}
	er := combat.StepSide(st.EnemyUnits, st.PlayerUnits, combat.Enemy, dt, dead)
	st.PlayerBaseHP -= er.BaseDamage
	st.PlayerUnits, st.EnemyUnits = combat.Settle(st.PlayerUnits, st.EnemyUnits, dead)

	if st.EnemyBaseHP <= 0 && !st.StageClear {
		st.StageClear = true
		cleared := st.Stage
		reward := e.rules.StageClearReward(cleared)
		st.Coins = addCoins(st.Coins, reward)
		e.stats.stageClears++
		e.nextStageLocked()
		e.emitLocked(EventStageClear, map[string]any{"cleared_stage": cleared, "reward": reward, "survivors": len(st.PlayerUnits)})
	}

	if st.PlayerBaseHP <= 0 {
		e.stats.defeats++
		e.resetStageLocked()
		e.emitLocked(EventDefeat, nil)
	}

	e.autoBuyLocked(dt)

	st.saveTimer += dt
	if st.saveTimer >= e.tun.SaveEverySeconds {
		st.saveTimer = 0
		e.requestSaveLocked()
	}
}

func spawnInterval(c tuning.SpawnCurve, stage uint32) float64 {
	return math.Max(c.MinInterval, c.BaseInterval-math.Min(c.MaxReduction, float64(stage)*c.PerStage))
}

func stageMultiplier(c tuning.SpawnCurve, stage uint32) float64 {
	s := float64(stage)
	return 1 + (s-1)*c.LinearPerStage + (math.Log(s)/10)*c.LogWeight
}

func (e *Engine) nextUnitIDLocked() uint64 {
	id := e.st.NextUnitID
	e.st.NextUnitID++
	return id
}

// spawnPlayerLocked freezes the current upgrade bonuses into the new unit's stats.
func (e *Engine) spawnPlayerLocked(kind economy.UnitKind) {
	st := e.st
	base := statsFor(e.tun.Player, kind)
	up := st.Upgrades
	hp := economy.Scale(base.HP, up.BonusPercent(economy.HP, kind))
	st.PlayerUnits = append(st.PlayerUnits, combat.Unit{
		ID:       e.nextUnitIDLocked(),
		Kind:     kind,
		Position: combat.LaneMin,
		HP:       hp,
		MaxHP:    hp,
		Attack:   economy.Scale(base.Attack, up.BonusPercent(economy.Attack, kind)),
		Speed:    economy.Scale(base.Speed, up.BonusPercent(economy.Speed, kind)),
		Side:     combat.Player,
	})
	switch kind {
	case economy.Small:
		st.TypeCount++
	case economy.Medium:
		st.ClickCount++
	}
}

func (e *Engine) spawnEnemyLocked() {
	sp := e.tun.Spawn
	kind := economy.Small
	if e.rng.Float64() >= sp.SmallChance {
		if e.rng.Float64() < sp.MediumOfRest {
			kind = economy.Medium
		} else {
			kind = economy.Large
		}
	}
	base := statsFor(e.tun.Enemy, kind)
	mul := stageMultiplier(sp, e.st.Stage)
	e.st.EnemyUnits = append(e.st.EnemyUnits, combat.Unit{
		ID:       e.nextUnitIDLocked(),
		Kind:     kind,
		Position: combat.LaneMax,
		HP:       base.HP * mul,
		MaxHP:    base.HP * mul,
		Attack:   base.Attack * mul,
		Speed:    base.Speed,
		Side:     combat.Enemy,
	})
}

func statsFor(set tuning.UnitStatsSet, kind economy.UnitKind) tuning.UnitStats {
	switch kind {
	case economy.Medium:
		return set.Medium
	case economy.Large:
		return set.Large
	default:
		return set.Small
	}
}

func (e *Engine) nextStageLocked() {
	st := e.st
	st.Stage++
	st.MaxEnemyBaseHP = e.tun.EnemyBaseHP * (1 + float64(st.Stage-1)*e.tun.EnemyBaseHPGrowth)
	st.EnemyBaseHP = st.MaxEnemyBaseHP
	st.EnemyUnits = st.EnemyUnits[:0]
	st.EnemySpawnTimer = 0
	st.StageClear = false
	e.repositionLocked()
	e.requestSaveLocked()
}

// repositionLocked pulls survivors back toward the player side after a clear, hits them for a
// fraction of the current Small max HP and knocks them back.
func (e *Engine) repositionLocked() {
	st := e.st
	rp := e.tun.Reposition
	smallMax := economy.Scale(e.tun.Player.Small.HP, st.Upgrades.BonusPercent(economy.HP, economy.Small))
	dmg := smallMax * rp.DamageFraction

	out := st.PlayerUnits[:0]
	for _, u := range st.PlayerUnits {
		u.Position = math.Min(u.Position, rp.MaxPosition)
		u.HP -= dmg
		dist := rp.MinDistance + e.rng.Float64()*(rp.MaxDistance-rp.MinDistance)
		dur := rp.MinDuration + e.rng.Float64()*(rp.MaxDuration-rp.MinDuration)
		combat.ApplyKnockback(&u, dist, dur)
		u.ClearTarget()
		if u.HP > 0 {
			out = append(out, u)
		}
	}
	st.PlayerUnits = out
}

func (e *Engine) resetStageLocked() {
	st := e.st
	st.PlayerUnits = st.PlayerUnits[:0]
	st.EnemyUnits = st.EnemyUnits[:0]
	st.PlayerBaseHP = st.MaxPlayerBaseHP
	st.EnemyBaseHP = st.MaxEnemyBaseHP
	st.EnemySpawnTimer = 0
	st.StageClear = false
	e.requestSaveLocked()
}

func (e *Engine) autoBuyLocked(dt float64) {
	ab := &e.st.AutoBuy
	if ab.Remaining <= 0 {
		ab.Enabled = false
		return
	}
	ab.Remaining -= dt
	if ab.Remaining <= 0 {
		ab.Remaining = 0
		ab.Enabled = false
		e.emitLocked(EventAutoBuyExpired, nil)
		e.requestSaveLocked()
	}
	if ab.Enabled && ab.HasTarget && e.rules.Affordable(e.st.Wallet, ab.Target) {
		_ = e.purchaseLocked(ab.Target, "auto")
	}
}

func addCoins(have, add uint64) uint64 {
	if have > math.MaxUint64-add {
		return math.MaxUint64
	}
	return have + add
}

func sendLatest(ch chan protocol.StateMsg, m protocol.StateMsg) {
	select {
	case ch <- m:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- m:
	default:
	}
}
