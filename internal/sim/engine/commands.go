package engine

import (
	"fmt"

	"clickerclicker.app/internal/persistence/snapshot"
	"clickerclicker.app/internal/protocol"
	"clickerclicker.app/internal/sim/economy"
)

// SpawnPlayer adds one player unit at the player base.
func (e *Engine) SpawnPlayer(kind economy.UnitKind) error {
	if !kind.Valid() {
		return fmt.Errorf("spawn: unknown unit kind %d", kind)
	}
	return e.mutate(func(*GameState) error {
		e.spawnPlayerLocked(kind)
		return nil
	})
}

// Purchase buys one level of t and persists on success.
func (e *Engine) Purchase(t economy.Target) error {
	return e.mutate(func(*GameState) error {
		return e.purchaseLocked(t, "manual")
	})
}

func (e *Engine) purchaseLocked(t economy.Target, source string) error {
	cost := e.rules.CostOf(e.st.Upgrades, t)
	if err := e.rules.Purchase(&e.st.Wallet, t); err != nil {
		return err
	}
	e.stats.purchases++
	e.requestSaveLocked()
	e.emitLocked(EventPurchase, map[string]any{
		"target": t.String(),
		"cost":   cost,
		"level":  e.st.Upgrades.Level(t),
		"source": source,
	})
	return nil
}

// Cost returns the price of the next level of t.
func (e *Engine) Cost(t economy.Target) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rules.CostOf(e.st.Upgrades, t)
}

// ResetStage wipes the battlefield of the current stage. Stage, coins and upgrades are kept.
func (e *Engine) ResetStage() {
	e.mutate(func(*GameState) error {
		e.resetStageLocked()
		e.emitLocked(EventStageReset, nil)
		return nil
	})
}

// StartAutoBuy pays the auto-buy price and keeps buying t for the given number of seconds.
func (e *Engine) StartAutoBuy(t economy.Target, seconds float64) error {
	if !t.Valid() {
		return economy.ErrInvalidAxis
	}
	if !(seconds > 0) {
		return ErrInvalidDuration
	}
	return e.mutate(func(st *GameState) error {
		if st.Coins < e.tun.AutoBuyPrice {
			return economy.ErrInsufficientFunds
		}
		st.Coins -= e.tun.AutoBuyPrice
		st.AutoBuy = AutoBuy{Enabled: true, Target: t, HasTarget: true, Remaining: seconds}
		e.requestSaveLocked()
		e.emitLocked(EventAutoBuyStart, map[string]any{"target": t.String(), "seconds": seconds, "price": e.tun.AutoBuyPrice})
		return nil
	})
}

func (e *Engine) StopAutoBuy() {
	e.mutate(func(st *GameState) error {
		st.AutoBuy.Enabled = false
		st.AutoBuy.Remaining = 0
		e.requestSaveLocked()
		e.emitLocked(EventAutoBuyStop, nil)
		return nil
	})
}

func (e *Engine) AutoBuy() AutoBuy {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st.AutoBuy
}

// View returns a deep copy of the battle for presentation.
func (e *Engine) View() protocol.StateView {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st.view()
}

// Snapshot returns a deep copy of the full persisted state.
func (e *Engine) Snapshot() snapshot.StateV1 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st.toSnapshot()
}

func (e *Engine) Tick() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tick
}

// ExportProgress returns the transferable subset of the battle.
func (e *Engine) ExportProgress() protocol.PlayerProgress {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st.progress()
}

// ImportProgress overwrites stage, coins, upgrades and both base HP caps. Units, counters and
// the current base HP values are left alone.
func (e *Engine) ImportProgress(p protocol.PlayerProgress) error {
	if p.Stage == 0 || !(p.MaxPlayerBaseHP > 0) || !(p.MaxEnemyBaseHP > 0) {
		return fmt.Errorf("%w: stage=%d caps=%v/%v", ErrInvalidProgress, p.Stage, p.MaxPlayerBaseHP, p.MaxEnemyBaseHP)
	}
	return e.mutate(func(st *GameState) error {
		prevStage := st.Stage
		st.Stage = p.Stage
		st.Coins = p.Coins
		st.Upgrades = p.Upgrades
		st.MaxPlayerBaseHP = p.MaxPlayerBaseHP
		st.MaxEnemyBaseHP = p.MaxEnemyBaseHP
		e.requestSaveLocked()
		e.emitLocked(EventProgressImport, map[string]any{"previous_stage": prevStage})
		return nil
	})
}
