package combat

import "math"

type SideResult struct {
	// BaseDamage is the damage dealt this tick to the opposing base.
	BaseDamage float64
	// Kills counts foes whose HP went from positive to <= 0 this tick.
	Kills int
}

// StepSide advances every unit in own by dt against foes. Foe HP is reduced in place and foes
// that die are added to dead; they stay in the roster until Settle so they can still act this tick.
func StepSide(own, foes []Unit, side Side, dt float64, dead map[uint64]struct{}) SideResult {
	var res SideResult
	idx := make(map[uint64]int, len(foes))
	for i := range foes {
		idx[foes[i].ID] = i
	}
	dir := 1.0
	edgeReached := func(p float64) bool { return p >= LaneMax }
	if side == Enemy {
		dir = -1
		edgeReached = func(p float64) bool { return p <= LaneMin }
	}

	for i := range own {
		u := &own[i]
		advanceKnockback(u, dt)

		if u.TargetID != nil {
			if _, ok := idx[*u.TargetID]; !ok {
				u.ClearTarget()
			}
		}
		if u.TargetID == nil {
			if j, ok := nearest(foes, u.Position); ok {
				u.SetTarget(foes[j].ID)
			}
		}

		if u.TargetID == nil {
			if !edgeReached(u.Position) {
				u.Position += dir * u.Speed * dt
			} else {
				res.BaseDamage += u.Attack * dt
			}
			continue
		}

		t := &foes[idx[*u.TargetID]]
		if math.Abs(t.Position-u.Position) <= AttackRange {
			wasAlive := t.HP > 0
			t.HP -= u.Attack * dt
			if t.HP <= 0 {
				dead[t.ID] = struct{}{}
				if wasAlive {
					res.Kills++
				}
			}
			continue
		}
		if t.Position > u.Position {
			u.Position += u.Speed * dt
		} else {
			u.Position -= u.Speed * dt
		}
	}
	return res
}

func advanceKnockback(u *Unit, dt float64) {
	if !u.Knockback.Active() {
		return
	}
	u.Position += u.Velocity * dt
	u.Remaining = math.Max(0, u.Remaining-dt)
	if u.Remaining == 0 {
		u.Velocity = 0
		u.Total = 0
	}
}

// nearest picks the foe with the smallest distance, ties going to the lowest id. NaN distances
// never win.
func nearest(foes []Unit, pos float64) (int, bool) {
	best := -1
	bestD := math.Inf(1)
	for j := range foes {
		d := math.Abs(foes[j].Position - pos)
		if math.IsNaN(d) {
			continue
		}
		if best < 0 || d < bestD || (d == bestD && foes[j].ID < foes[best].ID) {
			best, bestD = j, d
		}
	}
	return best, best >= 0
}

// Settle clamps every position into the lane and drops the units in dead.
func Settle(player, enemy []Unit, dead map[uint64]struct{}) ([]Unit, []Unit) {
	return settle(player, dead), settle(enemy, dead)
}

func settle(units []Unit, dead map[uint64]struct{}) []Unit {
	out := units[:0]
	for _, u := range units {
		if _, gone := dead[u.ID]; gone {
			continue
		}
		u.Position = clamp(u.Position)
		out = append(out, u)
	}
	return out
}

func clamp(p float64) float64 {
	if p < LaneMin {
		return LaneMin
	}
	if p > LaneMax {
		return LaneMax
	}
	return p
}
