package combat

import (
	"encoding/json"
	"fmt"

	"clickerclicker.app/internal/sim/economy"
)

const (
	LaneMin     = 0.0
	LaneMax     = 1000.0
	AttackRange = 10.0
)

// Side is serialized as the boolean is_player.
type Side uint8

const (
	Player Side = iota
	Enemy
)

func (s Side) String() string {
	if s == Player {
		return "player"
	}
	return "enemy"
}

func (s Side) Opponent() Side {
	if s == Player {
		return Enemy
	}
	return Player
}

func (s Side) MarshalJSON() ([]byte, error) {
	return json.Marshal(s == Player)
}

func (s *Side) UnmarshalJSON(b []byte) error {
	var isPlayer bool
	if err := json.Unmarshal(b, &isPlayer); err != nil {
		return fmt.Errorf("is_player: %w", err)
	}
	if isPlayer {
		*s = Player
	} else {
		*s = Enemy
	}
	return nil
}

// Knockback is a forced displacement that overrides nothing else: the unit still targets and
// fights while it slides.
type Knockback struct {
	Velocity  float64 `json:"knockback_velocity"`
	Remaining float64 `json:"knockback_time"`
	Total     float64 `json:"knockback_total"`
}

func (k Knockback) Active() bool { return k.Remaining > 0 }

type Unit struct {
	ID       uint64           `json:"id"`
	Kind     economy.UnitKind `json:"unit_type"`
	Position float64          `json:"position"`
	HP       float64          `json:"hp"`
	MaxHP    float64          `json:"max_hp"`
	Attack   float64          `json:"attack"`
	Speed    float64          `json:"speed"`
	Side     Side             `json:"is_player"`
	// TargetID refers to a foe by id only; a dead foe's id simply stops resolving.
	TargetID *uint64 `json:"target_id"`
	Knockback
}

func (u Unit) Alive() bool { return u.HP > 0 }

func (u *Unit) SetTarget(id uint64) {
	v := id
	u.TargetID = &v
}

func (u *Unit) ClearTarget() { u.TargetID = nil }

// ApplyKnockback pushes u toward its own base: distance over duration seconds.
func ApplyKnockback(u *Unit, distance, duration float64) {
	if duration <= 0 {
		return
	}
	u.Velocity = -(distance / duration)
	u.Remaining = duration
	u.Total = duration
}

// Clone deep-copies a roster including target pointers.
func Clone(units []Unit) []Unit {
	if units == nil {
		return nil
	}
	out := make([]Unit, len(units))
	copy(out, units)
	for i := range out {
		if out[i].TargetID != nil {
			out[i].SetTarget(*out[i].TargetID)
		}
	}
	return out
}

// MaxID returns the largest unit id across all rosters, or 0 when they are empty.
func MaxID(rosters ...[]Unit) uint64 {
	var max uint64
	for _, r := range rosters {
		for _, u := range r {
			if u.ID > max {
				max = u.ID
			}
		}
	}
	return max
}
