package economy

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAxis       = errors.New("invalid upgrade axis")
)

type UnitKind uint8

const (
	Small UnitKind = iota
	Medium
	Large
)

var unitKindNames = [...]string{"small", "medium", "large"}

func (k UnitKind) String() string {
	if int(k) < len(unitKindNames) {
		return unitKindNames[k]
	}
	return fmt.Sprintf("UnitKind(%d)", uint8(k))
}

func (k UnitKind) Valid() bool { return k <= Large }

func (k UnitKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("unknown unit kind %d", uint8(k))
	}
	return []byte(k.String()), nil
}

func (k *UnitKind) UnmarshalText(b []byte) error {
	v, err := ParseUnitKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

func ParseUnitKind(s string) (UnitKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "small":
		return Small, nil
	case "medium":
		return Medium, nil
	case "large":
		return Large, nil
	}
	return 0, fmt.Errorf("unknown unit kind %q", s)
}

type Axis uint8

const (
	Attack Axis = iota
	HP
	Speed
	CoinRate
	BaseHP
)

var axisNames = [...]string{"attack", "hp", "speed", "coin_rate", "base_hp"}

func (a Axis) String() string {
	if int(a) < len(axisNames) {
		return axisNames[a]
	}
	return fmt.Sprintf("Axis(%d)", uint8(a))
}

func (a Axis) Valid() bool { return a <= BaseHP }

// PerUnit reports whether the axis has one counter per unit kind.
func (a Axis) PerUnit() bool { return a == Attack || a == HP || a == Speed }

// Target selects one of the eleven upgrade counters.
type Target struct {
	Axis Axis
	Kind UnitKind
}

// ParseTarget validates a wire-level (axis, unit) pair. The unit is ignored for axes without a
// size dimension.
func ParseTarget(axis, unit string) (Target, error) {
	a := strings.ToLower(strings.TrimSpace(axis))
	for i, name := range axisNames {
		if name != a {
			continue
		}
		t := Target{Axis: Axis(i)}
		if !t.Axis.PerUnit() {
			return t, nil
		}
		k, err := ParseUnitKind(unit)
		if err != nil {
			return Target{}, fmt.Errorf("%w: %s needs a unit size: %v", ErrInvalidAxis, a, err)
		}
		t.Kind = k
		return t, nil
	}
	return Target{}, fmt.Errorf("%w: %q", ErrInvalidAxis, axis)
}

func (t Target) Valid() bool {
	if !t.Axis.Valid() {
		return false
	}
	return !t.Axis.PerUnit() || t.Kind.Valid()
}

// Wire returns the (axis, unit) strings used by the command surface; unit is empty for
// coin_rate and base_hp.
func (t Target) Wire() (axis, unit string) {
	if t.Axis.PerUnit() {
		return t.Axis.String(), t.Kind.String()
	}
	return t.Axis.String(), ""
}

func (t Target) String() string {
	a, u := t.Wire()
	if u == "" {
		return a
	}
	return a + "/" + u
}

// Targets lists all eleven counters in display order.
func Targets() []Target {
	out := make([]Target, 0, 11)
	for _, a := range []Axis{Attack, HP, Speed} {
		for _, k := range []UnitKind{Small, Medium, Large} {
			out = append(out, Target{Axis: a, Kind: k})
		}
	}
	return append(out, Target{Axis: CoinRate}, Target{Axis: BaseHP})
}

// Upgrades holds every counter as a bonus percent; a purchase adds Rules.Step to one of them.
type Upgrades struct {
	SmallAttack  int `json:"small_attack"`
	MediumAttack int `json:"medium_attack"`
	LargeAttack  int `json:"large_attack"`
	SmallHP      int `json:"small_hp"`
	MediumHP     int `json:"medium_hp"`
	LargeHP      int `json:"large_hp"`
	SmallSpeed   int `json:"small_speed"`
	MediumSpeed  int `json:"medium_speed"`
	LargeSpeed   int `json:"large_speed"`
	CoinRate     int `json:"coin_rate"`
	BaseHP       int `json:"base_hp"`
}

func (u *Upgrades) counter(t Target) *int {
	switch t.Axis {
	case CoinRate:
		return &u.CoinRate
	case BaseHP:
		return &u.BaseHP
	}
	var row [3]*int
	switch t.Axis {
	case Attack:
		row = [3]*int{&u.SmallAttack, &u.MediumAttack, &u.LargeAttack}
	case HP:
		row = [3]*int{&u.SmallHP, &u.MediumHP, &u.LargeHP}
	case Speed:
		row = [3]*int{&u.SmallSpeed, &u.MediumSpeed, &u.LargeSpeed}
	default:
		return nil
	}
	if !t.Kind.Valid() {
		return nil
	}
	return row[t.Kind]
}

// Level returns the counter value for t, or 0 for an invalid target.
func (u Upgrades) Level(t Target) int {
	if p := u.counter(t); p != nil {
		return *p
	}
	return 0
}

// BonusPercent returns the percent bonus applied to one stat of one unit kind at spawn.
func (u Upgrades) BonusPercent(stat Axis, kind UnitKind) int {
	return u.Level(Target{Axis: stat, Kind: kind})
}

func (u *Upgrades) bump(t Target, step int) bool {
	p := u.counter(t)
	if p == nil {
		return false
	}
	*p += step
	return true
}

// Scale applies a percent bonus to a base stat: base * (1 + percent/100).
func Scale(base float64, percent int) float64 {
	return base * (1 + float64(percent)/100)
}
