package protocol

import (
	"clickerclicker.app/internal/sim/combat"
	"clickerclicker.app/internal/sim/economy"
)

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ClientName      string `json:"client_name"`
	// WantState false makes the session input-only.
	WantState *bool `json:"want_state,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	SessionID       string `json:"session_id"`
	TickRateHz      int    `json:"tick_rate_hz"`
	Stage           uint32 `json:"stage"`
}

// STATE (server -> client)
type StateMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	Tick            uint64    `json:"tick"`
	State           StateView `json:"state"`
}

// INPUT (client -> server): accumulated counts since the previous INPUT.
type InputMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Clicks          int    `json:"clicks"`
	Keys            int    `json:"keys"`
}

type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}

type AutoBuyView struct {
	Enabled       bool    `json:"enabled"`
	UpgradeType   string  `json:"upgrade_type"`
	UnitType      string  `json:"unit_type"`
	RemainingTime float64 `json:"remaining_time"`
}

// StateView is the read-only picture of a battle handed to presentation layers.
type StateView struct {
	PlayerUnits     []combat.Unit    `json:"player_units"`
	EnemyUnits      []combat.Unit    `json:"enemy_units"`
	PlayerBaseHP    float64          `json:"player_base_hp"`
	MaxPlayerBaseHP float64          `json:"max_player_base_hp"`
	EnemyBaseHP     float64          `json:"enemy_base_hp"`
	MaxEnemyBaseHP  float64          `json:"max_enemy_base_hp"`
	Coins           uint64           `json:"coins"`
	Stage           uint32           `json:"stage"`
	ClickCount      uint64           `json:"click_count"`
	TypeCount       uint64           `json:"type_count"`
	Upgrades        economy.Upgrades `json:"upgrades"`
	AutoBuy         AutoBuyView      `json:"auto_buy"`
}
