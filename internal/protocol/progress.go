package protocol

import "clickerclicker.app/internal/sim/economy"

// PlayerProgress is the part of a battle that travels between devices. Units never do.
type PlayerProgress struct {
	Stage           uint32           `json:"stage"`
	Coins           uint64           `json:"coins"`
	Upgrades        economy.Upgrades `json:"upgrades"`
	MaxPlayerBaseHP float64          `json:"max_player_base_hp"`
	MaxEnemyBaseHP  float64          `json:"max_enemy_base_hp"`
}

func DefaultProgress() PlayerProgress {
	return PlayerProgress{Stage: 1, MaxPlayerBaseHP: 1000, MaxEnemyBaseHP: 500}
}

type PlayerProfile struct {
	PlayerID   string         `json:"player_id"`
	PlayerName string         `json:"player_name"`
	Progress   PlayerProgress `json:"progress"`
	// LastUpdate is unix seconds on the server clock.
	LastUpdate int64 `json:"last_update"`
}

type PlayerSummary struct {
	PlayerID   string `json:"player_id"`
	PlayerName string `json:"player_name"`
	Stage      uint32 `json:"stage"`
	LastUpdate int64  `json:"last_update"`
}

type RegisterRequest struct {
	PlayerName string `json:"player_name"`
}

type RegisterResponse struct {
	PlayerID   string         `json:"player_id"`
	PlayerName string         `json:"player_name"`
	Message    string         `json:"message"`
	Progress   PlayerProgress `json:"progress"`
	LastUpdate int64          `json:"last_update"`
}

const (
	MessageWelcomeBack    = "Welcome back! Progress loaded."
	MessageAccountCreated = "Account created!"
)

type SyncRequest struct {
	Progress PlayerProgress `json:"progress"`
}

type HealthResponse struct {
	Status      string `json:"status"`
	Timestamp   int64  `json:"timestamp"`
	PlayerCount int    `json:"player_count"`
}

// ErrorBody is the JSON body of every non-2xx HTTP response.
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
