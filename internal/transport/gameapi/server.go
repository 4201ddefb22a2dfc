package gameapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"clickerclicker.app/internal/config"
	"clickerclicker.app/internal/protocol"
	"clickerclicker.app/internal/sim/economy"
	"clickerclicker.app/internal/sim/engine"
	"clickerclicker.app/internal/syncclient"
)

const maxBody = 16 << 10

// Server is the local command surface of the game daemon.
type Server struct {
	eng   *engine.Engine
	input *engine.Counter
	mp    *syncclient.Client
	cfg   *config.Holder
	log   *log.Logger

	// Bounds each multiplayer request.
	RemoteTimeout time.Duration
}

func NewServer(eng *engine.Engine, input *engine.Counter, mp *syncclient.Client, cfg *config.Holder, logger *log.Logger) *Server {
	return &Server{eng: eng, input: input, mp: mp, cfg: cfg, log: logger, RemoteTimeout: 15 * time.Second}
}

func (s *Server) Routes(r chi.Router) {
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/metrics", s.handleMetrics)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/state", s.handleState)
		r.Get("/upgrades", s.handleUpgradeList)
		r.Post("/upgrades", s.handlePurchase)
		r.Post("/stage/reset", s.handleReset)
		r.Get("/autobuy", s.handleAutoBuyGet)
		r.Post("/autobuy", s.handleAutoBuyStart)
		r.Delete("/autobuy", s.handleAutoBuyStop)
		r.Post("/input", s.handleInput)
		r.Get("/config", s.handleConfigGet)
		r.Put("/config", s.handleConfigPut)
		r.Route("/mp", func(r chi.Router) {
			r.Get("/status", s.handleMPStatus)
			r.Post("/register", s.handleMPRegister)
			r.Post("/push", s.handleMPPush)
			r.Post("/pull", s.handleMPPull)
			r.Get("/players", s.handleMPPlayers)
			r.Get("/health", s.handleMPHealth)
		})
	})
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	s.Routes(r)
	return r
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, protocol.StateMsg{
		Type:            protocol.TypeState,
		ProtocolVersion: protocol.Version,
		Tick:            s.eng.Tick(),
		State:           s.eng.View(),
	})
}

type upgradeRow struct {
	UpgradeType string `json:"upgrade_type"`
	UnitType    string `json:"unit_type,omitempty"`
	Level       int    `json:"level"`
	Cost        uint64 `json:"cost"`
}

func (s *Server) handleUpgradeList(w http.ResponseWriter, r *http.Request) {
	up := s.eng.View().Upgrades
	rules := s.eng.Rules()
	rows := make([]upgradeRow, 0, 11)
	for _, t := range economy.Targets() {
		a, u := t.Wire()
		rows = append(rows, upgradeRow{UpgradeType: a, UnitType: u, Level: up.Level(t), Cost: rules.CostOf(up, t)})
	}
	writeJSON(w, http.StatusOK, rows)
}

type targetRequest struct {
	UpgradeType string `json:"upgrade_type"`
	UnitType    string `json:"unit_type"`
}

type purchaseResponse struct {
	Target string `json:"target"`
	Level  int    `json:"level"`
	Coins  uint64 `json:"coins"`
	Next   uint64 `json:"next_cost"`
}

func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	var req targetRequest
	if !readJSON(w, r, &req) {
		return
	}
	t, err := economy.ParseTarget(req.UpgradeType, req.UnitType)
	if err != nil {
		writeGameError(w, err)
		return
	}
	if err := s.eng.Purchase(t); err != nil {
		writeGameError(w, err)
		return
	}
	v := s.eng.View()
	writeJSON(w, http.StatusOK, purchaseResponse{
		Target: t.String(),
		Level:  v.Upgrades.Level(t),
		Coins:  v.Coins,
		Next:   s.eng.Cost(t),
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.eng.ResetStage()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "stage": s.eng.View().Stage})
}

func (s *Server) handleAutoBuyGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.eng.View().AutoBuy)
}

type autoBuyRequest struct {
	UpgradeType     string  `json:"upgrade_type"`
	UnitType        string  `json:"unit_type"`
	DurationSeconds float64 `json:"duration_seconds"`
}

func (s *Server) handleAutoBuyStart(w http.ResponseWriter, r *http.Request) {
	var req autoBuyRequest
	if !readJSON(w, r, &req) {
		return
	}
	t, err := economy.ParseTarget(req.UpgradeType, req.UnitType)
	if err != nil {
		writeGameError(w, err)
		return
	}
	if err := s.eng.StartAutoBuy(t, req.DurationSeconds); err != nil {
		writeGameError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.eng.View().AutoBuy)
}

func (s *Server) handleAutoBuyStop(w http.ResponseWriter, r *http.Request) {
	s.eng.StopAutoBuy()
	writeJSON(w, http.StatusOK, s.eng.View().AutoBuy)
}

type inputRequest struct {
	Clicks int `json:"clicks"`
	Keys   int `json:"keys"`
}

func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	var req inputRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.Clicks < 0 || req.Keys < 0 {
		writeError(w, http.StatusBadRequest, protocol.ErrInvalidInput, "clicks and keys must be >= 0")
		return
	}
	if limit := s.eng.Tuning().MaxInputPerBatch; req.Clicks > limit || req.Keys > limit {
		writeError(w, http.StatusBadRequest, protocol.ErrInvalidInput, fmt.Sprintf("clicks and keys must be <= %d", limit))
		return
	}
	s.input.Add(req.Clicks, req.Keys)
	w.WriteHeader(http.StatusAccepted)
}

type configView struct {
	MultiplayerServerURL string `json:"multiplayer_server_url"`
	PlayerID             string `json:"player_id,omitempty"`
	PlayerName           string `json:"player_name,omitempty"`
}

func (s *Server) handleConfigGet(w http.ResponseWriter, r *http.Request) {
	c := s.cfg.Get()
	writeJSON(w, http.StatusOK, configView{MultiplayerServerURL: c.MultiplayerServerURL, PlayerID: c.PlayerID, PlayerName: c.PlayerName})
}

func (s *Server) handleConfigPut(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MultiplayerServerURL string `json:"multiplayer_server_url"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	c, err := s.cfg.Update(func(c *config.Config) { c.MultiplayerServerURL = req.MultiplayerServerURL })
	if err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrInvalidInput, err.Error())
		return
	}
	if s.mp.SetServerURL(c.MultiplayerServerURL) {
		// The remembered identity belongs to the previous server.
		if c, err = s.cfg.Update(func(c *config.Config) { c.PlayerID, c.PlayerName = "", "" }); err != nil {
			s.logf("config save failed: %v", err)
		}
	}
	s.logf("multiplayer server set to %q", c.MultiplayerServerURL)
	writeJSON(w, http.StatusOK, configView{MultiplayerServerURL: c.MultiplayerServerURL, PlayerID: c.PlayerID, PlayerName: c.PlayerName})
}

type mpStatus struct {
	ServerURL  string `json:"server_url"`
	PlayerID   string `json:"player_id,omitempty"`
	PlayerName string `json:"player_name,omitempty"`
	Connected  bool   `json:"connected"`
	LastUpdate *int64 `json:"last_update,omitempty"`
}

func (s *Server) handleMPStatus(w http.ResponseWriter, r *http.Request) {
	id, name, _ := s.mp.Identity()
	st := mpStatus{ServerURL: s.mp.ServerURL(), PlayerID: id, PlayerName: name, Connected: s.mp.IsConnected()}
	if ts, ok := s.mp.LastSeen(); ok {
		st.LastUpdate = &ts
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleMPRegister(w http.ResponseWriter, r *http.Request) {
	var req protocol.RegisterRequest
	if !readJSON(w, r, &req) {
		return
	}
	ctx, cancel := s.remoteContext(r)
	defer cancel()
	resp, err := s.mp.Register(ctx, req.PlayerName, s.eng)
	if err != nil {
		writeSyncError(w, err)
		return
	}
	if _, err := s.cfg.Update(func(c *config.Config) {
		c.PlayerID = resp.PlayerID
		c.PlayerName = resp.PlayerName
	}); err != nil {
		s.logf("config save failed: %v", err)
	}
	s.logf("registered as %s (%s): %s", resp.PlayerName, resp.PlayerID, resp.Message)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMPPush(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.remoteContext(r)
	defer cancel()
	prof, err := s.mp.Push(ctx, s.eng)
	if err != nil {
		writeSyncError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prof)
}

func (s *Server) handleMPPull(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.remoteContext(r)
	defer cancel()
	applied, err := s.mp.Pull(ctx, s.eng)
	if err != nil {
		writeSyncError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"applied": applied, "stage": s.eng.View().Stage})
}

func (s *Server) handleMPPlayers(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.remoteContext(r)
	defer cancel()
	list, err := s.mp.List(ctx)
	if err != nil {
		writeSyncError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleMPHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.remoteContext(r)
	defer cancel()
	h, err := s.mp.Health(ctx)
	if err != nil {
		writeSyncError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	m := s.eng.Metrics()
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "# HELP clickerclicker_ticks_total Simulation ticks executed.\n")
	fmt.Fprintf(w, "# TYPE clickerclicker_ticks_total counter\n")
	fmt.Fprintf(w, "clickerclicker_ticks_total %d\n", m.Ticks)
	fmt.Fprintf(w, "# HELP clickerclicker_step_ms Last tick step duration in milliseconds.\n")
	fmt.Fprintf(w, "# TYPE clickerclicker_step_ms gauge\n")
	fmt.Fprintf(w, "clickerclicker_step_ms %.3f\n", float64(m.LastStep.Microseconds())/1000)
	fmt.Fprintf(w, "# HELP clickerclicker_stage Current stage.\n")
	fmt.Fprintf(w, "# TYPE clickerclicker_stage gauge\n")
	fmt.Fprintf(w, "clickerclicker_stage %d\n", m.Stage)
	fmt.Fprintf(w, "# HELP clickerclicker_coins Current coin balance.\n")
	fmt.Fprintf(w, "# TYPE clickerclicker_coins gauge\n")
	fmt.Fprintf(w, "clickerclicker_coins %d\n", m.Coins)
	fmt.Fprintf(w, "# HELP clickerclicker_units Units on the lane by side.\n")
	fmt.Fprintf(w, "# TYPE clickerclicker_units gauge\n")
	fmt.Fprintf(w, "clickerclicker_units{side=\"player\"} %d\n", m.PlayerUnits)
	fmt.Fprintf(w, "clickerclicker_units{side=\"enemy\"} %d\n", m.EnemyUnits)
	fmt.Fprintf(w, "# HELP clickerclicker_kills_total Enemy units killed by the player.\n")
	fmt.Fprintf(w, "# TYPE clickerclicker_kills_total counter\n")
	fmt.Fprintf(w, "clickerclicker_kills_total %d\n", m.Kills)
	fmt.Fprintf(w, "# HELP clickerclicker_stage_clears_total Stages cleared.\n")
	fmt.Fprintf(w, "# TYPE clickerclicker_stage_clears_total counter\n")
	fmt.Fprintf(w, "clickerclicker_stage_clears_total %d\n", m.StageClears)
	fmt.Fprintf(w, "# HELP clickerclicker_defeats_total Player base defeats.\n")
	fmt.Fprintf(w, "# TYPE clickerclicker_defeats_total counter\n")
	fmt.Fprintf(w, "clickerclicker_defeats_total %d\n", m.Defeats)
	fmt.Fprintf(w, "# HELP clickerclicker_purchases_total Upgrade purchases.\n")
	fmt.Fprintf(w, "# TYPE clickerclicker_purchases_total counter\n")
	fmt.Fprintf(w, "clickerclicker_purchases_total %d\n", m.Purchases)
	fmt.Fprintf(w, "# HELP clickerclicker_snapshot_requests_total Snapshots handed to the writer.\n")
	fmt.Fprintf(w, "# TYPE clickerclicker_snapshot_requests_total counter\n")
	fmt.Fprintf(w, "clickerclicker_snapshot_requests_total %d\n", m.SaveRequests)
}

func (s *Server) remoteContext(r *http.Request) (context.Context, context.CancelFunc) {
	if s.RemoteTimeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), s.RemoteTimeout)
}

func (s *Server) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrBadRequest, err.Error())
		return false
	}
	if err := json.Unmarshal(raw, v); err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrBadRequest, err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, protocol.ErrorBody{Error: msg, Code: code})
}

func writeGameError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, economy.ErrInvalidAxis):
		writeError(w, http.StatusBadRequest, protocol.ErrInvalidAxis, err.Error())
	case errors.Is(err, economy.ErrInsufficientFunds):
		writeError(w, http.StatusConflict, protocol.ErrInsufficientFunds, err.Error())
	case errors.Is(err, engine.ErrInvalidDuration):
		writeError(w, http.StatusBadRequest, protocol.ErrInvalidInput, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, protocol.ErrInternal, err.Error())
	}
}

func writeSyncError(w http.ResponseWriter, err error) {
	var (
		se *syncclient.ServerError
		ne *syncclient.NetworkError
	)
	switch {
	case errors.Is(err, syncclient.ErrNotConfigured):
		writeError(w, http.StatusConflict, protocol.ErrNotConfigured, err.Error())
	case errors.Is(err, syncclient.ErrNotRegistered):
		writeError(w, http.StatusConflict, protocol.ErrNotRegistered, err.Error())
	case errors.As(err, &se):
		code := se.Code
		if !protocol.IsKnownCode(code) {
			code = protocol.ErrUpstream
		}
		status := http.StatusBadGateway
		if se.Status >= 400 && se.Status < 500 {
			status = se.Status
		}
		writeError(w, status, code, err.Error())
	case errors.As(err, &ne):
		writeError(w, http.StatusBadGateway, protocol.ErrUpstream, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, protocol.ErrInternal, err.Error())
	}
}
