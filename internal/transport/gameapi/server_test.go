package gameapi

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"clickerclicker.app/internal/config"
	"clickerclicker.app/internal/profile"
	"clickerclicker.app/internal/protocol"
	"clickerclicker.app/internal/sim/engine"
	"clickerclicker.app/internal/syncclient"
	"clickerclicker.app/internal/transport/profileapi"
)

type fixture struct {
	eng     *engine.Engine
	input   *engine.Counter
	mp      *syncclient.Client
	cfg     *config.Holder
	cfgPath string
	h       http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		eng:     engine.New(nil, engine.Options{Seed: 7}),
		input:   &engine.Counter{},
		mp:      syncclient.New("", syncclient.Options{}),
		cfgPath: filepath.Join(t.TempDir(), "game.yaml"),
	}
	f.cfg = config.NewHolder(f.cfgPath, config.Defaults())
	f.h = NewServer(f.eng, f.input, f.mp, f.cfg, log.New(io.Discard, "", 0)).Handler()
	return f
}

func (f *fixture) giveCoins(t *testing.T, coins uint64) {
	t.Helper()
	p := f.eng.ExportProgress()
	p.Coins = coins
	if err := f.eng.ImportProgress(p); err != nil {
		t.Fatalf("import: %v", err)
	}
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, rd))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[protocol.ErrorBody](t, rec).Code
}

func TestState(t *testing.T) {
	f := newFixture(t)
	rec := do(t, f.h, http.MethodGet, "/v1/state", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	msg := decode[protocol.StateMsg](t, rec)
	if msg.Type != protocol.TypeState || msg.State.Stage != 1 || msg.State.MaxPlayerBaseHP != 1000 {
		t.Fatalf("unexpected state: %+v", msg)
	}
	if !strings.Contains(rec.Body.String(), `"player_units":[]`) {
		t.Fatalf("expected empty unit arrays, got %s", rec.Body.String())
	}
}

func TestPurchase(t *testing.T) {
	f := newFixture(t)

	rec := do(t, f.h, http.MethodPost, "/v1/upgrades", `{"upgrade_type":"attack","unit_type":"small"}`)
	if rec.Code != http.StatusConflict || errorCode(t, rec) != protocol.ErrInsufficientFunds {
		t.Fatalf("broke purchase: status=%d body=%s", rec.Code, rec.Body.String())
	}
	rec = do(t, f.h, http.MethodPost, "/v1/upgrades", `{"upgrade_type":"armor","unit_type":"small"}`)
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != protocol.ErrInvalidAxis {
		t.Fatalf("bad axis: status=%d body=%s", rec.Code, rec.Body.String())
	}
	rec = do(t, f.h, http.MethodPost, "/v1/upgrades", `{"upgrade_type":"attack","unit_type":"huge"}`)
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != protocol.ErrInvalidAxis {
		t.Fatalf("bad unit: status=%d body=%s", rec.Code, rec.Body.String())
	}

	f.giveCoins(t, 5000)
	rec = do(t, f.h, http.MethodPost, "/v1/upgrades", `{"upgrade_type":"attack","unit_type":"small"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("purchase: status=%d body=%s", rec.Code, rec.Body.String())
	}
	got := decode[purchaseResponse](t, rec)
	if got.Level != 10 || got.Coins != 2000 || got.Next != 18575 || got.Target != "attack/small" {
		t.Fatalf("unexpected purchase response: %+v", got)
	}

	rows := decode[[]upgradeRow](t, do(t, f.h, http.MethodGet, "/v1/upgrades", ""))
	if len(rows) != 11 {
		t.Fatalf("expected 11 upgrade rows, got %d", len(rows))
	}
	if rows[0].UpgradeType != "attack" || rows[0].UnitType != "small" || rows[0].Level != 10 || rows[0].Cost != 18575 {
		t.Fatalf("first row: %+v", rows[0])
	}
	if last := rows[10]; last.UpgradeType != "base_hp" || last.UnitType != "" || last.Cost != 3000 {
		t.Fatalf("last row: %+v", last)
	}
}

func TestAutoBuyLifecycle(t *testing.T) {
	f := newFixture(t)

	rec := do(t, f.h, http.MethodPost, "/v1/autobuy", `{"upgrade_type":"coin_rate","duration_seconds":0}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("zero duration: status=%d", rec.Code)
	}
	rec = do(t, f.h, http.MethodPost, "/v1/autobuy", `{"upgrade_type":"coin_rate","duration_seconds":30}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("no coins: status=%d", rec.Code)
	}

	f.giveCoins(t, 5000)
	rec = do(t, f.h, http.MethodPost, "/v1/autobuy", `{"upgrade_type":"coin_rate","duration_seconds":30}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("start: status=%d body=%s", rec.Code, rec.Body.String())
	}
	ab := decode[protocol.AutoBuyView](t, rec)
	if !ab.Enabled || ab.UpgradeType != "coin_rate" || ab.RemainingTime != 30 {
		t.Fatalf("unexpected auto-buy: %+v", ab)
	}
	if v := f.eng.View(); v.Coins != 0 {
		t.Fatalf("auto-buy price not charged: %d", v.Coins)
	}

	ab = decode[protocol.AutoBuyView](t, do(t, f.h, http.MethodDelete, "/v1/autobuy", ""))
	if ab.Enabled {
		t.Fatalf("expected disabled after delete")
	}
}

func TestInputAndReset(t *testing.T) {
	f := newFixture(t)
	if rec := do(t, f.h, http.MethodPost, "/v1/input", `{"clicks":3,"keys":2}`); rec.Code != http.StatusAccepted {
		t.Fatalf("input: status=%d", rec.Code)
	}
	if rec := do(t, f.h, http.MethodPost, "/v1/input", `{"clicks":-1}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("negative input: status=%d", rec.Code)
	}
	oversized := fmt.Sprintf(`{"clicks":%d}`, f.eng.Tuning().MaxInputPerBatch+1)
	if rec := do(t, f.h, http.MethodPost, "/v1/input", oversized); rec.Code != http.StatusBadRequest || errorCode(t, rec) != protocol.ErrInvalidInput {
		t.Fatalf("oversized input: status=%d body=%s", rec.Code, rec.Body.String())
	}
	clicks, keys := f.input.Drain()
	if clicks != 3 || keys != 2 {
		t.Fatalf("drained %d/%d", clicks, keys)
	}

	f.eng.Step(0.016, 2, 0)
	if len(f.eng.View().PlayerUnits) != 2 {
		t.Fatalf("expected spawned units")
	}
	if rec := do(t, f.h, http.MethodPost, "/v1/stage/reset", ""); rec.Code != http.StatusOK {
		t.Fatalf("reset: status=%d", rec.Code)
	}
	if len(f.eng.View().PlayerUnits) != 0 {
		t.Fatalf("reset should clear units")
	}
}

func TestMultiplayerFlow(t *testing.T) {
	f := newFixture(t)

	rec := do(t, f.h, http.MethodPost, "/v1/mp/register", `{"player_name":"Ada"}`)
	if rec.Code != http.StatusConflict || errorCode(t, rec) != protocol.ErrNotConfigured {
		t.Fatalf("unconfigured register: status=%d body=%s", rec.Code, rec.Body.String())
	}

	store, err := profile.Open(t.TempDir(), profile.Options{Clock: func() time.Time { return time.Unix(100, 0) }})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	remote := httptest.NewServer(profileapi.NewServer(store, profileapi.Options{}).Handler())
	defer remote.Close()

	if rec := do(t, f.h, http.MethodPut, "/v1/config", `{"multiplayer_server_url":"ftp://nope"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad url: status=%d", rec.Code)
	}
	if rec := do(t, f.h, http.MethodPut, "/v1/config", `{"multiplayer_server_url":"`+remote.URL+`"}`); rec.Code != http.StatusOK {
		t.Fatalf("set url: status=%d body=%s", rec.Code, rec.Body.String())
	}
	if f.mp.ServerURL() != remote.URL {
		t.Fatalf("client not re-targeted: %q", f.mp.ServerURL())
	}

	if rec := do(t, f.h, http.MethodPost, "/v1/mp/push", ""); rec.Code != http.StatusConflict || errorCode(t, rec) != protocol.ErrNotRegistered {
		t.Fatalf("push before register: status=%d body=%s", rec.Code, rec.Body.String())
	}

	rec = do(t, f.h, http.MethodPost, "/v1/mp/register", `{"player_name":"Ada"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("register: status=%d body=%s", rec.Code, rec.Body.String())
	}
	reg := decode[protocol.RegisterResponse](t, rec)
	saved, err := config.Load(f.cfgPath)
	if err != nil {
		t.Fatalf("load saved config: %v", err)
	}
	if saved.PlayerID != reg.PlayerID || saved.PlayerName != "Ada" || saved.MultiplayerServerURL != remote.URL {
		t.Fatalf("identity not saved: %+v", saved)
	}

	rec = do(t, f.h, http.MethodPost, "/v1/mp/push", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("push: status=%d body=%s", rec.Code, rec.Body.String())
	}
	rec = do(t, f.h, http.MethodPost, "/v1/mp/pull", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"applied":false`) {
		t.Fatalf("pull: status=%d body=%s", rec.Code, rec.Body.String())
	}

	list := decode[[]protocol.PlayerSummary](t, do(t, f.h, http.MethodGet, "/v1/mp/players", ""))
	if len(list) != 1 || list[0].PlayerID != reg.PlayerID {
		t.Fatalf("players: %+v", list)
	}
	st := decode[mpStatus](t, do(t, f.h, http.MethodGet, "/v1/mp/status", ""))
	if !st.Connected || st.LastUpdate == nil || *st.LastUpdate != 100 {
		t.Fatalf("status: %+v", st)
	}

	rec = do(t, f.h, http.MethodPost, "/v1/mp/register", `{"player_name":"  "}`)
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != protocol.ErrInvalidInput {
		t.Fatalf("blank remote name: status=%d body=%s", rec.Code, rec.Body.String())
	}

	// Turning sync off and back on keeps the identity.
	do(t, f.h, http.MethodPut, "/v1/config", `{"multiplayer_server_url":""}`)
	do(t, f.h, http.MethodPut, "/v1/config", `{"multiplayer_server_url":"`+remote.URL+`"}`)
	if st := decode[mpStatus](t, do(t, f.h, http.MethodGet, "/v1/mp/status", "")); st.PlayerID != reg.PlayerID {
		t.Fatalf("identity lost on toggle: %+v", st)
	}

	// A different server does not know this player.
	other := httptest.NewServer(profileapi.NewServer(store, profileapi.Options{}).Handler())
	defer other.Close()
	if rec := do(t, f.h, http.MethodPut, "/v1/config", `{"multiplayer_server_url":"`+other.URL+`"}`); rec.Code != http.StatusOK {
		t.Fatalf("switch server: status=%d body=%s", rec.Code, rec.Body.String())
	}
	st = decode[mpStatus](t, do(t, f.h, http.MethodGet, "/v1/mp/status", ""))
	if st.PlayerID != "" || st.LastUpdate != nil || st.ServerURL != other.URL {
		t.Fatalf("stale identity after server switch: %+v", st)
	}
	saved, err = config.Load(f.cfgPath)
	if err != nil {
		t.Fatalf("load saved config: %v", err)
	}
	if saved.PlayerID != "" || saved.PlayerName != "" || saved.MultiplayerServerURL != other.URL {
		t.Fatalf("stale identity saved after server switch: %+v", saved)
	}
	if rec := do(t, f.h, http.MethodPost, "/v1/mp/push", ""); rec.Code != http.StatusConflict || errorCode(t, rec) != protocol.ErrNotRegistered {
		t.Fatalf("push after server switch: status=%d body=%s", rec.Code, rec.Body.String())
	}
}

func TestMetricsAndHealthz(t *testing.T) {
	f := newFixture(t)
	f.eng.Step(0.016, 0, 0)
	rec := do(t, f.h, http.MethodGet, "/metrics", "")
	body := rec.Body.String()
	if !strings.Contains(body, "clickerclicker_ticks_total 1\n") || !strings.Contains(body, "clickerclicker_stage 1\n") {
		t.Fatalf("metrics:\n%s", body)
	}
	if rec := do(t, f.h, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz: %d %q", rec.Code, rec.Body.String())
	}
}
