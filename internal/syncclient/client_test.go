package syncclient_test

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	plog "clickerclicker.app/internal/persistence/log"
	"clickerclicker.app/internal/profile"
	"clickerclicker.app/internal/protocol"
	"clickerclicker.app/internal/sim/engine"
	"clickerclicker.app/internal/syncclient"
	"clickerclicker.app/internal/transport/profileapi"
)

type clock struct {
	mu  sync.Mutex
	now int64
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Unix(c.now, 0)
}

func (c *clock) Set(v int64) {
	c.mu.Lock()
	c.now = v
	c.mu.Unlock()
}

func newProfileServer(t *testing.T, clk *clock) *httptest.Server {
	t.Helper()
	store, err := profile.Open(t.TempDir(), profile.Options{Logger: log.New(io.Discard, "", 0), Clock: clk.Now})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	srv := httptest.NewServer(profileapi.NewServer(store, profileapi.Options{Logger: log.New(io.Discard, "", 0)}).Handler())
	t.Cleanup(srv.Close)
	return srv
}

type memSink struct {
	applied []protocol.PlayerProgress
}

func (m *memSink) ImportProgress(p protocol.PlayerProgress) error {
	m.applied = append(m.applied, p)
	return nil
}

// slowSink holds each import long enough for overlapping pulls to race.
type slowSink struct {
	mu      sync.Mutex
	applied int
}

func (s *slowSink) ImportProgress(protocol.PlayerProgress) error {
	time.Sleep(20 * time.Millisecond)
	s.mu.Lock()
	s.applied++
	s.mu.Unlock()
	return nil
}

func (s *slowSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applied
}

type fixedSource protocol.PlayerProgress

func (f fixedSource) ExportProgress() protocol.PlayerProgress { return protocol.PlayerProgress(f) }

type memJournal struct {
	entries []plog.SyncEntry
}

func (j *memJournal) WriteSync(e plog.SyncEntry) error {
	j.entries = append(j.entries, e)
	return nil
}

func TestRegisterTwice_SameIDAndWelcomeBack(t *testing.T) {
	srv := newProfileServer(t, &clock{now: 1000})
	c := syncclient.New(srv.URL+"/", syncclient.Options{})
	ctx := context.Background()

	first, err := c.Register(ctx, "Ada", nil)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if first.Message != protocol.MessageAccountCreated {
		t.Fatalf("message: %q", first.Message)
	}
	second, err := c.Register(ctx, "ADA", nil)
	if err != nil {
		t.Fatalf("register again: %v", err)
	}
	if second.PlayerID != first.PlayerID || second.Message != protocol.MessageWelcomeBack {
		t.Fatalf("unexpected second registration: %+v", second)
	}
	id, name, ok := c.Identity()
	if !ok || id != first.PlayerID || name != "Ada" {
		t.Fatalf("identity: %q %q %v", id, name, ok)
	}
	if !c.IsConnected() {
		t.Fatalf("expected connected")
	}
}

func TestPull_AppliesOnlyNewerAndIsIdempotent(t *testing.T) {
	clk := &clock{now: 1000}
	srv := newProfileServer(t, clk)
	ctx := context.Background()

	// Device A registers and pushes.
	a := syncclient.New(srv.URL, syncclient.Options{})
	if _, err := a.Register(ctx, "Ada", nil); err != nil {
		t.Fatalf("register a: %v", err)
	}
	clk.Set(2000)
	pushed := protocol.PlayerProgress{Stage: 6, Coins: 4242, MaxPlayerBaseHP: 1100, MaxEnemyBaseHP: 1750}
	prof, err := a.Push(ctx, fixedSource(pushed))
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if prof.LastUpdate != 2000 || prof.Progress != pushed {
		t.Fatalf("unexpected push result: %+v", prof)
	}

	// Device B restores the identity without a last-seen value.
	id, name, _ := a.Identity()
	b := syncclient.New(srv.URL, syncclient.Options{})
	b.Restore(id, name)
	sink := &memSink{}
	applied, err := b.Pull(ctx, sink)
	if err != nil || !applied {
		t.Fatalf("first pull: applied=%v err=%v", applied, err)
	}
	applied, err = b.Pull(ctx, sink)
	if err != nil || applied {
		t.Fatalf("second pull should be a no-op: applied=%v err=%v", applied, err)
	}
	if len(sink.applied) != 1 || sink.applied[0] != pushed {
		t.Fatalf("sink: %+v", sink.applied)
	}

	// Device A saw its own push, so pulling the same state is stale.
	applied, err = a.Pull(ctx, sink)
	if err != nil || applied {
		t.Fatalf("pull after own push: applied=%v err=%v", applied, err)
	}

	// A newer remote write is accepted once.
	clk.Set(3000)
	if _, err := b.Push(ctx, fixedSource(protocol.PlayerProgress{Stage: 7, MaxPlayerBaseHP: 1000, MaxEnemyBaseHP: 2000})); err != nil {
		t.Fatalf("push b: %v", err)
	}
	applied, err = a.Pull(ctx, sink)
	if err != nil || !applied {
		t.Fatalf("pull newer: applied=%v err=%v", applied, err)
	}
	if last, ok := a.LastSeen(); !ok || last != 3000 {
		t.Fatalf("last seen: %d %v", last, ok)
	}
}

func TestPull_EqualTimestampIsStale(t *testing.T) {
	srv := newProfileServer(t, &clock{now: 500})
	c := syncclient.New(srv.URL, syncclient.Options{})
	ctx := context.Background()
	if _, err := c.Register(ctx, "Ada", nil); err != nil {
		t.Fatalf("register: %v", err)
	}
	applied, err := c.Pull(ctx, &memSink{})
	if err != nil || applied {
		t.Fatalf("equal timestamp should be stale: applied=%v err=%v", applied, err)
	}
}

func TestPull_ConcurrentAppliesOnce(t *testing.T) {
	clk := &clock{now: 100}
	srv := newProfileServer(t, clk)
	ctx := context.Background()

	a := syncclient.New(srv.URL, syncclient.Options{})
	if _, err := a.Register(ctx, "Ada", nil); err != nil {
		t.Fatalf("register: %v", err)
	}
	id, name, _ := a.Identity()
	b := syncclient.New(srv.URL, syncclient.Options{})
	b.Restore(id, name)

	sink := &slowSink{}
	var wg sync.WaitGroup
	results := make([]bool, 2)
	errs := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = b.Pull(ctx, sink)
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("pull %d: %v", i, err)
		}
	}
	if got := sink.count(); got != 1 {
		t.Fatalf("imports=%d want 1", got)
	}
	if results[0] == results[1] {
		t.Fatalf("exactly one pull should apply: %v", results)
	}
	if last, ok := b.LastSeen(); !ok || last != 100 {
		t.Fatalf("last seen: %d %v", last, ok)
	}
}

func TestSetServerURL_ForgetsIdentityOfOtherServer(t *testing.T) {
	srv := newProfileServer(t, &clock{now: 100})
	other := newProfileServer(t, &clock{now: 100})
	c := syncclient.New(srv.URL, syncclient.Options{})
	if _, err := c.Register(context.Background(), "Ada", nil); err != nil {
		t.Fatalf("register: %v", err)
	}

	if c.SetServerURL("") {
		t.Fatalf("disabling sync should keep the identity")
	}
	if c.SetServerURL(srv.URL + "/") {
		t.Fatalf("returning to the same server should keep the identity")
	}
	if _, _, ok := c.Identity(); !ok {
		t.Fatalf("identity lost")
	}

	if !c.SetServerURL(other.URL) {
		t.Fatalf("switching servers should forget the identity")
	}
	if _, _, ok := c.Identity(); ok {
		t.Fatalf("identity kept after switching servers")
	}
	if _, ok := c.LastSeen(); ok {
		t.Fatalf("last seen kept after switching servers")
	}
	if c.SetServerURL(srv.URL) {
		t.Fatalf("nothing left to forget")
	}
}

func TestErrors_NotConfiguredAndNotRegistered(t *testing.T) {
	ctx := context.Background()
	c := syncclient.New("", syncclient.Options{})
	if _, err := c.Register(ctx, "Ada", nil); !errors.Is(err, syncclient.ErrNotConfigured) {
		t.Fatalf("register: %v", err)
	}
	if _, err := c.List(ctx); !errors.Is(err, syncclient.ErrNotConfigured) {
		t.Fatalf("list: %v", err)
	}
	if _, err := c.Health(ctx); !errors.Is(err, syncclient.ErrNotConfigured) {
		t.Fatalf("health: %v", err)
	}
	if _, err := c.Push(ctx, fixedSource(protocol.DefaultProgress())); !errors.Is(err, syncclient.ErrNotRegistered) {
		t.Fatalf("push: %v", err)
	}
	if _, err := c.Pull(ctx, &memSink{}); !errors.Is(err, syncclient.ErrNotRegistered) {
		t.Fatalf("pull: %v", err)
	}
	c.Restore("id", "Ada")
	if _, err := c.Push(ctx, fixedSource(protocol.DefaultProgress())); !errors.Is(err, syncclient.ErrNotConfigured) {
		t.Fatalf("push without url: %v", err)
	}
	if c.IsConnected() {
		t.Fatalf("not connected without url")
	}
}

func TestErrors_ServerAndNetwork(t *testing.T) {
	srv := newProfileServer(t, &clock{now: 1})
	ctx := context.Background()

	c := syncclient.New(srv.URL, syncclient.Options{})
	c.Restore("does-not-exist", "Ghost")
	_, err := c.Pull(ctx, &memSink{})
	var se *syncclient.ServerError
	if !errors.As(err, &se) || se.Status != http.StatusNotFound || se.Code != protocol.ErrNotFound {
		t.Fatalf("expected 404 ServerError, got %v", err)
	}

	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()
	c.SetServerURL(deadURL)
	_, err = c.Health(ctx)
	var ne *syncclient.NetworkError
	if !errors.As(err, &ne) {
		t.Fatalf("expected NetworkError, got %v", err)
	}

	garbled := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>"))
	}))
	defer garbled.Close()
	c.SetServerURL(garbled.URL)
	if _, err := c.Health(ctx); !errors.As(err, &ne) {
		t.Fatalf("expected NetworkError on bad body, got %v", err)
	}
}

func TestListAndHealth(t *testing.T) {
	srv := newProfileServer(t, &clock{now: 1})
	ctx := context.Background()
	c := syncclient.New(srv.URL, syncclient.Options{})
	if _, err := c.Register(ctx, "Ada", nil); err != nil {
		t.Fatalf("register: %v", err)
	}
	list, err := c.List(ctx)
	if err != nil || len(list) != 1 || list[0].PlayerName != "Ada" {
		t.Fatalf("list=%+v err=%v", list, err)
	}
	h, err := c.Health(ctx)
	if err != nil || h.Status != "ok" || h.PlayerCount != 1 {
		t.Fatalf("health=%+v err=%v", h, err)
	}
}

func TestRegister_ImportsIntoEngineWithHookAndJournal(t *testing.T) {
	srv := newProfileServer(t, &clock{now: 10})
	ctx := context.Background()

	var hooked []string
	j := &memJournal{}
	c := syncclient.New(srv.URL, syncclient.Options{
		Journal: j,
		BeforeImport: func(reason string, remote protocol.PlayerProfile) error {
			hooked = append(hooked, reason)
			return nil
		},
	})
	e := engine.New(nil, engine.Options{Seed: 1})
	if err := e.ImportProgress(protocol.PlayerProgress{Stage: 9, Coins: 77, MaxPlayerBaseHP: 1000, MaxEnemyBaseHP: 4500}); err != nil {
		t.Fatalf("seed engine: %v", err)
	}

	if _, err := c.Register(ctx, "Ada", e); err != nil {
		t.Fatalf("register: %v", err)
	}
	if got := e.ExportProgress(); got != protocol.DefaultProgress() {
		t.Fatalf("engine should carry the registered profile progress, got %+v", got)
	}
	if len(hooked) != 1 || hooked[0] != "register" {
		t.Fatalf("hook calls: %v", hooked)
	}

	if _, err := c.Push(ctx, e); err != nil {
		t.Fatalf("push: %v", err)
	}
	if len(j.entries) != 2 || j.entries[0].Op != "register" || !j.entries[0].Applied || j.entries[1].Op != "push" {
		t.Fatalf("journal: %+v", j.entries)
	}
}

func TestBeforeImportErrorAbortsPull(t *testing.T) {
	srv := newProfileServer(t, &clock{now: 10})
	ctx := context.Background()
	a := syncclient.New(srv.URL, syncclient.Options{})
	if _, err := a.Register(ctx, "Ada", nil); err != nil {
		t.Fatalf("register: %v", err)
	}
	id, name, _ := a.Identity()

	boom := errors.New("disk full")
	b := syncclient.New(srv.URL, syncclient.Options{
		BeforeImport: func(string, protocol.PlayerProfile) error { return boom },
	})
	b.Restore(id, name)
	sink := &memSink{}
	if _, err := b.Pull(ctx, sink); !errors.Is(err, boom) {
		t.Fatalf("expected hook error, got %v", err)
	}
	if len(sink.applied) != 0 {
		t.Fatalf("nothing should be applied")
	}
	if _, ok := b.LastSeen(); ok {
		t.Fatalf("failed import must not advance last seen")
	}
}
