package engine

import (
	"errors"
	"log"
	"math/rand"
	"sync"
	"time"

	"clickerclicker.app/internal/persistence/snapshot"
	"clickerclicker.app/internal/protocol"
	"clickerclicker.app/internal/sim/economy"
	"clickerclicker.app/internal/sim/tuning"
)

var (
	ErrInvalidDuration = errors.New("auto-buy duration must be > 0")
	ErrInvalidProgress = errors.New("invalid progress")
)

// Persister takes ownership of a snapshot copy. Persist must not block on disk I/O.
type Persister interface {
	Persist(snapshot.StateV1)
}

type Options struct {
	Tuning    tuning.Tuning
	Persister Persister
	Events    EventSink
	Logger    *log.Logger
	// Seed drives enemy composition and knockback; 0 picks a time-based seed.
	Seed  int64
	Clock func() time.Time
}

type Engine struct {
	tun    tuning.Tuning
	rules  economy.Rules
	logger *log.Logger

	persister Persister
	events    EventSink
	clock     func() time.Time

	mu  sync.Mutex
	st  *GameState
	rng *rand.Rand

	tick          uint64
	saveRequested bool
	pendingEvents []Event
	sink          chan protocol.StateMsg

	stats counters
}

type counters struct {
	kills       uint64
	stageClears uint64
	defeats     uint64
	purchases   uint64
	saves       uint64
	lastStep    time.Duration
}

// New wraps an existing state. A nil st starts a fresh battle.
func New(st *GameState, opts Options) *Engine {
	if opts.Tuning.TickRateHz == 0 {
		opts.Tuning = tuning.Defaults()
	}
	if st == nil {
		st = Fresh(opts.Tuning)
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Engine{
		tun:       opts.Tuning,
		rules:     economy.RulesFrom(opts.Tuning),
		logger:    opts.Logger,
		persister: opts.Persister,
		events:    opts.Events,
		clock:     opts.Clock,
		st:        st,
		rng:       rand.New(rand.NewSource(seed)),
	}
}

// Open loads the snapshot at path, or starts fresh and persists immediately when it cannot be
// read. loaded reports which one happened.
func Open(path string, opts Options) (e *Engine, loaded bool) {
	snap, err := snapshot.ReadState(path)
	if err == nil {
		e = New(stateFromSnapshot(snap), opts)
		e.logf("loaded snapshot %s (stage=%d coins=%d units=%d/%d)", path, snap.Stage, snap.Coins, len(snap.PlayerUnits), len(snap.EnemyUnits))
		return e, true
	}
	e = New(nil, opts)
	e.logf("snapshot %s unavailable (%v); starting fresh", path, err)
	e.mutate(func(*GameState) error {
		e.emitLocked(EventFreshState, map[string]any{"reason": err.Error()})
		e.requestSaveLocked()
		return nil
	})
	return e, false
}

func (e *Engine) Tuning() tuning.Tuning { return e.tun }
func (e *Engine) Rules() economy.Rules   { return e.rules }

// SetUpdateSink receives a STATE message after every tick. Slow readers only see the latest one.
func (e *Engine) SetUpdateSink(ch chan protocol.StateMsg) {
	e.mu.Lock()
	e.sink = ch
	e.mu.Unlock()
}

// Save queues a full snapshot now.
func (e *Engine) Save() {
	e.mutate(func(*GameState) error {
		e.requestSaveLocked()
		return nil
	})
}

// mutate runs fn under the lock and performs the resulting persistence and event I/O after
// releasing it.
func (e *Engine) mutate(fn func(st *GameState) error) error {
	e.mu.Lock()
	err := fn(e.st)
	snap, save, events := e.takeOutputsLocked()
	e.mu.Unlock()
	e.flush(snap, save, events)
	return err
}

func (e *Engine) requestSaveLocked() { e.saveRequested = true }

func (e *Engine) takeOutputsLocked() (snapshot.StateV1, bool, []Event) {
	var snap snapshot.StateV1
	save := e.saveRequested && e.persister != nil
	if save {
		snap = e.st.toSnapshot()
		e.stats.saves++
	}
	e.saveRequested = false
	events := e.pendingEvents
	e.pendingEvents = nil
	return snap, save, events
}

func (e *Engine) flush(snap snapshot.StateV1, save bool, events []Event) {
	if save {
		e.persister.Persist(snap)
	}
	for _, ev := range events {
		if err := e.events.WriteEvent(ev); err != nil {
			e.logf("event log write failed: %v", err)
		}
	}
}

func (e *Engine) logf(format string, args ...any) {
	if e.logger != nil {
		e.logger.Printf(format, args...)
	}
}

type Metrics struct {
	Ticks        uint64
	LastStep     time.Duration
	Stage        uint32
	Coins        uint64
	PlayerUnits  int
	EnemyUnits   int
	Kills        uint64
	StageClears  uint64
	Defeats      uint64
	Purchases    uint64
	SaveRequests uint64
}

func (e *Engine) Metrics() Metrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Metrics{
		Ticks:        e.tick,
		LastStep:     e.stats.lastStep,
		Stage:        e.st.Stage,
		Coins:        e.st.Coins,
		PlayerUnits:  len(e.st.PlayerUnits),
		EnemyUnits:   len(e.st.EnemyUnits),
		Kills:        e.stats.kills,
		StageClears:  e.stats.stageClears,
		Defeats:      e.stats.defeats,
		Purchases:    e.stats.purchases,
		SaveRequests: e.stats.saves,
	}
}
