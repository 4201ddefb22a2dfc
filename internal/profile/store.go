package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"clickerclicker.app/internal/protocol"
)

var (
	ErrNotFound     = errors.New("player not found")
	ErrInvalidInput = errors.New("invalid input")
)

// Recorder mirrors store changes into a secondary read model. Calls happen outside the store lock.
type Recorder interface {
	RecordProfile(p protocol.PlayerProfile, op string)
}

type Options struct {
	Logger   *log.Logger
	Recorder Recorder
	Clock    func() time.Time
}

// Store keeps every player profile in memory and mirrors each one to <dir>/<id>.json.
type Store struct {
	dir      string
	logger   *log.Logger
	recorder Recorder
	clock    func() time.Time

	mu      sync.Mutex
	players map[string]protocol.PlayerProfile
	names   map[string]string // normalized name -> id

	// wmu orders file writes so the newest in-memory copy lands last.
	wmu sync.Mutex

	registrations atomic.Uint64
	created       atomic.Uint64
	syncs         atomic.Uint64
	writeFailures atomic.Uint64
}

// Open creates dir if needed and rehydrates the store from the profile files in it. Files that do
// not parse or do not match the profile schema are skipped.
func Open(dir string, opts Options) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	s := &Store{
		dir:      dir,
		logger:   opts.Logger,
		recorder: opts.Recorder,
		clock:    opts.Clock,
		players:  map[string]protocol.PlayerProfile{},
		names:    map[string]string{},
	}
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	for _, p := range paths {
		prof, err := readProfile(p)
		if err != nil {
			s.logf("skip profile %s: %v", filepath.Base(p), err)
			continue
		}
		key := nameKey(prof.PlayerName)
		if other, ok := s.names[key]; ok {
			s.logf("skip profile %s: name %q already taken by %s", filepath.Base(p), prof.PlayerName, other)
			continue
		}
		s.players[prof.PlayerID] = prof
		s.names[key] = prof.PlayerID
	}
	s.logf("loaded %d profiles from %s", len(s.players), dir)
	return s, nil
}

func readProfile(path string) (protocol.PlayerProfile, error) {
	var prof protocol.PlayerProfile
	b, err := os.ReadFile(path)
	if err != nil {
		return prof, err
	}
	if err := protocol.ValidateJSON(protocol.SchemaProfile, b); err != nil {
		return prof, err
	}
	if err := json.Unmarshal(b, &prof); err != nil {
		return prof, err
	}
	return prof, nil
}

func nameKey(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

// Register returns the profile already holding name (case-insensitive), or creates one with
// default progress. created reports which.
func (s *Store) Register(name string) (prof protocol.PlayerProfile, created bool, err error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return prof, false, fmt.Errorf("%w: player_name must not be empty", ErrInvalidInput)
	}
	s.registrations.Add(1)

	s.mu.Lock()
	if id, ok := s.names[nameKey(name)]; ok {
		prof = s.players[id]
		s.mu.Unlock()
		return prof, false, nil
	}
	prof = protocol.PlayerProfile{
		PlayerID:   uuid.NewString(),
		PlayerName: name,
		Progress:   protocol.DefaultProgress(),
		LastUpdate: s.now().Unix(),
	}
	s.players[prof.PlayerID] = prof
	s.names[nameKey(name)] = prof.PlayerID
	s.mu.Unlock()

	s.created.Add(1)
	s.persist(prof.PlayerID)
	s.record(prof, "register")
	return prof, true, nil
}

func (s *Store) Get(id string) (protocol.PlayerProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prof, ok := s.players[id]
	if !ok {
		return prof, ErrNotFound
	}
	return prof, nil
}

// List returns summaries ordered by name, then id.
func (s *Store) List() []protocol.PlayerSummary {
	s.mu.Lock()
	out := make([]protocol.PlayerSummary, 0, len(s.players))
	for _, p := range s.players {
		out = append(out, protocol.PlayerSummary{
			PlayerID:   p.PlayerID,
			PlayerName: p.PlayerName,
			Stage:      p.Progress.Stage,
			LastUpdate: p.LastUpdate,
		})
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].PlayerName != out[j].PlayerName {
			return out[i].PlayerName < out[j].PlayerName
		}
		return out[i].PlayerID < out[j].PlayerID
	})
	return out
}

func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.players)
}

// Sync replaces the stored progress of id and stamps it with the current time.
func (s *Store) Sync(id string, progress protocol.PlayerProgress) (protocol.PlayerProfile, error) {
	s.mu.Lock()
	prof, ok := s.players[id]
	if !ok {
		s.mu.Unlock()
		return prof, ErrNotFound
	}
	prof.Progress = progress
	prof.LastUpdate = s.now().Unix()
	s.players[id] = prof
	s.mu.Unlock()

	s.syncs.Add(1)
	s.persist(id)
	s.record(prof, "sync")
	return prof, nil
}

type Stats struct {
	Players       int
	Registrations uint64
	Created       uint64
	Syncs         uint64
	WriteFailures uint64
}

func (s *Store) Stats() Stats {
	return Stats{
		Players:       s.Count(),
		Registrations: s.registrations.Load(),
		Created:       s.created.Load(),
		Syncs:         s.syncs.Load(),
		WriteFailures: s.writeFailures.Load(),
	}
}

// persist writes the current copy of id. Failures are logged; the in-memory state stays
// authoritative.
func (s *Store) persist(id string) {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	s.mu.Lock()
	prof, ok := s.players[id]
	s.mu.Unlock()
	if !ok {
		return
	}
	b, err := json.MarshalIndent(prof, "", "  ")
	if err == nil {
		err = writeFileAtomic(filepath.Join(s.dir, id+".json"), b)
	}
	if err != nil {
		s.writeFailures.Add(1)
		s.logf("profile write failed: %v", err)
	}
}

func (s *Store) record(prof protocol.PlayerProfile, op string) {
	if s.recorder != nil {
		s.recorder.RecordProfile(prof, op)
	}
}

func (s *Store) now() time.Time {
	if s.clock != nil {
		return s.clock()
	}
	return time.Now()
}

func (s *Store) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

func writeFileAtomic(path string, b []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
