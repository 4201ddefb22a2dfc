package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"clickerclicker.app/internal/protocol"
)

// SQLiteIndex is a queryable read model of the profile store. The JSON profile files stay the
// source of truth; rows here may lag or be dropped under load.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	written atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

type req struct {
	op         string
	profile    protocol.PlayerProfile
	recordedAt string
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS profiles (
			player_id TEXT PRIMARY KEY,
			player_name TEXT NOT NULL,
			stage INTEGER NOT NULL,
			coins INTEGER NOT NULL,
			max_player_base_hp REAL NOT NULL,
			max_enemy_base_hp REAL NOT NULL,
			upgrades_json TEXT NOT NULL,
			last_update INTEGER NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_profiles_stage ON profiles(stage DESC, coins DESC);`,
		`CREATE TABLE IF NOT EXISTS syncs (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			player_id TEXT NOT NULL,
			op TEXT NOT NULL,
			stage INTEGER NOT NULL,
			coins INTEGER NOT NULL,
			last_update INTEGER NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_syncs_player ON syncs(player_id, seq);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// RecordProfile queues an upsert of p plus one history row tagged op. It never blocks.
func (s *SQLiteIndex) RecordProfile(p protocol.PlayerProfile, op string) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{op: op, profile: p, recordedAt: time.Now().UTC().Format(time.RFC3339Nano)}:
	default:
		s.dropped.Add(1)
	}
}

type Stats struct {
	Written       uint64
	Dropped       uint64
	Failed        uint64
	QueueDepth    int
	QueueCapacity int
}

func (s *SQLiteIndex) Stats() Stats {
	return Stats{
		Written:       s.written.Load(),
		Dropped:       s.dropped.Load(),
		Failed:        s.failed.Load(),
		QueueDepth:    len(s.ch),
		QueueCapacity: cap(s.ch),
	}
}

type Leader struct {
	PlayerID   string `json:"player_id"`
	PlayerName string `json:"player_name"`
	Stage      uint32 `json:"stage"`
	Coins      uint64 `json:"coins"`
	LastUpdate int64  `json:"last_update"`
}

// TopStages returns the n furthest players, ties broken by coins then name.
func (s *SQLiteIndex) TopStages(ctx context.Context, n int) ([]Leader, error) {
	if n <= 0 {
		n = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT player_id,player_name,stage,coins,last_update FROM profiles
		 ORDER BY stage DESC, coins DESC, player_name ASC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Leader
	for rows.Next() {
		var (
			l     Leader
			stage int64
			coins int64
		)
		if err := rows.Scan(&l.PlayerID, &l.PlayerName, &stage, &coins, &l.LastUpdate); err != nil {
			return nil, err
		}
		l.Stage = uint32(stage)
		l.Coins = uint64(coins)
		out = append(out, l)
	}
	return out, rows.Err()
}

// SyncCount returns how many history rows exist for id.
func (s *SQLiteIndex) SyncCount(ctx context.Context, id string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM syncs WHERE player_id=?`, id).Scan(&n)
	return n, err
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	upsertProfile, _ := s.db.Prepare(`INSERT INTO profiles(player_id,player_name,stage,coins,max_player_base_hp,max_enemy_base_hp,upgrades_json,last_update,updated_at)
		VALUES(?,?,?,?,?,?,?,?,?)
		ON CONFLICT(player_id) DO UPDATE SET
			player_name=excluded.player_name,
			stage=excluded.stage,
			coins=excluded.coins,
			max_player_base_hp=excluded.max_player_base_hp,
			max_enemy_base_hp=excluded.max_enemy_base_hp,
			upgrades_json=excluded.upgrades_json,
			last_update=excluded.last_update,
			updated_at=excluded.updated_at`)
	insertSync, _ := s.db.Prepare(`INSERT INTO syncs(player_id,op,stage,coins,last_update,recorded_at) VALUES(?,?,?,?,?,?)`)
	defer func() {
		if upsertProfile != nil {
			_ = upsertProfile.Close()
		}
		if insertSync != nil {
			_ = insertSync.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		pending       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		pending = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.failed.Add(uint64(pending))
		} else {
			s.written.Add(uint64(pending))
		}
		tx = nil
		opCount = 0
		pending = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		s.failed.Add(uint64(pending))
		tx = nil
		opCount = 0
		pending = 0
		lastCommit = time.Now()
	}

	// Commit once the queue is drained so readers sharing the single connection are not held off.
	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if len(s.ch) == 0 || opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	for r := range s.ch {
		begin()
		if tx == nil || upsertProfile == nil || insertSync == nil {
			s.failed.Add(1)
			continue
		}
		p := r.profile
		up, _ := json.Marshal(p.Progress.Upgrades)
		if _, err := tx.Stmt(upsertProfile).Exec(
			p.PlayerID,
			p.PlayerName,
			int64(p.Progress.Stage),
			int64(p.Progress.Coins),
			p.Progress.MaxPlayerBaseHP,
			p.Progress.MaxEnemyBaseHP,
			string(up),
			p.LastUpdate,
			r.recordedAt,
		); err != nil {
			s.failed.Add(1)
			rollback()
			continue
		}
		if _, err := tx.Stmt(insertSync).Exec(
			p.PlayerID,
			r.op,
			int64(p.Progress.Stage),
			int64(p.Progress.Coins),
			p.LastUpdate,
			r.recordedAt,
		); err != nil {
			s.failed.Add(1)
			rollback()
			continue
		}
		opCount += 2
		pending++
		flushIfNeeded()
	}

	commit()
}
