package indexdb

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"clickerclicker.app/internal/protocol"
)

func profile(id, name string, stage uint32, coins uint64, last int64) protocol.PlayerProfile {
	p := protocol.PlayerProfile{PlayerID: id, PlayerName: name, Progress: protocol.DefaultProgress(), LastUpdate: last}
	p.Progress.Stage = stage
	p.Progress.Coins = coins
	return p
}

func TestSQLiteIndex_UpsertsProfilesAndHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.sqlite")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	idx.RecordProfile(profile("a", "Ada", 1, 0, 10), "register")
	idx.RecordProfile(profile("a", "Ada", 5, 700, 20), "sync")
	idx.RecordProfile(profile("b", "Bob", 5, 900, 30), "register")
	idx.RecordProfile(profile("c", "Cy", 2, 50, 40), "register")
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if st := idx.Stats(); st.Written != 4 || st.Dropped != 0 || st.Failed != 0 {
		t.Fatalf("stats: %+v", st)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()

	var (
		stage int
		coins int64
		last  int64
	)
	if err := db.QueryRow(`SELECT stage,coins,last_update FROM profiles WHERE player_id='a'`).Scan(&stage, &coins, &last); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if stage != 5 || coins != 700 || last != 20 {
		t.Fatalf("profile row not upserted: stage=%d coins=%d last=%d", stage, coins, last)
	}
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM profiles`).Scan(&n); err != nil || n != 3 {
		t.Fatalf("profiles count=%d err=%v", n, err)
	}
	if err := db.QueryRow(`SELECT COUNT(*) FROM syncs WHERE player_id='a'`).Scan(&n); err != nil || n != 2 {
		t.Fatalf("history count=%d err=%v", n, err)
	}
}

func TestSQLiteIndex_TopStages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.sqlite")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	idx.RecordProfile(profile("a", "Ada", 5, 700, 1), "sync")
	idx.RecordProfile(profile("b", "Bob", 5, 900, 1), "sync")
	idx.RecordProfile(profile("c", "Cy", 9, 0, 1), "sync")
	idx.RecordProfile(profile("d", "Di", 1, 0, 1), "register")
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	idx, err = OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer idx.Close()
	top, err := idx.TopStages(context.Background(), 3)
	if err != nil {
		t.Fatalf("TopStages: %v", err)
	}
	if len(top) != 3 || top[0].PlayerID != "c" || top[1].PlayerID != "b" || top[2].PlayerID != "a" {
		t.Fatalf("unexpected order: %+v", top)
	}
	n, err := idx.SyncCount(context.Background(), "d")
	if err != nil || n != 1 {
		t.Fatalf("SyncCount=%d err=%v", n, err)
	}
}

func TestSQLiteIndex_QueueDrop(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{op: "register"}

	s.RecordProfile(profile("a", "Ada", 1, 0, 1), "sync")

	st := s.Stats()
	if st.Dropped != 1 {
		t.Fatalf("Dropped=%d want=1", st.Dropped)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}
