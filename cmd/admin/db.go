package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"clickerclicker.app/internal/persistence/indexdb"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dir := fs.String("profiles", "./profiles", "profile store directory")
	dbPath := fs.String("db", "", "sqlite db path (optional; defaults to <profiles>/index/profiles.sqlite)")
	limit := fs.Int("limit", 20, "result limit")
	playerID := fs.String("player", "", "player id (history)")
	_ = fs.Parse(args)

	q := "top"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dir, "index", "profiles.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	if *limit <= 0 {
		*limit = 20
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch q {
	case "top":
		idx, err := indexdb.OpenSQLite(path)
		if err != nil {
			fmt.Fprintln(os.Stderr, "open:", err)
			os.Exit(1)
		}
		defer idx.Close()
		leaders, err := idx.TopStages(ctx, *limit)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		for i, l := range leaders {
			fmt.Printf("%3d. %-24s stage=%-6d coins=%-12d last_update=%d\n", i+1, l.PlayerName, l.Stage, l.Coins, l.LastUpdate)
		}
	case "history":
		if strings.TrimSpace(*playerID) == "" {
			fmt.Fprintln(os.Stderr, "missing -player")
			os.Exit(2)
		}
		db, err := sql.Open("sqlite", path)
		if err != nil {
			fmt.Fprintln(os.Stderr, "open:", err)
			os.Exit(1)
		}
		defer db.Close()
		rows, err := db.QueryContext(ctx,
			`SELECT seq,op,stage,coins,last_update,recorded_at FROM syncs WHERE player_id=? ORDER BY seq DESC LIMIT ?`,
			*playerID, *limit)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		var r struct {
			Seq        int64  `json:"seq"`
			Op         string `json:"op"`
			Stage      int64  `json:"stage"`
			Coins      int64  `json:"coins"`
			LastUpdate int64  `json:"last_update"`
			RecordedAt string `json:"recorded_at"`
		}
		for rows.Next() {
			if err := rows.Scan(&r.Seq, &r.Op, &r.Stage, &r.Coins, &r.LastUpdate, &r.RecordedAt); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "rows:", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintln(os.Stderr, "unknown db query:", q, "(want top|history)")
		os.Exit(2)
	}
}
