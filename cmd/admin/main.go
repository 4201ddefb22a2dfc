package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"clickerclicker.app/internal/persistence/archive"
	plog "clickerclicker.app/internal/persistence/log"
	"clickerclicker.app/internal/persistence/snapshot"
	"clickerclicker.app/internal/protocol"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	args := os.Args[2:]
	switch os.Args[1] {
	case "state":
		stateCmd(args)
	case "events":
		eventsCmd(args)
	case "profiles":
		profilesCmd(args)
	case "archives":
		archivesCmd(args)
	case "db":
		dbCmd(args)
	case "live":
		liveCmd(args)
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: admin <state|events|profiles|archives|db|live> [flags]")
}

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	path := fs.String("file", "data/game_state.json", "snapshot path (.json or .json.zst)")
	full := fs.Bool("full", false, "print the whole snapshot instead of a summary")
	_ = fs.Parse(args)

	st, err := snapshot.ReadState(*path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	if *full {
		printJSON(st)
		return
	}
	printJSON(struct {
		SavedAt      int64   `json:"saved_at"`
		Stage        uint32  `json:"stage"`
		Coins        uint64  `json:"coins"`
		PlayerBaseHP float64 `json:"player_base_hp"`
		EnemyBaseHP  float64 `json:"enemy_base_hp"`
		PlayerUnits  int     `json:"player_units"`
		EnemyUnits   int     `json:"enemy_units"`
		Clicks       uint64  `json:"click_count"`
		Keys         uint64  `json:"type_count"`
		AutoBuy      bool    `json:"auto_buy"`
	}{
		SavedAt:      st.Header.SavedAt,
		Stage:        st.Stage,
		Coins:        st.Coins,
		PlayerBaseHP: st.PlayerBaseHP,
		EnemyBaseHP:  st.EnemyBaseHP,
		PlayerUnits:  len(st.PlayerUnits),
		EnemyUnits:   len(st.EnemyUnits),
		Clicks:       st.ClickCount,
		Keys:         st.TypeCount,
		AutoBuy:      st.AutoBuy.Enabled,
	})
}

func eventsCmd(args []string) {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	kind := fs.String("kind", "events", "log to dump: events|sync")
	typ := fs.String("type", "", "only lines whose type field matches (events only)")
	_ = fs.Parse(args)

	prefix := strings.TrimSpace(*kind)
	if prefix != "events" && prefix != "sync" {
		fmt.Fprintln(os.Stderr, "bad -kind:", prefix)
		os.Exit(2)
	}
	files, err := plog.Files(filepath.Join(*dataDir, prefix), prefix)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list:", err)
		os.Exit(1)
	}
	for _, f := range files {
		err := plog.ReadJSONL(f, func(line json.RawMessage) error {
			if *typ != "" {
				var head struct {
					Type string `json:"type"`
				}
				if json.Unmarshal(line, &head) != nil || head.Type != *typ {
					return nil
				}
			}
			fmt.Println(string(line))
			return nil
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", filepath.Base(f), err)
		}
	}
}

func profilesCmd(args []string) {
	fs := flag.NewFlagSet("profiles", flag.ExitOnError)
	dir := fs.String("dir", "./profiles", "profile store directory")
	_ = fs.Parse(args)

	paths, err := filepath.Glob(filepath.Join(*dir, "*.json"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "list:", err)
		os.Exit(1)
	}
	out := make([]protocol.PlayerSummary, 0, len(paths))
	for _, p := range paths {
		b, err := os.ReadFile(p)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", filepath.Base(p), err)
			continue
		}
		var prof protocol.PlayerProfile
		if err := json.Unmarshal(b, &prof); err != nil || prof.PlayerID == "" {
			fmt.Fprintf(os.Stderr, "%s: not a profile\n", filepath.Base(p))
			continue
		}
		out = append(out, protocol.PlayerSummary{
			PlayerID:   prof.PlayerID,
			PlayerName: prof.PlayerName,
			Stage:      prof.Progress.Stage,
			LastUpdate: prof.LastUpdate,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Stage != out[j].Stage {
			return out[i].Stage > out[j].Stage
		}
		return out[i].PlayerName < out[j].PlayerName
	})
	printJSON(out)
}

func archivesCmd(args []string) {
	fs := flag.NewFlagSet("archives", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	metas, err := archive.List(*dataDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list:", err)
		os.Exit(1)
	}
	if len(metas) == 0 {
		fmt.Println("no import archives")
		return
	}
	printJSON(metas)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
