package archive

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"clickerclicker.app/internal/persistence/snapshot"
)

type ImportArchiveMeta struct {
	CreatedAt    string `json:"created_at"`
	Reason       string `json:"reason"`
	Snapshot     string `json:"snapshot"`
	LocalStage   uint32 `json:"local_stage"`
	LocalCoins   uint64 `json:"local_coins"`
	RemoteID     string `json:"remote_player_id,omitempty"`
	RemoteStage  uint32 `json:"remote_stage"`
	RemoteUpdate int64  `json:"remote_last_update"`
}

// Remote describes the progress that is about to replace the local one.
type Remote struct {
	PlayerID   string
	Stage      uint32
	LastUpdate int64
}

// ArchiveBeforeImport writes st into `dataDir/archives/import_<unix>/` next to a meta.json so
// an unwanted remote overwrite can be rolled back by copying the file back by hand.
func ArchiveBeforeImport(dataDir string, st snapshot.StateV1, reason string, remote Remote, now time.Time) (archivedPath string, err error) {
	dir := filepath.Join(dataDir, "archives", fmt.Sprintf("import_%d", now.Unix()))
	for i := 1; ; i++ {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			break
		}
		dir = filepath.Join(dataDir, "archives", fmt.Sprintf("import_%d_%d", now.Unix(), i))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	dst := filepath.Join(dir, "game_state.json")
	if st.Header.SavedAt == 0 {
		st.Header.SavedAt = now.Unix()
	}
	if err := snapshot.WriteState(dst, st); err != nil {
		return "", err
	}

	meta := ImportArchiveMeta{
		CreatedAt:    now.UTC().Format(time.RFC3339Nano),
		Reason:       reason,
		Snapshot:     filepath.Base(dst),
		LocalStage:   st.Stage,
		LocalCoins:   st.Coins,
		RemoteID:     remote.PlayerID,
		RemoteStage:  remote.Stage,
		RemoteUpdate: remote.LastUpdate,
	}
	if b, err := json.MarshalIndent(meta, "", "  "); err == nil {
		_ = os.WriteFile(filepath.Join(dir, "meta.json"), b, 0o644)
	}
	return dst, nil
}

// List returns the metadata of every import archive under dataDir, oldest first.
func List(dataDir string) ([]ImportArchiveMeta, error) {
	root := filepath.Join(dataDir, "archives")
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), "import_") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	out := make([]ImportArchiveMeta, 0, len(names))
	for _, n := range names {
		b, err := os.ReadFile(filepath.Join(root, n, "meta.json"))
		if err != nil {
			continue
		}
		var m ImportArchiveMeta
		if json.Unmarshal(b, &m) != nil {
			continue
		}
		m.Snapshot = filepath.Join(root, n, m.Snapshot)
		out = append(out, m)
	}
	return out, nil
}
