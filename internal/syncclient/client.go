package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	plog "clickerclicker.app/internal/persistence/log"
	"clickerclicker.app/internal/protocol"
)

// ProgressSource exports the transferable part of a running battle.
type ProgressSource interface {
	ExportProgress() protocol.PlayerProgress
}

// ProgressSink applies remote progress to a running battle.
type ProgressSink interface {
	ImportProgress(protocol.PlayerProgress) error
}

// Journal records every remote operation. Failures are logged.
type Journal interface {
	WriteSync(plog.SyncEntry) error
}

type Options struct {
	HTTPClient *http.Client
	Logger     *log.Logger
	Journal    Journal
	// BeforeImport runs right before remote progress overwrites the local battle. An error aborts
	// the import.
	BeforeImport func(reason string, remote protocol.PlayerProfile) error
}

// Client talks to the profile server. It holds no lock across network calls.
type Client struct {
	http         *http.Client
	logger       *log.Logger
	journal      Journal
	beforeImport func(string, protocol.PlayerProfile) error

	// importMu orders the newer-than check, the import and the last-seen update of concurrent
	// pulls and registrations.
	importMu sync.Mutex

	mu          sync.Mutex
	baseURL     string
	playerID    string
	playerName  string
	identityURL string
	lastSeen    int64
	hasLastSeen bool
}

func New(serverURL string, opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		http:         hc,
		logger:       opts.Logger,
		journal:      opts.Journal,
		beforeImport: opts.BeforeImport,
		baseURL:      normalizeURL(serverURL),
	}
}

func normalizeURL(s string) string { return strings.TrimRight(strings.TrimSpace(s), "/") }

// SetServerURL re-targets the client. An empty url disables synchronization. Pointing at a
// server other than the one the identity came from forgets the identity and the last-seen
// timestamp; forgot reports whether that happened.
func (c *Client) SetServerURL(u string) (forgot bool) {
	u = normalizeURL(u)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseURL = u
	if u == "" || c.playerID == "" || u == c.identityURL {
		return false
	}
	c.playerID, c.playerName, c.identityURL = "", "", ""
	c.lastSeen, c.hasLastSeen = 0, false
	return true
}

func (c *Client) ServerURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.baseURL
}

// Restore adopts a remembered identity without contacting the server. The last-seen timestamp is
// left unset, so the next pull applies.
func (c *Client) Restore(id, name string) {
	c.mu.Lock()
	c.playerID = strings.TrimSpace(id)
	c.playerName = strings.TrimSpace(name)
	c.identityURL = c.baseURL
	c.mu.Unlock()
}

func (c *Client) Identity() (id, name string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playerID, c.playerName, c.playerID != ""
}

// IsConnected reports whether a server is configured and an identity is held.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.baseURL != "" && c.playerID != ""
}

// LastSeen returns the newest remote last_update observed, if any.
func (c *Client) LastSeen() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen, c.hasLastSeen
}

// Register logs in as name, creating the profile server-side if needed, and imports the returned
// progress into sink when sink is non-nil.
func (c *Client) Register(ctx context.Context, name string, sink ProgressSink) (protocol.RegisterResponse, error) {
	var out protocol.RegisterResponse
	base := c.ServerURL()
	if base == "" {
		return out, ErrNotConfigured
	}
	err := c.doJSON(ctx, "register", http.MethodPost, base+"/api/player/register", protocol.RegisterRequest{PlayerName: name}, &out)
	if err != nil {
		c.record(plog.SyncEntry{Op: "register", Error: err.Error()})
		return out, err
	}

	c.importMu.Lock()
	defer c.importMu.Unlock()
	c.mu.Lock()
	c.playerID = out.PlayerID
	c.playerName = out.PlayerName
	c.identityURL = base
	c.lastSeen = out.LastUpdate
	c.hasLastSeen = true
	c.mu.Unlock()

	entry := plog.SyncEntry{Op: "register", PlayerID: out.PlayerID, Stage: out.Progress.Stage, LastUpdate: out.LastUpdate}
	if sink != nil {
		remote := protocol.PlayerProfile{PlayerID: out.PlayerID, PlayerName: out.PlayerName, Progress: out.Progress, LastUpdate: out.LastUpdate}
		if err := c.apply(sink, "register", remote); err != nil {
			entry.Error = err.Error()
			c.record(entry)
			return out, err
		}
		entry.Applied = true
	}
	c.record(entry)
	return out, nil
}

// Push uploads the current progress of src. The server copy is overwritten unconditionally.
func (c *Client) Push(ctx context.Context, src ProgressSource) (protocol.PlayerProfile, error) {
	var out protocol.PlayerProfile
	id, base, err := c.target()
	if err != nil {
		return out, err
	}
	req := protocol.SyncRequest{Progress: src.ExportProgress()}
	if err := c.doJSON(ctx, "push", http.MethodPost, base+"/api/player/"+url.PathEscape(id)+"/sync", req, &out); err != nil {
		c.record(plog.SyncEntry{Op: "push", PlayerID: id, Error: err.Error()})
		return out, err
	}
	c.markRemoteUpdate(out.LastUpdate)
	c.record(plog.SyncEntry{Op: "push", PlayerID: id, Stage: out.Progress.Stage, LastUpdate: out.LastUpdate})
	return out, nil
}

// Fetch returns the remote profile without applying it.
func (c *Client) Fetch(ctx context.Context) (protocol.PlayerProfile, error) {
	var out protocol.PlayerProfile
	id, base, err := c.target()
	if err != nil {
		return out, err
	}
	err = c.doJSON(ctx, "fetch", http.MethodGet, base+"/api/player/"+url.PathEscape(id), nil, &out)
	return out, err
}

// Pull fetches the remote profile and imports it into sink iff its last_update is newer than
// anything seen so far. Calling Pull twice against the same server state applies at most once,
// also when the calls overlap; a stale fetch never overwrites a newer import.
func (c *Client) Pull(ctx context.Context, sink ProgressSink) (bool, error) {
	prof, err := c.Fetch(ctx)
	if err != nil {
		id, _, _ := c.Identity()
		c.record(plog.SyncEntry{Op: "pull", PlayerID: id, Error: err.Error()})
		return false, err
	}
	entry := plog.SyncEntry{Op: "pull", PlayerID: prof.PlayerID, Stage: prof.Progress.Stage, LastUpdate: prof.LastUpdate}

	c.importMu.Lock()
	defer c.importMu.Unlock()
	if !c.isNewer(prof.LastUpdate) {
		c.record(entry)
		return false, nil
	}
	if err := c.apply(sink, "pull", prof); err != nil {
		entry.Error = err.Error()
		c.record(entry)
		return false, err
	}
	c.markRemoteUpdate(prof.LastUpdate)
	entry.Applied = true
	c.record(entry)
	return true, nil
}

func (c *Client) List(ctx context.Context) ([]protocol.PlayerSummary, error) {
	base := c.ServerURL()
	if base == "" {
		return nil, ErrNotConfigured
	}
	var out []protocol.PlayerSummary
	if err := c.doJSON(ctx, "list", http.MethodGet, base+"/api/players", nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []protocol.PlayerSummary{}
	}
	return out, nil
}

func (c *Client) Health(ctx context.Context) (protocol.HealthResponse, error) {
	var out protocol.HealthResponse
	base := c.ServerURL()
	if base == "" {
		return out, ErrNotConfigured
	}
	err := c.doJSON(ctx, "health", http.MethodGet, base+"/health", nil, &out)
	return out, err
}

func (c *Client) isNewer(ts int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.hasLastSeen || ts > c.lastSeen
}

// markRemoteUpdate records ts unless a newer timestamp was already seen.
func (c *Client) markRemoteUpdate(ts int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hasLastSeen && ts <= c.lastSeen {
		return
	}
	c.lastSeen = ts
	c.hasLastSeen = true
}

func (c *Client) target() (id, base string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.playerID == "" {
		return "", "", ErrNotRegistered
	}
	if c.baseURL == "" {
		return "", "", ErrNotConfigured
	}
	return c.playerID, c.baseURL, nil
}

func (c *Client) apply(sink ProgressSink, reason string, remote protocol.PlayerProfile) error {
	if sink == nil {
		return nil
	}
	if c.beforeImport != nil {
		if err := c.beforeImport(reason, remote); err != nil {
			return fmt.Errorf("before import: %w", err)
		}
	}
	return sink.ImportProgress(remote.Progress)
}

func (c *Client) doJSON(ctx context.Context, op, method, u string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return &NetworkError{Op: op, Err: err}
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &ServerError{Op: op, Status: resp.StatusCode}
		var eb protocol.ErrorBody
		if json.Unmarshal(raw, &eb) == nil {
			se.Code = eb.Code
			se.Message = eb.Error
		}
		return se
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &NetworkError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func (c *Client) record(e plog.SyncEntry) {
	if c.journal == nil {
		return
	}
	e.TimeMS = time.Now().UnixMilli()
	if err := c.journal.WriteSync(e); err != nil && c.logger != nil {
		c.logger.Printf("sync journal write failed: %v", err)
	}
}
