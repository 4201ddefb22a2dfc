package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the local game daemon configuration. An empty MultiplayerServerURL disables
// synchronization entirely.
type Config struct {
	MultiplayerServerURL string `yaml:"multiplayer_server_url"`

	// Remembered identity from the last successful registration.
	PlayerID   string `yaml:"player_id,omitempty"`
	PlayerName string `yaml:"player_name,omitempty"`

	DataDir    string `yaml:"data_dir"`
	StateFile  string `yaml:"state_file"`
	Listen     string `yaml:"listen"`
	TuningFile string `yaml:"tuning_file,omitempty"`
}

func Defaults() Config {
	c := defaults()
	c.Normalize()
	return c
}

func defaults() Config {
	return Config{
		DataDir:   "data",
		StateFile: "game_state.json",
		Listen:    "127.0.0.1:8787",
	}
}

// Load reads path on top of the defaults. A missing file yields the defaults together with an
// error satisfying os.IsNotExist, so callers can decide whether to write one.
func Load(path string) (Config, error) {
	cfg := defaults()
	b, err := os.ReadFile(path)
	if err != nil {
		cfg.Normalize()
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return cfg, nil
}

func (c *Config) Normalize() {
	c.MultiplayerServerURL = strings.TrimRight(strings.TrimSpace(c.MultiplayerServerURL), "/")
	c.PlayerID = strings.TrimSpace(c.PlayerID)
	c.PlayerName = strings.TrimSpace(c.PlayerName)
	c.DataDir = strings.TrimSpace(c.DataDir)
	c.StateFile = strings.TrimSpace(c.StateFile)
	c.Listen = strings.TrimSpace(c.Listen)
	c.TuningFile = strings.TrimSpace(c.TuningFile)

	d := defaults()
	if c.DataDir == "" {
		c.DataDir = d.DataDir
	}
	if c.StateFile == "" {
		c.StateFile = d.StateFile
	}
	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.PlayerID == "" {
		c.PlayerName = ""
	}
}

func (c Config) Validate() error {
	c.Normalize()
	if c.MultiplayerServerURL != "" {
		if err := ValidateServerURL(c.MultiplayerServerURL); err != nil {
			return err
		}
	}
	if c.PlayerID != "" && c.PlayerName == "" {
		return fmt.Errorf("player_name must be set when player_id is set")
	}
	return nil
}

// ValidateServerURL accepts absolute http(s) URLs.
func ValidateServerURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("multiplayer_server_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("multiplayer_server_url must be http or https, got %q", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("multiplayer_server_url has no host: %q", raw)
	}
	return nil
}

// SyncEnabled reports whether a multiplayer server is configured.
func (c Config) SyncEnabled() bool { return c.MultiplayerServerURL != "" }

// StatePath resolves StateFile against DataDir unless it is already absolute.
func (c Config) StatePath() string {
	if filepath.IsAbs(c.StateFile) {
		return c.StateFile
	}
	return filepath.Join(c.DataDir, c.StateFile)
}

// Save writes c as YAML via a temp file and rename.
func (c Config) Save(path string) error {
	c.Normalize()
	if err := c.Validate(); err != nil {
		return err
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
