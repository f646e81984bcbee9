package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
)

// FileName is the TOML config file for user preferences
const FileName = "config.toml"

// Config represents user-facing configuration in TOML format
type Config struct {
	// Notifications defines user-level attention signal toggles
	Notifications NotificationSettings `toml:"notifications"`

	// Scanner defines OSC scan buffer limits
	Scanner ScannerSettings `toml:"scanner"`

	// Web defines the web bridge and push settings
	Web WebSettings `toml:"web"`

	// Logs defines log output settings
	Logs LogSettings `toml:"logs"`
}

// NotificationSettings are the read-only preference booleans consumed by the
// completion policy and badge.
type NotificationSettings struct {
	// Badge enables the aggregate badge count (default: true)
	Badge bool `toml:"badge"`

	// Desktop enables desktop notifications on turn completion (default: true)
	Desktop bool `toml:"desktop"`

	// Sound enables the completion chime (default: true)
	Sound bool `toml:"sound"`

	// MaxPerMinute caps desktop notification + chime emissions (default: 20)
	MaxPerMinute int `toml:"max_per_minute"`
}

// ScannerSettings bound the per-channel scan buffer.
type ScannerSettings struct {
	// SoftLimitBytes logs a warning before data is actually lost (default: 32768)
	SoftLimitBytes int `toml:"soft_limit_bytes"`

	// HardLimitBytes triggers buffer trimming (default: 65536)
	HardLimitBytes int `toml:"hard_limit_bytes"`

	// TailWindowBytes survive a lossy trim (default: 256)
	TailWindowBytes int `toml:"tail_window_bytes"`
}

// WebSettings configure the optional web bridge.
type WebSettings struct {
	// Enabled starts the websocket/push server (default: false)
	Enabled bool `toml:"enabled"`

	// Listen is the HTTP listen address (default: 127.0.0.1:8642)
	Listen string `toml:"listen"`

	// PushSubject is the VAPID subject (mailto: or https: URL)
	PushSubject string `toml:"push_subject"`
}

// LogSettings configure file logging.
type LogSettings struct {
	// Level is "debug", "info", "warn", or "error" (default: info)
	Level string `toml:"level"`

	// MaxSizeMB before rotation (default: 10)
	MaxSizeMB int `toml:"max_size_mb"`

	// MaxBackups rotated files kept (default: 5)
	MaxBackups int `toml:"max_backups"`
}

// Default returns a config with all defaults applied.
func Default() *Config {
	return &Config{
		Notifications: NotificationSettings{
			Badge:        true,
			Desktop:      true,
			Sound:        true,
			MaxPerMinute: 20,
		},
		Scanner: ScannerSettings{
			SoftLimitBytes:  32 * 1024,
			HardLimitBytes:  64 * 1024,
			TailWindowBytes: 256,
		},
		Web: WebSettings{
			Enabled: false,
			Listen:  "127.0.0.1:8642",
		},
		Logs: LogSettings{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 5,
		},
	}
}

// applyDefaults fills zero values after a partial TOML load.
// Booleans keep whatever the file said; absent sections fall back wholesale.
func (c *Config) applyDefaults() {
	d := Default()
	if c.Notifications.MaxPerMinute <= 0 {
		c.Notifications.MaxPerMinute = d.Notifications.MaxPerMinute
	}
	if c.Scanner.SoftLimitBytes <= 0 {
		c.Scanner.SoftLimitBytes = d.Scanner.SoftLimitBytes
	}
	if c.Scanner.HardLimitBytes <= 0 {
		c.Scanner.HardLimitBytes = d.Scanner.HardLimitBytes
	}
	if c.Scanner.TailWindowBytes <= 0 {
		c.Scanner.TailWindowBytes = d.Scanner.TailWindowBytes
	}
	if c.Web.Listen == "" {
		c.Web.Listen = d.Web.Listen
	}
	if c.Logs.Level == "" {
		c.Logs.Level = d.Logs.Level
	}
	if c.Logs.MaxSizeMB <= 0 {
		c.Logs.MaxSizeMB = d.Logs.MaxSizeMB
	}
	if c.Logs.MaxBackups <= 0 {
		c.Logs.MaxBackups = d.Logs.MaxBackups
	}
	// An explicit hard limit wins; pull the soft limit under it rather than
	// overriding what the user asked for.
	if c.Scanner.HardLimitBytes < c.Scanner.SoftLimitBytes {
		c.Scanner.SoftLimitBytes = c.Scanner.HardLimitBytes
	}
}

// Dir returns the termpulse config directory (~/.termpulse), creating it if
// needed. TERMPULSE_HOME overrides for tests and sandboxed installs.
func Dir() (string, error) {
	if dir := os.Getenv("TERMPULSE_HOME"); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create config dir: %w", err)
		}
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	dir := filepath.Join(home, ".termpulse")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	return dir, nil
}

// Path returns the full path of the config file.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}

// Load reads the config file from path. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Notifications: Default().Notifications,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// Save writes the config as TOML, atomically via rename.
func Save(path string, cfg *Config) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return os.Rename(tmp, path)
}

// Store holds the live config and hands out consistent snapshots. The watcher
// swaps the snapshot on reload; readers never see a half-applied config.
type Store struct {
	mu  sync.RWMutex
	cfg *Config
}

// NewStore creates a store seeded with cfg.
func NewStore(cfg *Config) *Store {
	if cfg == nil {
		cfg = Default()
	}
	return &Store{cfg: cfg}
}

// Current returns the live config snapshot.
func (s *Store) Current() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Replace swaps in a new config snapshot.
func (s *Store) Replace(cfg *Config) {
	if cfg == nil {
		return
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

// BadgeEnabled implements the preference boundary for the badge.
func (s *Store) BadgeEnabled() bool { return s.Current().Notifications.Badge }

// DesktopEnabled implements the preference boundary for desktop notifications.
func (s *Store) DesktopEnabled() bool { return s.Current().Notifications.Desktop }

// SoundEnabled implements the preference boundary for the chime.
func (s *Store) SoundEnabled() bool { return s.Current().Notifications.Sound }
