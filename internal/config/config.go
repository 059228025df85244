// Package config provides configuration loading and defaults for the
// pidlock CLI.
//
// Configuration is loaded from a TOML file in the user's data
// directory. The package handles pidfile placement and permissions,
// logging, staleness watching, and status-listing behavior with
// sensible defaults.
package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/bmatcuk/doublestar/v4"
	"tools.zach/dev/pidlock/internal/paths"
)

// CurrentVersion is the config schema version written by this build.
const CurrentVersion = 1

// DefaultTOML holds the raw bytes of config.default.toml, embedded at
// build time. The CLI copies it to the data directory on first run so
// users have a commented template to edit.
//
//go:embed config.default.toml
var DefaultTOML []byte

// ///////////////////////////////////////////////
// Configuration Types
// ///////////////////////////////////////////////

// Config represents the top-level application configuration.
type Config struct {
	// Version is the config schema version, reserved for migrations.
	Version int `toml:"version"`
	// Lock holds pidfile placement and permission settings.
	Lock LockConfig `toml:"lock"`
	// Log holds logging settings.
	Log LogConfig `toml:"log"`
	// Watch holds staleness-watch settings.
	Watch WatchConfig `toml:"watch"`
	// Status holds status-listing settings.
	Status StatusConfig `toml:"status"`
}

// LockConfig holds pidfile placement and permission settings.
type LockConfig struct {
	// Dir overrides the directory pidfiles are created in. Empty means
	// the data directory itself.
	Dir string `toml:"dir"`
	// Mode is the permission mode for newly created pidfiles, as an
	// octal string (e.g. "0644").
	Mode string `toml:"mode"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `toml:"level"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation.
	MaxSizeMB int `toml:"max_size_mb"`
}

// WatchConfig holds staleness-watch settings.
type WatchConfig struct {
	// PollIntervalSeconds is the fallback polling interval used when
	// filesystem notification is unavailable.
	PollIntervalSeconds int `toml:"poll_interval_seconds"`
}

// StatusConfig holds status-listing settings.
type StatusConfig struct {
	// Ignore is a list of glob patterns for pidfile paths the status
	// subcommand skips.
	Ignore []string `toml:"ignore"`
}

// ///////////////////////////////////////////////
// Defaults
// ///////////////////////////////////////////////

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		Version: CurrentVersion,
		Lock: LockConfig{
			Mode: "0644",
		},
		Log: LogConfig{
			Level:     "info",
			MaxSizeMB: 5,
		},
		Watch: WatchConfig{
			PollIntervalSeconds: 2,
		},
		Status: StatusConfig{
			Ignore: []string{},
		},
	}
}

// ///////////////////////////////////////////////
// Accessors
// ///////////////////////////////////////////////

// FileMode parses Lock.Mode into permission bits. Validate guarantees
// the parse succeeds for loaded configs.
func (c *Config) FileMode() os.FileMode {
	n, err := strconv.ParseUint(c.Lock.Mode, 8, 32)
	if err != nil {
		return 0o644
	}
	return os.FileMode(n).Perm()
}

// ///////////////////////////////////////////////
// Validation
// ///////////////////////////////////////////////

// Validate reports the first problem with the configuration, or nil.
func (c *Config) Validate() error {
	if n, err := strconv.ParseUint(c.Lock.Mode, 8, 32); err != nil || n > 0o777 {
		return fmt.Errorf("lock.mode %q is not an octal permission mode", c.Lock.Mode)
	}
	if c.Log.MaxSizeMB < 1 {
		return fmt.Errorf("log.max_size_mb must be at least 1, got %d", c.Log.MaxSizeMB)
	}
	if c.Watch.PollIntervalSeconds < 1 {
		return fmt.Errorf("watch.poll_interval_seconds must be at least 1, got %d", c.Watch.PollIntervalSeconds)
	}
	for _, pat := range c.Status.Ignore {
		if !doublestar.ValidatePattern(pat) {
			return fmt.Errorf("status.ignore pattern %q is not a valid glob", pat)
		}
	}
	return nil
}

// ///////////////////////////////////////////////
// Loading and Saving
// ///////////////////////////////////////////////

// Load reads and parses dataDir/config.toml. A missing file returns
// Default. Unknown schema versions are rejected rather than guessed at.
func Load(dataDir string) (*Config, error) {
	path := filepath.Join(dataDir, paths.ConfigFile)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Version == 0 {
		cfg.Version = 1
	}
	if cfg.Version != CurrentVersion {
		return nil, fmt.Errorf("config version %d is newer than this build understands (%d)", cfg.Version, CurrentVersion)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to dataDir/config.toml using a
// temporary-file-and-rename so a crash mid-write cannot leave a torn
// config behind.
func Save(dataDir string, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	path := filepath.Join(dataDir, paths.ConfigFile)
	if err := writeFileAtomic(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// writeFileAtomic writes data to a temp file in path's directory,
// syncs it, and renames it over path.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmp := f.Name()
	defer os.Remove(tmp) // no-op after a successful rename

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmp, perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
