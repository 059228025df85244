package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/BurntSushi/toml"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("default config fails validation: %v", err)
	}
}

func TestDefaultTOMLMatchesSchema(t *testing.T) {
	cfg := Default()
	if err := toml.Unmarshal(DefaultTOML, cfg); err != nil {
		t.Fatalf("embedded default config does not parse: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("embedded default config fails validation: %v", err)
	}
	if cfg.Version != CurrentVersion {
		t.Errorf("embedded default config version = %d, want %d", cfg.Version, CurrentVersion)
	}
}

func TestLoadMissingReturnsDefault(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("load with no config file: %v", err)
	}
	if cfg.Lock.Mode != "0644" || cfg.Log.Level != "info" {
		t.Errorf("missing config did not yield defaults: %+v", cfg)
	}
}

func TestSaveLoadRoundtrip(t *testing.T) {
	dir := t.TempDir()

	cfg := Default()
	cfg.Lock.Dir = "/var/run/myapp"
	cfg.Lock.Mode = "0600"
	cfg.Log.Level = "debug"
	cfg.Status.Ignore = []string{"**/tmp-*.pid"}

	if err := Save(dir, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if got.Lock.Dir != cfg.Lock.Dir || got.Lock.Mode != cfg.Lock.Mode {
		t.Errorf("lock settings did not roundtrip: %+v", got.Lock)
	}
	if got.Log.Level != "debug" {
		t.Errorf("log level did not roundtrip: %q", got.Log.Level)
	}
	if len(got.Status.Ignore) != 1 || got.Status.Ignore[0] != "**/tmp-*.pid" {
		t.Errorf("ignore patterns did not roundtrip: %v", got.Status.Ignore)
	}
}

func TestLoadRejectsBadMode(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
version = 1
[lock]
mode = "rwxr--r--"
`)
	if _, err := Load(dir); err == nil || !strings.Contains(err.Error(), "lock.mode") {
		t.Errorf("expected lock.mode validation error, got %v", err)
	}
}

func TestLoadRejectsBadIgnorePattern(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
version = 1
[status]
ignore = ["[unterminated"]
`)
	if _, err := Load(dir); err == nil || !strings.Contains(err.Error(), "status.ignore") {
		t.Errorf("expected status.ignore validation error, got %v", err)
	}
}

func TestLoadRejectsNewerVersion(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `version = 99`)
	if _, err := Load(dir); err == nil || !strings.Contains(err.Error(), "version") {
		t.Errorf("expected version rejection, got %v", err)
	}
}

func TestFileMode(t *testing.T) {
	cfg := Default()
	cfg.Lock.Mode = "0600"
	if got := cfg.FileMode(); got != 0o600 {
		t.Errorf("FileMode() = %o, want 0600", got)
	}
	cfg.Lock.Mode = "not-a-mode"
	if got := cfg.FileMode(); got != 0o644 {
		t.Errorf("FileMode() fallback = %o, want 0644", got)
	}
}

func writeConfig(t *testing.T, dir, contents string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
}
