// Package logger tests verify the [Handler] output format, level
// filtering, attribute handling, and the [ReadTail] utility.
package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// ///////////////////////////////////////////////
// Handler Output Format
// ///////////////////////////////////////////////

func TestHandlerFormat(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewHandler(&buf, slog.LevelInfo))

	log.Info("lock acquired", "path", "/run/svc.pid")

	line := strings.TrimRight(buf.String(), "\n")
	if !strings.Contains(line, "[INFO]") {
		t.Errorf("expected [INFO] in output, got %q", line)
	}
	if !strings.Contains(line, "lock acquired") {
		t.Errorf("expected message in output, got %q", line)
	}
	if !strings.Contains(line, "| path=/run/svc.pid") {
		t.Errorf("expected attribute in output, got %q", line)
	}
	// Timestamp is rendered in UTC and ends with Z.
	if !strings.HasSuffix(strings.Split(line, " [")[0], "Z") {
		t.Errorf("expected UTC timestamp ending with Z, got %q", line)
	}
}

func TestHandlerNoAttrs(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewHandler(&buf, slog.LevelInfo))

	log.Info("plain message")

	if strings.Contains(buf.String(), "|") {
		t.Errorf("expected no separator without attrs, got %q", buf.String())
	}
}

func TestHandlerMultipleAttrs(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewHandler(&buf, slog.LevelInfo))

	log.Info("multi", "a", "1", "b", "2")

	if !strings.Contains(buf.String(), "a=1, b=2") {
		t.Errorf("expected comma-separated attrs, got %q", buf.String())
	}
}

func TestHandlerWithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewHandler(&buf, slog.LevelInfo)).
		With("pid", 42).WithGroup("lock")

	log.Info("held", "path", "/run/svc.pid")

	line := buf.String()
	if !strings.Contains(line, "pid=42") {
		t.Errorf("expected pre-applied attr, got %q", line)
	}
	if !strings.Contains(line, "lock.path=/run/svc.pid") {
		t.Errorf("expected group-prefixed attr, got %q", line)
	}
}

// ///////////////////////////////////////////////
// Level Filtering
// ///////////////////////////////////////////////

func TestHandlerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewHandler(&buf, slog.LevelWarn))

	log.Info("dropped")
	log.Warn("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Errorf("info record not filtered at warn level: %q", out)
	}
	if !strings.Contains(out, "kept") {
		t.Errorf("warn record missing: %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"Warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"nonsense", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// ///////////////////////////////////////////////
// ReadTail
// ///////////////////////////////////////////////

func TestReadTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")
	if err := os.WriteFile(path, []byte("one\ntwo\nthree\nfour\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := ReadTail(path, 2)
	if err != nil {
		t.Fatalf("ReadTail: %v", err)
	}
	if got != "three\nfour" {
		t.Errorf("ReadTail = %q, want %q", got, "three\nfour")
	}

	got, err = ReadTail(path, 10)
	if err != nil {
		t.Fatalf("ReadTail: %v", err)
	}
	if got != "one\ntwo\nthree\nfour" {
		t.Errorf("ReadTail beyond length = %q", got)
	}
}

func TestReadTailNonPositiveCount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")
	if err := os.WriteFile(path, []byte("one\ntwo\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	for _, n := range []int{0, -1} {
		got, err := ReadTail(path, n)
		if err != nil {
			t.Fatalf("ReadTail(n=%d): %v", n, err)
		}
		if got != "" {
			t.Errorf("ReadTail(n=%d) = %q, want empty", n, got)
		}
	}
}

func TestReadTailMissingFile(t *testing.T) {
	if _, err := ReadTail(filepath.Join(t.TempDir(), "none.log"), 5); err == nil {
		t.Error("expected error for missing log file")
	}
}

// ///////////////////////////////////////////////
// NewLogger
// ///////////////////////////////////////////////

func TestNewLoggerWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pidlock.log")
	log, closer, err := NewLogger(path, slog.LevelInfo, 1)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	log.Info("hello from test")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "hello from test") {
		t.Errorf("log file missing record: %q", data)
	}
}
