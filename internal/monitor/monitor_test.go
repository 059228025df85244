package monitor

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// fakeLock is a controllable Checkable: its identity check fails once
// fail is set.
type fakeLock struct {
	path string
	mu   sync.Mutex
	fail error
}

func (f *fakeLock) Path() string { return f.path }

func (f *fakeLock) EnsureCurrent() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fail
}

func (f *fakeLock) setFail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = err
}

// newPidfile creates a pidfile in a fresh temp dir and a fakeLock for it.
func newPidfile(t *testing.T) *fakeLock {
	t.Helper()
	path := filepath.Join(t.TempDir(), "svc.pid")
	if err := os.WriteFile(path, []byte("1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return &fakeLock{path: path}
}

func waitStale(t *testing.T, m *Monitor) error {
	t.Helper()
	select {
	case err := <-m.Stale():
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("no stale notification within timeout")
		return nil
	}
}

func TestMonitorReportsStaleOnReplace(t *testing.T) {
	lk := newPidfile(t)
	m := New(lk, time.Second)
	defer m.Close()

	lk.setFail(errors.New("identity mismatch"))

	// Replace the pidfile; the directory watch must pick it up.
	if err := os.Remove(lk.path); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(lk.path, []byte("2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := waitStale(t, m); err == nil {
		t.Error("stale channel delivered nil error")
	}
}

func TestMonitorQuietWhileValid(t *testing.T) {
	lk := newPidfile(t)
	m := New(lk, time.Second)
	defer m.Close()

	// Touch the file while the identity check still passes.
	if err := os.WriteFile(lk.path, []byte("1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-m.Stale():
		t.Errorf("unexpected stale notification: %v", err)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestMonitorIgnoresSiblingFiles(t *testing.T) {
	lk := newPidfile(t)
	m := New(lk, time.Second)
	defer m.Close()

	// The check would fail, but only pidfile events may trigger it.
	lk.setFail(errors.New("identity mismatch"))
	sibling := filepath.Join(filepath.Dir(lk.path), "other.pid")
	if err := os.WriteFile(sibling, []byte("3\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-m.Stale():
		t.Errorf("sibling file event triggered a stale notification: %v", err)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestMonitorPollFallback(t *testing.T) {
	// A pidfile in a nonexistent directory cannot be watched, which
	// forces the polling path.
	lk := &fakeLock{path: filepath.Join(t.TempDir(), "missing", "svc.pid")}
	m := New(lk, 10*time.Millisecond)
	defer m.Close()

	if !m.Polling() {
		t.Fatal("expected monitor to fall back to polling")
	}

	lk.setFail(errors.New("identity mismatch"))
	if err := waitStale(t, m); err == nil {
		t.Error("stale channel delivered nil error")
	}
}

func TestMonitorFallsBackOnWatchError(t *testing.T) {
	// A watcher error while events are in flight must flip the monitor
	// into polling mode without touching the watcher itself, so that a
	// concurrent Close sees the same fsw value the whole time.
	lk := &fakeLock{path: filepath.Join(t.TempDir(), "svc.pid")}
	m := &Monitor{
		lock:         lk,
		stale:        make(chan error, 1),
		done:         make(chan struct{}),
		pollInterval: 10 * time.Millisecond,
	}

	errs := make(chan error)
	go m.watch(nil, errs)
	errs <- errors.New("event queue overflowed")

	deadline := time.After(5 * time.Second)
	for !m.Polling() {
		select {
		case <-deadline:
			t.Fatal("monitor did not switch to polling after watcher error")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	lk.setFail(errors.New("identity mismatch"))
	if err := waitStale(t, m); err == nil {
		t.Error("stale channel delivered nil error")
	}
	if err := m.Close(); err != nil {
		t.Errorf("close after fallback: %v", err)
	}
}

func TestMonitorCloseIdempotent(t *testing.T) {
	lk := newPidfile(t)
	m := New(lk, time.Second)
	if err := m.Close(); err != nil {
		t.Errorf("first close: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}
