// Package monitor watches a held pidfile lock for external rotation.
//
// The OS advisory lock survives the pidfile being unlinked or replaced,
// so a long-lived holder can end up holding a lock on a file nothing
// points to anymore. The monitor watches the pidfile's directory with
// fsnotify (falling back to stat polling) and re-runs the lock's
// identity check whenever the path is touched, delivering stale
// notifications on a channel.
package monitor

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ///////////////////////////////////////////////
// Checkable
// ///////////////////////////////////////////////

// Checkable is the slice of a held lock the monitor needs: where its
// pidfile lives and whether that file still backs the lock.
type Checkable interface {
	// Path returns the pidfile path the lock was taken on.
	Path() string
	// EnsureCurrent returns nil while the pidfile still backs the
	// lock, and a descriptive error once it has been rotated away.
	EnsureCurrent() error
}

// ///////////////////////////////////////////////
// Monitor
// ///////////////////////////////////////////////

// Monitor re-checks a held lock's identity whenever its pidfile is
// created, written, removed, or renamed.
type Monitor struct {
	// lock is the held lock under watch.
	lock Checkable
	// stale delivers the identity-check failure. Buffered to 1 so
	// repeated events while the caller is busy coalesce.
	stale chan error
	// done is closed by [Monitor.Close] to signal goroutines to exit.
	done chan struct{}
	// fsw is the underlying fsnotify watcher; nil when the monitor
	// started in polling mode. Immutable after [New]; only
	// [Monitor.Close] closes it.
	fsw *fsnotify.Watcher
	// once ensures [Monitor.Close] is idempotent.
	once sync.Once
	// polling is true when the monitor has fallen back to stat polling.
	polling atomic.Bool
	// pollInterval is the duration between checks in polling mode.
	pollInterval time.Duration
}

// New starts a Monitor for the given held lock. fsnotify is the primary
// change-detection mechanism; if it is unavailable or the pidfile's
// directory cannot be watched, the monitor polls at pollInterval
// instead, so construction always yields a working monitor. The
// directory is watched rather than the file because a watch on the file
// itself dies with the inode when the file is replaced — the exact
// event the monitor exists to catch.
func New(lock Checkable, pollInterval time.Duration) *Monitor {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	m := &Monitor{
		lock:         lock,
		stale:        make(chan error, 1),
		done:         make(chan struct{}),
		pollInterval: pollInterval,
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Info("fsnotify unavailable, falling back to polling", "error", err)
		m.polling.Store(true)
		go m.poll()
		return m
	}

	if err := fsw.Add(filepath.Dir(lock.Path())); err != nil {
		slog.Info("cannot watch pidfile directory, falling back to polling",
			"path", lock.Path(), "error", err)
		fsw.Close()
		m.polling.Store(true)
		go m.poll()
		return m
	}

	m.fsw = fsw
	go m.watch(fsw.Events, fsw.Errors)
	return m
}

// Stale returns the channel on which identity-check failures are
// delivered. The monitor keeps running after a delivery; the caller
// decides whether a stale lock is fatal.
func (m *Monitor) Stale() <-chan error {
	return m.stale
}

// Polling reports whether the monitor is using polling instead of fsnotify.
func (m *Monitor) Polling() bool {
	return m.polling.Load()
}

// Close stops the monitor and releases resources.
func (m *Monitor) Close() error {
	var err error
	m.once.Do(func() {
		close(m.done)
		if m.fsw != nil {
			if closeErr := m.fsw.Close(); closeErr != nil {
				err = fmt.Errorf("closing fsnotify watcher: %w", closeErr)
			}
		}
	})
	return err
}

// watch loops over directory events, re-checking the lock whenever the
// pidfile path itself is touched. An fsnotify error drops the monitor
// down to polling; the watcher itself is left untouched for
// [Monitor.Close] to tear down.
func (m *Monitor) watch(events <-chan fsnotify.Event, errs <-chan error) {
	base := filepath.Base(m.lock.Path())
	for {
		select {
		case <-m.done:
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) ||
				event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				m.check()
			}
		case err, ok := <-errs:
			if !ok {
				return
			}
			slog.Info("fsnotify error, switching to polling", "error", err)
			m.polling.Store(true)
			go m.poll()
			return
		}
	}
}

// poll re-checks the lock at a fixed interval.
func (m *Monitor) poll() {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.check()
		}
	}
}

// check runs the identity check and forwards a failure to the stale
// channel, dropping it if a previous failure is still undelivered.
func (m *Monitor) check() {
	err := m.lock.EnsureCurrent()
	if err == nil {
		return
	}
	select {
	case m.stale <- err:
	default:
	}
}
