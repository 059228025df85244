// Package pidlock implements single-instance process locking through a
// pidfile: a well-known file whose contents record the owning process
// id and whose OS-level advisory lock proves the owner is still alive.
//
// A process claims a path with [At] followed by [Request.Acquire]. A
// second instance acquiring the same path observes [ErrConflict] and
// can refuse to start. [Request.Query] inspects a path without locking
// it, and [Lock.EnsureCurrent] detects the pidfile being rotated,
// deleted, or replaced behind a long-lived holder's back.
//
// Locking is strictly non-blocking and host-local. The OS advisory lock
// table is the sole arbiter: at most one descriptor on the host holds
// the exclusive lock on a given path, and the kernel releases it when
// the owning process exits for any reason, crash included. Callers
// wanting retry or backoff compose it around [Request.Acquire].
//
// Because the locks are advisory, only cooperating processes observe
// them; nothing stops non-participating code from writing to the file.
package pidlock

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"tools.zach/dev/pidlock/internal/lockfile"
)

// ///////////////////////////////////////////////
// Errors
// ///////////////////////////////////////////////

// ErrConflict reports that another live process holds the lock. It is
// the expected outcome when a second instance starts, not a failure,
// and carries no I/O error. Test for it with [errors.Is].
var ErrConflict = errors.New("pidfile locked by another process")

// StaleError reports that a held lock no longer matches the file at its
// path: the pidfile was deleted, recreated, or replaced externally
// while the lock was alive.
type StaleError struct {
	// Path is the pidfile path the lock was taken on.
	Path string
	// Owner is a best-effort read of the pid currently recorded at
	// Path, or 0 when nothing readable is there. Diagnostic only; the
	// read races with whatever replaced the file.
	Owner int
}

func (e *StaleError) Error() string {
	if e.Owner == 0 {
		return fmt.Sprintf("pidfile %s no longer backs this lock", e.Path)
	}
	return fmt.Sprintf("pidfile %s was taken over by pid %d", e.Path, e.Owner)
}

// ///////////////////////////////////////////////
// Request
// ///////////////////////////////////////////////

// Request describes a pending lock attempt: the target path, the
// permission bits used if the pidfile must be created, and the owner
// pid recorded on success. A Request is consumed by exactly one call to
// [Request.Acquire] or [Request.Query]; build a fresh one per attempt.
type Request struct {
	pid  int
	path string
	perm os.FileMode
	log  *slog.Logger
}

// At builds a lock request for path. The owner pid is captured from the
// calling process here, at construction time, and is immutable for the
// life of the request; the default permission mode is 0644.
func At(path string) *Request {
	return &Request{
		pid:  os.Getpid(),
		path: path,
		perm: 0o644,
		log:  slog.New(slog.DiscardHandler),
	}
}

// WithOwner overrides the recorded owner pid. Intended for tests and
// for callers locking on behalf of a process they supervise.
func (r *Request) WithOwner(pid int) *Request {
	r.pid = pid
	return r
}

// WithPerm overrides the permission bits applied when the pidfile is
// created. Existing files keep their mode.
func (r *Request) WithPerm(perm os.FileMode) *Request {
	r.perm = perm
	return r
}

// WithLogger attaches a logger for debug-level acquisition tracing.
func (r *Request) WithLogger(log *slog.Logger) *Request {
	if log != nil {
		r.log = log
	}
	return r
}

// Acquire attempts to take exclusive ownership of the request's path.
// The file is opened for creation and writing, an exclusive
// non-blocking advisory lock is requested, and only after the lock is
// granted is the file truncated and the owner pid written — so a losing
// attempt never touches a live holder's record.
//
// A denial because another process holds the lock returns an error
// wrapping [ErrConflict]. Every other failure is a system failure
// carrying the underlying OS error (use [errors.Is] with values such as
// [fs.ErrNotExist] or [fs.ErrPermission] to classify it).
func (r *Request) Acquire() (*Lock, error) {
	h, err := lockfile.Open(r.path, true, true, r.perm)
	if err != nil {
		return nil, fmt.Errorf("open pidfile: %w", err)
	}

	ok, err := h.TryLock()
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("lock pidfile: %w", err)
	}
	if !ok {
		h.Close()
		r.log.Debug("lock not acquired; conflict", "path", r.path)
		return nil, fmt.Errorf("%s: %w", r.path, ErrConflict)
	}
	r.log.Debug("lock acquired", "path", r.path, "pid", r.pid)

	if err := h.Truncate(); err != nil {
		h.Close()
		return nil, fmt.Errorf("truncate pidfile: %w", err)
	}
	if err := h.WritePid(r.pid); err != nil {
		h.Close()
		return nil, fmt.Errorf("write pidfile: %w", err)
	}
	r.log.Debug("pidfile written", "path", r.path, "pid", r.pid)

	return &Lock{
		pidfile: Pidfile{pid: r.pid},
		path:    r.path,
		handle:  h,
		log:     r.log,
	}, nil
}

// Query reports whether the request's path is currently locked, and by
// whom, without taking the lock or touching the file contents. A
// missing pidfile is the normal "nothing is locked here" result and
// returns (nil, nil); so does a pidfile that exists but is not held by
// any live process. Every other OS error is surfaced verbatim.
func (r *Request) Query() (*Pidfile, error) {
	h, err := lockfile.Open(r.path, false, false, 0)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			r.log.Debug("no lock; pidfile absent", "path", r.path)
			return nil, nil
		}
		return nil, fmt.Errorf("open pidfile: %w", err)
	}
	defer h.Close()

	pid, err := h.LockOwner()
	if err != nil {
		return nil, fmt.Errorf("probe pidfile lock: %w", err)
	}
	if pid == 0 {
		r.log.Debug("no lock; pidfile exists but is unlocked", "path", r.path)
		return nil, nil
	}
	r.log.Debug("lock held", "path", r.path, "pid", pid)
	return &Pidfile{pid: pid}, nil
}

// ///////////////////////////////////////////////
// Pidfile
// ///////////////////////////////////////////////

// Pidfile is the owner record of a locked pidfile: the pid a successful
// [Request.Acquire] wrote, or the live holder a [Request.Query] found.
type Pidfile struct {
	pid int
}

// Pid returns the owning process id.
func (p Pidfile) Pid() int { return p.pid }

// ///////////////////////////////////////////////
// Lock
// ///////////////////////////////////////////////

// Lock is a successfully acquired pidfile lock. It exclusively owns the
// descriptor holding the OS advisory lock; the lock stays held until
// [Lock.Release] is called or the process exits.
type Lock struct {
	pidfile Pidfile
	path    string
	handle  *lockfile.Handle
	log     *slog.Logger
}

// Pidfile returns the owner record written at acquisition time. The
// value is not re-queried from the OS; it is what this lock wrote.
func (l *Lock) Pidfile() Pidfile { return l.pidfile }

// Path returns the pidfile path the lock was taken on.
func (l *Lock) Path() string { return l.path }

// EnsureCurrent verifies that the file backing this lock is still the
// one living at its path, defending against the pidfile being deleted,
// recreated, or replaced by an external cleanup job or a confused
// second instance. It compares the device+inode identity of the held
// descriptor against a fresh by-path resolution.
//
// A nil return means the lock is still the authoritative one. Any stat
// failure or identity mismatch returns a [*StaleError], annotated with
// a best-effort read of whatever pid is now recorded at the path.
// EnsureCurrent never fails the process; everything collapses to the
// stale result.
func (l *Lock) EnsureCurrent() error {
	held, err := l.handle.Identity()
	if err != nil {
		return &StaleError{Path: l.path, Owner: l.readPid()}
	}
	now, err := lockfile.Stat(l.path)
	if err != nil {
		return &StaleError{Path: l.path, Owner: l.readPid()}
	}
	if held == now {
		return nil
	}
	return &StaleError{Path: l.path, Owner: l.readPid()}
}

// readPid is the diagnostic reread behind [Lock.EnsureCurrent] failure
// annotations: first line of the file as a decimal pid, with every
// error of its own swallowed into 0.
func (l *Lock) readPid() int {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return 0
	}
	line, _, _ := strings.Cut(string(data), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil || pid <= 0 {
		return 0
	}
	return pid
}

// Release closes the owned descriptor, which releases the OS advisory
// lock. The pidfile itself is deliberately left in place: a stale file
// keeps the last owner inspectable by [Request.Query] after a crash,
// and closing the descriptor alone is what frees the lock. Release is
// idempotent.
func (l *Lock) Release() {
	l.handle.Close()
	l.log.Debug("lock released", "path", l.path)
}
