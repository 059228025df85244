// POSIX descriptor primitives using fcntl(2) record locks.
//
// This file is compiled on all non-Windows platforms (Linux, macOS,
// *BSD). Record locks are used instead of flock(2) because F_GETLK can
// report the pid of a conflicting holder, which is what makes a
// non-destructive "who owns this pidfile" query possible.

//go:build unix

package lockfile

import (
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// ///////////////////////////////////////////////
// EINTR Retry
// ///////////////////////////////////////////////

// ignoringEINTR calls fn until it returns a result other than EINTR.
// Signal interruption of a syscall is never surfaced to callers; every
// other error passes through unchanged.
func ignoringEINTR(fn func() error) error {
	for {
		err := fn()
		if err != unix.EINTR {
			return err
		}
	}
}

// ignoringEINTR2 is [ignoringEINTR] for syscalls that also return a value.
func ignoringEINTR2[T any](fn func() (T, error)) (T, error) {
	for {
		v, err := fn()
		if err != unix.EINTR {
			return v, err
		}
	}
}

// ///////////////////////////////////////////////
// Handle
// ///////////////////////////////////////////////

// Handle owns exactly one open file descriptor. Handles only come out
// of [Open] fully usable; a failed open never yields a partial Handle.
// A Handle must not be copied or shared: closing it is what releases
// any advisory lock taken through it.
type Handle struct {
	fd int
}

// Open opens path with synchronous-write semantics (O_SYNC) and the
// descriptor marked close-on-exec, so child processes never inherit it
// and can never keep the lock alive past the owner. The create and
// write flags request O_CREAT and O_WRONLY respectively; a query-style
// open passes neither and gets a read-only descriptor. perm applies
// only when the file is created.
func Open(path string, create, write bool, perm os.FileMode) (*Handle, error) {
	flags := unix.O_SYNC | unix.O_CLOEXEC
	if create {
		flags |= unix.O_CREAT
	}
	if write {
		flags |= unix.O_WRONLY
	}
	fd, err := ignoringEINTR2(func() (int, error) {
		return unix.Open(path, flags, uint32(perm.Perm()))
	})
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: path, Err: err}
	}
	return &Handle{fd: fd}, nil
}

// TryLock requests a non-blocking exclusive whole-file record lock
// (F_SETLK with F_WRLCK over start 0, length 0). It returns (true, nil)
// when the lock was granted and (false, nil) when another process holds
// a conflicting lock, which is an expected outcome rather than an
// error. Any other syscall failure is returned as an error. TryLock
// never waits for the lock to become available.
func (h *Handle) TryLock() (bool, error) {
	lk := unix.Flock_t{
		Type:   unix.F_WRLCK,
		Whence: io.SeekStart,
	}
	err := ignoringEINTR(func() error {
		return unix.FcntlFlock(uintptr(h.fd), unix.F_SETLK, &lk)
	})
	if err == nil {
		return true, nil
	}
	// POSIX permits either errno when the lock is held elsewhere.
	if err == unix.EACCES || err == unix.EAGAIN {
		return false, nil
	}
	return false, os.NewSyscallError("fcntl", err)
}

// LockOwner asks the kernel who would block an exclusive lock on the
// whole file (F_GETLK) without taking or changing any lock state. It
// returns 0 when no conflicting lock exists, otherwise the pid of the
// holding process. Locks held by this same process do not conflict with
// themselves and therefore also report 0.
func (h *Handle) LockOwner() (int, error) {
	lk := unix.Flock_t{
		Type:   unix.F_WRLCK,
		Whence: io.SeekStart,
	}
	err := ignoringEINTR(func() error {
		return unix.FcntlFlock(uintptr(h.fd), unix.F_GETLK, &lk)
	})
	if err != nil {
		return 0, os.NewSyscallError("fcntl", err)
	}
	if lk.Type == unix.F_UNLCK {
		return 0, nil
	}
	return int(lk.Pid), nil
}

// Truncate cuts the open file to zero length. Callers must hold the
// lock before truncating; truncating an unlocked pidfile would destroy
// another holder's record.
func (h *Handle) Truncate() error {
	if err := ignoringEINTR(func() error { return unix.Ftruncate(h.fd, 0) }); err != nil {
		return os.NewSyscallError("ftruncate", err)
	}
	return nil
}

// WritePid writes the pid record at the descriptor's current position,
// which the truncate-then-write ordering guarantees is offset 0. Short
// writes are resumed until the full record is on disk.
func (h *Handle) WritePid(pid int) error {
	buf := pidRecord(pid)
	for len(buf) > 0 {
		n, err := ignoringEINTR2(func() (int, error) {
			return unix.Write(h.fd, buf)
		})
		if err != nil {
			return os.NewSyscallError("write", err)
		}
		buf = buf[n:]
	}
	return nil
}

// Identity returns the device+inode pair of the open descriptor. The
// fstat is on the descriptor, not the path, so it reflects the file the
// handle actually holds even after the path has been unlinked or
// replaced.
func (h *Handle) Identity() (Identity, error) {
	var st unix.Stat_t
	err := ignoringEINTR(func() error { return unix.Fstat(h.fd, &st) })
	if err != nil {
		return Identity{}, os.NewSyscallError("fstat", err)
	}
	return Identity{Dev: uint64(st.Dev), Ino: uint64(st.Ino)}, nil
}

// Stat returns the device+inode pair of whatever currently resides at
// path, resolved by name.
func Stat(path string) (Identity, error) {
	var st unix.Stat_t
	err := ignoringEINTR(func() error { return unix.Stat(path, &st) })
	if err != nil {
		return Identity{}, &os.PathError{Op: "stat", Path: path, Err: err}
	}
	return Identity{Dev: uint64(st.Dev), Ino: uint64(st.Ino)}, nil
}

// Close releases the descriptor and with it any advisory lock held
// through this Handle. A close failure is deliberately swallowed: no
// caller can act on it, and the kernel drops the lock on process exit
// regardless. Close is idempotent.
func (h *Handle) Close() {
	if h.fd < 0 {
		return
	}
	_ = unix.Close(h.fd)
	h.fd = -1
}
