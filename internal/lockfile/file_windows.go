// Win32 descriptor primitives using LockFileEx/UnlockFileEx.
//
// This file is compiled only on Windows. The LOCKFILE_FAIL_IMMEDIATELY
// flag mirrors the non-blocking behavior of F_SETLK on Unix. Only the
// first byte is locked (length 1, offset 0); the lock exists purely for
// mutual exclusion, not data protection. Win32 has no F_GETLK analog,
// so the owner query try-locks the same byte and, on a lock violation,
// falls back to reading the pid record from the file contents.

//go:build windows

package lockfile

import (
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/windows"
)

// ///////////////////////////////////////////////
// Handle
// ///////////////////////////////////////////////

// Handle owns exactly one open Win32 file handle. Handles only come out
// of [Open] fully usable; a failed open never yields a partial Handle.
// Closing the Handle releases any lock taken through it.
type Handle struct {
	fd windows.Handle
}

// Open opens path with write-through semantics (the O_SYNC analog). The
// handle is created non-inheritable, matching close-on-exec on Unix.
// Both share-read and share-write are granted because mutual exclusion
// comes from LockFileEx, not from share modes, and a query from another
// process must still be able to open the file.
func Open(path string, create, write bool, perm os.FileMode) (*Handle, error) {
	_ = perm // creation mode is a Unix concern; ACLs are inherited on Windows

	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: path, Err: err}
	}
	var access uint32 = windows.GENERIC_READ
	if write {
		access |= windows.GENERIC_WRITE
	}
	disposition := uint32(windows.OPEN_EXISTING)
	if create {
		disposition = windows.OPEN_ALWAYS
	}
	fd, err := windows.CreateFile(p, access,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE|windows.FILE_SHARE_DELETE,
		nil, disposition,
		windows.FILE_ATTRIBUTE_NORMAL|windows.FILE_FLAG_WRITE_THROUGH, 0)
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: path, Err: err}
	}
	return &Handle{fd: fd}, nil
}

// TryLock requests an exclusive, immediately-failing lock on the first
// byte. It returns (true, nil) when the lock was granted and
// (false, nil) when another process holds it, which is an expected
// outcome rather than an error.
func (h *Handle) TryLock() (bool, error) {
	err := windows.LockFileEx(h.fd,
		windows.LOCKFILE_EXCLUSIVE_LOCK|windows.LOCKFILE_FAIL_IMMEDIATELY,
		0, 1, 0, new(windows.Overlapped))
	if err == nil {
		return true, nil
	}
	if err == windows.ERROR_LOCK_VIOLATION {
		return false, nil
	}
	return false, os.NewSyscallError("LockFileEx", err)
}

// LockOwner reports who currently holds the lock, or 0 when nobody
// does. The probe takes and immediately releases the lock when it is
// free; on a lock violation the owner pid is recovered from the file
// contents, which is best-effort but is exactly what the record is
// written for.
func (h *Handle) LockOwner() (int, error) {
	err := windows.LockFileEx(h.fd,
		windows.LOCKFILE_EXCLUSIVE_LOCK|windows.LOCKFILE_FAIL_IMMEDIATELY,
		0, 1, 0, new(windows.Overlapped))
	if err == nil {
		_ = windows.UnlockFileEx(h.fd, 0, 1, 0, new(windows.Overlapped))
		return 0, nil
	}
	if err != windows.ERROR_LOCK_VIOLATION {
		return 0, os.NewSyscallError("LockFileEx", err)
	}
	return h.readPid(), nil
}

// readPid parses the decimal pid record from the start of the file.
// Diagnostic only; every failure collapses to 0.
func (h *Handle) readPid() int {
	buf := make([]byte, 32)
	var read uint32
	if err := windows.ReadFile(h.fd, buf, &read, nil); err != nil || read == 0 {
		return 0
	}
	line, _, _ := strings.Cut(string(buf[:read]), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil || pid <= 0 {
		return 0
	}
	return pid
}

// Truncate cuts the open file to zero length. Callers must hold the
// lock before truncating.
func (h *Handle) Truncate() error {
	if err := windows.Ftruncate(h.fd, 0); err != nil {
		return os.NewSyscallError("Ftruncate", err)
	}
	return nil
}

// WritePid writes the pid record at the handle's current position,
// which the truncate-then-write ordering guarantees is offset 0. Short
// writes are resumed until the full record is on disk.
func (h *Handle) WritePid(pid int) error {
	buf := pidRecord(pid)
	for len(buf) > 0 {
		var written uint32
		if err := windows.WriteFile(h.fd, buf, &written, nil); err != nil {
			return os.NewSyscallError("WriteFile", err)
		}
		buf = buf[written:]
	}
	return nil
}

// Identity returns the volume serial plus 64-bit file index of the open
// handle, queried on the handle itself so it reflects the file the
// handle actually holds even after the path has been replaced.
func (h *Handle) Identity() (Identity, error) {
	var info windows.ByHandleFileInformation
	if err := windows.GetFileInformationByHandle(h.fd, &info); err != nil {
		return Identity{}, os.NewSyscallError("GetFileInformationByHandle", err)
	}
	return identityFromInfo(&info), nil
}

// Stat returns the identity of whatever currently resides at path,
// resolved by name through a metadata-only handle.
func Stat(path string) (Identity, error) {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return Identity{}, &os.PathError{Op: "stat", Path: path, Err: err}
	}
	fd, err := windows.CreateFile(p, windows.FILE_READ_ATTRIBUTES,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE|windows.FILE_SHARE_DELETE,
		nil, windows.OPEN_EXISTING, windows.FILE_FLAG_BACKUP_SEMANTICS, 0)
	if err != nil {
		return Identity{}, &os.PathError{Op: "stat", Path: path, Err: err}
	}
	defer windows.CloseHandle(fd)

	var info windows.ByHandleFileInformation
	if err := windows.GetFileInformationByHandle(fd, &info); err != nil {
		return Identity{}, os.NewSyscallError("GetFileInformationByHandle", err)
	}
	return identityFromInfo(&info), nil
}

// identityFromInfo maps Win32 file information to the portable identity
// pair: volume serial as the device, file index as the inode.
func identityFromInfo(info *windows.ByHandleFileInformation) Identity {
	return Identity{
		Dev: uint64(info.VolumeSerialNumber),
		Ino: uint64(info.FileIndexHigh)<<32 | uint64(info.FileIndexLow),
	}
}

// Close releases the handle and with it any lock held through this
// Handle. A close failure is deliberately swallowed: no caller can act
// on it, and the OS drops the lock on process exit regardless. Close is
// idempotent.
func (h *Handle) Close() {
	if h.fd == windows.InvalidHandle {
		return
	}
	_ = windows.CloseHandle(h.fd)
	h.fd = windows.InvalidHandle
}
