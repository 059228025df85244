// Package lockfile implements the descriptor-level primitives behind
// pidfile locking: opening a descriptor with synchronous-write
// semantics, taking and probing non-blocking exclusive advisory locks,
// writing the owner pid record, and snapshotting file identity for
// staleness checks.
//
// The platform split follows build tags: file_unix.go covers every
// POSIX target through fcntl(2) record locks via [golang.org/x/sys/unix]
// (which generates the correct per-OS lock-descriptor layout, including
// the extra l_sysid field FreeBSD carries), and file_windows.go covers
// Win32 through LockFileEx. The selection is fixed at build time; there
// is no runtime dispatch.
package lockfile

import "strconv"

// ///////////////////////////////////////////////
// File Identity
// ///////////////////////////////////////////////

// Identity is a filesystem-level identity for a file: the device (or
// volume serial) the file lives on plus its inode (or file index). Two
// Identity values are equal exactly when they name the same underlying
// file, regardless of path. The pair survives renames but changes when
// a path is unlinked and recreated, which is what makes it usable as a
// staleness cross-check for a held lock.
type Identity struct {
	// Dev is the device id (volume serial number on Windows).
	Dev uint64
	// Ino is the inode number (64-bit file index on Windows).
	Ino uint64
}

// ///////////////////////////////////////////////
// Pid Record
// ///////////////////////////////////////////////

// pidRecord renders the on-disk pidfile payload: the owner pid as
// ASCII decimal digits followed by a single newline, nothing else.
func pidRecord(pid int) []byte {
	buf := make([]byte, 0, 20)
	buf = strconv.AppendInt(buf, int64(pid), 10)
	return append(buf, '\n')
}
