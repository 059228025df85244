// Package paths centralizes file and directory names used across the
// project. All data directory file names are defined here as the single
// source of truth.
package paths

import "path/filepath"

// ///////////////////////////////////////////////
// Constants
// ///////////////////////////////////////////////

// Data directory file names.
const (
	PidFile    = "pidlock.pid"
	ConfigFile = "config.toml"
	LogFile    = "pidlock.log"
)

// PidExt is the extension pidfiles carry; [DataDir.PidFor] and the
// status glob default both key off it.
const PidExt = ".pid"

// DataDirRel is the data directory name, relative to $HOME.
const DataDirRel = ".pidlock"

// ///////////////////////////////////////////////
// DataDir
// ///////////////////////////////////////////////

// DataDir provides path construction methods rooted at a data directory.
type DataDir struct {
	Root string
}

// Pid returns the full path to the default pidfile.
func (d DataDir) Pid() string { return filepath.Join(d.Root, PidFile) }

// Config returns the full path to the config file.
func (d DataDir) Config() string { return filepath.Join(d.Root, ConfigFile) }

// Log returns the full path to the log file.
func (d DataDir) Log() string { return filepath.Join(d.Root, LogFile) }

// PidFor returns the full path to a named pidfile, for callers guarding
// several services out of one data directory. For example,
// PidFor("worker") returns "<root>/worker.pid".
func (d DataDir) PidFor(name string) string {
	return filepath.Join(d.Root, name+PidExt)
}

// PidGlob returns the glob pattern matching every pidfile directly
// under the data directory; the status subcommand uses it as its
// default.
func (d DataDir) PidGlob() string {
	return filepath.Join(d.Root, "*"+PidExt)
}
