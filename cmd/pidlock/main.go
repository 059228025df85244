// Package main implements the pidlock CLI, a pidfile-based
// single-instance guard: it runs or holds work under an exclusive
// advisory lock and inspects who currently holds a pidfile.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"tools.zach/dev/pidlock"
	"tools.zach/dev/pidlock/internal/config"
	"tools.zach/dev/pidlock/internal/logger"
	"tools.zach/dev/pidlock/internal/monitor"
	"tools.zach/dev/pidlock/internal/paths"
	"tools.zach/dev/pidlock/internal/update"
)

// ///////////////////////////////////////////////
// Version
// ///////////////////////////////////////////////

// version is set at build time via ldflags:
//
//	-X main.version={{.Version}}
//
// When ldflags are not set (bare go build), resolveVersion reads the
// VCS info that Go embeds automatically, so dev builds get a useful
// version string without needing git at runtime.
var version = "dev"

// resolveVersion returns the build version string. If [version] was set
// via ldflags it is returned as-is; otherwise VCS revision and dirty
// state embedded by the Go toolchain are used to construct a
// "dev+<hash>" tag.
func resolveVersion() string {
	if version != "dev" {
		return version
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return version
	}
	var revision string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if revision == "" {
		return version
	}
	hash := revision[:min(7, len(revision))]
	if dirty {
		return "dev+" + hash + ".dirty"
	}
	return "dev+" + hash
}

// ///////////////////////////////////////////////
// Data Directory
// ///////////////////////////////////////////////

// defaultDataDir returns the platform default directory for pidlock
// data, typically ~/.pidlock. Falls back to ./.pidlock if the home
// directory cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", paths.DataDirRel)
	}
	return filepath.Join(home, paths.DataDirRel)
}

// defaultPidfile returns the pidfile path used when -pidfile is not
// given: paths.PidFile inside the configured lock directory, or inside
// the data directory when no lock directory is configured.
func defaultPidfile(cfg *config.Config, data paths.DataDir) string {
	if cfg.Lock.Dir != "" {
		return filepath.Join(cfg.Lock.Dir, paths.PidFile)
	}
	return data.Pid()
}

// defaultStatusGlob returns the glob the status subcommand scans when
// no patterns are given on the command line.
func defaultStatusGlob(cfg *config.Config, data paths.DataDir) string {
	if cfg.Lock.Dir != "" {
		return filepath.Join(cfg.Lock.Dir, "*"+paths.PidExt)
	}
	return data.PidGlob()
}

// ///////////////////////////////////////////////
// Usage
// ///////////////////////////////////////////////

func usage() {
	fmt.Fprintf(os.Stderr, `usage: pidlock [-data-dir DIR] COMMAND [ARGS]

Commands:
  run [-pidfile PATH] CMD [ARGS...]   run CMD while holding the lock
  hold [-pidfile PATH]                hold the lock until interrupted
  status [PATTERN...]                 report lock holders for matching pidfiles
  logs [-n LINES]                     print the tail of the log file
  version                             print version and check for updates
`)
}

// ///////////////////////////////////////////////
// Main
// ///////////////////////////////////////////////

func main() {
	dataDir := flag.String("data-dir", defaultDataDir(), "Data directory for config and logs")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	data := paths.DataDir{Root: *dataDir}
	if err := os.MkdirAll(data.Root, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: create data dir: %v\n", err)
		os.Exit(1)
	}

	if _, err := os.Stat(data.Config()); os.IsNotExist(err) {
		if writeErr := os.WriteFile(data.Config(), config.DefaultTOML, 0o644); writeErr != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to write default config: %v\n", writeErr)
		}
	}

	cfg, err := config.Load(data.Root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: load config: %v\n", err)
		os.Exit(1)
	}

	var code int
	switch args[0] {
	case "run":
		code = cmdRun(data, cfg, args[1:])
	case "hold":
		code = cmdHold(data, cfg, args[1:])
	case "status":
		code = cmdStatus(data, cfg, args[1:])
	case "logs":
		code = cmdLogs(data, args[1:])
	case "version":
		code = cmdVersion()
	default:
		fmt.Fprintf(os.Stderr, "pidlock: unknown command %q\n", args[0])
		usage()
		code = 2
	}
	os.Exit(code)
}

// initLogger builds the rotating file logger used by the long-running
// subcommands and installs it as the slog default.
func initLogger(data paths.DataDir, cfg *config.Config) (*slog.Logger, func()) {
	log, closer, err := logger.NewLogger(data.Log(), logger.ParseLevel(cfg.Log.Level), cfg.Log.MaxSizeMB)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: init logger: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(log)
	return log, func() { closer.Close() }
}

// acquire takes the lock at path, translating a conflict into the
// conventional "already running" message and exit.
func acquire(path string, cfg *config.Config, log *slog.Logger) (*pidlock.Lock, int) {
	lk, err := pidlock.At(path).WithPerm(cfg.FileMode()).WithLogger(log).Acquire()
	if err == nil {
		return lk, 0
	}
	if errors.Is(err, pidlock.ErrConflict) {
		if holder, qerr := pidlock.At(path).Query(); qerr == nil && holder != nil {
			fmt.Fprintf(os.Stderr, "pidlock: already running (pid %d)\n", holder.Pid())
		} else {
			fmt.Fprintf(os.Stderr, "pidlock: already running\n")
		}
		return nil, 1
	}
	fmt.Fprintf(os.Stderr, "pidlock: acquire %s: %v\n", path, err)
	return nil, 1
}

// ///////////////////////////////////////////////
// run
// ///////////////////////////////////////////////

// cmdRun acquires the lock and runs a child command while holding it,
// flock(1)-style. Signals are forwarded to the child; the lock is
// released when the child exits, and the child's exit code is
// propagated.
func cmdRun(data paths.DataDir, cfg *config.Config, args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	pidfile := fs.String("pidfile", defaultPidfile(cfg, data), "Pidfile path to lock")
	fs.Parse(args)

	cmdArgs := fs.Args()
	if len(cmdArgs) == 0 {
		fmt.Fprintln(os.Stderr, "pidlock: run requires a command")
		return 2
	}

	log, closeLog := initLogger(data, cfg)
	defer closeLog()

	lk, code := acquire(*pidfile, cfg, log)
	if lk == nil {
		return code
	}
	defer lk.Release()
	log.Info("lock acquired", "path", lk.Path(), "pid", lk.Pidfile().Pid())

	mon := monitor.New(lk, pollInterval(cfg))
	defer mon.Close()

	child := exec.Command(cmdArgs[0], cmdArgs[1:]...)
	child.Stdin = os.Stdin
	child.Stdout = os.Stdout
	child.Stderr = os.Stderr
	if err := child.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "pidlock: start %s: %v\n", cmdArgs[0], err)
		return 1
	}
	log.Info("child started", "command", cmdArgs[0], "child_pid", child.Process.Pid)

	done := make(chan error, 1)
	go func() { done <- child.Wait() }()
	sig := signalChannel()

	for {
		select {
		case err := <-done:
			log.Info("child exited", "command", cmdArgs[0], "error", err)
			return exitCode(err)
		case s := <-sig:
			log.Info("signal received, forwarding to child", "signal", s.String())
			_ = child.Process.Signal(s)
		case staleErr := <-mon.Stale():
			log.Warn("pidfile rotated out from under the lock", "error", staleErr)
		}
	}
}

// pollInterval converts the configured fallback interval to a duration.
func pollInterval(cfg *config.Config) time.Duration {
	return time.Duration(cfg.Watch.PollIntervalSeconds) * time.Second
}

// exitCode maps a child wait result to the CLI's own exit code.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}

// ///////////////////////////////////////////////
// hold
// ///////////////////////////////////////////////

// cmdHold acquires the lock and holds it until SIGINT/SIGTERM, logging
// any staleness the monitor observes along the way.
func cmdHold(data paths.DataDir, cfg *config.Config, args []string) int {
	fs := flag.NewFlagSet("hold", flag.ExitOnError)
	pidfile := fs.String("pidfile", defaultPidfile(cfg, data), "Pidfile path to lock")
	fs.Parse(args)

	log, closeLog := initLogger(data, cfg)
	defer closeLog()

	lk, code := acquire(*pidfile, cfg, log)
	if lk == nil {
		return code
	}
	defer lk.Release()

	fmt.Printf("holding %s (pid %d)\n", lk.Path(), lk.Pidfile().Pid())
	log.Info("lock acquired", "path", lk.Path(), "pid", lk.Pidfile().Pid())

	mon := monitor.New(lk, pollInterval(cfg))
	defer mon.Close()

	sig := signalChannel()
	for {
		select {
		case s := <-sig:
			log.Info("signal received, releasing lock", "signal", s.String())
			return 0
		case staleErr := <-mon.Stale():
			log.Warn("pidfile rotated out from under the lock", "error", staleErr)
		}
	}
}

// ///////////////////////////////////////////////
// status
// ///////////////////////////////////////////////

// cmdStatus globs pidfile paths and reports the live holder of each.
// Patterns use doublestar syntax; with no patterns the configured lock
// directory is scanned.
func cmdStatus(data paths.DataDir, cfg *config.Config, args []string) int {
	patterns := args
	if len(patterns) == 0 {
		patterns = []string{defaultStatusGlob(cfg, data)}
	}

	code := 0
	seen := 0
	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			fmt.Fprintf(os.Stderr, "pidlock: bad pattern %q: %v\n", pattern, err)
			code = 2
			continue
		}
		for _, match := range matches {
			if ignored(cfg, match) {
				continue
			}
			seen++
			holder, err := pidlock.At(match).Query()
			switch {
			case err != nil:
				fmt.Fprintf(os.Stderr, "pidlock: query %s: %v\n", match, err)
				code = 1
			case holder != nil:
				fmt.Printf("%s: locked by pid %d\n", match, holder.Pid())
			default:
				fmt.Printf("%s: not locked\n", match)
			}
		}
	}
	if seen == 0 {
		fmt.Println("no pidfiles found")
	}
	return code
}

// ignored reports whether a pidfile path matches any configured
// status.ignore pattern. Patterns are matched slash-style per
// doublestar.
func ignored(cfg *config.Config, path string) bool {
	for _, pat := range cfg.Status.Ignore {
		if ok, err := doublestar.Match(pat, filepath.ToSlash(path)); err == nil && ok {
			return true
		}
	}
	return false
}

// ///////////////////////////////////////////////
// logs
// ///////////////////////////////////////////////

// cmdLogs prints the tail of the rotating log file.
func cmdLogs(data paths.DataDir, args []string) int {
	fs := flag.NewFlagSet("logs", flag.ExitOnError)
	n := fs.Int("n", 50, "Number of lines to print")
	fs.Parse(args)

	tail, err := logger.ReadTail(data.Log(), *n)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("no log file yet")
			return 0
		}
		fmt.Fprintf(os.Stderr, "pidlock: read logs: %v\n", err)
		return 1
	}
	fmt.Println(tail)
	return 0
}

// ///////////////////////////////////////////////
// version
// ///////////////////////////////////////////////

// cmdVersion prints the build version and, best-effort, whether a newer
// release exists.
func cmdVersion() int {
	current := resolveVersion()
	fmt.Printf("pidlock %s\n", current)
	if latest, newer := update.Check(current); newer {
		fmt.Printf("new version available: %s\n", latest)
	}
	return 0
}
