// Package daemon manages a background logtap server: the PID lock, the state
// file clients use to find it, and re-executing the binary detached from the
// terminal.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// DaemonEnvVar marks the re-executed child process
const DaemonEnvVar = "_LOGTAP_DAEMON"

// IsDaemonChild returns true if this process is a daemon child process
func IsDaemonChild() bool {
	return os.Getenv(DaemonEnvVar) == "1"
}

// Daemonize re-executes the current binary with the same arguments in a new
// session, marked with DaemonEnvVar, and returns the child's PID. The caller
// is expected to exit afterwards.
//
// The child may still fail during startup after this returns; clients find
// the server through the state file and report when it is missing.
func Daemonize() (int, error) {
	executable, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("getting executable path: %w", err)
	}

	cmd := exec.Command(executable, os.Args[1:]...)
	cmd.Env = append(os.Environ(), DaemonEnvVar+"=1")

	// Detach from the terminal
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}

	// The child writes to its own log file
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("starting daemon process: %w", err)
	}

	pid := cmd.Process.Pid
	// Not waiting on the child; release its resources on our side
	_ = cmd.Process.Release()

	return pid, nil
}

// SetupLogging redirects stdout and stderr to the daemon log file and
// returns the file so the caller can point its logger at it.
func SetupLogging(dir string) (*os.File, error) {
	if err := EnsureStateDir(dir); err != nil {
		return nil, err
	}

	logFile, err := os.OpenFile(LogPath(dir), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}

	os.Stdout = logFile
	os.Stderr = logFile

	return logFile, nil
}

// IsRunning reports whether a logtap server owns the state directory in dir.
// The PID lock is checked first; the state file's PID is a fallback for
// servers that lost their lock file.
func IsRunning(dir string) bool {
	if IsLocked(PIDPath(dir)) {
		return true
	}

	state, err := LoadState(dir)
	if err != nil {
		return false
	}

	return ProcessExists(state.PID)
}

// GetRunningState returns the state of a running server, or ErrNotRunning
func GetRunningState(dir string) (*State, error) {
	if !IsRunning(dir) {
		return nil, ErrNotRunning
	}
	return LoadState(dir)
}

// CleanupStaleFiles removes state left behind by a server that died
// without cleaning up. Returns ErrAlreadyRunning if one is still alive.
func CleanupStaleFiles(dir string) error {
	if IsLocked(PIDPath(dir)) {
		return ErrAlreadyRunning
	}

	state, err := LoadState(dir)
	if err != nil {
		if errors.Is(err, ErrStateNotFound) {
			return nil
		}
		return err
	}

	if ProcessExists(state.PID) && state.PID != os.Getpid() {
		return ErrAlreadyRunning
	}

	return CleanupStateDir(dir)
}
