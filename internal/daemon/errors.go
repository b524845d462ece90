package daemon

import "errors"

var (
	// ErrStateNotFound is returned when no state file exists
	ErrStateNotFound = errors.New("state file not found")
	// ErrAlreadyRunning is returned when a logtap server is already running
	ErrAlreadyRunning = errors.New("logtap server is already running")
	// ErrNotRunning is returned when no logtap server is running
	ErrNotRunning = errors.New("logtap server is not running")
	// ErrPIDFileLocked is returned when the PID file is locked by another process
	ErrPIDFileLocked = errors.New("PID file is locked by another process")
)
