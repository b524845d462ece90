package daemon

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/gofrs/flock"
)

// PIDFile is a PID file held under an exclusive advisory lock for the
// lifetime of the server.
//
// PIDFile is not safe for concurrent use.
type PIDFile struct {
	path string
	lock *flock.Flock
}

// NewPIDFile creates a new PIDFile manager for the given path
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path}
}

// Path returns the PID file location
func (p *PIDFile) Path() string {
	return p.path
}

// Create locks the PID file and writes the current process's PID into it.
// Returns ErrPIDFileLocked if another process holds the lock.
func (p *PIDFile) Create() error {
	lock := flock.New(p.path, flock.SetFlag(os.O_CREATE|os.O_RDWR), flock.SetPermissions(0600))

	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("locking PID file: %w", err)
	}
	if !locked {
		return ErrPIDFileLocked
	}

	// The lock belongs to the open file description, not the path, so
	// rewriting the contents through a second descriptor keeps it held.
	if err := os.WriteFile(p.path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0600); err != nil {
		_ = lock.Unlock()
		return fmt.Errorf("writing PID: %w", err)
	}

	p.lock = lock
	return nil
}

// Release unlocks and removes the PID file
func (p *PIDFile) Release() error {
	if p.lock == nil {
		return nil
	}

	unlockErr := p.lock.Unlock()
	p.lock = nil

	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing PID file: %w", err)
	}
	if unlockErr != nil {
		return fmt.Errorf("unlocking PID file: %w", unlockErr)
	}
	return nil
}

// IsLocked reports whether another process holds the PID file lock.
// A missing file is not locked.
func IsLocked(path string) bool {
	if _, err := os.Stat(path); err != nil {
		return false
	}

	lock := flock.New(path, flock.SetFlag(os.O_RDONLY))
	ok, err := lock.TryRLock()
	if err != nil {
		return false
	}
	if !ok {
		return true
	}
	_ = lock.Unlock()
	return false
}

// ReadPID reads the PID from a PID file
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parsing PID: %w", err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("parsing PID: invalid value %d", pid)
	}

	return pid, nil
}

// ProcessExists checks if a process with the given PID exists
func ProcessExists(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// On Unix FindProcess always succeeds; signal 0 probes for existence.
	// EPERM means the process exists but belongs to someone else.
	err = process.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
