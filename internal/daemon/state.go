package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	// StateDirName is the name of the directory storing runtime state
	StateDirName = ".logtap"
	// StateFileName is the name of the state file
	StateFileName = "logtap.state"
	// PIDFileName is the name of the PID file
	PIDFileName = "logtap.pid"
	// LogFileName is the name of the daemon log file
	LogFileName = "logtap.log"
)

// State describes a running logtap server so that CLI commands started in
// the same directory can find it.
//
// The server writes state once at startup and removes it on shutdown.
type State struct {
	PID         int       `json:"pid"`
	Port        int       `json:"port"`
	Host        string    `json:"host"`
	StartedAt   time.Time `json:"started_at"`
	ConfigFile  string    `json:"config_file,omitempty"`
	AuthEnabled bool      `json:"auth_enabled"`
}

// Addr returns host:port
func (s *State) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// URL returns the base HTTP URL of the server
func (s *State) URL() string {
	return "http://" + s.Addr()
}

// Write writes the state to the state file in the given directory
func (s *State) Write(dir string) error {
	if s.PID <= 0 {
		return fmt.Errorf("invalid PID: %d", s.PID)
	}
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("invalid port: %d", s.Port)
	}
	if s.Host == "" {
		return errors.New("host cannot be empty")
	}

	if err := EnsureStateDir(dir); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}

	// Write then rename so readers never see a partial file
	statePath := StatePath(dir)
	tmp := statePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("writing state file: %w", err)
	}
	if err := os.Rename(tmp, statePath); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replacing state file: %w", err)
	}

	return nil
}

// LoadState reads the state from the state file in the given directory
func LoadState(dir string) (*State, error) {
	data, err := os.ReadFile(StatePath(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrStateNotFound
		}
		return nil, fmt.Errorf("reading state file: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshaling state: %w", err)
	}

	return &state, nil
}

// RemoveState removes the state file from the given directory
func RemoveState(dir string) error {
	if err := os.Remove(StatePath(dir)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing state file: %w", err)
	}
	return nil
}

// StateDir returns the path to the .logtap directory in dir.
// An empty dir means the working directory.
func StateDir(dir string) string {
	if dir == "" {
		var err error
		dir, err = os.Getwd()
		if err != nil {
			return StateDirName
		}
	}
	return filepath.Join(dir, StateDirName)
}

// StatePath returns the full path to the state file
func StatePath(dir string) string {
	return filepath.Join(StateDir(dir), StateFileName)
}

// PIDPath returns the full path to the PID file
func PIDPath(dir string) string {
	return filepath.Join(StateDir(dir), PIDFileName)
}

// LogPath returns the full path to the daemon log file
func LogPath(dir string) string {
	return filepath.Join(StateDir(dir), LogFileName)
}

// EnsureStateDir creates the .logtap directory if it doesn't exist
func EnsureStateDir(dir string) error {
	if err := os.MkdirAll(StateDir(dir), 0700); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	return nil
}

// CleanupStateDir removes the state and PID files. The log is kept.
func CleanupStateDir(dir string) error {
	for _, path := range []string{StatePath(dir), PIDPath(dir)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing %s: %w", filepath.Base(path), err)
		}
	}
	return nil
}
