package daemon

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestState_Write_Validation(t *testing.T) {
	tests := []struct {
		name    string
		state   State
		wantErr bool
	}{
		{"valid min port", State{PID: 1, Port: 1, Host: "127.0.0.1"}, false},
		{"valid max port", State{PID: 1, Port: 65535, Host: "127.0.0.1"}, false},
		{"config file optional", State{PID: 1, Port: 5556, Host: "127.0.0.1", ConfigFile: ""}, false},
		{"zero port", State{PID: 1, Port: 0, Host: "127.0.0.1"}, true},
		{"port too high", State{PID: 1, Port: 65536, Host: "127.0.0.1"}, true},
		{"zero PID", State{PID: 0, Port: 5556, Host: "127.0.0.1"}, true},
		{"negative PID", State{PID: -1, Port: 5556, Host: "127.0.0.1"}, true},
		{"empty host", State{PID: 1, Port: 5556}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.state.Write(t.TempDir())
			if (err != nil) != tt.wantErr {
				t.Errorf("Write error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestState_WriteAndLoad(t *testing.T) {
	tmpDir := t.TempDir()

	original := &State{
		PID:         12345,
		Port:        5556,
		Host:        "127.0.0.1",
		StartedAt:   time.Now().Truncate(time.Second),
		ConfigFile:  "logtap.yaml",
		AuthEnabled: true,
	}

	if err := original.Write(tmpDir); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	info, err := os.Stat(filepath.Join(tmpDir, StateDirName, StateFileName))
	if err != nil {
		t.Fatalf("state file was not created: %v", err)
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		t.Errorf("expected permissions 0600, got %o", mode)
	}
	if _, err := os.Stat(StatePath(tmpDir) + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary state file left behind")
	}

	loaded, err := LoadState(tmpDir)
	if err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}

	if loaded.PID != original.PID || loaded.Port != original.Port || loaded.Host != original.Host {
		t.Errorf("address mismatch: got %+v, want %+v", loaded, original)
	}
	if loaded.ConfigFile != original.ConfigFile || !loaded.AuthEnabled {
		t.Errorf("metadata mismatch: got %+v, want %+v", loaded, original)
	}
	if !loaded.StartedAt.Equal(original.StartedAt) {
		t.Errorf("StartedAt mismatch: got %v, want %v", loaded.StartedAt, original.StartedAt)
	}
	if got := loaded.URL(); got != "http://127.0.0.1:5556" {
		t.Errorf("URL = %q", got)
	}
}

func TestState_AddrIPv6(t *testing.T) {
	s := &State{Host: "::1", Port: 5556}
	if got := s.Addr(); got != "[::1]:5556" {
		t.Errorf("Addr = %q, want [::1]:5556", got)
	}
}

func TestLoadState_Errors(t *testing.T) {
	tmpDir := t.TempDir()

	if _, err := LoadState(tmpDir); !errors.Is(err, ErrStateNotFound) {
		t.Errorf("expected ErrStateNotFound, got %v", err)
	}

	if err := EnsureStateDir(tmpDir); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(StatePath(tmpDir), []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadState(tmpDir); err == nil || errors.Is(err, ErrStateNotFound) {
		t.Errorf("expected a parse error, got %v", err)
	}
}

func TestPaths(t *testing.T) {
	dir := "/some/path"
	tests := []struct {
		got  string
		want string
	}{
		{StateDir(dir), "/some/path/.logtap"},
		{StatePath(dir), "/some/path/.logtap/logtap.state"},
		{PIDPath(dir), "/some/path/.logtap/logtap.pid"},
		{LogPath(dir), "/some/path/.logtap/logtap.log"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}

	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if got := StateDir(""); got != filepath.Join(wd, StateDirName) {
		t.Errorf("StateDir(\"\") = %q", got)
	}
}

func TestRemoveState(t *testing.T) {
	tmpDir := t.TempDir()

	if err := RemoveState(tmpDir); err != nil {
		t.Errorf("removing missing state should succeed: %v", err)
	}

	state := &State{PID: 1, Port: 5556, Host: "127.0.0.1"}
	if err := state.Write(tmpDir); err != nil {
		t.Fatal(err)
	}
	if err := RemoveState(tmpDir); err != nil {
		t.Fatalf("RemoveState failed: %v", err)
	}
	if _, err := os.Stat(StatePath(tmpDir)); !os.IsNotExist(err) {
		t.Error("state file should have been removed")
	}
}

func TestCleanupStateDir(t *testing.T) {
	tmpDir := t.TempDir()
	if err := EnsureStateDir(tmpDir); err != nil {
		t.Fatal(err)
	}

	for _, path := range []string{StatePath(tmpDir), PIDPath(tmpDir), LogPath(tmpDir)} {
		if err := os.WriteFile(path, []byte("x"), 0600); err != nil {
			t.Fatal(err)
		}
	}

	if err := CleanupStateDir(tmpDir); err != nil {
		t.Fatalf("CleanupStateDir failed: %v", err)
	}

	if _, err := os.Stat(StatePath(tmpDir)); !os.IsNotExist(err) {
		t.Error("state file should have been removed")
	}
	if _, err := os.Stat(PIDPath(tmpDir)); !os.IsNotExist(err) {
		t.Error("PID file should have been removed")
	}
	if _, err := os.Stat(LogPath(tmpDir)); err != nil {
		t.Error("log file should be kept")
	}
}
