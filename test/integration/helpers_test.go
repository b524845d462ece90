package integration

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeBridge stands in for sdb: it prints the device and command it was
// given, then keeps the stream open
const fakeBridge = `#!/bin/sh
# -s <device> shell <command...>
echo "device=$2"
shift 3
echo "$@"
exec sleep 60
`

// buildBinary builds the logtap binary and returns its path
func buildBinary(t *testing.T) string {
	t.Helper()

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get working directory: %v", err)
	}
	projectRoot := filepath.Join(wd, "..", "..")

	binary := filepath.Join(t.TempDir(), "logtap")

	cmd := exec.Command("go", "build", "-o", binary, "./cmd/logtap")
	cmd.Dir = projectRoot
	output, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("failed to build binary: %v\n%s", err, output)
	}

	return binary
}

// writeConfig writes a logtap.yaml using the fake bridge and returns the
// directory holding it
func writeConfig(t *testing.T, port int) string {
	t.Helper()

	dir := t.TempDir()
	bridge := filepath.Join(dir, "fake-sdb")
	requireNoError(t, os.WriteFile(bridge, []byte(fakeBridge), 0755), "writing fake bridge")

	config := fmt.Sprintf(`api:
  host: 127.0.0.1
  port: %d
bridge:
  path: %s
  kill_grace: 500ms
commands:
  local: "logcat $(TAGS)"
`, port, bridge)
	requireNoError(t, os.WriteFile(filepath.Join(dir, "logtap.yaml"), []byte(config), 0600), "writing config")

	return dir
}

// freePort returns a TCP port nothing is listening on
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	requireNoError(t, err, "finding free port")
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// waitForAPI waits for the API to be ready
func waitForAPI(t *testing.T, addr string, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(addr + "/api/v1/status")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("API did not become ready within %v", timeout)
}

// startLogtap starts the logtap binary in dir with the given arguments
func startLogtap(t *testing.T, binary, dir string, args ...string) *exec.Cmd {
	t.Helper()

	cmd := exec.Command(binary, args...)
	cmd.Dir = dir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		t.Fatalf("failed to start logtap: %v", err)
	}

	return cmd
}

// runLogtap runs a client command to completion and returns its output
func runLogtap(t *testing.T, binary, dir string, args ...string) (string, error) {
	t.Helper()

	cmd := exec.Command(binary, args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	return string(output), err
}

// stopLogtap sends shutdown request to logtap via API
func stopLogtap(addr string) error {
	req, err := http.NewRequest(http.MethodPost, addr+"/api/v1/shutdown", nil)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// killLogtap forcefully kills the logtap process
func killLogtap(cmd *exec.Cmd) {
	if cmd != nil && cmd.Process != nil {
		cmd.Process.Kill()
		cmd.Wait()
	}
}

// frame is one websocket message
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// dialCapture opens a capture connection
func dialCapture(t *testing.T, addr string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(strings.Replace(addr, "http://", "ws://", 1)+"/ws", nil)
	requireNoError(t, err, "dialing websocket")
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads frames until one with the given event arrives
func readUntil(t *testing.T, conn *websocket.Conn, event string, timeout time.Duration) []frame {
	t.Helper()

	requireNoError(t, conn.SetReadDeadline(time.Now().Add(timeout)), "setting deadline")
	var frames []frame
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("waiting for %s: %v (got %+v)", event, err, frames)
		}
		frames = append(frames, f)
		if f.Event == event {
			return frames
		}
	}
}

// waitForStateFile waits for the state file to be created
func waitForStateFile(t *testing.T, path string, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("state file %s was not created within %v", path, timeout)
}

// waitForGone waits for a file to be removed
func waitForGone(t *testing.T, path string, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Errorf("%s still exists after %v", path, timeout)
}

// requireNoError fails the test if err is not nil
func requireNoError(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %v", msg, err)
	}
}

// skipShort skips the test if -short flag is provided
func skipShort(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
}
