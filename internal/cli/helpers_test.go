package cli

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/charliek/logtap/internal/api"
	"github.com/charliek/logtap/internal/logs"
	"github.com/charliek/logtap/internal/session"
	"github.com/charliek/logtap/internal/transport"
)

// fakeBridge prints the command it was asked to run and keeps the stream open
const fakeBridge = `#!/bin/sh
shift 3
echo "$@"
exec sleep 30
`

// isolateHome points the token directory at a temp dir
func isolateHome(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	homeDirOverride = dir
	t.Cleanup(func() { homeDirOverride = "" })
	return dir
}

// syncBuffer is a bytes.Buffer safe for concurrent writers
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// testServer is a real API server backed by the fake bridge
type testServer struct {
	*httptest.Server
	sessions *session.Manager
	history  *logs.Manager
}

func newTestServer(t *testing.T, config api.ServerConfig) *testServer {
	t.Helper()
	isolateHome(t)

	bridge := filepath.Join(t.TempDir(), "fake-sdb")
	if err := os.WriteFile(bridge, []byte(fakeBridge), 0755); err != nil {
		t.Fatal(err)
	}

	history := logs.NewManager(logs.ManagerConfig{BufferSize: 100, SubscriptionBuffer: 10}, nil)
	sessions := session.NewManager(session.Options{
		Local: transport.NewLocal(transport.LocalConfig{
			BridgePath: bridge,
			KillGrace:  500 * time.Millisecond,
		}, nil, nil),
		Remote:   transport.NewRemote(transport.RemoteConfig{SettleDelay: 10 * time.Millisecond}, nil, nil),
		Recorder: history,
	})
	ws := api.NewWSHandler(sessions, api.DefaultWSConfig(), nil)
	handlers := api.NewHandlers(sessions, history, api.HandlersConfig{BridgePath: bridge})
	server := api.NewServer(config, handlers, ws, nil)

	ts := &testServer{
		Server:   httptest.NewServer(server.Handler()),
		sessions: sessions,
		history:  history,
	}
	t.Cleanup(func() {
		ws.CloseAll()
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sessions.Close(ctx)
		history.Close()
	})
	return ts
}
