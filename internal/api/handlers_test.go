package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charliek/logtap/internal/domain"
	"github.com/charliek/logtap/internal/logs"
	"github.com/charliek/logtap/internal/session"
	"github.com/charliek/logtap/internal/transport"
)

// fakeBridge prints the device command it was asked to run and then stays
// attached like a log stream would
const fakeBridge = `#!/bin/sh
# -s <device> shell <command...>
shift 3
echo "$@"
exec sleep 30
`

type testEnv struct {
	server   *Server
	sessions *session.Manager
	history  *logs.Manager
	ws       *WSHandler
	shutdown atomic.Int32
}

type envOption func(*ServerConfig, *WSConfig)

func withAuth(token string) envOption {
	return func(c *ServerConfig, _ *WSConfig) {
		c.AuthEnabled = true
		c.Token = token
	}
}

func withRateLimit(rate float64, burst int) envOption {
	return func(_ *ServerConfig, c *WSConfig) {
		c.Rate = rate
		c.Burst = burst
	}
}

func setupTestServer(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	bridge := filepath.Join(t.TempDir(), "fake-sdb")
	require.NoError(t, os.WriteFile(bridge, []byte(fakeBridge), 0755))

	history := logs.NewManager(logs.ManagerConfig{BufferSize: 100, SubscriptionBuffer: 10}, nil)
	sessions := session.NewManager(session.Options{
		Local: transport.NewLocal(transport.LocalConfig{
			BridgePath: bridge,
			KillGrace:  500 * time.Millisecond,
		}, nil, nil),
		Remote:   transport.NewRemote(transport.RemoteConfig{SettleDelay: 10 * time.Millisecond}, nil, nil),
		Recorder: history,
	})

	serverConfig := ServerConfig{Host: "127.0.0.1", Port: 0}
	wsConfig := DefaultWSConfig()
	for _, opt := range opts {
		opt(&serverConfig, &wsConfig)
	}

	env := &testEnv{sessions: sessions, history: history}
	env.ws = NewWSHandler(sessions, wsConfig, nil)
	handlers := NewHandlers(sessions, history, HandlersConfig{
		ConfigFile: "logtap.yaml",
		BridgePath: bridge,
		BridgeEnv:  map[string]string{"SDB_SERIAL": "emulator-26101", "SDB_AUTH_TOKEN": "hunter2"},
		ShutdownFn: func() { env.shutdown.Add(1) },
	})
	env.server = NewServer(serverConfig, handlers, env.ws, nil)

	t.Cleanup(func() {
		env.ws.CloseAll()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sessions.Close(ctx)
		history.Close()
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v))
	return v
}

func TestGetStatus(t *testing.T) {
	env := setupTestServer(t)
	env.history.Record("c1", domain.TransportLocal, "emulator-26101", "hello\n")

	w := env.do(t, "GET", "/api/v1/status")
	assert.Equal(t, http.StatusOK, w.Code)

	resp := decode[StatusResponse](t, w)
	assert.Equal(t, "running", resp.Status)
	assert.Equal(t, "v1", resp.APIVersion)
	assert.Equal(t, "logtap.yaml", resp.ConfigFile)
	assert.Equal(t, 0, resp.Clients)
	assert.Equal(t, 0, resp.Sessions)
	assert.Equal(t, 1, resp.History.Entries)
	assert.Equal(t, 100, resp.History.Capacity)
	assert.Equal(t, "emulator-26101", resp.Bridge.Env["SDB_SERIAL"])
	assert.Equal(t, "[REDACTED]", resp.Bridge.Env["SDB_AUTH_TOKEN"])
}

func TestGetStatus_HistoryEvictions(t *testing.T) {
	env := setupTestServer(t)
	for i := 0; i < 102; i++ {
		env.history.Record("c1", domain.TransportLocal, "emulator-26101", "line\n")
	}

	resp := decode[StatusResponse](t, env.do(t, "GET", "/api/v1/status"))
	assert.Equal(t, 100, resp.History.Entries)
	assert.Equal(t, uint64(2), resp.History.Evicted)
	assert.Equal(t, uint64(0), resp.History.Dropped)
}

func TestGetSessions_Empty(t *testing.T) {
	env := setupTestServer(t)

	w := env.do(t, "GET", "/api/v1/sessions")
	assert.Equal(t, http.StatusOK, w.Code)

	resp := decode[SessionListResponse](t, w)
	assert.NotNil(t, resp.Sessions)
	assert.Empty(t, resp.Sessions)
}

func TestStopSession_NotFound(t *testing.T) {
	env := setupTestServer(t)

	w := env.do(t, "POST", "/api/v1/sessions/nobody/stop")
	assert.Equal(t, http.StatusNotFound, w.Code)

	resp := decode[ErrorResponse](t, w)
	assert.Equal(t, domain.ErrCodeClientNotFound, resp.Code)
}

func TestStopSession_ConnectedWithoutSession(t *testing.T) {
	env := setupTestServer(t)
	require.NoError(t, env.sessions.Connect("c1", session.SinkFunc(func(string, any) {})))

	w := env.do(t, "POST", "/api/v1/sessions/c1/stop")
	assert.Equal(t, http.StatusNotFound, w.Code)

	resp := decode[ErrorResponse](t, w)
	assert.Equal(t, domain.ErrCodeSessionNotFound, resp.Code)
}

func TestGetLogs(t *testing.T) {
	env := setupTestServer(t)
	env.history.Record("c1", domain.TransportLocal, "emulator-26101", "I/alpha: boot\n")
	env.history.Record("c2", domain.TransportRemote, "tv@10.0.0.5:22", "E/beta: crash\n")
	env.history.Record("c1", domain.TransportLocal, "emulator-26101", "I/alpha: ready\n")

	tests := []struct {
		name      string
		query     string
		wantTexts []string
		wantTotal int
	}{
		{"all", "", []string{"I/alpha: boot\n", "E/beta: crash\n", "I/alpha: ready\n"}, 3},
		{"by client", "?client=c2", []string{"E/beta: crash\n"}, 1},
		{"several clients", "?client=c1,c2&lines=1", []string{"I/alpha: ready\n"}, 3},
		{"by transport", "?transport=local", []string{"I/alpha: boot\n", "I/alpha: ready\n"}, 2},
		{"substring", "?pattern=crash", []string{"E/beta: crash\n"}, 1},
		{"regex", "?pattern=%5EI%2F&regex=true", []string{"I/alpha: boot\n", "I/alpha: ready\n"}, 2},
		{"bad lines ignored", "?lines=abc", []string{"I/alpha: boot\n", "E/beta: crash\n", "I/alpha: ready\n"}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, "GET", "/api/v1/logs"+tt.query)
			require.Equal(t, http.StatusOK, w.Code)

			resp := decode[LogsResponse](t, w)
			var got []string
			for _, l := range resp.Logs {
				got = append(got, l.Text)
			}
			assert.Equal(t, tt.wantTexts, got)
			assert.Equal(t, len(tt.wantTexts), resp.FilteredCount)
			assert.Equal(t, tt.wantTotal, resp.TotalCount)
		})
	}
}

func TestGetLogs_EntryFields(t *testing.T) {
	env := setupTestServer(t)
	env.history.Record("c2", domain.TransportRemote, "tv@10.0.0.5:22", "line\n")

	resp := decode[LogsResponse](t, env.do(t, "GET", "/api/v1/logs"))
	require.Len(t, resp.Logs, 1)
	assert.Equal(t, "c2", resp.Logs[0].Client)
	assert.Equal(t, "remote", resp.Logs[0].Transport)
	assert.Equal(t, "tv@10.0.0.5:22", resp.Logs[0].Target)
	_, err := time.Parse(time.RFC3339Nano, resp.Logs[0].Timestamp)
	assert.NoError(t, err)
}

func TestGetLogs_BadFilters(t *testing.T) {
	env := setupTestServer(t)

	tests := map[string]string{
		"?pattern=%5B&regex=true": domain.ErrCodeInvalidPattern,
		"?transport=serial":       domain.ErrCodeInvalidRequest,
	}
	for query, code := range tests {
		t.Run(query, func(t *testing.T) {
			w := env.do(t, "GET", "/api/v1/logs"+query)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			resp := decode[ErrorResponse](t, w)
			assert.Equal(t, code, resp.Code)
		})
	}
}

func TestParseLogParams_LinesCapped(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/v1/logs?lines=999999", nil)
	_, limit, err := parseLogParams(req)
	require.NoError(t, err)
	assert.Equal(t, 10000, limit)

	req = httptest.NewRequest("GET", "/api/v1/logs?lines=-5", nil)
	_, limit, err = parseLogParams(req)
	require.NoError(t, err)
	assert.Equal(t, 100, limit)
}

func TestShutdown(t *testing.T) {
	env := setupTestServer(t)

	w := env.do(t, "POST", "/api/v1/shutdown")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[SuccessResponse](t, w).Success)

	assert.Eventually(t, func() bool { return env.shutdown.Load() == 1 }, time.Second, 10*time.Millisecond)
}

func TestWriteError_Internal(t *testing.T) {
	env := setupTestServer(t)
	h := NewHandlers(env.sessions, env.history, HandlersConfig{})

	w := httptest.NewRecorder()
	h.writeError(w, assert.AnError)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	resp := decode[ErrorResponse](t, w)
	assert.Equal(t, "INTERNAL_ERROR", resp.Code)
	assert.Equal(t, "an internal error occurred", resp.Error)
}
