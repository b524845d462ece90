package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/charliek/logtap/internal/constants"
	"github.com/charliek/logtap/internal/domain"
	"github.com/charliek/logtap/internal/logs"
	"github.com/charliek/logtap/internal/session"
)

// HandlersConfig describes the running daemon for the status endpoint
type HandlersConfig struct {
	ConfigFile string
	BridgePath string
	BridgeEnv  map[string]string
	ShutdownFn func()
	Logger     *slog.Logger
}

// Handlers contains all HTTP handlers
type Handlers struct {
	sessions  *session.Manager
	history   *logs.Manager
	config    HandlersConfig
	startedAt time.Time
	logger    *slog.Logger
}

// NewHandlers creates new HTTP handlers
func NewHandlers(sessions *session.Manager, history *logs.Manager, config HandlersConfig) *Handlers {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		sessions:  sessions,
		history:   history,
		config:    config,
		startedAt: time.Now(),
		logger:    logger,
	}
}

// GetStatus handles GET /api/v1/status
func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	stats := h.history.Stats()

	resp := StatusResponse{
		Status:        "running",
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
		ConfigFile:    h.config.ConfigFile,
		APIVersion:    "v1",
		Clients:       h.sessions.Clients(),
		Sessions:      len(h.sessions.Sessions()),
		History: HistoryStats{
			Entries:     stats.TotalEntries,
			Capacity:    stats.BufferSize,
			Subscribers: stats.Subscribers,
			Evicted:     stats.Evicted,
			Dropped:     stats.Dropped,
		},
		Bridge: BridgeInfo{
			Path: h.config.BridgePath,
			Env:  filterSensitiveEnv(h.config.BridgeEnv),
		},
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetSessions handles GET /api/v1/sessions
func (h *Handlers) GetSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.sessions.Sessions()

	resp := SessionListResponse{
		Sessions: make([]SessionResponse, len(sessions)),
	}
	for i, s := range sessions {
		resp.Sessions[i] = ToSessionResponse(s)
	}

	writeJSON(w, http.StatusOK, resp)
}

// StopSession handles POST /api/v1/sessions/{client}/stop
func (h *Handlers) StopSession(w http.ResponseWriter, r *http.Request) {
	client := chi.URLParam(r, "client")

	if err := h.sessions.Stop(client); err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// GetLogs handles GET /api/v1/logs
func (h *Handlers) GetLogs(w http.ResponseWriter, r *http.Request) {
	filter, limit, err := parseLogParams(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	entries, total, err := h.history.Query(filter, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := LogsResponse{
		Logs:          make([]LogEntryResponse, len(entries)),
		FilteredCount: len(entries),
		TotalCount:    total,
	}
	for i, e := range entries {
		resp.Logs[i] = ToLogEntryResponse(e)
	}

	writeJSON(w, http.StatusOK, resp)
}

// Shutdown handles POST /api/v1/shutdown
func (h *Handlers) Shutdown(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})

	go func() {
		time.Sleep(100 * time.Millisecond) // Let response complete
		if h.config.ShutdownFn != nil {
			h.config.ShutdownFn()
		}
	}()
}

// parseLogParams extracts history filter parameters from the query string
func parseLogParams(r *http.Request) (domain.LogFilter, int, error) {
	query := r.URL.Query()
	filter := domain.LogFilter{
		Pattern: query.Get("pattern"),
		IsRegex: query.Get("regex") == "true",
	}

	if clients := query.Get("client"); clients != "" {
		filter.Clients = strings.Split(clients, ",")
	}

	if transport := query.Get("transport"); transport != "" {
		kind := domain.TransportKind(transport)
		if !kind.Valid() {
			return filter, 0, fmt.Errorf("%w: unknown transport %q", domain.ErrInvalidRequest, transport)
		}
		filter.Transport = kind
	}

	// Lines limit (default 100, capped at MaxLogLines)
	limit := constants.DefaultLogLimit
	if linesStr := query.Get("lines"); linesStr != "" {
		if l, err := strconv.Atoi(linesStr); err == nil && l > 0 {
			limit = min(l, constants.MaxLogLines)
		}
	}

	return filter, limit, nil
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

// writeError maps a domain error to a status code and error body
func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := domain.ErrorCode(err)
	message := err.Error()

	switch {
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrClientNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidPattern), errors.Is(err, domain.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrShutdownInProgress):
		status = http.StatusServiceUnavailable
	default:
		// Log the real error but do not leak internals to the caller
		h.logger.Error("internal error", "error", err)
		message = "an internal error occurred"
	}

	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
