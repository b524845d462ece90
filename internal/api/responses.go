package api

import (
	"strings"
	"time"

	"github.com/charliek/logtap/internal/domain"
)

// sensitiveEnvPatterns contains patterns that indicate sensitive environment variables
var sensitiveEnvPatterns = []string{
	"PASSWORD",
	"SECRET",
	"KEY",
	"TOKEN",
	"CREDENTIAL",
	"PRIVATE",
	"AUTH",
	"ACCESSKEY",
}

// StatusResponse represents the response for GET /status
type StatusResponse struct {
	Status        string       `json:"status"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	ConfigFile    string       `json:"config_file,omitempty"`
	APIVersion    string       `json:"api_version"`
	Clients       int          `json:"clients"`
	Sessions      int          `json:"sessions"`
	History       HistoryStats `json:"history"`
	Bridge        BridgeInfo   `json:"bridge"`
}

// HistoryStats describes the capture history buffer
type HistoryStats struct {
	Entries     int    `json:"entries"`
	Capacity    int    `json:"capacity"`
	Subscribers int    `json:"subscribers"`
	Evicted     uint64 `json:"evicted"`
	Dropped     uint64 `json:"dropped"`
}

// BridgeInfo describes the local device bridge
type BridgeInfo struct {
	Path string            `json:"path"`
	Env  map[string]string `json:"env,omitempty"`
}

// SessionListResponse represents the response for GET /sessions
type SessionListResponse struct {
	Sessions []SessionResponse `json:"sessions"`
}

// SessionResponse represents a single capture session
type SessionResponse struct {
	Client        string `json:"client"`
	Transport     string `json:"transport"`
	Target        string `json:"target"`
	Command       string `json:"command"`
	StartedAt     string `json:"started_at"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// LogsResponse represents the response for GET /logs
type LogsResponse struct {
	Logs          []LogEntryResponse `json:"logs"`
	FilteredCount int                `json:"filtered_count"`
	TotalCount    int                `json:"total_count"`
}

// LogEntryResponse represents a single history entry
type LogEntryResponse struct {
	Timestamp string `json:"timestamp"`
	Client    string `json:"client"`
	Transport string `json:"transport"`
	Target    string `json:"target"`
	Text      string `json:"text"`
}

// SuccessResponse represents a simple success response
type SuccessResponse struct {
	Success bool `json:"success"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// ToSessionResponse converts domain.SessionInfo to SessionResponse
func ToSessionResponse(info domain.SessionInfo) SessionResponse {
	return SessionResponse{
		Client:        info.Client,
		Transport:     string(info.Transport),
		Target:        info.Target,
		Command:       info.Command,
		StartedAt:     info.StartedAt.Format(time.RFC3339),
		UptimeSeconds: info.UptimeSeconds(),
	}
}

// filterSensitiveEnv replaces the values of sensitive variables with "[REDACTED]"
func filterSensitiveEnv(env map[string]string) map[string]string {
	if env == nil {
		return nil
	}

	filtered := make(map[string]string, len(env))
	for key, value := range env {
		if isSensitiveEnvVar(key) {
			filtered[key] = "[REDACTED]"
		} else {
			filtered[key] = value
		}
	}
	return filtered
}

// isSensitiveEnvVar checks if an environment variable name matches sensitive patterns
func isSensitiveEnvVar(name string) bool {
	upperName := strings.ToUpper(name)
	for _, pattern := range sensitiveEnvPatterns {
		if strings.Contains(upperName, pattern) {
			return true
		}
	}
	return false
}

// ToLogEntryResponse converts domain.LogEntry to LogEntryResponse
func ToLogEntryResponse(entry domain.LogEntry) LogEntryResponse {
	return LogEntryResponse{
		Timestamp: entry.Timestamp.Format(time.RFC3339Nano),
		Client:    entry.Client,
		Transport: string(entry.Transport),
		Target:    entry.Target,
		Text:      entry.Text,
	}
}
