// Package logs keeps a bounded history of captured output and lets
// HTTP clients query or follow it.
package logs

import (
	"log/slog"
	"time"

	"github.com/charliek/logtap/internal/constants"
	"github.com/charliek/logtap/internal/domain"
)

// ManagerConfig holds configuration for the history manager
type ManagerConfig struct {
	BufferSize         int // Number of entries kept
	SubscriptionBuffer int // Channel size per subscriber
}

// DefaultManagerConfig returns the default configuration
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		BufferSize:         constants.DefaultLogBufferSize,
		SubscriptionBuffer: constants.DefaultSubscriptionBuffer,
	}
}

// Manager stores captured chunks and broadcasts them to followers
type Manager struct {
	buffer        *RingBuffer
	subscriptions *SubscriptionManager
	now           func() time.Time
}

// NewManager creates a history manager
func NewManager(config ManagerConfig, logger *slog.Logger) *Manager {
	defaults := DefaultManagerConfig()
	if config.BufferSize <= 0 {
		config.BufferSize = defaults.BufferSize
	}
	if config.SubscriptionBuffer <= 0 {
		config.SubscriptionBuffer = defaults.SubscriptionBuffer
	}

	return &Manager{
		buffer:        NewRingBuffer(config.BufferSize),
		subscriptions: NewSubscriptionManager(config.SubscriptionBuffer, logger),
		now:           time.Now,
	}
}

// Record stores one chunk of captured text for a client session
func (m *Manager) Record(client string, kind domain.TransportKind, target, text string) {
	m.Write(domain.LogEntry{
		Timestamp: m.now(),
		Client:    client,
		Transport: kind,
		Target:    target,
		Text:      text,
	})
}

// Write adds an entry and broadcasts it
func (m *Manager) Write(entry domain.LogEntry) {
	m.buffer.Write(entry)
	m.subscriptions.Broadcast(entry)
}

// Query returns the newest limit entries matching filter and the match count before limiting
func (m *Manager) Query(filter domain.LogFilter, limit int) ([]domain.LogEntry, int, error) {
	return FilterEntriesLimit(m.buffer.Read(), filter, limit)
}

// Subscribe follows new entries matching filter
func (m *Manager) Subscribe(filter domain.LogFilter) (string, <-chan domain.LogEntry, error) {
	return m.subscriptions.Subscribe(filter)
}

// Unsubscribe stops following
func (m *Manager) Unsubscribe(id string) {
	m.subscriptions.Unsubscribe(id)
}

// Stats returns statistics about the history
func (m *Manager) Stats() domain.LogStats {
	return domain.LogStats{
		TotalEntries: m.buffer.Count(),
		BufferSize:   m.buffer.Capacity(),
		Subscribers:  m.subscriptions.Count(),
		Evicted:      m.buffer.Evicted(),
		Dropped:      m.subscriptions.Dropped(),
	}
}

// Close closes all subscriptions
func (m *Manager) Close() {
	m.subscriptions.Close()
}
