package logs

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/charliek/logtap/internal/constants"
	"github.com/charliek/logtap/internal/domain"
)

// Subscription receives new history entries that pass its filter
type Subscription struct {
	id      string
	ch      chan domain.LogEntry
	filter  *Filter
	closed  atomic.Bool
	dropped atomic.Uint64
	logger  *slog.Logger
}

func newSubscription(filter domain.LogFilter, bufferSize int, logger *slog.Logger) (*Subscription, error) {
	f, err := NewFilter(filter)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	id := "sub-" + uuid.NewString()
	return &Subscription{
		id:     id,
		ch:     make(chan domain.LogEntry, bufferSize),
		filter: f,
		logger: logger.With("subscription", id),
	}, nil
}

// Send delivers the entry without blocking.
// Returns false if the subscription is closed or its buffer is full.
func (s *Subscription) Send(entry domain.LogEntry) bool {
	if s.closed.Load() {
		return false
	}
	if !s.filter.Matches(entry) {
		return true
	}

	select {
	case s.ch <- entry:
		return true
	default:
		if s.dropped.Add(1) == 1 {
			s.logger.Warn("subscriber too slow, dropping entries", "client", entry.Client)
		}
		return false
	}
}

// Close closes the channel. Safe to call more than once.
func (s *Subscription) Close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}

// SubscriptionManager fans entries out to subscribers
type SubscriptionManager struct {
	mu            sync.RWMutex
	subscriptions map[string]*Subscription
	bufferSize    int
	retired       uint64 // drops of subscriptions already removed
	logger        *slog.Logger
}

// NewSubscriptionManager creates a subscription manager
func NewSubscriptionManager(bufferSize int, logger *slog.Logger) *SubscriptionManager {
	if bufferSize <= 0 {
		bufferSize = constants.DefaultSubscriptionBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionManager{
		subscriptions: make(map[string]*Subscription),
		bufferSize:    bufferSize,
		logger:        logger,
	}
}

// Subscribe registers a new subscription
func (m *SubscriptionManager) Subscribe(filter domain.LogFilter) (string, <-chan domain.LogEntry, error) {
	sub, err := newSubscription(filter, m.bufferSize, m.logger)
	if err != nil {
		return "", nil, err
	}

	m.mu.Lock()
	m.subscriptions[sub.id] = sub
	m.mu.Unlock()

	return sub.id, sub.ch, nil
}

// Unsubscribe removes and closes a subscription
func (m *SubscriptionManager) Unsubscribe(id string) {
	m.mu.Lock()
	sub, ok := m.subscriptions[id]
	if ok {
		delete(m.subscriptions, id)
		m.retired += sub.dropped.Load()
	}
	m.mu.Unlock()

	if ok {
		sub.Close()
	}
}

// Broadcast offers the entry to every subscriber
func (m *SubscriptionManager) Broadcast(entry domain.LogEntry) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, sub := range m.subscriptions {
		sub.Send(entry)
	}
}

// Count returns the number of subscriptions
func (m *SubscriptionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscriptions)
}

// Dropped returns how many entries subscribers have missed in total
func (m *SubscriptionManager) Dropped() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := m.retired
	for _, sub := range m.subscriptions {
		total += sub.dropped.Load()
	}
	return total
}

// Close closes every subscription
func (m *SubscriptionManager) Close() {
	m.mu.Lock()
	subs := m.subscriptions
	m.subscriptions = make(map[string]*Subscription)
	for _, sub := range subs {
		m.retired += sub.dropped.Load()
	}
	m.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}
