package logs

import (
	"sync"

	"github.com/charliek/logtap/internal/constants"
	"github.com/charliek/logtap/internal/domain"
)

// RingBuffer keeps the most recent captured chunks, oldest first
type RingBuffer struct {
	mu      sync.RWMutex
	entries []domain.LogEntry
	next    int // slot the next write lands in
	size    int // number of live entries
	dropped uint64
}

// NewRingBuffer creates a ring buffer holding up to capacity entries
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = constants.DefaultLogBufferSize
	}
	return &RingBuffer{entries: make([]domain.LogEntry, capacity)}
}

// Write appends an entry, evicting the oldest one when full
func (b *RingBuffer) Write(entry domain.LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.size == len(b.entries) {
		b.dropped++
	} else {
		b.size++
	}
	b.entries[b.next] = entry
	b.next = (b.next + 1) % len(b.entries)
}

// Read returns every entry in write order
func (b *RingBuffer) Read() []domain.LogEntry {
	return b.ReadLast(-1)
}

// ReadLast returns the newest n entries in write order. A negative n reads everything.
func (b *RingBuffer) ReadLast(n int) []domain.LogEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n < 0 || n > b.size {
		n = b.size
	}
	if n == 0 {
		return nil
	}

	out := make([]domain.LogEntry, n)
	first := b.next - n
	if first < 0 {
		first += len(b.entries)
	}
	for i := range out {
		out[i] = b.entries[(first+i)%len(b.entries)]
	}
	return out
}

// Count returns the number of entries held
func (b *RingBuffer) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Capacity returns the maximum number of entries held
func (b *RingBuffer) Capacity() int {
	return len(b.entries)
}

// Evicted returns how many entries were overwritten
func (b *RingBuffer) Evicted() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}
