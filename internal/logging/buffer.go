package logging

import (
	"sync"
	"time"
)

// LogEntry is one record kept for the log stream endpoint.
type LogEntry struct {
	Seq        uint64         `json:"seq"`
	Timestamp  time.Time      `json:"timestamp"`
	Level      string         `json:"level"`
	Module     string         `json:"module"`
	Message    string         `json:"message"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// RingBuffer keeps the most recent entries. Safe for concurrent use.
type RingBuffer struct {
	mu    sync.RWMutex
	slots []LogEntry
	next  uint64 // total writes; next slot is next % len(slots)
}

// NewRingBuffer creates a buffer holding up to size entries.
func NewRingBuffer(size int) *RingBuffer {
	if size < 1 {
		size = 1
	}
	return &RingBuffer{slots: make([]LogEntry, size)}
}

// Write stores entry, dropping the oldest one when full.
func (rb *RingBuffer) Write(entry LogEntry) {
	rb.mu.Lock()
	rb.slots[rb.next%uint64(len(rb.slots))] = entry
	rb.next++
	rb.mu.Unlock()
}

// ReadAll returns the buffered entries, oldest first.
func (rb *RingBuffer) ReadAll() []LogEntry {
	return rb.Since(0)
}

// Since returns buffered entries with Seq greater than seq, oldest first.
// Entries without a sequence number are always included.
func (rb *RingBuffer) Since(seq uint64) []LogEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	n := rb.count()
	if n == 0 {
		return nil
	}
	out := make([]LogEntry, 0, n)
	size := uint64(len(rb.slots))
	for i := rb.next - uint64(n); i < rb.next; i++ {
		e := rb.slots[i%size]
		if e.Seq == 0 || e.Seq > seq {
			out = append(out, e)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Count returns the number of buffered entries.
func (rb *RingBuffer) Count() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count()
}

func (rb *RingBuffer) count() int {
	return int(min(rb.next, uint64(len(rb.slots))))
}
