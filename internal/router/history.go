// ABOUTME: Bounded ring buffer of routing outcomes, oldest evicted first.

package router

import (
	"sync"
	"time"

	"github.com/parley-protocol/parley/internal/protocol"
)

const defaultHistorySize = 1000

// HistoryEntry records one routed message's outcome.
type HistoryEntry struct {
	MessageID string               `json:"messageId"`
	Type      protocol.MessageType `json:"type"`
	Source    string               `json:"source"`
	SessionID string               `json:"sessionId"`
	Success   bool                 `json:"success"`
	Handler   string               `json:"handler"`
	ErrorCode string               `json:"errorCode,omitempty"`
	Duration  time.Duration        `json:"duration"`
	At        time.Time            `json:"at"`
}

// History holds the last N routing outcomes. When full, appending evicts the
// oldest entry.
type History struct {
	mu   sync.Mutex
	buf  []HistoryEntry
	next int
	size int
}

// NewHistory builds a history ring. capacity <= 0 takes the default.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = defaultHistorySize
	}
	return &History{buf: make([]HistoryEntry, capacity)}
}

// Append records one outcome, evicting the oldest entry when full.
func (h *History) Append(e HistoryEntry) {
	h.mu.Lock()
	h.buf[h.next] = e
	h.next = (h.next + 1) % len(h.buf)
	if h.size < len(h.buf) {
		h.size++
	}
	h.mu.Unlock()
}

// Snapshot returns the retained entries, oldest first.
func (h *History) Snapshot() []HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]HistoryEntry, 0, h.size)
	start := h.next - h.size
	if start < 0 {
		start += len(h.buf)
	}
	for i := 0; i < h.size; i++ {
		out = append(out, h.buf[(start+i)%len(h.buf)])
	}
	return out
}

// Len returns how many entries are retained.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.size
}

// Capacity returns the ring size.
func (h *History) Capacity() int {
	return len(h.buf)
}

// Clear drops all retained entries.
func (h *History) Clear() {
	h.mu.Lock()
	h.next = 0
	h.size = 0
	h.mu.Unlock()
}
