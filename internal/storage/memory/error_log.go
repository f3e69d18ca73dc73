// Package memory provides in-memory persistence for local development and tests.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/crawl-frontier/internal/store"
)

const defaultErrorLogCapacity = 1000

// ErrorLog keeps the most recent rejections in a ring buffer.
type ErrorLog struct {
	mu      sync.RWMutex
	entries []store.ErrorEntry
	next    int
	full    bool
}

// NewErrorLog creates an error log holding at most capacity entries.
func NewErrorLog(capacity int) *ErrorLog {
	if capacity <= 0 {
		capacity = defaultErrorLogCapacity
	}
	return &ErrorLog{entries: make([]store.ErrorEntry, capacity)}
}

// Push records entry, evicting the oldest one when full.
func (l *ErrorLog) Push(_ context.Context, entry store.ErrorEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[l.next] = entry
	l.next = (l.next + 1) % len(l.entries)
	if l.next == 0 {
		l.full = true
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (l *ErrorLog) Recent(_ context.Context, limit int) ([]store.ErrorEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	size := l.next
	if l.full {
		size = len(l.entries)
	}
	if limit <= 0 || limit > size {
		limit = size
	}
	out := make([]store.ErrorEntry, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (l.next - i + len(l.entries)) % len(l.entries)
		out = append(out, l.entries[idx])
	}
	return out, nil
}
