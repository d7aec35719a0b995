// Package history keeps the trailing window of samples the dashboard charts.
package history

import (
	"time"

	"github.com/verte-zerg/trafsim/internal/model"
)

// Capacity is the number of entries retained.
const Capacity = 20

// Buffer is a FIFO of at most Capacity entries in non-decreasing time order.
// It is not safe for concurrent use; the session store serializes access.
type Buffer struct {
	entries []model.HistoryEntry
}

// New returns an empty buffer.
func New() *Buffer {
	return &Buffer{entries: make([]model.HistoryEntry, 0, Capacity)}
}

// Append adds an entry at the tail and evicts from the head past Capacity.
// An entry older than the current tail is rejected and false is returned.
func (b *Buffer) Append(at time.Time, sample model.Sample) bool {
	if n := len(b.entries); n > 0 && at.Before(b.entries[n-1].At) {
		return false
	}
	b.entries = append(b.entries, model.HistoryEntry{At: at, Sample: sample})
	if over := len(b.entries) - Capacity; over > 0 {
		copy(b.entries, b.entries[over:])
		b.entries = b.entries[:Capacity]
	}
	return true
}

// Clear drops every entry.
func (b *Buffer) Clear() {
	b.entries = b.entries[:0]
}

// Len returns the number of retained entries.
func (b *Buffer) Len() int {
	return len(b.entries)
}

// Entries returns a copy of the retained entries, oldest first.
func (b *Buffer) Entries() []model.HistoryEntry {
	out := make([]model.HistoryEntry, len(b.entries))
	copy(out, b.entries)
	return out
}

// Last returns the newest entry.
func (b *Buffer) Last() (model.HistoryEntry, bool) {
	if len(b.entries) == 0 {
		return model.HistoryEntry{}, false
	}
	return b.entries[len(b.entries)-1], true
}
