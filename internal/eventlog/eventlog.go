// Package eventlog keeps the dashboard's bounded, newest-first event log.
package eventlog

import (
	"fmt"
	"time"
)

// DefaultCapacity is the number of entries kept before the oldest are dropped.
const DefaultCapacity = 50

// Entry is one formatted log line.
type Entry struct {
	Timestamp string `json:"timestamp"`
	Message   string `json:"message"`
}

// String renders the entry as displayed.
func (e Entry) String() string {
	return fmt.Sprintf("[%s] %s", e.Timestamp, e.Message)
}

// Buffer is a capacity-bounded log with insertion at the front. It is owned
// by a single session and is not safe for concurrent use.
type Buffer struct {
	entries  []Entry
	capacity int
	now      func() time.Time
}

// New creates a buffer. A non-positive capacity selects DefaultCapacity and a
// nil clock selects time.Now.
func New(capacity int, now func() time.Time) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if now == nil {
		now = time.Now
	}
	return &Buffer{capacity: capacity, now: now}
}

// Append timestamps msg and prepends it, dropping tail entries past capacity.
func (b *Buffer) Append(msg string) {
	e := Entry{Timestamp: b.now().Format("15:04:05"), Message: msg}
	n := len(b.entries) + 1
	if n > b.capacity {
		n = b.capacity
	}
	next := make([]Entry, n)
	next[0] = e
	copy(next[1:], b.entries)
	b.entries = next
}

// Appendf is Append with fmt.Sprintf formatting.
func (b *Buffer) Appendf(format string, args ...any) {
	b.Append(fmt.Sprintf(format, args...))
}

// Entries returns a copy of the log, newest first.
func (b *Buffer) Entries() []Entry {
	out := make([]Entry, len(b.entries))
	copy(out, b.entries)
	return out
}

// Lines returns the formatted log lines, newest first.
func (b *Buffer) Lines() []string {
	out := make([]string, len(b.entries))
	for i, e := range b.entries {
		out[i] = e.String()
	}
	return out
}

// Len returns the number of retained entries.
func (b *Buffer) Len() int { return len(b.entries) }

// Reset drops every entry.
func (b *Buffer) Reset() { b.entries = nil }
