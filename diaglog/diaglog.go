// Package diaglog implements the device's bounded diagnostic log: a ring of
// human-readable, fixed-format messages with a drop-oldest overflow policy.
//
// The orchestration engine and controller push status and error lines into
// it; nothing on the device depends on its contents. Hosts drain it through
// the diag-log command.
package diaglog

import (
	"fmt"
	"sync"
	"time"

	"github.com/pulsefw/pulselink/internal/ring"
)

// Level classifies a diagnostic entry.
type Level uint8

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the fixed-width tag used in formatted lines.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DBG"
	case LevelInfo:
		return "INF"
	case LevelWarn:
		return "WRN"
	case LevelError:
		return "ERR"
	default:
		return "???"
	}
}

// Entry is one diagnostic message.
type Entry struct {
	Level     Level
	Module    string
	Text      string
	Timestamp time.Time
}

// Format renders the entry as a single fixed-format line.
func (e Entry) Format() string {
	return fmt.Sprintf("%s %s [%s] %s", e.Timestamp.Format("15:04:05.000"), e.Level, e.Module, e.Text)
}

// DefaultCapacity is used when New is given a non-positive capacity.
const DefaultCapacity = 64

// Log is a bounded, drop-oldest diagnostic message ring.
// All methods are safe for concurrent use.
type Log struct {
	mu   sync.Mutex
	ring *ring.Ring[Entry]
}

// New creates a Log with the given fixed capacity.
func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	return &Log{ring: ring.New[Entry](capacity)}
}

// Push appends an entry, overwriting the oldest when full.
func (l *Log) Push(level Level, module, text string, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.ring.Push(Entry{Level: level, Module: module, Text: text, Timestamp: now})
}

// Pop removes and returns the oldest entry.
func (l *Log) Pop() (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.ring.Pop()
}

// Snapshot returns the buffered entries in FIFO order without removing them.
func (l *Log) Snapshot() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.ring.Snapshot()
}

// Len returns the number of buffered entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.ring.Len()
}

// DroppedCount returns how many entries were overwritten by Push.
func (l *Log) DroppedCount() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.ring.Dropped()
}
