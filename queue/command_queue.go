package queue

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pulsefw/pulselink/wire"
)

// DefaultCommandQueueCapacity is used when NewCommandQueue is given a
// non-positive capacity.
const DefaultCommandQueueCapacity = 16

// PendingCommand wraps a validated inbound frame awaiting dispatch.
type PendingCommand struct {
	Frame wire.Frame

	// Sequence is assigned at enqueue time, monotonically increasing per
	// device session and never reused. It is distinct from the
	// caller-supplied Frame.ID.
	Sequence uint32

	EnqueuedAt time.Time
	Timeout    time.Duration
}

// Expired reports whether the command has outlived its timeout at the given
// instant. The boundary is exclusive: a command whose elapsed time equals
// its timeout is retained.
func (c *PendingCommand) Expired(now time.Time) bool {
	return now.Sub(c.EnqueuedAt) > c.Timeout
}

// CommandQueue is a bounded FIFO of validated commands with per-command
// timeout eviction.
type CommandQueue struct {
	mu      sync.Mutex
	items   []PendingCommand // fixed backing array
	head    int
	count   int
	lastSeq uint32

	dropped  atomic.Uint64
	timedOut atomic.Uint64
}

// NewCommandQueue creates a queue with the given fixed capacity.
func NewCommandQueue(capacity int) *CommandQueue {
	if capacity <= 0 {
		capacity = DefaultCommandQueueCapacity
	}

	return &CommandQueue{items: make([]PendingCommand, capacity)}
}

// Enqueue assigns the next sequence number and stores the command.
//
// Returns false and increments the dropped counter if the queue is full;
// it never blocks or evicts to make room.
func (q *CommandQueue) Enqueue(frame *wire.Frame, now time.Time, timeout time.Duration) bool {
	q.mu.Lock()

	if q.count == len(q.items) {
		q.mu.Unlock()
		q.dropped.Add(1)

		return false
	}

	q.lastSeq++
	tail := (q.head + q.count) % len(q.items)
	q.items[tail] = PendingCommand{
		Frame:      *frame,
		Sequence:   q.lastSeq,
		EnqueuedAt: now,
		Timeout:    timeout,
	}
	q.count++

	q.mu.Unlock()

	return true
}

// Dequeue removes and returns the oldest command (smallest sequence number
// still enqueued). The second return value is false when the queue is empty.
func (q *CommandQueue) Dequeue() (PendingCommand, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return PendingCommand{}, false
	}

	cmd := q.items[q.head]
	q.items[q.head] = PendingCommand{}
	q.head = (q.head + 1) % len(q.items)
	q.count--

	return cmd, true
}

// RemoveTimedOut evicts every entry whose elapsed time strictly exceeds its
// timeout and returns the number evicted. Survivors keep their FIFO order.
//
// This cooperative scan is the queue's only form of cancellation; there is
// no per-command cancel operation.
func (q *CommandQueue) RemoveTimedOut(now time.Time) int {
	q.mu.Lock()

	kept := 0
	for i := 0; i < q.count; i++ {
		idx := (q.head + i) % len(q.items)
		if q.items[idx].Expired(now) {
			continue
		}

		// kept <= i, so this write never overtakes the read cursor.
		q.items[(q.head+kept)%len(q.items)] = q.items[idx]
		kept++
	}

	evicted := q.count - kept

	// Clear the vacated tail slots.
	for i := kept; i < q.count; i++ {
		q.items[(q.head+i)%len(q.items)] = PendingCommand{}
	}
	q.count = kept

	q.mu.Unlock()

	if evicted > 0 {
		q.timedOut.Add(uint64(evicted))
	}

	return evicted
}

// Len returns the number of queued commands.
func (q *CommandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.count
}

// IsFull reports whether the queue is at capacity.
func (q *CommandQueue) IsFull() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.count == len(q.items)
}

// Cap returns the fixed capacity.
func (q *CommandQueue) Cap() int { return len(q.items) }

// DroppedCount returns the number of commands rejected because the queue
// was full.
func (q *CommandQueue) DroppedCount() uint64 { return q.dropped.Load() }

// TimeoutCount returns the number of commands evicted by RemoveTimedOut.
func (q *CommandQueue) TimeoutCount() uint64 { return q.timedOut.Load() }

// CurrentSequence returns the most recently assigned sequence number, or 0
// if nothing has ever been enqueued.
func (q *CommandQueue) CurrentSequence() uint32 {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.lastSeq
}

// ResetStats clears the dropped and timeout counters. Sequence numbers are
// never reset within a session.
func (q *CommandQueue) ResetStats() {
	q.dropped.Store(0)
	q.timedOut.Store(0)
}
