package queue

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pulsefw/pulselink/wire"
)

// DefaultResponseQueueCapacity is used when NewResponseQueue is given a
// non-positive capacity.
const DefaultResponseQueueCapacity = 16

// QueuedResponse wraps an outbound response frame awaiting transmission.
type QueuedResponse struct {
	Frame wire.Frame

	// Sequence is inherited from the originating command.
	Sequence uint32

	EnqueuedAt time.Time

	// RetryCount is the number of transmission retries so far; it starts
	// at 0 and is incremented by RequeueForRetry.
	RetryCount int
}

// ResponseQueue is a bounded FIFO of outbound responses with a bounded
// per-response retry budget.
type ResponseQueue struct {
	mu    sync.Mutex
	items []QueuedResponse // fixed backing array
	head  int
	count int

	dropped   atomic.Uint64
	retried   atomic.Uint64
	txFailure atomic.Uint64
}

// NewResponseQueue creates a queue with the given fixed capacity.
func NewResponseQueue(capacity int) *ResponseQueue {
	if capacity <= 0 {
		capacity = DefaultResponseQueueCapacity
	}

	return &ResponseQueue{items: make([]QueuedResponse, capacity)}
}

// Enqueue stores a response carrying the originating command's sequence
// number. Returns false and increments the dropped counter if the queue is
// full; existing entries are never evicted.
func (q *ResponseQueue) Enqueue(frame *wire.Frame, sequence uint32, now time.Time) bool {
	return q.push(QueuedResponse{
		Frame:      *frame,
		Sequence:   sequence,
		EnqueuedAt: now,
	})
}

// Dequeue removes and returns the oldest response.
func (q *ResponseQueue) Dequeue() (QueuedResponse, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return QueuedResponse{}, false
	}

	rsp := q.items[q.head]
	q.items[q.head] = QueuedResponse{}
	q.head = (q.head + 1) % len(q.items)
	q.count--

	return rsp, true
}

// RequeueForRetry increments the response's retry count and, if it is still
// within maxRetries, re-inserts it at the back of the queue (transmission
// order is not preserved across retries) and returns true.
//
// When the budget is exhausted the response is discarded, the transmission
// failure counter is incremented, and false is returned. maxRetries of 0
// means no retry is ever permitted. A queue that is full at requeue time
// also discards the response, counting it as a drop.
func (q *ResponseQueue) RequeueForRetry(rsp QueuedResponse, maxRetries int) bool {
	rsp.RetryCount++
	if rsp.RetryCount > maxRetries {
		q.txFailure.Add(1)

		return false
	}

	if !q.push(rsp) {
		return false
	}

	q.retried.Add(1)

	return true
}

func (q *ResponseQueue) push(rsp QueuedResponse) bool {
	q.mu.Lock()

	if q.count == len(q.items) {
		q.mu.Unlock()
		q.dropped.Add(1)

		return false
	}

	tail := (q.head + q.count) % len(q.items)
	q.items[tail] = rsp
	q.count++

	q.mu.Unlock()

	return true
}

// Len returns the number of queued responses.
func (q *ResponseQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.count
}

// IsFull reports whether the queue is at capacity.
func (q *ResponseQueue) IsFull() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.count == len(q.items)
}

// Cap returns the fixed capacity.
func (q *ResponseQueue) Cap() int { return len(q.items) }

// DroppedCount returns the number of responses rejected because the queue
// was full.
func (q *ResponseQueue) DroppedCount() uint64 { return q.dropped.Load() }

// RetriedCount returns the number of successful retry re-insertions.
func (q *ResponseQueue) RetriedCount() uint64 { return q.retried.Load() }

// TransmissionFailureCount returns the number of responses discarded after
// exhausting their retry budget.
func (q *ResponseQueue) TransmissionFailureCount() uint64 { return q.txFailure.Load() }

// ResetStats clears the dropped, retried, and transmission failure counters.
func (q *ResponseQueue) ResetStats() {
	q.dropped.Store(0)
	q.retried.Store(0)
	q.txFailure.Store(0)
}
