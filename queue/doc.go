// Package queue implements the bounded FIFO queues sitting between the
// frame boundary and the command dispatcher.
//
// Both queues run over fixed backing arrays sized at construction; nothing
// here allocates after New, blocks, or performs unbounded work. Enqueue and
// Dequeue are O(1) and guarded by a short critical section only; no lock
// is ever held across validation or processing logic. Statistics counters
// are atomics readable without taking the queue lock.
//
// Overflow policy: a full queue rejects the new element and counts it; it
// never evicts existing entries to make room. Timeout eviction is
// cooperative: RemoveTimedOut is called from the periodic processing
// routine, so cancellation latency is bounded by the polling interval.
package queue
