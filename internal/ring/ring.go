// Package ring provides a fixed-capacity ring buffer with a drop-oldest
// overflow policy, used for the device's diagnostic log.
package ring

// Ring is a bounded FIFO over a fixed backing array. When full, Push
// overwrites the oldest element. Ring is not goroutine-safe; callers wrap
// access in their own critical section.
type Ring[T any] struct {
	items   []T
	head    int // index of the oldest element
	count   int
	dropped uint64
}

// New creates a Ring with the given fixed capacity. Capacity must be > 0.
func New[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}

	return &Ring[T]{items: make([]T, capacity)}
}

// Push appends item, overwriting the oldest element when the ring is full.
// It returns true if an element was dropped to make room.
func (r *Ring[T]) Push(item T) bool {
	tail := (r.head + r.count) % len(r.items)
	r.items[tail] = item

	if r.count == len(r.items) {
		r.head = (r.head + 1) % len(r.items)
		r.dropped++

		return true
	}

	r.count++

	return false
}

// Pop removes and returns the oldest element.
func (r *Ring[T]) Pop() (T, bool) {
	var zero T
	if r.count == 0 {
		return zero, false
	}

	item := r.items[r.head]
	r.items[r.head] = zero
	r.head = (r.head + 1) % len(r.items)
	r.count--

	return item, true
}

// Snapshot returns the elements in FIFO order without removing them.
func (r *Ring[T]) Snapshot() []T {
	out := make([]T, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.items[(r.head+i)%len(r.items)]
	}

	return out
}

// Len returns the number of buffered elements.
func (r *Ring[T]) Len() int { return r.count }

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int { return len(r.items) }

// Dropped returns how many elements were overwritten by Push.
func (r *Ring[T]) Dropped() uint64 { return r.dropped }

// Reset empties the ring and clears the dropped counter.
func (r *Ring[T]) Reset() {
	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.head = 0
	r.count = 0
	r.dropped = 0
}
