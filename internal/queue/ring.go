package queue

import "sync"

// Ring is a bounded, mutex guarded FIFO. When full, Enqueue evicts the oldest
// item and reports it, so a stalled consumer never blocks producers.
type Ring[T any] struct {
	mu      sync.Mutex
	buf     []T
	head    int
	size    int
	evicted uint64
}

// NewRing creates a ring holding at most capacity items. capacity below 1 is treated as 1.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}

	return &Ring[T]{buf: make([]T, capacity)}
}

// Enqueue appends item. If the ring was full, the evicted item is returned with true.
func (r *Ring[T]) Enqueue(item T) (evicted T, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size == len(r.buf) {
		evicted, ok = r.buf[r.head], true
		r.buf[r.head] = item
		r.head = (r.head + 1) % len(r.buf)
		r.evicted++

		return evicted, ok
	}
	r.buf[(r.head+r.size)%len(r.buf)] = item
	r.size++

	return evicted, false
}

// Dequeue removes and returns the oldest item.
func (r *Ring[T]) Dequeue() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if r.size == 0 {
		return zero, false
	}
	item := r.buf[r.head]
	r.buf[r.head] = zero
	r.head = (r.head + 1) % len(r.buf)
	r.size--

	return item, true
}

// Drain removes and returns all items, oldest first.
func (r *Ring[T]) Drain() []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	out := make([]T, 0, r.size)
	for r.size > 0 {
		out = append(out, r.buf[r.head])
		r.buf[r.head] = zero
		r.head = (r.head + 1) % len(r.buf)
		r.size--
	}

	return out
}

func (r *Ring[T]) Length() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.size
}

// Evicted returns how many items were dropped because the ring was full.
func (r *Ring[T]) Evicted() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.evicted
}
