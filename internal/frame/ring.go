package frame

import "sync"

// Ring is a bounded FIFO that discards the oldest element when full.
// One producer, any number of consumers.
type Ring[T any] struct {
	mu    sync.Mutex
	buf   []T
	head  int
	count int
	drops uint64
}

func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// PushDropOldest appends v, evicting the oldest element if the ring is
// at capacity. Returns true when an eviction happened.
func (r *Ring[T]) PushDropOldest(v T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	dropped := false
	if r.count == len(r.buf) {
		// Overwrite the oldest slot.
		r.head = (r.head + 1) % len(r.buf)
		r.count--
		r.drops++
		dropped = true
	}
	r.buf[(r.head+r.count)%len(r.buf)] = v
	r.count++
	return dropped
}

// DrainToLatest discards everything but the newest element, which is
// returned and left at the head for the next consumer. ok is false
// when the ring was already empty.
func (r *Ring[T]) DrainToLatest() (v T, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 {
		return v, false
	}
	v = r.buf[(r.head+r.count-1)%len(r.buf)]
	r.clearLocked()
	r.buf[0] = v
	r.count = 1
	return v, true
}

// DrainAll empties the ring and returns everything, oldest first.
func (r *Ring[T]) DrainAll() []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 {
		return nil
	}
	out := make([]T, 0, r.count)
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(r.head+i)%len(r.buf)])
	}
	r.clearLocked()
	return out
}

// Peek returns the newest element without consuming it.
func (r *Ring[T]) Peek() (v T, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 {
		return v, false
	}
	return r.buf[(r.head+r.count-1)%len(r.buf)], true
}

func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

func (r *Ring[T]) Cap() int {
	return len(r.buf)
}

// Drops reports how many elements were evicted since creation.
func (r *Ring[T]) Drops() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.drops
}

func (r *Ring[T]) clearLocked() {
	var zero T
	for i := 0; i < r.count; i++ {
		r.buf[(r.head+i)%len(r.buf)] = zero
	}
	r.head = 0
	r.count = 0
}
