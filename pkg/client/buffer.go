package client

// Ring is a fixed-capacity, most-recent-first buffer. Pushing at capacity
// evicts the oldest entry.
type Ring[T any] struct {
	capacity int
	items    []T
}

func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{
		capacity: capacity,
		items:    make([]T, 0, capacity),
	}
}

// Push inserts an entry at the front.
func (r *Ring[T]) Push(v T) {
	if len(r.items) == r.capacity {
		r.items = r.items[:len(r.items)-1]
	}
	r.items = append([]T{v}, r.items...)
}

func (r *Ring[T]) Len() int {
	return len(r.items)
}

func (r *Ring[T]) Cap() int {
	return r.capacity
}

// Snapshot returns a copy of the buffer, newest first.
func (r *Ring[T]) Snapshot() []T {
	out := make([]T, len(r.items))
	copy(out, r.items)
	return out
}

func (r *Ring[T]) Clear() {
	r.items = r.items[:0]
}
