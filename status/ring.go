package status

// Ring is a fixed-capacity FIFO that evicts its oldest entry when full.
// It is not safe for concurrent use; the Hub guards its rings.
type Ring[T any] struct {
	entries []T
	head    int
	count   int
}

// NewRing creates a ring with the given capacity (minimum 1).
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{entries: make([]T, capacity)}
}

// Add appends v, overwriting the oldest entry if the ring is full.
func (r *Ring[T]) Add(v T) {
	size := len(r.entries)
	idx := (r.head + r.count) % size
	if r.count == size {
		idx = r.head
		r.head = (r.head + 1) % size
	} else {
		r.count++
	}
	r.entries[idx] = v
}

// Items returns a copy of the entries, oldest first.
func (r *Ring[T]) Items() []T {
	out := make([]T, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.entries[(r.head+i)%len(r.entries)]
	}
	return out
}

// Last returns the newest entry.
func (r *Ring[T]) Last() (T, bool) {
	var zero T
	if r.count == 0 {
		return zero, false
	}
	return r.entries[(r.head+r.count-1)%len(r.entries)], true
}

// Len returns the number of entries held.
func (r *Ring[T]) Len() int { return r.count }

// Cap returns the capacity.
func (r *Ring[T]) Cap() int { return len(r.entries) }
