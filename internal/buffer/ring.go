// Package buffer implements the fixed-capacity FIFO used for metric samples
// and per-feature recent metrics.
package buffer

import (
	"sync"

	"codeberg.org/mutker/petvitals/internal/errors"
)

// DefaultCapacity is the sample buffer size used when none is configured.
const DefaultCapacity = 100

// Ring keeps at most Cap() values in insertion order, discarding the oldest
// value when a push overflows.
type Ring[T any] struct {
	mu       sync.RWMutex
	capacity int
	values   []T
}

// New returns an empty Ring. A non-positive capacity is a programming error
// and is rejected here rather than at push time.
func New[T any](capacity int) (*Ring[T], error) {
	if capacity <= 0 {
		return nil, errors.New().WithData(errors.ErrInvalidCapacity, capacity)
	}

	return &Ring[T]{
		capacity: capacity,
		values:   make([]T, 0, 2*capacity),
	}, nil
}

// MustNew is New for capacities known at compile time.
func MustNew[T any](capacity int) *Ring[T] {
	r, err := New[T](capacity)
	if err != nil {
		panic(err)
	}
	return r
}

// Push appends v, then evicts the oldest value if the ring is over capacity.
func (r *Ring[T]) Push(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.values = append(r.values, v)
	if len(r.values) > r.capacity {
		var zero T
		r.values[0] = zero
		r.values = r.values[1:]
	}

	// Reslicing from the front walks the window along the backing array;
	// copy back to the start once no room is left at the end.
	if cap(r.values)-len(r.values) == 0 {
		compacted := make([]T, len(r.values), 2*r.capacity)
		copy(compacted, r.values)
		r.values = compacted
	}
}

// Clear removes every value.
func (r *Ring[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.values = make([]T, 0, 2*r.capacity)
}

// Snapshot returns a copy of the values, oldest first.
func (r *Ring[T]) Snapshot() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]T, len(r.values))
	copy(out, r.values)

	return out
}

// Last returns the most recently pushed value.
func (r *Ring[T]) Last() (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.values) == 0 {
		var zero T
		return zero, false
	}

	return r.values[len(r.values)-1], true
}

func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.values)
}

func (r *Ring[T]) Cap() int {
	return r.capacity
}
