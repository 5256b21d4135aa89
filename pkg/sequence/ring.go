package sequence

// Ring is a fixed-capacity FIFO ring buffer. Pushing into a full ring evicts
// the oldest element. Index 0 always refers to the oldest retained element.
type Ring[T any] struct {
	items []T
	head  int // index of the oldest element
	size  int
}

func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring[T]{items: make([]T, capacity)}
}

func (r *Ring[T]) Len() int {
	return r.size
}

func (r *Ring[T]) Cap() int {
	return len(r.items)
}

// PushBack appends a value, evicting the oldest element when full.
// It returns the evicted value and whether an eviction happened.
func (r *Ring[T]) PushBack(v T) (evicted T, ok bool) {
	if r.size == len(r.items) {
		evicted = r.items[r.head]
		r.items[r.head] = v
		r.head = (r.head + 1) % len(r.items)
		return evicted, true
	}
	r.items[(r.head+r.size)%len(r.items)] = v
	r.size++
	return evicted, false
}

// At returns the element at logical index i, where 0 is the oldest.
func (r *Ring[T]) At(i int) (T, bool) {
	var zero T
	if i < 0 || i >= r.size {
		return zero, false
	}
	return r.items[(r.head+i)%len(r.items)], true
}

// Set overwrites the element at logical index i.
func (r *Ring[T]) Set(i int, v T) bool {
	if i < 0 || i >= r.size {
		return false
	}
	r.items[(r.head+i)%len(r.items)] = v
	return true
}

// PopFront removes and returns the oldest element.
func (r *Ring[T]) PopFront() (T, bool) {
	var zero T
	if r.size == 0 {
		return zero, false
	}
	v := r.items[r.head]
	r.items[r.head] = zero
	r.head = (r.head + 1) % len(r.items)
	r.size--
	return v, true
}

// Front returns the oldest element without removing it.
func (r *Ring[T]) Front() (T, bool) {
	return r.At(0)
}

// Back returns the newest element without removing it.
func (r *Ring[T]) Back() (T, bool) {
	return r.At(r.size - 1)
}

func (r *Ring[T]) Clear() {
	var zero T
	for i := 0; i < r.size; i++ {
		r.items[(r.head+i)%len(r.items)] = zero
	}
	r.head = 0
	r.size = 0
}
