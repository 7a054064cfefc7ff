package client

// Ring is a bounded FIFO. Pushing onto a full ring drops the oldest entry.
// It is not safe for concurrent use.
type Ring[T any] struct {
	buf  []T
	head int
	n    int
}

func NewRing[T any](size int) *Ring[T] {
	if size < 1 {
		size = 1
	}
	return &Ring[T]{buf: make([]T, size)}
}

// Push appends v and reports whether an older entry was dropped.
func (r *Ring[T]) Push(v T) (dropped bool) {
	if r.n == len(r.buf) {
		var zero T
		r.buf[r.head] = zero
		r.head = (r.head + 1) % len(r.buf)
		r.n--
		dropped = true
	}
	r.buf[(r.head+r.n)%len(r.buf)] = v
	r.n++
	return dropped
}

func (r *Ring[T]) Pop() (T, bool) {
	var zero T
	if r.n == 0 {
		return zero, false
	}
	v := r.buf[r.head]
	r.buf[r.head] = zero
	r.head = (r.head + 1) % len(r.buf)
	r.n--
	return v, true
}

func (r *Ring[T]) Len() int { return r.n }

// Drain removes and returns every entry, oldest first.
func (r *Ring[T]) Drain() []T {
	out := make([]T, 0, r.n)
	for {
		v, ok := r.Pop()
		if !ok {
			return out
		}
		out = append(out, v)
	}
}
