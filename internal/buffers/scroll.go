package buffers

import "fmt"

// ScrollWindow keeps a long history of values and exposes the most recent `view` of them.
// Once the backing store is full the last view-1 values are moved to the front, so the
// compaction cost is paid once every capacity-view pushes.
//
// ScrollWindow is not safe for concurrent use, callers share it behind their own mutex.
type ScrollWindow[T any] struct {
	data     []T
	capacity int
	view     int
	length   int
	offset   int
}

func NewScrollWindow[T any](capacity, view int) (*ScrollWindow[T], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}
	if view <= 0 || view > capacity {
		return nil, fmt.Errorf("%w: view=%d capacity=%d", ErrInvalidView, view, capacity)
	}

	return &ScrollWindow[T]{
		data:     make([]T, capacity),
		capacity: capacity,
		view:     view,
	}, nil
}

func (s *ScrollWindow[T]) Push(value T) {
	if s.length == s.capacity {
		keep := s.view - 1
		copy(s.data, s.data[s.capacity-keep:s.capacity])
		s.data[keep] = value
		s.length = s.view
		s.offset = 0
		return
	}

	s.data[s.length] = value
	s.length++
	if s.length > s.view {
		s.offset = s.length - s.view
	}
}

// Write appends a batch. Only the trailing `view` values of an oversized batch are kept since
// the older ones would fall out of the view right away.
func (s *ScrollWindow[T]) Write(batch []T) {
	if len(batch) > s.view {
		batch = batch[len(batch)-s.view:]
	}
	count := len(batch)
	if count == 0 {
		return
	}

	if s.length+count <= s.capacity {
		copy(s.data[s.length:], batch)
		s.length += count
		if s.length > s.view {
			s.offset = s.length - s.view
		}
		return
	}

	// compact: the last view-count retained values followed by the batch
	keep := min(s.view-count, s.length)
	copy(s.data, s.data[s.length-keep:s.length])
	copy(s.data[keep:], batch)
	s.length = keep + count
	s.offset = 0
}

func (s *ScrollWindow[T]) Clear() {
	s.length = 0
	s.offset = 0
}

// Count is the number of visible values, min(view, retained).
func (s *ScrollWindow[T]) Count() int {
	return min(s.view, s.length)
}

// Len is the number of retained values, visible or not.
func (s *ScrollWindow[T]) Len() int {
	return s.length
}

func (s *ScrollWindow[T]) View() int {
	return s.view
}

func (s *ScrollWindow[T]) Capacity() int {
	return s.capacity
}

// At indexes the visible values, 0 being the oldest one.
func (s *ScrollWindow[T]) At(i int) T {
	if i < 0 || i >= s.Count() {
		panic(fmt.Errorf("%w: %d (count %d)", ErrIndexOutOfRange, i, s.Count()))
	}
	return s.data[(s.offset+i)%s.capacity]
}

func (s *ScrollWindow[T]) Front() T {
	return s.At(0)
}

func (s *ScrollWindow[T]) Back() T {
	return s.At(s.Count() - 1)
}

// Data aliases the visible values. The slice is only valid until the next Push or Write.
func (s *ScrollWindow[T]) Data() []T {
	return s.data[s.offset : s.offset+s.Count()]
}

// Tail copies the newest n visible values into a fresh slice.
func (s *ScrollWindow[T]) Tail(n int) []T {
	count := s.Count()
	n = max(0, min(n, count))

	out := make([]T, n)
	for i := range out {
		out[i] = s.At(count - n + i)
	}
	return out
}
