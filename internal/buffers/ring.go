package buffers

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	ErrInvalidCapacity = errors.New("buffers: capacity must be positive")
	ErrInvalidView     = errors.New("buffers: view must be positive and not larger than capacity")
	ErrIndexOutOfRange = errors.New("buffers: index out of range")
)

// RingBuffer is a fixed size circular queue shared between one producer and one consumer.
// One slot is kept empty so that head == tail always means empty.
// Size and Available only read the atomic indices, the element copy itself runs under dataMutex.
type RingBuffer[T any] struct {
	data      []T
	slots     uint64
	head      atomic.Uint64
	tail      atomic.Uint64
	dataMutex sync.Mutex
}

func NewRingBuffer[T any](capacity int) (*RingBuffer[T], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}

	return &RingBuffer[T]{
		data:  make([]T, capacity+1),
		slots: uint64(capacity + 1),
	}, nil
}

// Capacity is the number of usable slots (the guard slot is not counted).
func (r *RingBuffer[T]) Capacity() int {
	return int(r.slots - 1)
}

func (r *RingBuffer[T]) Size() int {
	return int(r.size(r.head.Load(), r.tail.Load()))
}

func (r *RingBuffer[T]) Available() int {
	return int(r.slots - 1 - r.size(r.head.Load(), r.tail.Load()))
}

func (r *RingBuffer[T]) size(head, tail uint64) uint64 {
	if tail >= head {
		return tail - head
	}
	return tail + r.slots - head
}

// Write copies as much of p as fits and returns the number of elements written.
// It never blocks, whatever does not fit is dropped and the caller has to check the count.
func (r *RingBuffer[T]) Write(p []T) int {
	free := r.Available()
	if free == 0 || len(p) == 0 {
		return 0
	}

	count := min(len(p), free)
	tail := r.tail.Load()

	rightFree := int(r.slots - tail)
	rightCount := min(count, rightFree)

	r.dataMutex.Lock()
	copy(r.data[tail:], p[:rightCount])
	if rightCount < count {
		copy(r.data, p[rightCount:count])
	}
	r.dataMutex.Unlock()

	r.tail.Store((tail + uint64(count)) % r.slots)
	return count
}

// Read copies up to len(p) queued elements into p. Reading an empty buffer returns 0.
func (r *RingBuffer[T]) Read(p []T) int {
	length := r.Size()
	if length == 0 || len(p) == 0 {
		return 0
	}

	count := min(len(p), length)
	head := r.head.Load()

	rightAvailable := int(r.slots - head)
	rightCount := min(count, rightAvailable)

	r.dataMutex.Lock()
	copy(p, r.data[head:head+uint64(rightCount)])
	if rightCount < count {
		copy(p[rightCount:count], r.data)
	}
	r.dataMutex.Unlock()

	r.head.Store((head + uint64(count)) % r.slots)
	return count
}

func (r *RingBuffer[T]) Clear() {
	r.head.Store(0)
	r.tail.Store(0)
}

// Skip discards up to n queued elements without copying them and returns how many were dropped.
func (r *RingBuffer[T]) Skip(n int) int {
	length := r.Size()
	if n > length {
		n = length
	}
	if n <= 0 {
		return 0
	}

	r.head.Store((r.head.Load() + uint64(n)) % r.slots)
	return n
}

// At returns the i-th queued element counting from the head. It panics when i is out of range.
func (r *RingBuffer[T]) At(i int) T {
	if i < 0 || i >= r.Size() {
		panic(fmt.Errorf("%w: %d (size %d)", ErrIndexOutOfRange, i, r.Size()))
	}

	r.dataMutex.Lock()
	defer r.dataMutex.Unlock()

	return r.data[(r.head.Load()+uint64(i))%r.slots]
}
