// Package utils holds small generic containers.
package utils

import "sync"

// RingBuffer is a fixed-size FIFO of T. Pushing into a full buffer overwrites the
// oldest element. All methods are thread-safe.
//
//	rb := NewRingBuffer[int](3)
//	rb.Push(1)
//	rb.Push(2)
//	rb.Push(3)
//	rb.Push(4)                // 1 is evicted
//	fmt.Println(rb.ToSlice()) // [2 3 4]
type RingBuffer[T any] struct {
	mu    sync.RWMutex
	data  []T
	count int
	head  int // oldest element
}

// NewRingBuffer creates a buffer holding up to size elements. It panics if size is not positive.
func NewRingBuffer[T any](size int) *RingBuffer[T] {
	if size <= 0 {
		panic("ring buffer size must be positive")
	}
	return &RingBuffer[T]{data: make([]T, size)}
}

// Push appends item, evicting the oldest element when the buffer is full.
func (rb *RingBuffer[T]) Push(item T) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	size := len(rb.data)
	rb.data[(rb.head+rb.count)%size] = item
	if rb.count < size {
		rb.count++
	} else {
		rb.head = (rb.head + 1) % size
	}
}

// Len returns the number of stored elements, in [0, Cap()].
func (rb *RingBuffer[T]) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

func (rb *RingBuffer[T]) Cap() int {
	return len(rb.data)
}

// At returns the i-th element, 0 being the oldest. It panics when i is out of [0, Len()).
func (rb *RingBuffer[T]) At(i int) T {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	if i < 0 || i >= rb.count {
		panic("index out of range")
	}
	return rb.at(i)
}

// ToSlice returns a copy of the elements from oldest to newest.
func (rb *RingBuffer[T]) ToSlice() []T {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	result := make([]T, rb.count)
	for i := range result {
		result[i] = rb.at(i)
	}
	return result
}

// Newest returns up to n elements, newest first.
func (rb *RingBuffer[T]) Newest(n int) []T {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	n = max(0, min(n, rb.count))
	result := make([]T, n)
	for i := range result {
		result[i] = rb.at(rb.count - 1 - i)
	}
	return result
}

func (rb *RingBuffer[T]) at(i int) T {
	return rb.data[(rb.head+i)%len(rb.data)]
}
