// Package ringbuffer contains a ring buffer.
package ringbuffer

import (
	"fmt"
	"sync"
)

// RingBuffer is a bounded FIFO ring buffer.
// Push never blocks, Pull blocks until an item is available or the buffer is closed.
// It can be used by multiple producers and a single consumer.
type RingBuffer[T any] struct {
	mutex     sync.Mutex
	cond      *sync.Cond
	buffer    []T
	readIndex int
	count     int
	closed    bool
}

// New allocates a RingBuffer.
func New[T any](size int) (*RingBuffer[T], error) {
	if size <= 0 {
		return nil, fmt.Errorf("size must be greater than zero")
	}

	r := &RingBuffer[T]{
		buffer: make([]T, size),
	}
	r.cond = sync.NewCond(&r.mutex)

	return r, nil
}

// Close makes Pull() return false.
// Items still in the buffer are discarded.
func (r *RingBuffer[T]) Close() {
	r.mutex.Lock()
	r.closed = true
	r.mutex.Unlock()

	r.cond.Broadcast()
}

// Push pushes data at the end of the buffer.
// It returns false if the buffer is full or closed.
func (r *RingBuffer[T]) Push(data T) bool {
	r.mutex.Lock()

	if r.closed || r.count == len(r.buffer) {
		r.mutex.Unlock()
		return false
	}

	r.buffer[(r.readIndex+r.count)%len(r.buffer)] = data
	r.count++
	r.mutex.Unlock()

	r.cond.Signal()
	return true
}

// Pull pulls data from the beginning of the buffer.
func (r *RingBuffer[T]) Pull() (T, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for r.count == 0 && !r.closed {
		r.cond.Wait()
	}

	var zero T

	if r.closed {
		return zero, false
	}

	data := r.buffer[r.readIndex]
	r.buffer[r.readIndex] = zero
	r.readIndex = (r.readIndex + 1) % len(r.buffer)
	r.count--

	return data, true
}

// Len returns the number of buffered items.
func (r *RingBuffer[T]) Len() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.count
}
