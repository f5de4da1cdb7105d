// Package asyncprocessor contains an asynchronous processor.
package asyncprocessor

import (
	"context"
	"sync"

	"github.com/bluenviron/framecast/pkg/ringbuffer"
)

// Processor is an asynchronous queue processor
// that allows to detach the routine that is producing items
// from the routine that is consuming them.
//
// The worker routine is started by Start() or, at the latest,
// by the first Push().
type Processor[T any] struct {
	BufferSize int
	Process    func(T) error
	OnError    func(context.Context, error)

	buffer    *ringbuffer.RingBuffer[T]
	ctx       context.Context
	ctxCancel func()

	mutex   sync.Mutex
	running bool
	closed  bool

	done chan struct{}
}

// Initialize initializes the processor.
func (w *Processor[T]) Initialize() error {
	var err error
	w.buffer, err = ringbuffer.New[T](w.BufferSize)
	if err != nil {
		return err
	}

	w.ctx, w.ctxCancel = context.WithCancel(context.Background())
	w.done = make(chan struct{})

	return nil
}

// Close closes the processor.
// Items still in the queue are discarded.
func (w *Processor[T]) Close() {
	w.mutex.Lock()
	w.closed = true
	running := w.running
	w.mutex.Unlock()

	w.ctxCancel()
	w.buffer.Close()

	if running {
		<-w.done
	}
}

// Start starts the processor.
func (w *Processor[T]) Start() {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	w.startLocked()
}

func (w *Processor[T]) startLocked() {
	if w.running || w.closed {
		return
	}

	w.running = true
	go w.run()
}

// Len returns the number of queued items.
func (w *Processor[T]) Len() int {
	return w.buffer.Len()
}

func (w *Processor[T]) run() {
	defer close(w.done)

	err := w.runInner()
	if err != nil && w.OnError != nil {
		w.OnError(w.ctx, err)
	}
}

func (w *Processor[T]) runInner() error {
	for {
		item, ok := w.buffer.Pull()
		if !ok {
			return nil
		}

		err := w.Process(item)
		if err != nil {
			return err
		}
	}
}

// Push pushes an item to the queue.
// It returns false if the queue is full or the processor is closed.
func (w *Processor[T]) Push(item T) bool {
	w.mutex.Lock()
	w.startLocked()
	w.mutex.Unlock()

	return w.buffer.Push(item)
}
