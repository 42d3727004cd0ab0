package audio

import "sync"

// Frame is one fixed-duration block of mono samples.
type Frame struct {
	Seq       uint64
	Samples   []float32
	Kind      Kind
	Timestamp int64
}

// Queue is the bounded FIFO between a Source and the accumulator.
// Closing the queue is the end-of-stream sentinel: a receive on C()
// returns ok == false once buffered frames are drained.
type Queue struct {
	ch      chan Frame
	mu      sync.Mutex
	closed  bool
	dropped uint64
}

// NewQueue creates a queue holding at most size frames.
func NewQueue(size int) *Queue {
	if size < 1 {
		size = 1
	}
	return &Queue{ch: make(chan Frame, size)}
}

// Push enqueues f without blocking. It reports false when the queue is
// full or already closed; the frame is dropped in both cases.
func (q *Queue) Push(f Frame) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	select {
	case q.ch <- f:
		return true
	default:
		q.dropped++
		return false
	}
}

// C returns the receive side of the queue.
func (q *Queue) C() <-chan Frame { return q.ch }

// Close enqueues the sentinel. Safe to call more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

// Len returns the number of buffered frames.
func (q *Queue) Len() int { return len(q.ch) }

// Dropped returns how many frames were rejected because the queue was full.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
