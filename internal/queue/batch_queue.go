// Package queue provides a bounded, thread-safe buffer that decouples
// collectors from the storage writer.
package queue

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"cloudscope/internal/schema"
)

var (
	// ErrQueueFull is returned when attempting a non-blocking push to a full queue.
	ErrQueueFull = errors.New("queue is full")
	// ErrQueueEmpty is returned when no batch is available.
	ErrQueueEmpty = errors.New("queue is empty")
	// ErrQueueClosed is returned when attempting to use a closed queue.
	ErrQueueClosed = errors.New("queue is closed")
)

// BatchQueue is a bounded circular buffer of event batches. Pushes beyond
// capacity block, which gives collectors backpressure when the writer
// falls behind.
type BatchQueue struct {
	buffer   []*schema.Batch
	size     int
	head     int
	tail     int
	count    int
	closed   bool
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	// Metrics (accessed atomically)
	totalPushed  uint64
	totalPopped  uint64
	totalDropped uint64
}

// NewBatchQueue creates a BatchQueue holding up to size batches.
func NewBatchQueue(size int) *BatchQueue {
	if size <= 0 {
		size = 16
	}

	q := &BatchQueue{
		buffer: make([]*schema.Batch, size),
		size:   size,
	}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// Push adds a batch without blocking.
// Returns ErrQueueFull if the queue is at capacity.
func (q *BatchQueue) Push(b *schema.Batch) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	if q.count == q.size {
		atomic.AddUint64(&q.totalDropped, 1)
		return ErrQueueFull
	}

	q.enqueue(b)
	return nil
}

// PushBlocking adds a batch, waiting for space if the queue is full.
// Returns ErrQueueClosed if the queue is closed while waiting.
func (q *BatchQueue) PushBlocking(b *schema.Batch) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == q.size && !q.closed {
		q.notFull.Wait()
	}

	if q.closed {
		return ErrQueueClosed
	}

	q.enqueue(b)
	return nil
}

// enqueue requires q.mu held and q.count < q.size.
func (q *BatchQueue) enqueue(b *schema.Batch) {
	q.buffer[q.tail] = b
	q.tail = (q.tail + 1) % q.size
	q.count++
	atomic.AddUint64(&q.totalPushed, 1)
	q.notEmpty.Signal()
}

// Pop removes and returns a batch without blocking.
// Returns ErrQueueEmpty if the queue is empty.
func (q *BatchQueue) Pop() (*schema.Batch, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		if q.closed {
			return nil, ErrQueueClosed
		}
		return nil, ErrQueueEmpty
	}

	return q.dequeue(), nil
}

// PopBlocking removes and returns a batch, waiting until one is available.
// Returns ErrQueueClosed once the queue is closed and drained.
func (q *BatchQueue) PopBlocking() (*schema.Batch, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == 0 && !q.closed {
		q.notEmpty.Wait()
	}

	if q.count == 0 {
		return nil, ErrQueueClosed
	}

	return q.dequeue(), nil
}

// PopWithTimeout removes and returns a batch, waiting up to timeout.
// Returns ErrQueueEmpty if nothing arrives in time.
func (q *BatchQueue) PopWithTimeout(timeout time.Duration) (*schema.Batch, error) {
	deadline := time.Now().Add(timeout)

	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == 0 && !q.closed {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrQueueEmpty
		}

		timer := time.AfterFunc(remaining, func() {
			q.mu.Lock()
			q.notEmpty.Broadcast()
			q.mu.Unlock()
		})

		q.notEmpty.Wait()
		timer.Stop()
	}

	if q.count == 0 {
		if q.closed {
			return nil, ErrQueueClosed
		}
		return nil, ErrQueueEmpty
	}

	return q.dequeue(), nil
}

// dequeue requires q.mu held and q.count > 0.
func (q *BatchQueue) dequeue() *schema.Batch {
	b := q.buffer[q.head]
	q.buffer[q.head] = nil // Allow GC
	q.head = (q.head + 1) % q.size
	q.count--
	atomic.AddUint64(&q.totalPopped, 1)
	q.notFull.Signal()
	return b
}

// Len returns the current number of batches in the queue.
func (q *BatchQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap returns the capacity of the queue.
func (q *BatchQueue) Cap() int {
	return q.size
}

// Close closes the queue and wakes up any waiting producers and consumers.
// Batches already buffered can still be popped.
func (q *BatchQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}

// Metrics returns queue statistics.
func (q *BatchQueue) Metrics() Metrics {
	return Metrics{
		Pushed:   atomic.LoadUint64(&q.totalPushed),
		Popped:   atomic.LoadUint64(&q.totalPopped),
		Dropped:  atomic.LoadUint64(&q.totalDropped),
		Depth:    q.Len(),
		Capacity: q.size,
	}
}

// Metrics holds statistics about queue operations.
type Metrics struct {
	Pushed   uint64 `json:"pushed"`
	Popped   uint64 `json:"popped"`
	Dropped  uint64 `json:"dropped"`
	Depth    int    `json:"depth"`
	Capacity int    `json:"capacity"`
}
