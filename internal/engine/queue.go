package engine

import (
	"sync"

	"github.com/roach88/watergrant/internal/sawtooth"
)

// Batch is one received CLIENT_EVENTS event list, stamped with its
// arrival sequence number.
type Batch struct {
	Seq    int64
	Events []sawtooth.Event
}

// batchQueue is a thread-safe FIFO queue between the feed receiver and
// the Run loop.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the Run loop.
type batchQueue struct {
	mu      sync.Mutex
	batches []Batch
	closed  bool
	signal  chan struct{} // Signals batch availability (buffered, size 1)
}

func newBatchQueue() *batchQueue {
	return &batchQueue{
		batches: make([]Batch, 0, 16),
		signal:  make(chan struct{}, 1),
	}
}

// Enqueue adds a batch to the back of the queue.
// Returns false if the queue is closed.
func (q *batchQueue) Enqueue(b Batch) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.batches = append(q.batches, b)

	// Non-blocking: the buffer of 1 coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue attempts to dequeue without blocking.
// Returns (Batch{}, false) if queue is empty.
func (q *batchQueue) TryDequeue() (Batch, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.batches) == 0 {
		return Batch{}, false
	}

	b := q.batches[0]

	// Release the event slices held by the backing array.
	q.batches[0] = Batch{}

	if len(q.batches) == 1 {
		q.batches = q.batches[:0]
	} else {
		q.batches = q.batches[1:]
	}

	return b, true
}

// Wait returns a channel that signals when batches may be available.
// The channel is closed when the queue is closed.
func (q *batchQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *batchQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.batches)
}

// Drained reports whether the queue is closed and empty. A signal can be
// left over from a batch that was already dequeued, so an empty queue
// alone does not mean the receiver is done.
func (q *batchQueue) Drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.batches) == 0
}

// Close signals that no more batches will be enqueued.
func (q *batchQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
