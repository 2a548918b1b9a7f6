package nanoset

import "sync/atomic"

// Queue is the bounded FIFO shared by all readers and encoders, and the
// pipeline's sole backpressure mechanism. Put blocks while the queue is
// full; receiving blocks while it is empty.
//
// Each producer calls PutSentinel exactly once when its partition is
// exhausted. The queue counts sentinels rather than enqueueing them; once
// every producer has signalled, the item stream is closed and consumers
// drain whatever remains.
type Queue struct {
	items     chan *RawSample
	producers int32
}

// NewQueue creates a queue with the given capacity shared by `producers`
// readers.
func NewQueue(capacity int, producers int) *Queue {
	return &Queue{
		items:     make(chan *RawSample, capacity),
		producers: int32(producers),
	}
}

// Put enqueues one sample, blocking while the queue is at capacity.
func (q *Queue) Put(sample *RawSample) {
	q.items <- sample
}

// PutSentinel signals that one producer has finished. The final sentinel
// closes the item stream.
func (q *Queue) PutSentinel() {
	if atomic.AddInt32(&q.producers, -1) == 0 {
		close(q.items)
	}
}

// Get dequeues one sample, blocking while the queue is empty. It returns
// false once all producers have signalled completion and the queue has
// drained.
func (q *Queue) Get() (*RawSample, bool) {
	sample, ok := <-q.items
	return sample, ok
}

// Items exposes the receive side of the queue so consumers can select
// against batch timeouts.
func (q *Queue) Items() <-chan *RawSample {
	return q.items
}

// Len is the current number of buffered samples.
func (q *Queue) Len() int {
	return len(q.items)
}

// Cap is the configured capacity.
func (q *Queue) Cap() int {
	return cap(q.items)
}
