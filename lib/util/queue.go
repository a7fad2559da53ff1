package util

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// node represents a single element in the queue
type node[T any] struct {
	value *T
	next  atomic.Pointer[node[T]]
}

// MPSCQueue is an unbounded lock-free multi-producer queue. Producers append with CAS on
// the tail of a linked list; a single internal pump goroutine moves values in FIFO order
// into the channel returned by Recv. Any number of goroutines may receive from that
// channel, the pump itself is the only reader of the list.
type MPSCQueue[T any] struct {
	head   atomic.Pointer[node[T]]
	tail   atomic.Pointer[node[T]]
	out    chan *T
	pump   sync.WaitGroup
	closed atomic.Bool
	size   atomic.Int64

	mu   sync.Mutex
	cond *sync.Cond
}

// NewMPSCQueue creates a queue and starts its pump goroutine.
func NewMPSCQueue[T any]() *MPSCQueue[T] {
	sentinel := &node[T]{}

	q := &MPSCQueue[T]{
		out: make(chan *T),
	}
	q.cond = sync.NewCond(&q.mu)
	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	q.pump.Add(1)
	go q.run()

	return q
}

// Push appends a value. It returns false if the value is nil or the queue is closed.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (q *MPSCQueue[T]) Push(value *T) bool {
	if value == nil || q.closed.Load() {
		return false
	}

	n := &node[T]{value: value}
	var backoff uint8

	for {
		tail := q.tail.Load()
		next := tail.next.Load()
		if next == nil {
			if tail.next.CompareAndSwap(nil, n) {
				q.tail.CompareAndSwap(tail, n)
				q.size.Add(1)
				// signal under the lock so a pump that just found the list empty
				// cannot miss the wakeup
				q.mu.Lock()
				q.cond.Signal()
				q.mu.Unlock()
				return true
			}
		} else {
			// another producer linked a node but has not moved the tail yet
			q.tail.CompareAndSwap(tail, next)
		}

		if backoff < 10 {
			backoff++
			for i := 0; i < 1<<backoff; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// run moves values from the list into the out channel until the queue is closed and drained
func (q *MPSCQueue[T]) run() {
	defer q.pump.Done()
	defer close(q.out)

	for {
		drained := false
		for {
			head := q.head.Load()
			next := head.next.Load()
			if next == nil {
				break
			}
			drained = true
			value := next.value
			q.head.Store(next)
			q.out <- value
			q.size.Add(-1)
			next.value = nil
		}

		if !drained && q.closed.Load() {
			return
		}

		if !drained {
			q.mu.Lock()
			if q.head.Load().next.Load() == nil && !q.closed.Load() {
				q.cond.Wait()
			}
			q.mu.Unlock()
		}
	}
}

// Recv returns the channel values are delivered on. It is closed once the queue was
// closed and every pushed value has been received.
func (q *MPSCQueue[T]) Recv() <-chan *T {
	return q.out
}

// Close stops accepting new values. Values already queued are still delivered.
func (q *MPSCQueue[T]) Close() {
	q.closed.Store(true)
	q.mu.Lock()
	q.cond.Broadcast()
	q.mu.Unlock()
}

// IsClosed reports whether Close was called.
func (q *MPSCQueue[T]) IsClosed() bool {
	return q.closed.Load()
}

// Len returns the number of values pushed but not yet received.
func (q *MPSCQueue[T]) Len() int {
	return int(q.size.Load())
}
