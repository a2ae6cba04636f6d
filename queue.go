package faultline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Queue is a FIFO queue that is safe for use by many producers and (by design) a single consumer.
//
// Producers never wait on consumers: [Queue.Push] only takes the internal lock long enough to
// append. Consumers choose how long they're willing to wait for an item, from not at all
// ([Queue.TryPop]) to a bounded duration ([Queue.TryPopFor], [Queue.Pop]) or until a context is
// done ([Queue.PopContext]).
//
// Items are returned in the order in which their Push completed. No item is returned twice, and
// no item that was successfully pushed is lost before it's popped or [Queue.Clear] is called.
//
// Multiple concurrent consumers are safe, but there is no fairness between them.
//
// A Queue must be created with [NewQueue].
type Queue[T any] struct {
	mu    sync.Mutex
	items []T

	// notify holds at most one token. Producers leave a token after appending; waiting consumers
	// take it and re-check the queue. A stale token only causes a spurious re-check.
	notify chan struct{}

	timeout atomic.Int64
}

// NewQueue creates a new, empty Queue, with the given default timeout for [Queue.Pop].
//
// A timeout of zero means that Pop does not wait at all if the queue is empty.
func NewQueue[T any](timeout time.Duration) *Queue[T] {
	q := &Queue[T]{notify: make(chan struct{}, 1)}
	q.timeout.Store(int64(timeout))
	return q
}

// SetTimeout sets the default timeout used by [Queue.Pop]
func (q *Queue[T]) SetTimeout(timeout time.Duration) {
	q.timeout.Store(int64(timeout))
}

// Timeout returns the default timeout used by [Queue.Pop]
func (q *Queue[T]) Timeout() time.Duration {
	return time.Duration(q.timeout.Load())
}

// Push adds an item to the back of the queue, waking a waiting consumer if there is one.
func (q *Queue[T]) Push(item T) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()

	q.wake()
}

// Emplace adds all of the items to the back of the queue in order, under a single acquisition of
// the lock. No item from a concurrent Push will be interleaved between them.
func (q *Queue[T]) Emplace(items ...T) {
	if len(items) == 0 {
		return
	}

	q.mu.Lock()
	q.items = append(q.items, items...)
	q.mu.Unlock()

	q.wake()
}

// TryPop removes and returns the item at the front of the queue, without waiting.
//
// TryPop returns false if the queue is empty OR if the lock is currently held by someone else. In
// that sense, a failed TryPop only means "nothing was available right now".
func (q *Queue[T]) TryPop() (item T, ok bool) {
	if !q.mu.TryLock() {
		return item, false
	}

	item, ok, more := q.popLocked()
	q.mu.Unlock()

	if ok && more {
		q.wake()
	}
	return item, ok
}

// TryPopFor removes and returns the item at the front of the queue, waiting up to timeout for one
// to become available.
//
// The elapsed time is re-checked after every wake-up, so TryPopFor never waits (much) longer than
// timeout in total, even if another consumer takes the item that woke it. A timeout <= 0 checks
// the queue exactly once.
func (q *Queue[T]) TryPopFor(timeout time.Duration) (item T, ok bool) {
	deadline := time.Now().Add(timeout)

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		if item, ok = q.pop(); ok {
			return item, true
		}

		wait := time.Until(deadline)
		if wait <= 0 {
			return item, false
		}

		if timer == nil {
			timer = time.NewTimer(wait)
		} else {
			timer.Reset(wait)
		}

		select {
		case <-q.notify:
		case <-timer.C:
		}
	}
}

// Pop is equivalent to TryPopFor(q.Timeout())
func (q *Queue[T]) Pop() (item T, ok bool) {
	return q.TryPopFor(q.Timeout())
}

// PopContext removes and returns the item at the front of the queue, waiting until one is
// available or the context is done. If the context is done first, PopContext returns ctx.Err().
func (q *Queue[T]) PopContext(ctx context.Context) (item T, err error) {
	for {
		if item, ok := q.pop(); ok {
			return item, nil
		}

		select {
		case <-q.notify:
		case <-ctx.Done():
			// one last check, so that an item pushed before cancellation isn't ignored
			if item, ok := q.pop(); ok {
				return item, nil
			}
			return item, ctx.Err()
		}
	}
}

// Clear removes all items from the queue
func (q *Queue[T]) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = nil
}

// Len returns the number of items in the queue.
//
// The value may be out of date as soon as it's returned; it's only advisory.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items)
}

// Empty returns whether the queue has no items. Like [Queue.Len], it's only advisory.
func (q *Queue[T]) Empty() bool {
	return q.Len() == 0
}

func (q *Queue[T]) pop() (item T, ok bool) {
	q.mu.Lock()
	item, ok, more := q.popLocked()
	q.mu.Unlock()

	// hand the wake-up on to any other waiting consumer
	if ok && more {
		q.wake()
	}
	return item, ok
}

func (q *Queue[T]) popLocked() (item T, ok, more bool) {
	if len(q.items) == 0 {
		return item, false, false
	}

	item = q.items[0]

	var zero T
	q.items[0] = zero // don't hold on to references
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}

	return item, true, len(q.items) != 0
}

func (q *Queue[T]) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
