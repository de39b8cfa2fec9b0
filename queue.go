package layersync

import (
	"sync"
)

// Queue is a FIFO queue whose consumers can block
// until an item is available or the queue has been quit.
//
// Quitting is permanent: after Quit every pop returns false,
// even if items are still queued.
type Queue[T any] struct {
	mtx   sync.Mutex
	cond  *sync.Cond
	items []T
	quit  bool
}

func NewQueue[T any]() *Queue[T] {
	q := new(Queue[T])
	q.cond = sync.NewCond(&q.mtx)
	return q
}

// Push appends item and wakes one waiting consumer.
// Returns false without queueing the item
// if the queue has been quit.
func (q *Queue[T]) Push(item T) bool {
	q.mtx.Lock()
	if q.quit {
		q.mtx.Unlock()
		return false
	}
	q.items = append(q.items, item)
	q.mtx.Unlock()

	q.cond.Signal()
	return true
}

// PopWait blocks until an item is available and returns it with true,
// or returns false once the queue has been quit.
func (q *Queue[T]) PopWait() (item T, ok bool) {
	q.mtx.Lock()
	defer q.mtx.Unlock()

	for !q.quit && len(q.items) == 0 {
		q.cond.Wait()
	}
	if q.quit {
		return item, false
	}
	return q.popLocked(), true
}

// PopNoWait returns the next item and true if one is available
// without blocking.
func (q *Queue[T]) PopNoWait() (item T, ok bool) {
	q.mtx.Lock()
	defer q.mtx.Unlock()

	if q.quit || len(q.items) == 0 {
		return item, false
	}
	return q.popLocked(), true
}

func (q *Queue[T]) popLocked() T {
	var zero T
	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return item
}

// Quit wakes all waiting consumers and makes
// every following pop return false.
// Safe to call multiple times.
func (q *Queue[T]) Quit() {
	q.mtx.Lock()
	q.quit = true
	q.mtx.Unlock()

	q.cond.Broadcast()
}

// IsQuit returns true if Quit has been called.
func (q *Queue[T]) IsQuit() bool {
	q.mtx.Lock()
	defer q.mtx.Unlock()

	return q.quit
}

// Size returns the number of queued items.
// The value may be outdated as soon as it is returned.
func (q *Queue[T]) Size() int {
	q.mtx.Lock()
	defer q.mtx.Unlock()

	return len(q.items)
}
