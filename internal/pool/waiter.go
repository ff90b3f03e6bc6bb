package pool

import (
	"container/list"
	"time"

	"github.com/google/uuid"
)

// waitResult is what a queued acquire eventually receives
type waitResult struct {
	handle *Handle
	err    error
}

// waiter is a queued acquire request awaiting a free handle
type waiter struct {
	id         string
	ch         chan waitResult
	enqueuedAt time.Time
}

func newWaiter() *waiter {
	return &waiter{
		id:         uuid.New().String(),
		ch:         make(chan waitResult, 1),
		enqueuedAt: time.Now(),
	}
}

// waiterQueue is a strict-FIFO queue of waiters with O(1) removal by waiter
// id, so a timed-out waiter can deregister itself without scanning the list.
// All methods must be called with the pool mutex held.
type waiterQueue struct {
	order *list.List
	byID  map[string]*list.Element
}

func newWaiterQueue() *waiterQueue {
	return &waiterQueue{
		order: list.New(),
		byID:  make(map[string]*list.Element),
	}
}

func (q *waiterQueue) len() int {
	return q.order.Len()
}

func (q *waiterQueue) push(w *waiter) {
	q.byID[w.id] = q.order.PushBack(w)
}

// popFront removes and returns the oldest waiter, or nil when empty
func (q *waiterQueue) popFront() *waiter {
	front := q.order.Front()
	if front == nil {
		return nil
	}
	w := front.Value.(*waiter)
	q.order.Remove(front)
	delete(q.byID, w.id)
	return w
}

// remove deregisters the waiter by id. Returns false when the waiter was
// already served or rejected.
func (q *waiterQueue) remove(id string) bool {
	elem, ok := q.byID[id]
	if !ok {
		return false
	}
	q.order.Remove(elem)
	delete(q.byID, id)
	return true
}
