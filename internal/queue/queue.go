// Package queue implements the bounded candidate queues used by the index
// search loops.
package queue

import "container/heap"

// Compile time check to ensure Queue satisfies the heap interface.
var _ heap.Interface = (*Queue)(nil)

// Item is a candidate in a queue: a vector ID with its distance to the query.
type Item struct {
	ID       uint32
	Distance float32
}

// Queue is a value-based binary heap of candidates.
//
// A min queue surfaces the closest candidate first; a max queue surfaces the
// worst candidate first, which is what a bounded top-k scan needs for
// eviction. Ordering is total: equal distances resolve by ID so that search
// results tie-break by insertion order.
type Queue struct {
	max   bool
	items []Item
}

// NewMin initializes a queue whose top is the closest candidate.
func NewMin(capacity int) *Queue {
	return &Queue{max: false, items: make([]Item, 0, capacity)}
}

// NewMax initializes a queue whose top is the worst candidate.
func NewMax(capacity int) *Queue {
	return &Queue{max: true, items: make([]Item, 0, capacity)}
}

// before reports whether a sorts before b in ascending (Distance, ID) order.
func before(a, b Item) bool {
	if a.Distance != b.Distance {
		return a.Distance < b.Distance
	}
	return a.ID < b.ID
}

func (q *Queue) Len() int { return len(q.items) }

func (q *Queue) Less(i, j int) bool {
	if q.max {
		return before(q.items[j], q.items[i])
	}
	return before(q.items[i], q.items[j])
}

func (q *Queue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
}

// Push adds x to the queue. Use heap.Push.
func (q *Queue) Push(x any) {
	q.items = append(q.items, x.(Item))
}

// Pop removes and returns the last element. Use heap.Pop.
func (q *Queue) Pop() any {
	n := len(q.items)
	item := q.items[n-1]
	q.items[n-1] = Item{}
	q.items = q.items[:n-1]
	return item
}

// Top returns the root element without removing it.
func (q *Queue) Top() (Item, bool) {
	if len(q.items) == 0 {
		return Item{}, false
	}
	return q.items[0], true
}

// PushItem inserts an item while maintaining the heap invariant.
func (q *Queue) PushItem(item Item) {
	heap.Push(q, item)
}

// PopItem removes and returns the root element.
func (q *Queue) PopItem() Item {
	return heap.Pop(q).(Item)
}

// PushBounded inserts item keeping at most bound elements, evicting the
// worst candidate when full. Only valid on a max queue.
func (q *Queue) PushBounded(item Item, bound int) {
	if q.Len() < bound {
		heap.Push(q, item)
		return
	}
	if top, ok := q.Top(); ok && before(item, top) {
		heap.Pop(q)
		heap.Push(q, item)
	}
}

// Drain empties a max queue into a slice sorted ascending by (Distance, ID).
func (q *Queue) Drain() []Item {
	out := make([]Item, len(q.items))
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(q).(Item)
	}
	return out
}

// Reset clears the queue for reuse.
func (q *Queue) Reset() {
	q.items = q.items[:0]
}
