package util

import (
	"container/heap"
	"strconv"
)

// DueItem is one scheduled id with its due time (unix nanoseconds).
type DueItem struct {
	ID    uint64
	Due   uint64
	index int
}

func (i *DueItem) String() string {
	return "{ID: " + strconv.FormatUint(i.ID, 10) + ", Due: " + strconv.FormatUint(i.Due, 10) + "}"
}

// DueQueue is a min-heap of ids ordered by due time with O(1) lookup by id.
//
// Concurrency: not thread-safe, callers synchronize externally.
type DueQueue struct {
	items []*DueItem
	byID  map[uint64]*DueItem
}

// NewDueQueue creates an empty queue.
func NewDueQueue() *DueQueue {
	return &DueQueue{
		items: make([]*DueItem, 0),
		byID:  make(map[uint64]*DueItem),
	}
}

// heap.Interface

func (q *DueQueue) Len() int { return len(q.items) }

func (q *DueQueue) Less(i, j int) bool { return q.items[i].Due < q.items[j].Due }

func (q *DueQueue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.items[i].index = i
	q.items[j].index = j
}

func (q *DueQueue) Push(x any) {
	it := x.(*DueItem)
	it.index = len(q.items)
	q.items = append(q.items, it)
	q.byID[it.ID] = it
}

func (q *DueQueue) Pop() any {
	old := q.items
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	q.items = old[:n-1]
	delete(q.byID, it.ID)
	return it
}

// Schedule inserts id with the given due time or moves an existing id to it.
func (q *DueQueue) Schedule(id, due uint64) {
	if it, ok := q.byID[id]; ok {
		it.Due = due
		heap.Fix(q, it.index)
		return
	}
	heap.Push(q, &DueItem{ID: id, Due: due})
}

// Cancel removes id and returns its due time.
func (q *DueQueue) Cancel(id uint64) (uint64, bool) {
	it, ok := q.byID[id]
	if !ok {
		return 0, false
	}
	heap.Remove(q, it.index)
	return it.Due, true
}

// Peek returns the earliest item without removing it.
func (q *DueQueue) Peek() (DueItem, bool) {
	if len(q.items) == 0 {
		return DueItem{}, false
	}
	return *q.items[0], true
}

// PopDue removes and returns all ids due at or before now, earliest first.
func (q *DueQueue) PopDue(now uint64) []uint64 {
	var ids []uint64
	for len(q.items) > 0 && q.items[0].Due <= now {
		it := heap.Pop(q).(*DueItem)
		ids = append(ids, it.ID)
	}
	return ids
}

// Contains checks if id is scheduled.
func (q *DueQueue) Contains(id uint64) bool {
	_, ok := q.byID[id]
	return ok
}
