package data

import (
	"container/heap"
	"time"
)

// Item describes an entry in the priority queue.
type Item struct {
	value    interface{}
	deadline time.Time
	index    int
}

// PriorityQueue implements heap.Interface and holds Items. Items are ordered by deadline so that
// the item expiring soonest is at the root.
// This implementation is adapted from the container/heap documentation:
// https://golang.org/pkg/container/heap/
type PriorityQueue []*Item

// Len returns the current size of the queue.
func (pq PriorityQueue) Len() int {
	return len(pq)
}

// Less instructs heap.Interface how to sort items within the heap. An earlier deadline sorts
// first, making this a min heap on time.
func (pq PriorityQueue) Less(i, j int) bool {
	return pq[i].deadline.Before(pq[j].deadline)
}

// Swap swaps the ith and jth items in the backing data structure.
func (pq PriorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

// Push adds a new item to the backing data structure.
func (pq *PriorityQueue) Push(x interface{}) {
	n := len(*pq)
	item := x.(*Item)
	item.index = n
	*pq = append(*pq, item)
}

// Pop removes the last item from the backing data structure.
func (pq *PriorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*pq = old[0 : n-1]

	return item
}

// peek returns the item with the earliest deadline without removing it, or nil if empty.
func (pq PriorityQueue) peek() *Item {
	if len(pq) == 0 {
		return nil
	}

	return pq[0]
}

// update modifies the deadline of an Item in the queue.
func (pq *PriorityQueue) update(item *Item, deadline time.Time) {
	item.deadline = deadline
	heap.Fix(pq, item.index)
}
