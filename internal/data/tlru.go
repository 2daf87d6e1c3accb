package data

import (
	"sync"
	"sync/atomic"
	"time"

	"dnscash/internal/wire"
)

// nilIndex marks the absence of a node in the arena-backed recency list.
const nilIndex = -1

// TLRUCache is a capacity-bounded, concurrency-safe map from question to answer that combines
// least-recently-used eviction with lazy TTL expiry. Expired entries are hidden from Get but are
// only reclaimed by LRU eviction or an explicit Remove, which keeps the read path under a shared
// lock.
//
// Recency is tracked by a doubly linked list whose nodes live in an arena slice and refer to each
// other by index. The index map and the list are guarded together by a single RWMutex.
type TLRUCache struct {
	index       map[wire.Question]int
	nodes       []tlruNode
	free        []int
	head        int // least recently used
	tail        int // most recently used
	capacity    int
	ttlEviction bool
	clock       func() time.Time
	mutex       sync.RWMutex

	hits      atomic.Uint64
	misses    atomic.Uint64
	expired   atomic.Uint64
	evictions atomic.Uint64
}

// TLRUCacheOpts formalizes optional cache configuration.
type TLRUCacheOpts struct {
	// Clock returns the current time used for expiry checks. It defaults to time.Now, whose
	// readings carry a monotonic component.
	Clock func() time.Time
}

// TLRUStats is a point-in-time snapshot of cache counters.
type TLRUStats struct {
	Entries   int    `json:"entries"`
	Capacity  int    `json:"capacity"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Expired   uint64 `json:"expired"`
	Evictions uint64 `json:"evictions"`
}

type tlruNode struct {
	question wire.Question
	answer   wire.Answer
	prev     int
	next     int
}

// NewTLRUCache creates a cache holding at most capacity entries. A negative capacity is treated as
// zero, which retains nothing. When ttlEviction is false, Get ignores answer expiry entirely.
func NewTLRUCache(capacity int, ttlEviction bool, opts TLRUCacheOpts) *TLRUCache {
	if capacity < 0 {
		capacity = 0
	}

	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &TLRUCache{
		index:       make(map[wire.Question]int, min(capacity, 4096)),
		head:        nilIndex,
		tail:        nilIndex,
		capacity:    capacity,
		ttlEviction: ttlEviction,
		clock:       opts.Clock,
	}
}

// Add inserts or replaces the answer for a question and marks it most recently used. Inserting a
// new question into a full cache first evicts the single least recently used entry.
func (c *TLRUCache) Add(question wire.Question, answer wire.Answer) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if idx, ok := c.index[question]; ok {
		c.nodes[idx].answer = answer
		c.moveToTail(idx)
		return
	}

	if len(c.index) >= c.capacity {
		// With zero capacity the new entry is itself the least recently used one.
		if c.head == nilIndex {
			c.evictions.Add(1)
			return
		}

		c.evict(c.head)
	}

	idx := c.alloc(question, answer)
	c.pushTail(idx)
	c.index[question] = idx
}

// Remove deletes the entry for a question, if present.
func (c *TLRUCache) Remove(question wire.Question) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if idx, ok := c.index[question]; ok {
		c.unlink(idx)
		delete(c.index, question)
		c.release(idx)
	}
}

// Has reports whether the question is present, regardless of expiry.
func (c *TLRUCache) Has(question wire.Question) bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	_, ok := c.index[question]
	return ok
}

// Get returns a copy of the answer for a question. It reports false if the question is absent or,
// with TTL eviction enabled, if the answer's expiry is at or before the current time. Get does not
// affect recency.
func (c *TLRUCache) Get(question wire.Question) (wire.Answer, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	idx, ok := c.index[question]
	if !ok {
		c.misses.Add(1)
		return wire.Answer{}, false
	}

	answer := c.nodes[idx].answer
	if c.ttlEviction && answer.Expired(c.clock()) {
		c.expired.Add(1)
		return wire.Answer{}, false
	}

	c.hits.Add(1)
	return answer, true
}

// Clear removes every entry.
func (c *TLRUCache) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.index = make(map[wire.Question]int, min(c.capacity, 4096))
	c.nodes = nil
	c.free = nil
	c.head = nilIndex
	c.tail = nilIndex
}

// Len returns the number of entries, including expired ones not yet reclaimed.
func (c *TLRUCache) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return len(c.index)
}

// Capacity returns the configured maximum number of entries.
func (c *TLRUCache) Capacity() int {
	return c.capacity
}

// Stats returns a snapshot of the cache counters.
func (c *TLRUCache) Stats() TLRUStats {
	return TLRUStats{
		Entries:   c.Len(),
		Capacity:  c.capacity,
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Expired:   c.expired.Load(),
		Evictions: c.evictions.Load(),
	}
}

// evict removes the node at idx from both the list and the index.
func (c *TLRUCache) evict(idx int) {
	c.unlink(idx)
	delete(c.index, c.nodes[idx].question)
	c.release(idx)
	c.evictions.Add(1)
}

// alloc places a detached node in the arena, reusing a released slot when one is available.
func (c *TLRUCache) alloc(question wire.Question, answer wire.Answer) int {
	node := tlruNode{question: question, answer: answer, prev: nilIndex, next: nilIndex}

	if n := len(c.free); n > 0 {
		idx := c.free[n-1]
		c.free = c.free[:n-1]
		c.nodes[idx] = node
		return idx
	}

	c.nodes = append(c.nodes, node)
	return len(c.nodes) - 1
}

// release returns a detached node's slot to the free list.
func (c *TLRUCache) release(idx int) {
	c.nodes[idx] = tlruNode{prev: nilIndex, next: nilIndex}
	c.free = append(c.free, idx)
}

// unlink detaches the node at idx from the recency list.
func (c *TLRUCache) unlink(idx int) {
	node := &c.nodes[idx]

	if node.prev != nilIndex {
		c.nodes[node.prev].next = node.next
	} else {
		c.head = node.next
	}

	if node.next != nilIndex {
		c.nodes[node.next].prev = node.prev
	} else {
		c.tail = node.prev
	}

	node.prev, node.next = nilIndex, nilIndex
}

// pushTail appends a detached node at the most recently used end.
func (c *TLRUCache) pushTail(idx int) {
	c.nodes[idx].prev = c.tail
	c.nodes[idx].next = nilIndex

	if c.tail != nilIndex {
		c.nodes[c.tail].next = idx
	} else {
		c.head = idx
	}

	c.tail = idx
}

// moveToTail marks an existing node most recently used.
func (c *TLRUCache) moveToTail(idx int) {
	if idx == c.tail {
		return
	}

	c.unlink(idx)
	c.pushTail(idx)
}
