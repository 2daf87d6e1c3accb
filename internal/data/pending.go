package data

import (
	"container/heap"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"dnscash/internal/wire"
)

const (
	// DefaultPendingTimeout is how long a forwarded query waits for its upstream response.
	DefaultPendingTimeout = 5 * time.Second
	// DefaultPendingCapacity bounds the number of outstanding forwarded queries.
	DefaultPendingCapacity = 65536
	// MaxWaiters bounds the number of distinct clients waiting on one forwarded query.
	MaxWaiters = 16
)

// PendingKey correlates an upstream response with the query that caused it.
type PendingKey struct {
	ID       uint16
	Question wire.Question
}

// PendingTableOpts formalizes optional pending table configuration.
type PendingTableOpts struct {
	// Timeout is the lifetime of an entry since its most recent registration.
	Timeout time.Duration
	// Capacity is the maximum number of distinct keys tracked at once.
	Capacity int
	// Clock returns the current time. It defaults to time.Now.
	Clock func() time.Time
}

// PendingTable tracks queries forwarded upstream and the clients waiting on each of them. Entries
// that outlive their timeout are swept lazily, in deadline order, on every table operation.
type PendingTable struct {
	entries   map[PendingKey]*pendingEntry
	deadlines PriorityQueue
	opts      PendingTableOpts
	expired   atomic.Uint64
	mutex     sync.Mutex
}

type pendingEntry struct {
	peers   []net.Addr
	created time.Time
	item    *Item
}

// NewPendingTable creates an empty pending table, filling zero-valued options with defaults.
func NewPendingTable(opts PendingTableOpts) *PendingTable {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultPendingTimeout
	}

	if opts.Capacity <= 0 {
		opts.Capacity = DefaultPendingCapacity
	}

	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &PendingTable{
		entries: make(map[PendingKey]*pendingEntry),
		opts:    opts,
	}
}

// Register records that peer awaits the response for key and pushes the entry's deadline out by
// one timeout. It reports whether the peer is tracked; false means the table is full or the entry
// already holds MaxWaiters distinct peers.
func (t *PendingTable) Register(key PendingKey, peer net.Addr) bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	now := t.opts.Clock()
	t.expire(now)

	if entry, ok := t.entries[key]; ok {
		t.deadlines.update(entry.item, now.Add(t.opts.Timeout))

		for _, existing := range entry.peers {
			if sameAddr(existing, peer) {
				return true
			}
		}

		if len(entry.peers) >= MaxWaiters {
			return false
		}

		entry.peers = append(entry.peers, peer)
		return true
	}

	if len(t.entries) >= t.opts.Capacity {
		return false
	}

	entry := &pendingEntry{
		peers:   []net.Addr{peer},
		created: now,
		item:    &Item{value: key, deadline: now.Add(t.opts.Timeout)},
	}
	heap.Push(&t.deadlines, entry.item)
	t.entries[key] = entry

	return true
}

// Take removes the entry for key and returns its waiting peers along with the time the entry was
// first registered. It reports false if no live entry exists.
func (t *PendingTable) Take(key PendingKey) ([]net.Addr, time.Time, bool) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.expire(t.opts.Clock())

	entry, ok := t.entries[key]
	if !ok {
		return nil, time.Time{}, false
	}

	delete(t.entries, key)
	heap.Remove(&t.deadlines, entry.item.index)

	return entry.peers, entry.created, true
}

// Len returns the number of live entries.
func (t *PendingTable) Len() int {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.expire(t.opts.Clock())

	return len(t.entries)
}

// Expired returns the number of entries dropped for exceeding their timeout.
func (t *PendingTable) Expired() uint64 {
	return t.expired.Load()
}

// expire drops every entry whose deadline is at or before now. The caller must hold the mutex.
func (t *PendingTable) expire(now time.Time) {
	for item := t.deadlines.peek(); item != nil && !now.Before(item.deadline); item = t.deadlines.peek() {
		heap.Pop(&t.deadlines)
		delete(t.entries, item.value.(PendingKey))
		t.expired.Add(1)
	}
}

// sameAddr reports whether two addresses identify the same endpoint.
func sameAddr(a, b net.Addr) bool {
	return a.Network() == b.Network() && a.String() == b.String()
}
