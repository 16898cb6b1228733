package core

import (
	"container/list"
	"fmt"

	"BatchLedger/internal/event"
)

// DBIdempotencyChecker is the cold tier of duplicate detection. The
// persistence layer implements it against the events table.
type DBIdempotencyChecker interface {
	IsDuplicate(eventType string, idempotencyKey string) (bool, error)
}

// IdempotencyMetrics counts dedup outcomes per tier.
type IdempotencyMetrics struct {
	LRUHits    int64
	DBHits     int64
	DBErrors   int64
	Misses     int64
	LRUSize    int
	Evictions  int64
}

// IdempotencyChecker is the two-tier duplicate detector. Tier 1 is an
// in-process LRU over recent keys; tier 2 is the database. A database
// error is treated as not-duplicate so a flaky DB cannot stall intake;
// the unique constraint on the events table is the final backstop.
type IdempotencyChecker struct {
	lru       *IdempotencyLRU
	dbChecker DBIdempotencyChecker
	metrics   IdempotencyMetrics
}

// NewIdempotencyChecker creates the checker. dbChecker may be nil when
// running without persistence (tests, replay from a stream).
func NewIdempotencyChecker(lruCapacity int, dbChecker DBIdempotencyChecker) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:       NewIdempotencyLRU(lruCapacity),
		dbChecker: dbChecker,
	}
}

func compositeKey(evt event.Event) string {
	return fmt.Sprintf("%s:%s", evt.EventType().String(), evt.IdempotencyKey())
}

// IsDuplicate reports whether this event was already applied.
func (c *IdempotencyChecker) IsDuplicate(evt event.Event) bool {
	key := compositeKey(evt)

	if c.lru.Contains(key) {
		c.metrics.LRUHits++
		return true
	}

	if c.dbChecker != nil {
		dup, err := c.dbChecker.IsDuplicate(evt.EventType().String(), evt.IdempotencyKey())
		if err != nil {
			c.metrics.DBErrors++
			return false
		}
		if dup {
			c.metrics.DBHits++
			c.lru.Add(key)
			return true
		}
	}

	c.metrics.Misses++
	return false
}

// MarkProcessed records a key after the event is fully applied.
func (c *IdempotencyChecker) MarkProcessed(evt event.Event) {
	c.lru.Add(compositeKey(evt))
}

// Metrics returns a copy of the counters with the live LRU size filled in.
func (c *IdempotencyChecker) Metrics() IdempotencyMetrics {
	m := c.metrics
	m.LRUSize = c.lru.Size()
	m.Evictions = c.lru.Evictions()
	return m
}

// WarmLRU preloads recent keys, newest last, so a restart does not pay
// a DB round trip for every hot key.
func (c *IdempotencyChecker) WarmLRU(keys []string) {
	c.lru.WarmFromKeys(keys)
}

// IdempotencyLRU is a fixed-capacity set with least-recently-used
// eviction. Not safe for concurrent use; the core goroutine owns it.
type IdempotencyLRU struct {
	capacity  int
	entries   map[string]*list.Element
	order     *list.List // front = most recent
	evictions int64
}

// NewIdempotencyLRU creates an LRU with the given capacity.
func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	if capacity <= 0 {
		capacity = 1
	}
	return &IdempotencyLRU{
		capacity: capacity,
		entries:  make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

// Contains reports membership and refreshes recency on a hit.
func (l *IdempotencyLRU) Contains(key string) bool {
	el, ok := l.entries[key]
	if ok {
		l.order.MoveToFront(el)
	}
	return ok
}

// Add inserts a key, evicting the oldest entry at capacity.
func (l *IdempotencyLRU) Add(key string) {
	if el, ok := l.entries[key]; ok {
		l.order.MoveToFront(el)
		return
	}
	if l.order.Len() >= l.capacity {
		l.evictOldest()
	}
	l.entries[key] = l.order.PushFront(key)
}

func (l *IdempotencyLRU) evictOldest() {
	oldest := l.order.Back()
	if oldest == nil {
		return
	}
	l.order.Remove(oldest)
	delete(l.entries, oldest.Value.(string))
	l.evictions++
}

// WarmFromKeys adds keys in order. Callers pass newest last so the
// most recent keys end up at the front.
func (l *IdempotencyLRU) WarmFromKeys(keys []string) {
	for _, k := range keys {
		l.Add(k)
	}
}

// Size returns the current occupancy.
func (l *IdempotencyLRU) Size() int { return l.order.Len() }

// Evictions returns the lifetime eviction count.
func (l *IdempotencyLRU) Evictions() int64 { return l.evictions }
