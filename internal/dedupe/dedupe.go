// Package dedupe drops inbound events whose provider message id was already
// processed recently. Providers redeliver on timeouts and reconnects.
package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	seenAt  time.Time
	element *list.Element
}

// Cache remembers message ids for a TTL, bounded to maxSize entries with the
// oldest evicted first.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*entry
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// New creates a cache. Expired entries are dropped lazily and by Prune.
func New(ttl time.Duration, maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &Cache{
		seen:    make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Seen reports whether id was already marked within the TTL and marks it
// otherwise. Empty ids are never duplicates.
func (c *Cache) Seen(id string) bool {
	if id == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, ok := c.seen[id]; ok {
		if now.Sub(e.seenAt) < c.ttl {
			return true
		}
		e.seenAt = now
		c.order.MoveToBack(e.element)
		return false
	}

	if len(c.seen) >= c.maxSize {
		if front := c.order.Front(); front != nil {
			c.order.Remove(front)
			delete(c.seen, front.Value.(string))
		}
	}
	c.seen[id] = &entry{seenAt: now, element: c.order.PushBack(id)}
	return false
}

// Prune removes expired ids and returns how many were dropped.
func (c *Cache) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for e := c.order.Front(); e != nil; {
		next := e.Next()
		id := e.Value.(string)
		if now.Sub(c.seen[id].seenAt) < c.ttl {
			// order is by mark time, everything after is newer
			break
		}
		c.order.Remove(e)
		delete(c.seen, id)
		removed++
		e = next
	}
	return removed
}

// Len returns the number of remembered ids.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}
