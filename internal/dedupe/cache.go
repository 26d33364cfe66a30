// ABOUTME: Thread-safe TTL cache of provider message ids seen by the webhook
// ABOUTME: Redeliveries within the TTL are skipped before any side effect

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

// Cache is a TTL and size bounded set of message ids. The oldest id is
// evicted when the cache is full.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*entry
	order   *list.List // ids, oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// Option customizes a Cache.
type Option func(*Cache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a cache and starts its background sweep.
func New(ttl time.Duration, maxSize int, opts ...Option) *Cache {
	if maxSize < 1 {
		maxSize = 1
	}
	c := &Cache{
		seen:    make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.sweepLoop()
	return c
}

// Seen reports whether id was marked within the TTL.
func (c *Cache) Seen(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveLocked(id)
}

// CheckAndMark marks id and reports whether it was already live.
func (c *Cache) CheckAndMark(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.liveLocked(id) {
		return true
	}
	c.markLocked(id)
	return false
}

// Forget removes id so a redelivery is processed again.
func (c *Cache) Forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.seen[id]; ok {
		c.order.Remove(e.element)
		delete(c.seen, id)
	}
}

// Len returns the number of ids held, expired ones included until swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

func (c *Cache) liveLocked(id string) bool {
	e, ok := c.seen[id]
	return ok && c.now().Sub(e.seenAt) < c.ttl
}

func (c *Cache) markLocked(id string) {
	now := c.now()
	if e, ok := c.seen[id]; ok {
		e.seenAt = now
		c.order.MoveToBack(e.element)
		return
	}

	if len(c.seen) >= c.maxSize {
		if front := c.order.Front(); front != nil {
			c.order.Remove(front)
			delete(c.seen, front.Value.(string))
		}
	}

	c.seen[id] = &entry{seenAt: now, element: c.order.PushBack(id)}
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

// sweep drops expired ids. Ids are kept in mark order, so it stops at the
// first live one.
func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		id := front.Value.(string)
		if now.Sub(c.seen[id].seenAt) < c.ttl {
			return
		}
		c.order.Remove(front)
		delete(c.seen, id)
	}
}

// Close stops the background sweep. It is safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
