package cache

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

var (
	// ErrCacheNotFound error.
	ErrCacheNotFound = errors.New("cache not found")
	// ErrCapacity is returned when a single entry is larger than the whole cache.
	ErrCapacity = errors.New("entry exceeds cache capacity")
	// ErrInvalidTTL error.
	ErrInvalidTTL = errors.New("ttl must be positive")
)

// WallClock is the clock new caches are created with.
var WallClock = clockwork.NewRealClock()

// Cache is a byte-bounded LRU cache with per entry expiry.
//
// Entries are ordered from least recently used (head) to most recently
// used (tail). After every mutation the sum of entry sizes is at most the
// configured budget; an entry larger than the budget is rejected.
type Cache struct {
	mu sync.Mutex

	items map[Key]*entry
	head  *entry
	tail  *entry

	used     int
	maxBytes int

	hits      uint64
	misses    uint64
	evictions uint64
	expired   uint64

	clock clockwork.Clock
}

// Stats is a point in time view of the cache counters.
type Stats struct {
	Entries   int    `json:"entries"`
	Bytes     int    `json:"bytes"`
	MaxBytes  int    `json:"max_bytes"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Expired   uint64 `json:"expired"`
}

// New returns a new cache holding at most maxBytes of estimated entry size.
func New(maxBytes int) *Cache {
	if maxBytes < 1 {
		maxBytes = 1
	}

	return &Cache{
		items:    make(map[Key]*entry),
		maxBytes: maxBytes,
		clock:    WallClock,
	}
}

// Set inserts or replaces the records stored under key for ttl. The key
// becomes the most recently used one and least recently used entries are
// evicted until the cache fits its budget again.
func (c *Cache) Set(key Key, records []Record, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}

	return c.set(key, records, c.clock.Now().Add(ttl))
}

func (c *Cache) set(key Key, records []Record, expireAt time.Time) error {
	size := EntrySize(key, records)
	if size > c.maxBytes {
		return ErrCapacity
	}

	e := &entry{
		key:      key,
		records:  copyRecords(records),
		expireAt: expireAt,
		size:     size,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.items[key]; ok {
		c.unlink(old)
	}

	c.items[key] = e
	c.pushBack(e)

	for c.used > c.maxBytes {
		c.unlink(c.head)
		c.evictions++
	}

	return nil
}

// Get returns a copy of the records stored under key. An expired entry is
// removed and reported as not found. The TTL of every returned record is
// capped by the remaining lifetime of the entry, rounded up to a second.
func (c *Cache) Get(key Key) ([]Record, error) {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, ErrCacheNotFound
	}

	if e.expired(now) {
		c.unlink(e)
		c.expired++
		c.misses++
		return nil, ErrCacheNotFound
	}

	c.moveToBack(e)
	c.hits++

	remaining := uint32(math.Ceil(e.expireAt.Sub(now).Seconds()))

	records := copyRecords(e.records)
	for i := range records {
		if records[i].TTL > remaining {
			records[i].TTL = remaining
		}
	}

	return records, nil
}

// Remove removes the entry stored under key.
func (c *Cache) Remove(key Key) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		return ErrCacheNotFound
	}

	c.unlink(e)

	return nil
}

// RemoveExpired removes every expired entry and returns how many were removed.
func (c *Cache) RemoveExpired() int {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for e := c.head; e != nil; {
		next := e.next
		if e.expired(now) {
			c.unlink(e)
			c.expired++
			removed++
		}
		e = next
	}

	return removed
}

// Items returns copies of the live entries from least to most recently
// used. Recency is not updated.
func (c *Cache) Items() []Item {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	items := make([]Item, 0, len(c.items))
	for e := c.head; e != nil; e = e.next {
		if e.expired(now) {
			continue
		}
		items = append(items, e.item())
	}

	return items
}

// Restore inserts items in order, keeping their absolute expiry. Expired
// and oversized items are skipped. It returns the number of items inserted.
func (c *Cache) Restore(items []Item) int {
	now := c.clock.Now()

	restored := 0
	for _, it := range items {
		if !now.Before(it.ExpireAt) {
			continue
		}

		if err := c.set(it.Key, it.Records, it.ExpireAt); err != nil {
			continue
		}

		restored++
	}

	return restored
}

// Len returns the number of entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.items)
}

// Size returns the estimated number of bytes in use.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.used
}

// Stats returns the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Entries:   len(c.items),
		Bytes:     c.used,
		MaxBytes:  c.maxBytes,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Expired:   c.expired,
	}
}

// Sweep removes expired entries every interval until ctx is done.
func (c *Cache) Sweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := c.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			c.RemoveExpired()
		}
	}
}

func (c *Cache) pushBack(e *entry) {
	e.prev = c.tail
	e.next = nil

	if c.tail != nil {
		c.tail.next = e
	} else {
		c.head = e
	}

	c.tail = e
	c.used += e.size
}

func (c *Cache) moveToBack(e *entry) {
	if c.tail == e {
		return
	}

	c.detach(e)

	e.prev = c.tail
	e.next = nil
	c.tail.next = e
	c.tail = e
}

func (c *Cache) unlink(e *entry) {
	c.detach(e)
	e.prev, e.next = nil, nil

	delete(c.items, e.key)
	c.used -= e.size
}

func (c *Cache) detach(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}

	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}
