// Package permcache is the latency-critical cache for permission and
// directory decisions. The in-memory implementation shards its store so
// concurrent lookups for unrelated agents never serialize on one lock;
// entries expire by TTL (checked lazily on read plus a background sweep)
// or by per-shard LRU eviction at capacity.
package permcache

import (
	"container/list"
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loopwork-ai/governor/pkg/contracts"
)

// Cache is the permission-decision cache contract. Implementations must be
// safe for concurrent use. A nil decision is never stored; Get returns
// ok=false for absent or expired keys. Errors indicate backend failure and
// callers are expected to fail open to the persisted store.
type Cache interface {
	Get(ctx context.Context, key string) (*contracts.PermissionDecision, bool, error)
	Set(ctx context.Context, key string, d *contracts.PermissionDecision) error
	Invalidate(ctx context.Context, agentID string) error
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// Stats reports cumulative cache effectiveness counters.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Entries   int   `json:"entries"`
}

const (
	// DefaultCapacity bounds the total entry count across shards.
	DefaultCapacity = 1000
	// DefaultTTL is how long a decision stays valid after insertion.
	DefaultTTL = 60 * time.Second
	// defaultSweepInterval drives the background expiry sweep.
	defaultSweepInterval = 30 * time.Second

	shardCount = 16
)

type entry struct {
	key        string
	decision   *contracts.PermissionDecision
	insertedAt time.Time
	accessedAt time.Time
}

type shard struct {
	mu    sync.Mutex
	items map[string]*list.Element
	order *list.List // front = most recently used
	cap   int
}

// MemoryCache is the sharded in-process implementation of Cache.
type MemoryCache struct {
	shards []*shard
	ttl    time.Duration
	clock  func() time.Time

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64

	stop     chan struct{}
	stopOnce sync.Once
}

// Option configures a MemoryCache.
type Option func(*MemoryCache)

// WithTTL overrides the default 60s entry TTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *MemoryCache) { c.ttl = ttl }
}

// WithClock overrides the clock for deterministic testing.
func WithClock(clock func() time.Time) Option {
	return func(c *MemoryCache) { c.clock = clock }
}

// NewMemoryCache creates a cache holding at most capacity entries.
// Small caches (capacity below shardCount) collapse to a single shard so
// LRU ordering stays exact; larger caches spread across 16 shards.
// Close must be called to stop the background sweeper.
func NewMemoryCache(capacity int, opts ...Option) *MemoryCache {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	nShards := shardCount
	if capacity < shardCount {
		nShards = 1
	}

	c := &MemoryCache{
		shards: make([]*shard, nShards),
		ttl:    DefaultTTL,
		clock:  time.Now,
		stop:   make(chan struct{}),
	}
	for i := range c.shards {
		c.shards[i] = &shard{
			items: make(map[string]*list.Element),
			order: list.New(),
			cap:   capacity / nShards,
		}
	}
	for _, opt := range opts {
		opt(c)
	}

	go c.sweepLoop(defaultSweepInterval)
	return c
}

func (c *MemoryCache) shardFor(key string) *shard {
	if len(c.shards) == 1 {
		return c.shards[0]
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return c.shards[h.Sum32()%uint32(len(c.shards))]
}

// Get returns the cached decision for key. Expired entries are removed
// lazily and reported as misses.
func (c *MemoryCache) Get(ctx context.Context, key string) (*contracts.PermissionDecision, bool, error) {
	_ = ctx
	s := c.shardFor(key)
	now := c.clock()

	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.items[key]
	if !ok {
		c.misses.Add(1)
		return nil, false, nil
	}

	e := el.Value.(*entry)
	if now.Sub(e.insertedAt) > c.ttl {
		s.order.Remove(el)
		delete(s.items, key)
		c.misses.Add(1)
		return nil, false, nil
	}

	e.accessedAt = now
	s.order.MoveToFront(el)
	c.hits.Add(1)
	return e.decision, true, nil
}

// Set stores a decision under key. Racing writers resolve last-writer-wins,
// acceptable given the short TTL. At capacity the least recently used
// entry of the shard is evicted.
func (c *MemoryCache) Set(ctx context.Context, key string, d *contracts.PermissionDecision) error {
	_ = ctx
	s := c.shardFor(key)
	now := c.clock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.items[key]; ok {
		e := el.Value.(*entry)
		e.decision = d
		e.insertedAt = now
		e.accessedAt = now
		s.order.MoveToFront(el)
		return nil
	}

	if s.order.Len() >= s.cap {
		oldest := s.order.Back()
		if oldest != nil {
			s.order.Remove(oldest)
			delete(s.items, oldest.Value.(*entry).key)
			c.evictions.Add(1)
		}
	}

	el := s.order.PushFront(&entry{
		key:        key,
		decision:   d,
		insertedAt: now,
		accessedAt: now,
	})
	s.items[key] = el
	return nil
}

// Invalidate drops every cached decision belonging to an agent, across
// both the action and directory namespaces.
func (c *MemoryCache) Invalidate(ctx context.Context, agentID string) error {
	_ = ctx
	prefix := agentPrefix(agentID)

	for _, s := range c.shards {
		s.mu.Lock()
		for key, el := range s.items {
			if keyAgent(key)+":" == prefix {
				s.order.Remove(el)
				delete(s.items, key)
			}
		}
		s.mu.Unlock()
	}
	return nil
}

// Stats returns cumulative hit/miss/eviction counters and the live entry
// count.
func (c *MemoryCache) Stats(ctx context.Context) (Stats, error) {
	_ = ctx
	entries := 0
	for _, s := range c.shards {
		s.mu.Lock()
		entries += s.order.Len()
		s.mu.Unlock()
	}
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Entries:   entries,
	}, nil
}

// Close stops the background sweeper. The cache remains usable afterwards
// (expiry still happens lazily on read).
func (c *MemoryCache) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	return nil
}

func (c *MemoryCache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

// sweep removes expired entries shard by shard so no single pass holds
// more than one shard lock at a time.
func (c *MemoryCache) sweep() {
	now := c.clock()
	for _, s := range c.shards {
		s.mu.Lock()
		for el := s.order.Back(); el != nil; {
			prev := el.Prev()
			e := el.Value.(*entry)
			if now.Sub(e.insertedAt) > c.ttl {
				s.order.Remove(el)
				delete(s.items, e.key)
			}
			el = prev
		}
		s.mu.Unlock()
	}
}
