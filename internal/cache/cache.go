package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rickgao/vehicle-sync/internal/metrics"
)

// DefaultTTL is used when a caller passes a non-positive ttl.
const DefaultTTL = 60 * time.Second

// FetchFunc loads a value from the source of truth.
type FetchFunc[V any] func(ctx context.Context) (V, error)

// Option configures a Cache.
type Option func(*options)

type options struct {
	name       string
	defaultTTL time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

// WithName sets the name used in logs and metric labels.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithDefaultTTL sets the ttl applied when callers pass ttl <= 0.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(o *options) { o.defaultTTL = ttl }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// Cache is a TTL-keyed store of fetched values.
//
// Values are copied in and out; no caller holds a reference to an entry.
// Stale values stay readable through Get until they are invalidated or
// overwritten.
type Cache[V any] struct {
	name       string
	defaultTTL time.Duration
	now        func() time.Time
	logger     *slog.Logger

	mu      sync.RWMutex
	entries map[string]Entry[V]

	// Bumped by Invalidate (per key) and InvalidateAll (epoch). A fetch
	// stores its result only if neither moved while it ran.
	gens  map[string]uint64
	epoch uint64

	// Collapses concurrent fetches of the same key into one call.
	flights singleflight.Group

	hits          atomic.Int64
	staleHits     atomic.Int64
	misses        atomic.Int64
	fetches       atomic.Int64
	sharedWaits   atomic.Int64
	fetchErrors   atomic.Int64
	invalidations atomic.Int64
	discarded     atomic.Int64
}

// New creates an empty cache.
func New[V any](opts ...Option) *Cache[V] {
	o := options{
		name:       "entity",
		defaultTTL: DefaultTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	return &Cache[V]{
		name:       o.name,
		defaultTTL: o.defaultTTL,
		now:        o.now,
		logger:     o.logger.With("component", "cache", "cache", o.name),
		entries:    make(map[string]Entry[V]),
		gens:       make(map[string]uint64),
	}
}

// Get returns the cached value regardless of freshness.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		c.misses.Add(1)
		metrics.CacheRequests.WithLabelValues(c.name, "miss").Inc()
		var zero V
		return zero, false
	}

	if e.FreshAt(c.now()) {
		c.hits.Add(1)
		metrics.CacheRequests.WithLabelValues(c.name, "hit").Inc()
	} else {
		c.staleHits.Add(1)
		metrics.CacheRequests.WithLabelValues(c.name, "stale").Inc()
	}
	return e.Value, true
}

// Entry returns a copy of the entry for key.
func (c *Cache[V]) Entry(key string) (Entry[V], bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	return e, ok
}

// IsFresh reports whether key holds an entry younger than its ttl.
func (c *Cache[V]) IsFresh(key string) bool {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	return ok && e.FreshAt(c.now())
}

// Set upserts value under key and resets its fetch time to now.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	c.entries[key] = Entry[V]{
		Key:       key,
		Value:     value,
		FetchedAt: c.now(),
		TTL:       ttl,
	}
	n := len(c.entries)
	c.mu.Unlock()

	metrics.CacheEntries.WithLabelValues(c.name).Set(float64(n))
}

// Update applies fn to the cached value for key and stores the result with
// the entry's existing ttl. It returns false without calling fn if key is
// not cached. If fn fails the entry is left unchanged.
func (c *Cache[V]) Update(key string, fn func(V) (V, error)) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return false, nil
	}

	v, err := fn(e.Value)
	if err != nil {
		return true, fmt.Errorf("update %s: %w", key, err)
	}

	e.Value = v
	e.FetchedAt = c.now()
	c.entries[key] = e
	return true, nil
}

// Invalidate removes key. A subsequent Get is a miss and a subsequent
// GetOrFetch starts a new fetch rather than joining one already in flight.
// A fetch that was already running when Invalidate was called still
// returns its value to its own callers but does not store it.
func (c *Cache[V]) Invalidate(key string) {
	c.mu.Lock()
	_, existed := c.entries[key]
	delete(c.entries, key)
	c.gens[key]++
	n := len(c.entries)
	c.mu.Unlock()

	c.flights.Forget(key)

	if existed {
		c.invalidations.Add(1)
	}
	metrics.CacheEntries.WithLabelValues(c.name).Set(float64(n))
}

// InvalidateAll removes every entry. Fetches in flight do not store their
// results.
func (c *Cache[V]) InvalidateAll() {
	c.mu.Lock()
	c.epoch++
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	c.entries = make(map[string]Entry[V])
	c.gens = make(map[string]uint64)
	c.mu.Unlock()

	for _, k := range keys {
		c.flights.Forget(k)
	}

	c.invalidations.Add(int64(len(keys)))
	metrics.CacheEntries.WithLabelValues(c.name).Set(0)
	c.logger.Debug("cache cleared", "entries", len(keys))
}

// GetOrFetch returns the fresh cached value for key or loads it with fetch.
//
// A fresh entry is returned without calling fetch. If a fetch for key is
// already in flight the caller waits for that one instead of starting
// another. On success the value is stored with ttl; on failure nothing is
// cached, the error is returned, and any older value stays readable via Get.
//
// The fetch runs detached from ctx cancellation: a caller that gives up
// gets ctx.Err() while the fetch completes and populates the cache.
func (c *Cache[V]) GetOrFetch(ctx context.Context, key string, fetch FetchFunc[V], ttl time.Duration) (V, error) {
	if v, ok := c.fresh(key); ok {
		c.hits.Add(1)
		metrics.CacheRequests.WithLabelValues(c.name, "hit").Inc()
		return v, nil
	}

	c.misses.Add(1)
	metrics.CacheRequests.WithLabelValues(c.name, "miss").Inc()

	fetchCtx := context.WithoutCancel(ctx)
	ch := c.flights.DoChan(key, func() (any, error) {
		// A flight that finished just before this one started may have
		// already stored a fresh value.
		if v, ok := c.fresh(key); ok {
			return v, nil
		}

		c.mu.RLock()
		gen, epoch := c.gens[key], c.epoch
		c.mu.RUnlock()

		c.fetches.Add(1)
		v, err := fetch(fetchCtx)
		if err != nil {
			c.fetchErrors.Add(1)
			metrics.CacheFetches.WithLabelValues(c.name, "error").Inc()
			c.logger.Warn("fetch failed", "key", key, "error", err)
			return v, err
		}

		metrics.CacheFetches.WithLabelValues(c.name, "success").Inc()
		if !c.setIfCurrent(key, v, ttl, gen, epoch) {
			c.discarded.Add(1)
			metrics.CacheFetches.WithLabelValues(c.name, "discarded").Inc()
			c.logger.Debug("fetch result discarded, key invalidated in flight", "key", key)
		}
		return v, nil
	})

	select {
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	case res := <-ch:
		if res.Shared {
			c.sharedWaits.Add(1)
			metrics.CacheFetches.WithLabelValues(c.name, "shared").Inc()
		}
		if res.Err != nil {
			var zero V
			return zero, res.Err
		}
		v, _ := res.Val.(V)
		return v, nil
	}
}

// setIfCurrent stores value unless key was invalidated after gen and epoch
// were read.
func (c *Cache[V]) setIfCurrent(key string, value V, ttl time.Duration, gen, epoch uint64) bool {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	if c.gens[key] != gen || c.epoch != epoch {
		c.mu.Unlock()
		return false
	}
	c.entries[key] = Entry[V]{
		Key:       key,
		Value:     value,
		FetchedAt: c.now(),
		TTL:       ttl,
	}
	n := len(c.entries)
	c.mu.Unlock()

	metrics.CacheEntries.WithLabelValues(c.name).Set(float64(n))
	return true
}

// Keys returns the cached keys in sorted order.
func (c *Cache[V]) Keys() []string {
	c.mu.RLock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	c.mu.RUnlock()

	sort.Strings(keys)
	return keys
}

// Len returns the number of cached entries.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns current counters.
func (c *Cache[V]) Stats() Stats {
	return Stats{
		Entries:       c.Len(),
		Hits:          c.hits.Load(),
		StaleHits:     c.staleHits.Load(),
		Misses:        c.misses.Load(),
		Fetches:       c.fetches.Load(),
		SharedWaits:   c.sharedWaits.Load(),
		FetchErrors:   c.fetchErrors.Load(),
		Invalidations: c.invalidations.Load(),
		Discarded:     c.discarded.Load(),
	}
}

// fresh returns the value for key if it is cached and fresh.
func (c *Cache[V]) fresh(key string) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if ok && e.FreshAt(c.now()) {
		return e.Value, true
	}
	var zero V
	return zero, false
}
