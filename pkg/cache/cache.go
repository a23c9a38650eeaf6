package cache

import (
	"sync"
	"time"

	"booking-inbox/client/pkg/config"
)

// Item represents a cached item with expiration
type Item[V any] struct {
	Value      V
	Expiration int64
}

// Expired checks if the cache item has expired at now (unix nanoseconds)
func (item Item[V]) Expired(now int64) bool {
	if item.Expiration == 0 {
		return false
	}
	return now > item.Expiration
}

// Options configures a Cache
type Options struct {
	// TTL is the default expiration; zero keeps items until evicted
	TTL time.Duration

	// MaxItems bounds the cache; the item closest to expiring is evicted first
	MaxItems int

	// PurgeWindow is how often expired items are removed; zero disables the purge loop
	PurgeWindow time.Duration
}

// OptionsFromConfig reads the view cache settings
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		TTL:         cfg.Cache.TTL,
		MaxItems:    cfg.Cache.MaxSize,
		PurgeWindow: cfg.Cache.PurgeWindow,
	}
}

type eviction[V any] struct {
	key   string
	value V
}

// Cache is a thread-safe in-memory cache with sliding expiration. Items
// accessed through GetOrCreate have their expiration renewed.
type Cache[V any] struct {
	items             map[string]Item[V]
	mu                sync.RWMutex
	defaultExpiration time.Duration
	cleanupInterval   time.Duration
	maxItems          int
	onEvicted         func(string, V)
	now               func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a cache and starts its purge loop when PurgeWindow > 0
func New[V any](opts Options) *Cache[V] {
	c := &Cache[V]{
		items:             make(map[string]Item[V]),
		defaultExpiration: opts.TTL,
		cleanupInterval:   opts.PurgeWindow,
		maxItems:          opts.MaxItems,
		now:               time.Now,
		stop:              make(chan struct{}),
	}

	if c.cleanupInterval > 0 {
		go c.startCleanupTimer()
	}

	return c
}

func (c *Cache[V]) expiry(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return c.now().Add(d).UnixNano()
}

// Set adds an item to the cache with the default expiration
func (c *Cache[V]) Set(key string, value V) {
	c.SetWithExpiration(key, value, c.defaultExpiration)
}

// SetWithExpiration adds an item to the cache with a specific expiration time.
// A replaced value is reported to the eviction callback.
func (c *Cache[V]) SetWithExpiration(key string, value V, d time.Duration) {
	c.mu.Lock()
	var evicted []eviction[V]
	if old, found := c.items[key]; found {
		evicted = append(evicted, eviction[V]{key, old.Value})
	} else if c.maxItems > 0 && len(c.items) >= c.maxItems {
		evicted = append(evicted, c.evictOldest()...)
	}
	c.items[key] = Item[V]{Value: value, Expiration: c.expiry(d)}
	c.mu.Unlock()

	c.evicted(evicted)
}

// Get retrieves an item from the cache
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, found := c.items[key]
	if !found || item.Expired(c.now().UnixNano()) {
		var zero V
		return zero, false
	}

	return item.Value, true
}

// GetOrCreate returns the live item for key, renewing its expiration, or
// stores the result of create. created reports which happened. An expired
// item is evicted before its replacement is created.
func (c *Cache[V]) GetOrCreate(key string, create func() V) (value V, created bool) {
	c.mu.Lock()
	now := c.now().UnixNano()
	var evicted []eviction[V]

	item, found := c.items[key]
	if found && !item.Expired(now) {
		item.Expiration = c.expiry(c.defaultExpiration)
		c.items[key] = item
		c.mu.Unlock()
		return item.Value, false
	}
	if found {
		evicted = append(evicted, eviction[V]{key, item.Value})
		delete(c.items, key)
	}
	if c.maxItems > 0 && len(c.items) >= c.maxItems {
		evicted = append(evicted, c.evictOldest()...)
	}

	value = create()
	c.items[key] = Item[V]{Value: value, Expiration: c.expiry(c.defaultExpiration)}
	c.mu.Unlock()

	c.evicted(evicted)
	return value, true
}

// Delete removes an item from the cache
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	item, found := c.items[key]
	delete(c.items, key)
	c.mu.Unlock()

	if found {
		c.evicted([]eviction[V]{{key, item.Value}})
	}
}

// Flush removes all items from the cache
func (c *Cache[V]) Flush() {
	c.mu.Lock()
	evicted := make([]eviction[V], 0, len(c.items))
	for k, v := range c.items {
		evicted = append(evicted, eviction[V]{k, v.Value})
	}
	c.items = make(map[string]Item[V])
	c.mu.Unlock()

	c.evicted(evicted)
}

// Count returns the number of items in the cache (including expired items)
func (c *Cache[V]) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.items)
}

// Keys returns the keys of live items
func (c *Cache[V]) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now().UnixNano()
	keys := make([]string, 0, len(c.items))
	for k, v := range c.items {
		if !v.Expired(now) {
			keys = append(keys, k)
		}
	}
	return keys
}

// SetOnEvicted sets the callback to be called when an item is evicted. It
// runs without the cache lock held.
func (c *Cache[V]) SetOnEvicted(f func(string, V)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.onEvicted = f
}

// Close stops the purge loop. Items stay in place.
func (c *Cache[V]) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Cache[V]) evicted(items []eviction[V]) {
	c.mu.RLock()
	fn := c.onEvicted
	c.mu.RUnlock()

	if fn == nil {
		return
	}
	for _, e := range items {
		fn(e.key, e.value)
	}
}

// startCleanupTimer starts the cleanup ticker
func (c *Cache[V]) startCleanupTimer() {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.DeleteExpired()
		case <-c.stop:
			return
		}
	}
}

// DeleteExpired deletes all expired items from the cache
func (c *Cache[V]) DeleteExpired() {
	c.mu.Lock()
	now := c.now().UnixNano()
	var evicted []eviction[V]
	for k, v := range c.items {
		if v.Expired(now) {
			evicted = append(evicted, eviction[V]{k, v.Value})
			delete(c.items, k)
		}
	}
	c.mu.Unlock()

	c.evicted(evicted)
}

// evictOldest removes the item closest to expiring. Items without an
// expiration count as oldest. Must be called with the lock held.
func (c *Cache[V]) evictOldest() []eviction[V] {
	var oldestKey string
	var oldestTime int64

	firstRun := true
	for k, v := range c.items {
		if firstRun || v.Expiration < oldestTime {
			oldestKey = k
			oldestTime = v.Expiration
			firstRun = false
		}
	}

	if firstRun {
		return nil
	}
	value := c.items[oldestKey].Value
	delete(c.items, oldestKey)
	return []eviction[V]{{oldestKey, value}}
}
