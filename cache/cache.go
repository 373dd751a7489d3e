package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"minicord/types"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type CacheEntry struct {
	Key       string
	Value     types.User
	Timestamp time.Time
	TTL       time.Duration
}

// UserCache is an LRU of users with optional per-entry TTL.
type UserCache struct {
	items      map[string]*list.Element
	evictList  *list.List
	mutex      sync.Mutex
	capacity   int
	metrics    *CacheMetrics
	ctx        context.Context
	cancel     context.CancelFunc
	cleanupTTL time.Duration
	now        func() time.Time
}

type CacheMetrics struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	evictions prometheus.Counter
	size      prometheus.Gauge
}

func newCacheMetrics(reg prometheus.Registerer) *CacheMetrics {
	factory := promauto.With(reg)
	return &CacheMetrics{
		hits: factory.NewCounter(prometheus.CounterOpts{
			Name: "minicord_user_cache_hits_total",
			Help: "Total number of user cache hits",
		}),
		misses: factory.NewCounter(prometheus.CounterOpts{
			Name: "minicord_user_cache_misses_total",
			Help: "Total number of user cache misses",
		}),
		evictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "minicord_user_cache_evictions_total",
			Help: "Entries removed because of capacity or expiry",
		}),
		size: factory.NewGauge(prometheus.GaugeOpts{
			Name: "minicord_user_cache_size",
			Help: "Current size of the user cache",
		}),
	}
}

// NewUserCache creates a cache holding at most capacity users. Metrics are
// registered with reg; pass nil to keep them unregistered.
func NewUserCache(capacity int, cleanup time.Duration, reg prometheus.Registerer) *UserCache {
	if capacity <= 0 {
		capacity = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &UserCache{
		items:      make(map[string]*list.Element),
		evictList:  list.New(),
		capacity:   capacity,
		metrics:    newCacheMetrics(reg),
		ctx:        ctx,
		cancel:     cancel,
		cleanupTTL: cleanup,
		now:        time.Now,
	}
	if cleanup > 0 {
		go c.startCleanup()
	}
	return c
}

func (c *UserCache) Get(id string) (types.User, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if element, exists := c.items[id]; exists {
		entry := element.Value.(*CacheEntry)
		if c.expired(entry, c.now()) {
			c.evictElement(element)
			c.metrics.misses.Inc()
			return types.User{}, false
		}
		c.evictList.MoveToFront(element)
		c.metrics.hits.Inc()
		return entry.Value, true
	}

	c.metrics.misses.Inc()
	return types.User{}, false
}

// Set stores user under its ID. A zero ttl never expires.
func (c *UserCache) Set(user types.User, ttl time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if element, exists := c.items[user.ID]; exists {
		c.evictList.MoveToFront(element)
		entry := element.Value.(*CacheEntry)
		entry.Value = user
		entry.Timestamp = c.now()
		entry.TTL = ttl
		return
	}

	element := c.evictList.PushFront(&CacheEntry{
		Key:       user.ID,
		Value:     user,
		Timestamp: c.now(),
		TTL:       ttl,
	})
	c.items[user.ID] = element
	c.metrics.size.Inc()

	if c.evictList.Len() > c.capacity {
		c.evictLRU()
	}
}

func (c *UserCache) expired(entry *CacheEntry, now time.Time) bool {
	return entry.TTL > 0 && now.Sub(entry.Timestamp) > entry.TTL
}

func (c *UserCache) evictLRU() {
	if element := c.evictList.Back(); element != nil {
		c.evictElement(element)
	}
}

func (c *UserCache) evictElement(element *list.Element) {
	c.evictList.Remove(element)
	entry := element.Value.(*CacheEntry)
	delete(c.items, entry.Key)
	c.metrics.size.Dec()
	c.metrics.evictions.Inc()
}

func (c *UserCache) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.items = make(map[string]*list.Element)
	c.evictList.Init()
	c.metrics.size.Set(0)
}

func (c *UserCache) Stop() {
	c.cancel()
}

func (c *UserCache) startCleanup() {
	ticker := time.NewTicker(c.cleanupTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanupExpired()
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *UserCache) cleanupExpired() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.now()
	for _, element := range c.items {
		if c.expired(element.Value.(*CacheEntry), now) {
			c.evictElement(element)
		}
	}
}

func (c *UserCache) Size() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.evictList.Len()
}
