package cache

import (
	"container/list"
	"log/slog"
	"sync"

	"github.com/objectfs/imageloader/pkg/types"
	"github.com/objectfs/imageloader/pkg/utils"
)

// MemoryCache is a byte-bounded LRU cache of decoded images.
// All operations are safe for concurrent use.
type MemoryCache struct {
	mu          sync.Mutex
	capacity    int64
	currentSize int64
	items       map[types.RequestKey]*list.Element
	evictList   *list.List // front is most recently used

	logger  *slog.Logger
	onEvict func(key types.RequestKey, size int64)

	// Statistics
	stats types.CacheStats
}

// MemoryCacheConfig represents memory tier configuration
type MemoryCacheConfig struct {
	// Capacity is the byte budget. Zero or negative means nothing is retained.
	Capacity int64
	Logger   *slog.Logger
	// OnEvict is called, outside the cache lock, for every entry removed to
	// satisfy the budget.
	OnEvict func(key types.RequestKey, size int64)
}

// memoryEntry represents the value stored in the list element
type memoryEntry struct {
	key   types.RequestKey
	image *types.Image
	size  int64
}

type evicted struct {
	key  types.RequestKey
	size int64
}

// NewMemoryCache creates a new memory cache
func NewMemoryCache(config *MemoryCacheConfig) *MemoryCache {
	if config == nil {
		config = &MemoryCacheConfig{
			Capacity: utils.FractionOf(utils.MemoryBudget(), 0.25),
		}
	}

	c := &MemoryCache{
		items:     make(map[types.RequestKey]*list.Element),
		evictList: list.New(),
		logger:    utils.OrNop(config.Logger),
		onEvict:   config.OnEvict,
	}
	c.SetCapacity(config.Capacity)
	return c
}

// Get returns the image stored for key and marks it most recently used.
func (c *MemoryCache) Get(key types.RequestKey) (*types.Image, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return nil, false
	}

	c.evictList.MoveToFront(element)
	c.stats.Hits++
	return element.Value.(*memoryEntry).image, true
}

// contains reports whether key is cached without touching its recency.
func (c *MemoryCache) contains(key types.RequestKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[key]
	return ok
}

// Put stores img under key, replacing any previous entry, then evicts least
// recently used entries until the cache fits its capacity or is empty.
func (c *MemoryCache) Put(key types.RequestKey, img *types.Image, sizeBytes int64) {
	if sizeBytes < 0 {
		sizeBytes = 0
	}

	c.mu.Lock()
	if element, ok := c.items[key]; ok {
		entry := element.Value.(*memoryEntry)
		c.currentSize += sizeBytes - entry.size
		entry.image = img
		entry.size = sizeBytes
		c.evictList.MoveToFront(element)
	} else {
		entry := &memoryEntry{key: key, image: img, size: sizeBytes}
		c.items[key] = c.evictList.PushFront(entry)
		c.currentSize += sizeBytes
	}
	victims := c.evictIfNeeded()
	c.mu.Unlock()

	c.notifyEvicted(victims)
}

// Remove drops key from the cache. It reports whether the key was present.
func (c *MemoryCache) Remove(key types.RequestKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeElement(element)
	return true
}

// Clear clears all items from the cache
func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[types.RequestKey]*list.Element)
	c.evictList.Init()
	c.currentSize = 0
}

// SetCapacity changes the byte budget and evicts down to it.
func (c *MemoryCache) SetCapacity(bytes int64) {
	if bytes < 0 {
		bytes = 0
	}

	c.mu.Lock()
	c.capacity = bytes
	victims := c.evictIfNeeded()
	c.mu.Unlock()

	c.logger.Info("memory cache capacity set",
		"capacity_mb", utils.MegaBytes(bytes),
		"capacity", utils.FormatBytes(bytes))
	c.notifyEvicted(victims)
}

// Capacity returns the byte budget.
func (c *MemoryCache) Capacity() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capacity
}

// Size returns the current cache size
func (c *MemoryCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentSize
}

// Len returns the number of cached entries.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// keys returns cached keys from most to least recently used.
func (c *MemoryCache) keys() []types.RequestKey {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]types.RequestKey, 0, c.evictList.Len())
	for e := c.evictList.Front(); e != nil; e = e.Next() {
		keys = append(keys, e.Value.(*memoryEntry).key)
	}
	return keys
}

// Stats returns cache statistics
func (c *MemoryCache) Stats() types.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.Entries = len(c.items)
	stats.Size = c.currentSize
	stats.Capacity = c.capacity
	stats.ComputeRates()
	return stats
}

// evictIfNeeded must be called with c.mu held.
func (c *MemoryCache) evictIfNeeded() []evicted {
	var victims []evicted
	for c.currentSize > c.capacity && c.evictList.Len() > 0 {
		entry := c.removeElement(c.evictList.Back())
		c.stats.Evictions++
		victims = append(victims, evicted{key: entry.key, size: entry.size})
	}
	return victims
}

func (c *MemoryCache) removeElement(element *list.Element) *memoryEntry {
	entry := c.evictList.Remove(element).(*memoryEntry)
	delete(c.items, entry.key)
	c.currentSize -= entry.size
	return entry
}

func (c *MemoryCache) notifyEvicted(victims []evicted) {
	for _, v := range victims {
		c.logger.Debug("evicted from memory cache", "key", v.key, "size", v.size)
		if c.onEvict != nil {
			c.onEvict(v.key, v.size)
		}
	}
}
