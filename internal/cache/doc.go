/*
Package cache provides the two storage tiers of the image loader.

# Memory tier

MemoryCache holds decoded images under a byte budget with strict LRU eviction:

	c := cache.NewMemoryCache(&cache.MemoryCacheConfig{Capacity: 64 << 20})
	c.Put(key, img, img.SizeBytes)
	if img, ok := c.Get(key); ok {
		// hit, and key is now the most recently used entry
	}

After every Put or SetCapacity the cache size is at most its capacity, or the
cache is empty. Entries with equal recency leave in insertion order, because
the recency list is only ever reordered by access. A single mutex guards the
map, the list and the size counter.

# Disk tier

FileStore persists raw fetched bytes, one file per RequestKey, directly under
one directory. File names are the keys themselves, which are already
filesystem safe. The disk tier is unbounded and never evicts; Clear removes
every regular file in the directory without descending into subdirectories.

	store, err := cache.NewFileStore(&cache.FileStoreConfig{Directory: dir})
	err = store.Write(key, data)
	data, err = store.Read(key) // NOT_FOUND on a miss, IO on failure

FileStore does not lock. Concurrent writes of the same key are prevented by
the fetch coordinator, which runs at most one task per key.
*/
package cache
