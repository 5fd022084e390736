package blobfile

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/cockroachdb/pebble-blob/blobformat"
	"github.com/cockroachdb/pebble-blob/harness"
	"github.com/cockroachdb/pebble-blob/internal/base"
)

// Cache is a bounded LRU of open blob file readers keyed by file number
// (§4.4). Evicting an entry closes its reader once every in-flight Get or
// Prefetcher has released it; Get opens (or reuses) the reader for a file
// and delegates the actual record read to it.
type Cache struct {
	fs  harness.FS
	mu  sync.Mutex
	lru *lru.Cache[uint64, *cacheEntry]
}

// cacheEntry ref-counts a reader so that eviction (Evict, or LRU capacity
// pressure from Add) never closes a file out from under a Get or
// Prefetcher still using it: the eviction callback only closes the reader
// immediately if refs is already zero, otherwise it marks the entry
// doomed and the last releaser closes it (§4.4, spec.md's "eviction races
// are resolved by ref-counting the reader object").
type cacheEntry struct {
	reader *Reader
	refs   int  // guarded by Cache.mu
	doomed bool // guarded by Cache.mu; set by the evict callback
}

// NewCache returns a Cache backed by fs that holds at most capacity open
// readers at once.
func NewCache(fs harness.FS, capacity int) (*Cache, error) {
	c := &Cache{fs: fs}
	evict := func(_ uint64, entry *cacheEntry) {
		if entry.refs == 0 {
			_ = entry.reader.Close()
		} else {
			entry.doomed = true
		}
	}
	l, err := lru.NewWithEvict(capacity, evict)
	if err != nil {
		return nil, base.IOErrorf("blobfile: new cache: %v", err)
	}
	c.lru = l
	return c, nil
}

// Get opens (or reuses) the reader for fileName/fileNumber and reads the
// record at handle.
func (c *Cache) Get(fileName string, fileNumber uint64, fileSize int64, handle blobformat.Handle) (blobformat.Record, error) {
	entry, err := c.open(fileName, fileNumber, fileSize)
	if err != nil {
		return blobformat.Record{}, err
	}
	defer c.release(entry)
	return entry.reader.Get(handle)
}

// NewPrefetcher returns a Prefetcher that shares the cached reader for
// fileName/fileNumber, opening it if necessary. The returned Prefetcher
// holds a reference on the underlying cache entry until its Close method
// is called.
func (c *Cache) NewPrefetcher(fileName string, fileNumber uint64, fileSize int64) (*Prefetcher, error) {
	entry, err := c.open(fileName, fileNumber, fileSize)
	if err != nil {
		return nil, err
	}
	pf := NewPrefetcher(entry.reader)
	pf.release = func() { c.release(entry) }
	return pf, nil
}

// open returns the cache entry for fileName/fileNumber, opening it if
// necessary, with its reference count incremented. The caller must call
// release exactly once when done with the reader.
func (c *Cache) open(fileName string, fileNumber uint64, fileSize int64) (*cacheEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.lru.Get(fileNumber); ok {
		entry.refs++
		return entry, nil
	}

	f, err := c.fs.Open(fileName)
	if err != nil {
		return nil, err
	}
	r, err := Open(f, fileSize)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	entry := &cacheEntry{reader: r, refs: 1}
	c.lru.Add(fileNumber, entry)
	return entry, nil
}

// release drops a reference acquired by open, closing the reader if it
// was evicted while still in use and this was the last reference to
// release it.
func (c *Cache) release(entry *cacheEntry) {
	c.mu.Lock()
	entry.refs--
	closeNow := entry.doomed && entry.refs == 0
	c.mu.Unlock()
	if closeNow {
		_ = entry.reader.Close()
	}
}

// Evict drops the cached reader for fileNumber, if any, called when a
// blob file becomes obsolete (§4.4). The reader itself is only closed once
// every Get/Prefetcher still using it has released its reference.
func (c *Cache) Evict(fileNumber uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(fileNumber)
}
