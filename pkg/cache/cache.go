// Package cache provides a byte-bounded LRU for immutable blobs, used to
// keep hot sealed segments in memory.
package cache

import (
	"container/list"
	"sync"
)

// Cache is an LRU over byte blobs bounded by total byte size rather than
// entry count. Safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	capacity int
	size     int
	ll       *list.List
	items    map[string]*list.Element
}

type entry struct {
	key  string
	data []byte
}

// New creates a cache holding at most capacityBytes of blob data.
func New(capacityBytes int) *Cache {
	if capacityBytes <= 0 {
		capacityBytes = 1
	}
	return &Cache{
		capacity: capacityBytes,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
	}
}

// Get returns the cached blob for key, marking it most recently used.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[key]; ok {
		c.ll.MoveToFront(elem)
		return elem.Value.(*entry).data, true
	}
	return nil, false
}

// Set stores a copy of data under key, evicting least recently used entries
// until the byte budget holds.
func (c *Cache) Set(key string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[key]; ok {
		e := elem.Value.(*entry)
		c.size -= len(e.data)
		e.data = append(e.data[:0], data...)
		c.size += len(e.data)
		c.ll.MoveToFront(elem)
		c.evict()
		return
	}
	e := &entry{key: key, data: append([]byte(nil), data...)}
	c.items[key] = c.ll.PushFront(e)
	c.size += len(e.data)
	c.evict()
}

// Delete removes key if present.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[key]; ok {
		e := elem.Value.(*entry)
		delete(c.items, e.key)
		c.ll.Remove(elem)
		c.size -= len(e.data)
	}
}

// Bytes returns the current total blob size.
func (c *Cache) Bytes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

func (c *Cache) evict() {
	for c.size > c.capacity && c.ll.Len() > 0 {
		elem := c.ll.Back()
		e := elem.Value.(*entry)
		delete(c.items, e.key)
		c.ll.Remove(elem)
		c.size -= len(e.data)
	}
}
