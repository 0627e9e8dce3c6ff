package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
)

// ColdList is an LRU of evictable keys with byte accounting.
// The most recently cooled key is at the front; eviction takes from the back.
type ColdList[K comparable] struct {
	mu        sync.Mutex
	size      int64
	items     map[K]*list.Element
	evictList *list.List

	evicted atomic.Int64
}

type entry[K comparable] struct {
	key  K
	size int64
}

// NewColdList creates an empty cold list.
func NewColdList[K comparable]() *ColdList[K] {
	return &ColdList[K]{
		items:     make(map[K]*list.Element),
		evictList: list.New(),
	}
}

// Add marks key as cold with the given size. Re-adding a key refreshes its
// position and size.
func (c *ColdList[K]) Add(key K, size int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ent, ok := c.items[key]; ok {
		c.evictList.MoveToFront(ent)
		e := ent.Value.(*entry[K])
		c.size += size - e.size
		e.size = size
		return
	}

	c.items[key] = c.evictList.PushFront(&entry[K]{key: key, size: size})
	c.size += size
}

// Remove takes key off the list (re-heating it) and reports whether it was cold.
func (c *ColdList[K]) Remove(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	ent, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeElement(ent)
	return true
}

// Contains reports whether key is cold.
func (c *ColdList[K]) Contains(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[key]
	return ok
}

// PopColdest removes and returns the least recently cooled key.
func (c *ColdList[K]) PopColdest() (K, int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ent := c.evictList.Back()
	if ent == nil {
		var zero K
		return zero, 0, false
	}
	e := ent.Value.(*entry[K])
	c.removeElement(ent)
	c.evicted.Add(1)
	return e.key, e.size, true
}

// Coldest returns up to n keys from the cold end without removing them.
func (c *ColdList[K]) Coldest(n int) []K {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]K, 0, min(n, c.evictList.Len()))
	for ent := c.evictList.Back(); ent != nil && len(out) < n; ent = ent.Prev() {
		out = append(out, ent.Value.(*entry[K]).key)
	}
	return out
}

func (c *ColdList[K]) removeElement(e *list.Element) {
	c.evictList.Remove(e)
	kv := e.Value.(*entry[K])
	delete(c.items, kv.key)
	c.size -= kv.size
}

// Len returns the number of cold keys.
func (c *ColdList[K]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictList.Len()
}

// Size returns the total bytes of cold keys.
func (c *ColdList[K]) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Evicted returns how many keys were popped.
func (c *ColdList[K]) Evicted() int64 {
	return c.evicted.Load()
}
