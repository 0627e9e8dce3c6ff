// Package shardmap provides a hash-partitioned concurrent map.
//
// Keys are spread over 64 shards, each guarded by its own RWMutex, so
// operations on unrelated keys rarely contend. Read-modify-write operations
// run their callback while holding the key's shard lock.
package shardmap

import (
	"hash/maphash"
	"sync"
)

const numShards = 64

type shard[K comparable, V any] struct {
	mu sync.RWMutex
	m  map[K]V
}

// Map is a concurrent map from K to V. The zero value is not usable; call New.
type Map[K comparable, V any] struct {
	shards [numShards]*shard[K, V]
	seed   maphash.Seed
}

// New creates an empty map.
func New[K comparable, V any]() *Map[K, V] {
	m := &Map[K, V]{seed: maphash.MakeSeed()}
	for i := range numShards {
		m.shards[i] = &shard[K, V]{m: make(map[K]V)}
	}
	return m
}

func (m *Map[K, V]) shard(key K) *shard[K, V] {
	return m.shards[maphash.Comparable(m.seed, key)%numShards]
}

// Load returns the value stored for key.
func (m *Map[K, V]) Load(key K) (V, bool) {
	s := m.shard(key)
	s.mu.RLock()
	v, ok := s.m[key]
	s.mu.RUnlock()
	return v, ok
}

// Contains reports whether key is present.
func (m *Map[K, V]) Contains(key K) bool {
	_, ok := m.Load(key)
	return ok
}

// Store sets the value for key.
func (m *Map[K, V]) Store(key K, v V) {
	s := m.shard(key)
	s.mu.Lock()
	s.m[key] = v
	s.mu.Unlock()
}

// Insert stores v only if key is absent and reports whether it did.
func (m *Map[K, V]) Insert(key K, v V) bool {
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[key]; ok {
		return false
	}
	s.m[key] = v
	return true
}

// View calls fn with the value for key under the shard's read lock.
// It returns false if key is absent.
func (m *Map[K, V]) View(key K, fn func(V)) bool {
	s := m.shard(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key]
	if !ok {
		return false
	}
	fn(v)
	return true
}

// Update replaces the value for key with fn(old) under the shard's write
// lock. It returns false if key is absent.
func (m *Map[K, V]) Update(key K, fn func(V) V) bool {
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[key]
	if !ok {
		return false
	}
	s.m[key] = fn(v)
	return true
}

// Delete removes key and returns the removed value.
func (m *Map[K, V]) Delete(key K) (V, bool) {
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[key]
	if ok {
		delete(s.m, key)
	}
	return v, ok
}

// DeleteIf removes key if pred returns true for its value. pred runs under
// the shard's write lock. The second result reports removal.
func (m *Map[K, V]) DeleteIf(key K, pred func(V) bool) (V, bool) {
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[key]
	if !ok || !pred(v) {
		var zero V
		return zero, false
	}
	delete(s.m, key)
	return v, true
}

// Len returns the number of entries. Concurrent writers make the result
// approximate.
func (m *Map[K, V]) Len() int {
	n := 0
	for _, s := range m.shards {
		s.mu.RLock()
		n += len(s.m)
		s.mu.RUnlock()
	}
	return n
}

// Range calls fn for each entry until fn returns false. Each shard is
// snapshotted before fn runs, so fn may call back into the map.
func (m *Map[K, V]) Range(fn func(K, V) bool) {
	type kv struct {
		k K
		v V
	}
	var buf []kv
	for _, s := range m.shards {
		buf = buf[:0]
		s.mu.RLock()
		for k, v := range s.m {
			buf = append(buf, kv{k, v})
		}
		s.mu.RUnlock()
		for _, e := range buf {
			if !fn(e.k, e.v) {
				return
			}
		}
	}
}
