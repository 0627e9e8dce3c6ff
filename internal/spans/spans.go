// Package spans keeps the address-ordered set of blobs carved from arenas.
//
// The registry asks it for the live neighbours of a blob being deleted so
// reclamation never crosses into a neighbour's pages. A Set may be shared by
// several registries that map the same arenas.
package spans

import (
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// Span is one blob extent [Addr, Addr+Size).
type Span struct {
	Addr uint64
	Size uint64
}

// End returns Addr+Size.
func (s Span) End() uint64 {
	return s.Addr + s.Size
}

// Set is an ordered set of spans keyed by start address. It is safe for
// concurrent use.
type Set struct {
	mu    sync.RWMutex
	order *roaring64.Bitmap
	sizes map[uint64]uint64
}

// New creates an empty set.
func New() *Set {
	return &Set{
		order: roaring64.New(),
		sizes: make(map[uint64]uint64),
	}
}

// Add records a span. Re-adding an address replaces its size.
func (s *Set) Add(addr, size uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order.Add(addr)
	s.sizes[addr] = size
}

// Remove drops the span starting at addr and reports whether it existed.
func (s *Set) Remove(addr uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sizes[addr]; !ok {
		return false
	}
	s.order.Remove(addr)
	delete(s.sizes, addr)
	return true
}

// Get returns the span starting at addr.
func (s *Set) Get(addr uint64) (Span, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	size, ok := s.sizes[addr]
	return Span{Addr: addr, Size: size}, ok
}

// Len returns the number of spans.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sizes)
}

// Neighbours returns the nearest spans strictly below and above addr,
// read under one lock.
func (s *Set) Neighbours(addr uint64) (prev Span, hasPrev bool, next Span, hasNext bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	prev, hasPrev = s.prevLocked(addr)
	next, hasNext = s.nextLocked(addr)
	return prev, hasPrev, next, hasNext
}

// Prev returns the span with the largest address below addr.
func (s *Set) Prev(addr uint64) (Span, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prevLocked(addr)
}

// Next returns the span with the smallest address above addr.
func (s *Set) Next(addr uint64) (Span, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextLocked(addr)
}

func (s *Set) prevLocked(addr uint64) (Span, bool) {
	if addr == 0 {
		return Span{}, false
	}
	// Rank counts members <= x.
	k := s.order.Rank(addr - 1)
	if k == 0 {
		return Span{}, false
	}
	return s.selectLocked(k - 1)
}

func (s *Set) nextLocked(addr uint64) (Span, bool) {
	k := s.order.Rank(addr)
	if k >= s.order.GetCardinality() {
		return Span{}, false
	}
	return s.selectLocked(k)
}

func (s *Set) selectLocked(i uint64) (Span, bool) {
	a, err := s.order.Select(i)
	if err != nil {
		return Span{}, false
	}
	return Span{Addr: a, Size: s.sizes[a]}, true
}

// Ascend calls fn for each span in address order until fn returns false.
func (s *Set) Ascend(fn func(Span) bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it := s.order.Iterator()
	for it.HasNext() {
		a := it.Next()
		if !fn(Span{Addr: a, Size: s.sizes[a]}) {
			return
		}
	}
}
