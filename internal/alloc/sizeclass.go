package alloc

import (
	"errors"
	"math/bits"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/bulkstore/internal/resource"
)

const (
	minClassShift = 6  // 64 B
	maxClassShift = 18 // 256 KiB
	numClasses    = maxClassShift - minClassShift + 1

	// MaxClassSize is the largest request served from a size class.
	MaxClassSize = 1 << maxClassShift
)

// SizeClass serves small requests from power-of-two classes with per-class
// free lists and delegates everything else to a FirstFit over the same
// region. Freed class blocks are cached for reuse and stop counting
// towards the footprint; they are flushed back to the first-fit free list
// when the region runs out of space.
type SizeClass struct {
	region []byte
	rc     *resource.Controller
	large  *FirstFit

	mu     sync.Mutex
	cached [numClasses][]int
	owned  map[int]int // off -> class

	allocated atomic.Int64
}

// NewSizeClass creates a size-class allocator over region.
func NewSizeClass(region []byte, rc *resource.Controller) *SizeClass {
	return &SizeClass{
		region: region,
		rc:     rc,
		large:  NewFirstFit(region, rc),
		owned:  make(map[int]int),
	}
}

// Name implements Allocator.
func (s *SizeClass) Name() string { return BackendSizeClass }

// Limit implements Allocator.
func (s *SizeClass) Limit() int64 { return limitOf(s.rc, s.region) }

// Allocated implements Allocator.
func (s *SizeClass) Allocated() int64 {
	return s.allocated.Load() + s.large.Allocated()
}

func classOf(size int) int {
	if size <= 1<<minClassShift {
		return 0
	}
	return bits.Len(uint(size-1)) - minClassShift
}

func classSize(c int) int {
	return 1 << (c + minClassShift)
}

// Allocate implements Allocator.
func (s *SizeClass) Allocate(size, align int) (int, error) {
	a, ok := validAlign(align)
	if size <= 0 || !ok {
		return 0, ErrInvalidSize
	}
	if size > MaxClassSize || a > BlockSize {
		return s.allocateLarge(size, a)
	}

	c := classOf(size)
	n := classSize(c)
	if err := s.rc.AcquireMemory(int64(n)); err != nil {
		return 0, ErrLimitExceeded
	}
	off, ok := s.takeClass(c)
	if !ok {
		s.rc.ReleaseMemory(int64(n))
		return 0, ErrNoSpace
	}
	s.allocated.Add(int64(n))
	return off, nil
}

func (s *SizeClass) allocateLarge(size, align int) (int, error) {
	off, err := s.large.Allocate(size, align)
	if errors.Is(err, ErrNoSpace) && s.Flush() > 0 {
		off, err = s.large.Allocate(size, align)
	}
	return off, err
}

func (s *SizeClass) takeClass(c int) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l := len(s.cached[c]); l > 0 {
		off := s.cached[c][l-1]
		s.cached[c] = s.cached[c][:l-1]
		s.owned[off] = c
		return off, true
	}
	n := classSize(c)
	off, ok := s.large.take(n, BlockSize)
	if !ok {
		s.flushLocked()
		off, ok = s.large.take(n, BlockSize)
		if !ok {
			return 0, false
		}
	}
	s.owned[off] = c
	return off, true
}

// Free implements Allocator.
func (s *SizeClass) Free(off int) error {
	s.mu.Lock()
	c, ok := s.owned[off]
	if ok {
		delete(s.owned, off)
		s.cached[c] = append(s.cached[c], off)
	}
	s.mu.Unlock()
	if !ok {
		return s.large.Free(off)
	}
	n := int64(classSize(c))
	s.allocated.Add(-n)
	s.rc.ReleaseMemory(n)
	return nil
}

// UsableSize implements Allocator.
func (s *SizeClass) UsableSize(off int) (int, bool) {
	s.mu.Lock()
	c, ok := s.owned[off]
	s.mu.Unlock()
	if ok {
		return classSize(c), true
	}
	return s.large.UsableSize(off)
}

// Reallocate implements Allocator.
func (s *SizeClass) Reallocate(off, size int) (int, error) {
	if size <= 0 {
		return 0, ErrInvalidSize
	}
	s.mu.Lock()
	c, ok := s.owned[off]
	s.mu.Unlock()
	if !ok {
		if _, large := s.large.UsableSize(off); !large {
			return 0, ErrInvalidFree
		}
		if size <= MaxClassSize {
			return s.move(off, size)
		}
		return s.large.Reallocate(off, size)
	}
	if size <= classSize(c) && classOf(size) == c {
		return off, nil
	}
	return s.move(off, size)
}

func (s *SizeClass) move(off, size int) (int, error) {
	have, _ := s.UsableSize(off)
	noff, err := s.Allocate(size, BlockSize)
	if err != nil {
		return 0, err
	}
	n := min(have, size)
	copy(s.region[noff:noff+n], s.region[off:off+n])
	if err := s.Free(off); err != nil {
		return 0, err
	}
	return noff, nil
}

// Flush returns all cached class blocks to the first-fit free list and
// reports how many were returned.
func (s *SizeClass) Flush() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *SizeClass) flushLocked() int {
	n := 0
	for c := range s.cached {
		for _, off := range s.cached[c] {
			s.large.give(off)
			n++
		}
		s.cached[c] = s.cached[c][:0]
	}
	return n
}

// cachedBlocks returns the number of cached blocks. Used by tests.
func (s *SizeClass) cachedBlocks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for c := range s.cached {
		n += len(s.cached[c])
	}
	return n
}
