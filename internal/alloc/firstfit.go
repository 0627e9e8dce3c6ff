package alloc

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/bulkstore/internal/resource"
)

type extent struct {
	off int
	n   int
}

func (e extent) end() int { return e.off + e.n }

// FirstFit is an address-ordered first-fit allocator.
type FirstFit struct {
	region []byte
	rc     *resource.Controller

	mu   sync.Mutex
	free []extent    // sorted by off, never adjacent
	used map[int]int // off -> size

	allocated atomic.Int64
}

// NewFirstFit creates a first-fit allocator over region.
func NewFirstFit(region []byte, rc *resource.Controller) *FirstFit {
	f := &FirstFit{
		region: region,
		rc:     rc,
		used:   make(map[int]int),
	}
	if n := len(region) &^ (BlockSize - 1); n > 0 {
		f.free = []extent{{off: 0, n: n}}
	}
	return f
}

// Name implements Allocator.
func (f *FirstFit) Name() string { return BackendFirstFit }

// Limit implements Allocator.
func (f *FirstFit) Limit() int64 { return limitOf(f.rc, f.region) }

// Allocated implements Allocator.
func (f *FirstFit) Allocated() int64 { return f.allocated.Load() }

// Allocate implements Allocator.
func (f *FirstFit) Allocate(size, align int) (int, error) {
	a, ok := validAlign(align)
	if size <= 0 || !ok {
		return 0, ErrInvalidSize
	}
	n := roundUp(size, BlockSize)
	if err := f.rc.AcquireMemory(int64(n)); err != nil {
		return 0, ErrLimitExceeded
	}
	off, ok := f.take(n, a)
	if !ok {
		f.rc.ReleaseMemory(int64(n))
		return 0, ErrNoSpace
	}
	f.allocated.Add(int64(n))
	return off, nil
}

// Free implements Allocator.
func (f *FirstFit) Free(off int) error {
	n, ok := f.give(off)
	if !ok {
		return ErrInvalidFree
	}
	f.allocated.Add(-int64(n))
	f.rc.ReleaseMemory(int64(n))
	return nil
}

// UsableSize implements Allocator.
func (f *FirstFit) UsableSize(off int) (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.used[off]
	return n, ok
}

// Reallocate implements Allocator. Growth is done in place when the
// following extent is free.
func (f *FirstFit) Reallocate(off, size int) (int, error) {
	if size <= 0 {
		return 0, ErrInvalidSize
	}
	want := roundUp(size, BlockSize)

	f.mu.Lock()
	have, ok := f.used[off]
	if !ok {
		f.mu.Unlock()
		return 0, ErrInvalidFree
	}
	switch {
	case want == have:
		f.mu.Unlock()
		return off, nil
	case want < have:
		f.used[off] = want
		f.insertLocked(extent{off: off + want, n: have - want})
		f.mu.Unlock()
		f.allocated.Add(-int64(have - want))
		f.rc.ReleaseMemory(int64(have - want))
		return off, nil
	}
	grow := want - have
	if i, ok := f.findLocked(off + have); ok && f.free[i].n >= grow {
		if err := f.rc.AcquireMemory(int64(grow)); err != nil {
			f.mu.Unlock()
			return 0, ErrLimitExceeded
		}
		f.used[off] = want
		if f.free[i].n == grow {
			f.free = slices.Delete(f.free, i, i+1)
		} else {
			f.free[i] = extent{off: f.free[i].off + grow, n: f.free[i].n - grow}
		}
		f.mu.Unlock()
		f.allocated.Add(int64(grow))
		return off, nil
	}
	f.mu.Unlock()

	// Move.
	noff, err := f.Allocate(want, BlockSize)
	if err != nil {
		return 0, err
	}
	copy(f.region[noff:noff+have], f.region[off:off+have])
	if err := f.Free(off); err != nil {
		return 0, err
	}
	return noff, nil
}

// take reserves n bytes without footprint accounting.
func (f *FirstFit) take(n, align int) (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, e := range f.free {
		start := roundUp(e.off, align)
		if start+n > e.end() {
			continue
		}
		var repl []extent
		if start > e.off {
			repl = append(repl, extent{off: e.off, n: start - e.off})
		}
		if start+n < e.end() {
			repl = append(repl, extent{off: start + n, n: e.end() - start - n})
		}
		f.free = slices.Replace(f.free, i, i+1, repl...)
		f.used[start] = n
		return start, true
	}
	return 0, false
}

// give returns an extent reserved by take.
func (f *FirstFit) give(off int) (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.used[off]
	if !ok {
		return 0, false
	}
	delete(f.used, off)
	f.insertLocked(extent{off: off, n: n})
	return n, true
}

func (f *FirstFit) findLocked(off int) (int, bool) {
	return slices.BinarySearchFunc(f.free, off, func(e extent, t int) int {
		return e.off - t
	})
}

// insertLocked adds e to the free list and merges it with its neighbours.
func (f *FirstFit) insertLocked(e extent) {
	i, _ := f.findLocked(e.off)
	// merge with the previous extent
	if i > 0 && f.free[i-1].end() == e.off {
		i--
		e = extent{off: f.free[i].off, n: f.free[i].n + e.n}
		f.free = slices.Delete(f.free, i, i+1)
	}
	// merge with the next extent
	if i < len(f.free) && e.end() == f.free[i].off {
		e.n += f.free[i].n
		f.free = slices.Delete(f.free, i, i+1)
	}
	f.free = slices.Insert(f.free, i, e)
}

// freeExtents returns the number of free extents. Used by tests.
func (f *FirstFit) freeExtents() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.free)
}
