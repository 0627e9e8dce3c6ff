package bulkstore

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/hupe1980/bulkstore/internal/mmap"
	"github.com/hupe1980/bulkstore/internal/pages"
)

// Arena is a shared memory segment reserved by MakeArena. The caller writes
// blobs into Bytes at offsets of its choosing and then calls FinalizeArena.
type Arena struct {
	// FD is the descriptor other processes use to map the segment.
	FD int
	// Size is the segment size in bytes.
	Size int64
	// Base is the address of the first byte.
	Base uintptr

	mapping *mmap.Mapping
}

// Bytes returns the writable segment memory.
func (a *Arena) Bytes() []byte {
	return a.mapping.Bytes()
}

// MakeArena reserves an anonymous shared segment of size bytes and records it
// as active until FinalizeArena.
func (r *Registry[ID, P]) MakeArena(size int64) (*Arena, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	if size <= 0 {
		return nil, fmt.Errorf("%w: arena size must be positive, got %d", ErrUserInput, size)
	}

	m, err := r.mapper.MapShared(int(size))
	if err != nil {
		err = &NotEnoughMemoryError{Requested: size, Footprint: r.Footprint(), Limit: r.FootprintLimit(), cause: err}
		r.log.LogArena(context.Background(), "make", -1, size, 0, err)
		return nil, err
	}

	a := &Arena{FD: m.FD(), Size: size, Base: m.Addr(), mapping: m}
	r.arenaMu.Lock()
	r.arenas[a.FD] = a
	r.arenaMu.Unlock()

	r.log.LogArena(context.Background(), "make", a.FD, size, 0, nil)
	return a, nil
}

// FinalizeArena registers one owned, sealed blob per (offset, size) pair of
// the arena fd, returns every whole page not covered by a blob to the
// operating system and retires the arena. The returned IDs follow the order
// of offsets.
//
// The layout is validated before anything is registered: the lists must have
// equal length, every blob must lie inside the arena and blobs must not
// overlap.
func (r *Registry[ID, P]) FinalizeArena(fd int, offsets, sizes []uint64) ([]ID, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	if len(offsets) != len(sizes) {
		return nil, fmt.Errorf("%w: %d offsets but %d sizes", ErrUserInput, len(offsets), len(sizes))
	}

	r.arenaMu.Lock()
	defer r.arenaMu.Unlock()

	a, ok := r.arenas[fd]
	if !ok {
		return nil, objectError("finalize arena", fmt.Sprintf("fd %d", fd), ErrObjectNotExists)
	}
	if err := r.validateLayout(a, offsets, sizes); err != nil {
		r.log.LogArena(context.Background(), "finalize", fd, a.Size, 0, err)
		return nil, err
	}

	data := a.mapping.Bytes()
	ids := make([]ID, len(offsets))
	for i, off := range offsets {
		ptr := a.Base + uintptr(off)
		end := off + sizes[i]
		id := r.scheme.fromAddress(ptr)
		p := r.newP(id, PayloadInfo{
			ID:         ObjectIDFromAddress(ptr),
			DataSize:   int64(sizes[i]),
			Pointer:    ptr,
			Kind:       KindArena,
			StoreFD:    fd,
			MapSize:    a.Size,
			DataOffset: int64(off),
			ArenaFD:    fd,
		})
		b := p.base()
		b.sealed.Store(true)
		b.attach(data[off:end:end], a.mapping.Retain(), nil)
		r.objects.Store(id, p)
		r.spans.Add(uint64(ptr), sizes[i])
		ids[i] = id
	}

	for _, gap := range pages.Uncovered(uint64(a.Size), offsets, sizes) {
		r.reclaim(a.mapping, pages.Inward(gap, r.pageSize))
	}

	delete(r.arenas, fd)
	r.records[fd] = a.mapping

	r.log.LogArena(context.Background(), "finalize", fd, a.Size, len(ids), nil)
	return ids, nil
}

func (r *Registry[ID, P]) validateLayout(a *Arena, offsets, sizes []uint64) error {
	seen := make(map[uint64]struct{}, len(offsets))
	for i, off := range offsets {
		if off > uint64(a.Size) || sizes[i] > uint64(a.Size)-off {
			return fmt.Errorf("%w: blob %d [%d, +%d) exceeds arena of %d bytes",
				ErrUserInput, i, off, sizes[i], a.Size)
		}
		if _, dup := seen[off]; dup {
			return fmt.Errorf("%w: duplicate offset %d", ErrUserInput, off)
		}
		seen[off] = struct{}{}
		if r.objects.Contains(r.scheme.fromAddress(a.Base + uintptr(off))) {
			return fmt.Errorf("%w: blob at offset %d already registered", ErrInvalidState, off)
		}
	}

	// Page reclamation bounds a blob by its nearest span, which is only
	// sound when spans are disjoint.
	order := make([]int, len(offsets))
	for i := range order {
		order[i] = i
	}
	slices.SortFunc(order, func(x, y int) int { return cmp.Compare(offsets[x], offsets[y]) })
	var prevEnd uint64
	for k, i := range order {
		if k > 0 && offsets[i] < prevEnd {
			return fmt.Errorf("%w: blob at offset %d overlaps blob ending at %d", ErrUserInput, offsets[i], prevEnd)
		}
		prevEnd = max(prevEnd, offsets[i]+sizes[i])
	}
	return nil
}

// deleteArenaBlob removes an arena blob. An owned blob gives back the pages
// strictly between its nearest live neighbours and leaves the span set; a
// non-owned blob keeps its span since the bytes are live elsewhere. Only the
// registry that finalized the arena may reclaim past the blob's own extent.
func (r *Registry[ID, P]) deleteArenaBlob(id ID, b *Payload) (int64, error) {
	r.arenaMu.Lock()
	defer r.arenaMu.Unlock()

	addr := uint64(b.info.Pointer)
	owned := b.owner.Load()
	if owned {
		if _, ok := r.spans.Get(addr); !ok {
			return 0, objectError("delete", r.idString(id), fmt.Errorf("%w: arena blob has no span", ErrInvalidState))
		}
	}

	var release bool
	if _, ok := r.objects.DeleteIf(id, func(cur P) bool {
		if cur.base() != b {
			return false
		}
		release = b.owner.Load()
		return true
	}); !ok {
		if !r.objects.Contains(id) {
			return 0, objectError("delete", r.idString(id), ErrObjectNotExists)
		}
		return 0, objectError("delete", r.idString(id), fmt.Errorf("%w: entry replaced during delete", ErrInvalidState))
	}

	if !release {
		return 0, b.detach()
	}

	lo := uint64(b.mapping.Addr())
	hi := lo + uint64(b.mapping.Size())
	left, right := lo, hi
	if r.records[b.info.ArenaFD] != b.mapping {
		// Imported via MoveOwnership: siblings may be live in a registry
		// whose spans this one cannot see, so stay inside the blob.
		left, right = addr, addr+uint64(b.info.DataSize)
	}
	prev, hasPrev, next, hasNext := r.spans.Neighbours(addr)
	if hasPrev {
		left = max(left, prev.End())
	}
	if hasNext {
		right = min(right, next.Addr)
	}
	w := pages.ReclaimWindow(addr, uint64(b.info.DataSize), left, right, lo, hi, r.pageSize)
	r.spans.Remove(addr)
	r.reclaim(b.mapping, pages.Range{Start: w.Start - lo, End: w.End - lo})

	return b.info.DataSize, b.detach()
}

// reclaim drops the physical pages of rng (offsets into m). Failures are
// logged and otherwise ignored.
func (r *Registry[ID, P]) reclaim(m *mmap.Mapping, rng pages.Range) {
	if rng.Empty() {
		return
	}
	err := m.AdviseRange(int(rng.Start), int(rng.Len()), mmap.AccessDontNeed)
	r.log.LogReclaim(context.Background(), m.FD(), rng.Start, rng.Len(), err)
	if err == nil {
		r.metrics.RecordReclaim(int64(rng.Len()))
	}
}
