package bulkstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/bulkstore/internal/alloc"
)

// Reallocate resizes an unsealed, owned heap blob. The blob grows in place
// when the allocator can extend it; otherwise its bytes move and it is
// registered under the ID of the new address where IDs are address-derived.
// The returned ID and payload replace the old ones.
func (r *Registry[ID, P]) Reallocate(id ID, size int64) (ID, P, error) {
	var zero P
	if r.closed.Load() {
		return r.scheme.empty, zero, ErrClosed
	}
	if size <= 0 || r.scheme.reserved(id) {
		return r.scheme.empty, zero, fmt.Errorf("%w: cannot reallocate %s to %d bytes", ErrUserInput, r.idString(id), size)
	}

	p, ok := r.objects.Load(id)
	if !ok {
		return r.scheme.empty, zero, objectError("reallocate", r.idString(id), ErrObjectNotExists)
	}
	b := p.base()
	switch {
	case b.sealed.Load():
		return r.scheme.empty, zero, objectError("reallocate", r.idString(id), fmt.Errorf("%w: sealed blobs are immutable", ErrInvalidState))
	case !b.owner.Load() || b.info.GPU || b.info.Kind != KindMalloc || b.heap != r.heap:
		return r.scheme.empty, zero, objectError("reallocate", r.idString(id), fmt.Errorf("%w: only owned heap blobs can be reallocated", ErrUserInput))
	}

	start := time.Now()
	nid, np, err := r.reallocate(id, p, size)
	r.metrics.RecordCreate(size, time.Since(start), err)
	r.log.LogCreate(context.Background(), r.idString(nid), size, err)
	return nid, np, err
}

func (r *Registry[ID, P]) reallocate(id ID, p P, size int64) (ID, P, error) {
	var zero P
	b := p.base()
	off := int(b.info.DataOffset)
	noff, err := r.heap.alloc.Reallocate(off, int(size))
	if err != nil {
		if !errors.Is(err, alloc.ErrLimitExceeded) && !errors.Is(err, alloc.ErrNoSpace) {
			return r.scheme.empty, zero, translateError(err)
		}
		return r.scheme.empty, zero, &NotEnoughMemoryError{
			Requested: size,
			Footprint: r.Footprint(),
			Limit:     r.FootprintLimit(),
			cause:     err,
		}
	}

	region := r.heap.region
	end := noff + int(size)
	data := region.Bytes()[noff:end:end]
	if noff == off {
		// Readers of the old payload keep a consistent view; the new one takes
		// over its mapping reference.
		var (
			np      P
			swapped bool
		)
		r.objects.Update(id, func(cur P) P {
			if cur.base() != b {
				return cur
			}
			swapped = true
			np = cur.snapshot()
			nb := np.base()
			nb.info.DataSize = size
			nb.data = data
			b.detached.Store(true)
			return np
		})
		if !swapped {
			return r.scheme.empty, zero, objectError("reallocate", r.idString(id), fmt.Errorf("%w: entry replaced during reallocate", ErrInvalidState))
		}
		r.metrics.RecordFootprint(r.Footprint(), r.FootprintLimit())
		return id, np, nil
	}

	ptr := region.Addr() + uintptr(noff)
	info := b.info
	info.ID = ObjectIDFromAddress(ptr)
	info.Pointer = ptr
	info.DataSize = size
	info.DataOffset = int64(noff)

	nid := id
	if r.scheme.addressed {
		nid = r.scheme.fromAddress(ptr)
	}
	np := p.snapshot()
	nb := np.base()
	nb.info = info
	nb.attach(data, region.Retain(), r.heap)

	r.objects.DeleteIf(id, func(cur P) bool { return cur.base() == b })
	_ = b.detach()
	if !r.objects.Insert(nid, np) {
		_ = r.heap.alloc.Free(noff)
		_ = np.base().detach()
		return r.scheme.empty, zero, objectError("reallocate", r.idString(nid), fmt.Errorf("%w: object already exists", ErrInvalidState))
	}
	r.metrics.RecordFootprint(r.Footprint(), r.FootprintLimit())
	return nid, np, nil
}
