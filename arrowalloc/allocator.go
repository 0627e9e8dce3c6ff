// Package arrowalloc lets Apache Arrow place buffers directly in blobs.
//
// Allocator implements memory.Allocator over a bulkstore.Store: every Arrow
// buffer is an unsealed blob, so a finished column can be sealed and shared
// with other clients without copying. Buffer wraps a sealed payload as a
// zero-copy memory.Buffer for readers.
package arrowalloc

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/hupe1980/bulkstore"
)

// Allocator is a memory.Allocator whose buffers are blobs of a Store.
// It panics when the store cannot serve an allocation, like the Arrow
// allocators it replaces.
type Allocator struct {
	store *bulkstore.Store

	mu   sync.Mutex
	live map[uintptr]bulkstore.ObjectID

	allocated atomic.Int64
}

// New creates an Allocator over store.
func New(store *bulkstore.Store) *Allocator {
	return &Allocator{
		store: store,
		live:  make(map[uintptr]bulkstore.ObjectID),
	}
}

func addr(b []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}

// Allocate implements memory.Allocator. The returned bytes are zeroed.
func (a *Allocator) Allocate(size int) []byte {
	if size == 0 {
		return []byte{}
	}
	id, p, err := a.store.Create(int64(size))
	if err != nil {
		panic(fmt.Sprintf("arrowalloc: allocate %d bytes: %v", size, err))
	}
	b := p.Data()
	clear(b)

	a.mu.Lock()
	a.live[addr(b)] = id
	a.mu.Unlock()
	a.allocated.Add(int64(size))
	return b
}

// Reallocate implements memory.Allocator. Blobs grow in place when the
// store's allocator can extend them.
func (a *Allocator) Reallocate(size int, b []byte) []byte {
	if size == len(b) {
		return b
	}
	if size == 0 {
		a.Free(b)
		return []byte{}
	}
	if cap(b) == 0 {
		return a.Allocate(size)
	}

	a.mu.Lock()
	id, ok := a.live[addr(b)]
	a.mu.Unlock()
	if !ok {
		nb := a.Allocate(size)
		copy(nb, b)
		return nb
	}

	nid, p, err := a.store.Reallocate(id, int64(size))
	if err != nil {
		panic(fmt.Sprintf("arrowalloc: reallocate %d to %d bytes: %v", len(b), size, err))
	}
	nb := p.Data()
	if size > len(b) {
		clear(nb[len(b):])
	}

	a.mu.Lock()
	delete(a.live, addr(b))
	a.live[addr(nb)] = nid
	a.mu.Unlock()
	a.allocated.Add(int64(size - len(b)))
	return nb
}

// Free implements memory.Allocator. Buffers that were sealed are left alone.
func (a *Allocator) Free(b []byte) {
	if cap(b) == 0 {
		return
	}
	a.mu.Lock()
	id, ok := a.live[addr(b)]
	if ok {
		delete(a.live, addr(b))
	}
	a.mu.Unlock()
	if !ok {
		return
	}
	p, err := a.store.GetUnsafe(id)
	if err == nil {
		a.allocated.Add(-p.DataSize())
	}
	_ = a.store.Delete(id)
}

// Seal seals the blob behind b and detaches it from the allocator, so Arrow
// releasing the buffer no longer deletes it.
func (a *Allocator) Seal(b []byte) (bulkstore.ObjectID, error) {
	a.mu.Lock()
	id, ok := a.live[addr(b)]
	if ok {
		delete(a.live, addr(b))
	}
	a.mu.Unlock()
	if !ok {
		return bulkstore.EmptyBlobID, fmt.Errorf("%w: buffer was not allocated here", bulkstore.ErrObjectNotExists)
	}
	if err := a.store.Seal(id); err != nil {
		return bulkstore.EmptyBlobID, err
	}
	if p, err := a.store.Get(id); err == nil {
		a.allocated.Add(-p.DataSize())
	}
	return id, nil
}

// Allocated returns the bytes of live, unsealed buffers.
func (a *Allocator) Allocated() int64 {
	return a.allocated.Load()
}

// Buffer returns a zero-copy view of a sealed blob.
func Buffer(p *bulkstore.Payload) *memory.Buffer {
	return memory.NewBufferBytes(p.Data())
}

// Get returns a zero-copy view of the sealed blob id.
func Get(store *bulkstore.Store, id bulkstore.ObjectID) (*memory.Buffer, error) {
	p, err := store.Get(id)
	if err != nil {
		return nil, err
	}
	return Buffer(p), nil
}

var _ memory.Allocator = (*Allocator)(nil)
