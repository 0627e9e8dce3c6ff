package bulkstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/bulkstore/internal/alloc"
	"github.com/hupe1980/bulkstore/internal/mmap"
	"github.com/hupe1980/bulkstore/internal/resource"
	"github.com/hupe1980/bulkstore/internal/shardmap"
	"github.com/hupe1980/bulkstore/internal/spans"
)

// Registry is the concurrent map from blob identifier to payload shared by
// Store and PlasmaStore. It owns the CPU region and its allocator, the active
// arenas and the span set used for page reclamation.
//
// Lookups and per-blob updates lock one shard of the map. Arena operations
// and arena deletions are serialized by a registry-wide arena lock.
type Registry[ID comparable, P record[P]] struct {
	scheme   idScheme[ID]
	newP     func(ID, PayloadInfo) P
	opts     options
	log      *Logger
	metrics  MetricsCollector
	mapper   Mapper
	pageSize uint64

	objects *shardmap.Map[ID, P]
	empty   P

	heap *heap
	gpu  DeviceAllocator

	arenaMu sync.Mutex
	arenas  map[int]*Arena
	records map[int]*mmap.Mapping
	spans   *SpanSet

	closed atomic.Bool
}

func newRegistry[ID comparable, P record[P]](scheme idScheme[ID], newP func(ID, PayloadInfo) P, opts ...Option) (*Registry[ID, P], error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.spans == nil {
		o.spans = spans.New()
	}

	r := &Registry[ID, P]{
		scheme:   scheme,
		newP:     newP,
		opts:     o,
		log:      o.logger,
		metrics:  o.metricsCollector,
		mapper:   o.mapper,
		pageSize: uint64(o.mapper.PageSize()),
		objects:  shardmap.New[ID, P](),
		gpu:      o.gpu,
		arenas:   make(map[int]*Arena),
		records:  make(map[int]*mmap.Mapping),
		spans:    o.spans,
	}

	if err := r.preAllocate(o.memoryLimit, o.allocator); err != nil {
		return nil, err
	}

	r.empty = newP(scheme.empty, PayloadInfo{ID: EmptyBlobID, StoreFD: -1, ArenaFD: -1})
	r.empty.base().sealed.Store(true)
	return r, nil
}

// preAllocate reserves the CPU region, initializes the allocator on it and
// publishes the region under the sentinel ID.
func (r *Registry[ID, P]) preAllocate(limit int64, backend string) error {
	region, err := r.mapper.MapShared(int(limit))
	if err != nil {
		return &NotEnoughMemoryError{Requested: limit, Limit: limit, cause: err}
	}

	rc := resource.NewController(resource.Config{
		MemoryLimitBytes:   limit,
		MaxSpillWorkers:    int64(r.opts.spillConcurrency),
		IOLimitBytesPerSec: r.opts.spillIOLimit,
	})
	a, err := alloc.New(backend, region.Bytes(), rc)
	if err != nil {
		_ = region.Close()
		return translateError(err)
	}
	r.heap = &heap{region: region, alloc: a, rc: rc}

	s := r.newP(r.scheme.sentinel, PayloadInfo{
		ID:       ArenaSentinelID,
		DataSize: limit,
		Pointer:  region.Addr(),
		Kind:     KindMalloc,
		StoreFD:  region.FD(),
		MapSize:  int64(region.Size()),
		ArenaFD:  -1,
	})
	sb := s.base()
	sb.sealed.Store(true)
	sb.owner.Store(false)
	sb.data = region.Bytes()
	r.objects.Store(r.scheme.sentinel, s)

	r.metrics.RecordFootprint(r.Footprint(), r.FootprintLimit())
	return nil
}

func (r *Registry[ID, P]) idString(id ID) string {
	return r.scheme.format(id)
}

// allocate carves size bytes from the CPU region.
func (r *Registry[ID, P]) allocate(size int64) (PayloadInfo, []byte, error) {
	off, err := r.heap.alloc.Allocate(int(size), alloc.BlockSize)
	if err != nil {
		if errors.Is(err, alloc.ErrInvalidSize) {
			return PayloadInfo{}, nil, translateError(err)
		}
		return PayloadInfo{}, nil, &NotEnoughMemoryError{
			Requested: size,
			Footprint: r.Footprint(),
			Limit:     r.FootprintLimit(),
			cause:     err,
		}
	}

	region := r.heap.region
	ptr := region.Addr() + uintptr(off)
	end := off + int(size)
	info := PayloadInfo{
		ID:         ObjectIDFromAddress(ptr),
		DataSize:   size,
		Pointer:    ptr,
		Kind:       KindMalloc,
		StoreFD:    region.FD(),
		MapSize:    int64(region.Size()),
		DataOffset: int64(off),
		ArenaFD:    -1,
	}
	return info, region.Bytes()[off:end:end], nil
}

// insertHeap registers a freshly allocated heap blob, freeing it again if
// id is already taken.
func (r *Registry[ID, P]) insertHeap(id ID, p P, data []byte) error {
	p.base().attach(data, r.heap.region.Retain(), r.heap)
	if !r.objects.Insert(id, p) {
		_ = r.heap.alloc.Free(int(p.base().info.DataOffset))
		_ = p.base().detach()
		return objectError("create", r.idString(id), fmt.Errorf("%w: object already exists", ErrUserInput))
	}
	r.metrics.RecordFootprint(r.Footprint(), r.FootprintLimit())
	return nil
}

// Create allocates an unsealed, owned blob of size bytes. Size 0 returns the
// empty ID and a shared empty payload without allocating.
func (r *Registry[ID, P]) Create(size int64) (ID, P, error) {
	var zero P
	if r.closed.Load() {
		return r.scheme.empty, zero, ErrClosed
	}
	if size < 0 {
		return r.scheme.empty, zero, fmt.Errorf("%w: negative size %d", ErrUserInput, size)
	}
	if size == 0 {
		return r.scheme.empty, r.empty, nil
	}

	start := time.Now()
	id, p, err := r.create(size)
	r.metrics.RecordCreate(size, time.Since(start), err)
	r.log.LogCreate(context.Background(), r.idString(id), size, err)
	return id, p, err
}

func (r *Registry[ID, P]) create(size int64) (ID, P, error) {
	var zero P
	info, data, err := r.allocate(size)
	if err != nil {
		return r.scheme.empty, zero, err
	}
	id := r.scheme.fromAddress(info.Pointer)
	p := r.newP(id, info)
	if err := r.insertHeap(id, p, data); err != nil {
		return r.scheme.empty, zero, err
	}
	return id, p, nil
}

// Seal marks the blob immutable. Sealing twice is not an error.
func (r *Registry[ID, P]) Seal(id ID) error {
	if r.closed.Load() {
		return ErrClosed
	}
	if id == r.scheme.empty {
		return nil
	}
	if !r.objects.View(id, func(p P) { p.base().sealed.Store(true) }) {
		return objectError("seal", r.idString(id), ErrObjectNotExists)
	}
	return nil
}

// Get returns the sealed blob for id.
func (r *Registry[ID, P]) Get(id ID) (P, error) {
	return r.get(id, true)
}

// GetUnsafe returns the blob for id whether or not it is sealed.
// Only trusted callers that know the bytes are complete should use it.
func (r *Registry[ID, P]) GetUnsafe(id ID) (P, error) {
	return r.get(id, false)
}

func (r *Registry[ID, P]) get(id ID, sealed bool) (P, error) {
	var zero P
	if r.closed.Load() {
		return zero, ErrClosed
	}
	if id == r.scheme.empty {
		return r.empty, nil
	}
	p, ok := r.objects.Load(id)
	if !ok {
		return zero, objectError("get", r.idString(id), ErrObjectNotExists)
	}
	if sealed && !p.base().sealed.Load() {
		return zero, objectError("get", r.idString(id), ErrObjectNotSealed)
	}
	return p, nil
}

// GetBatch returns the sealed blobs for ids, or an error if any is unknown
// or unsealed.
func (r *Registry[ID, P]) GetBatch(ids []ID) ([]P, error) {
	return r.getBatch(ids, true)
}

// GetBatchUnsafe is GetBatch without the seal check.
func (r *Registry[ID, P]) GetBatchUnsafe(ids []ID) ([]P, error) {
	return r.getBatch(ids, false)
}

func (r *Registry[ID, P]) getBatch(ids []ID, sealed bool) ([]P, error) {
	out := make([]P, 0, len(ids))
	for _, id := range ids {
		p, err := r.get(id, sealed)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Exists reports whether id is registered, sealed or not.
func (r *Registry[ID, P]) Exists(id ID) bool {
	return r.objects.Contains(id)
}

// Len returns the number of registered blobs, excluding the sentinel.
func (r *Registry[ID, P]) Len() int {
	n := r.objects.Len()
	if r.objects.Contains(r.scheme.sentinel) {
		n--
	}
	return n
}

// Delete removes id from the registry. Memory is released only when this
// registry owns the blob and no spill of it is in flight. Device blobs are
// left in place for DeleteGPU. Deleting a reserved ID is a no-op.
func (r *Registry[ID, P]) Delete(id ID) error {
	if r.closed.Load() {
		return ErrClosed
	}
	if r.scheme.reserved(id) {
		return nil
	}

	start := time.Now()
	released, err := r.delete(id)
	r.metrics.RecordDelete(released, time.Since(start), err)
	r.log.LogDelete(context.Background(), r.idString(id), released > 0, err)
	return err
}

func (r *Registry[ID, P]) delete(id ID) (int64, error) {
	p, ok := r.objects.Load(id)
	if !ok {
		return 0, objectError("delete", r.idString(id), ErrObjectNotExists)
	}
	b := p.base()
	if b.info.GPU {
		return 0, nil
	}
	if b.info.Kind == KindArena {
		return r.deleteArenaBlob(id, b)
	}

	// The spill flags are read under the shard lock so that a spill
	// finishing concurrently either sees the entry or takes the memory.
	var release, inFlight bool
	if _, ok := r.objects.DeleteIf(id, func(cur P) bool {
		if cur.base() != b {
			return false
		}
		inFlight = b.spilling.Load()
		release = b.owner.Load() && !inFlight
		return true
	}); !ok {
		// Replaced or removed concurrently.
		return r.delete(id)
	}

	if inFlight {
		// The spill frees the memory and drops the mapping.
		return 0, nil
	}
	if !release {
		return 0, b.detach()
	}
	return r.free(b)
}

// free returns a removed, owned blob's memory.
func (r *Registry[ID, P]) free(b *Payload) (int64, error) {
	var err error
	if b.info.Kind == KindMalloc && b.heap != nil {
		err = translateError(b.heap.alloc.Free(int(b.info.DataOffset)))
	}
	err = errors.Join(err, b.detach())
	if b.heap == r.heap {
		r.metrics.RecordFootprint(r.Footprint(), r.FootprintLimit())
	}
	return b.info.DataSize, err
}

// DeleteGPU removes an owned device blob and frees its memory. Without a
// device allocator it returns ErrNotImplemented.
func (r *Registry[ID, P]) DeleteGPU(id ID) error {
	if r.gpu == nil {
		return fmt.Errorf("%w: device memory support is not configured", ErrNotImplemented)
	}
	if r.closed.Load() {
		return ErrClosed
	}
	if r.scheme.reserved(id) {
		return nil
	}
	return r.deleteGPU(id)
}

func (r *Registry[ID, P]) deleteGPU(id ID) error {
	var freeErr error
	_, removed := r.objects.DeleteIf(id, func(cur P) bool {
		b := cur.base()
		if !b.owner.Load() || !b.info.GPU {
			return false
		}
		if b.info.ArenaFD == -1 && b.device != nil {
			freeErr = b.device.Free(b.info.Pointer)
		}
		return true
	})
	if !removed && !r.objects.Contains(id) {
		return objectError("delete", r.idString(id), ErrObjectNotExists)
	}
	return freeErr
}

// MoveOwnership registers snapshots handed over by another registry and
// takes ownership of them. IDs already present are skipped. It must be
// called before the source registry drops its entries.
func (r *Registry[ID, P]) MoveOwnership(objects map[ID]P) error {
	if r.closed.Load() {
		return ErrClosed
	}
	for id, src := range objects {
		if r.scheme.reserved(id) || r.objects.Contains(id) {
			continue
		}
		p := src.snapshot()
		b := p.base()
		b.sealed.Store(true)
		b.owner.Store(true)
		b.spilling.Store(false)
		if b.mapping != nil {
			b.mapping.Retain()
		}
		if b.info.Kind == KindArena {
			r.arenaMu.Lock()
			r.spans.Add(uint64(b.info.Pointer), uint64(b.info.DataSize))
			r.arenaMu.Unlock()
		}
		if !r.objects.Insert(id, p) {
			_ = b.detach()
		}
	}
	return nil
}

// RemoveOwnership clears the owner flag of each known, non-reserved ID and
// returns snapshots for MoveOwnership. Later deletes here do not free memory.
func (r *Registry[ID, P]) RemoveOwnership(ids []ID) map[ID]P {
	out := make(map[ID]P, len(ids))
	for _, id := range ids {
		if r.scheme.reserved(id) {
			continue
		}
		r.objects.View(id, func(p P) {
			p.base().owner.Store(false)
			out[id] = p.snapshot()
		})
	}
	return out
}

// Footprint returns the bytes currently allocated in the CPU region.
func (r *Registry[ID, P]) Footprint() int64 {
	return r.heap.alloc.Allocated()
}

// FootprintLimit returns the CPU footprint limit.
func (r *Registry[ID, P]) FootprintLimit() int64 {
	return r.heap.alloc.Limit()
}

// FootprintGPU returns the bytes allocated in device memory.
func (r *Registry[ID, P]) FootprintGPU() int64 {
	if r.gpu == nil {
		return 0
	}
	return r.gpu.Allocated()
}

// FootprintLimitGPU returns the device footprint limit.
func (r *Registry[ID, P]) FootprintLimitGPU() int64 {
	if r.gpu == nil {
		return 0
	}
	return r.gpu.Limit()
}

// PeakFootprint returns the highest CPU footprint observed.
func (r *Registry[ID, P]) PeakFootprint() int64 {
	return r.heap.rc.PeakMemoryUsage()
}

// Close deletes every entry, releasing owned memory, and unmaps the arenas
// and the CPU region once no payload references them. Operations after Close
// return ErrClosed.
func (r *Registry[ID, P]) Close() error {
	if r.closed.Swap(true) {
		return nil
	}

	var errs []error
	r.objects.Range(func(id ID, p P) bool {
		if r.scheme.reserved(id) {
			return true
		}
		var err error
		if p.base().info.GPU {
			err = r.deleteGPU(id)
			// Non-owned device blobs are only dropped.
			r.objects.Delete(id)
		} else {
			_, err = r.delete(id)
		}
		if err != nil && !errors.Is(err, ErrObjectNotExists) {
			errs = append(errs, err)
		}
		return true
	})
	r.objects.Delete(r.scheme.sentinel)

	r.arenaMu.Lock()
	for fd, a := range r.arenas {
		errs = append(errs, a.mapping.Close())
		delete(r.arenas, fd)
	}
	for fd, m := range r.records {
		errs = append(errs, m.Close())
		delete(r.records, fd)
	}
	r.arenaMu.Unlock()

	errs = append(errs, r.heap.region.Close())
	return errors.Join(errs...)
}
