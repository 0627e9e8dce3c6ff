package bulkstore

import (
	"fmt"
	"unsafe"

	"github.com/hupe1980/bulkstore/internal/alloc"
	"github.com/hupe1980/bulkstore/internal/resource"
)

// DeviceAllocator manages device (GPU) memory. Implementations are safe for
// concurrent use. Pointers are device addresses and are never dereferenced
// by the store.
type DeviceAllocator interface {
	Allocate(size, align int) (uintptr, error)
	Free(ptr uintptr) error
	Allocated() int64
	Limit() int64
}

// HostDeviceAllocator emulates a device heap in host memory. It lets the GPU
// code paths run on machines without a device runtime.
type HostDeviceAllocator struct {
	region []byte
	base   uintptr
	a      alloc.Allocator
}

// NewHostDeviceAllocator reserves limit bytes of host memory.
func NewHostDeviceAllocator(limit int64) (*HostDeviceAllocator, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: device limit must be positive, got %d", ErrUserInput, limit)
	}
	region := make([]byte, limit)
	rc := resource.NewController(resource.Config{MemoryLimitBytes: limit})
	return &HostDeviceAllocator{
		region: region,
		base:   uintptr(unsafe.Pointer(unsafe.SliceData(region))),
		a:      alloc.NewFirstFit(region, rc),
	}, nil
}

// Allocate implements DeviceAllocator.
func (h *HostDeviceAllocator) Allocate(size, align int) (uintptr, error) {
	off, err := h.a.Allocate(size, align)
	if err != nil {
		return 0, err
	}
	return h.base + uintptr(off), nil
}

// Free implements DeviceAllocator.
func (h *HostDeviceAllocator) Free(ptr uintptr) error {
	if ptr < h.base || ptr >= h.base+uintptr(len(h.region)) {
		return alloc.ErrInvalidFree
	}
	return h.a.Free(int(ptr - h.base))
}

// Allocated implements DeviceAllocator.
func (h *HostDeviceAllocator) Allocated() int64 { return h.a.Allocated() }

// Limit implements DeviceAllocator.
func (h *HostDeviceAllocator) Limit() int64 { return h.a.Limit() }

// createGPU allocates an unsealed, owned device blob.
func (r *Registry[ID, P]) createGPU(size int64) (ID, P, error) {
	var zero P
	if r.gpu == nil {
		return r.scheme.empty, zero, fmt.Errorf("%w: device memory support is not configured", ErrNotImplemented)
	}
	if r.closed.Load() {
		return r.scheme.empty, zero, ErrClosed
	}
	if size < 0 {
		return r.scheme.empty, zero, fmt.Errorf("%w: negative size %d", ErrUserInput, size)
	}
	if size == 0 {
		return r.scheme.empty, r.empty, nil
	}

	ptr, err := r.gpu.Allocate(int(size), alloc.BlockSize)
	if err != nil {
		return r.scheme.empty, zero, &NotEnoughMemoryError{
			Requested: size,
			Footprint: r.FootprintGPU(),
			Limit:     r.FootprintLimitGPU(),
			cause:     err,
		}
	}

	id := r.scheme.fromAddress(ptr)
	p := r.newP(id, PayloadInfo{
		ID:       ObjectIDFromAddress(ptr),
		DataSize: size,
		Pointer:  ptr,
		Kind:     KindMalloc,
		StoreFD:  -1,
		ArenaFD:  -1,
		GPU:      true,
	})
	p.base().device = r.gpu
	if !r.objects.Insert(id, p) {
		_ = r.gpu.Free(ptr)
		return r.scheme.empty, zero, objectError("create gpu", r.idString(id), fmt.Errorf("%w: object already exists", ErrUserInput))
	}
	return id, p, nil
}
