// Package alloc implements the bulk allocators that carve blobs out of one
// pre-reserved shared-memory region.
//
// Allocators hand out byte offsets into the region rather than pointers, so
// they can be exercised against any []byte. Footprint accounting and the
// hard limit are delegated to a resource.Controller.
//
// Two backends are available:
//
//   - "sizeclass" (default): power-of-two classes from 64 B to 256 KiB with
//     per-class free lists, larger requests fall through to first-fit.
//   - "firstfit": address-ordered free extents with splitting and coalescing.
package alloc

import (
	"errors"
	"fmt"

	"github.com/hupe1980/bulkstore/internal/resource"
)

// BlockSize is the minimum alignment and size granularity.
const BlockSize = 64

var (
	// ErrLimitExceeded is returned when an allocation would exceed the footprint limit.
	ErrLimitExceeded = errors.New("alloc: footprint limit exceeded")
	// ErrNoSpace is returned when the region has no free extent large enough.
	ErrNoSpace = errors.New("alloc: region exhausted")
	// ErrInvalidFree is returned when freeing an offset that is not allocated.
	ErrInvalidFree = errors.New("alloc: offset not allocated")
	// ErrInvalidSize is returned for non-positive sizes or bad alignments.
	ErrInvalidSize = errors.New("alloc: invalid size or alignment")
	// ErrUnknownBackend is returned by New for unrecognized names.
	ErrUnknownBackend = errors.New("alloc: unknown backend")
)

// Allocator hands out aligned extents of a region.
// Implementations are safe for concurrent use.
type Allocator interface {
	// Allocate reserves at least size bytes aligned to align and returns
	// the offset of the extent within the region.
	Allocate(size, align int) (int, error)
	// Free returns the extent at off.
	Free(off int) error
	// Reallocate resizes the extent at off, moving and copying it when it
	// cannot be resized in place. It returns the (possibly new) offset.
	Reallocate(off, size int) (int, error)
	// UsableSize returns the size of the extent at off.
	UsableSize(off int) (int, bool)
	// Allocated returns the bytes currently allocated.
	Allocated() int64
	// Limit returns the footprint limit in bytes.
	Limit() int64
	// Name returns the backend name.
	Name() string
}

// Backend names accepted by New.
const (
	BackendSizeClass = "sizeclass"
	BackendFirstFit  = "firstfit"
)

// New creates the allocator named name over region. An empty name selects
// the size-class backend. A nil rc gets a controller limited to the region.
func New(name string, region []byte, rc *resource.Controller) (Allocator, error) {
	if rc == nil {
		rc = resource.NewController(resource.Config{MemoryLimitBytes: int64(len(region))})
	}
	switch name {
	case "", BackendSizeClass:
		return NewSizeClass(region, rc), nil
	case BackendFirstFit:
		return NewFirstFit(region, rc), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
}

func roundUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}

func validAlign(align int) (int, bool) {
	if align <= 0 {
		return BlockSize, true
	}
	if align&(align-1) != 0 {
		return 0, false
	}
	return max(align, BlockSize), true
}

func limitOf(rc *resource.Controller, region []byte) int64 {
	if l := rc.MemoryLimit(); l > 0 {
		return min(l, int64(len(region)))
	}
	return int64(len(region))
}
