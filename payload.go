package bulkstore

import (
	"sync/atomic"

	"github.com/hupe1980/bulkstore/internal/alloc"
	"github.com/hupe1980/bulkstore/internal/mmap"
	"github.com/hupe1980/bulkstore/internal/resource"
)

// Kind describes what backs a blob's bytes.
type Kind uint8

const (
	// KindMalloc blobs live in the store's shared region.
	KindMalloc Kind = iota
	// KindDiskMMap blobs live in a file mapping.
	KindDiskMMap
	// KindArena blobs were carved from an arena by FinalizeArena.
	KindArena
)

func (k Kind) String() string {
	switch k {
	case KindMalloc:
		return "malloc"
	case KindDiskMMap:
		return "disk-mmap"
	case KindArena:
		return "arena"
	default:
		return "unknown"
	}
}

// PayloadInfo is the immutable description of a blob.
type PayloadInfo struct {
	ID ObjectID `json:"object_id"`
	// DataSize is the number of bytes in the blob.
	DataSize int64 `json:"data_size"`
	// Pointer is the address of the first byte.
	Pointer uintptr `json:"pointer"`
	Kind    Kind    `json:"kind"`
	// StoreFD is the descriptor of the mapping holding the blob, or -1.
	StoreFD int `json:"store_fd"`
	// MapSize is the size of that mapping.
	MapSize int64 `json:"map_size"`
	// DataOffset is the offset of the blob within that mapping.
	DataOffset int64 `json:"data_offset"`
	// ArenaFD is the descriptor of the source arena, or -1.
	ArenaFD int  `json:"arena_fd"`
	GPU     bool `json:"is_gpu"`
}

// heap is the allocator a KindMalloc blob was carved from. A blob moved to
// another registry is still freed by its home allocator.
type heap struct {
	region *mmap.Mapping
	alloc  alloc.Allocator
	rc     *resource.Controller
}

// Payload is the registry entry for one blob.
//
// The flag and refcount accessors are safe for concurrent use. Data must only
// be read after Seal unless the caller wrote the bytes itself.
type Payload struct {
	info PayloadInfo

	sealed   atomic.Bool
	owner    atomic.Bool
	spilling atomic.Bool
	detached atomic.Bool
	refCnt   atomic.Int64

	data    []byte
	mapping *mmap.Mapping // retained reference, released by detach
	heap    *heap
	device  DeviceAllocator
}

func newPayload(info PayloadInfo) *Payload {
	p := &Payload{}
	p.init(info)
	return p
}

// init prepares an unsealed, owned blob.
func (p *Payload) init(info PayloadInfo) {
	p.info = info
	p.owner.Store(true)
}

func (p *Payload) base() *Payload { return p }

func (p *Payload) snapshot() *Payload {
	c := &Payload{}
	p.copyTo(c)
	return c
}

// copyTo copies the description and flags. The mapping reference is shared,
// not retained.
func (p *Payload) copyTo(c *Payload) {
	c.info = p.info
	c.sealed.Store(p.sealed.Load())
	c.owner.Store(p.owner.Load())
	c.spilling.Store(p.spilling.Load())
	c.refCnt.Store(p.refCnt.Load())
	c.data = p.data
	c.mapping = p.mapping
	c.heap = p.heap
	c.device = p.device
}

func (p *Payload) attach(data []byte, m *mmap.Mapping, h *heap) {
	p.data = data
	p.mapping = m
	p.heap = h
}

// detach drops the mapping reference once.
func (p *Payload) detach() error {
	if p.mapping == nil || p.detached.Swap(true) {
		return nil
	}
	return p.mapping.Close()
}

// Info returns the blob description.
func (p *Payload) Info() PayloadInfo { return p.info }

// ID returns the address-derived blob ID.
func (p *Payload) ID() ObjectID { return p.info.ID }

// DataSize returns the blob size in bytes.
func (p *Payload) DataSize() int64 { return p.info.DataSize }

// Pointer returns the blob address.
func (p *Payload) Pointer() uintptr { return p.info.Pointer }

// Kind returns the backing kind.
func (p *Payload) Kind() Kind { return p.info.Kind }

// ArenaFD returns the source arena descriptor, or -1.
func (p *Payload) ArenaFD() int { return p.info.ArenaFD }

// IsGPU reports whether the blob lives in device memory.
func (p *Payload) IsGPU() bool { return p.info.GPU }

// IsSealed reports whether the blob has been sealed.
func (p *Payload) IsSealed() bool { return p.sealed.Load() }

// IsOwner reports whether this registry frees the blob's memory.
func (p *Payload) IsOwner() bool { return p.owner.Load() }

// IsSpilling reports whether a spill of the blob is in flight.
func (p *Payload) IsSpilling() bool { return p.spilling.Load() }

// RefCount returns the reference count.
func (p *Payload) RefCount() int64 { return p.refCnt.Load() }

// Data returns the blob bytes. Device blobs return nil.
func (p *Payload) Data() []byte { return p.data }

// PlasmaPayload is a Payload keyed by an external PlasmaID.
type PlasmaPayload struct {
	Payload
	PlasmaID PlasmaID
	// PlasmaSize is the size reported to plasma clients, which may differ from DataSize.
	PlasmaSize int64
}

func newPlasmaPayload(id PlasmaID, info PayloadInfo) *PlasmaPayload {
	p := &PlasmaPayload{PlasmaID: id, PlasmaSize: info.DataSize}
	p.init(info)
	return p
}

func (p *PlasmaPayload) base() *Payload { return &p.Payload }

func (p *PlasmaPayload) snapshot() *PlasmaPayload {
	c := &PlasmaPayload{PlasmaID: p.PlasmaID, PlasmaSize: p.PlasmaSize}
	p.Payload.copyTo(&c.Payload)
	return c
}

// record is implemented by the payload types a Registry can hold.
type record[P any] interface {
	base() *Payload
	snapshot() P
}
