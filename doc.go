// Package bulkstore provides an in-process shared-memory blob store.
//
// A blob is a byte buffer that is written once and then sealed. Sealed blobs
// are immutable and can be read concurrently by any number of clients without
// copying. Blob identifiers are derived from the blob's address, so a client
// that maps the store's region can locate the bytes without a lookup.
//
// # Quick Start
//
//	store, _ := bulkstore.New(bulkstore.WithMemoryLimit(1 << 30))
//	defer store.Close()
//
//	id, p, _ := store.Create(4096)
//	copy(p.Data(), payload)
//	_ = store.Seal(id)
//
//	p, _ = store.Get(id) // fails with ErrObjectNotSealed before Seal
//
// # Memory Classes
//
// All heap blobs are carved from one shared region of MemoryLimit bytes that
// is reserved when the store is created. The allocator backend used inside the
// region is selectable ("sizeclass" or "firstfit"). Device memory is managed
// through a DeviceAllocator supplied with WithGPUAllocator; without one the
// GPU operations return ErrNotImplemented.
//
// # Arenas
//
// Bulk producers reserve an arena with MakeArena, write many blobs into it at
// offsets of their choosing, and hand the layout back with FinalizeArena. The
// store registers one sealed blob per (offset, size) pair and returns every
// page of the arena not covered by a blob to the operating system. When an
// arena blob is deleted, only the pages strictly between its live neighbours
// are reclaimed.
//
// # Ownership and Reference Counting
//
// A registry frees a blob's memory only while it owns the blob. RemoveOwnership
// and MoveOwnership hand blobs between registries without copying bytes.
// Connections declare dependencies on blobs; a blob with dependents is never
// deleted or evicted. Released blobs move to a cold list and can be evicted,
// or spilled to a blobstore.Store and reloaded later.
//
// # Identifier Schemes
//
// Store uses ObjectID, derived from the blob address. PlasmaStore keys blobs by
// an externally supplied PlasmaID and records a protocol-level size next to the
// physical one. Both share the same Registry engine.
package bulkstore
