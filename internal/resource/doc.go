// Package resource accounts for the store's shared resources.
//
// A Controller tracks three things:
//
//   - Footprint: bytes handed out by an allocator, checked against a hard
//     limit (non-blocking, fail-fast).
//   - Spill workers: how many blobs may be written to the spill tier at once.
//   - Spill IO: a token bucket limiting spill bandwidth in bytes per second.
//
// # Footprint
//
//	rc := resource.NewController(resource.Config{
//	    MemoryLimitBytes: 1 << 30,
//	})
//
//	if err := rc.AcquireMemory(4096); err != nil {
//	    // ErrMemoryLimitExceeded - the caller may evict and retry
//	}
//	defer rc.ReleaseMemory(4096)
//
// # Nil Safety
//
// All methods handle a nil Controller gracefully - they become no-ops.
package resource
