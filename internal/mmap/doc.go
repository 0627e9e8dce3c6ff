// Package mmap abstracts the operating system calls behind shared-memory regions.
//
// # Overview
//
// The bulk store never touches mmap(2) or madvise(2) directly. It asks a
// Mapper for regions and tells the returned Mapping which page ranges are no
// longer needed. Two Mappers exist:
//
//   - OS: memfd_create(2) + MAP_SHARED on Linux, an unlinked temporary file on
//     other Unix systems, plus file-backed maps for disk spill.
//   - Fake: page-aligned heap memory that records every advice call. Ranges
//     advised with AccessDontNeed are zeroed so tests can see reclaimed bytes.
//
// # Usage
//
//	m, err := mmap.OS().MapShared(1 << 20)
//	if err != nil { ... }
//	defer m.Close()
//
//	buf := m.Bytes()
//	_ = m.AdviseRange(4096, 8192, mmap.AccessDontNeed)
//
// # Reference counting
//
// A Mapping starts with one reference. Retain adds one, Close drops one and
// unmaps the region when the last reference is gone. Callers must not touch
// Bytes() after their own Close.
//
// # Read-only files
//
// Open maps an existing file read-only. It is used by the local spill tier to
// read spilled frames without copying them through kernel buffers.
package mmap
