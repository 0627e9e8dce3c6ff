// Package hash provides the checksum used to verify spilled blob frames.
//
// Frames are protected with CRC32-Castagnoli (CRC32C), which Go computes
// with SSE4.2 or the ARM CRC extension when available.
//
//	sum := hash.CRC32C(data)
//	if !hash.Verify(data, sum) { ... }
package hash
