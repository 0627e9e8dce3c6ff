// Package testutil provides deterministic helpers for bulk store tests
// and benchmarks.
//
//	rng := testutil.NewRNG(seed)
//	data := rng.Bytes(4096)
//	sizes := rng.Sizes(100, 1<<16)
package testutil
