// Package pages holds the page arithmetic behind memory reclamation.
//
// All functions work on plain offsets so the interval logic can be tested
// without mapping memory. The caller turns the resulting ranges into advice
// calls on a mapping.
package pages

import (
	"cmp"
	"slices"
)

// Range is the half-open interval [Start, End).
type Range struct {
	Start uint64
	End   uint64
}

// Len returns End-Start, or 0 for an empty range.
func (r Range) Len() uint64 {
	if r.End <= r.Start {
		return 0
	}
	return r.End - r.Start
}

// Empty reports whether the range covers no bytes.
func (r Range) Empty() bool {
	return r.End <= r.Start
}

// AlignUp rounds v up to a multiple of pageSize. pageSize must be a power of two.
func AlignUp(v, pageSize uint64) uint64 {
	return (v + pageSize - 1) &^ (pageSize - 1)
}

// AlignDown rounds v down to a multiple of pageSize. pageSize must be a power of two.
func AlignDown(v, pageSize uint64) uint64 {
	return v &^ (pageSize - 1)
}

// Inward shrinks r to the whole pages it fully contains. The result is
// empty when r does not cover a full page.
func Inward(r Range, pageSize uint64) Range {
	out := Range{Start: AlignUp(r.Start, pageSize), End: AlignDown(r.End, pageSize)}
	if out.End < out.Start {
		out.End = out.Start
	}
	return out
}

// Uncovered returns the ranges of [0, total) not covered by any interval
// [offsets[i], offsets[i]+sizes[i]). Intervals may overlap or be empty.
// The scan is a sweep over +1/-1 deltas at each interval edge; any stretch
// where the running sum is zero is uncovered. Offsets and sizes must have
// equal length.
func Uncovered(total uint64, offsets, sizes []uint64) []Range {
	type edge struct {
		at    uint64
		delta int
	}
	edges := make([]edge, 0, 2*len(offsets)+2)
	edges = append(edges, edge{at: 0}, edge{at: total})
	for i, off := range offsets {
		if sizes[i] == 0 {
			continue
		}
		end := min(off+sizes[i], total)
		if off >= end {
			continue
		}
		edges = append(edges, edge{at: off, delta: 1}, edge{at: end, delta: -1})
	}
	slices.SortFunc(edges, func(a, b edge) int {
		return cmp.Compare(a.at, b.at)
	})

	var (
		out   []Range
		depth int
		prev  uint64
	)
	for i := 0; i < len(edges); {
		at := edges[i].at
		if depth == 0 && at > prev {
			out = append(out, Range{Start: prev, End: at})
		}
		for i < len(edges) && edges[i].at == at {
			depth += edges[i].delta
			i++
		}
		prev = at
	}
	return out
}

// ReclaimWindow returns the whole pages that can be dropped after deleting
// the blob at [ptr, ptr+size) inside a region [lo, hi).
//
// left is the end of the nearest live neighbour below ptr, right the start
// of the nearest live neighbour above it; pass lo and hi when there is none.
// The own window is widened to page boundaries and then clamped so that no
// page touching a neighbour is included.
func ReclaimWindow(ptr, size, left, right, lo, hi, pageSize uint64) Range {
	start := AlignDown(ptr, pageSize)
	end := AlignUp(ptr+size, pageSize)

	// A neighbour sharing the first or last page keeps that page.
	start = max(start, AlignUp(left, pageSize), lo)
	end = min(end, AlignDown(right, pageSize), hi)
	if end < start {
		end = start
	}
	return Range{Start: start, End: end}
}
