package bulkstore

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/bulkstore/internal/mmap"
)

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}

func TestArena_Finalize(t *testing.T) {
	s, fake := newTestStore(t)

	a, err := s.MakeArena(4 * testPageSize)
	require.NoError(t, err)
	assert.Equal(t, int64(4*testPageSize), a.Size)
	assert.Len(t, a.Bytes(), 4*testPageSize)

	copy(a.Bytes()[0:], "first")
	copy(a.Bytes()[testPageSize:], "second")

	t.Run("LengthMismatch", func(t *testing.T) {
		_, err := s.FinalizeArena(a.FD, []uint64{0}, []uint64{100, 100})
		assert.ErrorIs(t, err, ErrUserInput)
	})

	t.Run("OutOfBounds", func(t *testing.T) {
		_, err := s.FinalizeArena(a.FD, []uint64{4*testPageSize - 10}, []uint64{100})
		assert.ErrorIs(t, err, ErrUserInput)
		assert.Equal(t, 0, s.Len())
	})

	t.Run("DuplicateOffset", func(t *testing.T) {
		_, err := s.FinalizeArena(a.FD, []uint64{0, 0}, []uint64{10, 20})
		assert.ErrorIs(t, err, ErrUserInput)
	})

	t.Run("Overlapping", func(t *testing.T) {
		_, err := s.FinalizeArena(a.FD, []uint64{testPageSize, 0, 100}, []uint64{100, 2 * testPageSize, 100})
		assert.ErrorIs(t, err, ErrUserInput)
		assert.Equal(t, 0, s.Len())
	})

	t.Run("Adjacent", func(t *testing.T) {
		// An empty blob may sit at the end of another one.
		assert.NoError(t, s.validateLayout(a, []uint64{100, 0, 100 + 50}, []uint64{50, 100, 0}))
	})

	t.Run("UnknownArena", func(t *testing.T) {
		_, err := s.FinalizeArena(12345, nil, nil)
		assert.ErrorIs(t, err, ErrObjectNotExists)
	})

	ids, err := s.FinalizeArena(a.FD, []uint64{0, testPageSize}, []uint64{100, 100})
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Equal(t, ObjectIDFromAddress(a.Base), ids[0])
	assert.Equal(t, ObjectIDFromAddress(a.Base+testPageSize), ids[1])

	ps, err := s.GetBatch(ids)
	require.NoError(t, err)
	assert.Equal(t, "first", string(ps[0].Data()[:5]))
	assert.Equal(t, "second", string(ps[1].Data()[:6]))
	for _, p := range ps {
		assert.True(t, p.IsSealed())
		assert.True(t, p.IsOwner())
		assert.Equal(t, KindArena, p.Kind())
		assert.Equal(t, a.FD, p.ArenaFD())
	}

	// Only the whole pages after the second blob are uncovered.
	assert.Equal(t, []mmap.Advice{{
		FD:      a.FD,
		Offset:  2 * testPageSize,
		Length:  2 * testPageSize,
		Pattern: mmap.AccessDontNeed,
	}}, fake.Advised())

	// Arenas do not count towards the footprint.
	assert.Equal(t, int64(0), s.Footprint())

	_, err = s.FinalizeArena(a.FD, nil, nil)
	assert.ErrorIs(t, err, ErrObjectNotExists)
}

func TestArena_DeleteKeepsNeighbours(t *testing.T) {
	s, fake := newTestStore(t)

	a, err := s.MakeArena(8 * testPageSize)
	require.NoError(t, err)
	data := a.Bytes()

	// left [0, 5000), middle [6000, 20000), right [21000, 21100)
	offsets := []uint64{0, 6000, 21000}
	sizes := []uint64{5000, 14000, 100}
	fill(data[0:5000], 0xAA)
	fill(data[6000:20000], 0xBB)
	fill(data[21000:21100], 0xCC)

	ids, err := s.FinalizeArena(a.FD, offsets, sizes)
	require.NoError(t, err)
	fake.ResetAdvised()

	require.NoError(t, s.Delete(ids[1]))
	assert.False(t, s.Exists(ids[1]))

	// Pages shared with a neighbour stay mapped.
	assert.Equal(t, []mmap.Advice{{
		FD:      a.FD,
		Offset:  2 * testPageSize,
		Length:  3 * testPageSize,
		Pattern: mmap.AccessDontNeed,
	}}, fake.Advised())
	for _, adv := range fake.Advised() {
		assert.GreaterOrEqual(t, uint64(adv.Offset), offsets[0]+sizes[0])
		assert.LessOrEqual(t, uint64(adv.Offset+adv.Length), offsets[2])
	}

	left, err := s.Get(ids[0])
	require.NoError(t, err)
	right, err := s.Get(ids[2])
	require.NoError(t, err)
	assert.True(t, bytes.Equal(left.Data(), bytes.Repeat([]byte{0xAA}, 5000)))
	assert.True(t, bytes.Equal(right.Data(), bytes.Repeat([]byte{0xCC}, 100)))
	assert.Equal(t, byte(0xBB), data[6000], "partial first page is kept")
	assert.Equal(t, byte(0), data[2*testPageSize])

	// With both neighbours gone the whole arena can be reclaimed.
	fake.ResetAdvised()
	require.NoError(t, s.Delete(ids[0]))
	require.NoError(t, s.Delete(ids[2]))
	var reclaimed int
	for _, adv := range fake.Advised() {
		reclaimed += adv.Length
	}
	assert.Equal(t, 2*testPageSize+testPageSize, reclaimed)
	assert.Equal(t, 0, s.Len())
}

func TestArena_NonOwnedDelete(t *testing.T) {
	spans := NewSpanSet()
	src, fake := newTestStore(t, WithSpanSet(spans))
	dst, _ := newTestStore(t, WithSpanSet(spans))

	a, err := src.MakeArena(2 * testPageSize)
	require.NoError(t, err)
	ids, err := src.FinalizeArena(a.FD, []uint64{0}, []uint64{2 * testPageSize})
	require.NoError(t, err)
	fill(a.Bytes(), 0x11)

	require.NoError(t, dst.MoveOwnership(src.RemoveOwnership(ids)))
	fake.ResetAdvised()

	// The former owner drops the entry but leaves the pages alone.
	require.NoError(t, src.Delete(ids[0]))
	assert.Empty(t, fake.Advised())

	p, err := dst.Get(ids[0])
	require.NoError(t, err)
	assert.Equal(t, byte(0x11), p.Data()[testPageSize])

	require.NoError(t, dst.Delete(ids[0]))
	require.Len(t, fake.Advised(), 1)
	assert.Equal(t, 2*testPageSize, fake.Advised()[0].Length)
}

func TestArena_MovedDeleteKeepsSourceNeighbours(t *testing.T) {
	// Each store keeps its own span set.
	src, fake := newTestStore(t)
	dst, _ := newTestStore(t)

	a, err := src.MakeArena(4 * testPageSize)
	require.NoError(t, err)
	data := a.Bytes()

	// left [0, 100), middle [100, 200), right [200, 300)
	fill(data[0:100], 0xAA)
	fill(data[100:200], 0xBB)
	fill(data[200:300], 0xCC)
	ids, err := src.FinalizeArena(a.FD, []uint64{0, 100, 200}, []uint64{100, 100, 100})
	require.NoError(t, err)

	require.NoError(t, dst.MoveOwnership(src.RemoveOwnership(ids[1:2])))
	fake.ResetAdvised()

	require.NoError(t, dst.Delete(ids[1]))
	assert.Empty(t, fake.Advised(), "a sub-page blob shares its page with live siblings")

	left, err := src.Get(ids[0])
	require.NoError(t, err)
	right, err := src.Get(ids[2])
	require.NoError(t, err)
	assert.True(t, bytes.Equal(left.Data(), bytes.Repeat([]byte{0xAA}, 100)))
	assert.True(t, bytes.Equal(right.Data(), bytes.Repeat([]byte{0xCC}, 100)))
}

func TestArena_MovedDeleteReclaimsOwnPages(t *testing.T) {
	src, fake := newTestStore(t)
	dst, _ := newTestStore(t)

	a, err := src.MakeArena(8 * testPageSize)
	require.NoError(t, err)
	data := a.Bytes()

	// left [0, 5000), middle [6000, 20000), right [21000, 21100)
	fill(data[0:5000], 0xAA)
	fill(data[6000:20000], 0xBB)
	fill(data[21000:21100], 0xCC)
	ids, err := src.FinalizeArena(a.FD, []uint64{0, 6000, 21000}, []uint64{5000, 14000, 100})
	require.NoError(t, err)

	// Keep only the right blob in the source and move the other two.
	moved := []ObjectID{ids[0], ids[1]}
	require.NoError(t, dst.MoveOwnership(src.RemoveOwnership(moved)))
	require.NoError(t, src.Delete(ids[0]))
	require.NoError(t, src.Delete(ids[1]))
	fake.ResetAdvised()

	require.NoError(t, dst.Delete(ids[1]))
	for _, adv := range fake.Advised() {
		assert.GreaterOrEqual(t, uint64(adv.Offset), uint64(6000))
		assert.LessOrEqual(t, uint64(adv.Offset+adv.Length), uint64(20000))
	}

	right, err := src.Get(ids[2])
	require.NoError(t, err)
	assert.True(t, bytes.Equal(right.Data(), bytes.Repeat([]byte{0xCC}, 100)))
	p, err := dst.Get(ids[0])
	require.NoError(t, err)
	assert.True(t, bytes.Equal(p.Data(), bytes.Repeat([]byte{0xAA}, 5000)))
}

func TestArena_OverlapRejectedBeforeRegistering(t *testing.T) {
	s, fake := newTestStore(t)

	a, err := s.MakeArena(4 * testPageSize)
	require.NoError(t, err)
	fill(a.Bytes()[:4*testPageSize], 0xAA)
	fake.ResetAdvised()

	// A container blob with two blobs nested inside it.
	_, err = s.FinalizeArena(a.FD, []uint64{0, 100, 2 * testPageSize}, []uint64{4 * testPageSize, 100, 100})
	require.ErrorIs(t, err, ErrUserInput)
	assert.Equal(t, 0, s.Len())
	assert.Empty(t, fake.Advised())
	assert.Equal(t, byte(0xAA), a.Bytes()[2*testPageSize])

	// The arena stays active and accepts a disjoint layout.
	ids, err := s.FinalizeArena(a.FD, []uint64{0}, []uint64{4 * testPageSize})
	require.NoError(t, err)
	require.Len(t, ids, 1)
}

func TestArena_MakeFailure(t *testing.T) {
	s, fake := newTestStore(t)

	fake.FailNext(1)
	_, err := s.MakeArena(testPageSize)
	assert.ErrorIs(t, err, ErrNotEnoughMemory)

	_, err = s.MakeArena(0)
	assert.ErrorIs(t, err, ErrUserInput)
}
