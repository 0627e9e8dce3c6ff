package arrowalloc

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/bulkstore"
	"github.com/hupe1980/bulkstore/internal/mmap"
)

func newStore(t *testing.T) *bulkstore.Store {
	t.Helper()
	s, err := bulkstore.New(
		bulkstore.WithMemoryLimit(4<<20),
		bulkstore.WithMapper(mmap.NewFake(4096)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAllocator(t *testing.T) {
	store := newStore(t)
	alloc := New(store)

	buf := alloc.Allocate(1024)
	assert.Equal(t, 1024, len(buf))
	buf[0] = 1
	buf[1023] = 2
	assert.Equal(t, 1, store.Len())
	assert.Equal(t, int64(1024), alloc.Allocated())

	buf2 := alloc.Reallocate(4096, buf)
	assert.Equal(t, 4096, len(buf2))
	assert.Equal(t, byte(1), buf2[0])
	assert.Equal(t, byte(2), buf2[1023])
	assert.Equal(t, 1, store.Len())
	assert.Equal(t, int64(4096), alloc.Allocated())

	alloc.Free(buf2)
	assert.Equal(t, 0, store.Len())
	assert.Equal(t, int64(0), alloc.Allocated())
	assert.Equal(t, int64(0), store.Footprint())

	assert.Empty(t, alloc.Allocate(0))
}

func TestAllocator_PanicsWhenExhausted(t *testing.T) {
	store := newStore(t)
	alloc := New(store)

	assert.Panics(t, func() {
		alloc.Allocate(8 << 20)
	})
}

func TestAllocator_SealAndShare(t *testing.T) {
	store := newStore(t)
	alloc := New(store)

	b := array.NewInt64Builder(alloc)
	for i := int64(0); i < 1000; i++ {
		b.Append(i * 3)
	}
	arr := b.NewInt64Array()
	b.Release()

	values := arr.Data().Buffers()[1]
	id, err := alloc.Seal(values.Buf())
	require.NoError(t, err)

	// Releasing the array drops its buffers, but the sealed one survives.
	arr.Release()
	require.True(t, store.Exists(id))

	view, err := Get(store, id)
	require.NoError(t, err)
	got := array.NewInt64Data(array.NewData(arrow.PrimitiveTypes.Int64, 1000, []*memory.Buffer{nil, view}, nil, 0, 0))
	defer got.Release()
	assert.Equal(t, int64(0), got.Value(0))
	assert.Equal(t, int64(2997), got.Value(999))

	_, err = alloc.Seal(view.Bytes())
	assert.ErrorIs(t, err, bulkstore.ErrObjectNotExists)
}

func TestAllocator_CheckedAllocator(t *testing.T) {
	store := newStore(t)
	mem := memory.NewCheckedAllocator(New(store))
	defer mem.AssertSize(t, 0)

	buf := memory.NewResizableBuffer(mem)
	buf.Resize(300)
	copy(buf.Bytes(), "arrow")
	assert.Equal(t, "arrow", string(buf.Bytes()[:5]))
	buf.Release()

	assert.Equal(t, 0, store.Len())
}
