package blobstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	_, err := store.Open(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	data := []byte("hello world, this is a spilled frame")
	require.NoError(t, store.Put(ctx, "spill/a", data))
	require.NoError(t, store.Put(ctx, "spill/b", []byte("b")))
	require.NoError(t, store.Put(ctx, "other", []byte("x")))

	got, err := ReadAll(ctx, store, "spill/a")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	b, err := store.Open(ctx, "spill/a")
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), b.Size())
	buf := make([]byte, 5)
	n, err := b.ReadAt(buf, 6)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "world", string(buf))
	require.NoError(t, b.Close())

	// Overwrite.
	require.NoError(t, store.Put(ctx, "spill/b", []byte("bb")))
	got, err = ReadAll(ctx, store, "spill/b")
	require.NoError(t, err)
	assert.Equal(t, "bb", string(got))

	names, err := store.List(ctx, "spill/")
	require.NoError(t, err)
	assert.Equal(t, []string{"spill/a", "spill/b"}, names)

	require.NoError(t, store.Delete(ctx, "spill/a"))
	require.NoError(t, store.Delete(ctx, "spill/a"))
	_, err = store.Open(ctx, "spill/a")
	assert.ErrorIs(t, err, ErrNotFound)

	names, err = store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"other", "spill/b"}, names)
}

func TestLocalStore(t *testing.T) {
	testStore(t, NewLocalStore(t.TempDir()))
}

func TestLocalStore_ListMissingRoot(t *testing.T) {
	store := NewLocalStore(t.TempDir() + "/not-yet")
	names, err := store.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestMemoryStore(t *testing.T) {
	m := NewMemoryStore()
	testStore(t, m)
	assert.Equal(t, 2, m.Len())
}
