package bulkstore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/bulkstore/internal/mmap"
)

const testPageSize = 4096

func newTestStore(t *testing.T, opts ...Option) (*Store, *mmap.Fake) {
	t.Helper()
	fake := mmap.NewFake(testPageSize)
	opts = append([]Option{WithMemoryLimit(1 << 20), WithMapper(fake)}, opts...)
	s, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, fake
}

// createSealed creates a sealed blob filled with data.
func createSealed(t *testing.T, s *Store, data []byte) ObjectID {
	t.Helper()
	id, p, err := s.Create(int64(len(data)))
	require.NoError(t, err)
	copy(p.Data(), data)
	require.NoError(t, s.Seal(id))
	return id
}

func newFake() *mmap.Fake {
	return mmap.NewFake(testPageSize)
}
