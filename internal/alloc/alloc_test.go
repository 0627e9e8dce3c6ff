package alloc

import (
	"sync"
	"testing"

	"github.com/hupe1980/bulkstore/internal/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRC(limit int64) *resource.Controller {
	return resource.NewController(resource.Config{MemoryLimitBytes: limit})
}

func TestNew(t *testing.T) {
	region := make([]byte, 1<<16)

	a, err := New("", region, nil)
	require.NoError(t, err)
	assert.Equal(t, BackendSizeClass, a.Name())
	assert.Equal(t, int64(1<<16), a.Limit())

	a, err = New(BackendFirstFit, region, newRC(1<<10))
	require.NoError(t, err)
	assert.Equal(t, BackendFirstFit, a.Name())
	assert.Equal(t, int64(1<<10), a.Limit())

	_, err = New("dlmalloc", region, nil)
	assert.ErrorIs(t, err, ErrUnknownBackend)
}

func TestAllocators(t *testing.T) {
	backends := []string{BackendSizeClass, BackendFirstFit}
	for _, name := range backends {
		t.Run(name, func(t *testing.T) {
			region := make([]byte, 1<<20)
			a, err := New(name, region, newRC(1<<20))
			require.NoError(t, err)

			t.Run("alignment", func(t *testing.T) {
				for _, size := range []int{1, 63, 64, 100, 4096, 300 << 10} {
					off, err := a.Allocate(size, 0)
					require.NoError(t, err)
					assert.Zero(t, off%BlockSize)
					us, ok := a.UsableSize(off)
					require.True(t, ok)
					assert.GreaterOrEqual(t, us, size)
					require.NoError(t, a.Free(off))
				}
				assert.Equal(t, int64(0), a.Allocated())
			})

			t.Run("large alignment", func(t *testing.T) {
				off, err := a.Allocate(100, 4096)
				require.NoError(t, err)
				assert.Zero(t, off%4096)
				require.NoError(t, a.Free(off))
			})

			t.Run("invalid", func(t *testing.T) {
				_, err := a.Allocate(0, 0)
				assert.ErrorIs(t, err, ErrInvalidSize)
				_, err = a.Allocate(10, 3)
				assert.ErrorIs(t, err, ErrInvalidSize)
				assert.ErrorIs(t, a.Free(12345), ErrInvalidFree)
			})

			t.Run("no overlap", func(t *testing.T) {
				type ext struct{ off, n int }
				var got []ext
				for i := 1; i <= 50; i++ {
					off, err := a.Allocate(i*97, 0)
					require.NoError(t, err)
					got = append(got, ext{off, i * 97})
				}
				for i, x := range got {
					for j, y := range got {
						if i != j {
							assert.False(t, x.off < y.off+y.n && y.off < x.off+x.n, "overlap %v %v", x, y)
						}
					}
				}
				for _, x := range got {
					require.NoError(t, a.Free(x.off))
				}
				assert.Equal(t, int64(0), a.Allocated())
			})

			t.Run("reallocate keeps bytes", func(t *testing.T) {
				off, err := a.Allocate(100, 0)
				require.NoError(t, err)
				copy(region[off:], "payload")
				noff, err := a.Reallocate(off, 2000)
				require.NoError(t, err)
				assert.Equal(t, "payload", string(region[noff:noff+7]))
				us, _ := a.UsableSize(noff)
				assert.GreaterOrEqual(t, us, 2000)
				require.NoError(t, a.Free(noff))
				assert.Equal(t, int64(0), a.Allocated())
			})
		})
	}
}

func TestLimit(t *testing.T) {
	for _, name := range []string{BackendSizeClass, BackendFirstFit} {
		t.Run(name, func(t *testing.T) {
			rc := newRC(4096)
			a, err := New(name, make([]byte, 1<<16), rc)
			require.NoError(t, err)

			var offs []int
			for {
				off, err := a.Allocate(1024, 0)
				if err != nil {
					assert.ErrorIs(t, err, ErrLimitExceeded)
					break
				}
				offs = append(offs, off)
				require.LessOrEqual(t, a.Allocated(), int64(4096))
			}
			assert.Len(t, offs, 4)
			assert.Equal(t, int64(4096), rc.MemoryUsage())

			require.NoError(t, a.Free(offs[0]))
			_, err = a.Allocate(1024, 0)
			require.NoError(t, err)
		})
	}
}

func TestFirstFit_Coalesce(t *testing.T) {
	f := NewFirstFit(make([]byte, 4096), newRC(0))
	a, _ := f.Allocate(1024, 0)
	b, _ := f.Allocate(1024, 0)
	c, _ := f.Allocate(1024, 0)
	assert.Equal(t, 1, f.freeExtents())

	require.NoError(t, f.Free(b))
	assert.Equal(t, 2, f.freeExtents())
	require.NoError(t, f.Free(a))
	assert.Equal(t, 2, f.freeExtents())
	require.NoError(t, f.Free(c))
	assert.Equal(t, 1, f.freeExtents())

	// whole region available again
	off, err := f.Allocate(4096, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, off)

	_, err = f.Allocate(64, 0)
	assert.ErrorIs(t, err, ErrNoSpace)
}

func TestFirstFit_ReallocateInPlace(t *testing.T) {
	f := NewFirstFit(make([]byte, 8192), newRC(0))
	off, err := f.Allocate(1024, 0)
	require.NoError(t, err)

	grown, err := f.Reallocate(off, 3000)
	require.NoError(t, err)
	assert.Equal(t, off, grown)
	assert.Equal(t, int64(3008), f.Allocated())

	shrunk, err := f.Reallocate(off, 64)
	require.NoError(t, err)
	assert.Equal(t, off, shrunk)
	assert.Equal(t, int64(64), f.Allocated())

	// neighbour blocks growth: realloc moves
	next, err := f.Allocate(64, 0)
	require.NoError(t, err)
	assert.Equal(t, 64, next)
	moved, err := f.Reallocate(off, 1024)
	require.NoError(t, err)
	assert.NotEqual(t, off, moved)
}

func TestSizeClass_CacheAndFlush(t *testing.T) {
	rc := newRC(0)
	s := NewSizeClass(make([]byte, 4096), rc)

	var offs []int
	for range 4 {
		off, err := s.Allocate(1000, 0)
		require.NoError(t, err)
		offs = append(offs, off)
	}
	for _, off := range offs {
		require.NoError(t, s.Free(off))
	}
	assert.Equal(t, 4, s.cachedBlocks())
	assert.Equal(t, int64(0), rc.MemoryUsage())

	// Reuse from cache.
	off, err := s.Allocate(900, 0)
	require.NoError(t, err)
	assert.Contains(t, offs, off)
	require.NoError(t, s.Free(off))

	// Needs the whole region: caches are flushed first.
	big, err := s.Allocate(4096, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, big)
	assert.Equal(t, 0, s.cachedBlocks())
}

func TestSizeClass_Concurrent(t *testing.T) {
	s := NewSizeClass(make([]byte, 8<<20), newRC(8<<20))
	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 500 {
				off, err := s.Allocate(64+(g*i)%5000, 0)
				if !assert.NoError(t, err) {
					return
				}
				assert.NoError(t, s.Free(off))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(0), s.Allocated())
}
