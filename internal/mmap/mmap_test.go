package mmap

import (
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMmap_OpenReadClose(t *testing.T) {
	content := []byte("Hello, Mmap!")
	path := filepath.Join(t.TempDir(), "mmap_test")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	m, err := Open(path)
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, len(content), m.Size())
	assert.Equal(t, content, m.Bytes())
	assert.Equal(t, -1, m.FD())

	buf := make([]byte, 5)
	n, err := m.ReadAt(buf, 7)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "Mmap!", string(buf))

	n, err = m.ReadAt(make([]byte, 10), 100)
	assert.Equal(t, 0, n)
	assert.Equal(t, io.EOF, err)

	buf3 := make([]byte, 10)
	n, err = m.ReadAt(buf3, 7)
	assert.Equal(t, 5, n)
	assert.Equal(t, io.EOF, err)

	_, err = m.ReadAt(buf, -1)
	assert.Equal(t, ErrInvalidOffset, err)
}

func TestMmap_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	m, err := Open(path)
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, 0, m.Size())
	assert.Equal(t, uintptr(0), m.Addr())
}

func TestMapping_RefCount(t *testing.T) {
	f := NewFake(4096)
	m, err := f.MapShared(8192)
	require.NoError(t, err)
	assert.Equal(t, 1, f.Live())

	m.Retain()
	require.NoError(t, m.Close())
	assert.Equal(t, 1, f.Live(), "still referenced")
	assert.NotNil(t, m.Bytes())

	require.NoError(t, m.Close())
	assert.Equal(t, 0, f.Live())
	assert.Nil(t, m.Bytes())
	assert.ErrorIs(t, m.AdviseRange(0, 4096, AccessDontNeed), ErrClosed)
}

func TestFake_AlignedAndDontNeed(t *testing.T) {
	f := NewFake(4096)
	m, err := f.MapShared(3 * 4096)
	require.NoError(t, err)
	defer m.Close()

	assert.Zero(t, m.Addr()%4096)
	assert.Greater(t, m.FD(), 0)

	data := m.Bytes()
	for i := range data {
		data[i] = 0xAB
	}

	require.NoError(t, m.AdviseRange(4096, 4096, AccessDontNeed))
	assert.Equal(t, byte(0xAB), data[4095])
	assert.Equal(t, byte(0), data[4096])
	assert.Equal(t, byte(0), data[8191])
	assert.Equal(t, byte(0xAB), data[8192])

	advised := f.Advised()
	require.Len(t, advised, 1)
	assert.Equal(t, Advice{FD: m.FD(), Offset: 4096, Length: 4096, Pattern: AccessDontNeed}, advised[0])

	assert.ErrorIs(t, m.AdviseRange(8192, 8192, AccessDontNeed), ErrOutOfBounds)
}

func TestFake_FailNext(t *testing.T) {
	f := NewFake(0)
	assert.Equal(t, 4096, f.PageSize())

	f.FailNext(2)
	m, err := f.MapShared(10)
	require.NoError(t, err)
	defer m.Close()

	_, err = f.MapFile("x", 10)
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = f.MapShared(0)
	assert.ErrorIs(t, err, ErrInvalidSize)
}

func TestOS_MapSharedAndFile(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shared mappings are unix only")
	}
	mapper := OS()
	ps := mapper.PageSize()

	m, err := mapper.MapShared(4 * ps)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, m.FD(), 0)
	assert.Zero(t, m.Addr()%uintptr(ps))

	data := m.Bytes()
	copy(data, "shared")
	data[len(data)-1] = 7
	require.NoError(t, m.AdviseRange(ps, 2*ps, AccessDontNeed))
	assert.Equal(t, "shared", string(data[:6]))
	require.NoError(t, m.Close())

	path := filepath.Join(t.TempDir(), "blob")
	fm, err := mapper.MapFile(path, ps)
	require.NoError(t, err)
	copy(fm.Bytes(), "on disk")
	require.NoError(t, fm.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "on disk", string(raw[:7]))

	tm, err := mapper.MapTempFile(t.TempDir(), ps)
	require.NoError(t, err)
	require.NoError(t, tm.Close())
}
