package mmap

import (
	"io"
	"os"
	"sync/atomic"
	"unsafe"
)

// Mapping represents a mapped memory region.
// It owns the underlying byte slice and is responsible for unmapping it.
type Mapping struct {
	data   []byte
	size   int
	fd     int
	refs   atomic.Int64
	closed atomic.Bool
	// unmap is the platform-specific function to unmap the memory and
	// release the backing descriptor.
	unmap func([]byte) error
	// advise applies an access hint to a sub-slice of data.
	advise func([]byte, AccessPattern) error
}

func newMapping(data []byte, fd int, unmap func([]byte) error, advise func([]byte, AccessPattern) error) *Mapping {
	m := &Mapping{
		data:   data,
		size:   len(data),
		fd:     fd,
		unmap:  unmap,
		advise: advise,
	}
	m.refs.Store(1)
	return m
}

// Open maps the file at path into memory.
// The file is mapped as read-only.
func Open(path string) (*Mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}

	size := fi.Size()
	if size == 0 {
		return newMapping(nil, -1, nil, osAdvise), nil
	}
	if size < 0 {
		return nil, ErrInvalidSize
	}

	data, unmapFunc, err := osMap(f, int(size))
	if err != nil {
		return nil, err
	}

	return newMapping(data, -1, unmapFunc, osAdvise), nil
}

// Retain adds a reference to the mapping and returns it.
func (m *Mapping) Retain() *Mapping {
	m.refs.Add(1)
	return m
}

// Close drops one reference. The memory is unmapped when the last
// reference is dropped. Extra calls after that are no-ops.
func (m *Mapping) Close() error {
	if m.refs.Add(-1) > 0 {
		return nil
	}
	if m.closed.Swap(true) {
		return nil // Already closed
	}
	if m.unmap != nil {
		return m.unmap(m.data)
	}
	return nil
}

// Bytes returns the underlying byte slice.
// Warning: The slice is valid only until the last reference is closed.
func (m *Mapping) Bytes() []byte {
	if m.closed.Load() {
		return nil
	}
	return m.data
}

// Size returns the size of the mapping in bytes.
func (m *Mapping) Size() int {
	return m.size
}

// FD returns the descriptor backing the mapping, or -1 for private maps.
func (m *Mapping) FD() int {
	return m.fd
}

// Addr returns the base address of the mapping, or zero if it is empty.
func (m *Mapping) Addr() uintptr {
	if len(m.data) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&m.data[0]))
}

// Advise provides hints to the kernel about how the memory will be accessed.
func (m *Mapping) Advise(pattern AccessPattern) error {
	return m.AdviseRange(0, m.size, pattern)
}

// AdviseRange applies pattern to [off, off+n). Callers pass page-aligned
// ranges; the kernel rejects anything else.
func (m *Mapping) AdviseRange(off, n int, pattern AccessPattern) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if off < 0 || n < 0 || off+n > m.size {
		return ErrOutOfBounds
	}
	if n == 0 || m.advise == nil {
		return nil
	}
	return m.advise(m.data[off:off+n], pattern)
}

// ReadAt implements io.ReaderAt.
func (m *Mapping) ReadAt(p []byte, off int64) (n int, err error) {
	if m.closed.Load() {
		return 0, ErrClosed
	}
	if off < 0 {
		return 0, ErrInvalidOffset
	}
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n = copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
