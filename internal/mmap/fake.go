package mmap

import (
	"sync"
	"sync/atomic"
	"unsafe"
)

// Advice is one advice call recorded by Fake.
type Advice struct {
	FD      int
	Offset  int
	Length  int
	Pattern AccessPattern
}

// Fake is an in-memory Mapper. Regions are page-aligned heap slices and
// descriptors are synthetic. AccessDontNeed zeroes the advised range.
type Fake struct {
	pageSize int
	nextFD   atomic.Int64
	live     atomic.Int64

	mu      sync.Mutex
	advised []Advice
	files   []string
	failAt  int // fail the n-th map call (1-based), 0 disables
	calls   int
}

// NewFake returns a Fake using pageSize (4096 if <= 0).
func NewFake(pageSize int) *Fake {
	if pageSize <= 0 {
		pageSize = 4096
	}
	f := &Fake{pageSize: pageSize}
	f.nextFD.Store(100)
	return f
}

// PageSize implements Mapper.
func (f *Fake) PageSize() int {
	return f.pageSize
}

// MapShared implements Mapper.
func (f *Fake) MapShared(size int) (*Mapping, error) {
	return f.mapRegion(size)
}

// MapFile implements Mapper. The path is recorded but nothing is written.
func (f *Fake) MapFile(path string, size int) (*Mapping, error) {
	f.mu.Lock()
	f.files = append(f.files, path)
	f.mu.Unlock()
	return f.mapRegion(size)
}

// MapTempFile implements Mapper.
func (f *Fake) MapTempFile(dir string, size int) (*Mapping, error) {
	return f.MapFile(dir, size)
}

// FailNext makes the n-th following map call fail with ErrUnsupported.
func (f *Fake) FailNext(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = 0
	f.failAt = n
}

// Advised returns a copy of all recorded advice calls.
func (f *Fake) Advised() []Advice {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Advice, len(f.advised))
	copy(out, f.advised)
	return out
}

// ResetAdvised clears the advice log.
func (f *Fake) ResetAdvised() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.advised = nil
}

// Files returns the paths passed to MapFile.
func (f *Fake) Files() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.files...)
}

// Live returns the number of mappings not yet unmapped.
func (f *Fake) Live() int {
	return int(f.live.Load())
}

func (f *Fake) mapRegion(size int) (*Mapping, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}
	f.mu.Lock()
	f.calls++
	fail := f.failAt > 0 && f.calls == f.failAt
	if fail {
		f.failAt = 0
	}
	f.mu.Unlock()
	if fail {
		return nil, ErrUnsupported
	}

	raw := make([]byte, size+f.pageSize)
	base := uintptr(unsafe.Pointer(&raw[0]))
	shift := int((uintptr(f.pageSize) - base%uintptr(f.pageSize)) % uintptr(f.pageSize))
	data := raw[shift : shift+size : shift+size]

	fd := int(f.nextFD.Add(1))
	f.live.Add(1)

	return newMapping(data, fd, func([]byte) error {
		f.live.Add(-1)
		return nil
	}, func(b []byte, pattern AccessPattern) error {
		off := int(uintptr(unsafe.Pointer(&b[0])) - uintptr(unsafe.Pointer(&data[0])))
		f.mu.Lock()
		f.advised = append(f.advised, Advice{FD: fd, Offset: off, Length: len(b), Pattern: pattern})
		f.mu.Unlock()
		if pattern == AccessDontNeed {
			clear(b)
		}
		return nil
	}), nil
}
