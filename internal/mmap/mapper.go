package mmap

import (
	"errors"
	"os"
)

// Mapper creates memory regions. The OS mapper issues real system calls;
// Fake backs regions with heap memory for tests.
type Mapper interface {
	// PageSize returns the granularity used for advice calls.
	PageSize() int
	// MapShared reserves size bytes of anonymous shared memory backed by a
	// descriptor that other processes can map.
	MapShared(size int) (*Mapping, error)
	// MapFile creates (or truncates) the file at path to size bytes and maps
	// it read-write and shared.
	MapFile(path string, size int) (*Mapping, error)
	// MapTempFile is MapFile on an unlinked temporary file in dir.
	MapTempFile(dir string, size int) (*Mapping, error)
}

type osMapper struct {
	pageSize int
}

var defaultMapper = &osMapper{pageSize: os.Getpagesize()}

// OS returns the mapper backed by the operating system.
func OS() Mapper {
	return defaultMapper
}

func (m *osMapper) PageSize() int {
	return m.pageSize
}

func (m *osMapper) MapShared(size int) (*Mapping, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}
	data, fd, unmap, err := osMapShared(size)
	if err != nil {
		return nil, err
	}
	return newMapping(data, fd, unmap, osAdvise), nil
}

func (m *osMapper) MapFile(path string, size int) (*Mapping, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, err
	}
	return mapOpenFile(f, size)
}

func (m *osMapper) MapTempFile(dir string, size int) (*Mapping, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}
	f, err := os.CreateTemp(dir, "bulkstore-*.blob")
	if err != nil {
		return nil, err
	}
	if err := os.Remove(f.Name()); err != nil {
		_ = f.Close()
		return nil, err
	}
	return mapOpenFile(f, size)
}

// mapOpenFile takes ownership of f.
func mapOpenFile(f *os.File, size int) (*Mapping, error) {
	if err := f.Truncate(int64(size)); err != nil {
		_ = f.Close()
		return nil, err
	}
	data, unmap, err := osMapRW(f, size)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return newMapping(data, int(f.Fd()), func(b []byte) error {
		return errors.Join(unmap(b), f.Close())
	}, osAdvise), nil
}
