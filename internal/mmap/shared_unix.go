//go:build unix && !linux

package mmap

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// Without memfd_create an unlinked temporary file gives the same
// descriptor-addressable shared region.
func osMapShared(size int) ([]byte, int, func([]byte) error, error) {
	f, err := os.CreateTemp("", "bulkstore-shm-*")
	if err != nil {
		return nil, -1, nil, err
	}
	if err := os.Remove(f.Name()); err != nil {
		_ = f.Close()
		return nil, -1, nil, err
	}
	if err := f.Truncate(int64(size)); err != nil {
		_ = f.Close()
		return nil, -1, nil, err
	}
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = f.Close()
		return nil, -1, nil, err
	}
	return data, int(f.Fd()), func(b []byte) error {
		return errors.Join(unix.Munmap(b), f.Close())
	}, nil
}
