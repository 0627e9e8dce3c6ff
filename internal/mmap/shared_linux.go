//go:build linux

package mmap

import (
	"errors"

	"golang.org/x/sys/unix"
)

func osMapShared(size int) ([]byte, int, func([]byte) error, error) {
	fd, err := unix.MemfdCreate("bulkstore", unix.MFD_CLOEXEC)
	if err != nil {
		return nil, -1, nil, err
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		_ = unix.Close(fd)
		return nil, -1, nil, err
	}
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(fd)
		return nil, -1, nil, err
	}
	return data, fd, func(b []byte) error {
		return errors.Join(unix.Munmap(b), unix.Close(fd))
	}, nil
}
