//go:build unix

package platform

import (
	"golang.org/x/sys/unix"
	"tlog.app/go/errors"
)

const mmapSupported = true

func mmapCodeSegment(code []byte) ([]byte, error) {
	// Anonymous as this is not an actual file, but a memory,
	// Private as this is in-process memory region.
	b, err := unix.Mmap(-1, 0, len(code), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, errors.Wrap(err, "mmap %d bytes", len(code))
	}
	copy(b, code)
	if err = unix.Mprotect(b, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		_ = unix.Munmap(b)
		return nil, errors.Wrap(err, "mprotect")
	}
	return b, nil
}

func munmapCodeSegment(code []byte) error {
	if err := unix.Munmap(code); err != nil {
		return errors.Wrap(err, "munmap")
	}
	return nil
}
