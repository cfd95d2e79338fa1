//go:build linux || darwin

package osmem

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

const mmapSupported = true

func mapAnonymous(length int) ([]byte, error) {
	data, err := unix.Mmap(-1, 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "mmap of %d bytes", length), ErrNoMemory)
	}

	return data, nil
}

func unmapAnonymous(data []byte) error {
	return unix.Munmap(data)
}
