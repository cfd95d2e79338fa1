//go:build !(linux || darwin)

package osmem

import "github.com/cockroachdb/errors"

const mmapSupported = false

func mapAnonymous(length int) ([]byte, error) {
	return nil, errors.Mark(errors.Newf("anonymous mappings of %d bytes are not supported on this platform", length), ErrNoMemory)
}

func unmapAnonymous(data []byte) error {
	return nil
}
