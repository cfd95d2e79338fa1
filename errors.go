package smalloc

import "github.com/cockroachdb/errors"

var (
	// ErrInvalidSize is returned when a request is empty, exceeds the maximum request size, or
	// overflows when its element count and element size are multiplied
	ErrInvalidSize = errors.New("invalid allocation size")
	// ErrOutOfMemory is returned when the break cannot be extended or a mapping cannot be created
	ErrOutOfMemory = errors.New("out of memory")
	// ErrInvalidPointer is returned when a pointer does not name a live block of the heap
	ErrInvalidPointer = errors.New("pointer does not name a live allocation")
)
