// Package osmem supplies the two operating-system primitives the heap is built on: a movable
// program break bounding a contiguous arena, and independent anonymous mappings. Every address
// handed out by this package is virtual; the bytes behind an address are reached through Bytes.
package osmem

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Addr is a location in the address space managed by a System. The zero Addr is never valid.
type Addr uint64

// Null is the address that never names memory
const Null Addr = 0

func (a Addr) String() string {
	return fmt.Sprintf("0x%x", uint64(a))
}

// Add offsets the address by a positive or negative number of bytes
func (a Addr) Add(offset int) Addr {
	if offset < 0 {
		return a - Addr(-offset)
	}
	return a + Addr(offset)
}

var (
	// ErrNoMemory is returned when the break cannot move or a mapping cannot be created
	ErrNoMemory = errors.New("cannot allocate memory")
	// ErrBadAddress is returned when an address range does not lie within live memory
	ErrBadAddress = errors.New("bad address")
	// ErrNotMapped is returned from Munmap when the range is not exactly one live mapping
	ErrNotMapped = errors.New("address does not name a mapped region")
)

// Memory resolves addresses to the bytes behind them. The returned slice aliases the managed
// memory and stays valid until the range is unmapped or released.
type Memory interface {
	Bytes(addr Addr, length int) ([]byte, error)
}

// System is the set of primitives consumed by the heap
type System interface {
	Memory

	// Brk reports the current program break
	Brk() Addr
	// Sbrk moves the break by increment bytes and returns the previous break. If the break
	// cannot move, ErrNoMemory is returned and the break is unchanged.
	Sbrk(increment int) (Addr, error)
	// Mmap creates an anonymous read/write mapping of at least length bytes
	Mmap(length int) (Addr, error)
	// Munmap releases a mapping created by Mmap. The length must be the one passed to Mmap.
	Munmap(addr Addr, length int) error
}

//go:generate mockgen -package mocks -destination ./mocks/system.go github.com/vkngwrapper/smalloc/osmem System
