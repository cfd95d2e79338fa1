// Package layout reads and writes the in-band metadata of heap blocks. Every block begins with a
// fixed header; arena blocks also end with a boundary tag holding the header's address so the
// block below a given header can be found in constant time.
package layout

import (
	"encoding/binary"
	"fmt"

	"github.com/vkngwrapper/smalloc/memutils"
	"github.com/vkngwrapper/smalloc/osmem"
)

const (
	// Alignment is the granularity of every block size and payload address
	Alignment uint = 8
	// HeaderSize is the number of bytes in front of each payload
	HeaderSize int = 32
	// TagSize is the number of bytes behind each arena payload
	TagSize int = 8
	// MetadataSize is the per-block overhead of an arena block
	MetadataSize int = HeaderSize + TagSize

	offsetSize  = 0
	offsetFlags = 8
	offsetPrev  = 16
	offsetNext  = 24
)

// Flags hold the state bits of a block header
type Flags uint64

const (
	FlagFree Flags = 1 << iota
	FlagMapped
)

// Pad is the total block size needed to hold requested payload bytes
func Pad(requested int, withTag bool) int {
	total := requested + HeaderSize
	if withTag {
		total += TagSize
	}

	return memutils.AlignUp(total, Alignment)
}

// Payload is the address handed to callers for the block at addr
func Payload(addr osmem.Addr) osmem.Addr {
	return addr.Add(HeaderSize)
}

// HeaderOf recovers a block address from a payload address. It returns osmem.Null when the
// payload could not have come from a block.
func HeaderOf(payload osmem.Addr) osmem.Addr {
	if payload <= osmem.Addr(HeaderSize) {
		return osmem.Null
	}

	return payload.Add(-HeaderSize)
}

// Blocks accesses block metadata through a Memory. Access to a block that does not resolve
// panics: by the time Blocks is used, the caller has already established the block is live.
type Blocks struct {
	memory osmem.Memory
}

func NewBlocks(memory osmem.Memory) Blocks {
	return Blocks{memory: memory}
}

func (b Blocks) header(addr osmem.Addr) []byte {
	data, err := b.memory.Bytes(addr, HeaderSize)
	if err != nil {
		panic(fmt.Sprintf("block header at %s is not addressable: %+v", addr, err))
	}

	return data
}

// Resolves reports whether a whole header can be read at addr
func (b Blocks) Resolves(addr osmem.Addr) bool {
	if addr == osmem.Null {
		return false
	}

	_, err := b.memory.Bytes(addr, HeaderSize)
	return err == nil
}

// Span returns the bytes of length starting at addr
func (b Blocks) Span(addr osmem.Addr, length int) []byte {
	data, err := b.memory.Bytes(addr, length)
	if err != nil {
		panic(fmt.Sprintf("range %s+%d is not addressable: %+v", addr, length, err))
	}

	return data
}

// Stamp writes a fresh header with no list links
func (b Blocks) Stamp(addr osmem.Addr, size int, flags Flags) {
	memutils.DebugCheckAligned(size, Alignment, "block size")

	data := b.header(addr)
	binary.LittleEndian.PutUint64(data[offsetSize:], uint64(size))
	binary.LittleEndian.PutUint64(data[offsetFlags:], uint64(flags))
	binary.LittleEndian.PutUint64(data[offsetPrev:], uint64(osmem.Null))
	binary.LittleEndian.PutUint64(data[offsetNext:], uint64(osmem.Null))
}

func (b Blocks) Size(addr osmem.Addr) int {
	return int(binary.LittleEndian.Uint64(b.header(addr)[offsetSize:]))
}

func (b Blocks) SetSize(addr osmem.Addr, size int) {
	memutils.DebugCheckAligned(size, Alignment, "block size")
	binary.LittleEndian.PutUint64(b.header(addr)[offsetSize:], uint64(size))
}

func (b Blocks) Flags(addr osmem.Addr) Flags {
	return Flags(binary.LittleEndian.Uint64(b.header(addr)[offsetFlags:]))
}

func (b Blocks) setFlags(addr osmem.Addr, flags Flags) {
	binary.LittleEndian.PutUint64(b.header(addr)[offsetFlags:], uint64(flags))
}

func (b Blocks) IsFree(addr osmem.Addr) bool {
	return b.Flags(addr)&FlagFree != 0
}

func (b Blocks) SetFree(addr osmem.Addr, free bool) {
	flags := b.Flags(addr)
	if free {
		flags |= FlagFree
	} else {
		flags &^= FlagFree
	}
	b.setFlags(addr, flags)
}

func (b Blocks) IsMapped(addr osmem.Addr) bool {
	return b.Flags(addr)&FlagMapped != 0
}

func (b Blocks) Prev(addr osmem.Addr) osmem.Addr {
	return osmem.Addr(binary.LittleEndian.Uint64(b.header(addr)[offsetPrev:]))
}

func (b Blocks) SetPrev(addr osmem.Addr, prev osmem.Addr) {
	binary.LittleEndian.PutUint64(b.header(addr)[offsetPrev:], uint64(prev))
}

func (b Blocks) Next(addr osmem.Addr) osmem.Addr {
	return osmem.Addr(binary.LittleEndian.Uint64(b.header(addr)[offsetNext:]))
}

func (b Blocks) SetNext(addr osmem.Addr, next osmem.Addr) {
	binary.LittleEndian.PutUint64(b.header(addr)[offsetNext:], uint64(next))
}

// Usable is the number of payload bytes the block at addr can hold
func (b Blocks) Usable(addr osmem.Addr) int {
	if b.IsMapped(addr) {
		return b.Size(addr) - HeaderSize
	}

	return b.Size(addr) - MetadataSize
}

// End is the first address past the block at addr
func (b Blocks) End(addr osmem.Addr) osmem.Addr {
	return addr.Add(b.Size(addr))
}

// WriteTag stores the header address in the last word of the arena block at addr
func (b Blocks) WriteTag(addr osmem.Addr) {
	tag := b.Span(b.End(addr).Add(-TagSize), TagSize)
	binary.LittleEndian.PutUint64(tag, uint64(addr))
}

// Tag reads the boundary tag of the arena block at addr
func (b Blocks) Tag(addr osmem.Addr) osmem.Addr {
	return osmem.Addr(binary.LittleEndian.Uint64(b.Span(b.End(addr).Add(-TagSize), TagSize)))
}

// Predecessor reads the boundary tag sitting just below addr, which names the block physically
// before it. The caller must know that such a block exists.
func (b Blocks) Predecessor(addr osmem.Addr) osmem.Addr {
	return osmem.Addr(binary.LittleEndian.Uint64(b.Span(addr.Add(-TagSize), TagSize)))
}
