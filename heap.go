package smalloc

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/smalloc/internal/layout"
	"github.com/vkngwrapper/smalloc/memutils"
	"github.com/vkngwrapper/smalloc/memutils/blocklist"
	"github.com/vkngwrapper/smalloc/osmem"
	"golang.org/x/exp/slog"
)

// Heap hands out blocks of memory from an arena below the program break, or from dedicated
// mappings for large requests. Pointers returned from a Heap are payload addresses within its
// System; use Payload to reach the bytes behind them.
//
// A Heap is not safe for concurrent use.
type Heap struct {
	logger *slog.Logger
	sys    osmem.System
	blocks layout.Blocks

	mmapThreshold  int
	maxRequestSize int
	splitThreshold int

	initialized bool
	base        osmem.Addr
	wilderness  osmem.Addr

	freeList *blocklist.List
	large    largeBlockList

	freeBlocks      int
	freeBytes       int
	allocatedBlocks int
	allocatedBytes  int
}

var _ memutils.Validatable = &Heap{}

// ArenaBase is the first address of the arena. It is osmem.Null until the arena is initialized.
func (h *Heap) ArenaBase() osmem.Addr {
	return h.base
}

// ArenaTop is the current program break
func (h *Heap) ArenaTop() osmem.Addr {
	return h.sys.Brk()
}

// ArenaSize is the number of bytes between the arena base and the break
func (h *Heap) ArenaSize() int {
	if !h.initialized {
		return 0
	}

	return int(h.sys.Brk() - h.base)
}

func (h *Heap) inArena(addr osmem.Addr) bool {
	return h.initialized && addr >= h.base && addr < h.sys.Brk()
}

// lookup maps a payload pointer to the header of the block holding it. Mapped blocks are
// verified against the registry; arena blocks are trusted once their header is addressable.
func (h *Heap) lookup(p osmem.Addr) (addr osmem.Addr, mapped bool, ok bool) {
	addr = layout.HeaderOf(p)
	if !h.blocks.Resolves(addr) {
		return osmem.Null, false, false
	}

	if h.inArena(addr) {
		return addr, false, true
	}

	if !h.blocks.IsMapped(addr) || !h.large.Contains(addr) {
		return osmem.Null, false, false
	}

	return addr, true, true
}

// UsableSize is the number of bytes the allocation at p can hold, which may exceed the size
// it was requested with
func (h *Heap) UsableSize(p osmem.Addr) (int, error) {
	addr, _, ok := h.lookup(p)
	if !ok || h.blocks.IsFree(addr) {
		return 0, errors.Wrapf(ErrInvalidPointer, "%s", p)
	}

	return h.blocks.Usable(addr), nil
}

// Payload returns the bytes of the allocation at p. The slice aliases heap memory: it is only
// valid until p is released or reallocated.
func (h *Heap) Payload(p osmem.Addr) ([]byte, error) {
	addr, _, ok := h.lookup(p)
	if !ok || h.blocks.IsFree(addr) {
		return nil, errors.Wrapf(ErrInvalidPointer, "%s", p)
	}

	return h.blocks.Span(p, h.blocks.Usable(addr)), nil
}

// claimFree takes a free arena block out of the free accounting and marks it in use
func (h *Heap) claimFree(addr osmem.Addr) {
	if addr != h.wilderness {
		h.freeList.Remove(addr)
	}

	h.blocks.SetFree(addr, false)
	h.freeBlocks--
	h.freeBytes -= h.blocks.Usable(addr)
}

// markFree releases an arena block into the free accounting. Everything but the wilderness
// joins the free list.
func (h *Heap) markFree(addr osmem.Addr) {
	h.blocks.SetFree(addr, true)
	h.freeBlocks++
	h.freeBytes += h.blocks.Usable(addr)

	if addr != h.wilderness {
		h.freeList.Insert(addr)
	}
}

// absorb folds the in-use block high into the in-use block low directly below it
func (h *Heap) absorb(low osmem.Addr, high osmem.Addr) {
	if h.blocks.End(low) != high {
		panic("cannot merge blocks that are not physically adjacent")
	}
	if h.blocks.IsFree(low) || h.blocks.IsFree(high) {
		panic("cannot merge a block that belongs to the free accounting")
	}

	h.blocks.SetSize(low, h.blocks.Size(low)+h.blocks.Size(high))
	h.blocks.WriteTag(low)
	// the stale header left inside low reads as free, so a second release of it is ignored
	h.blocks.SetFree(high, true)
	h.allocatedBlocks--
	h.allocatedBytes += layout.MetadataSize

	if high == h.wilderness {
		h.wilderness = low
	}
}

// carve shrinks the in-use block at addr to size bytes and stamps the leftover as an in-use
// block of its own, which is returned. Leftovers below the split threshold stay attached and
// osmem.Null is returned.
func (h *Heap) carve(addr osmem.Addr, size int) osmem.Addr {
	total := h.blocks.Size(addr)
	if total-size < h.splitThreshold+layout.MetadataSize {
		return osmem.Null
	}

	remainder := addr.Add(size)
	h.blocks.SetSize(addr, size)
	h.blocks.WriteTag(addr)
	h.blocks.Stamp(remainder, total-size, 0)
	h.blocks.WriteTag(remainder)

	h.allocatedBlocks++
	h.allocatedBytes -= layout.MetadataSize

	if addr == h.wilderness {
		h.wilderness = remainder
	}

	return remainder
}

// freePredecessor is the free block physically below addr, or osmem.Null
func (h *Heap) freePredecessor(addr osmem.Addr) osmem.Addr {
	if addr == h.base {
		return osmem.Null
	}

	prev := h.blocks.Predecessor(addr)
	if !h.blocks.IsFree(prev) {
		return osmem.Null
	}

	return prev
}

// freeSuccessor is the free block physically above addr, or osmem.Null
func (h *Heap) freeSuccessor(addr osmem.Addr) osmem.Addr {
	if addr == h.wilderness {
		return osmem.Null
	}

	next := h.blocks.End(addr)
	if !h.blocks.IsFree(next) {
		return osmem.Null
	}

	return next
}
