package smalloc

import (
	"github.com/vkngwrapper/smalloc/memutils"
	"github.com/vkngwrapper/smalloc/osmem"
	"golang.org/x/exp/slog"
)

// Release returns the allocation at p to the heap. Releasing osmem.Null, an allocation that
// was already released, or a mapped-range pointer the heap never handed out does nothing.
func (h *Heap) Release(p osmem.Addr) {
	h.logger.Debug("Heap::Release", slog.String("Pointer", p.String()))

	if p == osmem.Null {
		return
	}

	addr, mapped, ok := h.lookup(p)
	if !ok {
		h.logger.Debug("Heap::Release ignored a pointer that names no live block", slog.String("Pointer", p.String()))
		return
	}

	if !mapped && h.blocks.IsFree(addr) {
		h.logger.Debug("Heap::Release ignored a block that is already free", slog.String("Pointer", p.String()))
		return
	}

	h.release(addr, mapped)
	memutils.DebugValidate(h)
}

func (h *Heap) release(addr osmem.Addr, mapped bool) {
	if mapped {
		h.releaseLarge(addr)
		return
	}

	h.releaseArenaBlock(addr)
}

// releaseArenaBlock frees an in-use arena block, merging it with a free block on either side.
// A block merged into the wilderness becomes the wilderness.
func (h *Heap) releaseArenaBlock(addr osmem.Addr) {
	if prev := h.freePredecessor(addr); prev != osmem.Null {
		h.claimFree(prev)
		h.absorb(prev, addr)
		addr = prev
	}

	if next := h.freeSuccessor(addr); next != osmem.Null {
		h.claimFree(next)
		h.absorb(addr, next)
	}

	h.markFree(addr)
}

// releaseLarge unmaps a registered block. The header is gone once the mapping is, so the block
// leaves the registry first and rejoins it if the mapping survives.
func (h *Heap) releaseLarge(addr osmem.Addr) {
	length := h.blocks.Size(addr)
	usable := h.blocks.Usable(addr)
	h.large.Unregister(addr)

	err := h.sys.Munmap(addr, length)
	if err != nil {
		h.large.Register(addr)
		h.logger.Error("Heap::Release could not unmap a large block, it stays allocated",
			slog.String("Address", addr.String()),
			slog.Int("Size", length),
			slog.Any("error", err),
		)
		return
	}

	h.allocatedBlocks--
	h.allocatedBytes -= usable
}
