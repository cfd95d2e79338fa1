package smalloc

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/smalloc/internal/layout"
	"github.com/vkngwrapper/smalloc/memutils"
	"github.com/vkngwrapper/smalloc/osmem"
	"golang.org/x/exp/slog"
)

// Reallocate resizes the allocation at p to size bytes and returns its address, which may
// differ from p. The first min(old usable size, size) bytes are preserved. Reallocating
// osmem.Null is the same as Allocate. On failure the original allocation is left untouched.
func (h *Heap) Reallocate(p osmem.Addr, size int) (osmem.Addr, error) {
	h.logger.Debug("Heap::Reallocate", slog.String("Pointer", p.String()), slog.Int("Size", size))

	if p == osmem.Null {
		return h.Allocate(size)
	}

	err := h.checkSize(size)
	if err != nil {
		return osmem.Null, err
	}

	addr, mapped, ok := h.lookup(p)
	if !ok || h.blocks.IsFree(addr) {
		return osmem.Null, errors.Wrapf(ErrInvalidPointer, "cannot reallocate %s", p)
	}

	var result osmem.Addr
	if mapped {
		result, err = h.reallocateLarge(addr, size)
	} else {
		result, err = h.reallocateArena(addr, size)
	}
	if err != nil {
		return osmem.Null, err
	}

	memutils.DebugValidate(h)
	return layout.Payload(result), nil
}

// reallocateLarge keeps a mapped block mapped: a different padded size always gets a fresh
// mapping, whatever side of the threshold it falls on
func (h *Heap) reallocateLarge(addr osmem.Addr, size int) (osmem.Addr, error) {
	length := layout.Pad(size, false)
	if length == h.blocks.Size(addr) {
		return addr, nil
	}

	moved, err := h.mapBlock(length)
	if err != nil {
		return osmem.Null, err
	}

	h.movePayload(addr, moved, size)
	h.releaseLarge(addr)
	return moved, nil
}

// relocate moves the arena allocation at addr into a fresh allocation of size bytes
func (h *Heap) relocate(addr osmem.Addr, size int) (osmem.Addr, error) {
	moved, err := h.allocate(size)
	if err != nil {
		return osmem.Null, err
	}

	h.movePayload(addr, moved, size)
	h.releaseArenaBlock(addr)
	return moved, nil
}

// movePayload copies the first min(usable size of from, size) payload bytes of from into to
func (h *Heap) movePayload(from osmem.Addr, to osmem.Addr, size int) {
	count := h.blocks.Usable(from)
	if size < count {
		count = size
	}

	copy(h.blocks.Span(layout.Payload(to), count), h.blocks.Span(layout.Payload(from), count))
}

// reallocateArena resizes an arena block, preferring in order: the block as it stands, the
// free neighbour below, the free neighbour above, both neighbours, and finally a grown
// wilderness. Only when none of those hold size bytes does the payload move somewhere new.
// Any break extension happens before blocks are merged, so a failed extension changes nothing.
func (h *Heap) reallocateArena(addr osmem.Addr, size int) (osmem.Addr, error) {
	need := layout.Pad(size, true)
	current := h.blocks.Size(addr)
	if current >= need {
		h.shrink(addr, need)
		return addr, nil
	}

	payloadBytes := h.blocks.Usable(addr)
	prev := h.freePredecessor(addr)
	prevSize := 0
	if prev != osmem.Null {
		prevSize = h.blocks.Size(prev)
	}

	if addr == h.wilderness {
		if available := prevSize + current; available < need {
			err := h.growWilderness(need - available)
			if err != nil {
				return osmem.Null, err
			}
		}

		if prev != osmem.Null {
			addr = h.absorbPredecessor(prev, addr, payloadBytes)
		}

		h.shrink(addr, need)
		return addr, nil
	}

	next := h.freeSuccessor(addr)
	nextSize := 0
	if next != osmem.Null {
		nextSize = h.blocks.Size(next)
	}

	switch {
	case prev != osmem.Null && prevSize+current >= need:
		addr = h.absorbPredecessor(prev, addr, payloadBytes)
	case next != osmem.Null && current+nextSize >= need:
		h.claimFree(next)
		h.absorb(addr, next)
	case prev != osmem.Null && next != osmem.Null && prevSize+current+nextSize >= need:
		h.claimFree(next)
		h.absorb(addr, next)
		addr = h.absorbPredecessor(prev, addr, payloadBytes)
	case next != osmem.Null && next == h.wilderness:
		err := h.growWilderness(need - (prevSize + current + h.blocks.Size(next)))
		if err != nil {
			return osmem.Null, err
		}

		h.claimFree(next)
		h.absorb(addr, next)
		if prev != osmem.Null {
			addr = h.absorbPredecessor(prev, addr, payloadBytes)
		}
	default:
		return h.relocate(addr, size)
	}

	h.shrink(addr, need)
	return addr, nil
}

// absorbPredecessor folds the in-use block at addr into the free block prev directly below
// it, moving the first payloadBytes of addr's payload down to prev's payload
func (h *Heap) absorbPredecessor(prev osmem.Addr, addr osmem.Addr, payloadBytes int) osmem.Addr {
	h.claimFree(prev)

	// addr's header may be overwritten by the move, so everything needed from it is read first
	total := h.blocks.Size(prev) + h.blocks.Size(addr)
	wasWilderness := addr == h.wilderness

	span := h.blocks.Span(layout.Payload(prev), int(addr-prev)+payloadBytes)
	copy(span, span[len(span)-payloadBytes:])

	h.blocks.SetSize(prev, total)
	h.blocks.WriteTag(prev)
	h.allocatedBlocks--
	h.allocatedBytes += layout.MetadataSize

	if wasWilderness {
		h.wilderness = prev
	}

	return prev
}

// shrink splits the excess off an in-use block when it is large enough to stand alone, and
// releases it
func (h *Heap) shrink(addr osmem.Addr, need int) {
	if remainder := h.carve(addr, need); remainder != osmem.Null {
		h.releaseArenaBlock(remainder)
	}
}
