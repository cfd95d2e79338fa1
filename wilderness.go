package smalloc

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/smalloc/internal/layout"
	"github.com/vkngwrapper/smalloc/osmem"
	"golang.org/x/exp/slog"
)

// initialize records the arena base, first moving the break up to the next aligned address
// if it starts out misaligned. It does not create any blocks.
func (h *Heap) initialize() error {
	if h.initialized {
		return nil
	}

	brk := h.sys.Brk()
	if skew := int(brk % osmem.Addr(layout.Alignment)); skew != 0 {
		_, err := h.sys.Sbrk(int(layout.Alignment) - skew)
		if err != nil {
			return errors.Mark(errors.Wrap(err, "could not align the arena base"), ErrOutOfMemory)
		}
		brk = brk.Add(int(layout.Alignment) - skew)
	}

	h.base = brk
	h.initialized = true

	h.logger.Debug("Heap::initialize", slog.String("Base", h.base.String()))

	return nil
}

// ensureWilderness creates an empty, free wilderness if the arena holds no blocks yet
func (h *Heap) ensureWilderness() error {
	if h.wilderness != osmem.Null {
		return nil
	}

	addr, err := h.sys.Sbrk(layout.MetadataSize)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "could not create the wilderness"), ErrOutOfMemory)
	}

	h.blocks.Stamp(addr, layout.MetadataSize, layout.FlagFree)
	h.blocks.WriteTag(addr)
	h.wilderness = addr

	h.allocatedBlocks++
	h.freeBlocks++

	return nil
}

// growWilderness moves the break up by extra bytes and enlarges the wilderness to match. If
// the break cannot move, nothing is changed.
func (h *Heap) growWilderness(extra int) error {
	old, err := h.sys.Sbrk(extra)
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "could not grow the wilderness by %d bytes", extra), ErrOutOfMemory)
	}

	w := h.wilderness
	if h.blocks.End(w) != old {
		panic(fmt.Sprintf("the break was at %s, but the wilderness ends at %s", old, h.blocks.End(w)))
	}

	h.blocks.SetSize(w, h.blocks.Size(w)+extra)
	h.blocks.WriteTag(w)

	h.allocatedBytes += extra
	if h.blocks.IsFree(w) {
		h.freeBytes += extra
	}

	return nil
}

// pushWilderness places a new in-use block of size bytes directly above the current break,
// where it becomes the wilderness
func (h *Heap) pushWilderness(size int) (osmem.Addr, error) {
	addr, err := h.sys.Sbrk(size)
	if err != nil {
		return osmem.Null, errors.Mark(errors.Wrapf(err, "could not extend the arena by %d bytes", size), ErrOutOfMemory)
	}

	if h.wilderness != osmem.Null && h.blocks.End(h.wilderness) != addr {
		panic(fmt.Sprintf("the break was at %s, but the wilderness ends at %s", addr, h.blocks.End(h.wilderness)))
	}

	h.blocks.Stamp(addr, size, 0)
	h.blocks.WriteTag(addr)
	h.wilderness = addr

	h.allocatedBlocks++
	h.allocatedBytes += size - layout.MetadataSize

	return addr, nil
}

// allocateFromWilderness serves a request of need bytes that nothing in the free list could
// take. The wilderness is reused when free, grown when too small, and replaced by a new block
// above it when it is already in use.
func (h *Heap) allocateFromWilderness(need int) (osmem.Addr, error) {
	w := h.wilderness
	if !h.blocks.IsFree(w) {
		return h.pushWilderness(need)
	}

	if size := h.blocks.Size(w); size < need {
		err := h.growWilderness(need - size)
		if err != nil {
			return osmem.Null, err
		}
	}

	h.claimFree(w)
	if remainder := h.carve(w, need); remainder != osmem.Null {
		h.markFree(remainder)
	}

	return w, nil
}
