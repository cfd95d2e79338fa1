package smalloc

import (
	"math"
	"math/bits"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/smalloc/internal/layout"
	"github.com/vkngwrapper/smalloc/memutils"
	"github.com/vkngwrapper/smalloc/osmem"
	"golang.org/x/exp/slog"
)

// Allocate reserves at least size bytes and returns the address of the first one. The
// returned address is 8-byte aligned. The bytes are not zeroed.
func (h *Heap) Allocate(size int) (osmem.Addr, error) {
	h.logger.Debug("Heap::Allocate", slog.Int("Size", size))

	addr, err := h.allocate(size)
	if err != nil {
		return osmem.Null, err
	}

	memutils.DebugValidate(h)
	return layout.Payload(addr), nil
}

// AllocateZeroed reserves room for count elements of size bytes each and zeroes all of them
func (h *Heap) AllocateZeroed(count int, size int) (osmem.Addr, error) {
	h.logger.Debug("Heap::AllocateZeroed", slog.Int("Count", count), slog.Int("Size", size))

	if count < 0 || size < 0 {
		return osmem.Null, errors.Wrapf(ErrInvalidSize, "cannot allocate %d elements of %d bytes", count, size)
	}

	hi, total := bits.Mul64(uint64(count), uint64(size))
	if hi != 0 || total > math.MaxInt {
		return osmem.Null, errors.Wrapf(ErrInvalidSize, "%d elements of %d bytes overflows", count, size)
	}

	addr, err := h.allocate(int(total))
	if err != nil {
		return osmem.Null, err
	}

	payload := h.blocks.Span(layout.Payload(addr), int(total))
	for i := range payload {
		payload[i] = 0
	}

	memutils.DebugValidate(h)
	return layout.Payload(addr), nil
}

func (h *Heap) checkSize(size int) error {
	if size <= 0 || size > h.maxRequestSize {
		return errors.Wrapf(ErrInvalidSize, "requested %d bytes, but requests must be between 1 and %d bytes", size, h.maxRequestSize)
	}

	return nil
}

func (h *Heap) allocate(size int) (osmem.Addr, error) {
	err := h.checkSize(size)
	if err != nil {
		return osmem.Null, err
	}

	err = h.initialize()
	if err != nil {
		return osmem.Null, err
	}

	if layout.Pad(size, false) >= h.mmapThreshold {
		return h.allocateLarge(size)
	}

	need := layout.Pad(size, true)
	err = h.ensureWilderness()
	if err != nil {
		return osmem.Null, err
	}

	candidate := h.findFreeBlock(need)
	if candidate == osmem.Null || h.prefersWilderness(candidate, need) {
		return h.allocateFromWilderness(need)
	}

	h.claimFree(candidate)
	if remainder := h.carve(candidate, need); remainder != osmem.Null {
		h.markFree(remainder)
	}

	return candidate, nil
}

// findFreeBlock is the smallest listed block of at least need bytes, or osmem.Null
func (h *Heap) findFreeBlock(need int) osmem.Addr {
	for block := h.freeList.Front(); block != osmem.Null; block = h.freeList.Next(block) {
		if h.blocks.Size(block) >= need {
			return block
		}
	}

	return osmem.Null
}

// prefersWilderness reports whether a free wilderness holding need bytes is a tighter fit
// than candidate
func (h *Heap) prefersWilderness(candidate osmem.Addr, need int) bool {
	w := h.wilderness
	if !h.blocks.IsFree(w) {
		return false
	}

	size := h.blocks.Size(w)
	return size >= need && size < h.blocks.Size(candidate)
}

func (h *Heap) allocateLarge(size int) (osmem.Addr, error) {
	return h.mapBlock(layout.Pad(size, false))
}

// mapBlock places a block of length bytes in a mapping of its own and registers it
func (h *Heap) mapBlock(length int) (osmem.Addr, error) {
	addr, err := h.sys.Mmap(length)
	if err != nil {
		return osmem.Null, errors.Mark(errors.Wrapf(err, "could not map %d bytes", length), ErrOutOfMemory)
	}

	h.blocks.Stamp(addr, length, layout.FlagMapped)
	h.large.Register(addr)

	h.allocatedBlocks++
	h.allocatedBytes += length - layout.HeaderSize

	h.logger.Debug("Heap::mapBlock", slog.String("Address", addr.String()), slog.Int("Size", length))

	return addr, nil
}
