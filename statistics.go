package smalloc

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/vkngwrapper/smalloc/internal/layout"
	"github.com/vkngwrapper/smalloc/memutils"
	"github.com/vkngwrapper/smalloc/osmem"
	"golang.org/x/exp/slog"
)

// Statistics is a snapshot of the heap's running counters. Allocated blocks and bytes cover
// every block the heap owns, including free ones; bytes are always usable payload bytes.
type Statistics struct {
	FreeBlocks      int
	FreeBytes       int
	AllocatedBlocks int
	AllocatedBytes  int
	MetadataBytes   int

	LargeBlocks int
	LargeBytes  int
	ArenaBytes  int
}

func (s Statistics) String() string {
	return fmt.Sprintf("%d blocks holding %s (%d free holding %s), %d large blocks holding %s, %s of metadata, %s arena",
		s.AllocatedBlocks, humanize.IBytes(uint64(s.AllocatedBytes)),
		s.FreeBlocks, humanize.IBytes(uint64(s.FreeBytes)),
		s.LargeBlocks, humanize.IBytes(uint64(s.LargeBytes)),
		humanize.IBytes(uint64(s.MetadataBytes)),
		humanize.IBytes(uint64(s.ArenaBytes)),
	)
}

func (h *Heap) lazyInitialize() {
	err := h.initialize()
	if err != nil {
		h.logger.Error("Heap could not initialize the arena", slog.Any("error", err))
	}
}

// NumFreeBlocks is the number of free arena blocks, the wilderness included
func (h *Heap) NumFreeBlocks() int {
	h.lazyInitialize()
	return h.freeBlocks
}

// NumFreeBytes is the usable payload of every free arena block
func (h *Heap) NumFreeBytes() int {
	h.lazyInitialize()
	return h.freeBytes
}

// NumAllocatedBlocks is the number of blocks the heap owns, free or in use, arena or mapped
func (h *Heap) NumAllocatedBlocks() int {
	h.lazyInitialize()
	return h.allocatedBlocks
}

// NumAllocatedBytes is the usable payload of every block the heap owns
func (h *Heap) NumAllocatedBytes() int {
	h.lazyInitialize()
	return h.allocatedBytes
}

// MetadataSize is the per-block overhead: one header plus one boundary tag
func (h *Heap) MetadataSize() int {
	return layout.MetadataSize
}

// NumMetadataBytes is MetadataSize times NumAllocatedBlocks
func (h *Heap) NumMetadataBytes() int {
	h.lazyInitialize()
	return layout.MetadataSize * h.allocatedBlocks
}

// Statistics snapshots every counter at once
func (h *Heap) Statistics() Statistics {
	h.lazyInitialize()

	stats := Statistics{
		FreeBlocks:      h.freeBlocks,
		FreeBytes:       h.freeBytes,
		AllocatedBlocks: h.allocatedBlocks,
		AllocatedBytes:  h.allocatedBytes,
		MetadataBytes:   layout.MetadataSize * h.allocatedBlocks,
		LargeBlocks:     h.large.Len(),
		ArenaBytes:      h.ArenaSize(),
	}

	_ = h.large.VisitAllBlocks(func(addr osmem.Addr, size int) error {
		stats.LargeBytes += size - layout.HeaderSize
		return nil
	})

	return stats
}

// AddDetailedStatistics walks every block the heap owns and adds it to stats
func (h *Heap) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	var arena memutils.DetailedStatistics
	arena.Clear()

	_ = h.visitArena(func(addr osmem.Addr, size int, free bool) error {
		arena.AddBlock(size, size-layout.MetadataSize, free)
		return nil
	})

	stats.AddDetailedStatistics(&arena)
	h.large.AddDetailedStatistics(stats)
}

// DetailedStatistics walks every block the heap owns
func (h *Heap) DetailedStatistics() memutils.DetailedStatistics {
	var stats memutils.DetailedStatistics
	stats.Clear()
	h.AddDetailedStatistics(&stats)

	return stats
}

func (h *Heap) visitArena(handleBlock func(addr osmem.Addr, size int, free bool) error) error {
	if h.wilderness == osmem.Null {
		return nil
	}

	top := h.blocks.End(h.wilderness)
	for addr := h.base; addr < top; addr = h.blocks.End(addr) {
		err := handleBlock(addr, h.blocks.Size(addr), h.blocks.IsFree(addr))
		if err != nil {
			return err
		}
	}

	return nil
}

// VisitAllBlocks calls handleBlock for every arena block in address order, then for every
// mapped block. The payload of each block starts at layout.HeaderSize bytes past addr. The
// walk stops at the first error, which is returned.
func (h *Heap) VisitAllBlocks(handleBlock func(addr osmem.Addr, size int, free bool, mapped bool) error) error {
	err := h.visitArena(func(addr osmem.Addr, size int, free bool) error {
		return handleBlock(addr, size, free, false)
	})
	if err != nil {
		return err
	}

	return h.large.VisitAllBlocks(func(addr osmem.Addr, size int) error {
		return handleBlock(addr, size, false, true)
	})
}

// DebugLogAllAllocations calls logFunc with the payload address and usable size of every
// block currently in use
func (h *Heap) DebugLogAllAllocations(logger *slog.Logger, logFunc func(log *slog.Logger, p osmem.Addr, size int)) {
	_ = h.VisitAllBlocks(func(addr osmem.Addr, size int, free bool, mapped bool) error {
		if !free {
			logFunc(logger, layout.Payload(addr), h.blocks.Usable(addr))
		}
		return nil
	})
}
