package smalloc

import (
	"github.com/dolthub/swiss"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/smalloc/internal/layout"
	"github.com/vkngwrapper/smalloc/osmem"
)

// Validate walks the arena and both lists, recomputing every counter and checking the
// structural rules the heap maintains between calls. It returns the first inconsistency found.
func (h *Heap) Validate() error {
	if !h.initialized {
		if h.allocatedBlocks != 0 || h.freeBlocks != 0 || h.wilderness != osmem.Null {
			return errors.New("the heap holds blocks but was never initialized")
		}
		return nil
	}

	brk := h.sys.Brk()
	if h.wilderness == osmem.Null && brk != h.base {
		return errors.Errorf("the arena spans %d bytes but holds no blocks", int(brk-h.base))
	}

	err := h.freeList.Validate()
	if err != nil {
		return errors.Wrap(err, "free list")
	}

	listed := swiss.NewMap[osmem.Addr, struct{}](uint32(h.freeList.Len()))
	for block := h.freeList.Front(); block != osmem.Null; block = h.freeList.Next(block) {
		if block == h.wilderness {
			return errors.Errorf("the wilderness at %s is in the free list", block)
		}
		if !h.blocks.IsFree(block) {
			return errors.Errorf("block at %s is in the free list but is not free", block)
		}
		listed.Put(block, struct{}{})
	}

	var freeBlocks, freeBytes, allocatedBlocks, allocatedBytes, listedFound int
	last := osmem.Null
	lastFree := false

	for addr := h.base; addr < brk; {
		size := h.blocks.Size(addr)
		if size < layout.MetadataSize || size%int(layout.Alignment) != 0 {
			return errors.Errorf("block at %s has an invalid size of %d", addr, size)
		}
		if addr.Add(size) > brk {
			return errors.Errorf("block at %s with size %d runs past the break at %s", addr, size, brk)
		}
		if h.blocks.Tag(addr) != addr {
			return errors.Errorf("block at %s has a boundary tag pointing to %s", addr, h.blocks.Tag(addr))
		}
		if h.blocks.IsMapped(addr) {
			return errors.Errorf("block at %s is in the arena but is marked as mapped", addr)
		}

		free := h.blocks.IsFree(addr)
		if free && lastFree {
			return errors.Errorf("free blocks at %s and %s are adjacent but were not merged", last, addr)
		}

		_, isListed := listed.Get(addr)
		if free && addr != h.wilderness && !isListed {
			return errors.Errorf("block at %s is free but is not in the free list", addr)
		}

		if isListed {
			listedFound++
		}

		allocatedBlocks++
		allocatedBytes += size - layout.MetadataSize
		if free {
			freeBlocks++
			freeBytes += size - layout.MetadataSize
		}

		last = addr
		lastFree = free
		addr = addr.Add(size)
	}

	if listedFound != h.freeList.Len() {
		return errors.Errorf("the free list holds %d blocks, but only %d of them are in the arena", h.freeList.Len(), listedFound)
	}

	if last != h.wilderness {
		return errors.Errorf("the last block in the arena is %s, but the wilderness is %s", last, h.wilderness)
	}

	if allocatedBytes+layout.MetadataSize*allocatedBlocks != int(brk-h.base) {
		return errors.Errorf("arena blocks account for %d bytes, but the arena spans %d bytes", allocatedBytes+layout.MetadataSize*allocatedBlocks, int(brk-h.base))
	}

	err = h.large.Validate()
	if err != nil {
		return err
	}

	_ = h.large.VisitAllBlocks(func(addr osmem.Addr, size int) error {
		allocatedBlocks++
		allocatedBytes += size - layout.HeaderSize
		return nil
	})

	if freeBlocks != h.freeBlocks {
		return errors.Errorf("the heap counts %d free blocks, but %d were found", h.freeBlocks, freeBlocks)
	}
	if freeBytes != h.freeBytes {
		return errors.Errorf("the heap counts %d free bytes, but %d were found", h.freeBytes, freeBytes)
	}
	if allocatedBlocks != h.allocatedBlocks {
		return errors.Errorf("the heap counts %d allocated blocks, but %d were found", h.allocatedBlocks, allocatedBlocks)
	}
	if allocatedBytes != h.allocatedBytes {
		return errors.Errorf("the heap counts %d allocated bytes, but %d were found", h.allocatedBytes, allocatedBytes)
	}

	return nil
}
