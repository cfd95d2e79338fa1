package smalloc

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/smalloc/internal/layout"
	"github.com/vkngwrapper/smalloc/memutils"
	"github.com/vkngwrapper/smalloc/osmem"
)

func printStatistics(json *jwriter.ObjectState, stats *memutils.DetailedStatistics) {
	json.Name("BlockCount").Int(stats.BlockCount)
	json.Name("BlockBytes").Int(stats.BlockBytes)
	json.Name("AllocationCount").Int(stats.AllocationCount)
	json.Name("AllocationBytes").Int(stats.AllocationBytes)
	json.Name("UnusedRangeCount").Int(stats.UnusedRangeCount)

	if stats.AllocationCount > 0 {
		json.Name("AllocationSizeMin").Int(stats.AllocationSizeMin)
		json.Name("AllocationSizeMax").Int(stats.AllocationSizeMax)
	}

	if stats.UnusedRangeCount > 0 {
		json.Name("UnusedRangeSizeMin").Int(stats.UnusedRangeSizeMin)
		json.Name("UnusedRangeSizeMax").Int(stats.UnusedRangeSizeMax)
	}
}

// BuildStatsString renders the heap's statistics as JSON. A detailed string also lists every
// arena block and every mapped block.
func (h *Heap) BuildStatsString(detailed bool) string {
	writer := jwriter.NewWriter()
	obj := writer.Object()

	stats := h.DetailedStatistics()
	total := obj.Name("Total").Object()
	printStatistics(&total, &stats)
	total.End()

	counters := h.Statistics()
	counterObj := obj.Name("Counters").Object()
	counterObj.Name("FreeBlocks").Int(counters.FreeBlocks)
	counterObj.Name("FreeBytes").Int(counters.FreeBytes)
	counterObj.Name("AllocatedBlocks").Int(counters.AllocatedBlocks)
	counterObj.Name("AllocatedBytes").Int(counters.AllocatedBytes)
	counterObj.Name("MetadataBytes").Int(counters.MetadataBytes)
	counterObj.End()

	if detailed {
		h.printDetailedArena(&obj)
		h.large.BuildStatsString(obj.Name("Large"))
	}

	obj.End()
	return string(writer.Bytes())
}

func (h *Heap) printDetailedArena(json *jwriter.ObjectState) {
	arena := json.Name("Arena").Object()
	defer arena.End()

	arena.Name("Base").String(h.base.String())
	arena.Name("Break").String(h.sys.Brk().String())
	arena.Name("Wilderness").String(h.wilderness.String())
	arena.Name("FreeListLength").Int(h.freeList.Len())

	blocks := arena.Name("Blocks").Array()
	defer blocks.End()

	_ = h.visitArena(func(addr osmem.Addr, size int, free bool) error {
		block := blocks.Object()
		defer block.End()

		block.Name("Offset").Int(int(addr - h.base))
		block.Name("Size").Int(size)
		block.Name("Usable").Int(size - layout.MetadataSize)
		if free {
			block.Name("Type").String("Free")
		} else {
			block.Name("Type").String("Used")
		}

		return nil
	})
}
