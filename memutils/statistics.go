package memutils

import (
	"fmt"
	"math"

	"github.com/dustin/go-humanize"
)

// Statistics summarizes a set of blocks. A block is counted whether or not it is in use;
// allocations are the subset of blocks currently handed out to a caller.
type Statistics struct {
	BlockCount      int
	AllocationCount int
	BlockBytes      int
	AllocationBytes int
}

func (s *Statistics) Clear() {
	*s = Statistics{}
}

func (s Statistics) String() string {
	return fmt.Sprintf("%d blocks (%s), %d allocations (%s)",
		s.BlockCount, humanize.IBytes(uint64(s.BlockBytes)),
		s.AllocationCount, humanize.IBytes(uint64(s.AllocationBytes)))
}

// DetailedStatistics adds size extremes to Statistics. Unused ranges are free blocks, measured
// by their usable payload. The minimums are math.MaxInt while nothing has been counted.
type DetailedStatistics struct {
	Statistics
	UnusedRangeCount   int
	AllocationSizeMin  int
	AllocationSizeMax  int
	UnusedRangeSizeMin int
	UnusedRangeSizeMax int
}

func (s *DetailedStatistics) Clear() {
	*s = DetailedStatistics{
		AllocationSizeMin:  math.MaxInt,
		UnusedRangeSizeMin: math.MaxInt,
	}
}

// AddBlock counts a block of blockSize total bytes, of which usable bytes are payload. Free
// blocks are recorded as unused ranges, the rest as allocations.
func (s *DetailedStatistics) AddBlock(blockSize int, usable int, free bool) {
	s.BlockCount++
	s.BlockBytes += blockSize

	if free {
		s.UnusedRangeCount++
		s.UnusedRangeSizeMin = min(s.UnusedRangeSizeMin, usable)
		s.UnusedRangeSizeMax = max(s.UnusedRangeSizeMax, usable)
		return
	}

	s.AllocationCount++
	s.AllocationBytes += usable
	s.AllocationSizeMin = min(s.AllocationSizeMin, usable)
	s.AllocationSizeMax = max(s.AllocationSizeMax, usable)
}

// AddDetailedStatistics folds other into s
func (s *DetailedStatistics) AddDetailedStatistics(other *DetailedStatistics) {
	s.BlockCount += other.BlockCount
	s.BlockBytes += other.BlockBytes
	s.AllocationCount += other.AllocationCount
	s.AllocationBytes += other.AllocationBytes
	s.UnusedRangeCount += other.UnusedRangeCount

	s.AllocationSizeMin = min(s.AllocationSizeMin, other.AllocationSizeMin)
	s.AllocationSizeMax = max(s.AllocationSizeMax, other.AllocationSizeMax)
	s.UnusedRangeSizeMin = min(s.UnusedRangeSizeMin, other.UnusedRangeSizeMin)
	s.UnusedRangeSizeMax = max(s.UnusedRangeSizeMax, other.UnusedRangeSizeMax)
}

func min(left, right int) int {
	if left < right {
		return left
	}
	return right
}

func max(left, right int) int {
	if left > right {
		return left
	}
	return right
}
