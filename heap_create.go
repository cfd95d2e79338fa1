package smalloc

import (
	"io"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/smalloc/internal/layout"
	"github.com/vkngwrapper/smalloc/memutils"
	"github.com/vkngwrapper/smalloc/memutils/blocklist"
	"github.com/vkngwrapper/smalloc/osmem"
	"golang.org/x/exp/slog"
)

const (
	// DefaultMmapThreshold is the padded request size, in bytes, at which allocations are given
	// their own mapping when CreateOptions.MmapThreshold is left empty
	DefaultMmapThreshold int = 128 * 1024
	// DefaultMaxRequestSize is the largest request accepted when CreateOptions.MaxRequestSize
	// is left empty
	DefaultMaxRequestSize int = 100_000_000
	// DefaultSplitThreshold is the smallest usable payload a split-off remainder may have when
	// CreateOptions.SplitThreshold is left empty
	DefaultSplitThreshold int = 128
)

// CreateOptions contains optional settings when creating a Heap
type CreateOptions struct {
	// MmapThreshold is the padded request size at or above which an allocation bypasses the
	// arena and receives a dedicated mapping. It must be a multiple of 8.
	MmapThreshold int
	// MaxRequestSize is the largest number of bytes a single request may ask for
	MaxRequestSize int
	// SplitThreshold is the smallest usable payload, in bytes, that the leftover of an oversized
	// block must have before it is split off into a block of its own. Smaller leftovers stay
	// attached to the block they came from. It must be a multiple of 8.
	SplitThreshold int
}

// New creates a new Heap. The arena is not touched until the first call that needs it.
//
// logger - The logger that receives debug output and unmap failures. It may be nil.
//
// system - The source of the program break and of mappings. The heap assumes it is the only
// user of the break.
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, system osmem.System, options CreateOptions) (*Heap, error) {
	if system == nil {
		return nil, errors.New("a System must be provided")
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard))
	}

	heap := &Heap{
		logger: logger,
		sys:    system,
		blocks: layout.NewBlocks(system),

		mmapThreshold:  options.MmapThreshold,
		maxRequestSize: options.MaxRequestSize,
		splitThreshold: options.SplitThreshold,
	}

	if heap.mmapThreshold == 0 {
		heap.mmapThreshold = DefaultMmapThreshold
	}
	if heap.maxRequestSize == 0 {
		heap.maxRequestSize = DefaultMaxRequestSize
	}
	if heap.splitThreshold == 0 {
		heap.splitThreshold = DefaultSplitThreshold
	}

	err := memutils.CheckAligned(heap.mmapThreshold, layout.Alignment, "MmapThreshold")
	if err != nil {
		return nil, err
	}
	err = memutils.CheckAligned(heap.splitThreshold, layout.Alignment, "SplitThreshold")
	if err != nil {
		return nil, err
	}
	if heap.maxRequestSize < 0 || heap.mmapThreshold < 0 || heap.splitThreshold < 0 {
		return nil, errors.Newf("heap options cannot be negative: %+v", options)
	}
	if heap.mmapThreshold <= heap.splitThreshold+layout.MetadataSize {
		return nil, errors.Newf("MmapThreshold %d must be larger than a split block of %d bytes", heap.mmapThreshold, heap.splitThreshold+layout.MetadataSize)
	}

	heap.freeList = blocklist.New(heap.blocks)
	heap.large.Init(heap.blocks)

	return heap, nil
}
