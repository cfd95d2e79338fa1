package osmem

import (
	"io"

	"github.com/cockroachdb/errors"
	"github.com/google/btree"
	"github.com/vkngwrapper/smalloc/memutils"
	"golang.org/x/exp/slog"
)

const (
	// DefaultArenaBase is the address of the first arena byte when Options.ArenaBase is left empty
	DefaultArenaBase Addr = 0x10000000
	// DefaultArenaReserve is the arena reservation used when Options.ArenaReserve is left empty
	DefaultArenaReserve int = 256 * 1024 * 1024
	// DefaultPageSize is the mapping granularity used when Options.PageSize is left empty
	DefaultPageSize int = 4096

	// mappings begin this far past the end of the arena reservation
	mapOffset      int = 1 << 32
	regionTreeSize int = 16
)

// Options contains optional settings when creating a Space. It is valid to leave every field blank.
type Options struct {
	// Backing decides where the bytes behind the arena and the mappings come from
	Backing Backing
	// ArenaBase is the address of the first arena byte. It must be page aligned.
	ArenaBase Addr
	// ArenaReserve is the most the break can ever move away from its starting point
	ArenaReserve int
	// InitialSkew moves the starting break this many bytes past ArenaBase, which can be used to
	// start the arena on a misaligned address
	InitialSkew int
	// MapLimit caps the number of bytes that may be mapped at once. 0 means no limit.
	MapLimit int
	// PageSize is the granularity of mappings. It must be a power of two.
	PageSize int
}

// Space is a System that hands out virtual addresses for an arena reserved up front plus any
// number of independent mappings. Space is not safe for concurrent use.
type Space struct {
	logger  *slog.Logger
	backing Backing

	pageSize int
	arena    *region
	brk      Addr

	mapCursor   Addr
	mapLimit    int
	mappedBytes int
	regions     *btree.BTreeG[*region]
}

var _ System = &Space{}

// NewSpace reserves the arena and prepares an empty mapping index
//
// logger - The logger that receives debug output. It may be nil.
//
// options - Optional parameters: it is valid to leave all the fields blank
func NewSpace(logger *slog.Logger, options Options) (*Space, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard))
	}

	space := &Space{
		logger:   logger,
		backing:  options.Backing,
		pageSize: options.PageSize,
		mapLimit: options.MapLimit,
		regions:  btree.NewG[*region](regionTreeSize, regionLess),
	}

	if space.backing == BackingAuto {
		space.backing = BackingHeap
		if mmapSupported {
			space.backing = BackingMmap
		}
	}
	if space.backing == BackingMmap && !mmapSupported {
		return nil, errors.Newf("%s was requested, but this platform cannot create anonymous mappings", space.backing)
	}

	if space.pageSize == 0 {
		space.pageSize = DefaultPageSize
	}
	err := memutils.CheckPow2(space.pageSize, "PageSize")
	if err != nil {
		return nil, err
	}

	arenaBase := options.ArenaBase
	if arenaBase == Null {
		arenaBase = DefaultArenaBase
	}
	if int(arenaBase)&(space.pageSize-1) != 0 {
		return nil, errors.Newf("ArenaBase %s is not aligned to the %d byte page size", arenaBase, space.pageSize)
	}

	reserve := options.ArenaReserve
	if reserve == 0 {
		reserve = DefaultArenaReserve
	}
	reserve = memutils.AlignUp(reserve, uint(space.pageSize))
	if options.InitialSkew < 0 || options.InitialSkew >= reserve {
		return nil, errors.Newf("InitialSkew %d must fall within the %d byte arena reservation", options.InitialSkew, reserve)
	}

	data, err := space.allocate(reserve)
	if err != nil {
		return nil, errors.Wrap(err, "could not reserve the arena")
	}

	space.arena = &region{base: arenaBase, data: data}
	space.brk = arenaBase.Add(options.InitialSkew)
	space.mapCursor = space.arena.end().Add(mapOffset)

	space.logger.Debug("Space::NewSpace",
		slog.String("Backing", space.backing.String()),
		slog.String("ArenaBase", arenaBase.String()),
		slog.Int("ArenaReserve", reserve),
	)

	return space, nil
}

func (s *Space) allocate(size int) ([]byte, error) {
	if s.backing == BackingMmap {
		return mapAnonymous(size)
	}

	return make([]byte, size), nil
}

func (s *Space) release(data []byte) error {
	if s.backing == BackingMmap {
		return unmapAnonymous(data)
	}

	return nil
}

// Backing reports where this Space's bytes come from
func (s *Space) Backing() Backing {
	return s.backing
}

// ArenaBase is the first address of the arena reservation
func (s *Space) ArenaBase() Addr {
	return s.arena.base
}

// ArenaLimit is the address past which the break cannot move
func (s *Space) ArenaLimit() Addr {
	return s.arena.end()
}

// MappedBytes is the number of bytes currently held by live mappings, rounded up to whole pages
func (s *Space) MappedBytes() int {
	return s.mappedBytes
}

// MappedRegions is the number of live mappings
func (s *Space) MappedRegions() int {
	return s.regions.Len()
}

func (s *Space) Brk() Addr {
	return s.brk
}

func (s *Space) Sbrk(increment int) (Addr, error) {
	old := s.brk
	if increment < 0 {
		if Addr(-increment) > old-s.arena.base {
			return Null, errors.Wrapf(ErrBadAddress, "cannot move the break %d bytes below the start of the arena", -increment)
		}
	} else if Addr(increment) > s.arena.end()-old {
		return Null, errors.Wrapf(ErrNoMemory, "extending the break by %d bytes would pass the %d byte arena reservation", increment, len(s.arena.data))
	}

	s.brk = old.Add(increment)
	return old, nil
}

func (s *Space) Mmap(length int) (Addr, error) {
	if length <= 0 {
		return Null, errors.Newf("invalid mapping length %d", length)
	}

	size := memutils.AlignUp(length, uint(s.pageSize))
	if s.mapLimit > 0 && s.mappedBytes+size > s.mapLimit {
		return Null, errors.Wrapf(ErrNoMemory, "mapping %d bytes would pass the %d byte mapping limit", size, s.mapLimit)
	}

	data, err := s.allocate(size)
	if err != nil {
		return Null, err
	}

	r := &region{base: s.mapCursor, data: data}
	// leave an unmapped page between regions so an overrun never lands in a neighbour
	s.mapCursor = r.end().Add(s.pageSize)
	s.regions.ReplaceOrInsert(r)
	s.mappedBytes += size

	s.logger.Debug("Space::Mmap", slog.String("Address", r.base.String()), slog.Int("Size", size))

	return r.base, nil
}

func (s *Space) Munmap(addr Addr, length int) error {
	r, ok := s.regions.Get(&region{base: addr})
	if !ok {
		return errors.Wrapf(ErrNotMapped, "no mapping begins at %s", addr)
	}

	if memutils.AlignUp(length, uint(s.pageSize)) != len(r.data) {
		return errors.Wrapf(ErrNotMapped, "length %d does not cover the %d byte mapping at %s", length, len(r.data), addr)
	}

	s.regions.Delete(r)
	s.mappedBytes -= len(r.data)

	s.logger.Debug("Space::Munmap", slog.String("Address", addr.String()), slog.Int("Size", len(r.data)))

	return s.release(r.data)
}

func (s *Space) Bytes(addr Addr, length int) ([]byte, error) {
	if length < 0 {
		return nil, errors.Newf("invalid length %d", length)
	}

	if addr >= s.arena.base && addr < s.arena.end() {
		if addr.Add(length) > s.brk {
			return nil, errors.Wrapf(ErrBadAddress, "range %s+%d passes the break at %s", addr, length, s.brk)
		}

		offset := int(addr - s.arena.base)
		return s.arena.data[offset : offset+length : offset+length], nil
	}

	var found *region
	s.regions.DescendLessOrEqual(&region{base: addr}, func(r *region) bool {
		found = r
		return false
	})

	if found == nil || !found.contains(addr, length) {
		return nil, errors.Wrapf(ErrBadAddress, "range %s+%d is not mapped", addr, length)
	}

	offset := int(addr - found.base)
	return found.data[offset : offset+length : offset+length], nil
}

// Close releases the arena and every live mapping. The Space must not be used afterward.
func (s *Space) Close() error {
	var err error
	s.regions.Ascend(func(r *region) bool {
		err = errors.CombineErrors(err, s.release(r.data))
		return true
	})
	s.regions.Clear(false)
	s.mappedBytes = 0

	if s.arena != nil {
		err = errors.CombineErrors(err, s.release(s.arena.data))
		s.arena.data = nil
	}

	return err
}
