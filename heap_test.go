package smalloc_test

import (
	"os"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/smalloc"
	"github.com/vkngwrapper/smalloc/osmem"
	"golang.org/x/exp/slog"
)

const (
	maxAllocationSize = 100_000_000
	mmapThreshold     = 128 * 1024
	metadataSize      = 40
)

func alignedSize(size int) int {
	return (size + 7) &^ 7
}

func newSpace(t *testing.T, options osmem.Options) *osmem.Space {
	if options.ArenaReserve == 0 {
		options.ArenaReserve = 16 * 1024 * 1024
	}

	space, err := osmem.NewSpace(nil, options)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, space.Close()) })

	return space
}

func newHeap(t *testing.T, system osmem.System, options smalloc.CreateOptions) *smalloc.Heap {
	logger := slog.New(slog.NewTextHandler(os.Stdout))

	heap, err := smalloc.New(logger, system, options)
	require.NoError(t, err)

	return heap
}

func setup(t *testing.T) (*smalloc.Heap, *osmem.Space, osmem.Addr) {
	space := newSpace(t, osmem.Options{})
	heap := newHeap(t, space, smalloc.CreateOptions{})

	return heap, space, space.Brk()
}

func verifyBlocks(t *testing.T, heap *smalloc.Heap, allocatedBlocks, allocatedBytes, freeBlocks, freeBytes int) {
	t.Helper()

	require.Equal(t, allocatedBlocks, heap.NumAllocatedBlocks(), "allocated blocks")
	require.Equal(t, alignedSize(allocatedBytes), heap.NumAllocatedBytes(), "allocated bytes")
	require.Equal(t, freeBlocks, heap.NumFreeBlocks(), "free blocks")
	require.Equal(t, alignedSize(freeBytes), heap.NumFreeBytes(), "free bytes")
	require.Equal(t, alignedSize(heap.MetadataSize()*allocatedBlocks), heap.NumMetadataBytes(), "metadata bytes")
	require.NoError(t, heap.Validate())
}

func verifySize(t *testing.T, heap *smalloc.Heap, space *osmem.Space, base osmem.Addr) {
	t.Helper()

	require.Equal(t, heap.NumAllocatedBytes()+heap.NumMetadataBytes(), int(space.Brk()-base))
}

func verifySizeWithLargeBlocks(t *testing.T, space *osmem.Space, base osmem.Addr, diff int) {
	t.Helper()

	require.Equal(t, diff, int(space.Brk()-base))
}

func allocate(t *testing.T, heap *smalloc.Heap, size int) osmem.Addr {
	t.Helper()

	p, err := heap.Allocate(size)
	require.NoError(t, err)
	require.NotEqual(t, osmem.Null, p)

	return p
}

func TestHeapSanity(t *testing.T) {
	heap, space, base := setup(t)

	a := allocate(t, heap, 10)
	verifyBlocks(t, heap, 1, 10, 0, 0)
	verifySize(t, heap, space, base)

	heap.Release(a)
	verifyBlocks(t, heap, 1, 10, 1, 10)
	verifySize(t, heap, space, base)
}

func TestHeapCheckSize(t *testing.T) {
	heap, space, base := setup(t)

	a := allocate(t, heap, 1)
	require.Equal(t, alignedSize(1)+heap.MetadataSize(), int(space.Brk()-base))
	verifyBlocks(t, heap, 1, 1, 0, 0)
	verifySize(t, heap, space, base)

	b := allocate(t, heap, 10)
	require.Equal(t, alignedSize(24)+heap.MetadataSize()*2, int(space.Brk()-base))
	verifyBlocks(t, heap, 2, 24, 0, 0)
	verifySize(t, heap, space, base)

	heap.Release(a)
	verifyBlocks(t, heap, 2, 24, 1, 8)
	verifySize(t, heap, space, base)

	heap.Release(b)
	verifyBlocks(t, heap, 1, 24+heap.MetadataSize(), 1, 24+heap.MetadataSize())
	verifySize(t, heap, space, base)
}

func TestHeapZeroSize(t *testing.T) {
	heap, space, base := setup(t)

	p, err := heap.Allocate(0)
	require.Error(t, err)
	require.True(t, errors.Is(err, smalloc.ErrInvalidSize))
	require.Equal(t, osmem.Null, p)
	require.Equal(t, base, space.Brk())

	_, err = heap.Allocate(-5)
	require.True(t, errors.Is(err, smalloc.ErrInvalidSize))

	verifyBlocks(t, heap, 0, 0, 0, 0)
	verifySize(t, heap, space, base)
}

func TestHeapMaxSize(t *testing.T) {
	heap, space, base := setup(t)

	a := allocate(t, heap, maxAllocationSize)
	require.Equal(t, base, space.Brk())
	verifyBlocks(t, heap, 1, maxAllocationSize, 0, 0)
	verifySizeWithLargeBlocks(t, space, base, 0)

	b, err := heap.Allocate(maxAllocationSize + 1)
	require.True(t, errors.Is(err, smalloc.ErrInvalidSize))
	require.Equal(t, osmem.Null, b)
	verifyBlocks(t, heap, 1, maxAllocationSize, 0, 0)
	verifySizeWithLargeBlocks(t, space, base, 0)

	heap.Release(a)
	verifyBlocks(t, heap, 0, 0, 0, 0)
	verifySizeWithLargeBlocks(t, space, base, 0)
	require.Equal(t, 0, space.MappedRegions())
}

// freeThreeAndReuse frees three consecutive 10 byte allocations in the given order, then
// allocates three more, checking that the first lands on the merged block and the others
// extend the arena
func freeThreeAndReuse(t *testing.T, order [3]int) {
	heap, space, base := setup(t)

	blocks := [3]osmem.Addr{
		allocate(t, heap, 10),
		allocate(t, heap, 10),
		allocate(t, heap, 10),
	}
	verifyBlocks(t, heap, 3, 16*3, 0, 0)
	verifySize(t, heap, space, base)

	for _, index := range order {
		heap.Release(blocks[index])
		require.NoError(t, heap.Validate())
		verifySize(t, heap, space, base)
	}
	verifyBlocks(t, heap, 1, 16*3+metadataSize*2, 1, 16*3+metadataSize*2)

	newA := allocate(t, heap, 10)
	require.Equal(t, blocks[0], newA)
	newB := allocate(t, heap, 10)
	require.NotEqual(t, blocks[1], newB)
	newC := allocate(t, heap, 10)
	require.NotEqual(t, blocks[2], newC)

	verifyBlocks(t, heap, 3, 16*5+metadataSize*2, 0, 0)
	verifySize(t, heap, space, base)

	heap.Release(newA)
	verifyBlocks(t, heap, 3, 16*5+metadataSize*2, 1, 16*3+metadataSize*2)
	verifySize(t, heap, space, base)
	heap.Release(newB)
	verifyBlocks(t, heap, 2, 16*5+metadataSize*3, 1, 16*4+metadataSize*3)
	verifySize(t, heap, space, base)
	heap.Release(newC)
	verifyBlocks(t, heap, 1, 16*5+metadataSize*4, 1, 16*5+metadataSize*4)
	verifySize(t, heap, space, base)
}

func TestHeapFreeInOrder(t *testing.T) {
	freeThreeAndReuse(t, [3]int{0, 1, 2})
}

func TestHeapFreeMiddleFirst(t *testing.T) {
	freeThreeAndReuse(t, [3]int{1, 0, 2})
}

func TestHeapFreeTopFirst(t *testing.T) {
	freeThreeAndReuse(t, [3]int{2, 0, 1})
}

func TestHeapFreeCounters(t *testing.T) {
	heap, space, base := setup(t)

	a := allocate(t, heap, 10)
	b := allocate(t, heap, 10)
	c := allocate(t, heap, 10)

	heap.Release(a)
	verifyBlocks(t, heap, 3, 16*3, 1, 16)
	heap.Release(b)
	verifyBlocks(t, heap, 2, 16*3+metadataSize, 1, 16*2+metadataSize)
	heap.Release(c)
	verifyBlocks(t, heap, 1, 16*3+metadataSize*2, 1, 16*3+metadataSize*2)
	verifySize(t, heap, space, base)
}

// freeHoles leaves three single-block holes, refills them exactly, then frees all five
// blocks in an order that exercises every merge direction
func freeHoles(t *testing.T, holes [3]int) {
	heap, space, base := setup(t)

	var blocks [5]osmem.Addr
	for i := range blocks {
		blocks[i] = allocate(t, heap, 10)
	}
	verifyBlocks(t, heap, 5, 16*5, 0, 0)
	verifySize(t, heap, space, base)

	for i, index := range holes {
		heap.Release(blocks[index])
		verifyBlocks(t, heap, 5, 16*5, i+1, 16*(i+1))
		verifySize(t, heap, space, base)
	}

	require.Equal(t, blocks[0], allocate(t, heap, 10))
	require.Equal(t, blocks[2], allocate(t, heap, 10))
	require.Equal(t, blocks[4], allocate(t, heap, 10))
	verifyBlocks(t, heap, 5, 16*5, 0, 0)
	verifySize(t, heap, space, base)

	heap.Release(blocks[0])
	verifyBlocks(t, heap, 5, 16*5, 1, 16)
	verifySize(t, heap, space, base)
	heap.Release(blocks[1])
	verifyBlocks(t, heap, 4, 16*5+metadataSize, 1, 16*2+metadataSize)
	verifySize(t, heap, space, base)
	heap.Release(blocks[2])
	verifyBlocks(t, heap, 3, 16*5+metadataSize*2, 1, 16*3+metadataSize*2)
	verifySize(t, heap, space, base)
	heap.Release(blocks[3])
	verifyBlocks(t, heap, 2, 16*5+metadataSize*3, 1, 16*4+metadataSize*3)
	verifySize(t, heap, space, base)
	heap.Release(blocks[4])
	verifyBlocks(t, heap, 1, 16*5+metadataSize*4, 1, 16*5+metadataSize*4)
	verifySize(t, heap, space, base)
}

func TestHeapFreeHolesBottomFirst(t *testing.T) {
	freeHoles(t, [3]int{0, 2, 4})
}

func TestHeapFreeHolesMiddleFirst(t *testing.T) {
	freeHoles(t, [3]int{2, 0, 4})
}

func TestHeapFreeHolesTopFirst(t *testing.T) {
	freeHoles(t, [3]int{4, 0, 2})
}

func TestHeapWildernessAvailable(t *testing.T) {
	heap, space, base := setup(t)

	wilderness := allocate(t, heap, 16)
	verifyBlocks(t, heap, 1, 16, 0, 0)
	verifySize(t, heap, space, base)

	heap.Release(wilderness)
	verifyBlocks(t, heap, 1, 16, 1, 16)
	verifySize(t, heap, space, base)

	bigger1 := allocate(t, heap, 32)
	require.Equal(t, wilderness, bigger1)
	verifyBlocks(t, heap, 1, 32, 0, 0)
	verifySize(t, heap, space, base)

	heap.Release(bigger1)
	verifyBlocks(t, heap, 1, 32, 1, 32)
	verifySize(t, heap, space, base)

	bigger2 := allocate(t, heap, 104)
	require.Equal(t, wilderness, bigger2)
	verifyBlocks(t, heap, 1, 104, 0, 0)
	verifySize(t, heap, space, base)

	heap.Release(bigger2)
	verifyBlocks(t, heap, 1, 104, 1, 104)
	verifySize(t, heap, space, base)
}

func TestHeapWildernessAvailablePad(t *testing.T) {
	heap, space, base := setup(t)

	pad := allocate(t, heap, 16)
	verifyBlocks(t, heap, 1, 16, 0, 0)
	verifySize(t, heap, space, base)

	wilderness := allocate(t, heap, 16)
	verifyBlocks(t, heap, 2, 32, 0, 0)
	verifySize(t, heap, space, base)

	heap.Release(wilderness)
	verifyBlocks(t, heap, 2, 32, 1, 16)
	verifySize(t, heap, space, base)

	bigger1 := allocate(t, heap, 32)
	require.Equal(t, wilderness, bigger1)
	verifyBlocks(t, heap, 2, 48, 0, 0)
	verifySize(t, heap, space, base)

	heap.Release(bigger1)
	verifyBlocks(t, heap, 2, 48, 1, 32)
	verifySize(t, heap, space, base)

	bigger2 := allocate(t, heap, 104)
	require.Equal(t, wilderness, bigger2)
	verifyBlocks(t, heap, 2, 120, 0, 0)
	verifySize(t, heap, space, base)

	heap.Release(bigger2)
	verifyBlocks(t, heap, 2, 120, 1, 104)
	verifySize(t, heap, space, base)

	heap.Release(pad)
	verifyBlocks(t, heap, 1, 120+metadataSize, 1, 120+metadataSize)
	verifySize(t, heap, space, base)
}

func TestHeapSplitsLargeFreeBlocks(t *testing.T) {
	heap, space, base := setup(t)

	big := allocate(t, heap, 1000)
	guard := allocate(t, heap, 10)
	heap.Release(big)
	verifyBlocks(t, heap, 2, 1000+16, 1, 1000)

	// 1000 usable bytes split into 16 used, 40 metadata, and a 944 byte free remainder
	small := allocate(t, heap, 10)
	require.Equal(t, big, small)
	verifyBlocks(t, heap, 3, 1000+16-metadataSize, 1, 1000-16-metadataSize)
	verifySize(t, heap, space, base)

	heap.Release(small)
	verifyBlocks(t, heap, 2, 1000+16, 1, 1000)
	verifySize(t, heap, space, base)

	heap.Release(guard)
	verifyBlocks(t, heap, 1, 1000+16+metadataSize, 1, 1000+16+metadataSize)
}

func TestHeapDoesNotSplitBelowThreshold(t *testing.T) {
	heap, _, _ := setup(t)

	// a 160 byte block leaves 104 bytes after a 56 byte request, which is 64 usable bytes
	hole := allocate(t, heap, 120)
	guard := allocate(t, heap, 10)
	heap.Release(hole)

	reused := allocate(t, heap, 10)
	require.Equal(t, hole, reused)
	verifyBlocks(t, heap, 2, 120+16, 0, 0)

	usable, err := heap.UsableSize(reused)
	require.NoError(t, err)
	require.Equal(t, 120, usable)

	heap.Release(guard)
	heap.Release(reused)
	require.NoError(t, heap.Validate())
}

func TestHeapSplitsWilderness(t *testing.T) {
	heap, space, base := setup(t)

	a := allocate(t, heap, 1000)
	heap.Release(a)

	b := allocate(t, heap, 100)
	require.Equal(t, a, b)
	// the remainder becomes the new free wilderness rather than a free list entry
	verifyBlocks(t, heap, 2, 1000-metadataSize, 1, 1000-104-metadataSize)
	verifySize(t, heap, space, base)

	c := allocate(t, heap, 200)
	require.Equal(t, b+osmem.Addr(104+metadataSize), c)
	verifySize(t, heap, space, base)
}

func TestHeapBestFit(t *testing.T) {
	heap, _, _ := setup(t)

	large := allocate(t, heap, 400)
	allocate(t, heap, 10)
	medium := allocate(t, heap, 200)
	allocate(t, heap, 10)
	small := allocate(t, heap, 100)
	allocate(t, heap, 10)

	heap.Release(large)
	heap.Release(medium)
	heap.Release(small)
	require.NoError(t, heap.Validate())

	require.Equal(t, small, allocate(t, heap, 90))
	require.Equal(t, medium, allocate(t, heap, 150))
	require.Equal(t, large, allocate(t, heap, 300))
	require.NoError(t, heap.Validate())
}

func TestHeapPrefersSmallerWilderness(t *testing.T) {
	heap, _, _ := setup(t)

	hole := allocate(t, heap, 400)
	allocate(t, heap, 10)
	top := allocate(t, heap, 50)

	heap.Release(hole)
	heap.Release(top)

	// both the 400 byte hole and the 56 byte wilderness can hold 40 bytes; the wilderness is tighter
	require.Equal(t, top, allocate(t, heap, 40))
	require.NoError(t, heap.Validate())

	// with the wilderness in use the hole is the only candidate
	require.Equal(t, hole, allocate(t, heap, 40))
	require.NoError(t, heap.Validate())
}

func TestHeapPrefersFittingBlockOverSmallWilderness(t *testing.T) {
	heap, space, _ := setup(t)

	hole := allocate(t, heap, 400)
	allocate(t, heap, 10)
	top := allocate(t, heap, 50)

	heap.Release(hole)
	heap.Release(top)
	brk := space.Brk()

	// the 56 byte wilderness is smaller than the hole but cannot hold 200 bytes without growing
	require.Equal(t, hole, allocate(t, heap, 200))
	require.Equal(t, brk, space.Brk())
	verifyBlocks(t, heap, 4, 400+16+56-metadataSize, 2, 400-200-metadataSize+56)
}

func TestHeapGrowsFreeWilderness(t *testing.T) {
	heap, space, base := setup(t)

	a := allocate(t, heap, 10)
	b := allocate(t, heap, 16)
	heap.Release(b)

	c := allocate(t, heap, 500)
	require.Equal(t, b, c)
	verifyBlocks(t, heap, 2, 16+504, 0, 0)
	verifySize(t, heap, space, base)

	heap.Release(a)
	heap.Release(c)
	verifyBlocks(t, heap, 1, 16+504+metadataSize, 1, 16+504+metadataSize)
}

func TestHeapAlignment(t *testing.T) {
	heap, space, base := setup(t)

	require.Equal(t, 0, heap.MetadataSize()%8)
	require.Equal(t, 0, heap.NumAllocatedBytes()%8)
	require.Equal(t, 0, heap.NumFreeBytes()%8)

	a := allocate(t, heap, 10)
	require.Equal(t, 0, int(a%8))
	verifyBlocks(t, heap, 1, 16, 0, 0)
	verifySize(t, heap, space, base)

	b := allocate(t, heap, 10)
	require.Equal(t, 0, int(b%8))
	verifyBlocks(t, heap, 2, 32, 0, 0)
	verifySize(t, heap, space, base)

	heap.Release(a)
	verifyBlocks(t, heap, 2, 32, 1, 16)
	verifySize(t, heap, space, base)

	heap.Release(b)
	verifyBlocks(t, heap, 1, 32+metadataSize, 1, 32+metadataSize)
	verifySize(t, heap, space, base)
}

func TestHeapAlignmentUnalignedBase(t *testing.T) {
	space := newSpace(t, osmem.Options{InitialSkew: 3})
	heap := newHeap(t, space, smalloc.CreateOptions{})

	base := space.Brk()
	require.NotEqual(t, 0, int(base%8))
	alignedBase := base + 5

	require.Equal(t, 0, heap.NumAllocatedBytes()%8)
	require.Equal(t, 0, heap.NumFreeBytes()%8)
	require.Equal(t, alignedBase, heap.ArenaBase())

	a := allocate(t, heap, 10)
	require.Equal(t, 0, int(a%8))
	verifyBlocks(t, heap, 1, 16, 0, 0)
	verifySize(t, heap, space, alignedBase)

	b := allocate(t, heap, 10)
	require.Equal(t, 0, int(b%8))
	verifyBlocks(t, heap, 2, 32, 0, 0)
	verifySize(t, heap, space, alignedBase)

	heap.Release(a)
	verifyBlocks(t, heap, 2, 32, 1, 16)
	verifySize(t, heap, space, alignedBase)

	heap.Release(b)
	verifyBlocks(t, heap, 1, 32+metadataSize, 1, 32+metadataSize)
	verifySize(t, heap, space, alignedBase)
}

func TestHeapReleaseIgnoresNullAndDoubleRelease(t *testing.T) {
	heap, space, base := setup(t)

	heap.Release(osmem.Null)
	verifyBlocks(t, heap, 0, 0, 0, 0)

	a := allocate(t, heap, 10)
	b := allocate(t, heap, 10)
	heap.Release(a)
	heap.Release(a)
	verifyBlocks(t, heap, 2, 32, 1, 16)
	verifySize(t, heap, space, base)

	heap.Release(b)
	heap.Release(b)
	verifyBlocks(t, heap, 1, 32+metadataSize, 1, 32+metadataSize)

	// a pointer past the break resolves to no block at all
	heap.Release(space.Brk() + 64)
	verifyBlocks(t, heap, 1, 32+metadataSize, 1, 32+metadataSize)
}

func TestHeapAllocateZeroed(t *testing.T) {
	heap, _, _ := setup(t)

	dirty := allocate(t, heap, 256)
	payload, err := heap.Payload(dirty)
	require.NoError(t, err)
	for i := range payload {
		payload[i] = 0xCD
	}
	guard := allocate(t, heap, 10)
	heap.Release(dirty)

	p, err := heap.AllocateZeroed(16, 16)
	require.NoError(t, err)
	require.Equal(t, dirty, p)

	payload, err = heap.Payload(p)
	require.NoError(t, err)
	for i := 0; i < 256; i++ {
		require.Equal(t, byte(0), payload[i])
	}

	_, err = heap.AllocateZeroed(0, 16)
	require.True(t, errors.Is(err, smalloc.ErrInvalidSize))
	_, err = heap.AllocateZeroed(-1, 16)
	require.True(t, errors.Is(err, smalloc.ErrInvalidSize))
	_, err = heap.AllocateZeroed(1<<40, 1<<40)
	require.True(t, errors.Is(err, smalloc.ErrInvalidSize))
	_, err = heap.AllocateZeroed(maxAllocationSize, 2)
	require.True(t, errors.Is(err, smalloc.ErrInvalidSize))

	heap.Release(guard)
	heap.Release(p)
	require.NoError(t, heap.Validate())
}

func TestHeapPayloadAndUsableSize(t *testing.T) {
	heap, _, _ := setup(t)

	p := allocate(t, heap, 20)
	usable, err := heap.UsableSize(p)
	require.NoError(t, err)
	require.Equal(t, 24, usable)

	payload, err := heap.Payload(p)
	require.NoError(t, err)
	require.Len(t, payload, 24)

	heap.Release(p)

	_, err = heap.Payload(p)
	require.True(t, errors.Is(err, smalloc.ErrInvalidPointer))
	_, err = heap.UsableSize(p)
	require.True(t, errors.Is(err, smalloc.ErrInvalidPointer))
	_, err = heap.UsableSize(osmem.Null)
	require.True(t, errors.Is(err, smalloc.ErrInvalidPointer))
}

func TestHeapStatisticsBeforeFirstAllocation(t *testing.T) {
	space := newSpace(t, osmem.Options{InitialSkew: 4})
	heap := newHeap(t, space, smalloc.CreateOptions{})

	require.Equal(t, osmem.Null, heap.ArenaBase())
	require.Equal(t, 0, heap.NumAllocatedBlocks())
	// reading a counter initializes the arena, which aligns the break
	require.Equal(t, space.ArenaBase()+8, heap.ArenaBase())
	require.Equal(t, 0, heap.ArenaSize())
	require.NoError(t, heap.Validate())
}

func TestNewRejectsBadOptions(t *testing.T) {
	space := newSpace(t, osmem.Options{})

	_, err := smalloc.New(nil, nil, smalloc.CreateOptions{})
	require.Error(t, err)

	_, err = smalloc.New(nil, space, smalloc.CreateOptions{MmapThreshold: 1001})
	require.Error(t, err)

	_, err = smalloc.New(nil, space, smalloc.CreateOptions{SplitThreshold: 12})
	require.Error(t, err)

	_, err = smalloc.New(nil, space, smalloc.CreateOptions{MmapThreshold: 128, SplitThreshold: 128})
	require.Error(t, err)

	heap, err := smalloc.New(nil, space, smalloc.CreateOptions{MmapThreshold: 4096, SplitThreshold: 64, MaxRequestSize: 1 << 20})
	require.NoError(t, err)

	_, err = heap.Allocate(1<<20 + 1)
	require.True(t, errors.Is(err, smalloc.ErrInvalidSize))
}
