// Package smalloc is a heap allocator built on a movable program break and anonymous mappings.
//
// Small and medium requests are carved out of a contiguous arena that only ever grows. Every
// arena block carries a header and a trailing boundary tag, so a released block can be merged
// with both physical neighbours in constant time. Free arena blocks sit in a list ordered by
// (size, address) and requests are served best-fit from it. The topmost arena block, the
// wilderness, is never listed: it is grown in place when nothing else fits.
//
// Requests whose padded size reaches the mapping threshold bypass the arena entirely and get a
// dedicated mapping, which is returned to the system as soon as it is released.
//
// A Heap is not safe for concurrent use. Callers that share one between goroutines must
// serialize every call, including the statistics accessors, which may initialize the arena.
package smalloc
