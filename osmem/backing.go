package osmem

// Backing selects where the bytes behind the address space come from
type Backing int

const (
	// BackingAuto uses anonymous OS mappings where the platform supports them, and the Go heap
	// everywhere else
	BackingAuto Backing = iota
	// BackingHeap backs every range with a Go byte slice
	BackingHeap
	// BackingMmap backs every range with an anonymous private OS mapping
	BackingMmap
)

func (b Backing) String() string {
	switch b {
	case BackingAuto:
		return "BackingAuto"
	case BackingHeap:
		return "BackingHeap"
	case BackingMmap:
		return "BackingMmap"
	}

	return "BackingUnknown"
}

// region is one contiguous range of backing memory
type region struct {
	base Addr
	data []byte
}

func (r *region) end() Addr {
	return r.base.Add(len(r.data))
}

func (r *region) contains(addr Addr, length int) bool {
	return addr >= r.base && addr.Add(length) <= r.end()
}

func regionLess(left, right *region) bool {
	return left.base < right.base
}
