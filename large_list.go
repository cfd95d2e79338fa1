package smalloc

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/smalloc/internal/layout"
	"github.com/vkngwrapper/smalloc/memutils"
	"github.com/vkngwrapper/smalloc/memutils/blocklist"
	"github.com/vkngwrapper/smalloc/osmem"
)

// largeBlockList tracks every block that lives in its own mapping. Membership is what makes a
// pointer outside the arena releasable.
type largeBlockList struct {
	blocks layout.Blocks
	list   *blocklist.List
}

func (l *largeBlockList) Init(blocks layout.Blocks) {
	l.blocks = blocks
	l.list = blocklist.New(blocks)
}

func (l *largeBlockList) Validate() error {
	err := l.list.Validate()
	if err != nil {
		return errors.Wrap(err, "large block registry")
	}

	for addr := l.list.Front(); addr != osmem.Null; addr = l.list.Next(addr) {
		if !l.blocks.IsMapped(addr) {
			return errors.Errorf("block at %s is in the large block registry but is not mapped", addr)
		}

		if l.blocks.IsFree(addr) {
			return errors.Errorf("block at %s is in the large block registry but is marked free", addr)
		}
	}

	return nil
}

func (l *largeBlockList) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	for addr := l.list.Front(); addr != osmem.Null; addr = l.list.Next(addr) {
		stats.AddBlock(l.blocks.Size(addr), l.blocks.Usable(addr), false)
	}
}

func (l *largeBlockList) BuildStatsString(writer *jwriter.Writer) {
	s := writer.Array()
	defer s.End()

	for addr := l.list.Front(); addr != osmem.Null; addr = l.list.Next(addr) {
		o := s.Object()
		o.Name("Address").String(addr.String())
		o.Name("Size").Int(l.blocks.Size(addr))
		o.Name("Usable").Int(l.blocks.Usable(addr))
		o.End()
	}
}

func (l *largeBlockList) VisitAllBlocks(handleBlock func(addr osmem.Addr, size int) error) error {
	for addr := l.list.Front(); addr != osmem.Null; addr = l.list.Next(addr) {
		err := handleBlock(addr, l.blocks.Size(addr))
		if err != nil {
			return err
		}
	}

	return nil
}

func (l *largeBlockList) IsEmpty() bool {
	return l.list.IsEmpty()
}

func (l *largeBlockList) Len() int {
	return l.list.Len()
}

func (l *largeBlockList) Contains(addr osmem.Addr) bool {
	return l.list.Contains(addr)
}

func (l *largeBlockList) Register(addr osmem.Addr) {
	l.list.Insert(addr)
}

func (l *largeBlockList) Unregister(addr osmem.Addr) {
	l.list.Remove(addr)
}
