// Package blocklist keeps blocks in a doubly linked list ordered by (size, address). The links
// live inside the blocks themselves, so the list never allocates.
package blocklist

import (
	"github.com/pkg/errors"
	"github.com/vkngwrapper/smalloc/osmem"
)

// Links is the storage the list threads itself through
type Links interface {
	Size(addr osmem.Addr) int
	Prev(addr osmem.Addr) osmem.Addr
	SetPrev(addr osmem.Addr, prev osmem.Addr)
	Next(addr osmem.Addr) osmem.Addr
	SetNext(addr osmem.Addr, next osmem.Addr)
}

type List struct {
	links Links

	count int
	head  osmem.Addr
	tail  osmem.Addr
}

func New(links Links) *List {
	return &List{links: links}
}

func (l *List) less(left, right osmem.Addr) bool {
	leftSize := l.links.Size(left)
	rightSize := l.links.Size(right)

	if leftSize != rightSize {
		return leftSize < rightSize
	}

	return left < right
}

func (l *List) Len() int {
	return l.count
}

func (l *List) IsEmpty() bool {
	return l.count == 0
}

// Front is the smallest block, or osmem.Null
func (l *List) Front() osmem.Addr {
	return l.head
}

// Back is the largest block, or osmem.Null
func (l *List) Back() osmem.Addr {
	return l.tail
}

// Next is the member following addr, or osmem.Null
func (l *List) Next(addr osmem.Addr) osmem.Addr {
	return l.links.Next(addr)
}

// Prev is the member preceding addr, or osmem.Null
func (l *List) Prev(addr osmem.Addr) osmem.Addr {
	return l.links.Prev(addr)
}

// Insert links addr into its ordered position. The block's size must not change while it is
// a member.
func (l *List) Insert(addr osmem.Addr) {
	if addr == osmem.Null {
		panic("cannot insert a null block")
	}

	l.links.SetPrev(addr, osmem.Null)
	l.links.SetNext(addr, osmem.Null)

	if l.count == 0 {
		l.head = addr
		l.tail = addr
		l.count = 1
		return
	}

	if l.less(addr, l.head) {
		l.links.SetNext(addr, l.head)
		l.links.SetPrev(l.head, addr)
		l.head = addr
		l.count++
		return
	}

	if !l.less(addr, l.tail) {
		l.links.SetPrev(addr, l.tail)
		l.links.SetNext(l.tail, addr)
		l.tail = addr
		l.count++
		return
	}

	// head < addr < tail, so there is always a member after the insertion point
	current := l.links.Next(l.head)
	for l.less(current, addr) {
		current = l.links.Next(current)
	}

	prev := l.links.Prev(current)
	l.links.SetPrev(addr, prev)
	l.links.SetNext(addr, current)
	l.links.SetNext(prev, addr)
	l.links.SetPrev(current, addr)
	l.count++
}

// Remove unlinks addr, which must be a member
func (l *List) Remove(addr osmem.Addr) {
	if l.count == 0 {
		panic("cannot remove a block from an empty list")
	}

	prev := l.links.Prev(addr)
	next := l.links.Next(addr)

	if prev != osmem.Null {
		l.links.SetNext(prev, next)
	} else {
		if l.head != addr {
			panic("block has no previous member but is not the head of the list")
		}
		l.head = next
	}

	if next != osmem.Null {
		l.links.SetPrev(next, prev)
	} else {
		if l.tail != addr {
			panic("block has no next member but is not the tail of the list")
		}
		l.tail = prev
	}

	l.links.SetPrev(addr, osmem.Null)
	l.links.SetNext(addr, osmem.Null)
	l.count--
}

// Contains reports whether addr is a member. The scan stops as soon as it passes the sizes addr
// could be stored among.
func (l *List) Contains(addr osmem.Addr) bool {
	if addr == osmem.Null {
		return false
	}

	size := l.links.Size(addr)
	for current := l.head; current != osmem.Null; current = l.links.Next(current) {
		if current == addr {
			return true
		}

		if l.links.Size(current) > size {
			break
		}
	}

	return false
}

// Validate walks the list checking order, back references and the member count
func (l *List) Validate() error {
	actualCount := 0
	prev := osmem.Null

	for current := l.head; current != osmem.Null; current = l.links.Next(current) {
		actualCount++
		if actualCount > l.count {
			return errors.Errorf("the list holds more blocks than the %d it declares", l.count)
		}

		if l.links.Prev(current) != prev {
			return errors.Errorf("block at %s lists %s as its previous block, but %s precedes it", current, l.links.Prev(current), prev)
		}

		if prev != osmem.Null && !l.less(prev, current) {
			return errors.Errorf("block at %s (size %d) is ordered after block at %s (size %d)", current, l.links.Size(current), prev, l.links.Size(prev))
		}

		prev = current
	}

	if prev != l.tail {
		return errors.Errorf("the last block in the list is %s, but the tail is %s", prev, l.tail)
	}

	if actualCount != l.count {
		return errors.Errorf("the listed number of blocks in the list (%d) does not match the actual number of blocks (%d)", l.count, actualCount)
	}

	return nil
}
