// Package internal provides the storage of a TLB.
package internal

import (
	"github.com/sarchlab/smartvm/mem/vm"
)

// An Entry caches the translation of one virtual page.
type Entry struct {
	ASID  vm.ASID
	VPage uint64
	Frame vm.FrameIndex
	Dirty bool
	Valid bool
}

type key struct {
	asid  vm.ASID
	vpage uint64
}

// A Set is a fully associative group of TLB entries.
type Set interface {
	Lookup(asid vm.ASID, vpage uint64) (slot int, entry Entry, found bool)
	Update(slot int, entry Entry)
	FirstInvalid() (slot int, ok bool)
	Invalidate(slot int)
	Entries() []Entry
	NumSlots() int
}

// NewSet creates a set with the given number of slots, all invalid.
func NewSet(numSlots int) Set {
	return &setImpl{
		entries: make([]Entry, numSlots),
		index:   make(map[key]int),
	}
}

type setImpl struct {
	entries []Entry
	index   map[key]int
}

func (s *setImpl) Lookup(
	asid vm.ASID,
	vpage uint64,
) (slot int, entry Entry, found bool) {
	slot, found = s.index[key{asid, vpage}]
	if !found {
		return -1, Entry{}, false
	}

	return slot, s.entries[slot], true
}

func (s *setImpl) Update(slot int, entry Entry) {
	s.Invalidate(slot)

	if !entry.Valid {
		return
	}

	if old, found := s.index[key{entry.ASID, entry.VPage}]; found {
		s.Invalidate(old)
	}

	s.entries[slot] = entry
	s.index[key{entry.ASID, entry.VPage}] = slot
}

func (s *setImpl) FirstInvalid() (slot int, ok bool) {
	for i := range s.entries {
		if !s.entries[i].Valid {
			return i, true
		}
	}

	return -1, false
}

func (s *setImpl) Invalidate(slot int) {
	e := &s.entries[slot]
	if !e.Valid {
		return
	}

	delete(s.index, key{e.ASID, e.VPage})
	*e = Entry{}
}

func (s *setImpl) Entries() []Entry {
	entries := make([]Entry, len(s.entries))
	copy(entries, s.entries)

	return entries
}

func (s *setImpl) NumSlots() int {
	return len(s.entries)
}
