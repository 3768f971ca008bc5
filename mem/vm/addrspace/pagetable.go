package addrspace

import (
	"log"

	"github.com/sarchlab/smartvm/mem/vm"
)

type innerTable struct {
	pages [vm.NumInnerEntries]*vm.Descriptor
	used  int
}

// pageTable is a two-level sparse table. Inner tables are created on demand
// and released when their last descriptor goes away.
type pageTable struct {
	outer [vm.NumOuterEntries]*innerTable
	count int
}

func mustBeUser(vaddr uint64) {
	if !vm.IsUser(vaddr) {
		log.Panicf("address 0x%x is not a user address", vaddr)
	}
}

func (pt *pageTable) lookup(vaddr uint64) *vm.Descriptor {
	if !vm.IsUser(vaddr) {
		return nil
	}

	inner := pt.outer[vm.OuterIndex(vaddr)]
	if inner == nil {
		return nil
	}

	return inner.pages[vm.InnerIndex(vaddr)]
}

func (pt *pageTable) insert(vaddr uint64, d *vm.Descriptor) bool {
	mustBeUser(vaddr)

	oi := vm.OuterIndex(vaddr)
	inner := pt.outer[oi]
	if inner == nil {
		inner = &innerTable{}
		pt.outer[oi] = inner
	}

	ii := vm.InnerIndex(vaddr)
	if inner.pages[ii] != nil {
		return false
	}

	inner.pages[ii] = d
	inner.used++
	pt.count++

	return true
}

func (pt *pageTable) remove(vaddr uint64) {
	mustBeUser(vaddr)

	oi := vm.OuterIndex(vaddr)
	inner := pt.outer[oi]
	if inner == nil {
		return
	}

	ii := vm.InnerIndex(vaddr)
	if inner.pages[ii] == nil {
		return
	}

	inner.pages[ii] = nil
	inner.used--
	pt.count--

	if inner.used == 0 {
		pt.outer[oi] = nil
	}
}

// walk visits descriptors in ascending address order until fn returns false.
func (pt *pageTable) walk(fn func(vaddr uint64, d *vm.Descriptor) bool) {
	for oi, inner := range pt.outer {
		if inner == nil {
			continue
		}

		for ii, d := range inner.pages {
			if d == nil {
				continue
			}

			if !fn(vm.AddrOf(oi, ii), d) {
				return
			}
		}
	}
}

func (pt *pageTable) numInnerTables() int {
	n := 0
	for _, inner := range pt.outer {
		if inner != nil {
			n++
		}
	}

	return n
}
