package addrspace

import (
	"github.com/sarchlab/smartvm/mem/vm"
)

// PageInfo describes one page of an address space.
type PageInfo struct {
	VAddr      uint64
	Frame      vm.FrameIndex
	SwapOffset int64
	Permission string
	Residency  string
}

// Snapshot is a consistent view of an address space.
type Snapshot struct {
	ASID        vm.ASID
	HeapBase    uint64
	HeapEnd     uint64
	StackTop    uint64
	Loaded      bool
	InnerTables int
	Segments    []Segment
	Pages       []PageInfo
}

// Walk calls fn on a copy of every descriptor in address order, until fn
// returns false.
func (as *AddressSpace) Walk(fn func(vaddr uint64, d vm.Descriptor) bool) {
	as.Lock()
	defer as.Unlock()

	as.table.walk(func(vaddr uint64, d *vm.Descriptor) bool {
		return fn(vaddr, *d)
	})
}

// Snapshot captures the state of the address space.
func (as *AddressSpace) Snapshot() Snapshot {
	segments := as.Segments()

	as.Lock()
	defer as.Unlock()

	s := Snapshot{
		ASID:        as.asid,
		HeapBase:    as.heapBase,
		HeapEnd:     as.heapEnd,
		StackTop:    as.stackTop,
		Loaded:      as.loaded,
		InnerTables: as.table.numInnerTables(),
		Segments:    segments,
	}

	as.table.walk(func(vaddr uint64, d *vm.Descriptor) bool {
		s.Pages = append(s.Pages, PageInfo{
			VAddr:      vaddr,
			Frame:      d.Frame,
			SwapOffset: d.SwapOffset,
			Permission: d.Permission.String(),
			Residency:  d.Residency.String(),
		})

		return true
	})

	return s
}
