// Package addrspace provides per-process virtual address spaces backed by a
// two-level page table.
package addrspace

import (
	"fmt"
	"sync"

	"github.com/google/btree"
	"github.com/sarchlab/smartvm/mem/vm"
	"github.com/sarchlab/smartvm/mem/vm/coremap"
	"github.com/sarchlab/smartvm/mem/vm/swap"
)

// A Segment is a region declared by the loader, with the permission its pages
// get once loading completes.
type Segment struct {
	Base       uint64
	NumPages   int
	Permission vm.Permission
}

// End returns the first address after the segment.
func (s Segment) End() uint64 {
	return s.Base + uint64(s.NumPages)*vm.PageSize
}

func segmentLess(a, b Segment) bool {
	return a.Base < b.Base
}

// AddressSpace is the virtual memory of one process.
//
// The embedded mutex protects the page table and every descriptor in it.
// Methods documented as requiring the lock must be called with it held.
type AddressSpace struct {
	sync.Mutex

	asid   vm.ASID
	frames *coremap.Table
	swap   *swap.Store

	table    pageTable
	segments *btree.BTreeG[Segment]
	changed  *sync.Cond

	heapBase uint64
	heapEnd  uint64
	stackTop uint64

	loading   bool
	loaded    bool
	destroyed bool
	tlbClock  int
}

// New creates an empty address space.
func New(asid vm.ASID, frames *coremap.Table, store *swap.Store) *AddressSpace {
	as := &AddressSpace{
		asid:     asid,
		frames:   frames,
		swap:     store,
		segments: btree.NewG(2, segmentLess),
	}
	as.changed = sync.NewCond(&as.Mutex)

	return as
}

// ASID returns the ID of the address space.
func (as *AddressSpace) ASID() vm.ASID {
	return as.asid
}

// UpdatePage runs fn on the descriptor of vaddr with the page table locked.
// Goroutines waiting on the address space are woken afterwards.
func (as *AddressSpace) UpdatePage(
	vaddr uint64,
	fn func(d *vm.Descriptor) error,
) error {
	as.Lock()
	defer as.Unlock()
	defer as.changed.Broadcast()

	d := as.table.lookup(vm.PageAlign(vaddr))
	if d == nil {
		return fmt.Errorf("%w: no page at 0x%x in address space %d",
			vm.ErrFault, vaddr, as.asid)
	}

	return fn(d)
}

// Lookup returns the descriptor of the page holding vaddr, or nil. Requires
// the lock.
func (as *AddressSpace) Lookup(vaddr uint64) *vm.Descriptor {
	return as.table.lookup(vm.PageAlign(vaddr))
}

// Wait releases the lock until another goroutine changes a descriptor.
// Requires the lock.
func (as *AddressSpace) Wait() {
	as.changed.Wait()
}

// Wake notifies goroutines blocked in Wait. Requires the lock.
func (as *AddressSpace) Wake() {
	as.changed.Broadcast()
}

// NextTLBSlot returns the TLB slot to overwrite in a full TLB of numSlots
// entries and advances the round-robin clock. Requires the lock.
func (as *AddressSpace) NextTLBSlot(numSlots int) int {
	slot := as.tlbClock % numSlots
	as.tlbClock = (slot + 1) % numSlots

	return slot
}

// TLBClock returns the slot the next replacement will use. Requires the lock.
func (as *AddressSpace) TLBClock() int {
	return as.tlbClock
}

// Destroyed tells if Destroy has been called. Requires the lock.
func (as *AddressSpace) Destroyed() bool {
	return as.destroyed
}

// NumPages returns the number of descriptors in the page table.
func (as *AddressSpace) NumPages() int {
	as.Lock()
	defer as.Unlock()

	return as.table.count
}

// Heap returns the base and the end of the heap.
func (as *AddressSpace) Heap() (base, end uint64) {
	as.Lock()
	defer as.Unlock()

	return as.heapBase, as.heapEnd
}

// StackTop returns the initial stack pointer, or 0 if no stack is defined.
func (as *AddressSpace) StackTop() uint64 {
	as.Lock()
	defer as.Unlock()

	return as.stackTop
}
