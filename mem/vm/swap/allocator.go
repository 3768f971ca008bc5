package swap

import (
	"github.com/google/btree"
)

// A SlotAllocator hands out page-sized slots of the swap file.
type SlotAllocator interface {
	// Allocate returns a slot number. It returns false when the swap file
	// cannot grow any further.
	Allocate() (int64, bool)

	// Free makes a slot available again.
	Free(slot int64)

	// HighWater returns the number of slots the file has grown to.
	HighWater() int64
}

// NewReclaimingAllocator returns an allocator that reuses freed slots, lowest
// first. A maxSlots of 0 lets the file grow without limit.
func NewReclaimingAllocator(maxSlots int64) SlotAllocator {
	return &reclaimingAllocator{
		free: btree.NewG(2, func(a, b int64) bool {
			return a < b
		}),
		maxSlots: maxSlots,
	}
}

type reclaimingAllocator struct {
	free     *btree.BTreeG[int64]
	next     int64
	maxSlots int64
}

func (a *reclaimingAllocator) Allocate() (int64, bool) {
	if slot, ok := a.free.DeleteMin(); ok {
		return slot, true
	}

	if a.maxSlots > 0 && a.next >= a.maxSlots {
		return 0, false
	}

	slot := a.next
	a.next++

	return slot, true
}

func (a *reclaimingAllocator) Free(slot int64) {
	a.free.ReplaceOrInsert(slot)
}

func (a *reclaimingAllocator) HighWater() int64 {
	return a.next
}

// NewGrowingAllocator returns an allocator that always appends a new slot and
// never reuses freed ones.
func NewGrowingAllocator(maxSlots int64) SlotAllocator {
	return &growingAllocator{maxSlots: maxSlots}
}

type growingAllocator struct {
	next     int64
	maxSlots int64
}

func (a *growingAllocator) Allocate() (int64, bool) {
	if a.maxSlots > 0 && a.next >= a.maxSlots {
		return 0, false
	}

	slot := a.next
	a.next++

	return slot, true
}

func (a *growingAllocator) Free(int64) {}

func (a *growingAllocator) HighWater() int64 {
	return a.next
}
