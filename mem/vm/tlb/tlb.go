// Package tlb models per-CPU translation caches and the shootdown protocol
// that keeps them consistent with page tables.
package tlb

import (
	"sync"

	"github.com/sarchlab/smartvm/mem/vm"
	"github.com/sarchlab/smartvm/mem/vm/tlb/internal"
)

// A Translation caches the mapping of one virtual page to a frame.
type Translation = internal.Entry

// A Clock picks the slot to replace when every slot of a TLB holds a valid
// translation. It is only called in that case.
type Clock func(numSlots int) int

// A Shootdown asks CPUs to drop the translation of a page.
type Shootdown struct {
	ASID  vm.ASID
	VPage uint64
}

// TLB is the translation cache of one CPU.
//
// The embedded mutex is held by the CPU while it accesses memory through a
// translation, so an invalidation cannot complete in the middle of an access.
type TLB struct {
	sync.Mutex

	cpu int
	set internal.Set
}

// CPU returns the ID of the CPU the TLB belongs to.
func (t *TLB) CPU() int {
	return t.cpu
}

// Lookup finds the translation of vpage. Requires the lock.
func (t *TLB) Lookup(asid vm.ASID, vpage uint64) (Translation, bool) {
	_, e, found := t.set.Lookup(asid, vm.PageAlign(vpage))
	return e, found
}

// Install adds a translation. A translation of the same page is replaced in
// place. Otherwise the first invalid slot is used, and only if all slots are
// valid is clock asked for the slot to overwrite. It returns the slot used.
// Requires the lock.
func (t *TLB) Install(e Translation, clock Clock) int {
	e.VPage = vm.PageAlign(e.VPage)
	e.Valid = true

	slot, _, found := t.set.Lookup(e.ASID, e.VPage)
	if !found {
		var ok bool
		slot, ok = t.set.FirstInvalid()
		if !ok {
			n := t.set.NumSlots()
			slot = ((clock(n) % n) + n) % n
		}
	}

	t.set.Update(slot, e)

	return slot
}

// Shootdown drops the local translation matching req and returns the number
// of entries invalidated.
func (t *TLB) Shootdown(req Shootdown) int {
	t.Lock()
	defer t.Unlock()

	slot, _, found := t.set.Lookup(req.ASID, vm.PageAlign(req.VPage))
	if !found {
		return 0
	}

	t.set.Invalidate(slot)

	return 1
}

// ShootdownASID drops every local translation of an address space.
func (t *TLB) ShootdownASID(asid vm.ASID) int {
	t.Lock()
	defer t.Unlock()

	n := 0
	for i, e := range t.set.Entries() {
		if e.Valid && e.ASID == asid {
			t.set.Invalidate(i)
			n++
		}
	}

	return n
}

// ShootdownAll drops every local translation.
func (t *TLB) ShootdownAll() int {
	t.Lock()
	defer t.Unlock()

	n := 0
	for i, e := range t.set.Entries() {
		if e.Valid {
			t.set.Invalidate(i)
			n++
		}
	}

	return n
}

// Entries returns a copy of every slot.
func (t *TLB) Entries() []Translation {
	t.Lock()
	defer t.Unlock()

	return t.set.Entries()
}
