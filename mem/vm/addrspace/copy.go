package addrspace

import (
	"fmt"

	"github.com/sarchlab/smartvm/mem/vm"
	"github.com/sarchlab/smartvm/mem/vm/coremap"
)

// Copy creates a new address space with the given ID holding a private copy
// of every page of as. Resident pages are copied into fresh frames. Swapped
// pages share the swap slot until either side writes it out again.
func (as *AddressSpace) Copy(asid vm.ASID) (*AddressSpace, error) {
	child := New(asid, as.frames, as.swap)

	as.Lock()
	child.heapBase = as.heapBase
	child.heapEnd = as.heapEnd
	child.stackTop = as.stackTop
	child.loading = as.loading
	child.loaded = as.loaded
	child.segments = as.segments.Clone()

	var pages []uint64
	as.table.walk(func(vaddr uint64, _ *vm.Descriptor) bool {
		pages = append(pages, vaddr)
		return true
	})
	as.Unlock()

	for _, page := range pages {
		if err := as.copyPage(child, page); err != nil {
			child.Destroy()
			return nil, err
		}
	}

	return child, nil
}

// copyPage copies one page into child. The frame is allocated without holding
// any page-table lock, since allocation may evict.
func (as *AddressSpace) copyPage(child *AddressSpace, page uint64) error {
	frame := vm.NoFrame

	for {
		as.Lock()
		d := as.table.lookup(page)

		switch {
		case d == nil:
			as.Unlock()
			as.freeUnused(frame)

			return nil
		case d.Residency.Has(vm.Busy):
			as.Wait()
			as.Unlock()

			continue
		case d.Resident() && !frame.Valid():
			as.Unlock()

			var err error
			frame, err = as.frames.AllocateUser()
			if err != nil {
				return fmt.Errorf("copying page 0x%x: %w", page, err)
			}

			continue
		}

		cd := &vm.Descriptor{
			Frame:      vm.NoFrame,
			SwapOffset: d.SwapOffset,
			Permission: d.Permission,
			Residency:  d.Residency,
		}

		if d.SwapOffset != vm.NoSwapOffset {
			as.swap.Share(d.SwapOffset)
		}

		used := false
		if d.Resident() {
			as.frames.Copy(frame, d.Frame)
			cd.Frame = frame
			used = true
		}
		as.Unlock()

		if !used {
			as.freeUnused(frame)
		}

		child.Lock()
		child.table.insert(page, cd)
		if used {
			as.frames.Assign(frame, child, page, coremap.StateDirty)
		}
		child.Unlock()

		return nil
	}
}

func (as *AddressSpace) freeUnused(frame vm.FrameIndex) {
	if frame.Valid() {
		as.frames.Free(frame)
	}
}

// Destroy frees every frame and swap slot of the address space. It waits for
// evictions of its frames that are in flight.
func (as *AddressSpace) Destroy() {
	as.Lock()
	defer as.Unlock()

	for {
		var pages []uint64
		as.table.walk(func(vaddr uint64, _ *vm.Descriptor) bool {
			pages = append(pages, vaddr)
			return true
		})

		if len(pages) == 0 {
			break
		}

		for _, page := range pages {
			as.dropPage(page, nil)
		}
	}

	as.segments.Clear(false)
	as.destroyed = true
}
