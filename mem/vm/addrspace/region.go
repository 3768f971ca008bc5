package addrspace

import (
	"fmt"

	"github.com/sarchlab/smartvm/mem/vm"
)

// Region tells which part of the address space an address belongs to.
type Region int

// Regions of an address space.
const (
	RegionNone Region = iota
	RegionStatic
	RegionHeap
	RegionStack
)

func (r Region) String() string {
	switch r {
	case RegionStatic:
		return "static"
	case RegionHeap:
		return "heap"
	case RegionStack:
		return "stack"
	default:
		return "none"
	}
}

// DefineRegion reserves the pages covering [vaddr, vaddr+size). The pages are
// readable and writable until CompleteLoad applies the given permissions.
// Nothing is reserved if any of the pages already exists.
func (as *AddressSpace) DefineRegion(
	vaddr, size uint64,
	readable, writable, executable bool,
) error {
	as.Lock()
	defer as.Unlock()

	n := vm.PagesSpanned(vaddr, size)
	if n == 0 {
		return fmt.Errorf("%w: empty region at 0x%x", vm.ErrInvalid, vaddr)
	}

	base := vm.PageAlign(vaddr)
	end := base + uint64(n)*vm.PageSize
	if end > vm.UserSpaceTop || end < base {
		return fmt.Errorf("%w: region [0x%x, 0x%x) leaves user space",
			vm.ErrInvalid, base, end)
	}

	for page := base; page < end; page += vm.PageSize {
		if as.table.lookup(page) != nil {
			return fmt.Errorf("%w: page 0x%x", vm.ErrAddressInUse, page)
		}
	}

	for page := base; page < end; page += vm.PageSize {
		as.table.insert(page, vm.NewDescriptor(vm.PermReadWrite))
	}

	as.segments.ReplaceOrInsert(Segment{
		Base:       base,
		NumPages:   n,
		Permission: vm.MakePermission(readable, writable, executable),
	})

	if end > as.heapBase {
		as.heapBase = end
		as.heapEnd = end
	}

	return nil
}

// Segments returns the declared regions in address order.
func (as *AddressSpace) Segments() []Segment {
	as.Lock()
	defer as.Unlock()

	segments := make([]Segment, 0, as.segments.Len())
	as.segments.Ascend(func(s Segment) bool {
		segments = append(segments, s)
		return true
	})

	return segments
}

// PrepareLoad marks the start of loading.
func (as *AddressSpace) PrepareLoad() error {
	as.Lock()
	defer as.Unlock()

	if as.loaded {
		return fmt.Errorf("%w: address space %d is already loaded",
			vm.ErrInvalid, as.asid)
	}

	as.loading = true

	return nil
}

// CompleteLoad gives every segment page its final permission. It returns the
// resident pages that lost write permission, whose translations may still be
// cached as writable.
func (as *AddressSpace) CompleteLoad() ([]uint64, error) {
	as.Lock()
	defer as.Unlock()

	if as.loaded {
		return nil, fmt.Errorf("%w: address space %d is already loaded",
			vm.ErrInvalid, as.asid)
	}

	var revoked []uint64

	as.segments.Ascend(func(s Segment) bool {
		for page := s.Base; page < s.End(); page += vm.PageSize {
			d := as.table.lookup(page)
			if d == nil {
				continue
			}

			if d.Resident() &&
				d.Permission.Has(vm.PermWrite) &&
				!s.Permission.Has(vm.PermWrite) {
				revoked = append(revoked, page)
			}

			d.Permission = s.Permission
		}

		return true
	})

	as.loading = false
	as.loaded = true

	return revoked, nil
}

// Loaded tells if CompleteLoad has run.
func (as *AddressSpace) Loaded() bool {
	as.Lock()
	defer as.Unlock()

	return as.loaded
}

// DefineStack enables stack growth and returns the initial stack pointer.
func (as *AddressSpace) DefineStack() uint64 {
	as.Lock()
	defer as.Unlock()

	as.stackTop = vm.UserStack

	return as.stackTop
}

// Classify tells which region vaddr belongs to. Requires the lock.
func (as *AddressSpace) Classify(vaddr uint64) Region {
	switch {
	case !vm.IsUser(vaddr):
		return RegionNone
	case as.table.lookup(vm.PageAlign(vaddr)) != nil:
		return RegionStatic
	case as.stackTop != 0 && vm.InStack(vaddr):
		return RegionStack
	case as.heapBase != 0 && vaddr >= as.heapBase && vaddr < vm.StackBase:
		return RegionHeap
	default:
		return RegionNone
	}
}

// Grow creates a read-write descriptor for a heap or stack address that has
// none yet. Heap growth moves the end of the heap. Requires the lock.
func (as *AddressSpace) Grow(vaddr uint64) (*vm.Descriptor, error) {
	region := as.Classify(vaddr)
	if region != RegionHeap && region != RegionStack {
		return nil, fmt.Errorf("%w: 0x%x is not in a growable region",
			vm.ErrFault, vaddr)
	}

	page := vm.PageAlign(vaddr)
	d := vm.NewDescriptor(vm.PermReadWrite)
	as.table.insert(page, d)

	if region == RegionHeap && page+vm.PageSize > as.heapEnd {
		as.heapEnd = page + vm.PageSize
	}

	return d, nil
}

// Sbrk moves the end of the heap by delta bytes and returns the previous end.
// Pages entirely above a lowered end are dropped. invalidate is called with
// the lock held for every resident page before its frame is freed.
func (as *AddressSpace) Sbrk(
	delta int64,
	invalidate func(vpage uint64),
) (uint64, error) {
	as.Lock()
	defer as.Unlock()

	if as.heapBase == 0 {
		return 0, fmt.Errorf("%w: address space %d has no heap",
			vm.ErrInvalid, as.asid)
	}

	old := as.heapEnd
	end := int64(old) + delta

	if end < int64(as.heapBase) {
		return 0, fmt.Errorf("%w: break 0x%x below heap base 0x%x",
			vm.ErrInvalid, end, as.heapBase)
	}

	if end > int64(vm.StackBase) {
		return 0, fmt.Errorf("%w: break 0x%x reaches the stack",
			vm.ErrNoMemory, end)
	}

	newEnd := uint64(end)
	for page := vm.PageRoundUp(newEnd); page < old; page += vm.PageSize {
		as.dropPage(page, invalidate)
	}

	as.heapEnd = newEnd

	return old, nil
}

// dropPage removes one page, waiting for any operation in flight on it.
func (as *AddressSpace) dropPage(page uint64, invalidate func(vpage uint64)) {
	for {
		d := as.table.lookup(page)
		if d == nil {
			return
		}

		if d.Residency.Has(vm.Busy) {
			as.Wait()
			continue
		}

		if d.Resident() {
			if invalidate != nil {
				invalidate(page)
			}

			if !as.frames.Release(d.Frame, as) {
				as.Wait()
				continue
			}
		}

		if d.SwapOffset != vm.NoSwapOffset {
			as.swap.Release(d.SwapOffset)
		}

		as.table.remove(page)

		return
	}
}
