package mmu

import (
	"fmt"

	"github.com/sarchlab/smartvm/mem/vm"
	"github.com/sarchlab/smartvm/mem/vm/addrspace"
	"github.com/sarchlab/smartvm/mem/vm/coremap"
	"github.com/sarchlab/smartvm/mem/vm/tlb"
)

// Fault resolves a page fault raised by a CPU on vaddr and installs the
// translation in that CPU's TLB. The CPU is expected to retry the access.
func (s *System) Fault(cpu int, faultType vm.FaultType, vaddr uint64) error {
	event := vm.FaultEvent{
		CPU:   cpu,
		VAddr: vaddr,
		Type:  faultType,
		Frame: vm.NoFrame,
	}

	event.Err = s.fault(cpu, faultType, vaddr, &event)

	s.counters.faults.Add(1)
	if event.Err != nil {
		s.counters.failedFaults.Add(1)
	}

	s.InvokeHook(vm.HookCtx{
		Domain: s,
		Pos:    vm.HookPosFault,
		Item:   event,
	})

	return event.Err
}

func (s *System) fault(
	cpu int,
	faultType vm.FaultType,
	vaddr uint64,
	event *vm.FaultEvent,
) error {
	switch faultType {
	case vm.FaultRead, vm.FaultWrite, vm.FaultReadOnly:
	default:
		return fmt.Errorf("%w: fault type %d", vm.ErrInvalid, faultType)
	}

	if cpu < 0 || cpu >= len(s.cpus) {
		return fmt.Errorf("%w: no CPU %d", vm.ErrInvalid, cpu)
	}

	c := s.cpus[cpu]

	as := c.Active()
	if as == nil {
		return fmt.Errorf("%w: CPU %d runs no address space", vm.ErrFault, cpu)
	}

	event.ASID = as.ASID()

	as.Lock()
	defer as.Unlock()

	d, err := s.resolve(as, faultType, vaddr, event)
	if err != nil {
		return err
	}

	s.install(c.tlb, as, vaddr, d)
	event.Frame = d.Frame

	return nil
}

// resolve makes the page holding vaddr resident. Requires the address space
// lock, which may be released while the page is filled.
func (s *System) resolve(
	as *addrspace.AddressSpace,
	faultType vm.FaultType,
	vaddr uint64,
	event *vm.FaultEvent,
) (*vm.Descriptor, error) {
	for {
		if as.Destroyed() {
			return nil, fmt.Errorf("%w: address space %d is destroyed",
				vm.ErrFault, as.ASID())
		}

		d := as.Lookup(vaddr)
		if d == nil {
			var err error

			d, err = as.Grow(vaddr)
			if err != nil {
				return nil, err
			}
		}

		if !permits(d.Permission, faultType) {
			return nil, fmt.Errorf("%w: %s access to 0x%x with permission %s",
				vm.ErrFault, faultType, vaddr, d.Permission)
		}

		if d.Residency.Has(vm.Busy) {
			as.Wait()
			continue
		}

		if d.Resident() {
			return d, nil
		}

		swapped, err := s.pageIn(as, vm.PageAlign(vaddr), d)
		event.SwapIn = swapped
		if err != nil {
			return nil, err
		}

		return d, nil
	}
}

func permits(p vm.Permission, faultType vm.FaultType) bool {
	switch faultType {
	case vm.FaultRead:
		return p.Has(vm.PermRead)
	default:
		return p.Has(vm.PermWrite)
	}
}

// pageIn backs a non-resident page with a frame, either zero-filled or read
// from swap. The descriptor is marked busy while the address space lock is
// released. Requires the address space lock.
func (s *System) pageIn(
	as *addrspace.AddressSpace,
	vpage uint64,
	d *vm.Descriptor,
) (swapped bool, err error) {
	swapped = d.Swapped()
	offset := d.SwapOffset

	d.Residency |= vm.Busy
	as.Unlock()

	frame, err := s.frames.AllocateUser()
	if err == nil && swapped {
		err = s.swap.ReadPage(offset, s.frames.FrameBytes(frame))
	}

	as.Lock()
	d.Residency &^= vm.Busy
	defer as.Wake()

	if err != nil {
		if frame.Valid() {
			s.frames.Free(frame)
		}

		return swapped, fmt.Errorf("paging in 0x%x: %w", vpage, err)
	}

	state := coremap.StateDirty
	if swapped {
		state = coremap.StateClean
	}

	d.Frame = frame
	d.Residency |= vm.InMemory
	s.frames.Assign(frame, as, vpage, state)

	if swapped {
		s.counters.swapIns.Add(1)
		s.InvokeHook(vm.HookCtx{
			Domain: s,
			Pos:    vm.HookPosSwapIn,
			Item: vm.SwapInEvent{
				Frame:      frame,
				ASID:       as.ASID(),
				VPage:      vpage,
				SwapOffset: offset,
			},
		})
	} else {
		s.counters.zeroFills.Add(1)
	}

	return swapped, nil
}

// install puts the translation of a resident page into a TLB. The entry is
// writable whenever the page is. A writable frame counts as dirty and its swap
// copy as stale; the slot is kept for the next write-out.
// Requires the address space lock.
func (s *System) install(
	t *tlb.TLB,
	as *addrspace.AddressSpace,
	vaddr uint64,
	d *vm.Descriptor,
) {
	writable := d.Permission.Has(vm.PermWrite)

	t.Lock()
	defer t.Unlock()

	t.Install(tlb.Translation{
		ASID:  as.ASID(),
		VPage: vaddr,
		Frame: d.Frame,
		Dirty: writable,
	}, as.NextTLBSlot)

	if writable {
		s.frames.MarkDirty(d.Frame)
		d.Residency &^= vm.InSwap
	}
}

// SwapIn brings the page holding vaddr back from swap without installing a
// translation. It returns the frame now holding the page.
func (s *System) SwapIn(
	as *addrspace.AddressSpace,
	vaddr uint64,
) (vm.FrameIndex, error) {
	as.Lock()
	defer as.Unlock()

	for {
		d := as.Lookup(vaddr)
		if d == nil {
			return vm.NoFrame, fmt.Errorf("%w: no page at 0x%x", vm.ErrFault, vaddr)
		}

		if d.Residency.Has(vm.Busy) {
			as.Wait()
			continue
		}

		if d.Resident() {
			return d.Frame, nil
		}

		if !d.Swapped() {
			return vm.NoFrame, fmt.Errorf("%w: page 0x%x is not in swap",
				vm.ErrInvalid, vaddr)
		}

		if _, err := s.pageIn(as, vm.PageAlign(vaddr), d); err != nil {
			return vm.NoFrame, err
		}

		return d.Frame, nil
	}
}
