package mmu

import (
	"fmt"
	"sync/atomic"

	"github.com/sarchlab/smartvm/mem/vm"
	"github.com/sarchlab/smartvm/mem/vm/addrspace"
	"github.com/sarchlab/smartvm/mem/vm/tlb"
)

// CPU is an execution context. User accesses go through its TLB and trap into
// the fault handler on a miss. Kernel addresses are direct mapped.
type CPU struct {
	id     int
	sys    *System
	tlb    *tlb.TLB
	active atomic.Pointer[addrspace.AddressSpace]
}

// ID returns the ID of the CPU.
func (c *CPU) ID() int {
	return c.id
}

// TLB returns the TLB of the CPU.
func (c *CPU) TLB() *tlb.TLB {
	return c.tlb
}

// Activate switches the CPU to an address space and flushes its TLB.
func (c *CPU) Activate(as *addrspace.AddressSpace) {
	c.active.Store(as)
	c.tlb.ShootdownAll()
}

// Deactivate leaves the CPU without an address space.
func (c *CPU) Deactivate() {
	c.active.Store(nil)
	c.tlb.ShootdownAll()
}

// Active returns the address space the CPU runs, or nil.
func (c *CPU) Active() *addrspace.AddressSpace {
	return c.active.Load()
}

// Read copies len(buf) bytes starting at vaddr into buf.
func (c *CPU) Read(vaddr uint64, buf []byte) error {
	return c.access(vaddr, buf, false)
}

// Write copies data to memory starting at vaddr.
func (c *CPU) Write(vaddr uint64, data []byte) error {
	return c.access(vaddr, data, true)
}

func (c *CPU) access(vaddr uint64, buf []byte, write bool) error {
	for len(buf) > 0 {
		offset := vaddr % vm.PageSize
		n := min(uint64(len(buf)), vm.PageSize-offset)

		var err error
		if vm.IsUser(vaddr) {
			err = c.accessUser(vaddr, buf[:n], write)
		} else {
			err = c.accessKernel(vaddr, buf[:n], write)
		}

		if err != nil {
			return err
		}

		vaddr += n
		buf = buf[n:]
	}

	return nil
}

func (c *CPU) accessKernel(vaddr uint64, buf []byte, write bool) error {
	idx, err := c.sys.kernelFrame(vaddr)
	if err != nil {
		return err
	}

	mem := c.sys.frames.FrameBytes(idx)[vaddr%vm.PageSize:]
	if write {
		copy(mem, buf)
	} else {
		copy(buf, mem)
	}

	return nil
}

func (c *CPU) accessUser(vaddr uint64, buf []byte, write bool) error {
	for i := 0; i < c.sys.maxFaultRetries; i++ {
		as := c.Active()
		if as == nil {
			return fmt.Errorf("%w: CPU %d runs no address space", vm.ErrFault, c.id)
		}

		c.tlb.Lock()
		e, found := c.tlb.Lookup(as.ASID(), vaddr)
		if found && (!write || e.Dirty) {
			mem := c.sys.frames.FrameBytes(e.Frame)[vaddr%vm.PageSize:]
			if write {
				copy(mem, buf)
			} else {
				copy(buf, mem)
			}
			c.tlb.Unlock()

			return nil
		}
		c.tlb.Unlock()

		faultType := vm.FaultRead
		switch {
		case write && found:
			faultType = vm.FaultReadOnly
		case write:
			faultType = vm.FaultWrite
		}

		if err := c.sys.Fault(c.id, faultType, vaddr); err != nil {
			return err
		}
	}

	return fmt.Errorf("%w: access to 0x%x kept faulting", vm.ErrNoMemory, vaddr)
}
