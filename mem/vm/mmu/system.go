// Package mmu ties frames, address spaces, TLBs and swap together. It
// resolves page faults, reclaims frames under memory pressure, and serves
// kernel page allocations.
package mmu

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/sarchlab/smartvm/mem/vm"
	"github.com/sarchlab/smartvm/mem/vm/addrspace"
	"github.com/sarchlab/smartvm/mem/vm/coremap"
	"github.com/sarchlab/smartvm/mem/vm/swap"
	"github.com/sarchlab/smartvm/mem/vm/tlb"
)

// Stats counts the work done by the VM system.
type Stats struct {
	Faults       uint64 `json:"faults"`
	FailedFaults uint64 `json:"failed_faults"`
	ZeroFills    uint64 `json:"zero_fills"`
	SwapIns      uint64 `json:"swap_ins"`
	Evictions    uint64 `json:"evictions"`
	WriteBacks   uint64 `json:"write_backs"`
	Shootdowns   uint64 `json:"shootdowns"`
}

type counters struct {
	faults       atomic.Uint64
	failedFaults atomic.Uint64
	zeroFills    atomic.Uint64
	swapIns      atomic.Uint64
	evictions    atomic.Uint64
	writeBacks   atomic.Uint64
	shootdowns   atomic.Uint64
}

// System is the virtual memory system of one machine.
type System struct {
	vm.HookableBase

	frames *coremap.Table
	swap   *swap.Store
	tlbs   *tlb.Domain
	cpus   []*CPU

	stride          int
	maxFaultRetries int

	cursorLock sync.Mutex
	cursor     int

	spacesLock sync.Mutex
	spaces     map[vm.ASID]*addrspace.AddressSpace
	nextASID   vm.ASID

	counters counters
}

// Frames returns the frame table.
func (s *System) Frames() *coremap.Table {
	return s.frames
}

// Swap returns the swap store.
func (s *System) Swap() *swap.Store {
	return s.swap
}

// TLBs returns the TLBs of all CPUs.
func (s *System) TLBs() *tlb.Domain {
	return s.tlbs
}

// NumCPUs returns the number of CPUs.
func (s *System) NumCPUs() int {
	return len(s.cpus)
}

// CPU returns a CPU by ID.
func (s *System) CPU(id int) *CPU {
	return s.cpus[id]
}

// Stats returns the counters of the system.
func (s *System) Stats() Stats {
	return Stats{
		Faults:       s.counters.faults.Load(),
		FailedFaults: s.counters.failedFaults.Load(),
		ZeroFills:    s.counters.zeroFills.Load(),
		SwapIns:      s.counters.swapIns.Load(),
		Evictions:    s.counters.evictions.Load(),
		WriteBacks:   s.counters.writeBacks.Load(),
		Shootdowns:   s.counters.shootdowns.Load(),
	}
}

// CreateAddressSpace creates an empty address space with a fresh ID.
func (s *System) CreateAddressSpace() *addrspace.AddressSpace {
	s.spacesLock.Lock()
	defer s.spacesLock.Unlock()

	as := addrspace.New(s.allocateASID(), s.frames, s.swap)
	s.spaces[as.ASID()] = as

	return as
}

func (s *System) allocateASID() vm.ASID {
	for {
		asid := s.nextASID
		s.nextASID++

		if s.nextASID == 0 {
			s.nextASID = 1
		}

		if _, used := s.spaces[asid]; !used {
			return asid
		}
	}
}

// CopyAddressSpace creates a private copy of an address space, as fork does.
func (s *System) CopyAddressSpace(
	old *addrspace.AddressSpace,
) (*addrspace.AddressSpace, error) {
	s.spacesLock.Lock()
	asid := s.allocateASID()
	s.spaces[asid] = nil
	s.spacesLock.Unlock()

	child, err := old.Copy(asid)

	s.spacesLock.Lock()
	defer s.spacesLock.Unlock()

	if err != nil {
		delete(s.spaces, asid)
		return nil, err
	}

	s.spaces[asid] = child

	return child, nil
}

// DestroyAddressSpace drops every cached translation of the address space and
// frees all its memory.
func (s *System) DestroyAddressSpace(as *addrspace.AddressSpace) {
	s.tlbs.BroadcastASID(as.ASID())
	as.Destroy()

	s.spacesLock.Lock()
	defer s.spacesLock.Unlock()

	delete(s.spaces, as.ASID())
}

// AddressSpace finds a live address space by ID.
func (s *System) AddressSpace(asid vm.ASID) (*addrspace.AddressSpace, bool) {
	s.spacesLock.Lock()
	defer s.spacesLock.Unlock()

	as, ok := s.spaces[asid]

	return as, ok && as != nil
}

// AddressSpaces returns the live address spaces ordered by ID.
func (s *System) AddressSpaces() []*addrspace.AddressSpace {
	s.spacesLock.Lock()
	defer s.spacesLock.Unlock()

	spaces := make([]*addrspace.AddressSpace, 0, len(s.spaces))
	for _, as := range s.spaces {
		if as != nil {
			spaces = append(spaces, as)
		}
	}

	sort.Slice(spaces, func(i, j int) bool {
		return spaces[i].ASID() < spaces[j].ASID()
	})

	return spaces
}

// CompleteLoad finishes loading an address space and removes writable
// translations of pages that became read-only.
func (s *System) CompleteLoad(as *addrspace.AddressSpace) error {
	revoked, err := as.CompleteLoad()
	if err != nil {
		return err
	}

	for _, vpage := range revoked {
		s.shootdown(as.ASID(), vpage)
	}

	return nil
}

// Sbrk moves the heap break of an address space by delta bytes and returns
// the previous break.
func (s *System) Sbrk(as *addrspace.AddressSpace, delta int64) (uint64, error) {
	return as.Sbrk(delta, func(vpage uint64) {
		s.shootdown(as.ASID(), vpage)
	})
}

func (s *System) shootdown(asid vm.ASID, vpage uint64) {
	n := s.tlbs.Broadcast(tlb.Shootdown{ASID: asid, VPage: vpage})
	s.counters.shootdowns.Add(1)

	s.InvokeHook(vm.HookCtx{
		Domain: s,
		Pos:    vm.HookPosShootdown,
		Item: vm.ShootdownEvent{
			ASID:        asid,
			VPage:       vpage,
			Invalidated: n,
		},
	})
}

// AllocPages allocates n contiguous frames for the kernel and returns their
// kernel virtual address. Running out of memory here is fatal.
func (s *System) AllocPages(n int) uint64 {
	var (
		idx vm.FrameIndex
		err error
	)

	if n == 1 {
		idx, err = s.frames.AllocateOne()
	} else {
		idx, err = s.frames.AllocateRun(n)
	}

	if err != nil {
		log.Panicf("cannot allocate %d kernel pages: %v", n, err)
	}

	return vm.PAddrToKVAddr(idx.PAddr())
}

// FreePages frees a kernel allocation made by AllocPages.
func (s *System) FreePages(kvaddr uint64) {
	idx, err := s.kernelFrame(kvaddr)
	if err != nil || kvaddr%vm.PageSize != 0 {
		log.Panicf("freeing bad kernel address 0x%x", kvaddr)
	}

	s.frames.Free(idx)
}

func (s *System) kernelFrame(kvaddr uint64) (vm.FrameIndex, error) {
	if vm.IsUser(kvaddr) {
		return vm.NoFrame, fmt.Errorf("%w: 0x%x is not a kernel address",
			vm.ErrFault, kvaddr)
	}

	idx := vm.FrameIndex(vm.KVAddrToPAddr(kvaddr) / vm.PageSize)
	if int(idx) >= s.frames.NumFrames() {
		return vm.NoFrame, fmt.Errorf("%w: 0x%x is beyond physical memory",
			vm.ErrFault, kvaddr)
	}

	return idx, nil
}
