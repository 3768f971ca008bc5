package mmu

import (
	"log"

	"github.com/sarchlab/smartvm/mem/vm"
	"github.com/sarchlab/smartvm/mem/vm/addrspace"
	"github.com/sarchlab/smartvm/mem/vm/coremap"
	"github.com/sarchlab/smartvm/mem/vm/swap"
	"github.com/sarchlab/smartvm/mem/vm/tlb"
)

// A Builder can build VM systems.
type Builder struct {
	numFrames       int
	reservedFrames  int
	numCPUs         int
	numTLBEntries   int
	victimStride    int
	maxFaultRetries int
	swapStore       *swap.Store
	hooks           []vm.Hook
}

// MakeBuilder creates a builder for a single-CPU machine with 1 MiB of memory.
func MakeBuilder() Builder {
	return Builder{
		numFrames:       256,
		numCPUs:         1,
		numTLBEntries:   vm.NumTLBEntries,
		victimStride:    1,
		maxFaultRetries: 16,
	}
}

// WithNumFrames sets the number of physical frames.
func (b Builder) WithNumFrames(n int) Builder {
	b.numFrames = n
	return b
}

// WithReservedFrames sets how many low frames are taken by the kernel image
// before the VM system starts.
func (b Builder) WithReservedFrames(n int) Builder {
	b.reservedFrames = n
	return b
}

// WithNumCPUs sets the number of CPUs.
func (b Builder) WithNumCPUs(n int) Builder {
	b.numCPUs = n
	return b
}

// WithNumTLBEntries sets the number of entries in each CPU's TLB.
func (b Builder) WithNumTLBEntries(n int) Builder {
	b.numTLBEntries = n
	return b
}

// WithVictimStride sets how far the victim cursor moves past each victim.
func (b Builder) WithVictimStride(n int) Builder {
	b.victimStride = n
	return b
}

// WithMaxFaultRetries sets how many times a CPU retries an access that keeps
// faulting before giving up.
func (b Builder) WithMaxFaultRetries(n int) Builder {
	b.maxFaultRetries = n
	return b
}

// WithSwapStore sets the swap store. A store in the temporary directory is
// used if none is given.
func (b Builder) WithSwapStore(s *swap.Store) Builder {
	b.swapStore = s
	return b
}

// WithHook registers a hook on the system.
func (b Builder) WithHook(h vm.Hook) Builder {
	b.hooks = append(append([]vm.Hook(nil), b.hooks...), h)
	return b
}

// Build creates the VM system.
func (b Builder) Build() *System {
	if b.victimStride <= 0 {
		log.Panicf("victim stride must be positive, got %d", b.victimStride)
	}

	if b.maxFaultRetries <= 0 {
		log.Panicf("fault retries must be positive, got %d", b.maxFaultRetries)
	}

	s := &System{
		swap:            b.swapStore,
		stride:          b.victimStride,
		maxFaultRetries: b.maxFaultRetries,
		spaces:          make(map[vm.ASID]*addrspace.AddressSpace),
		nextASID:        1,
	}

	if s.swap == nil {
		s.swap = swap.MakeBuilder().Build()
	}

	s.frames = coremap.MakeBuilder().
		WithNumFrames(b.numFrames).
		WithReservedFrames(b.reservedFrames).
		WithEvictor(s).
		Build()

	s.tlbs = tlb.MakeBuilder().
		WithNumCPUs(b.numCPUs).
		WithNumEntries(b.numTLBEntries).
		Build()

	for i := 0; i < b.numCPUs; i++ {
		s.cpus = append(s.cpus, &CPU{
			id:  i,
			sys: s,
			tlb: s.tlbs.TLB(i),
		})
	}

	for _, h := range b.hooks {
		s.AcceptHook(h)
	}

	return s
}
