package tlb

import (
	"log"

	"github.com/sarchlab/smartvm/mem/vm"
	"github.com/sarchlab/smartvm/mem/vm/tlb/internal"
)

// A Builder can build TLB domains.
type Builder struct {
	numCPUs    int
	numEntries int
}

// MakeBuilder returns a Builder for a single CPU with a 64-entry TLB.
func MakeBuilder() Builder {
	return Builder{
		numCPUs:    1,
		numEntries: vm.NumTLBEntries,
	}
}

// WithNumCPUs sets the number of CPUs, each with its own TLB.
func (b Builder) WithNumCPUs(n int) Builder {
	b.numCPUs = n
	return b
}

// WithNumEntries sets the number of entries of each TLB.
func (b Builder) WithNumEntries(n int) Builder {
	b.numEntries = n
	return b
}

// Build creates the TLBs.
func (b Builder) Build() *Domain {
	if b.numCPUs <= 0 || b.numEntries <= 0 {
		log.Panicf("cannot build %d TLBs of %d entries",
			b.numCPUs, b.numEntries)
	}

	d := &Domain{}
	for i := 0; i < b.numCPUs; i++ {
		d.tlbs = append(d.tlbs, &TLB{
			cpu: i,
			set: internal.NewSet(b.numEntries),
		})
	}

	return d
}
