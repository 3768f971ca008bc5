package tlb

import (
	"sync/atomic"

	"github.com/sarchlab/smartvm/mem/vm"
	"golang.org/x/sync/errgroup"
)

// A Domain is the group of TLBs that a shootdown must reach.
type Domain struct {
	tlbs []*TLB
}

// NumCPUs returns the number of TLBs in the domain.
func (d *Domain) NumCPUs() int {
	return len(d.tlbs)
}

// TLB returns the TLB of a CPU.
func (d *Domain) TLB(cpu int) *TLB {
	return d.tlbs[cpu]
}

// Broadcast invalidates the translation in every TLB of the domain and
// returns once all of them have done so. It returns the number of entries
// dropped.
func (d *Domain) Broadcast(req Shootdown) int {
	return d.each(func(t *TLB) int {
		return t.Shootdown(req)
	})
}

// BroadcastASID drops every translation of an address space in the domain.
func (d *Domain) BroadcastASID(asid vm.ASID) int {
	return d.each(func(t *TLB) int {
		return t.ShootdownASID(asid)
	})
}

func (d *Domain) each(fn func(t *TLB) int) int {
	var (
		g     errgroup.Group
		count atomic.Int64
	)

	for _, t := range d.tlbs {
		g.Go(func() error {
			count.Add(int64(fn(t)))
			return nil
		})
	}

	_ = g.Wait()

	return int(count.Load())
}
