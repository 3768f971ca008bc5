// Package memaccessagent drives a VM system with processes that read and
// write their memory at random and check every value they read back.
package memaccessagent

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"github.com/sarchlab/smartvm/mem/vm"
	"github.com/sarchlab/smartvm/mem/vm/addrspace"
	"github.com/sarchlab/smartvm/mem/vm/mmu"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// TextBase is where every process is loaded.
const TextBase = uint64(0x400000)

const (
	loaderWordsPerPage = 4
	forkProbes         = 16
)

// A ProgressBar is told about every finished access.
type ProgressBar interface {
	IncrementFinished(amount uint64)
}

// A MismatchError reports a read that did not return the last written value.
type MismatchError struct {
	ASID     vm.ASID
	VAddr    uint64
	Expected uint32
	Actual   uint32
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("address space %d read 0x%x at 0x%x, expected 0x%x",
		e.ASID, e.Actual, e.VAddr, e.Expected)
}

// Result counts what the agent did.
type Result struct {
	Reads          uint64 `json:"reads"`
	Writes         uint64 `json:"writes"`
	ReadOnlyWrites uint64 `json:"read_only_writes"`
	Forks          uint64 `json:"forks"`
}

func (r *Result) add(o Result) {
	r.Reads += o.Reads
	r.Writes += o.Writes
	r.ReadOnlyWrites += o.ReadOnlyWrites
	r.Forks += o.Forks
}

// A MemAccessAgent runs processes on the CPUs of a VM system. Each process
// keeps a shadow copy of everything it wrote.
type MemAccessAgent struct {
	system     *mmu.System
	processes  int
	accesses   int
	forks      int
	textPages  int
	dataPages  int
	heapPages  int
	stackPages int
	writeRatio float64
	seed       int64
	progress   ProgressBar
	logger     logrus.FieldLogger
}

type area struct {
	base, end uint64
	writable  bool
}

type process struct {
	id    int
	as    *addrspace.AddressSpace
	rng   *rand.Rand
	known map[uint64]uint32
	areas []area
}

// Run executes all processes, at most one per CPU at a time, and stops at the
// first error.
func (a *MemAccessAgent) Run(ctx context.Context) (Result, error) {
	numCPUs := a.system.NumCPUs()
	cpus := make(chan *mmu.CPU, numCPUs)
	for i := 0; i < numCPUs; i++ {
		cpus <- a.system.CPU(i)
	}

	results := make([]Result, a.processes)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(numCPUs)

	for i := 0; i < a.processes; i++ {
		g.Go(func() error {
			cpu := <-cpus
			defer func() { cpus <- cpu }()

			var err error
			results[i], err = a.runProcess(ctx, i, cpu)

			return err
		})
	}

	err := g.Wait()

	total := Result{}
	for _, r := range results {
		total.add(r)
	}

	return total, err
}

func (a *MemAccessAgent) runProcess(
	ctx context.Context,
	id int,
	cpu *mmu.CPU,
) (Result, error) {
	r := Result{}

	p, err := a.load(id, cpu)
	if err != nil {
		return r, err
	}

	defer func() {
		cpu.Deactivate()
		a.system.DestroyAddressSpace(p.as)
	}()

	forkEvery := a.accesses / (a.forks + 1)
	if forkEvery == 0 {
		forkEvery = 1
	}

	for n := 0; n < a.accesses; n++ {
		if err := ctx.Err(); err != nil {
			return r, err
		}

		if n > 0 && n%forkEvery == 0 && r.Forks < uint64(a.forks) {
			if err := a.fork(p, cpu); err != nil {
				return r, err
			}

			r.Forks++
		}

		if err := a.step(p, cpu, &r); err != nil {
			return r, err
		}

		if a.progress != nil {
			a.progress.IncrementFinished(1)
		}
	}

	a.logger.WithFields(logrus.Fields{
		"process": id,
		"asid":    p.as.ASID(),
		"reads":   r.Reads,
		"writes":  r.Writes,
	}).Debug("process finished")

	return r, nil
}

func (a *MemAccessAgent) load(id int, cpu *mmu.CPU) (*process, error) {
	as := a.system.CreateAddressSpace()
	p := &process{
		id:    id,
		as:    as,
		rng:   rand.New(rand.NewSource(a.seed + int64(id))),
		known: make(map[uint64]uint32),
	}

	err := a.defineImage(p, cpu)
	if err != nil {
		cpu.Deactivate()
		a.system.DestroyAddressSpace(as)

		return nil, fmt.Errorf("loading process %d: %w", id, err)
	}

	a.logger.WithFields(logrus.Fields{
		"process": id,
		"asid":    as.ASID(),
	}).Debug("process loaded")

	return p, nil
}

func (a *MemAccessAgent) defineImage(p *process, cpu *mmu.CPU) error {
	textSize := uint64(a.textPages) * vm.PageSize
	dataBase := TextBase + textSize
	dataSize := uint64(a.dataPages) * vm.PageSize

	err := p.as.DefineRegion(TextBase, textSize, true, false, true)
	if err != nil {
		return err
	}

	p.areas = append(p.areas, area{TextBase, dataBase, false})

	if a.dataPages > 0 {
		err = p.as.DefineRegion(dataBase, dataSize, true, true, false)
		if err != nil {
			return err
		}

		p.areas = append(p.areas, area{dataBase, dataBase + dataSize, true})
	}

	if err := p.as.PrepareLoad(); err != nil {
		return err
	}

	cpu.Activate(p.as)

	for page := TextBase; page < dataBase+dataSize; page += vm.PageSize {
		for i := 0; i < loaderWordsPerPage; i++ {
			addr := page + uint64(p.rng.Intn(vm.PageSize/4))*4
			if err := p.write(cpu, addr, p.rng.Uint32()); err != nil {
				return err
			}
		}
	}

	if err := a.system.CompleteLoad(p.as); err != nil {
		return err
	}

	top := p.as.DefineStack()
	p.areas = append(p.areas,
		area{top - uint64(a.stackPages)*vm.PageSize, top, true})

	if a.heapPages > 0 {
		heapSize := uint64(a.heapPages) * vm.PageSize

		heapBase, err := a.system.Sbrk(p.as, int64(heapSize))
		if err != nil {
			return err
		}

		p.areas = append(p.areas, area{heapBase, heapBase + heapSize, true})
	}

	return nil
}

func (a *MemAccessAgent) step(p *process, cpu *mmu.CPU, r *Result) error {
	ar := p.areas[p.rng.Intn(len(p.areas))]
	addr := ar.base + uint64(p.rng.Int63n(int64((ar.end-ar.base)/4)))*4

	if p.rng.Float64() >= a.writeRatio {
		r.Reads++
		return p.check(cpu, addr)
	}

	if !ar.writable {
		err := cpu.Write(addr, uint32ToBytes(p.rng.Uint32()))
		if !errors.Is(err, vm.ErrFault) {
			return fmt.Errorf("write to read-only 0x%x in address space %d "+
				"returned %v", addr, p.as.ASID(), err)
		}

		r.ReadOnlyWrites++

		return nil
	}

	r.Writes++

	return p.write(cpu, addr, p.rng.Uint32())
}

// fork copies the process, checks that the child sees the same values, and
// that writes of the child do not reach the parent.
func (a *MemAccessAgent) fork(p *process, cpu *mmu.CPU) error {
	child, err := a.system.CopyAddressSpace(p.as)
	if err != nil {
		return fmt.Errorf("forking address space %d: %w", p.as.ASID(), err)
	}

	defer func() {
		cpu.Activate(p.as)
		a.system.DestroyAddressSpace(child)
	}()

	probes := p.sampleKnown(forkProbes)

	cpu.Activate(child)
	c := &process{id: p.id, as: child, known: make(map[uint64]uint32)}

	for _, addr := range probes {
		c.known[addr] = p.known[addr]

		if err := c.check(cpu, addr); err != nil {
			return err
		}

		if p.writable(addr) {
			if err := c.write(cpu, addr, ^p.known[addr]); err != nil {
				return err
			}
		}
	}

	cpu.Activate(p.as)

	for _, addr := range probes {
		if err := p.check(cpu, addr); err != nil {
			return err
		}
	}

	a.logger.WithFields(logrus.Fields{
		"process": p.id,
		"parent":  p.as.ASID(),
		"child":   child.ASID(),
	}).Debug("fork verified")

	return nil
}

func (p *process) write(cpu *mmu.CPU, addr uint64, v uint32) error {
	if err := cpu.Write(addr, uint32ToBytes(v)); err != nil {
		return fmt.Errorf("writing 0x%x in address space %d: %w",
			addr, p.as.ASID(), err)
	}

	p.known[addr] = v

	return nil
}

func (p *process) check(cpu *mmu.CPU, addr uint64) error {
	buf := make([]byte, 4)
	if err := cpu.Read(addr, buf); err != nil {
		return fmt.Errorf("reading 0x%x in address space %d: %w",
			addr, p.as.ASID(), err)
	}

	actual := binary.LittleEndian.Uint32(buf)
	if expected := p.known[addr]; actual != expected {
		return &MismatchError{
			ASID:     p.as.ASID(),
			VAddr:    addr,
			Expected: expected,
			Actual:   actual,
		}
	}

	return nil
}

func (p *process) writable(addr uint64) bool {
	for _, ar := range p.areas {
		if addr >= ar.base && addr < ar.end {
			return ar.writable
		}
	}

	return false
}

func (p *process) sampleKnown(n int) []uint64 {
	addrs := make([]uint64, 0, len(p.known))
	for addr := range p.known {
		addrs = append(addrs, addr)
	}

	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	p.rng.Shuffle(len(addrs), func(i, j int) {
		addrs[i], addrs[j] = addrs[j], addrs[i]
	})

	if len(addrs) > n {
		addrs = addrs[:n]
	}

	return addrs
}

func uint32ToBytes(data uint32) []byte {
	bytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(bytes, data)

	return bytes
}
