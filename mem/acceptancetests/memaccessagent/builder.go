package memaccessagent

import (
	"io"

	"github.com/sarchlab/smartvm/mem/vm/mmu"
	"github.com/sirupsen/logrus"
)

// A Builder can build MemAccessAgents.
type Builder struct {
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

// MakeBuilder creates a builder with a small default workload.
func MakeBuilder() *Builder {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	return &Builder{
		processes:  1,
		accesses:   1000,
		textPages:  4,
		dataPages:  4,
		heapPages:  8,
		stackPages: 4,
		writeRatio: 0.5,
		seed:       1,
		logger:     logger,
	}
}

// WithSystem sets the VM system the agent drives.
func (b *Builder) WithSystem(s *mmu.System) *Builder {
	b.system = s
	return b
}

// WithNumProcesses sets how many address spaces run at the same time.
func (b *Builder) WithNumProcesses(n int) *Builder {
	b.processes = n
	return b
}

// WithNumAccesses sets the number of reads and writes of each process.
func (b *Builder) WithNumAccesses(n int) *Builder {
	b.accesses = n
	return b
}

// WithNumForks sets how many times each process copies itself.
func (b *Builder) WithNumForks(n int) *Builder {
	b.forks = n
	return b
}

// WithTextPages sets the size of the read-only text segment.
func (b *Builder) WithTextPages(n int) *Builder {
	b.textPages = n
	return b
}

// WithDataPages sets the size of the writable data segment.
func (b *Builder) WithDataPages(n int) *Builder {
	b.dataPages = n
	return b
}

// WithHeapPages sets how far the heap break is moved after loading.
func (b *Builder) WithHeapPages(n int) *Builder {
	b.heapPages = n
	return b
}

// WithStackPages sets how deep below the stack top accesses may go.
func (b *Builder) WithStackPages(n int) *Builder {
	b.stackPages = n
	return b
}

// WithWriteRatio sets the probability that an access is a write.
func (b *Builder) WithWriteRatio(r float64) *Builder {
	b.writeRatio = r
	return b
}

// WithSeed sets the random seed. Each process derives its own stream.
func (b *Builder) WithSeed(seed int64) *Builder {
	b.seed = seed
	return b
}

// WithProgressBar sets where finished accesses are reported.
func (b *Builder) WithProgressBar(p ProgressBar) *Builder {
	b.progress = p
	return b
}

// WithLogger sets the logger of the agent.
func (b *Builder) WithLogger(l logrus.FieldLogger) *Builder {
	b.logger = l
	return b
}

// Build creates the agent.
func (b *Builder) Build() *MemAccessAgent {
	if b.system == nil {
		panic("memaccessagent needs a VM system")
	}

	if b.textPages <= 0 || b.stackPages <= 0 {
		panic("memaccessagent needs text and stack pages")
	}

	return &MemAccessAgent{
		system:     b.system,
		processes:  b.processes,
		accesses:   b.accesses,
		forks:      b.forks,
		textPages:  b.textPages,
		dataPages:  b.dataPages,
		heapPages:  b.heapPages,
		stackPages: b.stackPages,
		writeRatio: b.writeRatio,
		seed:       b.seed,
		progress:   b.progress,
		logger:     b.logger,
	}
}
