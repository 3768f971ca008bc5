package coremap

import (
	"log"

	"github.com/sarchlab/smartvm/mem/vm"
)

// A Builder can build frame tables.
type Builder struct {
	numFrames      int
	reservedFrames int
	evictor        Evictor
}

// MakeBuilder creates a new builder with 1 MiB of memory.
func MakeBuilder() Builder {
	return Builder{
		numFrames: 256,
	}
}

// WithNumFrames sets the number of physical frames.
func (b Builder) WithNumFrames(n int) Builder {
	b.numFrames = n
	return b
}

// WithMemorySize sets the amount of physical memory in bytes. Partial pages
// are dropped.
func (b Builder) WithMemorySize(bytes uint64) Builder {
	b.numFrames = int(bytes / vm.PageSize)
	return b
}

// WithReservedFrames sets how many of the lowest frames were taken before the
// frame table existed. They are fixed forever.
func (b Builder) WithReservedFrames(n int) Builder {
	b.reservedFrames = n
	return b
}

// WithEvictor sets the component that reclaims frames when memory is full.
func (b Builder) WithEvictor(e Evictor) Builder {
	b.evictor = e
	return b
}

// Build creates the frame table.
func (b Builder) Build() *Table {
	if b.numFrames <= 0 {
		log.Panicf("frame table needs at least one frame, got %d", b.numFrames)
	}

	if b.reservedFrames < 0 || b.reservedFrames >= b.numFrames {
		log.Panicf("cannot reserve %d of %d frames",
			b.reservedFrames, b.numFrames)
	}

	t := &Table{
		frames:  make([]Frame, b.numFrames),
		memory:  make([]byte, b.numFrames*vm.PageSize),
		evictor: b.evictor,
	}

	for i := 0; i < b.reservedFrames; i++ {
		t.frames[i].State = StateFixed
	}

	if b.reservedFrames > 0 {
		t.frames[0].RunLength = b.reservedFrames
	}

	return t
}
