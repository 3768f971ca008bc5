// Package coremap keeps track of every physical page frame of the machine and
// hands them out to the kernel and to user address spaces.
package coremap

import (
	"fmt"
	"log"

	"github.com/sarchlab/smartvm/mem/vm"
)

// An Evictor can reclaim a resident frame by writing it out.
type Evictor interface {
	// SwapOut evicts a frame and leaves it Free. With allocate set, the
	// victim is chosen by the evictor. Otherwise idx names a frame the caller
	// has already marked with BeginEvict.
	SwapOut(idx vm.FrameIndex, allocate bool) (vm.FrameIndex, error)
}

// Usage counts frames per state.
type Usage struct {
	Free  int `json:"free"`
	Clean int `json:"clean"`
	Dirty int `json:"dirty"`
	Fixed int `json:"fixed"`
}

// Table is the frame table. It owns the bytes of physical memory.
type Table struct {
	lock    spinLock
	frames  []Frame
	memory  []byte
	evictor Evictor
}

// SetEvictor sets the component that is asked for frames when memory is
// exhausted.
func (t *Table) SetEvictor(e Evictor) {
	t.evictor = e
}

// NumFrames returns the number of physical frames.
func (t *Table) NumFrames() int {
	return len(t.frames)
}

// AllocateOne returns a zero-filled frame fixed for kernel use.
func (t *Table) AllocateOne() (vm.FrameIndex, error) {
	idx, err := t.allocate()
	if err != nil {
		return vm.NoFrame, err
	}

	t.lock.Lock()
	f := &t.frames[idx]
	f.pinned = false
	f.RunLength = 1
	t.lock.Unlock()

	return idx, nil
}

// AllocateUser returns a zero-filled frame for a user page. The frame stays
// pinned, and thus invisible to the evictor, until Assign or Free is called.
func (t *Table) AllocateUser() (vm.FrameIndex, error) {
	return t.allocate()
}

func (t *Table) allocate() (vm.FrameIndex, error) {
	for {
		t.lock.Lock()
		idx := t.firstClaimable()
		if idx.Valid() {
			t.claim(idx)
			t.lock.Unlock()
			t.Zero(idx)

			return idx, nil
		}
		t.lock.Unlock()

		if t.evictor == nil {
			return vm.NoFrame, fmt.Errorf("%w: no free frame", vm.ErrNoMemory)
		}

		victim, err := t.evictor.SwapOut(vm.NoFrame, true)
		if err != nil {
			return vm.NoFrame, err
		}

		t.lock.Lock()
		if t.frames[victim].claimable() {
			t.claim(victim)
			t.lock.Unlock()
			t.Zero(victim)

			return victim, nil
		}
		t.lock.Unlock()
	}
}

func (t *Table) firstClaimable() vm.FrameIndex {
	for i := range t.frames {
		if t.frames[i].claimable() {
			return vm.FrameIndex(i)
		}
	}

	return vm.NoFrame
}

func (t *Table) claim(idx vm.FrameIndex) {
	f := &t.frames[idx]
	f.State = StateFixed
	f.pinned = true
}

// AllocateRun returns n contiguous zero-filled frames fixed for kernel use.
// Resident user frames are evicted to make room if no free run exists.
func (t *Table) AllocateRun(n int) (vm.FrameIndex, error) {
	if n <= 0 {
		return vm.NoFrame, fmt.Errorf("%w: run of %d frames", vm.ErrInvalid, n)
	}

	if n == 1 {
		return t.AllocateOne()
	}

	t.lock.Lock()
	start := t.findRun(n, func(f *Frame) bool { return f.claimable() })
	if start.Valid() {
		t.fixRun(start, n)
		t.lock.Unlock()
		t.zeroRun(start, n)

		return start, nil
	}

	start = t.findRun(n, func(f *Frame) bool {
		return f.claimable() || (f.State.Reclaimable() && !f.Transient())
	})
	if !start.Valid() || t.evictor == nil {
		t.lock.Unlock()
		return vm.NoFrame, fmt.Errorf(
			"%w: no %d contiguous reclaimable frames", vm.ErrNoMemory, n)
	}

	for i := start; i < start+vm.FrameIndex(n); i++ {
		t.frames[i].reserved = true
	}
	t.lock.Unlock()

	for i := start; i < start+vm.FrameIndex(n); i++ {
		if !t.BeginEvict(i) {
			continue
		}

		if _, err := t.evictor.SwapOut(i, false); err != nil {
			t.unreserve(start, n)
			return vm.NoFrame, err
		}
	}

	t.lock.Lock()
	for i := start; i < start+vm.FrameIndex(n); i++ {
		if t.frames[i].State != StateFree {
			log.Panicf("frame %d reserved for a run is %s", i, t.frames[i].State)
		}
	}
	t.fixRun(start, n)
	t.lock.Unlock()
	t.zeroRun(start, n)

	return start, nil
}

func (t *Table) findRun(n int, usable func(f *Frame) bool) vm.FrameIndex {
	count := 0
	for i := range t.frames {
		if !usable(&t.frames[i]) {
			count = 0
			continue
		}

		count++
		if count == n {
			return vm.FrameIndex(i - n + 1)
		}
	}

	return vm.NoFrame
}

func (t *Table) fixRun(start vm.FrameIndex, n int) {
	for i := start; i < start+vm.FrameIndex(n); i++ {
		f := &t.frames[i]
		f.State = StateFixed
		f.reserved = false
		f.RunLength = 0
	}

	t.frames[start].RunLength = n
}

func (t *Table) unreserve(start vm.FrameIndex, n int) {
	t.lock.Lock()
	defer t.lock.Unlock()

	for i := start; i < start+vm.FrameIndex(n); i++ {
		t.frames[i].reserved = false
	}
}

func (t *Table) zeroRun(start vm.FrameIndex, n int) {
	for i := start; i < start+vm.FrameIndex(n); i++ {
		t.Zero(i)
	}
}

// Free returns a kernel allocation, or a user frame that was never assigned,
// to the free pool. The whole run starting at idx is released.
func (t *Table) Free(idx vm.FrameIndex) {
	t.mustBeInRange(idx)

	t.lock.Lock()
	defer t.lock.Unlock()

	f := &t.frames[idx]
	if f.State != StateFixed {
		log.Panicf("freeing frame %d in state %s", idx, f.State)
	}

	n := f.RunLength
	if n == 0 {
		n = 1
	}

	if int(idx)+n > len(t.frames) {
		log.Panicf("run at frame %d of length %d exceeds memory", idx, n)
	}

	for i := idx; i < idx+vm.FrameIndex(n); i++ {
		if t.frames[i].State == StateFree {
			log.Panicf("frame %d in run at %d is already free", i, idx)
		}

		t.frames[i].reset()
	}
}

// Assign hands a pinned frame to the page vpage of owner.
func (t *Table) Assign(
	idx vm.FrameIndex,
	owner vm.Owner,
	vpage uint64,
	state State,
) {
	t.mustBeInRange(idx)

	if !state.Reclaimable() {
		log.Panicf("cannot assign frame %d as %s", idx, state)
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	f := &t.frames[idx]
	if !f.pinned {
		log.Panicf("assigning frame %d that was not allocated for a user page",
			idx)
	}

	f.State = state
	f.Owner = owner
	f.VPage = vpage
	f.pinned = false
}

// Release frees a user frame. The recorded owner must match. It returns false
// without changing anything if the frame is being evicted; the caller should
// let the eviction finish and look at the page again.
func (t *Table) Release(idx vm.FrameIndex, owner vm.Owner) bool {
	t.mustBeInRange(idx)

	t.lock.Lock()
	defer t.lock.Unlock()

	f := &t.frames[idx]
	if f.evicting {
		return false
	}

	if !f.State.Reclaimable() || f.Owner != owner {
		log.Panicf("frame %d is %s and not owned by address space %d",
			idx, f.State, owner.ASID())
	}

	f.reset()

	return true
}

// MarkDirty records that a resident frame may be written.
func (t *Table) MarkDirty(idx vm.FrameIndex) {
	t.mustBeInRange(idx)

	t.lock.Lock()
	defer t.lock.Unlock()

	f := &t.frames[idx]
	if f.State.Reclaimable() {
		f.State = StateDirty
	}
}

// Copy copies the content of frame src into frame dst.
func (t *Table) Copy(dst, src vm.FrameIndex) {
	copy(t.FrameBytes(dst), t.FrameBytes(src))
}

// Zero fills a frame with zeros.
func (t *Table) Zero(idx vm.FrameIndex) {
	clear(t.FrameBytes(idx))
}

// FrameBytes returns the physical memory of a frame.
func (t *Table) FrameBytes(idx vm.FrameIndex) []byte {
	t.mustBeInRange(idx)

	start := int(idx) * vm.PageSize

	return t.memory[start : start+vm.PageSize : start+vm.PageSize]
}

// Frame returns a copy of the entry of a frame.
func (t *Table) Frame(idx vm.FrameIndex) Frame {
	t.mustBeInRange(idx)

	t.lock.Lock()
	defer t.lock.Unlock()

	return t.frames[idx]
}

// Frames returns a copy of the whole table.
func (t *Table) Frames() []Frame {
	t.lock.Lock()
	defer t.lock.Unlock()

	frames := make([]Frame, len(t.frames))
	copy(frames, t.frames)

	return frames
}

// Usage counts the frames in each state.
func (t *Table) Usage() Usage {
	t.lock.Lock()
	defer t.lock.Unlock()

	u := Usage{}
	for i := range t.frames {
		switch t.frames[i].State {
		case StateFree:
			u.Free++
		case StateClean:
			u.Clean++
		case StateDirty:
			u.Dirty++
		case StateFixed:
			u.Fixed++
		}
	}

	return u
}

func (t *Table) mustBeInRange(idx vm.FrameIndex) {
	if idx < 0 || int(idx) >= len(t.frames) {
		log.Panicf("frame %d out of range [0, %d)", idx, len(t.frames))
	}
}
