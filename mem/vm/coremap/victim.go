package coremap

import (
	"log"

	"github.com/sarchlab/smartvm/mem/vm"
)

// SelectVictim scans the table circularly from start and marks the first
// Clean or Dirty frame as being evicted. If nothing can be chosen, busy tells
// whether some frame is in the middle of an operation and may become
// reclaimable soon.
func (t *Table) SelectVictim(start int) (idx vm.FrameIndex, busy bool) {
	t.lock.Lock()
	defer t.lock.Unlock()

	n := len(t.frames)
	start = ((start % n) + n) % n

	for i := 0; i < n; i++ {
		j := (start + i) % n
		f := &t.frames[j]

		if f.Transient() {
			busy = true
			continue
		}

		if f.State.Reclaimable() {
			f.evicting = true
			return vm.FrameIndex(j), false
		}
	}

	return vm.NoFrame, busy
}

// BeginEvict marks a specific resident frame as being evicted. It fails if
// the frame is not resident user memory or is already being evicted.
func (t *Table) BeginEvict(idx vm.FrameIndex) bool {
	t.mustBeInRange(idx)

	t.lock.Lock()
	defer t.lock.Unlock()

	f := &t.frames[idx]
	if !f.State.Reclaimable() || f.evicting || f.pinned {
		return false
	}

	f.evicting = true

	return true
}

// FinishEvict frees a frame whose eviction has completed.
func (t *Table) FinishEvict(idx vm.FrameIndex) {
	t.mustBeInRange(idx)

	t.lock.Lock()
	defer t.lock.Unlock()

	f := &t.frames[idx]
	if !f.evicting {
		log.Panicf("finishing eviction of frame %d that is not being evicted",
			idx)
	}

	f.reset()
}

// AbortEvict returns a frame whose eviction failed to normal service.
func (t *Table) AbortEvict(idx vm.FrameIndex) {
	t.mustBeInRange(idx)

	t.lock.Lock()
	defer t.lock.Unlock()

	t.frames[idx].evicting = false
}
