package coremap

import (
	"github.com/sarchlab/smartvm/mem/vm"
)

// State is the allocation state of a physical frame.
type State uint8

// Frame states.
const (
	// StateFree frames can be handed out.
	StateFree State = iota
	// StateClean frames are resident and their swap copy is up to date.
	StateClean
	// StateDirty frames are resident and modified since the last write-back.
	StateDirty
	// StateFixed frames belong to the kernel and are never evicted.
	StateFixed
)

func (s State) String() string {
	switch s {
	case StateFree:
		return "free"
	case StateClean:
		return "clean"
	case StateDirty:
		return "dirty"
	case StateFixed:
		return "fixed"
	default:
		return "unknown"
	}
}

// Reclaimable tells if a frame in this state can be chosen as a victim.
func (s State) Reclaimable() bool {
	return s == StateClean || s == StateDirty
}

// A Frame is the frame table entry of one physical page.
type Frame struct {
	State State

	// Owner is only meaningful for Clean and Dirty frames.
	Owner vm.Owner
	VPage uint64

	// RunLength is set on the first frame of a kernel allocation.
	RunLength int

	evicting bool
	reserved bool
	pinned   bool
}

// Transient tells if an operation is in flight on the frame. Transient frames
// are neither allocated nor selected as victims.
func (f Frame) Transient() bool {
	return f.evicting || f.reserved || f.pinned
}

// Evicting tells if the frame has been selected as a victim and is being
// written out.
func (f Frame) Evicting() bool {
	return f.evicting
}

func (f *Frame) claimable() bool {
	return f.State == StateFree && !f.Transient()
}

func (f *Frame) reset() {
	f.State = StateFree
	f.Owner = nil
	f.VPage = 0
	f.RunLength = 0
	f.evicting = false
	f.pinned = false
}
