package vm

import "strings"

// ASID identifies an address space.
type ASID uint32

// FrameIndex is the index of a physical frame in the frame table.
type FrameIndex int

// NoFrame marks a page that is not resident.
const NoFrame FrameIndex = -1

// NoSwapOffset marks a page that has never been written to swap.
const NoSwapOffset int64 = -1

// Valid tells if the index points at a frame.
func (i FrameIndex) Valid() bool {
	return i >= 0
}

// PAddr returns the physical address of the frame.
func (i FrameIndex) PAddr() uint64 {
	return uint64(i) << Log2PageSize
}

// Permission is the access a region grants to user code.
type Permission uint8

// Permission bits.
const (
	PermRead Permission = 1 << iota
	PermWrite
	PermExecute
)

// PermReadWrite is the permissive access pages get while a program is loaded.
const PermReadWrite = PermRead | PermWrite

// MakePermission builds a Permission from the loader's flags.
func MakePermission(readable, writable, executable bool) Permission {
	var p Permission

	if readable {
		p |= PermRead
	}

	if writable {
		p |= PermWrite
	}

	if executable {
		p |= PermExecute
	}

	return p
}

// Has tells if all the bits in q are granted.
func (p Permission) Has(q Permission) bool {
	return p&q == q
}

func (p Permission) String() string {
	b := []byte("---")

	if p.Has(PermRead) {
		b[0] = 'r'
	}

	if p.Has(PermWrite) {
		b[1] = 'w'
	}

	if p.Has(PermExecute) {
		b[2] = 'x'
	}

	return string(b)
}

// Residency records where the content of a virtual page lives. The zero value
// means the page is reserved but backed by nothing yet.
type Residency uint8

// Residency flags. InMemory and InSwap are both set for a resident page whose
// swap copy is still valid. InSwap is cleared as soon as the page may be
// written, even though its SwapOffset is kept.
const (
	InMemory Residency = 1 << iota
	InSwap
	// Busy is set while a frame is being filled for the page.
	Busy
)

// Uninitialized is a reserved page with no backing.
const Uninitialized Residency = 0

// Has tells if all the flags in r are set.
func (s Residency) Has(r Residency) bool {
	return s&r == r
}

func (s Residency) String() string {
	if s == Uninitialized {
		return "uninitialized"
	}

	var parts []string

	if s.Has(InMemory) {
		parts = append(parts, "in-memory")
	}

	if s.Has(InSwap) {
		parts = append(parts, "in-swap")
	}

	if s.Has(Busy) {
		parts = append(parts, "busy")
	}

	return strings.Join(parts, "|")
}

// A Descriptor maintains how a virtual page is backed.
type Descriptor struct {
	Frame      FrameIndex
	SwapOffset int64
	Permission Permission
	Residency  Residency
}

// NewDescriptor returns a reserved descriptor with no backing.
func NewDescriptor(perm Permission) *Descriptor {
	return &Descriptor{
		Frame:      NoFrame,
		SwapOffset: NoSwapOffset,
		Permission: perm,
	}
}

// Resident tells if the page has a frame.
func (d Descriptor) Resident() bool {
	return d.Residency.Has(InMemory)
}

// Swapped tells if the page has a valid swap copy.
func (d Descriptor) Swapped() bool {
	return d.Residency.Has(InSwap)
}

// An Owner is an address space that can own user frames. The evictor uses it
// to update the descriptor of a page it is reclaiming.
type Owner interface {
	// ASID returns the ID of the address space.
	ASID() ASID

	// UpdatePage runs fn on the descriptor of the page at vaddr while the
	// page table of the owner is locked.
	UpdatePage(vaddr uint64, fn func(d *Descriptor) error) error
}

// FaultType is the kind of access that trapped.
type FaultType int

// Fault types raised by the trap path.
const (
	FaultReadOnly FaultType = iota
	FaultRead
	FaultWrite
)

func (t FaultType) String() string {
	switch t {
	case FaultReadOnly:
		return "readonly"
	case FaultRead:
		return "read"
	case FaultWrite:
		return "write"
	default:
		return "unknown"
	}
}
