package vm

// FaultEvent describes one page fault.
type FaultEvent struct {
	CPU    int
	ASID   ASID
	VAddr  uint64
	Type   FaultType
	Frame  FrameIndex
	SwapIn bool
	Err    error
}

// EvictEvent describes one reclaimed frame.
type EvictEvent struct {
	Frame      FrameIndex
	ASID       ASID
	VPage      uint64
	WasDirty   bool
	SwapOffset int64
}

// SwapInEvent describes a page read back from swap.
type SwapInEvent struct {
	Frame      FrameIndex
	ASID       ASID
	VPage      uint64
	SwapOffset int64
}

// ShootdownEvent describes a broadcast TLB invalidation.
type ShootdownEvent struct {
	ASID        ASID
	VPage       uint64
	Invalidated int
}
