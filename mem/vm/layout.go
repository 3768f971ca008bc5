package vm

// Page geometry.
const (
	Log2PageSize = 12
	PageSize     = 1 << Log2PageSize

	// PageFrame masks the page number out of an address.
	PageFrame = ^uint64(PageSize - 1)
)

// The user address space is split by a two-level table. The top 10 bits of a
// 32-bit user address select the outer slot, the next 10 bits the inner slot.
const (
	OuterShift      = 22
	InnerMask       = 0x003FF000
	NumOuterEntries = 512
	NumInnerEntries = 1024

	// StackOuterIndex is the first outer slot that belongs to the stack. The
	// stack grows down from UserStack and is demand-allocated anywhere in
	// this slot.
	StackOuterIndex = 511
)

// Fixed points of the address space.
const (
	UserSpaceTop uint64 = 0x80000000
	UserStack           = UserSpaceTop
	StackBase    uint64 = StackOuterIndex << OuterShift

	// KSeg0 is where the kernel sees physical memory, direct mapped.
	KSeg0 uint64 = 0x80000000
)

// NumTLBEntries is the size of the per-CPU translation cache.
const NumTLBEntries = 64

// PageAlign rounds an address down to the start of its page.
func PageAlign(addr uint64) uint64 {
	return addr & PageFrame
}

// PageRoundUp rounds an address up to the next page boundary.
func PageRoundUp(addr uint64) uint64 {
	return (addr + PageSize - 1) & PageFrame
}

// OuterIndex returns the outer page-table slot of an address.
func OuterIndex(addr uint64) int {
	return int(addr >> OuterShift)
}

// InnerIndex returns the inner page-table slot of an address.
func InnerIndex(addr uint64) int {
	return int((addr & InnerMask) >> Log2PageSize)
}

// AddrOf rebuilds the page address from a pair of table indices.
func AddrOf(outer, inner int) uint64 {
	return uint64(outer)<<OuterShift | uint64(inner)<<Log2PageSize
}

// PagesSpanned returns how many pages the byte range [vaddr, vaddr+size)
// touches. A region may start in the middle of a page.
func PagesSpanned(vaddr, size uint64) int {
	if size == 0 {
		return 0
	}

	start := PageAlign(vaddr)
	end := PageRoundUp(vaddr + size)

	return int((end - start) >> Log2PageSize)
}

// InStack tells if an address falls in the stack slot.
func InStack(addr uint64) bool {
	return addr >= StackBase && addr < UserStack
}

// IsUser tells if an address is a user address.
func IsUser(addr uint64) bool {
	return addr < UserSpaceTop
}

// PAddrToKVAddr converts a physical address to the kernel address it is
// direct mapped at.
func PAddrToKVAddr(paddr uint64) uint64 {
	return paddr + KSeg0
}

// KVAddrToPAddr is the inverse of PAddrToKVAddr.
func KVAddrToPAddr(kvaddr uint64) uint64 {
	return kvaddr - KSeg0
}
