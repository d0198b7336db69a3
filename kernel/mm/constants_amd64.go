package mm

const (
	// PointerShift is equal to log2(unsafe.Sizeof(uintptr)). The pointer
	// size for this architecture is defined as (1 << PointerShift).
	PointerShift = uintptr(3)

	// PageShift is equal to log2(PageSize). Shifting a physical address
	// right by PageShift yields its frame number.
	PageShift = uintptr(12)

	// PageSize defines the system's page size in bytes.
	PageSize = uintptr(1 << PageShift)

	// PhysAddrBits is the number of significant bits in a physical address.
	PhysAddrBits = 52

	// VirtAddrBits is the number of significant bits in a virtual address.
	// The remaining high bits must replicate bit VirtAddrBits-1.
	VirtAddrBits = 48

	// PageOffsetBits is the width of the in-page offset of an address.
	PageOffsetBits = 12

	// TableIndexBits is the width of the index selecting an entry inside a
	// single page table.
	TableIndexBits = 9

	// PageLevels is the number of page table levels walked by the MMU.
	PageLevels = 4
)
