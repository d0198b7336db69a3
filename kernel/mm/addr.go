package mm

import (
	"kestrel/kernel"
	"strconv"
)

const (
	physAddrMask    = uint64(1)<<PhysAddrBits - 1
	pageOffsetMask  = uint64(1)<<PageOffsetBits - 1
	tableIndexMask  = uint64(1)<<TableIndexBits - 1
	canonicalShift  = 64 - VirtAddrBits
	maxPageOffset   = PageOffset(pageOffsetMask)
	maxTableIndex   = TableIndex(tableIndexMask)
	hexRenderPrefix = "0x"
)

var (
	// ErrPhysAddrRange is returned when a physical address has bits set
	// above PhysAddrBits.
	ErrPhysAddrRange = &kernel.Error{Module: "mm", Message: "physical address exceeds the supported address width"}

	// ErrNonCanonical is returned when a virtual address is not in
	// canonical form.
	ErrNonCanonical = &kernel.Error{Module: "mm", Message: "virtual address is not canonical"}

	// ErrAddrOverflow is returned by address arithmetic whose result
	// would leave the valid address range from above.
	ErrAddrOverflow = &kernel.Error{Module: "mm", Message: "address arithmetic overflow"}

	// ErrAddrUnderflow is returned by address arithmetic whose result
	// would leave the valid address range from below.
	ErrAddrUnderflow = &kernel.Error{Module: "mm", Message: "address arithmetic underflow"}

	// ErrPageOffsetRange is returned for offsets that do not fit in
	// PageOffsetBits.
	ErrPageOffsetRange = &kernel.Error{Module: "mm", Message: "page offset out of range"}

	// ErrTableIndexRange is returned for indices that do not fit in
	// TableIndexBits.
	ErrTableIndexRange = &kernel.Error{Module: "mm", Message: "page table index out of range"}

	errBadAlignment = &kernel.Error{Module: "mm", Message: "alignment must be a non-zero power of two"}
)

// PageOffset is the low PageOffsetBits of an address.
type PageOffset uint16

// NewPageOffset returns v as a PageOffset or ErrPageOffsetRange if it does not
// fit in PageOffsetBits.
func NewPageOffset(v uint16) (PageOffset, *kernel.Error) {
	if PageOffset(v) > maxPageOffset {
		return 0, ErrPageOffsetRange
	}
	return PageOffset(v), nil
}

// PageOffsetTruncate returns the low PageOffsetBits of v.
func PageOffsetTruncate(v uint16) PageOffset {
	return PageOffset(v) & maxPageOffset
}

// TableIndex selects one of the entries of a page table.
type TableIndex uint16

// NewTableIndex returns v as a TableIndex or ErrTableIndexRange if it does
// not fit in TableIndexBits.
func NewTableIndex(v uint16) (TableIndex, *kernel.Error) {
	if TableIndex(v) > maxTableIndex {
		return 0, ErrTableIndexRange
	}
	return TableIndex(v), nil
}

// TableIndexTruncate returns the low TableIndexBits of v.
func TableIndexTruncate(v uint16) TableIndex {
	return TableIndex(v) & maxTableIndex
}

func isPowerOfTwo(v uint64) bool {
	return v != 0 && v&(v-1) == 0
}

func alignDown(v, align uint64) uint64 {
	Assert(isPowerOfTwo(align), errBadAlignment)
	return v &^ (align - 1)
}

// alignUp rounds v up to align. It returns false if the result does not fit
// in 64 bits.
func alignUp(v, align uint64) (uint64, bool) {
	Assert(isPowerOfTwo(align), errBadAlignment)
	up := (v + align - 1) &^ (align - 1)
	return up, up >= v
}

func hexString(name string, v uint64) string {
	buf := make([]byte, 0, len(name)+len(hexRenderPrefix)+18)
	buf = append(buf, name...)
	buf = append(buf, '(')
	buf = append(buf, hexRenderPrefix...)
	buf = strconv.AppendUint(buf, v, 16)
	return string(append(buf, ')'))
}

// PhysAddr is an address in physical memory. Bits at and above PhysAddrBits
// are always zero.
type PhysAddr uint64

// NewPhysAddr returns v as a PhysAddr or ErrPhysAddrRange if v has bits set
// above PhysAddrBits.
func NewPhysAddr(v uint64) (PhysAddr, *kernel.Error) {
	if v&^physAddrMask != 0 {
		return 0, ErrPhysAddrRange
	}
	return PhysAddr(v), nil
}

// PhysAddrTruncate returns v with the bits above PhysAddrBits cleared.
func PhysAddrTruncate(v uint64) PhysAddr {
	return PhysAddr(v & physAddrMask)
}

// IsValid reports whether a satisfies the PhysAddrBits invariant.
func (a PhysAddr) IsValid() bool {
	return uint64(a)&^physAddrMask == 0
}

// AlignDown rounds a down to align, which must be a power of two.
func (a PhysAddr) AlignDown(align uint64) PhysAddr {
	return PhysAddr(alignDown(uint64(a), align))
}

// AlignUp rounds a up to align, which must be a power of two. The second
// result is false if the rounded address exceeds the physical address width.
func (a PhysAddr) AlignUp(align uint64) (PhysAddr, bool) {
	up, ok := alignUp(uint64(a), align)
	if !ok || up&^physAddrMask != 0 {
		return 0, false
	}
	return PhysAddr(up), true
}

// IsAligned reports whether a is a multiple of align.
func (a PhysAddr) IsAligned(align uint64) bool {
	return alignDown(uint64(a), align) == uint64(a)
}

// Add returns a+n or ErrAddrOverflow if the result exceeds the physical
// address width.
func (a PhysAddr) Add(n uint64) (PhysAddr, *kernel.Error) {
	sum := uint64(a) + n
	if sum < uint64(a) || sum&^physAddrMask != 0 {
		return 0, ErrAddrOverflow
	}
	return PhysAddr(sum), nil
}

// Sub returns a-n or ErrAddrUnderflow if n > a.
func (a PhysAddr) Sub(n uint64) (PhysAddr, *kernel.Error) {
	if n > uint64(a) {
		return 0, ErrAddrUnderflow
	}
	return a - PhysAddr(n), nil
}

// PageOffset returns the offset of a inside its 4KiB frame.
func (a PhysAddr) PageOffset() PageOffset {
	return PageOffset(uint64(a) & pageOffsetMask)
}

func (a PhysAddr) String() string {
	return hexString("PhysAddr", uint64(a))
}

// VirtAddr is a canonical virtual address: bits 63 down to VirtAddrBits are
// copies of bit VirtAddrBits-1.
type VirtAddr uint64

func isCanonical(v uint64) bool {
	return uint64(int64(v<<canonicalShift)>>canonicalShift) == v
}

// NewVirtAddr returns v as a VirtAddr or ErrNonCanonical if v is not in
// canonical form.
func NewVirtAddr(v uint64) (VirtAddr, *kernel.Error) {
	if !isCanonical(v) {
		return 0, ErrNonCanonical
	}
	return VirtAddr(v), nil
}

// VirtAddrTruncate discards the high bits of v and sign-extends bit
// VirtAddrBits-1 into them.
func VirtAddrTruncate(v uint64) VirtAddr {
	return VirtAddr(int64(v<<canonicalShift) >> canonicalShift)
}

// VirtAddrFromParts packs page table indices and a page offset back into a
// virtual address. It is the inverse of the TableIndex and PageOffset
// accessors.
func VirtAddrFromParts(p4, p3, p2, p1 TableIndex, offset PageOffset) VirtAddr {
	v := uint64(p4&maxTableIndex)<<39 |
		uint64(p3&maxTableIndex)<<30 |
		uint64(p2&maxTableIndex)<<21 |
		uint64(p1&maxTableIndex)<<12 |
		uint64(offset&maxPageOffset)
	return VirtAddrTruncate(v)
}

// IsValid reports whether a is in canonical form.
func (a VirtAddr) IsValid() bool {
	return isCanonical(uint64(a))
}

// AlignDown rounds a down to align, which must be a power of two.
func (a VirtAddr) AlignDown(align uint64) VirtAddr {
	return VirtAddr(alignDown(uint64(a), align))
}

// AlignUp rounds a up to align, which must be a power of two. The second
// result is false if rounding wraps or lands in the non-canonical hole.
func (a VirtAddr) AlignUp(align uint64) (VirtAddr, bool) {
	up, ok := alignUp(uint64(a), align)
	if !ok || !isCanonical(up) {
		return 0, false
	}
	return VirtAddr(up), true
}

// IsAligned reports whether a is a multiple of align.
func (a VirtAddr) IsAligned(align uint64) bool {
	return alignDown(uint64(a), align) == uint64(a)
}

// Add returns a+n or ErrAddrOverflow if the result wraps or is not
// canonical.
func (a VirtAddr) Add(n uint64) (VirtAddr, *kernel.Error) {
	sum := uint64(a) + n
	if sum < uint64(a) || !isCanonical(sum) {
		return 0, ErrAddrOverflow
	}
	return VirtAddr(sum), nil
}

// Sub returns a-n or ErrAddrUnderflow if the result wraps or is not
// canonical.
func (a VirtAddr) Sub(n uint64) (VirtAddr, *kernel.Error) {
	if n > uint64(a) || !isCanonical(uint64(a)-n) {
		return 0, ErrAddrUnderflow
	}
	return a - VirtAddr(n), nil
}

// PageOffset returns the low PageOffsetBits of a.
func (a VirtAddr) PageOffset() PageOffset {
	return PageOffset(uint64(a) & pageOffsetMask)
}

// TableIndex returns the index into the page table at the given level
// (1 for the leaf table, PageLevels for the root) selected by a.
func (a VirtAddr) TableIndex(level uint8) TableIndex {
	Assert(level >= 1 && level <= PageLevels, ErrTableIndexRange)
	shift := PageOffsetBits + uint64(level-1)*TableIndexBits
	return TableIndex((uint64(a) >> shift) & tableIndexMask)
}

// P1Index returns the index into the level 1 table.
func (a VirtAddr) P1Index() TableIndex { return a.TableIndex(1) }

// P2Index returns the index into the level 2 table.
func (a VirtAddr) P2Index() TableIndex { return a.TableIndex(2) }

// P3Index returns the index into the level 3 table.
func (a VirtAddr) P3Index() TableIndex { return a.TableIndex(3) }

// P4Index returns the index into the root table.
func (a VirtAddr) P4Index() TableIndex { return a.TableIndex(4) }

// Pointer returns a as a uintptr suitable for unsafe access.
func (a VirtAddr) Pointer() uintptr {
	return uintptr(a)
}

func (a VirtAddr) String() string {
	return hexString("VirtAddr", uint64(a))
}
