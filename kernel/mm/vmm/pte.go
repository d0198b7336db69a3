package vmm

import (
	"kestrel/kernel"
	"kestrel/kernel/mm"
	"strconv"
)

var (
	// ErrFrameNotPresent is returned by PageTableEntry.Frame when the
	// entry does not map anything.
	ErrFrameNotPresent = &kernel.Error{Module: "vmm", Message: "page table entry is not present"}

	// ErrHugePage is returned by PageTableEntry.Frame when the entry maps
	// a huge page instead of a 4KiB frame.
	ErrHugePage = &kernel.Error{Module: "vmm", Message: "huge pages are not supported"}

	flagNames = [...]struct {
		flag PageTableEntryFlag
		name string
	}{
		{FlagPresent, "PRESENT"},
		{FlagRW, "WRITABLE"},
		{FlagUserAccessible, "USER_ACCESSIBLE"},
		{FlagWriteThroughCaching, "WRITE_THROUGH"},
		{FlagDoNotCache, "NO_CACHE"},
		{FlagAccessed, "ACCESSED"},
		{FlagDirty, "DIRTY"},
		{FlagHugePage, "HUGE_PAGE"},
		{FlagGlobal, "GLOBAL"},
		{FlagNoExecute, "NO_EXECUTE"},
	}
)

// PageTableEntryFlag describes a flag that can be applied to a page table entry.
type PageTableEntryFlag uint64

// String renders the set flags joined by '|'. Bits without a name are
// rendered in hex.
func (f PageTableEntryFlag) String() string {
	if f == 0 {
		return "NONE"
	}

	var buf []byte
	for _, fn := range flagNames {
		if f&fn.flag == 0 {
			continue
		}
		if len(buf) != 0 {
			buf = append(buf, '|')
		}
		buf = append(buf, fn.name...)
		f &^= fn.flag
	}

	if f != 0 {
		if len(buf) != 0 {
			buf = append(buf, '|')
		}
		buf = append(buf, "0x"...)
		buf = strconv.AppendUint(buf, uint64(f), 16)
	}
	return string(buf)
}

// PageTableEntry describes a page table entry. Bits 12-51 hold the physical
// address of a frame; the remaining bits hold flags. The layout matches the
// one the MMU reads.
type PageTableEntry uint64

// IsUnused returns true if no bit of the entry is set.
func (pte PageTableEntry) IsUnused() bool {
	return pte == 0
}

// SetUnused clears the entry.
func (pte *PageTableEntry) SetUnused() {
	*pte = 0
}

// Flags returns the flag bits of the entry.
func (pte PageTableEntry) Flags() PageTableEntryFlag {
	return PageTableEntryFlag(uint64(pte) &^ ptePhysPageMask)
}

// HasFlags returns true if this entry has all the input flags set.
func (pte PageTableEntry) HasFlags(flags PageTableEntryFlag) bool {
	return (uint64(pte) & uint64(flags)) == uint64(flags)
}

// HasAnyFlag returns true if this entry has at least one of the input flags set.
func (pte PageTableEntry) HasAnyFlag(flags PageTableEntryFlag) bool {
	return (uint64(pte) & uint64(flags)) != 0
}

// Address returns the physical address stored in the entry regardless of
// whether the entry is present.
func (pte PageTableEntry) Address() mm.PhysAddr {
	return mm.PhysAddr(uint64(pte) & ptePhysPageMask)
}

// Frame returns the 4KiB frame mapped by the entry. It fails with
// ErrFrameNotPresent if the present flag is clear and with ErrHugePage if the
// entry maps a huge page.
func (pte PageTableEntry) Frame() (mm.Frame4K, *kernel.Error) {
	switch {
	case !pte.HasFlags(FlagPresent):
		return mm.Frame4K{}, ErrFrameNotPresent
	case pte.HasFlags(FlagHugePage):
		return mm.Frame4K{}, ErrHugePage
	}

	return mm.FrameContaining[mm.Size4KiB](pte.Address()), nil
}

// SetAddress points the entry to frame and replaces its flags. Address bits
// are taken only from the frame and flag bits only from flags.
func (pte *PageTableEntry) SetAddress(frame mm.Frame4K, flags PageTableEntryFlag) {
	addr := uint64(frame.StartAddress())
	mm.Assert(addr&^ptePhysPageMask == 0, mm.ErrPhysAddrRange)
	*pte = PageTableEntry((addr & ptePhysPageMask) | (uint64(flags) &^ ptePhysPageMask))
}

// SetFlags replaces the flags of the entry, preserving its address.
func (pte *PageTableEntry) SetFlags(flags PageTableEntryFlag) {
	*pte = PageTableEntry((uint64(*pte) & ptePhysPageMask) | (uint64(flags) &^ ptePhysPageMask))
}

// AddFlags sets the input flags on top of the existing ones.
func (pte *PageTableEntry) AddFlags(flags PageTableEntryFlag) {
	*pte = PageTableEntry(uint64(*pte) | (uint64(flags) &^ ptePhysPageMask))
}

// ClearFlags unsets the input flags.
func (pte *PageTableEntry) ClearFlags(flags PageTableEntryFlag) {
	*pte = PageTableEntry(uint64(*pte) &^ (uint64(flags) &^ ptePhysPageMask))
}

func (pte PageTableEntry) String() string {
	return "PageTableEntry{addr: " + pte.Address().String() + ", flags: " + pte.Flags().String() + "}"
}
