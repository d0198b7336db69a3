package vmm

const (
	// ptePhysPageMask extracts the physical frame address stored in a page
	// table entry. For this architecture bits 12-51 hold the address.
	ptePhysPageMask = uint64(0x000ffffffffff000)

	// rootFlagsMask covers the control bits stored next to the root table
	// address in the page table root register.
	rootFlagsMask = uint64(0xfff)

	// EntriesPerTable is the number of entries in a page table at any
	// level.
	EntriesPerTable = 512
)

const (
	// FlagPresent is set when the page is available in memory and not swapped out.
	FlagPresent PageTableEntryFlag = 1 << iota

	// FlagRW is set if the page can be written to.
	FlagRW

	// FlagUserAccessible is set if user-mode processes can access this page. If
	// not set only kernel code can access this page.
	FlagUserAccessible

	// FlagWriteThroughCaching implies write-through caching when set and write-back
	// caching if cleared.
	FlagWriteThroughCaching

	// FlagDoNotCache prevents this page from being cached if set.
	FlagDoNotCache

	// FlagAccessed is set by the CPU when this page is accessed.
	FlagAccessed

	// FlagDirty is set by the CPU when this page is modified.
	FlagDirty

	// FlagHugePage is set if the entry maps a 2MiB or 1GiB page instead of
	// pointing to a lower level table.
	FlagHugePage

	// FlagGlobal if set, prevents the TLB from flushing the cached memory address
	// for this page when the swapping page tables by updating the CR3 register.
	FlagGlobal

	// FlagNoExecute if set, indicates that a page contains non-executable code.
	FlagNoExecute PageTableEntryFlag = 1 << 63
)
