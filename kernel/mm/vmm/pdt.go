package vmm

import (
	"kestrel/kernel"
	"kestrel/kernel/cpu"
	"kestrel/kernel/mm"
)

var (
	// flushTLBEntryFn is used by tests to override calls to flushTLBEntry
	// which will cause a fault if called in user-mode.
	flushTLBEntryFn = cpu.FlushTLBEntry

	// switchPDTFn is used by tests to override calls to switchPDT which
	// will cause a fault if called in user-mode.
	switchPDTFn = cpu.SwitchPDT

	// ErrNoHugePageSupport is returned when a mapping would have to
	// descend through a huge page entry.
	ErrNoHugePageSupport = &kernel.Error{Module: "vmm", Message: "huge pages are not supported"}

	// ErrInvalidMapping is returned when unmapping a page that is not
	// mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}
)

// SetMMUHooks overrides the functions used to invalidate a TLB entry and to
// load the root register. Hosted builds that manage simulated tables use it
// to avoid privileged instructions. Passing nil for either argument restores
// its default.
func SetMMUHooks(flushTLBEntry func(uintptr), switchRoot func(uintptr)) {
	if flushTLBEntry == nil {
		flushTLBEntry = cpu.FlushTLBEntry
	}
	if switchRoot == nil {
		switchRoot = cpu.SwitchPDT
	}
	flushTLBEntryFn, switchPDTFn = flushTLBEntry, switchRoot
}

// PageDirectoryTable describes the top-most table in a multi-level paging
// scheme together with the resolver used to reach every table below it.
type PageDirectoryTable struct {
	root   mm.Frame4K
	tables TableResolver
}

// Init sets up a new page directory table in root and clears its contents.
func (pdt *PageDirectoryTable) Init(root mm.Frame4K, tables TableResolver) {
	pdt.root = root
	pdt.tables = tables
	tables.Table(root).Reset()
}

// ActivePDT returns the page directory table that reader currently points to.
// Its contents are left untouched.
func ActivePDT(reader RootReader, tables TableResolver) PageDirectoryTable {
	return PageDirectoryTable{root: RootFrame(reader.ReadRoot()), tables: tables}
}

// Root returns the frame that holds the root table.
func (pdt PageDirectoryTable) Root() mm.Frame4K {
	return pdt.root
}

// Map establishes a mapping between a virtual page and a physical memory
// frame. Missing intermediate tables are allocated with mm.AllocFrame and
// cleared before use. An existing mapping for page is replaced.
func (pdt PageDirectoryTable) Map(page mm.Page4K, frame mm.Frame4K, flags PageTableEntryFlag) *kernel.Error {
	var (
		err        *kernel.Error
		tableFlags = FlagPresent | FlagRW | (flags & FlagUserAccessible)
	)

	walk(pdt.tables, pdt.root, page.StartAddress(), func(level Level, pte *PageTableEntry) bool {
		// If we reached the last level all we need to do is to map the
		// frame in place and flush its TLB entry
		if level == Level1 {
			pte.SetAddress(frame, flags)
			flushTLBEntryFn(page.StartAddress().Pointer())
			return true
		}

		if pte.HasFlags(FlagPresent | FlagHugePage) {
			err = ErrNoHugePageSupport
			return false
		}

		// Next table does not yet exist; we need to allocate a
		// physical frame for it and clear its contents.
		if !pte.HasFlags(FlagPresent) {
			var tableFrame mm.Frame4K
			if tableFrame, err = mm.AllocFrame(); err != nil {
				return false
			}

			pdt.tables.Table(tableFrame).Reset()
			pte.SetAddress(tableFrame, tableFlags)
			return true
		}

		pte.AddFlags(flags & FlagUserAccessible)
		return true
	})

	return err
}

// MapRange maps count consecutive pages starting at page to count consecutive
// frames starting at frame.
func (pdt PageDirectoryTable) MapRange(page mm.Page4K, frame mm.Frame4K, count uint64, flags PageTableEntryFlag) *kernel.Error {
	for ; count > 0; count-- {
		if err := pdt.Map(page, frame, flags); err != nil {
			return err
		}

		if count == 1 {
			break
		}

		next, ok := page.Next()
		if !ok {
			return mm.ErrAddrOverflow
		}
		page = next
		frame = mm.FrameFromNumber[mm.Size4KiB](frame.Number() + 1)
	}
	return nil
}

// Unmap removes a mapping previously installed by Map.
func (pdt PageDirectoryTable) Unmap(page mm.Page4K) *kernel.Error {
	var err *kernel.Error

	walk(pdt.tables, pdt.root, page.StartAddress(), func(level Level, pte *PageTableEntry) bool {
		// Next table or page is not present; this is an invalid mapping
		if !pte.HasFlags(FlagPresent) {
			err = ErrInvalidMapping
			return false
		}

		// If we reached the last level all we need to do is to set the
		// page as non-present and flush its TLB entry
		if level == Level1 {
			pte.ClearFlags(FlagPresent)
			flushTLBEntryFn(page.StartAddress().Pointer())
			return true
		}

		if pte.HasFlags(FlagHugePage) {
			err = ErrNoHugePageSupport
			return false
		}

		return true
	})

	return err
}

// Activate enables this page directory table and flushes the TLB.
func (pdt PageDirectoryTable) Activate() {
	switchPDTFn(uintptr(pdt.root.StartAddress()))
}
