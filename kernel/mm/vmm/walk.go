package vmm

import "kestrel/kernel/mm"

// walkFn is invoked by walk for the entry visited at each level. Returning
// false stops the walk.
type walkFn func(level Level, pte *PageTableEntry) bool

// walk visits the entries that translate addr, starting with the entry in the
// root table and descending one level after each call to walkFn. The walk
// stops early when walkFn returns false or when the visited entry does not
// point to a lower level table.
//
// walkFn may install a table in a non-present entry; walk follows it.
func walk(tables TableResolver, root mm.Frame4K, addr mm.VirtAddr, fn walkFn) {
	table := tables.Table(root)
	for level := RootLevel; ; level-- {
		pte := table.Entry(level.Index(addr))
		if !fn(level, pte) || level == Level1 {
			return
		}

		next, err := pte.Frame()
		if err != nil {
			return
		}
		table = tables.Table(next)
	}
}

// visitFn is invoked by visit for each present leaf entry together with the
// first virtual address it maps. Returning false stops the traversal.
type visitFn func(addr mm.VirtAddr, level Level, pte PageTableEntry) bool

// visit traverses the whole tree rooted at root in address order and reports
// every present entry that maps memory: Level1 entries and huge page entries.
func visit(tables TableResolver, root mm.Frame4K, fn visitFn) {
	visitTable(tables, tables.Table(root), RootLevel, 0, fn)
}

func visitTable(tables TableResolver, table *PageTable, level Level, base uint64, fn visitFn) bool {
	for index, pte := range table.Entries() {
		if !pte.HasFlags(FlagPresent) {
			continue
		}

		addr := base | uint64(index)*level.EntrySpan()
		if level == Level1 || pte.HasFlags(FlagHugePage) {
			if !fn(mm.VirtAddrTruncate(addr), level, pte) {
				return false
			}
			continue
		}

		next, _ := pte.Frame()
		lower, _ := level.Lower()
		if !visitTable(tables, tables.Table(next), lower, addr, fn) {
			return false
		}
	}
	return true
}
