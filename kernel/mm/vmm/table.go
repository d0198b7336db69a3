package vmm

import (
	"iter"
	"kestrel/kernel"
	"kestrel/kernel/mm"
	"unsafe"
)

// PageTable is a single node of the paging tree: 512 entries filling exactly
// one 4KiB frame. The zero value is an empty table.
type PageTable struct {
	entries [EntriesPerTable]PageTableEntry
}

// The MMU reads tables in place; their size must match a frame exactly.
const (
	_ uintptr = unsafe.Sizeof(PageTable{}) - mm.PageSize
	_ uintptr = mm.PageSize - unsafe.Sizeof(PageTable{})
)

// Entry returns a pointer to the entry at index.
func (t *PageTable) Entry(index mm.TableIndex) *PageTableEntry {
	return &t.entries[index]
}

// All returns an index-ordered sequence over pointers to the table entries.
// Entries may be modified through the yielded pointers.
func (t *PageTable) All() iter.Seq2[mm.TableIndex, *PageTableEntry] {
	return func(yield func(mm.TableIndex, *PageTableEntry) bool) {
		for i := range t.entries {
			if !yield(mm.TableIndex(i), &t.entries[i]) {
				return
			}
		}
	}
}

// Entries returns an index-ordered sequence over copies of the table entries.
func (t *PageTable) Entries() iter.Seq2[mm.TableIndex, PageTableEntry] {
	return func(yield func(mm.TableIndex, PageTableEntry) bool) {
		for i, pte := range t.entries {
			if !yield(mm.TableIndex(i), pte) {
				return
			}
		}
	}
}

// IsEmpty returns true if every entry of the table is unused.
func (t *PageTable) IsEmpty() bool {
	for _, pte := range t.entries {
		if !pte.IsUnused() {
			return false
		}
	}
	return true
}

// Reset marks every entry of the table as unused.
func (t *PageTable) Reset() {
	kernel.Memset(uintptr(unsafe.Pointer(&t.entries[0])), 0, unsafe.Sizeof(t.entries))
}
