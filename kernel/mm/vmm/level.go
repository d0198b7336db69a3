package vmm

import "kestrel/kernel/mm"

// Level identifies a page table level. Level4 tables are roots and Level1
// tables map 4KiB frames.
type Level uint8

// The paging levels of the amd64 architecture.
const (
	Level1 Level = iota + 1
	Level2
	Level3
	Level4

	// RootLevel is the level of the table referenced by the root register.
	RootLevel = Level4
)

// Lower returns the level below l. The second result is false for Level1.
func (l Level) Lower() (Level, bool) {
	if l <= Level1 {
		return 0, false
	}
	return l - 1, true
}

// Higher returns the level above l. The second result is false for the root
// level.
func (l Level) Higher() (Level, bool) {
	if l >= RootLevel {
		return 0, false
	}
	return l + 1, true
}

// EntrySpan returns the size of the virtual range covered by a single entry of
// a table at this level.
func (l Level) EntrySpan() uint64 {
	return 1 << (mm.PageOffsetBits + uint64(l-1)*mm.TableIndexBits)
}

// TableSpan returns the size of the virtual range covered by a whole table at
// this level.
func (l Level) TableSpan() uint64 {
	return l.EntrySpan() * EntriesPerTable
}

// Index returns the entry of a table at this level that addr goes through.
func (l Level) Index(addr mm.VirtAddr) mm.TableIndex {
	return addr.TableIndex(uint8(l))
}

func (l Level) String() string {
	return "P" + string(rune('0'+l))
}
