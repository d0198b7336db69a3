package vmm

import (
	"kestrel/kernel"
	"kestrel/kernel/mm"
	"testing"
)

var errArenaFull = &kernel.Error{Module: "test", Message: "arena exhausted"}

// tableArena backs page tables with a slice indexed by frame number.
type tableArena struct {
	t       *testing.T
	tables  []PageTable
	next    uint64
	lookups []uint64
}

func newTableArena(t *testing.T, frames int) *tableArena {
	return &tableArena{t: t, tables: make([]PageTable, frames)}
}

func (a *tableArena) Table(frame mm.Frame4K) *PageTable {
	n := frame.Number()
	if n >= uint64(len(a.tables)) {
		a.t.Fatalf("resolver asked for frame %d outside the arena", n)
	}
	a.lookups = append(a.lookups, n)
	return &a.tables[n]
}

func (a *tableArena) allocFrame() (mm.Frame4K, *kernel.Error) {
	if a.next >= uint64(len(a.tables)) {
		return mm.Frame4K{}, errArenaFull
	}
	a.next++
	return mm.FrameFromNumber[mm.Size4KiB](a.next - 1), nil
}

// newPDT allocates a root table from the arena and registers the arena as the
// active frame allocator.
func (a *tableArena) newPDT() PageDirectoryTable {
	mm.SetFrameAllocator(a.allocFrame)
	root, err := a.allocFrame()
	if err != nil {
		a.t.Fatal(err)
	}

	var pdt PageDirectoryTable
	pdt.Init(root, a)
	return pdt
}

type fixedRoot uint64

func (r fixedRoot) ReadRoot() uint64 { return uint64(r) }

func page4K(addr uint64) mm.Page4K {
	return mm.PageContaining[mm.Size4KiB](mm.VirtAddrTruncate(addr))
}

func frame4K(addr uint64) mm.Frame4K {
	return mm.FrameContaining[mm.Size4KiB](mm.PhysAddr(addr))
}

func mockMMU(t *testing.T) (flushed *[]uintptr, activated *[]uintptr) {
	var f, s []uintptr
	SetMMUHooks(
		func(addr uintptr) { f = append(f, addr) },
		func(addr uintptr) { s = append(s, addr) },
	)
	t.Cleanup(func() {
		SetMMUHooks(nil, nil)
		mm.SetFrameAllocator(nil)
	})
	return &f, &s
}
