package machine

import (
	"unsafe"

	"github.com/pkg/errors"

	"kestrel/kernel/mm"
)

// heapBacking resolves heap addresses through the active page tables, as
// the MMU would. It is only called by the heap, whose callers hold m.tables.
type heapBacking struct {
	m *Machine
}

func (b heapBacking) Pointer(addr uintptr) unsafe.Pointer {
	va := mm.VirtAddr(addr)
	pa, ok := b.m.translator.Translate(va)
	if !ok {
		panic(errors.Wrapf(ErrPageFault, "heap access to %s", va))
	}
	return b.m.ram.Pointer(pa)
}
