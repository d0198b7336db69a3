package vmm

import (
	"kestrel/kernel/mm"
	"unsafe"
)

// TableResolver gives access to the page table stored in a physical frame.
// It is the only place where physical memory is turned into a Go pointer.
type TableResolver interface {
	Table(frame mm.Frame4K) *PageTable
}

// OffsetResolver resolves tables through a linear mapping of all physical
// memory starting at Offset.
type OffsetResolver struct {
	Offset mm.VirtAddr
}

// Table implements TableResolver.
func (r OffsetResolver) Table(frame mm.Frame4K) *PageTable {
	return (*PageTable)(unsafe.Pointer(r.Pointer(frame.StartAddress())))
}

// Pointer returns the virtual address at which addr is visible.
func (r OffsetResolver) Pointer(addr mm.PhysAddr) uintptr {
	return uintptr(r.Offset) + uintptr(addr)
}
