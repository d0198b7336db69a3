package heap

import "unsafe"

// Backing turns a heap address into a pointer the allocator can dereference.
// The allocator only stores 16-byte hole headers and 8-byte slab links, both
// at addresses aligned to their size, so a Backing may translate each page
// independently.
type Backing interface {
	Pointer(addr uintptr) unsafe.Pointer
}

// Direct is the Backing used when heap addresses are mapped in the current
// address space.
type Direct struct{}

// Pointer implements Backing.
func (Direct) Pointer(addr uintptr) unsafe.Pointer {
	return unsafe.Pointer(addr)
}
