package vmm

import "kestrel/kernel/mm"

// RootReader reads the raw value of the page table root register. The high
// bits hold the physical address of the root table; the low 12 bits are
// control flags.
type RootReader interface {
	ReadRoot() uint64
}

// RootFrame extracts the root table frame from a raw root register value.
func RootFrame(raw uint64) mm.Frame4K {
	return mm.FrameContaining[mm.Size4KiB](mm.PhysAddrTruncate(raw &^ rootFlagsMask))
}
