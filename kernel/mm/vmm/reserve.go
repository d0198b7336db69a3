package vmm

import (
	"kestrel/kernel"
	"kestrel/kernel/mm"
)

var errReserveNoSpace = &kernel.Error{Module: "vmm", Message: "remaining virtual address space not large enough to satisfy reservation request"}

// RegionReserver hands out page-aligned virtual address ranges from a fixed
// window. Ranges are carved from the end of the window towards its start and
// are never returned.
type RegionReserver struct {
	floor mm.VirtAddr

	// lastUsed is the start of the most recent reservation and is
	// decreased by each request.
	lastUsed mm.VirtAddr
}

// NewRegionReserver returns a reserver for the window [start, end). Both ends
// are rounded inwards to page boundaries.
func NewRegionReserver(start, end mm.VirtAddr) *RegionReserver {
	floor, ok := start.AlignUp(uint64(mm.PageSize))
	if !ok {
		floor = end
	}

	top := end.AlignDown(uint64(mm.PageSize))
	if top < floor {
		top = floor
	}

	return &RegionReserver{floor: floor, lastUsed: top}
}

// Reserve reserves a region of at least size bytes and returns its start.
// size is rounded up to a multiple of mm.PageSize.
func (r *RegionReserver) Reserve(size uint64) (mm.VirtAddr, *kernel.Error) {
	// reserving a region of the requested size would cross the floor
	if size > r.Remaining() {
		return 0, errReserveNoSpace
	}

	size = (size + uint64(mm.PageSize) - 1) &^ (uint64(mm.PageSize) - 1)
	if size > r.Remaining() {
		return 0, errReserveNoSpace
	}

	r.lastUsed -= mm.VirtAddr(size)
	return r.lastUsed, nil
}

// Remaining returns the number of bytes that can still be reserved.
func (r *RegionReserver) Remaining() uint64 {
	return uint64(r.lastUsed - r.floor)
}
