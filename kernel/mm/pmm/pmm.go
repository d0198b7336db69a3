// Package pmm hands out physical memory frames to the rest of the kernel.
package pmm

import (
	"kestrel/kernel"
	"kestrel/kernel/mm"
)

var (
	// bootAlloc is the page allocator used when the kernel boots.
	bootAlloc bootMemAllocator

	errNoMemoryMap = &kernel.Error{Module: "pmm", Message: "boot memory map contains no available region"}
)

// Init sets up the kernel physical memory allocation sub-system using the
// memory map supplied by the boot loader and registers the boot memory
// allocator as the active frame allocator. Frames that overlap the kernel
// image [kernelStart, kernelEnd) are never handed out.
func Init(regions []MemRegion, kernelStart, kernelEnd mm.PhysAddr) *kernel.Error {
	var haveFree bool
	for _, region := range regions {
		if _, _, ok := regionFrames(region); ok && region.Type == RegionAvailable {
			haveFree = true
			break
		}
	}

	if !haveFree {
		return errNoMemoryMap
	}

	bootAlloc.init(regions, kernelStart, kernelEnd)
	bootAlloc.printMemoryMap()
	mm.SetFrameAllocator(earlyAllocFrame)
	return nil
}

// AllocatedFrames returns the number of frames handed out since Init.
func AllocatedFrames() uint64 {
	return bootAlloc.allocCount
}

func earlyAllocFrame() (mm.Frame4K, *kernel.Error) {
	return bootAlloc.AllocFrame()
}
