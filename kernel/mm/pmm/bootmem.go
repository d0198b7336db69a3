package pmm

import (
	"kestrel/kernel"
	"kestrel/kernel/kfmt"
	"kestrel/kernel/mm"
)

var (
	errBootAllocOutOfMemory = &kernel.Error{Module: "boot_mem_alloc", Message: "out of memory"}
)

// bootMemAllocator implements a rudimentary physical memory allocator which is
// used to bootstrap the kernel.
//
// Frames are handed out in ascending order from the available regions of the
// boot memory map, skipping the frames occupied by the kernel image. The
// allocator only remembers the next candidate frame so frames can never be
// returned to it.
type bootMemAllocator struct {
	regions []MemRegion

	// allocCount tracks the total number of allocated frames.
	allocCount uint64

	// nextFrame is the lowest frame number that may still be free.
	nextFrame uint64

	// Keep track of kernel location so we exclude this region. Frames in
	// [kernelStartFrame, kernelEndFrame) belong to the kernel image.
	kernelStartAddr, kernelEndAddr   mm.PhysAddr
	kernelStartFrame, kernelEndFrame uint64
}

// init sets up the boot memory allocator internal state.
func (alloc *bootMemAllocator) init(regions []MemRegion, kernelStart, kernelEnd mm.PhysAddr) {
	alloc.regions = regions
	alloc.allocCount = 0
	alloc.nextFrame = 0
	alloc.kernelStartAddr = kernelStart
	alloc.kernelEndAddr = kernelEnd

	// round down kernel start and round up kernel end to the nearest page.
	alloc.kernelStartFrame = mm.FrameContaining[mm.Size4KiB](kernelStart).Number()
	alloc.kernelEndFrame = pageAlignUp(uint64(kernelEnd)) >> mm.PageShift
	if kernelEnd <= kernelStart {
		alloc.kernelEndFrame = alloc.kernelStartFrame
	}
}

func pageAlignUp(v uint64) uint64 {
	return (v + uint64(mm.PageSize) - 1) &^ (uint64(mm.PageSize) - 1)
}

// regionFrames returns the first and last whole frame inside region. Reported
// addresses may not be page-aligned so the start is rounded up and the end is
// rounded down. ok is false if the region holds no whole frame.
func regionFrames(region MemRegion) (first, last uint64, ok bool) {
	first = pageAlignUp(region.Start) >> mm.PageShift
	end := region.End() >> mm.PageShift
	if end <= first {
		return 0, 0, false
	}
	return first, end - 1, true
}

// AllocFrame scans the system memory regions reported by the bootloader and
// reserves the next available free frame.
//
// AllocFrame returns an error if no more memory can be allocated.
func (alloc *bootMemAllocator) AllocFrame() (mm.Frame4K, *kernel.Error) {
	for _, region := range alloc.regions {
		if region.Type != RegionAvailable {
			continue
		}

		first, last, ok := regionFrames(region)
		if !ok || alloc.nextFrame > last {
			continue
		}

		candidate := alloc.nextFrame
		if candidate < first {
			candidate = first
		}

		if candidate >= alloc.kernelStartFrame && candidate < alloc.kernelEndFrame {
			candidate = alloc.kernelEndFrame
		}

		// The kernel image may extend to (or past) the region end.
		if candidate > last {
			continue
		}

		alloc.nextFrame = candidate + 1
		alloc.allocCount++
		return mm.FrameFromNumber[mm.Size4KiB](candidate), nil
	}

	return mm.Frame4K{}, errBootAllocOutOfMemory
}

// printMemoryMap prints out the system's memory map and the location of the
// kernel image.
func (alloc *bootMemAllocator) printMemoryMap() {
	kfmt.Logf(kfmt.LevelInfo, "boot_mem_alloc", "system memory map:")
	var totalFree mm.Size
	for _, region := range alloc.regions {
		kfmt.Logf(kfmt.LevelInfo, "boot_mem_alloc", "  [0x%10x - 0x%10x], size: %10d, type: %s", region.Start, region.End(), region.Length, region.Type.String())

		if region.Type == RegionAvailable {
			totalFree += mm.Size(region.Length)
		}
	}
	kfmt.Logf(kfmt.LevelInfo, "boot_mem_alloc", "available memory: %dKb", uint64(totalFree/mm.Kb))
	kfmt.Logf(kfmt.LevelInfo, "boot_mem_alloc", "kernel loaded at 0x%x - 0x%x", uint64(alloc.kernelStartAddr), uint64(alloc.kernelEndAddr))
	kfmt.Logf(kfmt.LevelInfo, "boot_mem_alloc", "size: %d bytes, reserved pages: %d",
		uint64(alloc.kernelEndAddr)-uint64(alloc.kernelStartAddr),
		alloc.kernelEndFrame-alloc.kernelStartFrame,
	)
}
