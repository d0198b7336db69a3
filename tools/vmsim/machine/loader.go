package machine

import (
	"github.com/pkg/errors"

	"kestrel/kernel"
	"kestrel/kernel/mm"
	"kestrel/kernel/mm/pmm"
	"kestrel/kernel/mm/vmm"
	"kestrel/tools/vmsim/config"
	"kestrel/tools/vmsim/physmem"
)

var errLoaderOutOfMemory = &kernel.Error{Module: "loader", Message: "out of memory while building boot page tables"}

// loader plays the part of the boot loader: it builds the initial page
// tables and the memory map handed to the kernel.
//
// Frames are taken from the top of RAM downwards and reported as reserved
// in the memory map so the kernel's frame allocator never hands them out
// again.
type loader struct {
	cfg *config.Config
	ram *physmem.RAM
	pdt vmm.PageDirectoryTable

	// frames in [next, total) are in use by the loader; allocation stops
	// at floor, the first frame past the kernel image.
	floor, next, total uint64

	heapStart, heapEnd, heapLimit mm.VirtAddr
}

func newLoader(cfg *config.Config, ram *physmem.RAM) *loader {
	total := ram.Size() >> mm.PageShift
	return &loader{
		cfg:   cfg,
		ram:   ram,
		floor: (uint64(cfg.KernelEnd) + uint64(mm.PageSize) - 1) >> mm.PageShift,
		next:  total,
		total: total,
	}
}

func (l *loader) allocFrame() (mm.Frame4K, *kernel.Error) {
	if l.next <= l.floor {
		return mm.Frame4K{}, errLoaderOutOfMemory
	}

	l.next--
	return mm.FrameFromNumber[mm.Size4KiB](l.next), nil
}

// allocFrames allocates n physically contiguous frames and returns the
// first one.
func (l *loader) allocFrames(n uint64) (mm.Frame4K, *kernel.Error) {
	if l.next < l.floor+n {
		return mm.Frame4K{}, errLoaderOutOfMemory
	}

	l.next -= n
	return mm.FrameFromNumber[mm.Size4KiB](l.next), nil
}

// used returns the number of frames the loader has allocated.
func (l *loader) used() uint64 {
	return l.total - l.next
}

// load maps all of RAM at the physical memory offset, applies the
// configured mappings, maps the initial heap and activates the result.
func (l *loader) load() error {
	mm.SetFrameAllocator(l.allocFrame)

	root, kerr := l.allocFrame()
	if kerr != nil {
		return errors.Wrap(kerr, "allocating root table")
	}
	l.pdt.Init(root, l.ram)

	physPage := mm.PageContaining[mm.Size4KiB](l.cfg.PhysOffset)
	flags := vmm.FlagPresent | vmm.FlagRW | vmm.FlagGlobal | vmm.FlagNoExecute
	if kerr = l.pdt.MapRange(physPage, mm.FrameFromNumber[mm.Size4KiB](0), l.total, flags); kerr != nil {
		return errors.Wrap(kerr, "mapping physical memory")
	}

	for i, m := range l.cfg.Mappings {
		page := mm.PageContaining[mm.Size4KiB](m.Virt)
		frame := mm.FrameContaining[mm.Size4KiB](m.Phys)
		if kerr = l.pdt.MapRange(page, frame, m.Pages, m.Flags); kerr != nil {
			return errors.Wrapf(kerr, "applying mapping %d", i)
		}
	}

	if err := l.mapHeap(); err != nil {
		return err
	}

	l.pdt.Activate()
	return nil
}

// mapHeap backs the initial heap range with contiguous loader frames. If no
// heap start is configured the heap and its growth window are reserved from
// the top of the heap window.
func (l *loader) mapHeap() error {
	l.heapStart = l.cfg.HeapStart
	if l.heapStart == 0 {
		var kerr *kernel.Error
		reserver := vmm.NewRegionReserver(config.HeapWindowStart, config.HeapWindowEnd)
		if l.heapStart, kerr = reserver.Reserve(l.cfg.HeapSize + l.cfg.HeapReserve); kerr != nil {
			return errors.Wrap(kerr, "reserving heap window")
		}
	}
	l.heapEnd = l.heapStart + mm.VirtAddr(l.cfg.HeapSize)
	l.heapLimit = l.heapEnd + mm.VirtAddr(l.cfg.HeapReserve)

	pages := l.cfg.HeapSize / uint64(mm.PageSize)
	frame, kerr := l.allocFrames(pages)
	if kerr == nil {
		page := mm.PageContaining[mm.Size4KiB](l.heapStart)
		kerr = l.pdt.MapRange(page, frame, pages, vmm.FlagPresent|vmm.FlagRW|vmm.FlagNoExecute)
	}
	if kerr != nil {
		return errors.Wrapf(kerr, "mapping heap at %s", l.heapStart)
	}
	return nil
}

// memoryMap returns the memory map reported to the kernel.
func (l *loader) memoryMap() []pmm.MemRegion {
	regions := []pmm.MemRegion{
		{Start: 0, Length: l.next << mm.PageShift, Type: pmm.RegionAvailable},
	}
	if l.next < l.total {
		regions = append(regions, pmm.MemRegion{
			Start:  l.next << mm.PageShift,
			Length: (l.total - l.next) << mm.PageShift,
			Type:   pmm.RegionReserved,
		})
	}
	return regions
}
