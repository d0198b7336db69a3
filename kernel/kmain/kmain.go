// Package kmain wires the memory management subsystems together at boot.
package kmain

import (
	"kestrel/kernel"
	"kestrel/kernel/cpu"
	"kestrel/kernel/kfmt"
	"kestrel/kernel/mm"
	"kestrel/kernel/mm/heap"
	"kestrel/kernel/mm/pmm"
	"kestrel/kernel/mm/vmm"
)

var (
	errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}
	errHeapNotMapped = &kernel.Error{Module: "kmain", Message: "heap range is not mapped"}
	errHeapReserve   = &kernel.Error{Module: "kmain", Message: "heap reserve ends below the heap end"}
)

// BootInfo carries the values handed over by the boot code.
type BootInfo struct {
	// PhysMemOffset is the virtual address at which all physical memory
	// is linearly mapped.
	PhysMemOffset mm.VirtAddr

	// HeapStart and HeapEnd delimit a virtual range that is already
	// mapped and writable.
	HeapStart, HeapEnd mm.VirtAddr

	// HeapReserve is the end of the virtual window the heap may grow
	// into. Zero means the heap never grows past HeapEnd.
	HeapReserve mm.VirtAddr

	// HeapGrowIncrement is the minimum heap extension size. Zero selects
	// heap.DefaultGrowIncrement.
	HeapGrowIncrement uintptr

	// MemRegions is the physical memory map reported by the boot loader.
	MemRegions []pmm.MemRegion

	// KernelStart and KernelEnd delimit the physical memory occupied by
	// the kernel image.
	KernelStart, KernelEnd mm.PhysAddr
}

// Platform supplies the hardware access used during Init. Zero fields select
// the defaults for running on bare metal.
type Platform struct {
	// Root reads the page table root register. Defaults to cpu.CR3.
	Root vmm.RootReader

	// Tables resolves page table frames. Defaults to a vmm.OffsetResolver
	// at BootInfo.PhysMemOffset.
	Tables vmm.TableResolver

	// HeapBacking gives the heap access to its memory. Defaults to
	// heap.Direct.
	HeapBacking heap.Backing
}

// Init brings up physical memory management, checks that the heap range
// supplied by the boot code is mapped and initializes heap.Kernel over it.
// Heap extensions map newly allocated frames into the active page tables.
func Init(info BootInfo, platform Platform) *kernel.Error {
	if platform.Root == nil {
		platform.Root = cpu.CR3{}
	}
	if platform.Tables == nil {
		platform.Tables = vmm.OffsetResolver{Offset: info.PhysMemOffset}
	}
	if platform.HeapBacking == nil {
		platform.HeapBacking = heap.Direct{}
	}

	if err := pmm.Init(info.MemRegions, info.KernelStart, info.KernelEnd); err != nil {
		return err
	}

	translator := vmm.NewTranslator(platform.Root, platform.Tables)
	if !translator.IsMapped(info.HeapStart, info.HeapEnd) {
		return errHeapNotMapped
	}

	limit := info.HeapReserve
	switch {
	case limit == 0:
		limit = info.HeapEnd
	case limit < info.HeapEnd:
		return errHeapReserve
	}

	increment := info.HeapGrowIncrement
	if increment == 0 {
		increment = heap.DefaultGrowIncrement
	}

	pdt := vmm.ActivePDT(platform.Root, platform.Tables)
	return heap.Init(info.HeapStart.Pointer(), info.HeapEnd.Pointer(),
		heap.WithBacking(platform.HeapBacking),
		heap.WithGrowth(limit.Pointer(), increment, growHeapFn(pdt)),
	)
}

// growHeapFn returns a heap.GrowFn that backs each page of the new range with
// a freshly allocated frame. The page holding start is already mapped unless
// start is page-aligned.
func growHeapFn(pdt vmm.PageDirectoryTable) heap.GrowFn {
	return func(start, end uintptr) *kernel.Error {
		first := (start + mm.PageSize - 1) &^ (mm.PageSize - 1)
		for addr := first; addr < end; addr += mm.PageSize {
			frame, err := mm.AllocFrame()
			if err != nil {
				return err
			}

			page := mm.PageContaining[mm.Size4KiB](mm.VirtAddr(addr))
			if err = pdt.Map(page, frame, vmm.FlagPresent|vmm.FlagRW|vmm.FlagNoExecute); err != nil {
				return err
			}
		}

		kfmt.Logf(kfmt.LevelDebug, "kmain", "mapped heap extension 0x%x - 0x%x", start, end)
		return nil
	}
}

// Kmain is the entry point invoked by the boot code once paging is enabled
// and a stack is available.
//
// Kmain is not expected to return. If it does, the boot code will halt the CPU.
//
//go:noinline
func Kmain(info BootInfo) {
	if err := Init(info, Platform{}); err != nil {
		kfmt.Panic(err)
	}

	// Use kfmt.Panic instead of panic to prevent the compiler from
	// treating kfmt.Panic as dead-code and eliminating it.
	kfmt.Panic(errKmainReturned)
}
