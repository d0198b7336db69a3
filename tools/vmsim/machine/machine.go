// Package machine boots the kernel's memory management packages on the host.
//
// A Machine owns a block of simulated RAM, builds the page tables a boot
// loader would hand over and then runs kmain.Init against them. Privileged
// operations are replaced by software equivalents: the root register is a
// plain variable, TLB flushes are counted and interrupt masking is tracked
// by a flag. Kernel log output is forwarded to logrus and a kernel panic is
// returned to the caller as ErrKernelHalted.
//
// The kernel packages keep global state, so only one Machine may be booted at
// a time.
package machine

import (
	stdsync "sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"kestrel/kernel/kfmt"
	"kestrel/kernel/kmain"
	"kestrel/kernel/mm"
	"kestrel/kernel/mm/heap"
	"kestrel/kernel/mm/pmm"
	"kestrel/kernel/mm/vmm"
	"kestrel/kernel/sync"
	"kestrel/tools/vmsim/config"
	"kestrel/tools/vmsim/physmem"
)

var (
	// ErrKernelHalted is returned when the kernel panics.
	ErrKernelHalted = errors.New("kernel halted")

	// ErrPageFault is returned when the simulator accesses an unmapped
	// virtual address.
	ErrPageFault = errors.New("page fault")

	// ErrOutOfMemory is returned when the heap cannot satisfy a request.
	ErrOutOfMemory = errors.New("heap exhausted")

	// ErrBusy is returned by Boot while another Machine is running.
	ErrBusy = errors.New("a machine is already running")

	booted atomic.Bool
)

// haltSignal is the value the halt hook panics with.
type haltSignal struct{}

// rootRegister stands in for CR3.
type rootRegister struct {
	v atomic.Uint64
}

func (r *rootRegister) ReadRoot() uint64 { return r.v.Load() }

// softInterrupts tracks the interrupt flag in software.
type softInterrupts struct {
	enabled atomic.Bool
	masks   atomic.Uint64
}

func (s *softInterrupts) Disable() bool {
	s.masks.Add(1)
	return s.enabled.Swap(false)
}

func (s *softInterrupts) Restore(enabled bool) {
	if enabled {
		s.enabled.Store(true)
	}
}

// Info summarizes the state of a Machine.
type Info struct {
	RAM          uint64
	Root         mm.PhysAddr
	HeapStart    mm.VirtAddr
	HeapEnd      mm.VirtAddr
	HeapLimit    mm.VirtAddr
	LoaderFrames uint64
	KernelFrames uint64
	TLBFlushes   uint64
	IRQMasks     uint64
}

// Machine is a booted simulated machine.
type Machine struct {
	cfg *config.Config
	log *logrus.Entry
	ram *physmem.RAM

	root       rootRegister
	interrupts softInterrupts
	tlbFlushes atomic.Uint64
	haltReason atomic.Pointer[string]
	sink       *logSink
	translator *vmm.Translator

	// tables is held for writing while the heap may map new pages and for
	// reading while the page tables are walked outside the heap lock.
	tables stdsync.RWMutex

	loaderFrames                  uint64
	heapStart, heapEnd, heapLimit mm.VirtAddr

	closeOnce stdsync.Once
}

// Boot allocates RAM for cfg, builds the boot page tables and initializes the
// kernel's memory management on top of them.
func Boot(cfg *config.Config, log *logrus.Entry) (*Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !booted.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}

	ram, err := physmem.New(cfg.RAM)
	if err != nil {
		booted.Store(false)
		return nil, err
	}

	m := &Machine{
		cfg:  cfg,
		log:  log,
		ram:  ram,
		sink: newLogSink(log),
	}
	m.interrupts.enabled.Store(true)
	m.translator = vmm.NewTranslator(&m.root, ram)
	m.installHooks()

	if err = m.boot(); err != nil {
		_ = m.Close()
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"root":       vmm.RootFrame(m.root.ReadRoot()).StartAddress().String(),
		"heap_start": m.heapStart.String(),
		"heap_end":   m.heapEnd.String(),
	}).Info("machine booted")
	return m, nil
}

func (m *Machine) installHooks() {
	sync.SetInterruptController(&m.interrupts)
	vmm.SetMMUHooks(
		func(uintptr) { m.tlbFlushes.Add(1) },
		func(root uintptr) { m.root.v.Store(uint64(root)) },
	)
	kfmt.SetLevel(kfmtLevel(m.log.Logger.GetLevel()))
	kfmt.SetOutputSink(m.sink)
	kfmt.SetHaltFn(func() { panic(haltSignal{}) })
}

func (m *Machine) boot() error {
	l := newLoader(m.cfg, m.ram)
	if err := l.load(); err != nil {
		return err
	}

	m.loaderFrames = l.used()
	m.heapStart, m.heapEnd, m.heapLimit = l.heapStart, l.heapEnd, l.heapLimit

	info := kmain.BootInfo{
		PhysMemOffset:     m.cfg.PhysOffset,
		HeapStart:         l.heapStart,
		HeapEnd:           l.heapEnd,
		HeapReserve:       l.heapLimit,
		HeapGrowIncrement: uintptr(m.cfg.HeapGrow),
		MemRegions:        l.memoryMap(),
		KernelStart:       m.cfg.KernelStart,
		KernelEnd:         m.cfg.KernelEnd,
	}
	platform := kmain.Platform{
		Root:        &m.root,
		Tables:      m.ram,
		HeapBacking: heapBacking{m},
	}

	return m.run(func() error {
		if kerr := kmain.Init(info, platform); kerr != nil {
			return errors.Wrap(kerr, "kernel init")
		}
		return nil
	})
}

// Close tears the machine down and restores the kernel's default hooks.
func (m *Machine) Close() error {
	var err error
	m.closeOnce.Do(func() {
		heap.Kernel = heap.Allocator{}
		mm.SetFrameAllocator(nil)
		kfmt.SetOutputSink(nil)
		kfmt.SetHaltFn(nil)
		vmm.SetMMUHooks(nil, nil)
		sync.SetInterruptController(nil)

		err = m.ram.Close()
		booted.Store(false)
	})
	return err
}

// run invokes fn and converts a kernel halt or a simulated fault raised
// while it runs into an error. Once the kernel has halted every later call
// fails with ErrKernelHalted.
func (m *Machine) run(fn func() error) (err error) {
	if reason := m.haltReason.Load(); reason != nil {
		return errors.Wrap(ErrKernelHalted, *reason)
	}

	defer func() {
		switch r := recover().(type) {
		case nil:
		case haltSignal:
			err = m.halt(m.sink.lastPanic())
		case error:
			if !errors.Is(r, ErrPageFault) && !errors.Is(r, physmem.ErrOutOfRange) {
				panic(r)
			}
			// a fault inside the kernel may leave its locks held
			err = m.halt(r.Error())
		default:
			panic(r)
		}
	}()
	return fn()
}

func (m *Machine) halt(reason string) error {
	m.haltReason.CompareAndSwap(nil, &reason)
	m.log.WithField("reason", *m.haltReason.Load()).Error("kernel halted")
	return errors.Wrap(ErrKernelHalted, *m.haltReason.Load())
}

// Info returns a summary of the machine state.
func (m *Machine) Info() Info {
	return Info{
		RAM:          m.ram.Size(),
		Root:         vmm.RootFrame(m.root.ReadRoot()).StartAddress(),
		HeapStart:    m.heapStart,
		HeapEnd:      m.heapEnd,
		HeapLimit:    m.heapLimit,
		LoaderFrames: m.loaderFrames,
		KernelFrames: pmm.AllocatedFrames(),
		TLBFlushes:   m.tlbFlushes.Load(),
		IRQMasks:     m.interrupts.masks.Load(),
	}
}

// Translate returns the physical address addr maps to. ok is false if addr
// is not mapped.
func (m *Machine) Translate(addr mm.VirtAddr) (pa mm.PhysAddr, ok bool, err error) {
	err = m.run(func() error {
		m.tables.RLock()
		defer m.tables.RUnlock()
		pa, ok = m.translator.Translate(addr)
		return nil
	})
	return pa, ok, err
}

// Region is a run of pages mapped to contiguous frames with the same flags.
type Region struct {
	Virt  mm.VirtAddr
	Phys  mm.PhysAddr
	Pages uint64
	Flags vmm.PageTableEntryFlag
}

// Mappings returns every mapping in the active page tables in ascending
// virtual address order. Adjacent pages are merged into a single Region when
// their frames are contiguous and their flags match.
func (m *Machine) Mappings() ([]Region, error) {
	const ignored = vmm.FlagAccessed | vmm.FlagDirty

	var regions []Region
	err := m.run(func() error {
		m.tables.RLock()
		defer m.tables.RUnlock()
		m.translator.VisitMappings(func(addr mm.VirtAddr, level vmm.Level, pte vmm.PageTableEntry) bool {
			pages := level.EntrySpan() / uint64(mm.PageSize)
			flags := pte.Flags() &^ ignored

			if n := len(regions); n > 0 {
				last := &regions[n-1]
				span := last.Pages * uint64(mm.PageSize)
				if flags == last.Flags &&
					uint64(last.Virt)+span == uint64(addr) &&
					uint64(last.Phys)+span == uint64(pte.Address()) {
					last.Pages += pages
					return true
				}
			}

			regions = append(regions, Region{Virt: addr, Phys: pte.Address(), Pages: pages, Flags: flags})
			return true
		})
		return nil
	})
	return regions, err
}

// Allocate reserves memory from the kernel heap.
func (m *Machine) Allocate(size, align uintptr) (addr mm.VirtAddr, err error) {
	err = m.run(func() error {
		m.tables.Lock()
		defer m.tables.Unlock()
		if a := heap.Allocate(size, align); a != 0 {
			addr = mm.VirtAddr(a)
			return nil
		}
		return errors.Wrapf(ErrOutOfMemory, "allocating %d bytes aligned to %d", size, align)
	})
	return addr, err
}

// Deallocate returns memory obtained from Allocate to the kernel heap.
func (m *Machine) Deallocate(addr mm.VirtAddr, size, align uintptr) error {
	return m.run(func() error {
		m.tables.RLock()
		defer m.tables.RUnlock()
		heap.Deallocate(addr.Pointer(), size, align)
		return nil
	})
}

// HeapStats returns the kernel heap statistics.
func (m *Machine) HeapStats() heap.Stats {
	return heap.Kernel.Stats()
}

// HeapHoles returns the kernel heap's free list.
func (m *Machine) HeapHoles() []heap.Hole {
	return heap.Kernel.Holes()
}

// Write copies data to the virtual address addr.
func (m *Machine) Write(addr mm.VirtAddr, data []byte) error {
	return m.access(addr, uint64(len(data)), func(chunk []byte, off uint64) {
		copy(chunk, data[off:])
	})
}

// Read copies n bytes starting at the virtual address addr.
func (m *Machine) Read(addr mm.VirtAddr, n uint64) ([]byte, error) {
	out := make([]byte, n)
	err := m.access(addr, n, func(chunk []byte, off uint64) {
		copy(out[off:], chunk)
	})
	return out, err
}

func (m *Machine) access(addr mm.VirtAddr, n uint64, fn func(chunk []byte, off uint64)) error {
	return m.run(func() error {
		m.tables.RLock()
		defer m.tables.RUnlock()
		for off := uint64(0); off < n; {
			va := addr + mm.VirtAddr(off)
			pa, ok := m.translator.Translate(va)
			if !ok {
				return errors.Wrapf(ErrPageFault, "access to %s", va)
			}

			chunk := min(n-off, uint64(mm.PageSize)-uint64(va.PageOffset()))
			fn(m.ram.Slice(pa, chunk), off)
			off += chunk
		}
		return nil
	})
}
