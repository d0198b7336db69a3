package heap

import (
	"kestrel/kernel"
	"kestrel/kernel/kfmt"
	"kestrel/kernel/mm"
	"kestrel/kernel/sync"
)

// DefaultGrowIncrement is the minimum number of bytes by which the heap is
// extended when an allocation cannot be satisfied.
const DefaultGrowIncrement = uintptr(100 * mm.Kb)

var (
	// panicFn is mocked by tests.
	panicFn = kfmt.Panic

	errNotInitialized     = &kernel.Error{Module: "heap", Message: "allocator used before initialization"}
	errAlreadyInitialized = &kernel.Error{Module: "heap", Message: "allocator already initialized"}
	errInvalidRange       = &kernel.Error{Module: "heap", Message: "heap range end must be above its start"}
	errInvalidLimit       = &kernel.Error{Module: "heap", Message: "heap limit must not be below the heap end"}
	errBadAlignment       = &kernel.Error{Module: "heap", Message: "alignment must be a power of two"}
)

// GrowFn makes the virtual range [start, end) accessible so the heap can be
// extended over it.
type GrowFn func(start, end uintptr) *kernel.Error

// Option configures an Allocator during Init.
type Option func(*Allocator)

// WithBacking sets the Backing used to access heap memory. The default is
// Direct.
func WithBacking(b Backing) Option {
	return func(a *Allocator) { a.backing = b }
}

// WithGrowth allows the heap to be extended up to limit. Extensions grow the
// heap by at least increment bytes; fn is invoked for every extension before
// the new range is used.
func WithGrowth(limit, increment uintptr, fn GrowFn) Option {
	return func(a *Allocator) {
		a.limit = limit
		a.increment = increment
		a.growFn = fn
	}
}

// Stats is a snapshot of an Allocator's state.
type Stats struct {
	Bottom, Top, Limit uintptr
	Used, Free         uintptr
	Allocations        uint64
	Deallocations      uint64
	Extensions         uint64
	ExtensionAttempts  uint64
}

// Allocator is a lock-guarded Heap with an explicit lifecycle: it is unusable
// until Init succeeds and it is never torn down afterwards. The lock masks
// interrupts so the allocator may be used from interrupt handlers.
//
// Heap growth is bounded by the limit set at Init. Without WithGrowth the
// limit is the end of the initial range and the heap never grows.
type Allocator struct {
	lock        sync.IRQSpinlock
	initialized bool
	heap        Heap

	backing   Backing
	limit     uintptr
	increment uintptr
	growFn    GrowFn

	allocations       uint64
	deallocations     uint64
	extensions        uint64
	extensionAttempts uint64
}

// Init sets up the allocator over [start, end), which the caller guarantees to
// be mapped and writable.
func (a *Allocator) Init(start, end uintptr, opts ...Option) *kernel.Error {
	a.lock.Acquire()
	defer a.lock.Release()

	switch {
	case a.initialized:
		return errAlreadyInitialized
	case start == 0 || end <= start || end-start < MinHoleSize:
		return errInvalidRange
	}

	a.backing, a.limit, a.increment, a.growFn = Direct{}, end, DefaultGrowIncrement, nil
	for _, opt := range opts {
		opt(a)
	}

	switch {
	case a.limit < end:
		return errInvalidLimit
	case a.growFn == nil:
		a.limit = end
	}

	a.heap.Init(start, end-start, a.backing)
	a.initialized = true

	kfmt.Logf(kfmt.LevelInfo, "heap", "initialized at 0x%x - 0x%x, limit: 0x%x", start, end, a.limit)
	return nil
}

// Initialized reports whether Init has completed.
func (a *Allocator) Initialized() bool {
	a.lock.Acquire()
	defer a.lock.Release()
	return a.initialized
}

// Allocate reserves size bytes aligned to align and returns their address. If
// no free region is large enough the heap is extended once and the request is
// retried. Allocate returns 0 if the request cannot be satisfied within the
// heap limit.
//
// Calling Allocate before Init halts the kernel.
func (a *Allocator) Allocate(size, align uintptr) uintptr {
	if align == 0 {
		align = 1
	}
	if align&(align-1) != 0 {
		panicFn(errBadAlignment)
		return 0
	}

	a.lock.Acquire()
	if !a.initialized {
		a.lock.Release()
		panicFn(errNotInitialized)
		return 0
	}

	addr, ok := a.heap.AllocateFirstFit(size, align)
	if !ok && a.extend(size, align) {
		addr, ok = a.heap.AllocateFirstFit(size, align)
	}

	if ok {
		a.allocations++
	}
	a.lock.Release()

	return addr
}

// extend grows the heap so that a request for size bytes aligned to align can
// be satisfied, clamping the growth to the heap limit. It returns false if the
// limit has been reached or the request can never fit. Errors reported by the
// GrowFn are fatal.
func (a *Allocator) extend(size, align uintptr) bool {
	size, align, ok := normalize(size, align)
	if !ok {
		return false
	}

	a.extensionAttempts++
	top := a.heap.Top()
	room := (a.limit - top) &^ (MinHoleSize - 1)

	by := alignUp(size+align, mm.PageSize)
	if by < size {
		// size+align overflowed
		by = room
	}
	if by < a.increment {
		by = a.increment
	}
	if by > room {
		by = room
	}
	by &^= MinHoleSize - 1

	if by == 0 {
		kfmt.Logf(kfmt.LevelWarn, "heap", "cannot grow past limit 0x%x", a.limit)
		return false
	}

	if err := a.growFn(top, top+by); err != nil {
		panicFn(err)
		return false
	}

	a.heap.Extend(by)
	a.extensions++
	kfmt.Logf(kfmt.LevelDebug, "heap", "extended by %d bytes to 0x%x", uint64(by), a.heap.Top())
	return true
}

// Deallocate returns a block obtained from Allocate. size and align must match
// the values passed to Allocate.
//
// Calling Deallocate before Init halts the kernel.
func (a *Allocator) Deallocate(addr, size, align uintptr) {
	a.lock.Acquire()
	if !a.initialized {
		a.lock.Release()
		panicFn(errNotInitialized)
		return
	}

	if addr != 0 {
		a.heap.Deallocate(addr, size, align)
		a.deallocations++
	}
	a.lock.Release()
}

// Stats returns a snapshot of the allocator state.
func (a *Allocator) Stats() Stats {
	a.lock.Acquire()
	defer a.lock.Release()

	return Stats{
		Bottom:            a.heap.Bottom(),
		Top:               a.heap.Top(),
		Limit:             a.limit,
		Used:              a.heap.Used(),
		Free:              a.heap.Free(),
		Allocations:       a.allocations,
		Deallocations:     a.deallocations,
		Extensions:        a.extensions,
		ExtensionAttempts: a.extensionAttempts,
	}
}

// Holes returns the allocator's free list in address order.
func (a *Allocator) Holes() []Hole {
	a.lock.Acquire()
	defer a.lock.Release()
	return a.heap.Holes()
}

// Kernel is the allocator that backs every dynamic allocation made by the
// kernel. It is initialized once during boot by Init.
var Kernel Allocator

// Init initializes the Kernel allocator.
func Init(start, end uintptr, opts ...Option) *kernel.Error {
	return Kernel.Init(start, end, opts...)
}

// Allocate reserves memory from the Kernel allocator.
func Allocate(size, align uintptr) uintptr {
	return Kernel.Allocate(size, align)
}

// Deallocate returns memory to the Kernel allocator.
func Deallocate(addr, size, align uintptr) {
	Kernel.Deallocate(addr, size, align)
}
