package mm

import (
	"kestrel/kernel"
	"strconv"
)

// PageSizer describes one of the page sizes supported by the MMU.
type PageSizer interface {
	// Bytes returns the size of the page in bytes. It is always a power
	// of two.
	Bytes() uint64

	// Name returns a short human-readable name such as "4KiB".
	Name() string
}

// Size4KiB is the base page size.
type Size4KiB struct{}

// Bytes implements PageSizer.
func (Size4KiB) Bytes() uint64 { return uint64(PageSize) }

// Name implements PageSizer.
func (Size4KiB) Name() string { return "4KiB" }

// Size2MiB is the page size mapped by a level 2 huge page entry.
type Size2MiB struct{}

// Bytes implements PageSizer.
func (Size2MiB) Bytes() uint64 { return uint64(2 * Mb) }

// Name implements PageSizer.
func (Size2MiB) Name() string { return "2MiB" }

// Size1GiB is the page size mapped by a level 3 huge page entry.
type Size1GiB struct{}

// Bytes implements PageSizer.
func (Size1GiB) Bytes() uint64 { return uint64(Gb) }

// Name implements PageSizer.
func (Size1GiB) Name() string { return "1GiB" }

func sizeOf[S PageSizer]() uint64 {
	var s S
	return s.Bytes()
}

var (
	// ErrFrameNotAligned is returned when constructing a frame from an
	// address that is not a multiple of the frame size.
	ErrFrameNotAligned = &kernel.Error{Module: "mm", Message: "address is not aligned to the frame size"}

	// ErrPageNotAligned is returned when constructing a page from an
	// address that is not a multiple of the page size.
	ErrPageNotAligned = &kernel.Error{Module: "mm", Message: "address is not aligned to the page size"}
)

// Frame is a physical memory frame of size S. Its start address is always a
// multiple of S.
type Frame[S PageSizer] struct {
	start PhysAddr
}

// Frame4K is a frame of the base page size.
type Frame4K = Frame[Size4KiB]

// FrameStartingAt returns the frame that starts at addr or
// ErrFrameNotAligned if addr is not aligned to S.
func FrameStartingAt[S PageSizer](addr PhysAddr) (Frame[S], *kernel.Error) {
	Assert(addr.IsValid(), ErrPhysAddrRange)
	if !addr.IsAligned(sizeOf[S]()) {
		return Frame[S]{}, ErrFrameNotAligned
	}
	return Frame[S]{start: addr}, nil
}

// FrameContaining returns the frame that contains addr.
func FrameContaining[S PageSizer](addr PhysAddr) Frame[S] {
	Assert(addr.IsValid(), ErrPhysAddrRange)
	return Frame[S]{start: addr.AlignDown(sizeOf[S]())}
}

// FrameFromNumber returns the n-th frame of size S.
func FrameFromNumber[S PageSizer](n uint64) Frame[S] {
	return FrameContaining[S](PhysAddrTruncate(n * sizeOf[S]()))
}

// StartAddress returns the first physical address of the frame.
func (f Frame[S]) StartAddress() PhysAddr {
	return f.start
}

// Number returns the index of the frame counting from physical address 0.
func (f Frame[S]) Number() uint64 {
	return uint64(f.start) / sizeOf[S]()
}

// Size returns the frame size in bytes.
func (f Frame[S]) Size() uint64 {
	return sizeOf[S]()
}

func (f Frame[S]) String() string {
	var s S
	return "Frame[" + s.Name() + "](0x" + strconv.FormatUint(uint64(f.start), 16) + ")"
}

// Page is a virtual memory page of size S. Its start address is always a
// multiple of S.
type Page[S PageSizer] struct {
	start VirtAddr
}

// Page4K is a page of the base page size.
type Page4K = Page[Size4KiB]

// PageStartingAt returns the page that starts at addr or ErrPageNotAligned if
// addr is not aligned to S.
func PageStartingAt[S PageSizer](addr VirtAddr) (Page[S], *kernel.Error) {
	if !addr.IsAligned(sizeOf[S]()) {
		return Page[S]{}, ErrPageNotAligned
	}
	return Page[S]{start: addr}, nil
}

// PageContaining returns the page that contains addr.
func PageContaining[S PageSizer](addr VirtAddr) Page[S] {
	return Page[S]{start: addr.AlignDown(sizeOf[S]())}
}

// StartAddress returns the first virtual address of the page.
func (p Page[S]) StartAddress() VirtAddr {
	return p.start
}

// Next returns the page that follows p. The second result is false if p is
// the last page of its canonical half.
func (p Page[S]) Next() (Page[S], bool) {
	next, err := p.start.Add(sizeOf[S]())
	if err != nil {
		return Page[S]{}, false
	}
	return Page[S]{start: next}, true
}

func (p Page[S]) String() string {
	var s S
	return "Page[" + s.Name() + "](0x" + strconv.FormatUint(uint64(p.start), 16) + ")"
}

var (
	// frameAllocator points to a frame allocator function registered using
	// SetFrameAllocator.
	frameAllocator FrameAllocatorFn

	errNoFrameAllocator = &kernel.Error{Module: "mm", Message: "no frame allocator registered"}
)

// FrameAllocatorFn is a function that can allocate physical frames.
type FrameAllocatorFn func() (Frame4K, *kernel.Error)

// SetFrameAllocator registers a frame allocator function that will be used by
// the vmm code when new physical frames need to be allocated.
func SetFrameAllocator(allocFn FrameAllocatorFn) { frameAllocator = allocFn }

// AllocFrame allocates a new physical frame using the currently active
// physical frame allocator.
func AllocFrame() (Frame4K, *kernel.Error) {
	if frameAllocator == nil {
		return Frame4K{}, errNoFrameAllocator
	}
	return frameAllocator()
}
