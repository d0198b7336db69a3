// Package heap implements the kernel's dynamic memory allocator: a first-fit
// free list kept inside the free memory itself.
package heap

import (
	"kestrel/kernel"
	"kestrel/kernel/mm"
	"unsafe"
)

const (
	// MinHoleSize is the smallest block the heap tracks. Requests are
	// rounded up to a multiple of it so that every hole can hold its own
	// header.
	MinHoleSize = uintptr(unsafe.Sizeof(hole{}))
)

var (
	errHeapCorrupted = &kernel.Error{Module: "heap", Message: "freed block overlaps a free region"}
)

// hole is the header stored at the start of every free region.
type hole struct {
	size uintptr
	next uintptr
}

// Hole describes a free region of the heap.
type Hole struct {
	Addr uintptr
	Size uintptr
}

// Heap is a first-fit allocator over the address range [Bottom(), Top()).
// Free regions form a singly linked list sorted by address whose nodes live
// at the start of each region. Address 0 terminates the list, so a heap can
// never start at 0. Heap is not safe for concurrent use.
type Heap struct {
	bottom, top uintptr
	backing     Backing

	// head is a sentinel whose next field points to the lowest hole.
	head hole

	used uintptr
}

func alignUp(v, align uintptr) uintptr {
	return (v + align - 1) &^ (align - 1)
}

// maxBlockSize is the largest request whose size can be rounded up to a
// multiple of MinHoleSize without wrapping.
const maxBlockSize = ^uintptr(0) &^ (MinHoleSize - 1)

// normalize returns the block size and alignment actually used for a request.
// It returns false if size cannot be rounded up to a multiple of MinHoleSize.
func normalize(size, align uintptr) (uintptr, uintptr, bool) {
	if size > maxBlockSize {
		return 0, 0, false
	}
	if size < MinHoleSize {
		size = MinHoleSize
	}
	if align < MinHoleSize {
		align = MinHoleSize
	}
	return alignUp(size, MinHoleSize), align, true
}

// Init sets up the heap over [start, start+size). The range is trimmed to
// MinHoleSize boundaries and must be accessible through backing.
func (h *Heap) Init(start, size uintptr, backing Backing) {
	h.backing = backing
	h.bottom = alignUp(start, MinHoleSize)
	h.top = h.bottom
	h.used = 0
	h.head = hole{}

	if end := start + size; end > h.bottom {
		h.Extend((end - h.bottom) &^ (MinHoleSize - 1))
	}
}

func (h *Heap) node(addr uintptr) *hole {
	return (*hole)(h.backing.Pointer(addr))
}

// Bottom returns the first address managed by the heap.
func (h *Heap) Bottom() uintptr { return h.bottom }

// Top returns the address past the end of the heap.
func (h *Heap) Top() uintptr { return h.top }

// Size returns the number of bytes managed by the heap.
func (h *Heap) Size() uintptr { return h.top - h.bottom }

// Used returns the number of bytes handed out to callers.
func (h *Heap) Used() uintptr { return h.used }

// Free returns the number of bytes held by holes.
func (h *Heap) Free() uintptr { return h.Size() - h.used }

// AllocateFirstFit reserves size bytes aligned to align (a power of two) from
// the lowest hole that can hold them. It returns false if no hole is large
// enough.
func (h *Heap) AllocateFirstFit(size, align uintptr) (uintptr, bool) {
	size, align, ok := normalize(size, align)
	if !ok || size > h.Size() {
		return 0, false
	}

	for prev := &h.head; prev.next != 0; {
		curAddr := prev.next
		cur := h.node(curAddr)

		// Sizes and addresses are multiples of MinHoleSize and align is
		// at least MinHoleSize, so both paddings are either zero or
		// large enough to hold a hole header.
		allocStart := alignUp(curAddr, align)
		allocEnd := allocStart + size
		holeEnd := curAddr + cur.size
		if allocStart < curAddr || allocEnd < allocStart || allocEnd > holeEnd {
			prev = cur
			continue
		}

		next := cur.next
		if allocEnd < holeEnd {
			back := h.node(allocEnd)
			back.size, back.next = holeEnd-allocEnd, next
			next = allocEnd
		}

		if allocStart > curAddr {
			// The front padding stays in place as a smaller hole.
			cur.size, cur.next = allocStart-curAddr, next
		} else {
			prev.next = next
		}

		h.used += size
		return allocStart, true
	}

	return 0, false
}

// Deallocate returns a block obtained from AllocateFirstFit with the same
// size and align to the heap, merging it with adjacent holes.
func (h *Heap) Deallocate(addr, size, align uintptr) {
	size, _, ok := normalize(size, align)
	if !ok {
		return
	}
	h.insertHole(addr, size)
	h.used -= size
}

// insertHole links [addr, addr+size) into the sorted hole list and coalesces
// it with its neighbours.
func (h *Heap) insertHole(addr, size uintptr) {
	prev, prevAddr := &h.head, uintptr(0)
	for prev.next != 0 && prev.next < addr {
		prevAddr = prev.next
		prev = h.node(prevAddr)
	}

	next := prev.next
	mm.Assert(prevAddr == 0 || prevAddr+prev.size <= addr, errHeapCorrupted)
	mm.Assert(next == 0 || addr+size <= next, errHeapCorrupted)

	// merge with the following hole
	if next != 0 && addr+size == next {
		nextNode := h.node(next)
		size += nextNode.size
		next = nextNode.next
	}

	// merge with the preceding hole
	if prevAddr != 0 && prevAddr+prev.size == addr {
		prev.size += size
		prev.next = next
		return
	}

	n := h.node(addr)
	n.size, n.next = size, next
	prev.next = addr
}

// Extend grows the heap by by bytes past Top. The caller must ensure the new
// range is accessible through the heap's Backing. by must be a multiple of
// MinHoleSize.
func (h *Heap) Extend(by uintptr) {
	if by == 0 {
		return
	}

	start := h.top
	h.top += by
	h.insertHole(start, by)
}

// Holes returns the current free list in address order.
func (h *Heap) Holes() []Hole {
	var holes []Hole
	for addr := h.head.next; addr != 0; {
		n := h.node(addr)
		holes = append(holes, Hole{Addr: addr, Size: n.size})
		addr = n.next
	}
	return holes
}
