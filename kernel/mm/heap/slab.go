package heap

import (
	"kestrel/kernel"
	"kestrel/kernel/mm"
	"kestrel/kernel/sync"
)

var (
	errSlabObjectSize = &kernel.Error{Module: "slab", Message: "object size must be between 1 byte and a page"}
)

// SlabCache hands out fixed-size objects carved from page-sized slabs that
// are obtained from an Allocator. Freed objects are kept on an in-band free
// list and reused; slabs are never returned to the allocator.
type SlabCache struct {
	lock sync.IRQSpinlock

	alloc   *Allocator
	objSize uintptr

	// freeList points to the first free object. Each free object stores
	// the address of the next one in its first word.
	freeList uintptr

	slabs uint64
	inUse uint64
}

// NewSlabCache returns a cache for objects of objSize bytes aligned to align.
func NewSlabCache(alloc *Allocator, objSize, align uintptr) (*SlabCache, *kernel.Error) {
	if align < uintptr(1)<<mm.PointerShift {
		align = uintptr(1) << mm.PointerShift
	}
	if align&(align-1) != 0 {
		return nil, errBadAlignment
	}

	objSize = alignUp(objSize, align)
	if objSize == 0 || objSize > mm.PageSize {
		return nil, errSlabObjectSize
	}

	return &SlabCache{alloc: alloc, objSize: objSize}, nil
}

// ObjectSize returns the size of the objects served by the cache, including
// alignment padding.
func (c *SlabCache) ObjectSize() uintptr {
	return c.objSize
}

func (c *SlabCache) link(addr uintptr) *uintptr {
	return (*uintptr)(c.alloc.backing.Pointer(addr))
}

// grow carves a new slab into free objects. It returns false if the
// underlying allocator is out of memory.
func (c *SlabCache) grow() bool {
	slab := c.alloc.Allocate(mm.PageSize, mm.PageSize)
	if slab == 0 {
		return false
	}

	// Thread the objects in reverse so that they are handed out in
	// ascending address order.
	count := mm.PageSize / c.objSize
	for i := count; i > 0; i-- {
		obj := slab + (i-1)*c.objSize
		*c.link(obj) = c.freeList
		c.freeList = obj
	}

	c.slabs++
	return true
}

// Alloc returns the address of a free object or 0 if no memory is left.
func (c *SlabCache) Alloc() uintptr {
	c.lock.Acquire()
	defer c.lock.Release()

	if c.freeList == 0 && !c.grow() {
		return 0
	}

	obj := c.freeList
	c.freeList = *c.link(obj)
	c.inUse++
	return obj
}

// Free returns an object obtained from Alloc to the cache.
func (c *SlabCache) Free(obj uintptr) {
	if obj == 0 {
		return
	}

	c.lock.Acquire()
	defer c.lock.Release()

	*c.link(obj) = c.freeList
	c.freeList = obj
	c.inUse--
}

// InUse returns the number of objects handed out and not yet freed.
func (c *SlabCache) InUse() uint64 {
	c.lock.Acquire()
	defer c.lock.Release()
	return c.inUse
}

// Slabs returns the number of slabs obtained from the allocator.
func (c *SlabCache) Slabs() uint64 {
	c.lock.Acquire()
	defer c.lock.Release()
	return c.slabs
}
