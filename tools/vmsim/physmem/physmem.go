// Package physmem provides the simulated physical memory of a vmsim machine.
package physmem

import (
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"kestrel/kernel/mm"
	"kestrel/kernel/mm/vmm"
)

// ErrOutOfRange is raised when an access falls outside the simulated RAM.
var ErrOutOfRange = errors.New("physical address outside of ram")

// RAM is an anonymous memory mapping that stands in for the machine's
// physical memory. Physical address 0 is the first byte of the mapping.
//
// RAM implements vmm.TableResolver so the kernel's page table code can
// operate on tables stored inside it.
type RAM struct {
	mem []byte
}

var _ vmm.TableResolver = (*RAM)(nil)

// New maps size bytes of zeroed memory. size must be a multiple of
// mm.PageSize.
func New(size uint64) (*RAM, error) {
	if size == 0 || size%uint64(mm.PageSize) != 0 {
		return nil, errors.Errorf("ram size %d is not a non-zero multiple of the page size", size)
	}

	// Use mmap instead of make([]byte) so tables stored in RAM are
	// page-aligned on the host as well.
	mem, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, errors.Wrap(err, "mapping simulated ram")
	}
	if base := uintptr(unsafe.Pointer(&mem[0])); base%uintptr(unix.Getpagesize()) != 0 {
		_ = unix.Munmap(mem)
		return nil, errors.Errorf("simulated ram is not page aligned (address 0x%x)", base)
	}

	return &RAM{mem: mem}, nil
}

// Size returns the amount of simulated memory in bytes.
func (r *RAM) Size() uint64 {
	return uint64(len(r.mem))
}

// Close releases the mapping. r must not be used afterwards.
func (r *RAM) Close() error {
	if r.mem == nil {
		return nil
	}

	err := unix.Munmap(r.mem)
	r.mem = nil
	return errors.Wrap(err, "unmapping simulated ram")
}

func (r *RAM) check(addr mm.PhysAddr, n uint64) {
	if uint64(addr) > r.Size() || n > r.Size()-uint64(addr) {
		panic(errors.Wrapf(ErrOutOfRange, "access to %s (%d bytes)", addr, n))
	}
}

// Table implements vmm.TableResolver.
func (r *RAM) Table(frame mm.Frame4K) *vmm.PageTable {
	r.check(frame.StartAddress(), uint64(mm.PageSize))
	return (*vmm.PageTable)(unsafe.Pointer(&r.mem[frame.StartAddress()]))
}

// Pointer returns a host pointer to the byte at addr.
func (r *RAM) Pointer(addr mm.PhysAddr) unsafe.Pointer {
	r.check(addr, 1)
	return unsafe.Pointer(&r.mem[addr])
}

// Slice returns the n bytes starting at addr. The slice aliases the
// simulated memory.
func (r *RAM) Slice(addr mm.PhysAddr, n uint64) []byte {
	r.check(addr, n)
	return r.mem[addr : uint64(addr)+n : uint64(addr)+n]
}
