package pmm

// RegionType describes how a range of physical memory may be used.
type RegionType uint32

// Memory region types reported by the boot loader.
const (
	RegionAvailable RegionType = iota + 1
	RegionReserved
	RegionACPIReclaimable
	RegionNVS
)

// String implements fmt.Stringer for RegionType.
func (t RegionType) String() string {
	switch t {
	case RegionAvailable:
		return "available"
	case RegionACPIReclaimable:
		return "ACPI (reclaimable)"
	case RegionNVS:
		return "NVS"
	default:
		return "reserved"
	}
}

// MemRegion is one entry of the physical memory map handed over by the boot
// loader.
type MemRegion struct {
	Start  uint64
	Length uint64
	Type   RegionType
}

// End returns the first address past the region.
func (r MemRegion) End() uint64 {
	return r.Start + r.Length
}
