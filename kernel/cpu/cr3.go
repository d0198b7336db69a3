package cpu

var (
	// activePDTFn is used by tests to override calls to ActivePDT which
	// will cause a fault if called in user-mode.
	activePDTFn = ActivePDT
)

// CR3 exposes the page-table root register as a value that can be handed to
// code which must not issue privileged instructions directly.
type CR3 struct{}

// ReadRoot returns the raw CR3 value. The root table's physical address
// occupies bits 12-51; the low 12 bits hold PCID/cache-control flags.
func (CR3) ReadRoot() uint64 {
	return uint64(activePDTFn())
}
