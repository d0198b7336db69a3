// Package cpu wraps the privileged amd64 instructions used by the memory
// management code. Every function in this file executes in ring 0 only; host
// tests reach them through the mockable function variables kept by callers.
package cpu

// EnableInterrupts enables interrupt handling.
func EnableInterrupts()

// DisableInterrupts disables interrupt handling.
func DisableInterrupts()

// InterruptsEnabled reports whether the IF bit of RFLAGS is set.
func InterruptsEnabled() bool

// Halt stops instruction execution.
func Halt()

// FlushTLBEntry flushes a TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr)

// SwitchPDT sets the root page table directory to point to the specified
// physical address and flushes the TLB.
func SwitchPDT(pdtPhysAddr uintptr)

// ActivePDT returns the raw contents of the CR3 register: the physical
// address of the active root table in bits 12-51 and control flags in the
// low 12 bits.
func ActivePDT() uintptr
