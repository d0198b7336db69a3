package sync

import "kestrel/kernel/cpu"

// InterruptController saves and restores the local interrupt-enable state.
type InterruptController interface {
	// Disable masks interrupts and reports whether they were enabled
	// before the call.
	Disable() bool

	// Restore re-enables interrupts if enabled is true.
	Restore(enabled bool)
}

type cpuInterrupts struct{}

func (cpuInterrupts) Disable() bool {
	enabled := cpu.InterruptsEnabled()
	cpu.DisableInterrupts()
	return enabled
}

func (cpuInterrupts) Restore(enabled bool) {
	if enabled {
		cpu.EnableInterrupts()
	}
}

var interrupts InterruptController = cpuInterrupts{}

// SetInterruptController overrides the controller used by IRQSpinlock.
// Passing nil restores the controller that drives the local CPU.
func SetInterruptController(ic InterruptController) {
	if ic == nil {
		ic = cpuInterrupts{}
	}
	interrupts = ic
}

// IRQSpinlock is a Spinlock that also masks interrupts on the local CPU while
// held, so that an interrupt handler can never spin on a lock owned by the
// code it interrupted.
type IRQSpinlock struct {
	lock       Spinlock
	irqEnabled bool
}

// Acquire disables interrupts and then spins until the lock is obtained.
func (l *IRQSpinlock) Acquire() {
	enabled := interrupts.Disable()
	l.lock.Acquire()
	l.irqEnabled = enabled
}

// Release frees the lock and restores the interrupt state observed by the
// matching Acquire.
func (l *IRQSpinlock) Release() {
	enabled := l.irqEnabled
	l.lock.Release()
	interrupts.Restore(enabled)
}
