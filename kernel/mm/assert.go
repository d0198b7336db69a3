package mm

import (
	"kestrel/kernel"
	"kestrel/kernel/kfmt"
)

var (
	// panicFn is mocked by tests.
	panicFn = kfmt.Panic

	errAssertion = &kernel.Error{Module: "mm", Message: "assertion failed"}
)

// Assert halts the kernel with err (or a generic assertion error if err is
// nil) when cond is false. Assertions are compiled out of kernels built with
// the kernel_release tag, so the checked condition must be free of side
// effects.
func Assert(cond bool, err *kernel.Error) {
	if !assertionsEnabled || cond {
		return
	}

	if err == nil {
		err = errAssertion
	}
	panicFn(err)
}

// AssertionsEnabled reports whether this kernel was built with debug
// assertions.
func AssertionsEnabled() bool {
	return assertionsEnabled
}
