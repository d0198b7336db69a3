//go:build !kernel_release

package mm

const assertionsEnabled = true
