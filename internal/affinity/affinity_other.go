//go:build !linux

package affinity

import "runtime"

// AvailableCores returns the number of logical cores usable by the process.
func AvailableCores() int {
	return runtime.NumCPU()
}

// Pin always fails with ErrUnsupported.
func Pin(int) (func(), error) {
	return nil, ErrUnsupported
}
