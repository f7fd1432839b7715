//go:build linux

package affinity

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// AvailableCores returns the number of logical cores the process
// is allowed to run on.
func AvailableCores() int {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return runtime.NumCPU()
	}

	return max(set.Count(), 1)
}

// Pin locks the calling goroutine to its OS thread and restricts the thread
// to the core-th core allowed to the process. The returned function restores
// the previous affinity and unlocks the thread.
func Pin(core int) (func(), error) {
	runtime.LockOSThread()

	var prev unix.CPUSet
	if err := unix.SchedGetaffinity(0, &prev); err != nil {
		runtime.UnlockOSThread()
		return nil, fmt.Errorf("affinity: failed to read the thread affinity: %w", err)
	}

	cpu, ok := nthCPU(&prev, core)
	if !ok {
		runtime.UnlockOSThread()
		return nil, fmt.Errorf("%w: %d of %d", ErrNoSuchCore, core, prev.Count())
	}

	var set unix.CPUSet
	set.Set(cpu)

	// A zero pid targets the calling thread
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		runtime.UnlockOSThread()
		return nil, fmt.Errorf("affinity: failed to pin to cpu %d: %w", cpu, err)
	}

	unpin := func() {
		_ = unix.SchedSetaffinity(0, &prev)
		runtime.UnlockOSThread()
	}

	return unpin, nil
}

// nthCPU returns the id of the n-th cpu in the set.
func nthCPU(set *unix.CPUSet, n int) (int, bool) {
	if n < 0 {
		return 0, false
	}

	// CPUSet has room for 1024 cpus
	const maxCPUs = 1024

	for cpu := range maxCPUs {
		if !set.IsSet(cpu) {
			continue
		}

		if n == 0 {
			return cpu, true
		}
		n--
	}

	return 0, false
}
