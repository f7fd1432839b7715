// Package affinity reports the cores available to the process and pins
// the calling goroutine to one of them.
package affinity

import "errors"

var (
	// ErrUnsupported is returned by Pin on platforms without thread affinity.
	ErrUnsupported = errors.New("affinity: core pinning not supported on this platform")
	// ErrNoSuchCore is returned by Pin when the core index is out of range.
	ErrNoSuchCore = errors.New("affinity: no such core")
)
