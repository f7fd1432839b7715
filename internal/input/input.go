// Package input contains the end-of-input sentinel and the pull
// functions shared by the pipeline and its sources.
package input

import "errors"

// ErrEnd is returned by a pull function when there are no more items.
var ErrEnd = errors.New("parpipe: end of input")

// Slice returns a pull function yielding the items in order.
// Once exhausted it keeps returning ErrEnd.
func Slice[T any](items []T) func() (T, error) {
	idx := 0

	return func() (T, error) {
		if idx >= len(items) {
			var zero T
			return zero, ErrEnd
		}

		item := items[idx]
		idx++
		return item, nil
	}
}
