// Package source contains ready-made pull functions for parpipe.Run.
// Every pull function returns parpipe.ErrEndOfInput once the input is exhausted.
package source

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/FerroO2000/parpipe"
	"github.com/FerroO2000/parpipe/internal/input"
)

// DefaultMaxLineSize is the size of the longest line accepted by Lines.
const DefaultMaxLineSize = 1 << 20

// Slice returns a pull function yielding the items in order.
func Slice[T any](items []T) func() (T, error) {
	return input.Slice(items)
}

// Chan returns a pull function receiving from ch until it is closed.
// When ctx is done the pull function returns the context error,
// which aborts the run.
func Chan[T any](ctx context.Context, ch <-chan T) func() (T, error) {
	return func() (T, error) {
		var zero T

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case item, ok := <-ch:
			if !ok {
				return zero, parpipe.ErrEndOfInput
			}
			return item, nil
		}
	}
}

// Lines returns a pull function yielding the lines of r, without the line terminator.
// A read error, or a line longer than maxLineSize, aborts the run.
// A maxLineSize lower than 1 means DefaultMaxLineSize.
func Lines(r io.Reader, maxLineSize int) func() (string, error) {
	if maxLineSize < 1 {
		maxLineSize = DefaultMaxLineSize
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, min(maxLineSize, 64*1024)), maxLineSize)

	line := 0

	return func() (string, error) {
		if scanner.Scan() {
			line++
			return scanner.Text(), nil
		}

		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("source: failed to read line %d: %w", line+1, err)
		}

		return "", parpipe.ErrEndOfInput
	}
}
