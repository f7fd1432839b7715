// Package sema provides a named counting semaphore with blocking wait,
// non-blocking try-wait, post and destroy operations.
package sema

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrClosed is returned when the semaphore has been destroyed.
	ErrClosed = errors.New("semaphore: closed")
	// ErrOverflow is returned when a post would exceed the semaphore bound.
	ErrOverflow = errors.New("semaphore: count overflow")
)

// Semaphore is a counting semaphore starting at zero.
// The count is bounded by the value given at creation, so that
// every post is backed by a buffered slot and never blocks.
type Semaphore struct {
	name string

	tokens chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

// New returns a new semaphore with a count of zero.
// The bound is forced to at least 1.
func New(name string, bound int) *Semaphore {
	return &Semaphore{
		name: name,

		tokens: make(chan struct{}, max(bound, 1)),
		closed: make(chan struct{}),
	}
}

// Name returns the name of the semaphore.
func (s *Semaphore) Name() string {
	return s.name
}

// Wait blocks until the count is positive and then decrements it.
// It returns the context error if the context is done first,
// or ErrClosed if the semaphore is destroyed while waiting.
func (s *Semaphore) Wait(ctx context.Context) error {
	// Prefer a pending token over a concurrent close or cancellation
	select {
	case <-s.tokens:
		return nil
	default:
	}

	select {
	case <-s.tokens:
		return nil
	case <-s.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryWait decrements the count if it is positive, without blocking.
// It reports whether the count was decremented.
func (s *Semaphore) TryWait() bool {
	select {
	case <-s.tokens:
		return true
	default:
		return false
	}
}

// Post increments the count, waking up one waiter if any.
func (s *Semaphore) Post() error {
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}

	select {
	case s.tokens <- struct{}{}:
		return nil
	default:
		return ErrOverflow
	}
}

// Count returns the current count.
// The value may be stale in concurrent contexts.
func (s *Semaphore) Count() int {
	return len(s.tokens)
}

// Close destroys the semaphore. All the waiters are released
// with ErrClosed. Calling Close more than once is a no-op.
func (s *Semaphore) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
}
