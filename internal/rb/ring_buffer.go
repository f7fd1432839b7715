// Package rb provides lock-free generic ring buffers.
// They are the fixed-capacity storage behind the pipeline queues:
// a failed push means the capacity is exhausted, and it is up to the
// caller to decide how to wait for space.
package rb

import (
	"runtime"
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// MaxCapacity is the biggest capacity a ring buffer can be created with.
const MaxCapacity = 1 << 31

// BufferKind tells how many goroutines may push and pop concurrently.
type BufferKind uint8

const (
	// BufferKindSPSC is a single producer/single consumer buffer.
	BufferKindSPSC BufferKind = iota
	// BufferKindSPMC is a single producer/multiple consumer buffer.
	BufferKindSPMC
	// BufferKindMPSC is a multiple producer/single consumer buffer.
	BufferKindMPSC
	// BufferKindMPMC is a multiple producer/multiple consumer buffer.
	BufferKindMPMC
)

func (bk BufferKind) String() string {
	switch bk {
	case BufferKindSPSC:
		return "SPSC"
	case BufferKindSPMC:
		return "SPMC"
	case BufferKindMPSC:
		return "MPSC"
	case BufferKindMPMC:
		return "MPMC"
	default:
		return "unknown"
	}
}

func (bk BufferKind) multiProducer() bool {
	return bk == BufferKindMPSC || bk == BufferKindMPMC
}

func (bk BufferKind) multiConsumer() bool {
	return bk == BufferKindSPMC || bk == BufferKindMPMC
}

// slot holds one item. Its sequence tells whose turn it is:
// seq == pos means free for the push at position pos,
// seq == pos+1 means written and ready for the pop at position pos.
type slot[T any] struct {
	seq  atomic.Uint64
	data T
}

// RingBuffer is a lock-free generic ring buffer.
// Its capacity is always a power of 2.
//
// The kind only changes how the positions are claimed: a side with
// a single goroutine stores its position, a side shared by several
// goroutines claims it with a compare-and-swap.
type RingBuffer[T any] struct {
	// head is the position of the next push
	head atomic.Uint64

	_ cpu.CacheLinePad

	// tail is the position of the next pop
	tail atomic.Uint64

	_ cpu.CacheLinePad

	kind     BufferKind
	capacity uint64
	capMask  uint64

	slots []slot[T]
}

// NewRingBuffer returns a new lock-free ring buffer of the given kind.
// The capacity is rounded up to the next power of 2 and clamped
// to [1, MaxCapacity]. Unknown kinds fall back to MPMC.
func NewRingBuffer[T any](capacity uint64, kind BufferKind) *RingBuffer[T] {
	parsedCapacity := roundToPowerOf2(min(max(capacity, 1), MaxCapacity))

	if kind > BufferKindMPMC {
		kind = BufferKindMPMC
	}

	rb := &RingBuffer[T]{
		kind:     kind,
		capacity: parsedCapacity,
		capMask:  parsedCapacity - 1,

		slots: make([]slot[T], parsedCapacity),
	}

	for idx := range rb.slots {
		rb.slots[idx].seq.Store(uint64(idx))
	}

	return rb
}

// TryPush tries to add the item to the buffer without blocking.
// It returns false when the buffer has no space left for it, which includes
// the short window in which a consumer is still reading the oldest slot.
func (rb *RingBuffer[T]) TryPush(item T) bool {
	for {
		pos := rb.head.Load()
		s := &rb.slots[pos&rb.capMask]

		diff := int64(s.seq.Load()) - int64(pos)
		if diff < 0 {
			// The slot still holds the item of the previous lap
			return false
		}

		if diff > 0 || !rb.claim(&rb.head, pos, rb.kind.multiProducer()) {
			// Another producer got there first
			runtime.Gosched()
			continue
		}

		s.data = item
		s.seq.Store(pos + 1)

		return true
	}
}

// TryPop tries to remove the oldest item from the buffer without blocking.
// It returns false when the buffer is empty, which includes the short window
// in which a producer has claimed the oldest slot but not written it yet.
func (rb *RingBuffer[T]) TryPop() (T, bool) {
	var zero T

	for {
		pos := rb.tail.Load()
		s := &rb.slots[pos&rb.capMask]

		diff := int64(s.seq.Load()) - int64(pos+1)
		if diff < 0 {
			return zero, false
		}

		if diff > 0 || !rb.claim(&rb.tail, pos, rb.kind.multiConsumer()) {
			// Another consumer got there first
			runtime.Gosched()
			continue
		}

		item := s.data
		// Do not keep the item alive
		s.data = zero
		s.seq.Store(pos + rb.capacity)

		return item, true
	}
}

func (rb *RingBuffer[T]) claim(cursor *atomic.Uint64, pos uint64, shared bool) bool {
	if shared {
		return cursor.CompareAndSwap(pos, pos+1)
	}

	cursor.Store(pos + 1)
	return true
}

// Len returns the number of items in the buffer.
// The value may be stale in concurrent contexts.
func (rb *RingBuffer[T]) Len() uint64 {
	tail := rb.tail.Load()
	head := rb.head.Load()

	// The tail is loaded first and never overtakes the head
	if head < tail {
		return 0
	}

	return min(head-tail, rb.capacity)
}

// Cap returns the capacity of the buffer.
func (rb *RingBuffer[T]) Cap() uint64 {
	return rb.capacity
}

// Kind returns the kind of the buffer.
func (rb *RingBuffer[T]) Kind() BufferKind {
	return rb.kind
}

func roundToPowerOf2(n uint64) uint64 {
	if n <= 1 {
		return 1
	}

	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32

	return n + 1
}
