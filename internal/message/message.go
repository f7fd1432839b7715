// Package message contains the messages exchanged through the pipeline queues.
package message

import "strconv"

// Kind is the variant of a message.
type Kind uint8

const (
	// KindValues marks a message carrying one or more items.
	KindValues Kind = iota
	// KindStop marks the sentinel closing the stream of a sender.
	KindStop
)

func (k Kind) String() string {
	switch k {
	case KindValues:
		return "values"
	case KindStop:
		return "stop"
	default:
		return "unknown"
	}
}

// Message is the tagged union passed between the pipeline roles.
// It either carries a batch of values or it is a Stop sentinel,
// which has no payload.
type Message[T any] struct {
	kind   Kind
	values []T
}

// NewValues returns a data message carrying the given values.
// The slice is not copied.
func NewValues[T any](values ...T) *Message[T] {
	return &Message[T]{
		kind:   KindValues,
		values: values,
	}
}

// NewStop returns a Stop sentinel.
func NewStop[T any]() *Message[T] {
	return &Message[T]{
		kind: KindStop,
	}
}

// Kind returns the variant of the message.
func (m *Message[T]) Kind() Kind {
	return m.kind
}

// IsStop states whether the message is a Stop sentinel.
func (m *Message[T]) IsStop() bool {
	return m.kind == KindStop
}

// Values returns the values carried by the message.
// It is always empty for a Stop sentinel.
func (m *Message[T]) Values() []T {
	return m.values
}

// Len returns the number of values carried by the message.
func (m *Message[T]) Len() int {
	return len(m.values)
}

func (m *Message[T]) String() string {
	if m.IsStop() {
		return "message(stop)"
	}

	return "message(values:" + strconv.Itoa(len(m.values)) + ")"
}

// Batcher groups values into data messages of a fixed size.
type Batcher[T any] struct {
	size int
	buf  []T
}

// NewBatcher returns a new batcher. Sizes lower than 1 are treated as 1.
func NewBatcher[T any](size int) *Batcher[T] {
	size = max(size, 1)

	return &Batcher[T]{
		size: size,
		buf:  make([]T, 0, size),
	}
}

// Add appends a value to the current batch. When the batch is full
// it is returned as a message and a new batch is started.
func (b *Batcher[T]) Add(value T) (*Message[T], bool) {
	b.buf = append(b.buf, value)

	if len(b.buf) < b.size {
		return nil, false
	}

	return b.take(), true
}

// Flush returns the partial batch, if any.
func (b *Batcher[T]) Flush() (*Message[T], bool) {
	if len(b.buf) == 0 {
		return nil, false
	}

	return b.take(), true
}

// Pending returns the number of values waiting in the current batch.
func (b *Batcher[T]) Pending() int {
	return len(b.buf)
}

func (b *Batcher[T]) take() *Message[T] {
	msg := NewValues(b.buf...)
	b.buf = make([]T, 0, b.size)
	return msg
}
