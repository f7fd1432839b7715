package pool

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/FerroO2000/parpipe/internal/message"
	"github.com/FerroO2000/parpipe/internal/queue"
)

// ErrAllStopped is returned by ReadTask once every sender has sent its Stop.
var ErrAllStopped = errors.New("pool: all senders stopped")

// FanIn is an utility struct to be used by a worker pool
// that receives tasks (messages) from multiple workers.
type FanIn[T any] struct {
	queue *queue.Queue[*message.Message[T]]

	senders int
	stopped atomic.Int64
}

// NewFanIn returns a new fan-in struct.
func NewFanIn[T any](cfg *Config) *FanIn[T] {
	return &FanIn[T]{
		queue: queue.New[*message.Message[T]](cfg.queueConfig("results", cfg.fanInKind())),

		senders: cfg.Workers,
	}
}

// AddTask enqueues a data message carrying the given values.
// It blocks while the queue is full.
func (fi *FanIn[T]) AddTask(ctx context.Context, values ...T) error {
	return fi.queue.Push(ctx, message.NewValues(values...))
}

// AddStop enqueues the Stop of a sender.
// It must be the last message sent by that sender.
func (fi *FanIn[T]) AddStop(ctx context.Context) error {
	return fi.queue.Push(ctx, message.NewStop[T]())
}

// ReadTask dequeues the next data message, counting the Stops met on the way.
// It returns ErrAllStopped once a Stop has been received from every sender,
// without reading any further.
// It must be called by a single goroutine.
func (fi *FanIn[T]) ReadTask(ctx context.Context) (*message.Message[T], error) {
	for fi.stopped.Load() < int64(fi.senders) {
		msg, err := fi.queue.PopValue(ctx)
		if err != nil {
			return nil, err
		}

		if msg.IsStop() {
			fi.stopped.Add(1)
			continue
		}

		return msg, nil
	}

	return nil, ErrAllStopped
}

// Stopped returns the number of senders whose Stop has been received.
func (fi *FanIn[T]) Stopped() int64 {
	return fi.stopped.Load()
}

// Senders returns the number of workers writing to the fan-in.
func (fi *FanIn[T]) Senders() int {
	return fi.senders
}

// Len returns the number of pending messages.
func (fi *FanIn[T]) Len() int {
	return fi.queue.Len()
}

// Close destroys the underlying queue.
func (fi *FanIn[T]) Close() {
	fi.queue.Close()
}
