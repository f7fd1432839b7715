package pool

import (
	"context"
	"errors"
	"fmt"

	"github.com/FerroO2000/parpipe/internal/message"
	"github.com/FerroO2000/parpipe/internal/queue"
)

var errStopNotAllowed = errors.New("pool: stops are sent with FanOut.Stop")

// FanOut is an utility struct to be used by a worker pool
// that sends tasks (messages) to multiple workers.
type FanOut[T any] struct {
	queue *queue.Queue[*message.Message[T]]

	receivers int
}

// NewFanOut returns a new fan-out struct.
func NewFanOut[T any](cfg *Config) *FanOut[T] {
	return &FanOut[T]{
		queue: queue.New[*message.Message[T]](cfg.queueConfig("jobs", cfg.fanOutKind())),

		receivers: cfg.Workers,
	}
}

// AddTask enqueues a data message carrying the given values.
// It blocks while the queue is full.
func (fo *FanOut[T]) AddTask(ctx context.Context, values ...T) error {
	return fo.queue.Push(ctx, message.NewValues(values...))
}

// Send enqueues an already built data message.
// It blocks while the queue is full.
func (fo *FanOut[T]) Send(ctx context.Context, msg *message.Message[T]) error {
	if msg.IsStop() {
		return errStopNotAllowed
	}
	return fo.queue.Push(ctx, msg)
}

// Stop enqueues one Stop per receiver. Since the queue is FIFO,
// every task added before is read before the Stops.
func (fo *FanOut[T]) Stop(ctx context.Context) error {
	for idx := range fo.receivers {
		if err := fo.queue.Push(ctx, message.NewStop[T]()); err != nil {
			return fmt.Errorf("failed to send stop %d/%d: %w", idx+1, fo.receivers, err)
		}
	}

	return nil
}

// ReadTask dequeues a message. It blocks while the queue is empty.
func (fo *FanOut[T]) ReadTask(ctx context.Context) (*message.Message[T], error) {
	return fo.queue.PopValue(ctx)
}

// Receivers returns the number of workers reading from the fan-out.
func (fo *FanOut[T]) Receivers() int {
	return fo.receivers
}

// Len returns the number of pending messages.
func (fo *FanOut[T]) Len() int {
	return fo.queue.Len()
}

// Close destroys the underlying queue.
func (fo *FanOut[T]) Close() {
	fo.queue.Close()
}
