package parpipe

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/FerroO2000/parpipe/internal"
	"github.com/FerroO2000/parpipe/internal/message"
	"github.com/FerroO2000/parpipe/internal/pool"
)

type feederState uint8

const (
	feederRunning feederState = iota
	feederDraining
	feederDone
)

func (s feederState) String() string {
	switch s {
	case feederRunning:
		return "running"
	case feederDraining:
		return "draining"
	case feederDone:
		return "done"
	default:
		return "unknown"
	}
}

type feeder[T any] struct {
	tel *internal.Telemetry

	pull      func() (T, error)
	fanOut    *pool.FanOut[T]
	batchSize int

	state feederState

	pulledItems atomic.Int64
	jobMessages atomic.Int64
}

func newFeeder[T any](tel *internal.Telemetry, pull func() (T, error), fanOut *pool.FanOut[T], batchSize int) *feeder[T] {
	return &feeder[T]{
		tel: tel,

		pull:      pull,
		fanOut:    fanOut,
		batchSize: batchSize,

		state: feederRunning,
	}
}

func (f *feeder[T]) initMetrics() {
	f.tel.NewCounter("pulled_items", func() int64 { return f.pulledItems.Load() })
	f.tel.NewCounter("job_messages", func() int64 { return f.jobMessages.Load() })
}

func (f *feeder[T]) setState(state feederState) {
	f.tel.LogDebug("feeder state change", "from", f.state.String(), "to", state.String())
	f.state = state
}

// run pulls the whole input, sends it in batches and then sends one Stop per worker.
func (f *feeder[T]) run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newPanicError(roleFeeder, 0, r)
		}
	}()

	batcher := message.NewBatcher[T](f.batchSize)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		item, err := f.pull()
		if err != nil {
			if errors.Is(err, ErrEndOfInput) {
				break
			}

			f.tel.LogError("failed to pull input", err, "pulled_items", f.pulledItems.Load())
			return fmt.Errorf("parpipe: failed to pull input: %w", err)
		}

		f.pulledItems.Add(1)

		if msg, ok := batcher.Add(item); ok {
			if err := f.send(ctx, msg); err != nil {
				return err
			}
		}
	}

	f.setState(feederDraining)

	if msg, ok := batcher.Flush(); ok {
		if err := f.send(ctx, msg); err != nil {
			return err
		}
	}

	if err := f.fanOut.Stop(ctx); err != nil {
		return err
	}

	f.setState(feederDone)

	f.tel.LogDebug("input exhausted",
		"pulled_items", f.pulledItems.Load(), "job_messages", f.jobMessages.Load())

	return nil
}

func (f *feeder[T]) send(ctx context.Context, msg *message.Message[T]) error {
	if err := f.fanOut.Send(ctx, msg); err != nil {
		return err
	}

	f.jobMessages.Add(1)
	return nil
}
