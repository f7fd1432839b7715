package parpipe

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/FerroO2000/parpipe/internal"
	"github.com/FerroO2000/parpipe/internal/pool"
)

type collector[U any] struct {
	tel *internal.Telemetry

	combine func(U)
	fanIn   *pool.FanIn[U]

	combinedItems atomic.Int64
}

func newCollector[U any](tel *internal.Telemetry, combine func(U), fanIn *pool.FanIn[U]) *collector[U] {
	return &collector[U]{
		tel: tel,

		combine: combine,
		fanIn:   fanIn,
	}
}

func (c *collector[U]) initMetrics() {
	c.tel.NewCounter("combined_items", func() int64 { return c.combinedItems.Load() })
	c.tel.NewCounter("finished_workers", func() int64 { return c.fanIn.Stopped() })
}

// run combines every result until all the workers have sent their Stop.
// It runs on the goroutine that called Run.
func (c *collector[U]) run(ctx context.Context) error {
	finished := int64(0)

	for {
		msg, err := c.fanIn.ReadTask(ctx)

		if stopped := c.fanIn.Stopped(); stopped != finished {
			finished = stopped
			c.tel.LogDebug("worker finished", "finished_workers", finished, "workers", c.fanIn.Senders())
		}

		if err != nil {
			if errors.Is(err, pool.ErrAllStopped) {
				return nil
			}
			return err
		}

		for _, val := range msg.Values() {
			c.combine(val)
			c.combinedItems.Add(1)
		}
	}
}
