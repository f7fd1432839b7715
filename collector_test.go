package parpipe

import (
	"sync"
	"testing"

	"github.com/FerroO2000/parpipe/internal"
	"github.com/FerroO2000/parpipe/internal/pool"
	"github.com/stretchr/testify/assert"
)

// Every worker sends all its results and then its Stop right away:
// the collector must still combine every result before returning.
func Test_Run_StopAfterData(t *testing.T) {
	assert := assert.New(t)

	const (
		workers          = 4
		resultsPerWorker = 1_000
	)

	poolCfg := pool.DefaultConfig()
	poolCfg.Workers = workers
	poolCfg.QueueCapacity = 4

	fanIn := pool.NewFanIn[int](poolCfg)
	defer fanIn.Close()

	ctx := t.Context()

	wg := &sync.WaitGroup{}
	wg.Add(workers)
	for id := range workers {
		go func() {
			defer wg.Done()

			for idx := range resultsPerWorker {
				if !assert.NoError(fanIn.AddTask(ctx, id*resultsPerWorker+idx)) {
					return
				}
			}

			assert.NoError(fanIn.AddStop(ctx))
		}()
	}

	combined := make(map[int]bool, workers*resultsPerWorker)
	coll := newCollector(internal.NewTelemetry(roleCollector, "test"), func(res int) {
		combined[res] = true
	}, fanIn)

	assert.NoError(coll.run(ctx))
	wg.Wait()

	assert.Len(combined, workers*resultsPerWorker)
	assert.Equal(int64(workers*resultsPerWorker), coll.combinedItems.Load())
	assert.Equal(int64(workers), fanIn.Stopped())
	assert.Zero(fanIn.Len())
}

func Test_Feeder_StopAccounting(t *testing.T) {
	assert := assert.New(t)

	const workers = 3

	poolCfg := pool.DefaultConfig()
	poolCfg.Workers = workers

	fanOut := pool.NewFanOut[int](poolCfg)
	defer fanOut.Close()

	f := newFeeder(internal.NewTelemetry(roleFeeder, "test"), rangePull(7), fanOut, 3)
	assert.NoError(f.run(t.Context()))
	assert.Equal(feederDone, f.state)

	ctx := t.Context()

	// 7 items in batches of 3, then one Stop per worker
	sizes := []int{}
	stops := 0
	for fanOut.Len() > 0 {
		msg, err := fanOut.ReadTask(ctx)
		if !assert.NoError(err) {
			return
		}

		if msg.IsStop() {
			stops++
			continue
		}

		assert.Zero(stops, "data message after a Stop")
		sizes = append(sizes, msg.Len())
	}

	assert.Equal([]int{3, 3, 1}, sizes)
	assert.Equal(workers, stops)
	assert.Equal(int64(7), f.pulledItems.Load())
	assert.Equal(int64(3), f.jobMessages.Load())
}

func Test_Worker_OrderWithinBatch(t *testing.T) {
	assert := assert.New(t)

	poolCfg := pool.DefaultConfig()

	fanOut := pool.NewFanOut[int](poolCfg)
	defer fanOut.Close()

	fanIn := pool.NewFanIn[int](poolCfg)
	defer fanIn.Close()

	ctx := t.Context()

	assert.NoError(fanOut.AddTask(ctx, 1, 2, 3, 4))
	assert.NoError(fanOut.Stop(ctx))

	tel := internal.NewTelemetry(roleWorker, "test")
	w := newWorker(tel, 0, square, false, fanOut, fanIn, newWorkerMetrics(tel))
	assert.NoError(w.run(ctx))
	assert.Equal(workerDone, w.state)

	msg, err := fanIn.ReadTask(ctx)
	if assert.NoError(err) {
		assert.Equal([]int{1, 4, 9, 16}, msg.Values())
	}

	_, err = fanIn.ReadTask(ctx)
	assert.ErrorIs(err, pool.ErrAllStopped)
	assert.Equal(int64(4), w.metrics.processedItems.Load())
}
