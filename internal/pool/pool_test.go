package pool

import (
	"errors"
	"sync"
	"testing"

	"github.com/FerroO2000/parpipe/internal/message"
	"github.com/FerroO2000/parpipe/internal/queue"
	"github.com/FerroO2000/parpipe/internal/rb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Config_Kinds(t *testing.T) {
	assert := assert.New(t)

	cfg := DefaultConfig()
	assert.Equal(rb.BufferKindSPSC, cfg.fanOutKind())
	assert.Equal(rb.BufferKindSPSC, cfg.fanInKind())

	cfg.Workers = 4
	assert.Equal(rb.BufferKindSPMC, cfg.fanOutKind())
	assert.Equal(rb.BufferKindMPSC, cfg.fanInKind())

	qCfg := cfg.queueConfig("jobs", cfg.fanOutKind())
	assert.Equal("pool-jobs", qCfg.Name)
	assert.Equal(cfg.QueueCapacity, qCfg.Capacity)
}

func Test_FanOutFanIn(t *testing.T) {
	for _, strategy := range []queue.Strategy{queue.StrategySemaphore, queue.StrategyPoll} {
		t.Run(strategy.String(), func(t *testing.T) {
			assert := assert.New(t)

			const (
				workers = 4
				batches = 500
				batch   = 3
			)

			cfg := DefaultConfig()
			cfg.Workers = workers
			cfg.QueueCapacity = 8
			cfg.Strategy = strategy

			fanOut := NewFanOut[int](cfg)
			defer fanOut.Close()

			fanIn := NewFanIn[int](cfg)
			defer fanIn.Close()

			assert.Equal(workers, fanOut.Receivers())
			assert.Equal(workers, fanIn.Senders())

			ctx := t.Context()

			go func() {
				for idx := range batches {
					base := idx * batch
					if !assert.NoError(fanOut.AddTask(ctx, base, base+1, base+2)) {
						return
					}
				}
				assert.NoError(fanOut.Stop(ctx))
			}()

			wg := &sync.WaitGroup{}
			wg.Add(workers)
			for range workers {
				go func() {
					defer wg.Done()

					for {
						msg, err := fanOut.ReadTask(ctx)
						if !assert.NoError(err) {
							return
						}

						if msg.IsStop() {
							assert.NoError(fanIn.AddStop(ctx))
							return
						}

						assert.NoError(fanIn.AddTask(ctx, msg.Values()...))
					}
				}()
			}

			seen := make(map[int]bool, batches*batch)
			for {
				msg, err := fanIn.ReadTask(ctx)
				if errors.Is(err, ErrAllStopped) {
					break
				}
				require.NoError(t, err)

				assert.Equal(batch, msg.Len())
				for _, val := range msg.Values() {
					assert.False(seen[val], "value %d received twice", val)
					seen[val] = true
				}
			}

			wg.Wait()

			assert.Len(seen, batches*batch)
			assert.Equal(int64(workers), fanIn.Stopped())
			assert.Zero(fanOut.Len())
			assert.Zero(fanIn.Len())
		})
	}
}

func Test_FanOut_Send(t *testing.T) {
	assert := assert.New(t)

	cfg := DefaultConfig()
	cfg.Workers = 2

	fanOut := NewFanOut[int](cfg)
	defer fanOut.Close()

	batcher := message.NewBatcher[int](2)
	batcher.Add(1)
	msg, ok := batcher.Add(2)
	require.True(t, ok)

	assert.NoError(fanOut.Send(t.Context(), msg))
	assert.ErrorIs(fanOut.Send(t.Context(), message.NewStop[int]()), errStopNotAllowed)
	assert.Equal(1, fanOut.Len())

	// The batch is enqueued as it is, without copies
	read, err := fanOut.ReadTask(t.Context())
	require.NoError(t, err)
	assert.Same(msg, read)
	assert.Equal([]int{1, 2}, read.Values())
}
