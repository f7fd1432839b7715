package rb

import (
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_roundToPowerOf2(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(uint64(1), roundToPowerOf2(0))
	assert.Equal(uint64(1), roundToPowerOf2(1))
	assert.Equal(uint64(2), roundToPowerOf2(2))
	assert.Equal(uint64(4), roundToPowerOf2(3))
	assert.Equal(uint64(1024), roundToPowerOf2(1000))
	assert.Equal(uint64(1024), roundToPowerOf2(1024))
	assert.Equal(uint64(MaxCapacity), roundToPowerOf2(MaxCapacity-1))
}

func Test_RingBuffer_FullEmpty(t *testing.T) {
	kinds := []BufferKind{BufferKindSPSC, BufferKindSPMC, BufferKindMPSC, BufferKindMPMC}

	for _, kind := range kinds {
		t.Run(kind.String(), func(t *testing.T) {
			assert := assert.New(t)

			rb := NewRingBuffer[int](6, kind)
			assert.Equal(uint64(8), rb.Cap())
			assert.Equal(kind, rb.Kind())

			_, ok := rb.TryPop()
			assert.False(ok)

			for i := range 8 {
				assert.True(rb.TryPush(i))
			}
			assert.Equal(uint64(8), rb.Len())

			// No space left
			assert.False(rb.TryPush(8))

			for i := range 8 {
				val, ok := rb.TryPop()
				assert.True(ok)
				assert.Equal(i, val)
			}

			assert.Zero(rb.Len())

			_, ok = rb.TryPop()
			assert.False(ok)
		})
	}
}

func Test_RingBuffer_Laps(t *testing.T) {
	kinds := []BufferKind{BufferKindSPSC, BufferKindSPMC, BufferKindMPSC, BufferKindMPMC}

	for _, kind := range kinds {
		t.Run(kind.String(), func(t *testing.T) {
			assert := assert.New(t)

			rb := NewRingBuffer[*int](4, kind)

			// Every slot is reused many times, with the buffer
			// kept between half full and full
			next, expected := 0, 0
			for range 10 {
				for rb.Len() < rb.Cap() {
					val := next
					assert.True(rb.TryPush(&val))
					next++
				}
				assert.False(rb.TryPush(nil))

				for range 2 {
					val, ok := rb.TryPop()
					if assert.True(ok) {
						assert.Equal(expected, *val)
					}
					expected++
				}
			}

			for rb.Len() > 0 {
				val, ok := rb.TryPop()
				assert.True(ok)
				assert.Equal(expected, *val)
				expected++
			}
			assert.Equal(next, expected)

			// Popped slots do not keep their items alive
			for idx := range rb.slots {
				assert.Nil(rb.slots[idx].data)
			}
		})
	}
}

func Test_RingBuffer_UnknownKind(t *testing.T) {
	rb := NewRingBuffer[int](4, BufferKind(42))
	assert.Equal(t, BufferKindMPMC, rb.Kind())
	assert.Equal(t, "unknown", BufferKind(42).String())
}

func Test_RingBuffer_Concurrent(t *testing.T) {
	const (
		capacity = 128
		items    = 100_000
	)

	suite := []struct {
		kind             BufferKind
		prodNum, consNum int
	}{
		{BufferKindSPSC, 1, 1},
		{BufferKindSPMC, 1, 1},
		{BufferKindSPMC, 1, 8},
		{BufferKindMPSC, 8, 1},
		{BufferKindMPMC, 1, 1},
		{BufferKindMPMC, 1, 8},
		{BufferKindMPMC, 8, 1},
		{BufferKindMPMC, 8, 8},
	}

	for _, tCase := range suite {
		tName := fmt.Sprintf("%s-P%d-C%d", tCase.kind, tCase.prodNum, tCase.consNum)

		t.Run(tName, func(t *testing.T) {
			testRingBuffer(t, NewRingBuffer[int](capacity, tCase.kind), tCase.prodNum, tCase.consNum, items)
		})
	}
}

func testRingBuffer(t *testing.T, rb *RingBuffer[int], prodNum, consNum, items int) {
	assert := assert.New(t)

	pushWg := &sync.WaitGroup{}
	pushWg.Add(prodNum)

	valueMap := &sync.Map{}
	for val := range items {
		valueMap.Store(val, true)
	}

	var skippedPush atomic.Int64
	var skippedPop atomic.Int64

	itemsPerProducer := items / prodNum
	for idx := range prodNum {
		go func(idx int) {
			defer pushWg.Done()

			baseVal := idx * itemsPerProducer
			produced := 0
			for produced < itemsPerProducer {
				if !rb.TryPush(baseVal + produced) {
					skippedPush.Add(1)
					runtime.Gosched()
					continue
				}

				produced++
			}
		}(idx)
	}

	popWg := &sync.WaitGroup{}
	popWg.Add(consNum)

	var totalConsumed atomic.Int64

	itemsPerConsumer := items / consNum
	for range consNum {
		go func() {
			defer popWg.Done()

			consumed := 0
			for consumed < itemsPerConsumer {
				val, ok := rb.TryPop()
				if !ok {
					skippedPop.Add(1)
					runtime.Gosched()
					continue
				}

				assert.True(valueMap.CompareAndSwap(val, true, false))
				totalConsumed.Add(1)

				consumed++
			}
		}()
	}

	pushWg.Wait()
	popWg.Wait()

	t.Logf("Skipped push call: %d", skippedPush.Load())
	t.Logf("Skipped pop call: %d", skippedPop.Load())

	assert.Equal(int64(items), totalConsumed.Load())
}

func Benchmark_RingBuffers(b *testing.B) {
	b.ReportAllocs()

	kinds := []BufferKind{BufferKindSPSC, BufferKindSPMC, BufferKindMPSC, BufferKindMPMC}
	capacities := []uint64{512, 1024, 4096}
	for _, kind := range kinds {
		for _, capacity := range capacities {
			b.Run("PushPopSteady-"+kind.String()+"-"+strconv.FormatUint(capacity, 10), func(b *testing.B) {
				rb := NewRingBuffer[int](capacity, kind)

				val := 0
				for b.Loop() {
					rb.TryPush(val)
					rb.TryPop()
					val++
				}
			})
		}
	}
}
