package parpipe

import (
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_Map(t *testing.T) {
	parallelism := maxTestParallelism(2)

	assert := assert.New(t)

	words := []string{"alpha", "beta", "gamma", "delta"}

	res, err := Map(t.Context(), testConfig(parallelism, 1, StrategySemaphore), words, strings.ToUpper)
	assert.NoError(err)
	assert.ElementsMatch([]string{"ALPHA", "BETA", "GAMMA", "DELTA"}, res)

	res, err = Map(t.Context(), testConfig(parallelism, 1, StrategySemaphore), []string{}, strings.ToUpper)
	assert.NoError(err)
	assert.Empty(res)
}

func Test_Map_ConfigError(t *testing.T) {
	res, err := Map(t.Context(), testConfig(0, 1, StrategySemaphore), []int{1, 2}, square)
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Nil(t, res)
}

func Test_Iter(t *testing.T) {
	parallelism := maxTestParallelism(2)

	var sum atomic.Int64
	err := Iter(t.Context(), testConfig(parallelism, 4, StrategyPoll), []int{1, 2, 3, 4, 5}, func(x int) {
		sum.Add(int64(x))
	})

	assert.NoError(t, err)
	assert.Equal(t, int64(15), sum.Load())
}

func Test_Fold(t *testing.T) {
	parallelism := maxTestParallelism(2)

	assert := assert.New(t)

	items := make([]int, 100)
	for idx := range items {
		items[idx] = idx + 1
	}

	sum, err := Fold(t.Context(), testConfig(parallelism, 8, StrategySemaphore), items, square, 0,
		func(acc, res int) int { return acc + res })

	assert.NoError(err)
	assert.Equal(338350, sum)

	// The initial value is returned on error
	sum, err = Fold(t.Context(), testConfig(-1, 1, StrategySemaphore), items, square, 42,
		func(acc, res int) int { return acc + res })

	assert.ErrorIs(err, ErrConfiguration)
	assert.Equal(42, sum)
}
