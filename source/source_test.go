package source

import (
	"context"
	"errors"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/FerroO2000/parpipe"
	"github.com/stretchr/testify/assert"
)

func Test_Slice(t *testing.T) {
	assert := assert.New(t)

	pull := Slice([]int{1, 2})

	for _, expected := range []int{1, 2} {
		item, err := pull()
		assert.NoError(err)
		assert.Equal(expected, item)
	}

	_, err := pull()
	assert.ErrorIs(err, parpipe.ErrEndOfInput)

	// Exhausted pull functions keep signaling the end of the input
	_, err = pull()
	assert.ErrorIs(err, parpipe.ErrEndOfInput)
}

func Test_Chan(t *testing.T) {
	assert := assert.New(t)

	ch := make(chan string, 2)
	ch <- "a"
	ch <- "b"
	close(ch)

	pull := Chan(t.Context(), ch)

	item, err := pull()
	assert.NoError(err)
	assert.Equal("a", item)

	item, err = pull()
	assert.NoError(err)
	assert.Equal("b", item)

	_, err = pull()
	assert.ErrorIs(err, parpipe.ErrEndOfInput)
}

func Test_Chan_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := Chan(ctx, make(chan int))()
	assert.ErrorIs(t, err, context.Canceled)
}

func Test_Lines(t *testing.T) {
	assert := assert.New(t)

	pull := Lines(strings.NewReader("first\nsecond\r\n\nlast"), 0)

	lines := []string{}
	for {
		line, err := pull()
		if errors.Is(err, parpipe.ErrEndOfInput) {
			break
		}
		if !assert.NoError(err) {
			return
		}
		lines = append(lines, line)
	}

	assert.Equal([]string{"first", "second", "", "last"}, lines)
}

func Test_Lines_Errors(t *testing.T) {
	assert := assert.New(t)

	errRead := errors.New("disk unplugged")
	pull := Lines(iotest.ErrReader(errRead), 0)

	_, err := pull()
	assert.ErrorIs(err, errRead)
	assert.NotErrorIs(err, parpipe.ErrEndOfInput)

	pull = Lines(strings.NewReader(strings.Repeat("x", 32)+"\n"), 16)
	_, err = pull()
	assert.ErrorContains(err, "line 1")
}

func Test_Lines_Run(t *testing.T) {
	cfg := parpipe.NewConfig()
	cfg.Parallelism = min(2, parpipe.AvailableCores())

	input := strings.Repeat("abc\n", 1000)

	total := 0
	err := parpipe.Run(t.Context(), cfg, Lines(strings.NewReader(input), 0),
		func(line string) int { return len(line) },
		func(n int) { total += n },
	)

	assert.NoError(t, err)
	assert.Equal(t, 3000, total)
}
