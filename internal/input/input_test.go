package input

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_Slice(t *testing.T) {
	assert := assert.New(t)

	items := []string{"a", "b", "c"}
	pull := Slice(items)

	for _, expected := range items {
		item, err := pull()
		assert.NoError(err)
		assert.Equal(expected, item)
	}

	for range 2 {
		item, err := pull()
		assert.ErrorIs(err, ErrEnd)
		assert.Empty(item)
	}
}

func Test_Slice_Empty(t *testing.T) {
	_, err := Slice[int](nil)()
	assert.ErrorIs(t, err, ErrEnd)
}
