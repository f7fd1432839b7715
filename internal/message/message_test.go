package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_Message(t *testing.T) {
	assert := assert.New(t)

	msg := NewValues(1, 2, 3)
	assert.False(msg.IsStop())
	assert.Equal(KindValues, msg.Kind())
	assert.Equal([]int{1, 2, 3}, msg.Values())
	assert.Equal(3, msg.Len())
	assert.Equal("message(values:3)", msg.String())

	stop := NewStop[int]()
	assert.True(stop.IsStop())
	assert.Equal(KindStop, stop.Kind())
	assert.Empty(stop.Values())
	assert.Equal("message(stop)", stop.String())
}

func Test_Batcher(t *testing.T) {
	assert := assert.New(t)

	b := NewBatcher[int](2)

	_, ok := b.Add(1)
	assert.False(ok)
	assert.Equal(1, b.Pending())

	msg, ok := b.Add(2)
	assert.True(ok)
	assert.Equal([]int{1, 2}, msg.Values())
	assert.Zero(b.Pending())

	_, ok = b.Add(3)
	assert.False(ok)

	msg, ok = b.Flush()
	assert.True(ok)
	assert.Equal([]int{3}, msg.Values())

	_, ok = b.Flush()
	assert.False(ok)

}

func Test_Batcher_IndependentBatches(t *testing.T) {
	assert := assert.New(t)

	b := NewBatcher[int](0)

	first, ok := b.Add(1)
	assert.True(ok)

	second, ok := b.Add(2)
	assert.True(ok)

	assert.Equal([]int{1}, first.Values())
	assert.Equal([]int{2}, second.Values())
}
