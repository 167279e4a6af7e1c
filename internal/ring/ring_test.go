package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRing_FIFO(t *testing.T) {
	r := New[int](4)

	for i := 1; i <= 3; i++ {
		assert.False(t, r.Push(i))
	}
	assert.Equal(t, 3, r.Len())

	for i := 1; i <= 3; i++ {
		v, ok := r.Pop()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}

	_, ok := r.Pop()
	assert.False(t, ok)
}

func TestRing_DropOldest(t *testing.T) {
	r := New[int](3)

	r.Push(1)
	r.Push(2)
	r.Push(3)
	assert.True(t, r.Push(4), "push into a full ring must drop")
	assert.True(t, r.Push(5))

	assert.Equal(t, uint64(2), r.Dropped())
	assert.Equal(t, []int{3, 4, 5}, r.Snapshot())
	assert.Equal(t, 3, r.Len())
}

func TestRing_WrapAround(t *testing.T) {
	r := New[string](2)

	r.Push("a")
	v, ok := r.Pop()
	require.True(t, ok)
	assert.Equal(t, "a", v)

	r.Push("b")
	r.Push("c")
	assert.Equal(t, []string{"b", "c"}, r.Snapshot())
}

func TestRing_Reset(t *testing.T) {
	r := New[int](2)
	r.Push(1)
	r.Push(2)
	r.Push(3)

	r.Reset()
	assert.Zero(t, r.Len())
	assert.Zero(t, r.Dropped())
	_, ok := r.Pop()
	assert.False(t, ok)
}
