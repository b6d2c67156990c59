package containers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingQueueFIFO(t *testing.T) {
	rq := NewRingQueue[int](4)

	for i := 1; i <= 4; i++ {
		require.NoError(t, rq.Enqueue(i))
	}
	assert.True(t, rq.IsFull())
	assert.Error(t, rq.Enqueue(5))

	for i := 1; i <= 4; i++ {
		v, err := rq.Dequeue()
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}
	assert.True(t, rq.IsEmpty())
	_, err := rq.Dequeue()
	assert.Error(t, err)
}

func TestRingQueueWrapAround(t *testing.T) {
	rq := NewRingQueue[string](2)

	require.NoError(t, rq.Enqueue("a"))
	require.NoError(t, rq.Enqueue("b"))
	v, err := rq.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, "a", v)

	require.NoError(t, rq.Enqueue("c"))
	v, _ = rq.Dequeue()
	assert.Equal(t, "b", v)
	v, _ = rq.Dequeue()
	assert.Equal(t, "c", v)
}

func TestRingQueueDrainOrder(t *testing.T) {
	rq := NewRingQueue[int](8)
	for i := 0; i < 6; i++ {
		require.NoError(t, rq.Enqueue(i))
	}

	var got []int
	require.NoError(t, rq.Drain(func(v int) error {
		got = append(got, v)
		return nil
	}))
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, got)
	assert.True(t, rq.IsEmpty())
}

func TestRingQueueDrainStopsOnError(t *testing.T) {
	rq := NewRingQueue[int](4)
	for i := 0; i < 3; i++ {
		require.NoError(t, rq.Enqueue(i))
	}

	calls := 0
	err := rq.Drain(func(v int) error {
		calls++
		if v == 1 {
			return assert.AnError
		}
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
	// element 1 and 2 remain queued
	assert.Equal(t, 2, rq.Len())
	v, _ := rq.Peek()
	assert.Equal(t, 1, v)
}
