package systems

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmissionAppliesInReceivedOrder(t *testing.T) {
	ss, err := NewSubmissionSystem(SubmissionSystemConfig{QueueDepth: 8})
	require.NoError(t, err)

	var applied []int
	for i := 0; i < 5; i++ {
		i := i
		require.NoError(t, ss.Enqueue(func() error {
			applied = append(applied, i)
			return nil
		}))
	}
	require.NoError(t, ss.Apply())
	assert.Equal(t, []int{0, 1, 2, 3, 4}, applied)
	assert.Zero(t, ss.Pending())
}

func TestSubmissionFailureLeavesRestQueued(t *testing.T) {
	ss, err := NewSubmissionSystem(SubmissionSystemConfig{QueueDepth: 8})
	require.NoError(t, err)

	require.NoError(t, ss.Enqueue(func() error { return nil }))
	require.NoError(t, ss.Enqueue(func() error { return fmt.Errorf("device refused the write") }))
	require.NoError(t, ss.Enqueue(func() error { return nil }))

	// The failed intent stays at the head for the next frame's Apply.
	require.Error(t, ss.Apply())
	assert.Equal(t, 2, ss.Pending())
}

func TestSubmissionQueueDepthBound(t *testing.T) {
	ss, err := NewSubmissionSystem(SubmissionSystemConfig{QueueDepth: 2})
	require.NoError(t, err)

	require.NoError(t, ss.Enqueue(func() error { return nil }))
	require.NoError(t, ss.Enqueue(func() error { return nil }))
	require.Error(t, ss.Enqueue(func() error { return nil }))
}
