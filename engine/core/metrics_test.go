package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFrameMetricsAverage(t *testing.T) {
	m := NewFrameMetrics()
	assert.Zero(t, m.AverageFrameMs())

	// Four frames at 16ms each.
	for i := 0; i < 4; i++ {
		m.Record(0.016)
	}
	assert.InDelta(t, 16.0, m.AverageFrameMs(), 0.001)
}

func TestFrameMetricsSlidingWindow(t *testing.T) {
	m := NewFrameMetrics()

	// Fill the window with 10ms frames, then push it out with 20ms ones.
	for i := 0; i < frameWindow; i++ {
		m.Record(0.010)
	}
	assert.InDelta(t, 10.0, m.AverageFrameMs(), 0.001)

	for i := 0; i < frameWindow; i++ {
		m.Record(0.020)
	}
	assert.InDelta(t, 20.0, m.AverageFrameMs(), 0.001)
}

func TestFrameMetricsFPS(t *testing.T) {
	m := NewFrameMetrics()
	assert.Zero(t, m.FPS())

	// 60 frames of ~16.7ms cross the one second mark.
	for i := 0; i < 61; i++ {
		m.Record(1.0 / 60.0)
	}
	assert.InDelta(t, 60.0, m.FPS(), 2.0)
}

func TestClockStopKeepsElapsed(t *testing.T) {
	c := NewClock()

	// Update before Start has no effect.
	c.Update()
	assert.Zero(t, c.Elapsed())

	c.Start()
	c.Update()
	elapsed := c.Elapsed()

	c.Stop()
	c.Update()
	assert.Equal(t, elapsed, c.Elapsed())
}
