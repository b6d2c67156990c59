package core

import "time"

/**
 * @brief A resettable frame clock. Start begins timing, Update refreshes
 * the elapsed duration, and Elapsed reports the time since Start.
 */
type Clock struct {
	started time.Time
	elapsed time.Duration
}

func NewClock() *Clock {
	return &Clock{}
}

// Start begins timing and resets the elapsed duration.
func (c *Clock) Start() {
	c.started = time.Now()
	c.elapsed = 0
}

// Update refreshes the elapsed duration. No effect on a stopped clock.
func (c *Clock) Update() {
	if !c.started.IsZero() {
		c.elapsed = time.Since(c.started)
	}
}

// Stop halts the clock, keeping the last elapsed duration.
func (c *Clock) Stop() {
	c.started = time.Time{}
}

func (c *Clock) Elapsed() time.Duration {
	return c.elapsed
}
