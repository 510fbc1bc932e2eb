package core

import "time"

// Clock measures wall time from Start. A stopped clock keeps its last reading.
type Clock struct {
	startTime time.Time
	elapsed   time.Duration
	// reading at the previous Tick
	lastTick time.Duration
}

func NewClock() *Clock {
	return &Clock{}
}

// Update refreshes Elapsed. No effect on a stopped clock.
func (c *Clock) Update() {
	if !c.startTime.IsZero() {
		c.elapsed = time.Since(c.startTime)
	}
}

// Start resets the clock and starts it.
func (c *Clock) Start() {
	c.startTime = time.Now()
	c.elapsed = 0
	c.lastTick = 0
}

func (c *Clock) Stop() {
	c.startTime = time.Time{}
}

func (c *Clock) Elapsed() time.Duration {
	return c.elapsed
}

func (c *Clock) Running() bool {
	return !c.startTime.IsZero()
}

// Tick updates the clock and returns the time since the previous Tick, or
// since Start for the first one.
func (c *Clock) Tick() time.Duration {
	c.Update()
	delta := c.elapsed - c.lastTick
	c.lastTick = c.elapsed
	return delta
}
