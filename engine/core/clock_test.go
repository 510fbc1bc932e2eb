package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClockTicksAndStops(t *testing.T) {
	c := NewClock()
	c.Update()
	assert.Zero(t, c.Elapsed())
	assert.False(t, c.Running())

	c.Start()
	assert.True(t, c.Running())
	time.Sleep(5 * time.Millisecond)
	first := c.Tick()
	assert.GreaterOrEqual(t, first, 5*time.Millisecond)
	second := c.Tick()
	assert.Equal(t, first+second, c.Elapsed())

	c.Stop()
	frozen := c.Elapsed()
	time.Sleep(time.Millisecond)
	c.Update()
	assert.Equal(t, frozen, c.Elapsed())
}
