package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClamp(t *testing.T) {
	assert.Equal(t, 5, Clamp(7, 0, 5))
	assert.Equal(t, 0, Clamp(-3, 0, 5))
	assert.Equal(t, float32(0.5), Clamp(float32(0.5), 0, 1))
}

func TestAlignUp(t *testing.T) {
	assert.Equal(t, uint64(0), AlignUp(uint64(0), 256))
	assert.Equal(t, uint64(256), AlignUp(uint64(1), 256))
	assert.Equal(t, uint64(256), AlignUp(uint64(256), 256))
	assert.Equal(t, uint32(12), AlignUp(uint32(9), 4))
	assert.Equal(t, uint32(9), AlignUp(uint32(9), 0))
}

func TestIsPowerOfTwo(t *testing.T) {
	for _, v := range []uint32{1, 2, 4, 8, 64} {
		assert.True(t, IsPowerOfTwo(v), v)
	}
	for _, v := range []uint32{0, 3, 6, 12} {
		assert.False(t, IsPowerOfTwo(v), v)
	}
}

func TestFrameMetricsAverage(t *testing.T) {
	m := NewFrameMetrics()
	for i := 0; i < int(AVG_COUNT); i++ {
		m.Update(10 * time.Millisecond)
	}
	assert.InDelta(t, 10.0, m.FrameTime(), 0.001)

	m.RecordWait(2 * time.Millisecond)
	m.RecordWait(3 * time.Millisecond)
	waits, total := m.Backpressure()
	assert.Equal(t, uint64(2), waits)
	assert.Equal(t, 5*time.Millisecond, total)

	m.RecordStagingAllocation()
	assert.Equal(t, uint64(1), m.StagingAllocations())
}
