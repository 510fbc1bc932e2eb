package core

import (
	"sync"
	"time"
)

const AVG_COUNT uint8 = 30

// FrameMetrics tracks CPU frame times and how often the CPU had to wait for
// the GPU before reusing a frame slot.
type FrameMetrics struct {
	mu sync.Mutex

	frameAVGCounter    uint8
	msTimes            [AVG_COUNT]float64
	msAvg              float64
	frames             int32
	accumulatedFrameMS float64
	fps                float64

	backpressureWaits uint64
	waitTime          time.Duration
	stagingAllocs     uint64
}

func NewFrameMetrics() *FrameMetrics {
	return &FrameMetrics{}
}

func (m *FrameMetrics) Update(frameElapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Calculate frame ms average
	frameMS := float64(frameElapsed) / float64(time.Millisecond)
	m.msTimes[m.frameAVGCounter] = frameMS
	if m.frameAVGCounter == AVG_COUNT-1 {
		m.msAvg = 0
		for i := uint8(0); i < AVG_COUNT; i++ {
			m.msAvg += m.msTimes[i]
		}
		m.msAvg /= float64(AVG_COUNT)
	}
	m.frameAVGCounter++
	m.frameAVGCounter %= AVG_COUNT

	// Calculate frames per second.
	m.accumulatedFrameMS += frameMS
	if m.accumulatedFrameMS > 1000 {
		m.fps = float64(m.frames)
		m.accumulatedFrameMS -= 1000
		m.frames = 0
	}

	// Count all frames.
	m.frames++
}

// RecordWait notes one blocking wait on a frame fence.
func (m *FrameMetrics) RecordWait(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backpressureWaits++
	m.waitTime += d
}

// RecordStagingAllocation notes a copy that found no pooled staging buffer.
func (m *FrameMetrics) RecordStagingAllocation() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stagingAllocs++
}

// StagingAllocations is how many staging buffers were created so far.
func (m *FrameMetrics) StagingAllocations() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stagingAllocs
}

func (m *FrameMetrics) FPS() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fps
}

func (m *FrameMetrics) FrameTime() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.msAvg
}

func (m *FrameMetrics) Frame() (float64, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fps, m.msAvg
}

// Backpressure returns how many times BeginFrame had to block and the total time spent blocked.
func (m *FrameMetrics) Backpressure() (uint64, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backpressureWaits, m.waitTime
}
