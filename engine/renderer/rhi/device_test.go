package rhi_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/spaghettifunk/sanity/engine/core"
	"github.com/spaghettifunk/sanity/engine/renderer/headless"
	"github.com/spaghettifunk/sanity/engine/renderer/rhi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withFrames(n uint32) func(*core.Settings) {
	return func(s *core.Settings) { s.Render.NumInFlightFrames = n }
}

func submitEmptyFrame(t *testing.T, device *rhi.RenderDevice) {
	t.Helper()
	require.NoError(t, device.BeginFrame(context.Background()))
	cmds, err := device.CreateRenderCommandList()
	require.NoError(t, err)
	require.NoError(t, device.SubmitCommandList(cmds))
	require.NoError(t, device.EndFrame())
}

func TestNumInFlightFramesIsValidated(t *testing.T) {
	for _, n := range []uint32{0, 4} {
		settings := core.DefaultSettings()
		settings.Render.NumInFlightFrames = n
		_, err := rhi.NewRenderDevice(headless.New(headless.Options{}), settings)
		assert.ErrorIs(t, err, rhi.ErrConfiguration, "frames in flight %d", n)
	}
	_, err := rhi.NewRenderDevice(nil, nil)
	assert.ErrorIs(t, err, rhi.ErrConfiguration)
}

func TestBeginFrameReportsBackpressure(t *testing.T) {
	device, backend := newDevice(t, headless.Options{}, withFrames(2))

	submitEmptyFrame(t, device)
	submitEmptyFrame(t, device)
	assert.EqualValues(t, 2, device.FrameIndex())
	assert.EqualValues(t, 0, device.CurrentSlot())

	err := device.TryBeginFrame()
	require.ErrorIs(t, err, rhi.ErrBackpressure)
	_, err = device.CreateRenderCommandList()
	require.ErrorIs(t, err, rhi.ErrBackpressure)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = device.BeginFrame(ctx)
	require.ErrorIs(t, err, rhi.ErrBackpressure)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, backend.Stats().SlotResets[0], "slot 0 must not be recycled while busy")

	backend.Complete(1)
	require.NoError(t, device.TryBeginFrame())
	assert.Equal(t, 2, backend.Stats().SlotResets[0])
	require.NoError(t, device.EndFrame())

	waits, _ := device.Metrics().Backpressure()
	assert.EqualValues(t, 1, waits)
}

func TestBeginFrameBlocksUntilGPUCatchesUp(t *testing.T) {
	device, backend := newDevice(t, headless.Options{}, withFrames(1))
	submitEmptyFrame(t, device)

	go func() {
		time.Sleep(10 * time.Millisecond)
		backend.CompleteAll()
	}()
	require.NoError(t, device.BeginFrame(context.Background()))
	require.NoError(t, device.EndFrame())
	assert.EqualValues(t, 2, device.FrameIndex())
}

func TestSlotsAreNeverReusedWhileInFlight(t *testing.T) {
	device, backend := newDevice(t, headless.Options{})
	buf, err := device.CreateBuffer(rhi.BufferCreateInfo{Name: "counter", Size: 4, Usage: rhi.StorageBuffer})
	require.NoError(t, err)

	for frame := 0; frame < 12; frame++ {
		for {
			err := device.TryBeginFrame()
			if err == nil {
				break
			}
			require.ErrorIs(t, err, rhi.ErrBackpressure)
			// Let the GPU finish just the oldest frame.
			backend.Complete(backend.Signaled() - uint64(device.NumInFlightFrames()) + 1)
		}
		cmds, err := device.CreateResourceCommandList()
		require.NoError(t, err)
		require.NoError(t, cmds.CopyDataToBuffer([]byte{byte(frame), 0, 0, 0}, buf, 0))
		require.NoError(t, device.SubmitCommandList(cmds))
		require.NoError(t, device.EndFrame())
	}
	backend.CompleteAll()
	assert.Equal(t, byte(11), headless.Contents(buf.Native)[0])
	assert.EqualValues(t, 12, device.FrameIndex())
}

func TestFrameBracketOrdering(t *testing.T) {
	device, _ := newDevice(t, headless.Options{AutoComplete: true})
	assert.ErrorIs(t, device.EndFrame(), rhi.ErrOrderingViolation)
	require.NoError(t, device.BeginFrame(context.Background()))
	assert.ErrorIs(t, device.BeginFrame(context.Background()), rhi.ErrOrderingViolation)
	require.NoError(t, device.EndFrame())
}

func TestDeferredDestruction(t *testing.T) {
	device, backend := newDevice(t, headless.Options{})
	buf, err := device.CreateBuffer(rhi.BufferCreateInfo{Name: "old", Size: 128, Usage: rhi.VertexBuffer})
	require.NoError(t, err)
	img, err := device.CreateImage(rhi.ImageCreateInfo{Name: "old", Usage: rhi.SampledImage, Format: rhi.R32F, Width: 2, Height: 2}, nil)
	require.NoError(t, err)

	require.NoError(t, device.BeginFrame(context.Background()))
	require.NoError(t, device.ScheduleBufferDestruction(buf))
	require.NoError(t, device.ScheduleImageDestruction(img))
	assert.ErrorIs(t, device.ScheduleBufferDestruction(buf), rhi.ErrConfiguration)
	require.NoError(t, device.EndFrame())

	_, err = device.PollRetired()
	require.NoError(t, err)
	stats := backend.Stats()
	assert.Equal(t, 1, stats.Buffers)
	assert.Equal(t, 1, stats.Images)

	backend.CompleteAll()
	_, err = device.PollRetired()
	require.NoError(t, err)
	stats = backend.Stats()
	assert.Equal(t, 0, stats.Buffers)
	assert.Equal(t, 0, stats.Images)
	assert.Zero(t, stats.Allocated)
}

func TestStagingBuffersAreRecycled(t *testing.T) {
	device, backend := newDevice(t, headless.Options{AutoComplete: true})
	buf, err := device.CreateBuffer(rhi.BufferCreateInfo{Name: "data", Size: 16, Usage: rhi.StorageBuffer})
	require.NoError(t, err)

	upload := func(fill byte) {
		t.Helper()
		require.NoError(t, device.BeginFrame(context.Background()))
		cmds, err := device.CreateResourceCommandList()
		require.NoError(t, err)
		require.NoError(t, cmds.CopyDataToBuffer(bytes.Repeat([]byte{fill}, 16), buf, 0))
		require.NoError(t, device.SubmitCommandList(cmds))
		require.NoError(t, device.EndFrame())
	}

	upload(1)
	assert.Equal(t, 2, backend.Stats().Buffers)
	retired, err := device.PollRetired()
	require.NoError(t, err)
	assert.Equal(t, 1, retired)
	assert.Equal(t, 1, device.StagingBuffers(), "retired staging goes back to the pool")
	assert.Equal(t, 2, backend.Stats().Buffers)

	for i := byte(2); i < 6; i++ {
		upload(i)
		assert.Equal(t, 2, backend.Stats().Buffers, "frame %d", i)
		assert.Equal(t, bytes.Repeat([]byte{i}, 16), headless.Contents(buf.Native))
	}
	assert.EqualValues(t, 1, device.Metrics().StagingAllocations())
}

func TestDestructionWaitsForRecordingLists(t *testing.T) {
	device, backend := newDevice(t, headless.Options{}, withFrames(2))
	buf, err := device.CreateBuffer(rhi.BufferCreateInfo{Name: "particles", Size: 16, Usage: rhi.StorageBuffer})
	require.NoError(t, err)
	data := bytes.Repeat([]byte{7}, 16)

	// frame 0 records a copy into buf and schedules buf for destruction
	// before the list is submitted
	require.NoError(t, device.BeginFrame(context.Background()))
	cmds, err := device.CreateResourceCommandList()
	require.NoError(t, err)
	require.NoError(t, cmds.CopyDataToBuffer(data, buf, 0))
	require.NoError(t, device.ScheduleBufferDestruction(buf))
	require.NoError(t, device.EndFrame())
	backend.CompleteAll()

	require.NoError(t, device.BeginFrame(context.Background()))
	_, err = device.PollRetired()
	require.NoError(t, err)
	assert.Equal(t, 2, backend.Stats().Buffers, "a recording list still refers to the buffer")

	require.NoError(t, device.SubmitCommandList(cmds))
	require.NoError(t, device.EndFrame())
	_, err = device.PollRetired()
	require.NoError(t, err)
	assert.Equal(t, 2, backend.Stats().Buffers)

	backend.CompleteAll()
	assert.Equal(t, data, headless.Contents(buf.Native))
	retired, err := device.PollRetired()
	require.NoError(t, err)
	assert.Equal(t, 1, retired)
	assert.Equal(t, 1, backend.Stats().Buffers, "only the pooled staging buffer is left")
	assert.Equal(t, 1, device.StagingBuffers())
}

func TestSubmitIsNotBlockedByFramePacing(t *testing.T) {
	device, backend := newDevice(t, headless.Options{}, withFrames(2))
	submitEmptyFrame(t, device)

	require.NoError(t, device.BeginFrame(context.Background()))
	worker, err := device.CreateRenderCommandList()
	require.NoError(t, err)
	require.NoError(t, device.EndFrame())

	// slot 0 is busy until fence 1 completes
	begun := make(chan error, 1)
	go func() { begun <- device.BeginFrame(context.Background()) }()
	require.Eventually(t, func() bool { return backend.Waiting() == 1 }, time.Second, time.Millisecond)

	submitted := make(chan error, 1)
	go func() { submitted <- device.SubmitCommandList(worker) }()
	select {
	case err := <-submitted:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("SubmitCommandList blocked behind BeginFrame")
	}

	backend.CompleteAll()
	require.NoError(t, <-begun)
	require.NoError(t, device.EndFrame())
	waits, _ := device.Metrics().Backpressure()
	assert.EqualValues(t, 1, waits)
}

func TestCreateBufferErrors(t *testing.T) {
	device, _ := newDevice(t, headless.Options{AutoComplete: true, MemoryLimit: 1 << 20})
	_, err := device.CreateBuffer(rhi.BufferCreateInfo{Name: "empty", Usage: rhi.UniformBuffer})
	assert.ErrorIs(t, err, rhi.ErrConfiguration)

	_, err = device.CreateBuffer(rhi.BufferCreateInfo{Name: "huge", Size: 2 << 20, Usage: rhi.StorageBuffer})
	assert.ErrorIs(t, err, rhi.ErrResourceExhausted)
	assert.False(t, device.IsLost())
}

func TestMapBuffer(t *testing.T) {
	device, _ := newDevice(t, headless.Options{AutoComplete: true})
	staging, err := device.CreateBuffer(rhi.BufferCreateInfo{Name: "ui", Size: 32, Usage: rhi.UiVertices})
	require.NoError(t, err)
	mapped, err := device.MapBuffer(staging)
	require.NoError(t, err)
	assert.Len(t, mapped, 32)
	mapped[0] = 42
	assert.Equal(t, byte(42), headless.Contents(staging.Native)[0])

	uniform, err := device.CreateBuffer(rhi.BufferCreateInfo{Name: "camera", Size: 64, Usage: rhi.UniformBuffer})
	require.NoError(t, err)
	mapped, err = device.MapBuffer(uniform)
	require.NoError(t, err)
	assert.Len(t, mapped, 64)

	gpuOnly, err := device.CreateBuffer(rhi.BufferCreateInfo{Name: "gpu", Size: 32, Usage: rhi.IndexBuffer})
	require.NoError(t, err)
	_, err = device.MapBuffer(gpuOnly)
	assert.ErrorIs(t, err, rhi.ErrConfiguration)
}

func TestCreateImageUploadsPixels(t *testing.T) {
	device, _ := newDevice(t, headless.Options{AutoComplete: true})
	src := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	src.Set(1, 1, color.NRGBA{R: 255, A: 255})
	pixels := rhi.PixelsFromImage(src)
	require.Len(t, pixels, 16)

	img, err := device.CreateImage(rhi.ImageCreateInfoFor("checker", src), pixels)
	require.NoError(t, err)
	require.NoError(t, device.BeginFrame(context.Background()))
	require.NoError(t, device.EndFrame())
	assert.Equal(t, pixels, headless.Contents(img.Native))

	_, err = device.CreateImage(rhi.ImageCreateInfoFor("short", src), pixels[:4])
	assert.ErrorIs(t, err, rhi.ErrConfiguration)
}

func TestDeviceLossIsLatched(t *testing.T) {
	device, backend := newDevice(t, headless.Options{})
	require.NoError(t, device.BeginFrame(context.Background()))
	backend.SimulateDeviceLoss()

	err := device.EndFrame()
	require.ErrorIs(t, err, rhi.ErrDeviceLost)
	assert.True(t, rhi.IsDeviceLost(err))
	assert.True(t, device.IsLost())

	_, err = device.CreateBuffer(rhi.BufferCreateInfo{Name: "late", Size: 4, Usage: rhi.StorageBuffer})
	assert.ErrorIs(t, err, rhi.ErrDeviceLost)
	assert.ErrorIs(t, device.BeginFrame(context.Background()), rhi.ErrDeviceLost)
	_, err = device.CreateRenderCommandList()
	assert.ErrorIs(t, err, rhi.ErrDeviceLost)
	assert.NoError(t, device.Close())
}

func TestDeviceLossWakesBlockedFrame(t *testing.T) {
	device, backend := newDevice(t, headless.Options{}, withFrames(1))
	submitEmptyFrame(t, device)

	go func() {
		time.Sleep(10 * time.Millisecond)
		backend.SimulateDeviceLoss()
	}()
	err := device.BeginFrame(context.Background())
	assert.True(t, errors.Is(err, rhi.ErrDeviceLost))
	assert.True(t, device.IsLost())
}

func TestCloseReleasesEverything(t *testing.T) {
	backend := headless.New(headless.Options{})
	device, err := rhi.NewRenderDevice(backend, nil)
	require.NoError(t, err)
	res := newStandardResources(t, device)
	pipeline := newRenderPipeline(t, device)
	_, err = res.bind(pipeline.NewBindGroupBuilder()).Build()
	require.NoError(t, err)
	_, err = device.CreateFramebuffer([]*rhi.Image{newColorTarget(t, device, 4, 4)}, nil)
	require.NoError(t, err)

	cmds, err := device.CreateResourceCommandList()
	require.NoError(t, err)
	require.NoError(t, cmds.CopyDataToBuffer(make([]byte, 8), res.materials, 0))
	require.NoError(t, device.SubmitCommandList(cmds))

	require.NoError(t, device.Close())
	assert.Equal(t, headless.Stats{SlotResets: backend.Stats().SlotResets}, backend.Stats())
	assert.NoError(t, device.Close())

	_, err = device.CreateBuffer(rhi.BufferCreateInfo{Name: "late", Size: 4, Usage: rhi.StorageBuffer})
	assert.ErrorIs(t, err, rhi.ErrConfiguration)
}
