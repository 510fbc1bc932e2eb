package renderer_test

import (
	"context"
	"errors"
	"testing"

	"github.com/spaghettifunk/sanity/engine/assets"
	"github.com/spaghettifunk/sanity/engine/core"
	"github.com/spaghettifunk/sanity/engine/jobs"
	"github.com/spaghettifunk/sanity/engine/math"
	"github.com/spaghettifunk/sanity/engine/renderer"
	"github.com/spaghettifunk/sanity/engine/renderer/components"
	"github.com/spaghettifunk/sanity/engine/renderer/headless"
	"github.com/spaghettifunk/sanity/engine/renderer/rhi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	renderer *renderer.Renderer
	device   *rhi.RenderDevice
	backend  *headless.Backend
	shaders  *assets.ShaderLibrary
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	settings := core.DefaultSettings()
	settings.Render.NumInFlightFrames = 2
	settings.Render.Width = 64
	settings.Render.Height = 32
	settings.MeshStore.VertexBufferSize = 1 << 20
	settings.MeshStore.IndexBufferSize = 1 << 20

	backend := headless.New(headless.Options{AutoComplete: true})
	device, err := rhi.NewRenderDevice(backend, settings)
	require.NoError(t, err)

	shaders := assets.NewMemoryShaderLibrary()
	shaders.Put(renderer.VertexShaderName, []byte{0x03, 0x02, 0x23, 0x07, 1, 0, 0, 0})
	shaders.Put(renderer.PixelShaderName, []byte{0x03, 0x02, 0x23, 0x07, 2, 0, 0, 0})

	js, err := jobs.NewJobSystem(3, 8)
	require.NoError(t, err)

	r, err := renderer.New(device, shaders, js)
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, r.Shutdown())
		assert.NoError(t, device.Close())
		assert.NoError(t, js.Shutdown())
	})
	return fixture{renderer: r, device: device, backend: backend, shaders: shaders}
}

func filter(cmds []headless.Command, op string) []headless.Command {
	var out []headless.Command
	for _, c := range cmds {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

func indexOf(cmds []headless.Command, op string) int {
	for i, c := range cmds {
		if c.Op == op {
			return i
		}
	}
	return -1
}

func TestDrawFrameRecordsStandardPass(t *testing.T) {
	f := newFixture(t)
	meshes, err := f.renderer.UploadMeshes(
		renderer.GenerateCube("cube", 1, 1, 1, 0xffffffff),
		renderer.GeneratePlane("floor", 10, 10, 0xff808080),
	)
	require.NoError(t, err)
	require.Len(t, meshes, 2)
	assert.Equal(t, uint32(24), meshes[1].FirstVertex)
	assert.Equal(t, uint32(36), meshes[1].FirstIndex)

	camera := components.NewCamera()
	camera.SetPosition(math.NewVec3(0, 2, 5))
	camera.LookAt(math.NewVec3(0, 0, 0))
	packet := &renderer.RenderPacket{
		Camera: camera,
		Draws: []renderer.DrawItem{
			{Mesh: meshes[0], Instances: 2},
			{Mesh: meshes[1]},
		},
	}
	require.NoError(t, f.renderer.DrawFrame(context.Background(), packet))

	cmds := f.backend.Executed()
	draws := filter(cmds, "DrawIndexed")
	require.Len(t, draws, 2)
	assert.Equal(t, headless.Command{Op: "DrawIndexed", NumIndices: 36, FirstIndex: 0, BaseVertex: 0, NumInstances: 2}, draws[0])
	assert.Equal(t, headless.Command{Op: "DrawIndexed", NumIndices: 6, FirstIndex: 36, BaseVertex: 24, NumInstances: 1}, draws[1])

	order := []string{"SetFramebuffer", "SetRenderPipeline", "BindRenderResources", "BindMeshData", "DrawIndexed"}
	last := -1
	for _, op := range order {
		i := indexOf(cmds, op)
		assert.Greater(t, i, last, op)
		last = i
	}

	want := make([]byte, components.CameraUniformSize)
	camera.PutUniform(want, f.renderer.AspectRatio())
	assert.Equal(t, want, headless.Contents(f.renderer.CameraBuffer(0).Native))
	assert.Equal(t, uint64(1), f.device.FrameIndex())
}

func TestSteadyStateFramesAllocateNothing(t *testing.T) {
	f := newFixture(t)
	meshes, err := f.renderer.UploadMeshes(renderer.GenerateCube("cube", 1, 1, 1, 0xffffffff))
	require.NoError(t, err)

	camera := components.NewCamera()
	packet := &renderer.RenderPacket{Camera: camera, Draws: []renderer.DrawItem{{Mesh: meshes[0]}}}
	require.NoError(t, f.renderer.DrawFrame(context.Background(), packet))

	buffers := f.backend.Stats().Buffers
	allocs := f.device.Metrics().StagingAllocations()
	copies := len(filter(f.backend.Executed(), "CopyBuffer"))

	for i := 0; i < 4; i++ {
		camera.SetPosition(math.NewVec3(float32(i), 1, 5))
		require.NoError(t, f.renderer.DrawFrame(context.Background(), packet))
		assert.Equal(t, buffers, f.backend.Stats().Buffers, "frame %d", i)
	}
	assert.Equal(t, allocs, f.device.Metrics().StagingAllocations())
	assert.Len(t, filter(f.backend.Executed(), "CopyBuffer"), copies, "camera is written through its mapping")

	slot := uint32((f.device.FrameIndex() - 1) % uint64(f.device.NumInFlightFrames()))
	want := make([]byte, components.CameraUniformSize)
	camera.PutUniform(want, f.renderer.AspectRatio())
	assert.Equal(t, want, headless.Contents(f.renderer.CameraBuffer(slot).Native))
}

func TestDrawFrameSplitsLargePackets(t *testing.T) {
	f := newFixture(t)
	meshes, err := f.renderer.UploadMeshes(renderer.GeneratePlane("tile", 1, 1, 0xffffffff))
	require.NoError(t, err)

	packet := &renderer.RenderPacket{}
	for i := 0; i < 600; i++ {
		packet.Draws = append(packet.Draws, renderer.DrawItem{Mesh: meshes[0], Instances: uint32(i + 1)})
	}
	require.NoError(t, f.renderer.DrawFrame(context.Background(), packet))

	cmds := f.backend.Executed()
	assert.Len(t, filter(cmds, "SetFramebuffer"), 3)
	draws := filter(cmds, "DrawIndexed")
	require.Len(t, draws, 600)
	for i, d := range draws {
		assert.Equal(t, uint32(i+1), d.NumInstances, "draw %d out of order", i)
	}
}

func TestRecordParallelSubmitsInIndexOrder(t *testing.T) {
	f := newFixture(t)
	meshes, err := f.renderer.UploadMeshes(renderer.GenerateCube("cube", 1, 1, 1, 0))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, f.device.BeginFrame(ctx))
	slot := f.device.CurrentSlot()
	err = f.renderer.RecordParallel(ctx, 4, func(_ context.Context, i int, list rhi.RenderCommandList) error {
		err := errors.Join(
			list.SetFramebuffer(f.renderer.Backbuffer()),
			list.SetRenderPipelineState(f.renderer.Pipeline()),
			list.BindRenderResources(f.renderer.BindGroup(slot)),
			list.BindMeshData(f.renderer.MeshStore()),
		)
		if err != nil {
			return err
		}
		return list.DrawMesh(meshes[0], uint32(i+1))
	})
	require.NoError(t, err)
	require.NoError(t, f.device.EndFrame())

	draws := filter(f.backend.Executed(), "DrawIndexed")
	require.Len(t, draws, 4)
	for i, d := range draws {
		assert.Equal(t, uint32(i+1), d.NumInstances)
	}
}

func TestRecordParallelFailureSubmitsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.device.BeginFrame(ctx))

	boom := errors.New("boom")
	err := f.renderer.RecordParallel(ctx, 3, func(_ context.Context, i int, list rhi.RenderCommandList) error {
		if i == 1 {
			return boom
		}
		return list.SetFramebuffer(f.renderer.Backbuffer())
	})
	assert.ErrorIs(t, err, boom)
	require.NoError(t, f.device.EndFrame())
	assert.Empty(t, filter(f.backend.Executed(), "SetFramebuffer"))

	// the abandoned lists are dropped when their slot comes around again
	require.NoError(t, f.renderer.DrawFrame(ctx, &renderer.RenderPacket{}))
	require.NoError(t, f.renderer.DrawFrame(ctx, &renderer.RenderPacket{}))
}

func TestShaderReloadRebuildsPipeline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	before := f.renderer.Pipeline()

	f.shaders.Put(renderer.PixelShaderName, []byte{0x03, 0x02, 0x23, 0x07, 3, 0, 0, 0})
	require.NoError(t, f.renderer.DrawFrame(ctx, &renderer.RenderPacket{}))
	after := f.renderer.Pipeline()
	assert.NotSame(t, before, after)

	// the old pipeline is released once the frames that used it retire
	for i := 0; i < 3; i++ {
		require.NoError(t, f.renderer.DrawFrame(ctx, &renderer.RenderPacket{}))
	}
	assert.Equal(t, 1, f.backend.Stats().Pipelines)

	// a blob the backend rejects keeps the previous pipeline
	f.backend.PipelineError = errors.New("invalid bytecode")
	f.shaders.Put(renderer.VertexShaderName, []byte{0xde, 0xad})
	require.NoError(t, f.renderer.DrawFrame(ctx, &renderer.RenderPacket{}))
	assert.Same(t, after, f.renderer.Pipeline())
	f.backend.PipelineError = nil
}

func TestNewFailsWithoutShaders(t *testing.T) {
	backend := headless.New(headless.Options{AutoComplete: true})
	settings := core.DefaultSettings()
	settings.MeshStore.VertexBufferSize = 1 << 16
	settings.MeshStore.IndexBufferSize = 1 << 16
	device, err := rhi.NewRenderDevice(backend, settings)
	require.NoError(t, err)
	defer device.Close()

	_, err = renderer.New(device, assets.NewMemoryShaderLibrary(), nil)
	assert.ErrorIs(t, err, assets.ErrShaderNotFound)
	assert.ErrorIs(t, err, core.ErrConfiguration)
}

func TestDeviceLossSurfacesFromDrawFrame(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.renderer.DrawFrame(context.Background(), &renderer.RenderPacket{}))

	f.backend.SimulateDeviceLoss()
	err := f.renderer.DrawFrame(context.Background(), &renderer.RenderPacket{})
	require.Error(t, err)
	assert.True(t, rhi.IsDeviceLost(err))
	assert.True(t, f.device.IsLost())
}

func TestGeneratedGeometry(t *testing.T) {
	cube := renderer.GenerateCube("cube", 2, 4, 6, 0xff0000ff)
	require.Len(t, cube.Vertices, 24)
	require.Len(t, cube.Indices, 36)
	for _, v := range cube.Vertices {
		assert.InDelta(t, 1, abs(v.Position[0]), 1e-6)
		assert.InDelta(t, 2, abs(v.Position[1]), 1e-6)
		assert.InDelta(t, 3, abs(v.Position[2]), 1e-6)
		n := math.NewVec3(v.Normal[0], v.Normal[1], v.Normal[2])
		assert.InDelta(t, 1, n.Length(), 1e-5)
		// normals point away from the centre
		p := math.NewVec3(v.Position[0], v.Position[1], v.Position[2])
		assert.Greater(t, n.Dot(p), float32(0))
	}

	plane := renderer.GeneratePlane("floor", 2, 2, 0)
	for _, v := range plane.Vertices {
		assert.Equal(t, [3]float32{0, 1, 0}, v.Normal)
	}
}

func abs(f float32) float32 {
	if f < 0 {
		return -f
	}
	return f
}
