package rhi_test

import (
	"testing"

	"github.com/spaghettifunk/sanity/engine/core"
	"github.com/spaghettifunk/sanity/engine/renderer/headless"
	"github.com/spaghettifunk/sanity/engine/renderer/rhi"
	"github.com/stretchr/testify/require"
)

var (
	vertexShader  = []byte{0x03, 0x02, 0x23, 0x07, 'v'}
	pixelShader   = []byte{0x03, 0x02, 0x23, 0x07, 'p'}
	computeShader = []byte{0x03, 0x02, 0x23, 0x07, 'c'}
)

func newDevice(t *testing.T, opts headless.Options, configure ...func(*core.Settings)) (*rhi.RenderDevice, *headless.Backend) {
	t.Helper()
	settings := core.DefaultSettings()
	settings.MeshStore.VertexBufferSize = 1 << 16
	settings.MeshStore.IndexBufferSize = 1 << 16
	for _, c := range configure {
		c(settings)
	}
	backend := headless.New(opts)
	device, err := rhi.NewRenderDevice(backend, settings)
	require.NoError(t, err)
	t.Cleanup(func() { _ = device.Close() })
	return device, backend
}

type standardResources struct {
	cameras   *rhi.Buffer
	materials *rhi.Buffer
	texture   *rhi.Image
}

func newStandardResources(t *testing.T, device *rhi.RenderDevice) standardResources {
	t.Helper()
	cameras, err := device.CreateBuffer(rhi.BufferCreateInfo{Name: "cameras", Size: 256, Usage: rhi.UniformBuffer})
	require.NoError(t, err)
	materials, err := device.CreateBuffer(rhi.BufferCreateInfo{Name: "materials", Size: 1024, Usage: rhi.StorageBuffer})
	require.NoError(t, err)
	texture, err := device.CreateImage(rhi.ImageCreateInfo{
		Name: "albedo", Usage: rhi.SampledImage, Format: rhi.Rgba8, Width: 4, Height: 4,
	}, nil)
	require.NoError(t, err)
	return standardResources{cameras: cameras, materials: materials, texture: texture}
}

func (r standardResources) bind(b *rhi.BindGroupBuilder) *rhi.BindGroupBuilder {
	return b.
		SetBuffer(rhi.CameraBufferName, r.cameras).
		SetBuffer(rhi.MaterialBufferName, r.materials).
		SetImageArray(rhi.TextureArrayName, []*rhi.Image{r.texture})
}

func newColorTarget(t *testing.T, device *rhi.RenderDevice, w, h uint32) *rhi.Image {
	t.Helper()
	img, err := device.CreateImage(rhi.ImageCreateInfo{
		Name: "color", Usage: rhi.RenderTarget, Format: rhi.Rgba8, Width: w, Height: h,
	}, nil)
	require.NoError(t, err)
	return img
}

func newRenderPipeline(t *testing.T, device *rhi.RenderDevice) *rhi.RenderPipelineState {
	t.Helper()
	info := rhi.NewRenderPipelineStateCreateInfo("forward", vertexShader, pixelShader)
	info.RenderTargetFormats = []rhi.ImageFormat{rhi.Rgba8}
	p, err := device.CreateRenderPipelineState(info)
	require.NoError(t, err)
	return p
}

func newComputePipeline(t *testing.T, device *rhi.RenderDevice) *rhi.ComputePipelineState {
	t.Helper()
	p, err := device.CreateComputePipelineState(&rhi.ComputePipelineStateCreateInfo{
		Name: "cull", ComputeShader: computeShader, UseStandardMaterialLayout: true,
	})
	require.NoError(t, err)
	return p
}

func ops(cmds []headless.Command) []string {
	out := make([]string, len(cmds))
	for i, c := range cmds {
		out[i] = c.Op
	}
	return out
}
