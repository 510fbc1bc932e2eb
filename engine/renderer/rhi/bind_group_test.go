package rhi_test

import (
	"testing"

	"github.com/spaghettifunk/sanity/engine/renderer/headless"
	"github.com/spaghettifunk/sanity/engine/renderer/rhi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindGroupIsImmutableAfterBuild(t *testing.T) {
	device, _ := newDevice(t, headless.Options{AutoComplete: true})
	res := newStandardResources(t, device)
	other, err := device.CreateBuffer(rhi.BufferCreateInfo{Name: "other cameras", Size: 64, Usage: rhi.UniformBuffer})
	require.NoError(t, err)

	textures := []*rhi.Image{res.texture}
	builder := device.CreateBindGroupBuilder(rhi.StandardMaterialLayout()).
		SetBuffer(rhi.CameraBufferName, res.cameras).
		SetBuffer(rhi.MaterialBufferName, res.materials).
		SetImageArray(rhi.TextureArrayName, textures)
	group, err := builder.Build()
	require.NoError(t, err)

	builder.SetBuffer(rhi.CameraBufferName, other)
	textures[0] = nil
	builder.ClearAllBindings()

	cameras, ok := group.Buffer(rhi.CameraBufferName)
	require.True(t, ok)
	assert.Same(t, res.cameras, cameras)
	images, ok := group.Images(rhi.TextureArrayName)
	require.True(t, ok)
	require.Len(t, images, 1)
	assert.Same(t, res.texture, images[0])

	images[0] = nil
	again, _ := group.Images(rhi.TextureArrayName)
	assert.Same(t, res.texture, again[0])
}

func TestBuildFailsForVertexOnlyPipelineMissingBinding(t *testing.T) {
	device, _ := newDevice(t, headless.Options{AutoComplete: true})
	res := newStandardResources(t, device)

	info := rhi.NewRenderPipelineStateCreateInfo("depth prepass", vertexShader, nil)
	info.RenderTargetFormats = nil
	depth := rhi.Depth32
	info.DepthStencilFormat = &depth
	pipeline, err := device.CreateRenderPipelineState(info)
	require.NoError(t, err)
	assert.False(t, pipeline.HasPixelShader)

	group, err := pipeline.NewBindGroupBuilder().
		SetBuffer(rhi.CameraBufferName, res.cameras).
		SetImageArray(rhi.TextureArrayName, []*rhi.Image{res.texture}).
		Build()
	require.ErrorIs(t, err, rhi.ErrConfiguration)
	assert.ErrorContains(t, err, rhi.MaterialBufferName)
	assert.Nil(t, group)
}

func TestOptionalBindingMayBeOmitted(t *testing.T) {
	device, _ := newDevice(t, headless.Options{AutoComplete: true})
	res := newStandardResources(t, device)

	group, err := res.bind(device.CreateBindGroupBuilder(nil)).Build()
	require.NoError(t, err)
	_, ok := group.Buffer(rhi.LightBufferName)
	assert.False(t, ok)
	assert.Len(t, group.Bindings(), 3)
}

func TestBuildRejectsBadBindings(t *testing.T) {
	device, _ := newDevice(t, headless.Options{AutoComplete: true})
	res := newStandardResources(t, device)

	tooMany := make([]*rhi.Image, rhi.MaxStandardTextures+1)
	for i := range tooMany {
		tooMany[i] = res.texture
	}

	tests := []struct {
		name  string
		setup func(b *rhi.BindGroupBuilder)
	}{
		{"unknown name", func(b *rhi.BindGroupBuilder) { b.SetBuffer("shadow_maps", res.materials) }},
		{"image where buffer expected", func(b *rhi.BindGroupBuilder) { b.SetImage(rhi.MaterialBufferName, res.texture) }},
		{"buffer where images expected", func(b *rhi.BindGroupBuilder) { b.SetBuffer(rhi.TextureArrayName, res.materials) }},
		{"storage buffer in uniform slot", func(b *rhi.BindGroupBuilder) { b.SetBuffer(rhi.CameraBufferName, res.materials) }},
		{"oversized image array", func(b *rhi.BindGroupBuilder) { b.SetImageArray(rhi.TextureArrayName, tooMany) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := res.bind(device.CreateBindGroupBuilder(nil))
			tt.setup(b)
			_, err := b.Build()
			assert.ErrorIs(t, err, rhi.ErrConfiguration)
		})
	}
}

func TestClearAllBindings(t *testing.T) {
	device, _ := newDevice(t, headless.Options{AutoComplete: true})
	res := newStandardResources(t, device)

	b := res.bind(device.CreateBindGroupBuilder(nil)).ClearAllBindings()
	_, err := b.Build()
	require.ErrorIs(t, err, rhi.ErrConfiguration)

	_, err = res.bind(b).Build()
	assert.NoError(t, err)
}

func TestBindingLayoutRejectsDuplicates(t *testing.T) {
	_, err := rhi.NewBindingLayout(
		rhi.BindingSlot{Name: "a", Kind: rhi.UniformBufferBinding, Binding: 0},
		rhi.BindingSlot{Name: "a", Kind: rhi.StorageBufferBinding, Binding: 1},
	)
	assert.ErrorIs(t, err, rhi.ErrConfiguration)

	_, err = rhi.NewBindingLayout(
		rhi.BindingSlot{Name: "a", Kind: rhi.UniformBufferBinding, Binding: 0},
		rhi.BindingSlot{Name: "b", Kind: rhi.StorageBufferBinding, Binding: 0},
	)
	assert.ErrorIs(t, err, rhi.ErrConfiguration)
}

func TestCustomLayoutGroup(t *testing.T) {
	device, _ := newDevice(t, headless.Options{AutoComplete: true})
	layout, err := rhi.NewBindingLayout(
		rhi.BindingSlot{Name: "particles", Kind: rhi.StorageBufferBinding, Binding: 0, Stages: rhi.StageCompute},
	)
	require.NoError(t, err)
	particles, err := device.CreateBuffer(rhi.BufferCreateInfo{Name: "particles", Size: 4096, Usage: rhi.StorageBuffer})
	require.NoError(t, err)

	group, err := device.CreateBindGroupBuilder(layout).SetBuffer("particles", particles).Build()
	require.NoError(t, err)
	assert.True(t, group.Layout().Equal(layout))
	assert.False(t, group.Layout().Equal(rhi.StandardMaterialLayout()))
}
