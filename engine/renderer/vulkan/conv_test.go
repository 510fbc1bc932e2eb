package vulkan

import (
	"encoding/binary"
	"errors"
	"sync"
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/sanity/engine/renderer/rhi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslationTablesAreTotal(t *testing.T) {
	for _, v := range rhi.AllPrimitiveTypes() {
		assert.Contains(t, primitiveTopologies, v, v.String())
	}
	for _, v := range rhi.AllBlendFactors() {
		assert.Contains(t, blendFactors, v, v.String())
	}
	for _, v := range rhi.AllBlendOps() {
		assert.Contains(t, blendOps, v, v.String())
	}
	for _, v := range rhi.AllFillModes() {
		assert.Contains(t, polygonModes, v, v.String())
	}
	for _, v := range rhi.AllCullModes() {
		assert.Contains(t, cullModes, v, v.String())
	}
	for _, v := range rhi.AllCompareOps() {
		assert.Contains(t, compareOps, v, v.String())
	}
	for _, v := range rhi.AllStencilOps() {
		assert.Contains(t, stencilOps, v, v.String())
	}
	for _, f := range []rhi.ImageFormat{rhi.Rgba8, rhi.R32F, rhi.Rg16F, rhi.Rgba32F, rhi.Depth32, rhi.Depth24Stencil8} {
		assert.Contains(t, imageFormats, f, f.String())
	}
	for _, k := range []rhi.BindingKind{rhi.UniformBufferBinding, rhi.StorageBufferBinding, rhi.SampledImageBinding, rhi.ImageArrayBinding} {
		_, err := toDescriptorType(k)
		assert.NoError(t, err, k.String())
	}
}

func TestTranslationRejectsUnknownValues(t *testing.T) {
	factor, err := toBlendFactor(rhi.DynamicBlendFactor)
	require.NoError(t, err)
	assert.Equal(t, vk.BlendFactorConstantColor, factor)
	op, err := toStencilOp(rhi.StencilIncrementAndSaturate)
	require.NoError(t, err)
	assert.Equal(t, vk.StencilOpIncrementAndClamp, op)
	op, err = toStencilOp(rhi.StencilIncrement)
	require.NoError(t, err)
	assert.Equal(t, vk.StencilOpIncrementAndWrap, op)

	_, err = toFormat(rhi.ImageFormat(200))
	assert.ErrorIs(t, err, rhi.ErrConfiguration)
	_, err = toPolygonMode(rhi.FillMode(9))
	assert.ErrorIs(t, err, rhi.ErrConfiguration)
	_, err = toCompareOp(rhi.CompareOp(42))
	assert.ErrorIs(t, err, rhi.ErrConfiguration)
	_, err = toCullMode(rhi.CullMode(7))
	assert.ErrorIs(t, err, rhi.ErrConfiguration)
	_, err = toTopology(rhi.PrimitiveType(7))
	assert.ErrorIs(t, err, rhi.ErrConfiguration)
	_, err = toDescriptorType(rhi.BindingKind(77))
	assert.ErrorIs(t, err, rhi.ErrConfiguration)
	_, _, err = bufferUsage(rhi.BufferUsage(99))
	assert.ErrorIs(t, err, rhi.ErrConfiguration)
	_, _, err = imageUsage(rhi.ImageUsage(99))
	assert.ErrorIs(t, err, rhi.ErrConfiguration)
	_, err = newRenderpassKey([]rhi.ImageFormat{rhi.ImageFormat(200)}, nil)
	assert.ErrorIs(t, err, rhi.ErrConfiguration)
}

func TestFixedFunctionTranslation(t *testing.T) {
	info := rhi.NewRenderPipelineStateCreateInfo("forward", []byte{1}, []byte{2})
	info.RenderTargetFormats = []rhi.ImageFormat{rhi.Rgba8, rhi.R32F}
	info.RasterizerState.CullMode = rhi.CullFront
	ff, err := translateFixedFunction(info)
	require.NoError(t, err)
	assert.Len(t, ff.blends, 2)
	assert.Equal(t, vk.CullModeFlags(vk.CullModeFrontBit), ff.cullMode)
	assert.Equal(t, vk.SampleCount1Bit, ff.samples)

	info.RasterizerState.NumMSAASamples = 32
	info.BlendState.RenderTargetBlends[1].ColorBlendOp = rhi.BlendOp(99)
	_, err = translateFixedFunction(info)
	assert.ErrorIs(t, err, rhi.ErrConfiguration)
	assert.Contains(t, err.Error(), "32 MSAA samples")
	assert.Contains(t, err.Error(), "blend op")
}

func TestBufferUsageMemory(t *testing.T) {
	hostVisible := vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit)
	for _, u := range []rhi.BufferUsage{rhi.StagingBuffer, rhi.IndexBuffer, rhi.VertexBuffer, rhi.UniformBuffer, rhi.StorageBuffer, rhi.IndirectCommands, rhi.UiVertices} {
		_, props, err := bufferUsage(u)
		require.NoError(t, err)
		assert.Equal(t, u.IsHostVisible(), props&hostVisible != 0, u.String())
	}
	usage, _, _ := bufferUsage(rhi.VertexBuffer)
	assert.NotZero(t, usage&vk.BufferUsageFlags(vk.BufferUsageTransferDstBit))
	usage, _, _ = bufferUsage(rhi.UniformBuffer)
	assert.NotZero(t, usage&vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit))
}

func TestSpirvWords(t *testing.T) {
	code := make([]byte, 24)
	binary.LittleEndian.PutUint32(code, spirvMagic)
	binary.LittleEndian.PutUint32(code[20:], 0xdeadbeef)
	words, err := spirvWords(code)
	require.NoError(t, err)
	assert.Len(t, words, 6)
	assert.Equal(t, uint32(0xdeadbeef), words[5])

	_, err = spirvWords([]byte{1, 2, 3})
	assert.ErrorIs(t, err, rhi.ErrConfiguration)

	_, err = spirvWords(make([]byte, 24))
	assert.ErrorIs(t, err, rhi.ErrConfiguration)
}

func TestResultError(t *testing.T) {
	assert.NoError(t, resultError("op", vk.Success))
	assert.NoError(t, resultError("op", vk.Timeout))

	err := resultError("vkQueueSubmit", vk.ErrorDeviceLost)
	assert.ErrorIs(t, err, rhi.ErrDeviceLost)
	assert.Contains(t, err.Error(), "VK_ERROR_DEVICE_LOST")

	assert.ErrorIs(t, resultError("vkAllocateMemory", vk.ErrorOutOfDeviceMemory), rhi.ErrResourceExhausted)

	err = resultError("vkCreateShaderModule", vk.ErrorInvalidShaderNv)
	assert.False(t, errors.Is(err, rhi.ErrDeviceLost))
	assert.Contains(t, VulkanResultString(vk.Result(-12345), false), "VkResult")
}

func TestSafeStrings(t *testing.T) {
	assert.Equal(t, "\x00", VulkanSafeString(""))
	assert.Equal(t, "main\x00", VulkanSafeString("main"))
	assert.Equal(t, "main\x00", VulkanSafeString("main\x00"))

	in := []string{"a", "b"}
	out := VulkanSafeStrings(in)
	assert.Equal(t, []string{"a\x00", "b\x00"}, out)
	assert.Equal(t, []string{"a", "b"}, in)

	assert.Equal(t, "VK_LAYER", cString([]byte("VK_LAYER\x00\x00junk")))
	assert.Equal(t, "full", cString([]byte("full")))
}

func TestRenderpassKey(t *testing.T) {
	depth := rhi.Depth32
	key := func(colors []rhi.ImageFormat, depth *rhi.ImageFormat) renderpassKey {
		k, err := newRenderpassKey(colors, depth)
		require.NoError(t, err)
		return k
	}
	a := key([]rhi.ImageFormat{rhi.Rgba8, rhi.R32F}, &depth)
	b := key([]rhi.ImageFormat{rhi.Rgba8, rhi.R32F}, &depth)
	c := key([]rhi.ImageFormat{rhi.Rgba8, rhi.R32F}, nil)
	d := key([]rhi.ImageFormat{rhi.R32F, rhi.Rgba8}, &depth)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
}

func TestLockPoolSerializesGroups(t *testing.T) {
	pool := NewVulkanLockPool()
	pool.SetQueueFamily(0)

	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = pool.SafeCall(PipelineManagement, func() error {
				counter++
				return nil
			})
		}()
		go func() {
			defer wg.Done()
			// A family that was never registered still gets its own lock.
			_ = pool.SafeQueueCall(3, func() error { return nil })
		}()
	}
	wg.Wait()
	assert.Equal(t, 16, counter)

	boom := errors.New("boom")
	assert.ErrorIs(t, pool.SafeQueueCall(0, func() error { return boom }), boom)
}
