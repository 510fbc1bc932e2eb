package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/sanity/engine/renderer/rhi"
)

// Translation tables from RHI enums to Vulkan. They are indexed by the RHI
// value and must cover every enumerator; conv_test checks that.

var primitiveTopologies = map[rhi.PrimitiveType]vk.PrimitiveTopology{
	rhi.Points:    vk.PrimitiveTopologyPointList,
	rhi.Lines:     vk.PrimitiveTopologyLineList,
	rhi.Triangles: vk.PrimitiveTopologyTriangleList,
}

var blendFactors = map[rhi.BlendFactor]vk.BlendFactor{
	rhi.Zero:                    vk.BlendFactorZero,
	rhi.One:                     vk.BlendFactorOne,
	rhi.SourceColor:             vk.BlendFactorSrcColor,
	rhi.InverseSourceColor:      vk.BlendFactorOneMinusSrcColor,
	rhi.SourceAlpha:             vk.BlendFactorSrcAlpha,
	rhi.InverseSourceAlpha:      vk.BlendFactorOneMinusSrcAlpha,
	rhi.DestinationColor:        vk.BlendFactorDstColor,
	rhi.InverseDestinationColor: vk.BlendFactorOneMinusDstColor,
	rhi.DestinationAlpha:        vk.BlendFactorDstAlpha,
	rhi.InverseDestinationAlpha: vk.BlendFactorOneMinusDstAlpha,
	rhi.SourceAlphaSaturated:    vk.BlendFactorSrcAlphaSaturate,
	// The dynamic factor is the blend constant.
	rhi.DynamicBlendFactor:        vk.BlendFactorConstantColor,
	rhi.InverseDynamicBlendFactor: vk.BlendFactorOneMinusConstantColor,
	rhi.Source1Color:              vk.BlendFactorSrc1Color,
	rhi.InverseSource1Color:       vk.BlendFactorOneMinusSrc1Color,
	rhi.Source1Alpha:              vk.BlendFactorSrc1Alpha,
	rhi.InverseSource1Alpha:       vk.BlendFactorOneMinusSrc1Alpha,
}

var blendOps = map[rhi.BlendOp]vk.BlendOp{
	rhi.BlendAdd:             vk.BlendOpAdd,
	rhi.BlendSubtract:        vk.BlendOpSubtract,
	rhi.BlendReverseSubtract: vk.BlendOpReverseSubtract,
	rhi.BlendMin:             vk.BlendOpMin,
	rhi.BlendMax:             vk.BlendOpMax,
}

var polygonModes = map[rhi.FillMode]vk.PolygonMode{
	rhi.Wireframe: vk.PolygonModeLine,
	rhi.Solid:     vk.PolygonModeFill,
}

var cullModes = map[rhi.CullMode]vk.CullModeFlagBits{
	rhi.CullNone:  vk.CullModeNone,
	rhi.CullFront: vk.CullModeFrontBit,
	rhi.CullBack:  vk.CullModeBackBit,
}

var compareOps = map[rhi.CompareOp]vk.CompareOp{
	rhi.CompareNever:          vk.CompareOpNever,
	rhi.CompareLess:           vk.CompareOpLess,
	rhi.CompareEqual:          vk.CompareOpEqual,
	rhi.CompareNotEqual:       vk.CompareOpNotEqual,
	rhi.CompareLessOrEqual:    vk.CompareOpLessOrEqual,
	rhi.CompareGreater:        vk.CompareOpGreater,
	rhi.CompareGreaterOrEqual: vk.CompareOpGreaterOrEqual,
	rhi.CompareAlways:         vk.CompareOpAlways,
}

// Vulkan has no plain increment: saturating maps to clamp, the rest wraps.
var stencilOps = map[rhi.StencilOp]vk.StencilOp{
	rhi.StencilKeep:                 vk.StencilOpKeep,
	rhi.StencilZero:                 vk.StencilOpZero,
	rhi.StencilReplace:              vk.StencilOpReplace,
	rhi.StencilIncrement:            vk.StencilOpIncrementAndWrap,
	rhi.StencilIncrementAndSaturate: vk.StencilOpIncrementAndClamp,
	rhi.StencilDecrement:            vk.StencilOpDecrementAndWrap,
	rhi.StencilDecrementAndSaturate: vk.StencilOpDecrementAndClamp,
	rhi.StencilInvert:               vk.StencilOpInvert,
}

var imageFormats = map[rhi.ImageFormat]vk.Format{
	rhi.Rgba8:           vk.FormatR8g8b8a8Unorm,
	rhi.R32F:            vk.FormatR32Sfloat,
	rhi.Rg16F:           vk.FormatR16g16Sfloat,
	rhi.Rgba32F:         vk.FormatR32g32b32a32Sfloat,
	rhi.Depth32:         vk.FormatD32Sfloat,
	rhi.Depth24Stencil8: vk.FormatD24UnormS8Uint,
}

var descriptorTypes = map[rhi.BindingKind]vk.DescriptorType{
	rhi.UniformBufferBinding: vk.DescriptorTypeUniformBuffer,
	rhi.StorageBufferBinding: vk.DescriptorTypeStorageBuffer,
	rhi.SampledImageBinding:  vk.DescriptorTypeCombinedImageSampler,
	rhi.ImageArrayBinding:    vk.DescriptorTypeCombinedImageSampler,
}

// lookup translates k through table. The RHI validates enums before they
// reach the backend, so a miss is a configuration error, never a fallback.
func lookup[K comparable, V any](table map[K]V, k K, kind string) (V, error) {
	if v, ok := table[k]; ok {
		return v, nil
	}
	var zero V
	return zero, fmt.Errorf("%w: %s %v has no vulkan equivalent", rhi.ErrConfiguration, kind, k)
}

func toTopology(p rhi.PrimitiveType) (vk.PrimitiveTopology, error) {
	return lookup(primitiveTopologies, p, "primitive type")
}

func toBlendFactor(f rhi.BlendFactor) (vk.BlendFactor, error) {
	return lookup(blendFactors, f, "blend factor")
}

func toBlendOp(o rhi.BlendOp) (vk.BlendOp, error) {
	return lookup(blendOps, o, "blend op")
}

func toPolygonMode(m rhi.FillMode) (vk.PolygonMode, error) {
	return lookup(polygonModes, m, "fill mode")
}

func toCullMode(m rhi.CullMode) (vk.CullModeFlags, error) {
	v, err := lookup(cullModes, m, "cull mode")
	return vk.CullModeFlags(v), err
}

func toCompareOp(o rhi.CompareOp) (vk.CompareOp, error) {
	return lookup(compareOps, o, "compare op")
}

func toStencilOp(o rhi.StencilOp) (vk.StencilOp, error) {
	return lookup(stencilOps, o, "stencil op")
}

func toFormat(f rhi.ImageFormat) (vk.Format, error) {
	return lookup(imageFormats, f, "image format")
}

func toDescriptorType(k rhi.BindingKind) (vk.DescriptorType, error) {
	return lookup(descriptorTypes, k, "binding kind")
}

func toShaderStages(s rhi.ShaderStage) vk.ShaderStageFlags {
	var flags vk.ShaderStageFlagBits
	if s&rhi.StageVertex != 0 {
		flags |= vk.ShaderStageVertexBit
	}
	if s&rhi.StagePixel != 0 {
		flags |= vk.ShaderStageFragmentBit
	}
	if s&rhi.StageCompute != 0 {
		flags |= vk.ShaderStageComputeBit
	}
	return vk.ShaderStageFlags(flags)
}

// toSampleCount accepts the counts every Vulkan implementation can name.
// 32 and 64 pass RHI validation but are rejected here.
func toSampleCount(n uint32) (vk.SampleCountFlagBits, error) {
	switch n {
	case 0, 1:
		return vk.SampleCount1Bit, nil
	case 2:
		return vk.SampleCount2Bit, nil
	case 4:
		return vk.SampleCount4Bit, nil
	case 8:
		return vk.SampleCount8Bit, nil
	case 16:
		return vk.SampleCount16Bit, nil
	}
	return 0, fmt.Errorf("%w: %d MSAA samples are not supported by the vulkan backend", rhi.ErrConfiguration, n)
}

// bufferUsage returns the Vulkan usage and the memory properties for an RHI
// buffer usage. Device-local buffers can be a copy destination so uploads
// through staging work for all of them. Uniform buffers live in host-visible
// memory and are written through their persistent mapping.
func bufferUsage(u rhi.BufferUsage) (vk.BufferUsageFlags, vk.MemoryPropertyFlags, error) {
	const deviceLocal = vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)
	const hostVisible = vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit)
	transferDst := vk.BufferUsageFlags(vk.BufferUsageTransferDstBit)
	switch u {
	case rhi.StagingBuffer:
		return vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit), hostVisible, nil
	case rhi.IndexBuffer:
		return vk.BufferUsageFlags(vk.BufferUsageIndexBufferBit) | transferDst, deviceLocal, nil
	case rhi.VertexBuffer:
		return vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit) | transferDst, deviceLocal, nil
	case rhi.UniformBuffer:
		return vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit), hostVisible, nil
	case rhi.StorageBuffer:
		return vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit) | transferDst, deviceLocal, nil
	case rhi.IndirectCommands:
		return vk.BufferUsageFlags(vk.BufferUsageIndirectBufferBit|vk.BufferUsageStorageBufferBit) | transferDst, deviceLocal, nil
	case rhi.UiVertices:
		return vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit), hostVisible, nil
	}
	return 0, 0, fmt.Errorf("%w: buffer usage %s has no vulkan equivalent", rhi.ErrConfiguration, u)
}

func imageUsage(u rhi.ImageUsage) (vk.ImageUsageFlags, vk.ImageAspectFlags, error) {
	color := vk.ImageAspectFlags(vk.ImageAspectColorBit)
	switch u {
	case rhi.SampledImage:
		return vk.ImageUsageFlags(vk.ImageUsageSampledBit | vk.ImageUsageTransferDstBit), color, nil
	case rhi.RenderTarget:
		return vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageSampledBit | vk.ImageUsageTransferDstBit), color, nil
	case rhi.DepthStencil:
		return vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit | vk.ImageUsageSampledBit), vk.ImageAspectFlags(vk.ImageAspectDepthBit), nil
	case rhi.UnorderedAccess:
		return vk.ImageUsageFlags(vk.ImageUsageStorageBit | vk.ImageUsageSampledBit | vk.ImageUsageTransferDstBit), color, nil
	}
	return 0, 0, fmt.Errorf("%w: image usage %s has no vulkan equivalent", rhi.ErrConfiguration, u)
}
