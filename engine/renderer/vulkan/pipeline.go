package vulkan

import (
	"errors"
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/sanity/engine/core"
	"github.com/spaghettifunk/sanity/engine/renderer/rhi"
)

// VulkanPipeline holds a Vulkan pipeline and its layout.
type VulkanPipeline struct {
	Handle         vk.Pipeline
	PipelineLayout vk.PipelineLayout
	BindPoint      vk.PipelineBindPoint
	// Zero for compute pipelines.
	Renderpass vk.RenderPass
}

// Each StandardVertex attribute is its own stream; the mesh store binds the
// same buffer at the attribute's offset with the full vertex as stride.
var standardVertexFormats = []vk.Format{
	vk.FormatR32g32b32Sfloat, // position
	vk.FormatR32g32b32Sfloat, // normal
	vk.FormatR8g8b8a8Unorm,   // color
	vk.FormatR32g32Sfloat,    // texcoord
	vk.FormatR32Uint,         // double sided
}

func newPipelineLayout(context *VulkanContext, setLayout vk.DescriptorSetLayout) (vk.PipelineLayout, error) {
	createInfo := vk.PipelineLayoutCreateInfo{
		SType: vk.StructureTypePipelineLayoutCreateInfo,
	}
	if setLayout != nil {
		createInfo.SetLayoutCount = 1
		createInfo.PSetLayouts = []vk.DescriptorSetLayout{setLayout}
	}
	var layout vk.PipelineLayout
	err := context.Locks.SafeCall(PipelineManagement, func() error {
		return resultError("vkCreatePipelineLayout",
			vk.CreatePipelineLayout(context.Device.LogicalDevice, &createInfo, context.Allocator, &layout))
	})
	return layout, err
}

func NewGraphicsPipeline(context *VulkanContext, info *rhi.RenderPipelineStateCreateInfo, setLayout vk.DescriptorSetLayout, renderpass vk.RenderPass) (*VulkanPipeline, error) {
	if info.RasterizerState.EnableConservativeRaster {
		return nil, fmt.Errorf("%w: conservative rasterization is not supported by the vulkan backend", rhi.ErrConfiguration)
	}
	ff, err := translateFixedFunction(info)
	if err != nil {
		return nil, fmt.Errorf("pipeline %s: %w", info.Name, err)
	}
	outPipeline := &VulkanPipeline{BindPoint: vk.PipelineBindPointGraphics, Renderpass: renderpass}

	stages := make([]*VulkanShaderStage, 0, 2)
	defer func() {
		for _, s := range stages {
			s.Destroy(context)
		}
	}()
	vertex, err := NewShaderModule(context, info.VertexShader, vk.ShaderStageVertexBit)
	if err != nil {
		return nil, err
	}
	stages = append(stages, vertex)
	if info.PixelShader != nil {
		pixel, err := NewShaderModule(context, info.PixelShader, vk.ShaderStageFragmentBit)
		if err != nil {
			return nil, err
		}
		stages = append(stages, pixel)
	}
	stageInfos := make([]vk.PipelineShaderStageCreateInfo, len(stages))
	for i, s := range stages {
		stageInfos[i] = s.ShaderStageCreateInfo
	}

	// Viewport and scissor are dynamic, set from the framebuffer.
	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}

	rs := info.RasterizerState
	frontFace := vk.FrontFaceClockwise
	if rs.FrontFaceCounterClockwise {
		frontFace = vk.FrontFaceCounterClockwise
	}
	rasterizerCreateInfo := vk.PipelineRasterizationStateCreateInfo{
		SType:                   vk.StructureTypePipelineRasterizationStateCreateInfo,
		DepthClampEnable:        vk.False,
		RasterizerDiscardEnable: vk.False,
		PolygonMode:             ff.polygonMode,
		CullMode:                ff.cullMode,
		FrontFace:               frontFace,
		LineWidth:               1.0,
		DepthBiasConstantFactor: rs.DepthBias,
		DepthBiasClamp:          rs.MaxDepthBias,
		DepthBiasSlopeFactor:    rs.SlopeScaledDepthBias,
	}
	if rs.DepthBias != 0 || rs.SlopeScaledDepthBias != 0 {
		rasterizerCreateInfo.DepthBiasEnable = vk.True
	}
	if rs.EnableLineAntialiasing {
		core.LogWarn("pipeline %s: line antialiasing is ignored by the vulkan backend", info.Name)
	}

	multisamplingCreateInfo := vk.PipelineMultisampleStateCreateInfo{
		SType:                 vk.StructureTypePipelineMultisampleStateCreateInfo,
		RasterizationSamples:  ff.samples,
		MinSampleShading:      1.0,
		AlphaToCoverageEnable: boolToVk(info.BlendState.EnableAlphaToCoverage),
	}

	ds := info.DepthStencilState
	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType:             vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthTestEnable:   boolToVk(ds.EnableDepthTest),
		DepthWriteEnable:  boolToVk(ds.EnableDepthWrite),
		DepthCompareOp:    ff.depthFunc,
		StencilTestEnable: boolToVk(ds.EnableStencilTest),
		Front:             ff.front,
		Back:              ff.back,
		MaxDepthBounds:    1.0,
	}

	blendAttachments := ff.blends
	colorBlendStateCreateInfo := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOpEnable:   vk.False,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: uint32(len(blendAttachments)),
		PAttachments:    blendAttachments,
	}

	dynamicStates := []vk.DynamicState{
		vk.DynamicStateViewport,
		vk.DynamicStateScissor,
	}
	dynamicStateCreateInfo := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}

	bindingDescriptions := make([]vk.VertexInputBindingDescription, len(standardVertexFormats))
	attributeDescriptions := make([]vk.VertexInputAttributeDescription, len(standardVertexFormats))
	for i, format := range standardVertexFormats {
		bindingDescriptions[i] = vk.VertexInputBindingDescription{
			Binding:   uint32(i),
			Stride:    rhi.StandardVertexSize,
			InputRate: vk.VertexInputRateVertex,
		}
		attributeDescriptions[i] = vk.VertexInputAttributeDescription{
			Location: uint32(i),
			Binding:  uint32(i),
			Format:   format,
			Offset:   0,
		}
	}
	vertexInputInfo := vk.PipelineVertexInputStateCreateInfo{
		SType:                           vk.StructureTypePipelineVertexInputStateCreateInfo,
		VertexBindingDescriptionCount:   uint32(len(bindingDescriptions)),
		PVertexBindingDescriptions:      bindingDescriptions,
		VertexAttributeDescriptionCount: uint32(len(attributeDescriptions)),
		PVertexAttributeDescriptions:    attributeDescriptions,
	}

	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               ff.topology,
		PrimitiveRestartEnable: vk.False,
	}

	layout, err := newPipelineLayout(context, setLayout)
	if err != nil {
		return nil, err
	}
	outPipeline.PipelineLayout = layout

	pipelineCreateInfo := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stageInfos)),
		PStages:             stageInfos,
		PVertexInputState:   &vertexInputInfo,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizerCreateInfo,
		PMultisampleState:   &multisamplingCreateInfo,
		PDepthStencilState:  &depthStencil,
		PColorBlendState:    &colorBlendStateCreateInfo,
		PDynamicState:       &dynamicStateCreateInfo,
		Layout:              outPipeline.PipelineLayout,
		RenderPass:          renderpass,
		Subpass:             0,
		BasePipelineHandle:  vk.NullPipeline,
		BasePipelineIndex:   -1,
	}

	pPipelines := make([]vk.Pipeline, 1)
	if err := context.Locks.SafeCall(PipelineManagement, func() error {
		return resultError("vkCreateGraphicsPipelines", vk.CreateGraphicsPipelines(
			context.Device.LogicalDevice,
			vk.NullPipelineCache,
			1,
			[]vk.GraphicsPipelineCreateInfo{pipelineCreateInfo},
			context.Allocator,
			pPipelines))
	}); err != nil {
		outPipeline.Destroy(context)
		return nil, err
	}
	outPipeline.Handle = pPipelines[0]

	core.LogDebug("Graphics pipeline %s created!", info.Name)
	return outPipeline, nil
}

func NewComputePipeline(context *VulkanContext, info *rhi.ComputePipelineStateCreateInfo, setLayout vk.DescriptorSetLayout) (*VulkanPipeline, error) {
	outPipeline := &VulkanPipeline{BindPoint: vk.PipelineBindPointCompute}

	stage, err := NewShaderModule(context, info.ComputeShader, vk.ShaderStageComputeBit)
	if err != nil {
		return nil, err
	}
	defer stage.Destroy(context)

	layout, err := newPipelineLayout(context, setLayout)
	if err != nil {
		return nil, err
	}
	outPipeline.PipelineLayout = layout

	createInfo := vk.ComputePipelineCreateInfo{
		SType:              vk.StructureTypeComputePipelineCreateInfo,
		Stage:              stage.ShaderStageCreateInfo,
		Layout:             layout,
		BasePipelineHandle: vk.NullPipeline,
		BasePipelineIndex:  -1,
	}
	pPipelines := make([]vk.Pipeline, 1)
	if err := context.Locks.SafeCall(PipelineManagement, func() error {
		return resultError("vkCreateComputePipelines", vk.CreateComputePipelines(
			context.Device.LogicalDevice,
			vk.NullPipelineCache,
			1,
			[]vk.ComputePipelineCreateInfo{createInfo},
			context.Allocator,
			pPipelines))
	}); err != nil {
		outPipeline.Destroy(context)
		return nil, err
	}
	outPipeline.Handle = pPipelines[0]

	core.LogDebug("Compute pipeline %s created!", info.Name)
	return outPipeline, nil
}

func (pipeline *VulkanPipeline) Destroy(context *VulkanContext) {
	_ = context.Locks.SafeCall(PipelineManagement, func() error {
		if pipeline.Handle != nil {
			vk.DestroyPipeline(context.Device.LogicalDevice, pipeline.Handle, context.Allocator)
			pipeline.Handle = nil
		}
		if pipeline.PipelineLayout != nil {
			vk.DestroyPipelineLayout(context.Device.LogicalDevice, pipeline.PipelineLayout, context.Allocator)
			pipeline.PipelineLayout = nil
		}
		return nil
	})
}

// fixedFunction is the fixed-function state of a graphics pipeline in
// Vulkan terms.
type fixedFunction struct {
	topology    vk.PrimitiveTopology
	polygonMode vk.PolygonMode
	cullMode    vk.CullModeFlags
	samples     vk.SampleCountFlagBits
	depthFunc   vk.CompareOp
	front       vk.StencilOpState
	back        vk.StencilOpState
	blends      []vk.PipelineColorBlendAttachmentState
}

// translateFixedFunction converts every enum of info up front, so a value
// Vulkan cannot express fails the pipeline before any native object exists.
func translateFixedFunction(info *rhi.RenderPipelineStateCreateInfo) (fixedFunction, error) {
	var ff fixedFunction
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	rs, ds := info.RasterizerState, info.DepthStencilState

	var err error
	ff.topology, err = toTopology(info.PrimitiveType)
	collect(err)
	ff.polygonMode, err = toPolygonMode(rs.FillMode)
	collect(err)
	ff.cullMode, err = toCullMode(rs.CullMode)
	collect(err)
	ff.samples, err = toSampleCount(rs.NumMSAASamples)
	collect(err)
	ff.depthFunc, err = toCompareOp(ds.DepthFunc)
	collect(err)
	ff.front, err = stencilOpState(ds.FrontFace, ds)
	collect(err)
	ff.back, err = stencilOpState(ds.BackFace, ds)
	collect(err)

	ff.blends = make([]vk.PipelineColorBlendAttachmentState, len(info.RenderTargetFormats))
	for i := range ff.blends {
		ff.blends[i], err = blendAttachment(info.BlendState.RenderTargetBlends[i])
		collect(err)
	}
	return ff, errors.Join(errs...)
}

func blendAttachment(rt rhi.RenderTargetBlendState) (vk.PipelineColorBlendAttachmentState, error) {
	srcColor, err1 := toBlendFactor(rt.SourceColorBlendFactor)
	dstColor, err2 := toBlendFactor(rt.DestinationColorBlendFactor)
	colorOp, err3 := toBlendOp(rt.ColorBlendOp)
	srcAlpha, err4 := toBlendFactor(rt.SourceAlphaBlendFactor)
	dstAlpha, err5 := toBlendFactor(rt.DestinationAlphaBlendFactor)
	alphaOp, err6 := toBlendOp(rt.AlphaBlendOp)
	return vk.PipelineColorBlendAttachmentState{
		BlendEnable:         boolToVk(rt.Enabled),
		SrcColorBlendFactor: srcColor,
		DstColorBlendFactor: dstColor,
		ColorBlendOp:        colorOp,
		SrcAlphaBlendFactor: srcAlpha,
		DstAlphaBlendFactor: dstAlpha,
		AlphaBlendOp:        alphaOp,
		ColorWriteMask: vk.ColorComponentFlags(vk.ColorComponentRBit) | vk.ColorComponentFlags(vk.ColorComponentGBit) |
			vk.ColorComponentFlags(vk.ColorComponentBBit) | vk.ColorComponentFlags(vk.ColorComponentABit),
	}, errors.Join(err1, err2, err3, err4, err5, err6)
}

func stencilOpState(face rhi.StencilState, ds rhi.DepthStencilState) (vk.StencilOpState, error) {
	failOp, err1 := toStencilOp(face.FailOp)
	passOp, err2 := toStencilOp(face.PassOp)
	depthFailOp, err3 := toStencilOp(face.DepthFailOp)
	compareOp, err4 := toCompareOp(face.CompareOp)
	return vk.StencilOpState{
		FailOp:      failOp,
		PassOp:      passOp,
		DepthFailOp: depthFailOp,
		CompareOp:   compareOp,
		CompareMask: uint32(ds.StencilReadMask),
		WriteMask:   uint32(ds.StencilWriteMask),
	}, errors.Join(err1, err2, err3, err4)
}

func boolToVk(b bool) vk.Bool32 {
	if b {
		return vk.True
	}
	return vk.False
}

func nativePipeline(native rhi.NativePipeline) *VulkanPipeline {
	p, ok := native.(*VulkanPipeline)
	if !ok {
		panic(fmt.Sprintf("pipeline %T was not created by the vulkan backend", native))
	}
	return p
}
