package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/sanity/engine/renderer/rhi"
)

// Encoder records into one primary command buffer. The RHI has already
// validated call order, so the encoder only translates.
//
// Synchronization is conservative: transfers and dispatches are followed by
// a full memory barrier, and every image stays in the general layout.
//
// Transfers and dispatches are not allowed inside a render pass instance.
// They close the open pass, and the next draw begins it again on the same
// framebuffer with its contents loaded.
type Encoder struct {
	context *VulkanContext
	slot    uint32
	cb      *VulkanCommandBuffer

	pass renderPassState
}

// renderPassState tracks whether the command buffer is inside a render pass
// instance and which framebuffer the next draw renders to.
type renderPassState struct {
	framebuffer *VulkanFramebuffer
	open        bool
}

// leave reports whether an open pass has to end before a transfer or dispatch.
func (s *renderPassState) leave() bool {
	if !s.open {
		return false
	}
	s.open = false
	return true
}

// enter reports whether a pass has to begin before a draw.
func (s *renderPassState) enter() bool {
	if s.framebuffer == nil || s.open {
		return false
	}
	s.open = true
	return true
}

var _ rhi.CommandEncoder = (*Encoder)(nil)

func newEncoder(context *VulkanContext, slot uint32, cb *VulkanCommandBuffer) (*Encoder, error) {
	if err := cb.Begin(true, false, false); err != nil {
		return nil, err
	}
	return &Encoder{context: context, slot: slot, cb: cb}, nil
}

func (e *Encoder) fullBarrier() {
	barrier := vk.MemoryBarrier{
		SType:         vk.StructureTypeMemoryBarrier,
		SrcAccessMask: vk.AccessFlags(vk.AccessMemoryWriteBit),
		DstAccessMask: vk.AccessFlags(vk.AccessMemoryReadBit | vk.AccessMemoryWriteBit),
	}
	vk.CmdPipelineBarrier(e.cb.Handle,
		vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
		vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
		0, 1, []vk.MemoryBarrier{barrier}, 0, nil, 0, nil)
}

func (e *Encoder) imageBarriers(barriers []vk.ImageMemoryBarrier) {
	if len(barriers) == 0 {
		return
	}
	vk.CmdPipelineBarrier(e.cb.Handle,
		vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
		vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
		0, 0, nil, 0, nil, uint32(len(barriers)), barriers)
}

func (e *Encoder) endRenderPass() {
	if e.pass.leave() {
		vk.CmdEndRenderPass(e.cb.Handle)
		e.cb.State = COMMAND_BUFFER_STATE_RECORDING
	}
}

func (e *Encoder) beginRenderPass() {
	fb := e.pass.framebuffer
	var barriers []vk.ImageMemoryBarrier
	for _, a := range fb.Attachments {
		if b, ok := a.toGeneralBarrier(false); ok {
			barriers = append(barriers, b)
		}
	}
	e.imageBarriers(barriers)

	beginInfo := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  fb.Renderpass,
		Framebuffer: fb.Handle,
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{X: 0, Y: 0},
			Extent: vk.Extent2D{Width: fb.Width, Height: fb.Height},
		},
	}
	vk.CmdBeginRenderPass(e.cb.Handle, &beginInfo, vk.SubpassContentsInline)
	e.cb.State = COMMAND_BUFFER_STATE_IN_RENDER_PASS

	// Flip Y so clip space matches the other backends.
	viewport := vk.Viewport{
		X:        0,
		Y:        float32(fb.Height),
		Width:    float32(fb.Width),
		Height:   -float32(fb.Height),
		MinDepth: 0,
		MaxDepth: 1,
	}
	scissor := vk.Rect2D{
		Offset: vk.Offset2D{X: 0, Y: 0},
		Extent: vk.Extent2D{Width: fb.Width, Height: fb.Height},
	}
	vk.CmdSetViewport(e.cb.Handle, 0, 1, []vk.Viewport{viewport})
	vk.CmdSetScissor(e.cb.Handle, 0, 1, []vk.Rect2D{scissor})
}

func (e *Encoder) CopyBuffer(src *rhi.Buffer, srcOffset uint64, dst *rhi.Buffer, dstOffset uint64, size uint64) {
	e.endRenderPass()
	region := vk.BufferCopy{
		SrcOffset: vk.DeviceSize(srcOffset),
		DstOffset: vk.DeviceSize(dstOffset),
		Size:      vk.DeviceSize(size),
	}
	vk.CmdCopyBuffer(e.cb.Handle, nativeBuffer(src).Handle, nativeBuffer(dst).Handle, 1, []vk.BufferCopy{region})
	e.fullBarrier()
}

func (e *Encoder) CopyBufferToImage(src *rhi.Buffer, dst *rhi.Image) {
	e.endRenderPass()
	img := nativeImage(dst)
	barrier, _ := img.toGeneralBarrier(true)
	e.imageBarriers([]vk.ImageMemoryBarrier{barrier})

	depth := dst.Depth
	if depth == 0 {
		depth = 1
	}
	region := vk.BufferImageCopy{
		BufferOffset:      0,
		BufferRowLength:   0,
		BufferImageHeight: 0,
		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask:     img.Aspect,
			MipLevel:       0,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
		ImageExtent: vk.Extent3D{Width: dst.Width, Height: dst.Height, Depth: depth},
	}
	vk.CmdCopyBufferToImage(e.cb.Handle, nativeBuffer(src).Handle, img.Handle, vk.ImageLayoutGeneral, 1, []vk.BufferImageCopy{region})
	e.fullBarrier()
}

func (e *Encoder) SetComputePipeline(p *rhi.ComputePipelineState) {
	vk.CmdBindPipeline(e.cb.Handle, vk.PipelineBindPointCompute, nativePipeline(p.Native).Handle)
}

func (e *Encoder) bindGroup(pipeline *VulkanPipeline, group *rhi.BindGroup) {
	g, ok := group.Native.(*VulkanBindGroup)
	if !ok {
		panic(fmt.Sprintf("bind group %s was not created by the vulkan backend", group.ID))
	}
	vk.CmdBindDescriptorSets(e.cb.Handle, pipeline.BindPoint, pipeline.PipelineLayout, 0, 1, []vk.DescriptorSet{g.Set}, 0, nil)
}

func (e *Encoder) BindComputeResources(p *rhi.ComputePipelineState, group *rhi.BindGroup) {
	e.bindGroup(nativePipeline(p.Native), group)
}

func (e *Encoder) Dispatch(x, y, z uint32) {
	e.endRenderPass()
	vk.CmdDispatch(e.cb.Handle, x, y, z)
	e.fullBarrier()
}

func (e *Encoder) SetFramebuffer(framebuffer *rhi.Framebuffer) {
	e.endRenderPass()
	e.pass.framebuffer = nativeFramebuffer(framebuffer)
	if e.pass.enter() {
		e.beginRenderPass()
	}
}

func (e *Encoder) SetRenderPipeline(p *rhi.RenderPipelineState) {
	vk.CmdBindPipeline(e.cb.Handle, vk.PipelineBindPointGraphics, nativePipeline(p.Native).Handle)
}

func (e *Encoder) BindRenderResources(p *rhi.RenderPipelineState, group *rhi.BindGroup) {
	e.bindGroup(nativePipeline(p.Native), group)
}

func (e *Encoder) BindMeshData(vertexBindings []rhi.VertexBufferBinding, indexBuffer *rhi.Buffer) {
	buffers := make([]vk.Buffer, len(vertexBindings))
	offsets := make([]vk.DeviceSize, len(vertexBindings))
	for i, b := range vertexBindings {
		buffers[i] = nativeBuffer(b.Buffer).Handle
		offsets[i] = vk.DeviceSize(b.Offset)
	}
	vk.CmdBindVertexBuffers(e.cb.Handle, 0, uint32(len(buffers)), buffers, offsets)
	vk.CmdBindIndexBuffer(e.cb.Handle, nativeBuffer(indexBuffer).Handle, 0, vk.IndexTypeUint32)
}

func (e *Encoder) DrawIndexed(numIndices, firstIndex uint32, baseVertex int32, numInstances uint32) {
	if e.pass.enter() {
		e.beginRenderPass()
	}
	vk.CmdDrawIndexed(e.cb.Handle, numIndices, numInstances, firstIndex, baseVertex, 0)
}

func (e *Encoder) End() error {
	e.endRenderPass()
	return e.cb.End()
}
