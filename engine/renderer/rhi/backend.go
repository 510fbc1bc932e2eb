package rhi

import "context"

// Backend is the seam between the RHI and a native graphics API. One
// implementation exists per API; the RenderDevice is its only caller and it
// serializes Submit and Signal.
type Backend interface {
	Name() string

	// CreateBuffer allocates device memory. Host-visible usages must also
	// return their persistent mapping.
	CreateBuffer(info BufferCreateInfo) (NativeBuffer, []byte, error)
	DestroyBuffer(buffer NativeBuffer)
	CreateImage(info ImageCreateInfo) (NativeImage, error)
	DestroyImage(image NativeImage)
	CreateFramebuffer(renderTargets []*Image, depthTarget *Image) (NativeFramebuffer, error)
	DestroyFramebuffer(framebuffer NativeFramebuffer)

	CreateRenderPipeline(info *RenderPipelineStateCreateInfo, layout *BindingLayout) (NativePipeline, error)
	CreateComputePipeline(info *ComputePipelineStateCreateInfo, layout *BindingLayout) (NativePipeline, error)
	DestroyPipeline(pipeline NativePipeline)
	CreateBindGroup(layout *BindingLayout, bindings []ResolvedBinding) (NativeBindGroup, error)
	DestroyBindGroup(group NativeBindGroup)

	// NewEncoder hands out a recorder backed by a native allocator owned by
	// the given frame slot. Encoders of one slot may be recorded concurrently.
	NewEncoder(slot uint32) (CommandEncoder, error)
	// Submit enqueues a finished encoder. It must not block on the GPU.
	Submit(encoder CommandEncoder) error
	// Signal enqueues a fence signal after all prior submissions and returns
	// the value that CompletedValue reaches once they are done.
	Signal() (uint64, error)
	CompletedValue() (uint64, error)
	WaitForValue(ctx context.Context, value uint64) error
	// ResetSlot recycles the native allocators of a slot. The device only
	// calls it once the slot's fence value has completed.
	ResetSlot(slot uint32) error
	WaitIdle() error
	Close() error
}

// VertexBufferBinding is one attribute stream read from a vertex buffer.
type VertexBufferBinding struct {
	Buffer *Buffer
	// Offset in bytes where the attribute starts.
	Offset uint64
	// Size of a whole vertex, in bytes.
	Stride uint64
}

// CommandEncoder records native commands for a single command list. The RHI
// validates call order before anything reaches an encoder.
type CommandEncoder interface {
	CopyBuffer(src *Buffer, srcOffset uint64, dst *Buffer, dstOffset uint64, size uint64)
	CopyBufferToImage(src *Buffer, dst *Image)

	SetComputePipeline(pipeline *ComputePipelineState)
	BindComputeResources(pipeline *ComputePipelineState, group *BindGroup)
	Dispatch(x, y, z uint32)

	SetFramebuffer(framebuffer *Framebuffer)
	SetRenderPipeline(pipeline *RenderPipelineState)
	BindRenderResources(pipeline *RenderPipelineState, group *BindGroup)
	BindMeshData(vertexBindings []VertexBufferBinding, indexBuffer *Buffer)
	DrawIndexed(numIndices, firstIndex uint32, baseVertex int32, numInstances uint32)

	// End closes native recording before submission.
	End() error
}
