package rhi

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/spaghettifunk/sanity/engine/core"
)

type ListState uint8

const (
	ListRecording ListState = iota
	ListSubmitted
	ListRetired
)

func (s ListState) String() string {
	switch s {
	case ListRecording:
		return "Recording"
	case ListSubmitted:
		return "Submitted"
	case ListRetired:
		return "Retired"
	}
	return fmt.Sprintf("ListState(%d)", uint8(s))
}

// CommandList is the part every list shares: identity and lifecycle.
type CommandList interface {
	ID() uuid.UUID
	State() ListState
	// Slot is the in-flight frame slot whose allocators back this list.
	Slot() uint32
	// Err returns the first ordering violation recorded on the list, if any.
	Err() error
}

// ResourceCommandList records data uploads. Copies into host-visible
// buffers are written through the mapping when they are recorded, every
// other copy goes through a staging buffer and runs on the GPU.
type ResourceCommandList interface {
	CommandList
	CopyDataToBuffer(data []byte, dst *Buffer, offset uint64) error
	CopyDataToImage(data []byte, dst *Image) error
}

// ComputeCommandList adds compute dispatch on top of uploads.
type ComputeCommandList interface {
	ResourceCommandList
	SetComputePipelineState(pipeline *ComputePipelineState) error
	BindComputeResources(group *BindGroup) error
	Dispatch(x, y, z uint32) error
}

// RenderCommandList adds rasterization on top of compute.
type RenderCommandList interface {
	ComputeCommandList
	SetFramebuffer(framebuffer *Framebuffer) error
	SetRenderPipelineState(pipeline *RenderPipelineState) error
	BindRenderResources(group *BindGroup) error
	BindMeshData(store *MeshDataStore) error
	Draw(numIndices, firstIndex, numInstances uint32) error
	DrawMesh(mesh Mesh, numInstances uint32) error
}

// commandList backs all four interfaces. It is not safe for concurrent use,
// only its state and retained set are guarded since the device reads them
// from BeginFrame and EndFrame.
type commandList struct {
	id      uuid.UUID
	device  *RenderDevice
	slot    uint32
	encoder CommandEncoder

	mu       sync.Mutex
	state    ListState
	poisoned error

	computePipeline *ComputePipelineState
	computeGroup    *BindGroup
	renderPipeline  *RenderPipelineState
	renderGroup     *BindGroup
	framebuffer     *Framebuffer
	meshes          *MeshDataStore

	staging []*Buffer
	// objects whose destruction waits until this list is fenced
	retained map[uuid.UUID]struct{}
}

func newCommandList(device *RenderDevice, slot uint32, encoder CommandEncoder) *commandList {
	return &commandList{
		id:      uuid.New(),
		device:  device,
		slot:    slot,
		encoder: encoder,
		state:   ListRecording,
	}
}

func (l *commandList) ID() uuid.UUID { return l.id }
func (l *commandList) Slot() uint32  { return l.slot }

func (l *commandList) State() ListState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *commandList) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.poisoned
}

func (l *commandList) setState(s ListState) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

func (l *commandList) retain(ids ...uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.retained == nil {
		l.retained = make(map[uuid.UUID]struct{}, len(ids))
	}
	for _, id := range ids {
		l.retained[id] = struct{}{}
	}
}

// collectRetained adds the retained objects of a list still recording to ids.
func (l *commandList) collectRetained(ids map[uuid.UUID]struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != ListRecording {
		return
	}
	for id := range l.retained {
		ids[id] = struct{}{}
	}
}

func (l *commandList) violation(format string, args ...interface{}) error {
	err := orderingErrorf(format, args...)
	core.LogError("command list %s ordering violation: %s", l.id, err)
	l.mu.Lock()
	if l.poisoned == nil {
		l.poisoned = err
	}
	l.mu.Unlock()
	if l.device.settings.Render.PanicOnOrderingViolation {
		panic(err)
	}
	return err
}

func (l *commandList) checkRecording(op string) error {
	if err := l.device.checkAlive(); err != nil {
		return err
	}
	if s := l.State(); s != ListRecording {
		return l.violation("%s on a list in state %s", op, s)
	}
	return nil
}

func (l *commandList) checkOwned(owner *RenderDevice, what string) error {
	if owner != l.device {
		return configErrorf("%s belongs to a different device", what)
	}
	return nil
}

func (l *commandList) CopyDataToBuffer(data []byte, dst *Buffer, offset uint64) error {
	if err := l.checkRecording("CopyDataToBuffer"); err != nil {
		return err
	}
	if dst == nil || dst.destroyed {
		return configErrorf("copy destination buffer is nil or destroyed")
	}
	if err := l.checkOwned(dst.owner, dst.Name); err != nil {
		return err
	}
	if len(data) == 0 {
		return configErrorf("copy to %s has no data", dst.Name)
	}
	size := uint64(len(data))
	if offset > dst.Size || size > dst.Size-offset {
		return configErrorf("copy of %d bytes at offset %d overflows %s", size, offset, dst)
	}
	if dst.mapped != nil {
		copy(dst.mapped[offset:], data)
		return nil
	}
	staging, err := l.stage(data)
	if err != nil {
		return err
	}
	l.encoder.CopyBuffer(staging, 0, dst, offset, size)
	l.retain(dst.ID)
	return nil
}

func (l *commandList) CopyDataToImage(data []byte, dst *Image) error {
	if err := l.checkRecording("CopyDataToImage"); err != nil {
		return err
	}
	if dst == nil || dst.destroyed {
		return configErrorf("copy destination image is nil or destroyed")
	}
	if err := l.checkOwned(dst.owner, dst.Name); err != nil {
		return err
	}
	if uint64(len(data)) != dst.SizeInBytes() {
		return configErrorf("image %s needs %d bytes, got %d", dst.Name, dst.SizeInBytes(), len(data))
	}
	staging, err := l.stage(data)
	if err != nil {
		return err
	}
	l.encoder.CopyBufferToImage(staging, dst)
	l.retain(dst.ID)
	return nil
}

func (l *commandList) stage(data []byte) (*Buffer, error) {
	staging, err := l.device.getStagingBuffer(uint64(len(data)))
	if err != nil {
		return nil, err
	}
	copy(staging.mapped, data)
	l.staging = append(l.staging, staging)
	return staging, nil
}

func (l *commandList) SetComputePipelineState(pipeline *ComputePipelineState) error {
	if err := l.checkRecording("SetComputePipelineState"); err != nil {
		return err
	}
	if pipeline == nil || pipeline.destroyed {
		return configErrorf("compute pipeline is nil or destroyed")
	}
	if err := l.checkOwned(pipeline.owner, pipeline.Name); err != nil {
		return err
	}
	if l.computePipeline != nil && !l.computePipeline.layout.Equal(pipeline.layout) {
		l.computeGroup = nil
	}
	l.computePipeline = pipeline
	l.retain(pipeline.ID)
	l.encoder.SetComputePipeline(pipeline)
	return nil
}

func (l *commandList) BindComputeResources(group *BindGroup) error {
	if err := l.checkRecording("BindComputeResources"); err != nil {
		return err
	}
	if l.computePipeline == nil {
		return l.violation("BindComputeResources before a compute pipeline was set")
	}
	if err := l.checkGroup(group, l.computePipeline.layout); err != nil {
		return err
	}
	l.computeGroup = group
	l.retain(group.retainedIDs()...)
	l.encoder.BindComputeResources(l.computePipeline, group)
	return nil
}

func (l *commandList) Dispatch(x, y, z uint32) error {
	if err := l.checkRecording("Dispatch"); err != nil {
		return err
	}
	if l.computePipeline == nil {
		return l.violation("Dispatch before a compute pipeline was set")
	}
	if len(l.computePipeline.layout.Slots()) > 0 && l.computeGroup == nil {
		return l.violation("Dispatch with pipeline %s but no resources bound", l.computePipeline.Name)
	}
	if x == 0 || y == 0 || z == 0 {
		return configErrorf("dispatch of %dx%dx%d thread groups", x, y, z)
	}
	l.encoder.Dispatch(x, y, z)
	return nil
}

func (l *commandList) checkGroup(group *BindGroup, layout *BindingLayout) error {
	if group == nil || group.destroyed {
		return configErrorf("bind group is nil or destroyed")
	}
	if err := l.checkOwned(group.owner, "bind group "+group.ID.String()); err != nil {
		return err
	}
	if !group.layout.Equal(layout) {
		return configErrorf("bind group layout %s does not match pipeline layout %s", group.layout, layout)
	}
	return nil
}

func (l *commandList) SetFramebuffer(framebuffer *Framebuffer) error {
	if err := l.checkRecording("SetFramebuffer"); err != nil {
		return err
	}
	if framebuffer == nil || framebuffer.destroyed {
		return configErrorf("framebuffer is nil or destroyed")
	}
	if err := l.checkOwned(framebuffer.owner, "framebuffer"); err != nil {
		return err
	}
	l.framebuffer = framebuffer
	l.retain(framebuffer.ID)
	for _, img := range framebuffer.RenderTargets {
		l.retain(img.ID)
	}
	if framebuffer.DepthTarget != nil {
		l.retain(framebuffer.DepthTarget.ID)
	}
	l.encoder.SetFramebuffer(framebuffer)
	return nil
}

func (l *commandList) SetRenderPipelineState(pipeline *RenderPipelineState) error {
	if err := l.checkRecording("SetRenderPipelineState"); err != nil {
		return err
	}
	if pipeline == nil || pipeline.destroyed {
		return configErrorf("render pipeline is nil or destroyed")
	}
	if err := l.checkOwned(pipeline.owner, pipeline.Name); err != nil {
		return err
	}
	if l.renderPipeline != nil && !l.renderPipeline.layout.Equal(pipeline.layout) {
		l.renderGroup = nil
	}
	l.renderPipeline = pipeline
	l.retain(pipeline.ID)
	l.encoder.SetRenderPipeline(pipeline)
	return nil
}

func (l *commandList) BindRenderResources(group *BindGroup) error {
	if err := l.checkRecording("BindRenderResources"); err != nil {
		return err
	}
	if l.renderPipeline == nil {
		return l.violation("BindRenderResources before a render pipeline was set")
	}
	if err := l.checkGroup(group, l.renderPipeline.layout); err != nil {
		return err
	}
	l.renderGroup = group
	l.retain(group.retainedIDs()...)
	l.encoder.BindRenderResources(l.renderPipeline, group)
	return nil
}

func (l *commandList) BindMeshData(store *MeshDataStore) error {
	if err := l.checkRecording("BindMeshData"); err != nil {
		return err
	}
	if store == nil {
		return configErrorf("mesh data store is nil")
	}
	if err := l.checkOwned(store.device, "mesh data store"); err != nil {
		return err
	}
	if store.IsAdding() {
		return l.violation("BindMeshData while meshes are still being added")
	}
	if store.IsClosed() {
		return configErrorf("mesh data store is closed")
	}
	l.meshes = store
	l.retain(store.VertexBuffer().ID, store.IndexBuffer().ID)
	l.encoder.BindMeshData(store.VertexBindings(), store.IndexBuffer())
	return nil
}

func (l *commandList) Draw(numIndices, firstIndex, numInstances uint32) error {
	if err := l.checkRecording("Draw"); err != nil {
		return err
	}
	switch {
	case l.renderPipeline == nil:
		return l.violation("Draw before a render pipeline was set")
	case l.framebuffer == nil:
		return l.violation("Draw before a framebuffer was set")
	case l.meshes == nil:
		return l.violation("Draw before mesh data was bound")
	case len(l.renderPipeline.layout.Slots()) > 0 && l.renderGroup == nil:
		return l.violation("Draw with pipeline %s but no resources bound", l.renderPipeline.Name)
	}
	if numIndices == 0 || numInstances == 0 {
		return configErrorf("draw of %d indices and %d instances", numIndices, numInstances)
	}
	if err := checkFramebufferCompatible(l.renderPipeline, l.framebuffer); err != nil {
		return err
	}
	mesh, ok := l.meshes.meshContaining(firstIndex)
	if !ok {
		return configErrorf("first index %d is outside the indices added to the mesh store", firstIndex)
	}
	if uint64(firstIndex)+uint64(numIndices) > uint64(mesh.FirstIndex)+uint64(mesh.NumIndices) {
		return configErrorf("indices [%d, %d) cross the end of the mesh starting at index %d",
			firstIndex, uint64(firstIndex)+uint64(numIndices), mesh.FirstIndex)
	}
	l.encoder.DrawIndexed(numIndices, firstIndex, int32(mesh.FirstVertex), numInstances)
	return nil
}

func (l *commandList) DrawMesh(mesh Mesh, numInstances uint32) error {
	return l.Draw(mesh.NumIndices, mesh.FirstIndex, numInstances)
}

func checkFramebufferCompatible(pipeline *RenderPipelineState, fb *Framebuffer) error {
	if len(pipeline.RenderTargetFormats) != len(fb.RenderTargets) {
		return configErrorf("pipeline %s writes %d render targets, framebuffer has %d",
			pipeline.Name, len(pipeline.RenderTargetFormats), len(fb.RenderTargets))
	}
	for i, format := range pipeline.RenderTargetFormats {
		if fb.RenderTargets[i].Format != format {
			return configErrorf("render target %d is %s, pipeline %s expects %s",
				i, fb.RenderTargets[i].Format, pipeline.Name, format)
		}
	}
	if pipeline.DepthStencilFormat != nil {
		if fb.DepthTarget == nil || fb.DepthTarget.Format != *pipeline.DepthStencilFormat {
			return configErrorf("pipeline %s needs a %s depth target", pipeline.Name, *pipeline.DepthStencilFormat)
		}
	}
	return nil
}

// retire hands the list's staging buffers back to the device pool and drops
// everything it kept alive. The device calls it once the fence value of the
// list's frame has completed, with the device lock held.
func (l *commandList) retire() {
	for _, b := range l.staging {
		l.device.returnStagingBufferLocked(b)
	}
	l.staging = nil
	l.computePipeline, l.computeGroup = nil, nil
	l.renderPipeline, l.renderGroup = nil, nil
	l.framebuffer, l.meshes = nil, nil
	l.mu.Lock()
	l.retained = nil
	l.state = ListRetired
	l.mu.Unlock()
}
