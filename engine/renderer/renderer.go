package renderer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"
	"sync/atomic"

	"github.com/spaghettifunk/sanity/engine/assets"
	"github.com/spaghettifunk/sanity/engine/core"
	"github.com/spaghettifunk/sanity/engine/jobs"
	"github.com/spaghettifunk/sanity/engine/renderer/components"
	"github.com/spaghettifunk/sanity/engine/renderer/rhi"
)

// Names of the shader blobs the standard pipeline is built from.
const (
	VertexShaderName = "standard.vert"
	PixelShaderName  = "standard.frag"
)

const (
	BackbufferFormat = rhi.Rgba8
	DepthFormat      = rhi.Depth32
	// Bytes reserved per material in the materials buffer.
	MaterialStride   = 64
	DefaultMaterials = 64
	// Draws handed to one command list when a frame is recorded in parallel.
	drawsPerList = 256
)

// DrawItem is one mesh drawn this frame.
type DrawItem struct {
	Mesh      rhi.Mesh
	Instances uint32
}

// RenderPacket is everything DrawFrame needs for one frame.
type RenderPacket struct {
	DeltaTime float64
	Camera    *components.Camera
	Draws     []DrawItem
}

// Renderer drives a RenderDevice: it owns the mesh store, the backbuffer and
// the standard pipeline, and brackets every frame.
type Renderer struct {
	device  *rhi.RenderDevice
	shaders *assets.ShaderLibrary
	jobs    *jobs.JobSystem

	width  uint32
	height uint32

	meshes         *rhi.MeshDataStore
	colorTarget    *rhi.Image
	depthTarget    *rhi.Image
	backbuffer     *rhi.Framebuffer
	defaultTexture *rhi.Image
	materials      *rhi.Buffer
	// one camera buffer and bind group per in-flight slot, so the CPU never
	// writes what the GPU may still read
	cameras    []*rhi.Buffer
	bindGroups []*rhi.BindGroup

	pipelineMu    sync.Mutex
	pipeline      *rhi.RenderPipelineState
	pipelineDirty atomic.Bool

	closed bool
}

// New creates every GPU object the renderer needs up front. The shader
// library must hold VertexShaderName and PixelShaderName.
func New(device *rhi.RenderDevice, shaders *assets.ShaderLibrary, js *jobs.JobSystem) (*Renderer, error) {
	settings := device.Settings()
	r := &Renderer{
		device:  device,
		shaders: shaders,
		jobs:    js,
		width:   settings.Render.Width,
		height:  settings.Render.Height,
	}
	if err := r.initialize(settings); err != nil {
		_ = r.Shutdown()
		return nil, err
	}
	shaders.OnReload(func(name string, version uint64) {
		if name == VertexShaderName || name == PixelShaderName {
			core.LogInfo("shader %s changed (version %d), rebuilding the standard pipeline", name, version)
			r.pipelineDirty.Store(true)
		}
	})
	core.LogInfo("renderer ready on %s: %dx%d backbuffer, %d frames in flight",
		device.Backend().Name(), r.width, r.height, device.NumInFlightFrames())
	return r, nil
}

func (r *Renderer) initialize(settings core.Settings) error {
	var err error
	r.meshes, err = rhi.NewMeshDataStore(r.device, settings.MeshStore.VertexBufferSize, settings.MeshStore.IndexBufferSize)
	if err != nil {
		return err
	}
	r.colorTarget, err = r.device.CreateImage(rhi.ImageCreateInfo{
		Name: "backbuffer color", Usage: rhi.RenderTarget, Format: BackbufferFormat, Width: r.width, Height: r.height,
	}, nil)
	if err != nil {
		return err
	}
	r.depthTarget, err = r.device.CreateImage(rhi.ImageCreateInfo{
		Name: "backbuffer depth", Usage: rhi.DepthStencil, Format: DepthFormat, Width: r.width, Height: r.height,
	}, nil)
	if err != nil {
		return err
	}
	r.backbuffer, err = r.device.CreateFramebuffer([]*rhi.Image{r.colorTarget}, r.depthTarget)
	if err != nil {
		return err
	}

	white := image.NewRGBA(image.Rect(0, 0, 1, 1))
	white.Set(0, 0, color.White)
	r.defaultTexture, err = r.CreateTexture("default white", white)
	if err != nil {
		return err
	}
	r.materials, err = r.device.CreateBuffer(rhi.BufferCreateInfo{
		Name: "materials", Size: MaterialStride * DefaultMaterials, Usage: rhi.StorageBuffer,
	})
	if err != nil {
		return err
	}

	if err := r.buildPipeline(); err != nil {
		return err
	}

	for slot := uint32(0); slot < r.device.NumInFlightFrames(); slot++ {
		cam, err := r.device.CreateBuffer(rhi.BufferCreateInfo{
			Name: fmt.Sprintf("cameras[%d]", slot), Size: components.CameraUniformSize, Usage: rhi.UniformBuffer,
		})
		if err != nil {
			return err
		}
		r.cameras = append(r.cameras, cam)
		group, err := r.pipeline.NewBindGroupBuilder().
			SetBuffer(rhi.CameraBufferName, cam).
			SetBuffer(rhi.MaterialBufferName, r.materials).
			SetImageArray(rhi.TextureArrayName, []*rhi.Image{r.defaultTexture}).
			Build()
		if err != nil {
			return err
		}
		r.bindGroups = append(r.bindGroups, group)
	}
	return nil
}

func (r *Renderer) Device() *rhi.RenderDevice            { return r.device }
func (r *Renderer) MeshStore() *rhi.MeshDataStore        { return r.meshes }
func (r *Renderer) Backbuffer() *rhi.Framebuffer         { return r.backbuffer }
func (r *Renderer) ColorTarget() *rhi.Image              { return r.colorTarget }
func (r *Renderer) AspectRatio() float32                 { return float32(r.width) / float32(r.height) }
func (r *Renderer) Metrics() *core.FrameMetrics          { return r.device.Metrics() }
func (r *Renderer) BindGroup(slot uint32) *rhi.BindGroup { return r.bindGroups[slot] }
func (r *Renderer) CameraBuffer(slot uint32) *rhi.Buffer { return r.cameras[slot] }

// Pipeline returns the current standard pipeline. It changes after a shader reload.
func (r *Renderer) Pipeline() *rhi.RenderPipelineState {
	r.pipelineMu.Lock()
	defer r.pipelineMu.Unlock()
	return r.pipeline
}

func (r *Renderer) buildPipeline() error {
	vs, err := r.shaders.Get(VertexShaderName)
	if err != nil {
		return err
	}
	ps, err := r.shaders.Get(PixelShaderName)
	if err != nil {
		return err
	}
	info := rhi.NewRenderPipelineStateCreateInfo("standard", vs, ps)
	info.RenderTargetFormats = []rhi.ImageFormat{BackbufferFormat}
	depth := DepthFormat
	info.DepthStencilFormat = &depth

	pipeline, err := r.device.CreateRenderPipelineState(info)
	if err != nil {
		return err
	}
	r.pipelineMu.Lock()
	old := r.pipeline
	r.pipeline = pipeline
	r.pipelineMu.Unlock()
	if old != nil {
		return r.device.DestroyRenderPipelineState(old)
	}
	return nil
}

// reloadPipeline swaps in a pipeline built from the current blobs. A bad blob
// keeps the old pipeline running.
func (r *Renderer) reloadPipeline() {
	if !r.pipelineDirty.Swap(false) {
		return
	}
	if err := r.buildPipeline(); err != nil {
		core.LogError("standard pipeline rebuild failed, keeping the previous one: %s", err)
	}
}

// CreateTexture uploads a decoded image as a sampled Rgba8 texture.
func (r *Renderer) CreateTexture(name string, img image.Image) (*rhi.Image, error) {
	return r.device.CreateImage(rhi.ImageCreateInfoFor(name, img), rhi.PixelsFromImage(img))
}

// UploadMeshes appends meshes to the store and submits the upload. Lists
// submitted afterwards may draw the returned meshes. Outside a frame it fails
// with rhi.ErrBackpressure while the next slot is still in flight.
func (r *Renderer) UploadMeshes(meshes ...MeshData) ([]rhi.Mesh, error) {
	list, err := r.device.CreateResourceCommandList()
	if err != nil {
		return nil, err
	}
	if err := r.meshes.BeginAddingMeshes(list); err != nil {
		return nil, err
	}
	out := make([]rhi.Mesh, 0, len(meshes))
	for _, m := range meshes {
		mesh, err := r.meshes.AddMesh(m.Vertices, m.Indices)
		if err != nil {
			_ = r.meshes.EndAddingMeshes()
			return nil, fmt.Errorf("mesh %q: %w", m.Name, err)
		}
		out = append(out, mesh)
	}
	if err := r.meshes.EndAddingMeshes(); err != nil {
		return nil, err
	}
	if err := r.device.SubmitCommandList(list); err != nil {
		return nil, err
	}
	core.LogDebug("uploaded %d meshes", len(out))
	return out, nil
}

// RecordParallel records n render lists on the job system and submits them
// in index order, so the GPU sees them in the order the caller numbered them.
// Nothing is submitted when any list fails.
func (r *Renderer) RecordParallel(ctx context.Context, n int, fn func(ctx context.Context, i int, list rhi.RenderCommandList) error) error {
	lists := make([]rhi.RenderCommandList, n)
	for i := range lists {
		list, err := r.device.CreateRenderCommandList()
		if err != nil {
			return err
		}
		lists[i] = list
	}
	err := r.jobs.ParallelFor(ctx, "record", n, func(ctx context.Context, i int) error {
		return fn(ctx, i, lists[i])
	})
	if err != nil {
		return err
	}
	for _, list := range lists {
		if err := r.device.SubmitCommandList(list); err != nil {
			return err
		}
	}
	return nil
}

// beginPass sets the state every list of a frame starts with.
func (r *Renderer) beginPass(list rhi.RenderCommandList, pipeline *rhi.RenderPipelineState, slot uint32) error {
	if err := list.SetFramebuffer(r.backbuffer); err != nil {
		return err
	}
	if err := list.SetRenderPipelineState(pipeline); err != nil {
		return err
	}
	if err := list.BindRenderResources(r.bindGroups[slot]); err != nil {
		return err
	}
	return list.BindMeshData(r.meshes)
}

// DrawFrame runs one frame: BeginFrame, record, submit, EndFrame. Large
// packets are split over several lists recorded in parallel.
func (r *Renderer) DrawFrame(ctx context.Context, packet *RenderPacket) error {
	r.reloadPipeline()
	pipeline := r.Pipeline()

	if err := r.device.BeginFrame(ctx); err != nil {
		return err
	}
	slot := r.device.CurrentSlot()

	err := r.recordFrame(ctx, packet, pipeline, slot)
	if endErr := r.device.EndFrame(); endErr != nil {
		err = errors.Join(err, endErr)
	}
	if err != nil && !rhi.IsDeviceLost(err) {
		core.LogError("frame %d failed: %s", r.device.FrameIndex(), err)
	}
	return err
}

func (r *Renderer) recordFrame(ctx context.Context, packet *RenderPacket, pipeline *rhi.RenderPipelineState, slot uint32) error {
	camera := packet.Camera
	if camera == nil {
		camera = components.NewCamera()
	}
	// BeginFrame waited for the slot, so the GPU is done reading this buffer
	uniform, err := r.device.MapBuffer(r.cameras[slot])
	if err != nil {
		return err
	}
	camera.PutUniform(uniform, r.AspectRatio())

	numLists := (len(packet.Draws) + drawsPerList - 1) / drawsPerList
	if numLists <= 1 || r.jobs == nil {
		list, err := r.device.CreateRenderCommandList()
		if err != nil {
			return err
		}
		if err := r.beginPass(list, pipeline, slot); err != nil {
			return err
		}
		for _, d := range packet.Draws {
			if err := list.DrawMesh(d.Mesh, max(d.Instances, 1)); err != nil {
				return err
			}
		}
		return r.device.SubmitCommandList(list)
	}

	return r.RecordParallel(ctx, numLists, func(_ context.Context, i int, list rhi.RenderCommandList) error {
		if err := r.beginPass(list, pipeline, slot); err != nil {
			return err
		}
		end := min((i+1)*drawsPerList, len(packet.Draws))
		for _, d := range packet.Draws[i*drawsPerList : end] {
			if err := list.DrawMesh(d.Mesh, max(d.Instances, 1)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Shutdown hands every object back to the device. The device itself is
// closed by its owner.
func (r *Renderer) Shutdown() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if r.device.IsLost() {
		return nil
	}
	var errs []error
	for _, g := range r.bindGroups {
		errs = append(errs, r.device.DestroyBindGroup(g))
	}
	for _, b := range r.cameras {
		errs = append(errs, r.device.ScheduleBufferDestruction(b))
	}
	if p := r.Pipeline(); p != nil {
		errs = append(errs, r.device.DestroyRenderPipelineState(p))
	}
	if r.materials != nil {
		errs = append(errs, r.device.ScheduleBufferDestruction(r.materials))
	}
	if r.defaultTexture != nil {
		errs = append(errs, r.device.ScheduleImageDestruction(r.defaultTexture))
	}
	if r.backbuffer != nil {
		errs = append(errs, r.device.DestroyFramebuffer(r.backbuffer))
	}
	for _, img := range []*rhi.Image{r.colorTarget, r.depthTarget} {
		if img != nil {
			errs = append(errs, r.device.ScheduleImageDestruction(img))
		}
	}
	if r.meshes != nil {
		errs = append(errs, r.meshes.Close())
	}
	return errors.Join(errs...)
}
