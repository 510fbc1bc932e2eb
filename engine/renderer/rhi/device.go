package rhi

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/spaghettifunk/sanity/engine/core"
)

// deferredRelease is a native object waiting for the GPU to stop using it.
// A zero fence means no signal covers its last use yet: either the current
// frame has not been signaled or a list still recording refers to it.
type deferredRelease struct {
	id      uuid.UUID
	fence   uint64
	what    string
	release func()
}

// Staging buffers kept for reuse once their copies retire. Extra ones are
// destroyed.
const maxPooledStagingBuffers = 32

// RenderDevice owns the backend and paces the CPU against the GPU. It hands
// out resources, pipelines, bind groups and command lists, and defers every
// destruction until the GPU is done with the object.
type RenderDevice struct {
	backend   Backend
	settings  core.Settings
	numFrames uint32

	// submitMu serializes Submit and Signal on the backend. It is always
	// taken before mu and never held while waiting on the GPU.
	submitMu sync.Mutex

	mu         sync.Mutex
	frameIndex uint64
	inFrame    bool
	prepared   bool
	slotFences []uint64
	slotLists  [][]*commandList
	pending    []*commandList
	inFlight   map[*commandList]uint64
	deferred   []deferredRelease
	live       map[uuid.UUID]func()
	staging    []*Buffer

	clock   *core.Clock
	metrics *core.FrameMetrics
	lost    atomic.Bool
	closed  atomic.Bool
}

// NewRenderDevice wraps backend. A nil settings uses core.DefaultSettings().
func NewRenderDevice(backend Backend, settings *core.Settings) (*RenderDevice, error) {
	if backend == nil {
		return nil, configErrorf("render device needs a backend")
	}
	if settings == nil {
		settings = core.DefaultSettings()
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	n := settings.Render.NumInFlightFrames
	d := &RenderDevice{
		backend:    backend,
		settings:   *settings,
		numFrames:  n,
		slotFences: make([]uint64, n),
		slotLists:  make([][]*commandList, n),
		inFlight:   make(map[*commandList]uint64),
		live:       make(map[uuid.UUID]func()),
		clock:      core.NewClock(),
		metrics:    core.NewFrameMetrics(),
	}
	core.LogInfo("RenderDevice created on %s backend with %d frames in flight", backend.Name(), n)
	return d, nil
}

func (d *RenderDevice) Settings() core.Settings        { return d.settings }
func (d *RenderDevice) Backend() Backend               { return d.backend }
func (d *RenderDevice) NumInFlightFrames() uint32      { return d.numFrames }
func (d *RenderDevice) Metrics() *core.FrameMetrics    { return d.metrics }
func (d *RenderDevice) IsLost() bool                   { return d.lost.Load() }
func (d *RenderDevice) StandardLayout() *BindingLayout { return StandardMaterialLayout() }

// FrameIndex is the number of frames ended so far.
func (d *RenderDevice) FrameIndex() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frameIndex
}

// CurrentSlot is the frame slot new command lists allocate from.
func (d *RenderDevice) CurrentSlot() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.currentSlot()
}

func (d *RenderDevice) currentSlot() uint32 {
	return uint32(d.frameIndex % uint64(d.numFrames))
}

func (d *RenderDevice) checkAlive() error {
	if d.lost.Load() {
		return fmt.Errorf("%w: device can no longer be used", ErrDeviceLost)
	}
	if d.closed.Load() {
		return configErrorf("render device is closed")
	}
	return nil
}

// backendError latches device loss. Every other backend failure is passed
// through wrapped with op.
func (d *RenderDevice) backendError(op string, err error) error {
	if errors.Is(err, ErrDeviceLost) {
		if !d.lost.Swap(true) {
			core.LogError("RenderDevice lost during %s: %s", op, err)
		}
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (d *RenderDevice) track(id uuid.UUID, release func()) {
	d.mu.Lock()
	d.live[id] = release
	d.mu.Unlock()
}

// scheduleRelease moves a live object to the deferred list of the current frame.
func (d *RenderDevice) scheduleRelease(id uuid.UUID, what string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	release, ok := d.live[id]
	if !ok {
		return
	}
	delete(d.live, id)
	d.deferred = append(d.deferred, deferredRelease{id: id, what: what, release: release})
}

func (d *RenderDevice) CreateBuffer(info BufferCreateInfo) (*Buffer, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}
	if info.Size == 0 {
		return nil, configErrorf("buffer %q has zero size", info.Name)
	}
	if info.Usage > UiVertices {
		return nil, configErrorf("buffer %q has unknown usage %s", info.Name, info.Usage)
	}
	native, mapped, err := d.backend.CreateBuffer(info)
	if err != nil {
		if errors.Is(err, ErrDeviceLost) {
			return nil, d.backendError("create buffer", err)
		}
		return nil, fmt.Errorf("%w: buffer %q of %d bytes: %v", ErrResourceExhausted, info.Name, info.Size, err)
	}
	buf := &Buffer{
		ID:     uuid.New(),
		Name:   info.Name,
		Size:   info.Size,
		Usage:  info.Usage,
		Native: native,
		mapped: mapped,
		owner:  d,
	}
	d.track(buf.ID, func() { d.backend.DestroyBuffer(native) })
	return buf, nil
}

// getStagingBuffer hands out the smallest pooled staging buffer that fits
// size, creating one when none does.
func (d *RenderDevice) getStagingBuffer(size uint64) (*Buffer, error) {
	d.mu.Lock()
	best := -1
	for i, b := range d.staging {
		if b.Size >= size && (best < 0 || b.Size < d.staging[best].Size) {
			best = i
		}
	}
	if best >= 0 {
		buf := d.staging[best]
		d.staging = slices.Delete(d.staging, best, best+1)
		d.mu.Unlock()
		return buf, nil
	}
	d.mu.Unlock()
	d.metrics.RecordStagingAllocation()
	return d.CreateBuffer(BufferCreateInfo{Name: "staging", Size: size, Usage: StagingBuffer})
}

// returnStagingBufferLocked puts a staging buffer whose copy has retired
// back in the pool.
func (d *RenderDevice) returnStagingBufferLocked(buf *Buffer) {
	if len(d.staging) >= maxPooledStagingBuffers || d.closed.Load() {
		d.destroyBufferLocked(buf)
		return
	}
	d.staging = append(d.staging, buf)
}

// StagingBuffers is the number of staging buffers waiting in the pool.
func (d *RenderDevice) StagingBuffers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.staging)
}

// destroyBufferLocked releases a buffer the GPU is known to be done with.
func (d *RenderDevice) destroyBufferLocked(buf *Buffer) {
	release, ok := d.live[buf.ID]
	delete(d.live, buf.ID)
	buf.destroyed = true
	buf.mapped = nil
	if ok {
		release()
	}
}

// MapBuffer returns the persistent CPU mapping of a host-visible buffer.
func (d *RenderDevice) MapBuffer(buf *Buffer) ([]byte, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}
	if buf == nil || buf.destroyed || buf.owner != d {
		return nil, configErrorf("cannot map a nil, destroyed or foreign buffer")
	}
	if !buf.Usage.IsHostVisible() || buf.mapped == nil {
		return nil, configErrorf("buffer %s with usage %s is not host visible", buf.Name, buf.Usage)
	}
	return buf.mapped, nil
}

func (d *RenderDevice) ScheduleBufferDestruction(buf *Buffer) error {
	if buf == nil || buf.owner != d {
		return configErrorf("cannot destroy a nil or foreign buffer")
	}
	if buf.destroyed {
		return configErrorf("buffer %s is already scheduled for destruction", buf.Name)
	}
	buf.destroyed = true
	buf.mapped = nil
	d.scheduleRelease(buf.ID, buf.String())
	return nil
}

// CreateImage allocates an image and, when pixels is not nil, uploads them
// through an internal resource list submitted right away.
func (d *RenderDevice) CreateImage(info ImageCreateInfo, pixels []byte) (*Image, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}
	if info.Width == 0 || info.Height == 0 {
		return nil, configErrorf("image %q has zero extent %dx%d", info.Name, info.Width, info.Height)
	}
	if info.Usage > UnorderedAccess || info.Format > Depth24Stencil8 {
		return nil, configErrorf("image %q has unknown usage %s or format %s", info.Name, info.Usage, info.Format)
	}
	if info.Usage == DepthStencil && !info.Format.IsDepth() {
		return nil, configErrorf("depth image %q needs a depth format, got %s", info.Name, info.Format)
	}
	if info.Depth == 0 {
		info.Depth = 1
	}
	if pixels != nil && uint64(len(pixels)) != info.SizeInBytes() {
		return nil, configErrorf("image %q needs %d bytes of pixels, got %d", info.Name, info.SizeInBytes(), len(pixels))
	}
	native, err := d.backend.CreateImage(info)
	if err != nil {
		if errors.Is(err, ErrDeviceLost) {
			return nil, d.backendError("create image", err)
		}
		return nil, fmt.Errorf("%w: image %q: %v", ErrResourceExhausted, info.Name, err)
	}
	img := &Image{
		ID:     uuid.New(),
		Name:   info.Name,
		Usage:  info.Usage,
		Format: info.Format,
		Width:  info.Width,
		Height: info.Height,
		Depth:  info.Depth,
		Native: native,
		owner:  d,
	}
	d.track(img.ID, func() { d.backend.DestroyImage(native) })

	if pixels != nil {
		upload, err := d.CreateResourceCommandList()
		if err != nil {
			return nil, err
		}
		if err := upload.CopyDataToImage(pixels, img); err != nil {
			return nil, err
		}
		if err := d.SubmitCommandList(upload); err != nil {
			return nil, err
		}
	}
	return img, nil
}

func (d *RenderDevice) ScheduleImageDestruction(img *Image) error {
	if img == nil || img.owner != d {
		return configErrorf("cannot destroy a nil or foreign image")
	}
	if img.destroyed {
		return configErrorf("image %s is already scheduled for destruction", img.Name)
	}
	img.destroyed = true
	d.scheduleRelease(img.ID, img.String())
	return nil
}

func (d *RenderDevice) CreateFramebuffer(renderTargets []*Image, depthTarget *Image) (*Framebuffer, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}
	width, height, err := validateFramebuffer(renderTargets, depthTarget)
	if err != nil {
		return nil, err
	}
	for _, img := range append(append([]*Image(nil), renderTargets...), depthTarget) {
		if img != nil && img.owner != d {
			return nil, configErrorf("image %s belongs to a different device", img.Name)
		}
	}
	native, err := d.backend.CreateFramebuffer(renderTargets, depthTarget)
	if err != nil {
		return nil, d.backendError("create framebuffer", err)
	}
	fb := &Framebuffer{
		ID:            uuid.New(),
		RenderTargets: append([]*Image(nil), renderTargets...),
		DepthTarget:   depthTarget,
		Width:         width,
		Height:        height,
		Native:        native,
		owner:         d,
	}
	d.track(fb.ID, func() { d.backend.DestroyFramebuffer(native) })
	return fb, nil
}

func (d *RenderDevice) DestroyFramebuffer(fb *Framebuffer) error {
	if fb == nil || fb.owner != d || fb.destroyed {
		return configErrorf("cannot destroy a nil, foreign or destroyed framebuffer")
	}
	fb.destroyed = true
	d.scheduleRelease(fb.ID, "framebuffer")
	return nil
}

func (d *RenderDevice) CreateRenderPipelineState(info *RenderPipelineStateCreateInfo) (*RenderPipelineState, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}
	if info == nil {
		return nil, configErrorf("render pipeline create info is nil")
	}
	if err := info.validate(); err != nil {
		return nil, err
	}
	layout := info.Layout
	if info.UseStandardMaterialLayout {
		layout = StandardMaterialLayout()
	}
	native, err := d.backend.CreateRenderPipeline(info, layout)
	if err != nil {
		return nil, d.backendError(fmt.Sprintf("create render pipeline %q", info.Name), err)
	}
	p := &RenderPipelineState{
		ID:                  uuid.New(),
		Name:                info.Name,
		Native:              native,
		PrimitiveType:       info.PrimitiveType,
		RenderTargetFormats: append([]ImageFormat(nil), info.RenderTargetFormats...),
		HasPixelShader:      len(info.PixelShader) > 0,
		layout:              layout,
		owner:               d,
	}
	if info.DepthStencilFormat != nil {
		f := *info.DepthStencilFormat
		p.DepthStencilFormat = &f
	}
	d.track(p.ID, func() { d.backend.DestroyPipeline(native) })
	core.LogDebug("RenderDevice created render pipeline %q with layout %s", info.Name, layout)
	return p, nil
}

func (d *RenderDevice) DestroyRenderPipelineState(p *RenderPipelineState) error {
	if p == nil || p.owner != d || p.destroyed {
		return configErrorf("cannot destroy a nil, foreign or destroyed render pipeline")
	}
	p.destroyed = true
	d.scheduleRelease(p.ID, "render pipeline "+p.Name)
	return nil
}

func (d *RenderDevice) CreateComputePipelineState(info *ComputePipelineStateCreateInfo) (*ComputePipelineState, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}
	if info == nil {
		return nil, configErrorf("compute pipeline create info is nil")
	}
	if err := info.validate(); err != nil {
		return nil, err
	}
	layout := info.Layout
	if info.UseStandardMaterialLayout {
		layout = StandardMaterialLayout()
	}
	native, err := d.backend.CreateComputePipeline(info, layout)
	if err != nil {
		return nil, d.backendError(fmt.Sprintf("create compute pipeline %q", info.Name), err)
	}
	p := &ComputePipelineState{
		ID:     uuid.New(),
		Name:   info.Name,
		Native: native,
		layout: layout,
		owner:  d,
	}
	d.track(p.ID, func() { d.backend.DestroyPipeline(native) })
	return p, nil
}

func (d *RenderDevice) DestroyComputePipelineState(p *ComputePipelineState) error {
	if p == nil || p.owner != d || p.destroyed {
		return configErrorf("cannot destroy a nil, foreign or destroyed compute pipeline")
	}
	p.destroyed = true
	d.scheduleRelease(p.ID, "compute pipeline "+p.Name)
	return nil
}

// CreateBindGroupBuilder returns a builder for groups matching layout.
func (d *RenderDevice) CreateBindGroupBuilder(layout *BindingLayout) *BindGroupBuilder {
	if layout == nil {
		layout = StandardMaterialLayout()
	}
	return newBindGroupBuilder(d, layout)
}

func (d *RenderDevice) createBindGroup(layout *BindingLayout, resolved []ResolvedBinding, byName map[string]int) (*BindGroup, error) {
	for _, rb := range resolved {
		if rb.Buffer != nil && rb.Buffer.owner != d {
			return nil, configErrorf("buffer %s belongs to a different device", rb.Buffer.Name)
		}
		for _, img := range rb.Images {
			if img.owner != d {
				return nil, configErrorf("image %s belongs to a different device", img.Name)
			}
		}
	}
	native, err := d.backend.CreateBindGroup(layout, resolved)
	if err != nil {
		return nil, d.backendError("create bind group", err)
	}
	g := &BindGroup{
		ID:       uuid.New(),
		Native:   native,
		layout:   layout,
		bindings: resolved,
		byName:   byName,
		owner:    d,
	}
	d.track(g.ID, func() { d.backend.DestroyBindGroup(native) })
	return g, nil
}

func (d *RenderDevice) DestroyBindGroup(g *BindGroup) error {
	if g == nil || g.owner != d || g.destroyed {
		return configErrorf("cannot destroy a nil, foreign or destroyed bind group")
	}
	g.destroyed = true
	d.scheduleRelease(g.ID, "bind group")
	return nil
}

func (d *RenderDevice) CreateResourceCommandList() (ResourceCommandList, error) {
	return d.createCommandList()
}

func (d *RenderDevice) CreateComputeCommandList() (ComputeCommandList, error) {
	return d.createCommandList()
}

func (d *RenderDevice) CreateRenderCommandList() (RenderCommandList, error) {
	return d.createCommandList()
}

// createCommandList never blocks. When the current slot still has work in
// flight from its previous use it fails with ErrBackpressure.
func (d *RenderDevice) createCommandList() (*commandList, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}
	d.submitMu.Lock()
	defer d.submitMu.Unlock()
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.prepareSlotLocked(nil); err != nil {
		return nil, err
	}
	slot := d.currentSlot()
	encoder, err := d.backend.NewEncoder(slot)
	if err != nil {
		return nil, d.backendError("new command encoder", err)
	}
	l := newCommandList(d, slot, encoder)
	d.slotLists[slot] = append(d.slotLists[slot], l)
	return l, nil
}

// SubmitCommandList ends recording and queues the list for the GPU. It never
// waits for the GPU.
func (d *RenderDevice) SubmitCommandList(list CommandList) error {
	if err := d.checkAlive(); err != nil {
		return err
	}
	l, ok := list.(*commandList)
	if !ok || l == nil || l.device != d {
		return configErrorf("command list was not created by this device")
	}
	if err := l.Err(); err != nil {
		return fmt.Errorf("refusing poisoned command list %s: %w", l.id, err)
	}
	if s := l.State(); s != ListRecording {
		return l.violation("SubmitCommandList on a list in state %s", s)
	}

	d.submitMu.Lock()
	defer d.submitMu.Unlock()
	if err := l.encoder.End(); err != nil {
		return d.backendError("end command list", err)
	}
	if err := d.backend.Submit(l.encoder); err != nil {
		return d.backendError("submit command list", err)
	}
	l.setState(ListSubmitted)
	d.mu.Lock()
	d.pending = append(d.pending, l)
	d.mu.Unlock()
	return nil
}

// signalLocked fences everything submitted or scheduled since the last
// signal. Objects a recording list still refers to stay unfenced, the list
// may be submitted after this signal.
func (d *RenderDevice) signalLocked() (uint64, error) {
	value, err := d.backend.Signal()
	if err != nil {
		return 0, d.backendError("signal fence", err)
	}
	for _, l := range d.pending {
		d.inFlight[l] = value
	}
	d.pending = d.pending[:0]

	var recording map[uuid.UUID]struct{}
	for i := range d.deferred {
		r := &d.deferred[i]
		if r.fence != 0 {
			continue
		}
		if recording == nil {
			recording = d.recordingReferencesLocked()
		}
		if _, ok := recording[r.id]; ok {
			continue
		}
		r.fence = value
	}
	return value, nil
}

// recordingReferencesLocked collects what every list still recording refers to.
func (d *RenderDevice) recordingReferencesLocked() map[uuid.UUID]struct{} {
	ids := make(map[uuid.UUID]struct{})
	for _, lists := range d.slotLists {
		for _, l := range lists {
			l.collectRetained(ids)
		}
	}
	return ids
}

// prepareSlotLocked readies the current slot for recording: it waits for the
// last work allocated from the slot, retires what completed and resets the
// slot's native allocators. A nil ctx means do not block. It is called with
// submitMu and mu held, and drops both while it waits.
func (d *RenderDevice) prepareSlotLocked(ctx context.Context) error {
	for !d.prepared {
		slot := d.currentSlot()
		target, err := d.slotTargetLocked(slot)
		if err != nil {
			return err
		}
		if target > 0 {
			completed, err := d.backend.CompletedValue()
			if err != nil {
				return d.backendError("read fence", err)
			}
			if completed < target {
				if ctx == nil {
					return fmt.Errorf("%w: slot %d waits for fence %d, GPU is at %d", ErrBackpressure, slot, target, completed)
				}
				if err := d.waitUnlocked(ctx, slot, target); err != nil {
					return err
				}
				// someone else may have prepared the slot meanwhile
				continue
			}
		}
		if err := d.retireCompletedLocked(); err != nil {
			return err
		}
		d.slotLists[slot] = d.slotLists[slot][:0]
		if err := d.backend.ResetSlot(slot); err != nil {
			return d.backendError("reset frame slot", err)
		}
		d.prepared = true
	}
	return nil
}

// slotTargetLocked drops the lists of slot that were never submitted and
// returns the fence value the slot's remaining work completes at.
func (d *RenderDevice) slotTargetLocked(slot uint32) (uint64, error) {
	target := d.slotFences[slot]
	kept := d.slotLists[slot][:0]
	unfenced := false
	for _, l := range d.slotLists[slot] {
		switch l.State() {
		case ListRecording:
			core.LogWarn("RenderDevice dropping command list %s of slot %d, it was never submitted", l.id, slot)
			l.retire()
			continue
		case ListSubmitted:
			if v, ok := d.inFlight[l]; ok {
				target = max(target, v)
			} else {
				unfenced = true
			}
		}
		kept = append(kept, l)
	}
	d.slotLists[slot] = kept
	if unfenced {
		v, err := d.signalLocked()
		if err != nil {
			return 0, err
		}
		target = max(target, v)
	}
	return target, nil
}

// waitUnlocked blocks until the GPU reaches target with neither lock held,
// so workers can keep submitting meanwhile.
func (d *RenderDevice) waitUnlocked(ctx context.Context, slot uint32, target uint64) error {
	start := time.Now()
	d.mu.Unlock()
	d.submitMu.Unlock()
	err := d.backend.WaitForValue(ctx, target)
	d.submitMu.Lock()
	d.mu.Lock()
	d.metrics.RecordWait(time.Since(start))
	if err != nil {
		if errors.Is(err, ErrDeviceLost) {
			return d.backendError("wait for fence", err)
		}
		return fmt.Errorf("%w: slot %d: %w", ErrBackpressure, slot, err)
	}
	return d.checkAlive()
}

func (d *RenderDevice) retireCompletedLocked() error {
	completed, err := d.backend.CompletedValue()
	if err != nil {
		return d.backendError("read fence", err)
	}
	for l, v := range d.inFlight {
		if v <= completed {
			l.retire()
			delete(d.inFlight, l)
		}
	}
	kept := d.deferred[:0]
	for _, r := range d.deferred {
		if r.fence != 0 && r.fence <= completed {
			core.LogDebug("RenderDevice releasing %s (fence %d)", r.what, r.fence)
			r.release()
			continue
		}
		kept = append(kept, r)
	}
	d.deferred = kept
	return nil
}

// BeginFrame blocks until the slot about to be reused is free, or ctx ends.
func (d *RenderDevice) BeginFrame(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return d.beginFrame(ctx)
}

// TryBeginFrame is BeginFrame without blocking: it fails with
// ErrBackpressure when the GPU is too far behind.
func (d *RenderDevice) TryBeginFrame() error {
	return d.beginFrame(nil)
}

func (d *RenderDevice) beginFrame(ctx context.Context) error {
	if err := d.checkAlive(); err != nil {
		return err
	}
	d.submitMu.Lock()
	defer d.submitMu.Unlock()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inFrame {
		return orderingErrorf("BeginFrame called twice without EndFrame")
	}
	if err := d.prepareSlotLocked(ctx); err != nil {
		return err
	}
	// the locks were dropped if prepareSlotLocked waited
	if d.inFrame {
		return orderingErrorf("BeginFrame called twice without EndFrame")
	}
	d.inFrame = true
	d.clock.Start()
	return nil
}

// EndFrame signals the fence for everything submitted this frame and moves
// to the next slot.
func (d *RenderDevice) EndFrame() error {
	if err := d.checkAlive(); err != nil {
		return err
	}
	d.submitMu.Lock()
	defer d.submitMu.Unlock()
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.inFrame {
		return orderingErrorf("EndFrame called without BeginFrame")
	}
	value, err := d.signalLocked()
	if err != nil {
		return err
	}
	d.slotFences[d.currentSlot()] = value
	d.frameIndex++
	d.inFrame = false
	d.prepared = false
	d.clock.Update()
	d.metrics.Update(d.clock.Elapsed())
	d.clock.Stop()
	return nil
}

// PollRetired retires whatever the GPU has finished without blocking and
// returns how many lists were retired.
func (d *RenderDevice) PollRetired() (int, error) {
	if err := d.checkAlive(); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	before := len(d.inFlight)
	if err := d.retireCompletedLocked(); err != nil {
		return 0, err
	}
	return before - len(d.inFlight), nil
}

// Close waits for the GPU, releases every object still owned by the device
// and closes the backend. Closing a lost device skips the wait.
func (d *RenderDevice) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	d.submitMu.Lock()
	defer d.submitMu.Unlock()
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.lost.Load() {
		if err := d.backend.WaitIdle(); err != nil {
			core.LogError("RenderDevice wait idle failed: %s", err)
		}
	}
	for _, l := range d.pending {
		l.retire()
	}
	d.pending = nil
	for l := range d.inFlight {
		l.retire()
	}
	clear(d.inFlight)
	d.staging = nil
	for _, r := range d.deferred {
		r.release()
	}
	d.deferred = nil
	for id, release := range d.live {
		release()
		delete(d.live, id)
	}
	core.LogInfo("RenderDevice closed after %d frames", d.frameIndex)
	return d.backend.Close()
}
