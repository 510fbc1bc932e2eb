// Package headless implements rhi.Backend on plain memory. Submitted work
// runs when its fence value completes, either right away or when the caller
// completes it by hand, which lets tests drive GPU progress explicitly.
package headless

import (
	"context"
	"fmt"
	"sync"

	"github.com/spaghettifunk/sanity/engine/core"
	"github.com/spaghettifunk/sanity/engine/renderer/rhi"
)

type Options struct {
	// AutoComplete finishes every signal immediately, like an infinitely
	// fast GPU. Without it the caller drives progress with Complete.
	AutoComplete bool
	// MemoryLimit caps the bytes of buffers and images alive at once. Zero
	// means unlimited.
	MemoryLimit uint64
}

type signalPoint struct {
	value    uint64
	encoders []*Encoder
}

// Stats counts live native objects.
type Stats struct {
	Buffers      int
	Images       int
	Framebuffers int
	Pipelines    int
	BindGroups   int
	Allocated    uint64
	SlotResets   []int
}

type Backend struct {
	opts Options

	mu        sync.Mutex
	signaled  uint64
	completed uint64
	queued    []*Encoder
	points    []signalPoint
	slots     map[uint32][]*Encoder
	executed  []Command
	changed   chan struct{}
	waiting   int
	lost      bool
	closed    bool

	stats Stats

	// PipelineError, when set, fails every pipeline creation.
	PipelineError error
}

var _ rhi.Backend = (*Backend)(nil)

func New(opts Options) *Backend {
	return &Backend{
		opts:    opts,
		slots:   make(map[uint32][]*Encoder),
		changed: make(chan struct{}),
		stats:   Stats{SlotResets: make([]int, core.MaxFramesInFlight)},
	}
}

func (b *Backend) Name() string { return "headless" }

func (b *Backend) checkLocked() error {
	if b.lost {
		return fmt.Errorf("%w: headless device removed", rhi.ErrDeviceLost)
	}
	if b.closed {
		return fmt.Errorf("headless backend is closed")
	}
	return nil
}

func (b *Backend) allocate(name string, size uint64) (*memory, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkLocked(); err != nil {
		return nil, err
	}
	if b.opts.MemoryLimit > 0 && b.stats.Allocated+size > b.opts.MemoryLimit {
		return nil, fmt.Errorf("out of device memory allocating %d bytes for %s", size, name)
	}
	b.stats.Allocated += size
	return &memory{name: name, data: make([]byte, size)}, nil
}

func (b *Backend) free(m *memory) {
	if m == nil {
		return
	}
	b.mu.Lock()
	b.stats.Allocated -= uint64(len(m.data))
	b.mu.Unlock()
}

func (b *Backend) CreateBuffer(info rhi.BufferCreateInfo) (rhi.NativeBuffer, []byte, error) {
	m, err := b.allocate(info.Name, info.Size)
	if err != nil {
		return nil, nil, err
	}
	b.mu.Lock()
	b.stats.Buffers++
	b.mu.Unlock()
	if info.Usage.IsHostVisible() {
		return m, m.data, nil
	}
	return m, nil, nil
}

func (b *Backend) DestroyBuffer(buffer rhi.NativeBuffer) {
	b.free(nativeMemory(buffer))
	b.mu.Lock()
	b.stats.Buffers--
	b.mu.Unlock()
}

func (b *Backend) CreateImage(info rhi.ImageCreateInfo) (rhi.NativeImage, error) {
	m, err := b.allocate(info.Name, info.SizeInBytes())
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.stats.Images++
	b.mu.Unlock()
	return m, nil
}

func (b *Backend) DestroyImage(image rhi.NativeImage) {
	b.free(nativeMemory(image))
	b.mu.Lock()
	b.stats.Images--
	b.mu.Unlock()
}

func (b *Backend) CreateFramebuffer(renderTargets []*rhi.Image, depthTarget *rhi.Image) (rhi.NativeFramebuffer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkLocked(); err != nil {
		return nil, err
	}
	fb := &framebuffer{}
	for _, rt := range renderTargets {
		fb.targets = append(fb.targets, nativeMemory(rt.Native))
	}
	if depthTarget != nil {
		fb.depth = nativeMemory(depthTarget.Native)
	}
	b.stats.Framebuffers++
	return fb, nil
}

func (b *Backend) DestroyFramebuffer(rhi.NativeFramebuffer) {
	b.mu.Lock()
	b.stats.Framebuffers--
	b.mu.Unlock()
}

func (b *Backend) createPipeline(name string, compute bool, layout *rhi.BindingLayout) (rhi.NativePipeline, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkLocked(); err != nil {
		return nil, err
	}
	if b.PipelineError != nil {
		return nil, b.PipelineError
	}
	b.stats.Pipelines++
	return &pipeline{name: name, compute: compute, layout: layout}, nil
}

func (b *Backend) CreateRenderPipeline(info *rhi.RenderPipelineStateCreateInfo, layout *rhi.BindingLayout) (rhi.NativePipeline, error) {
	return b.createPipeline(info.Name, false, layout)
}

func (b *Backend) CreateComputePipeline(info *rhi.ComputePipelineStateCreateInfo, layout *rhi.BindingLayout) (rhi.NativePipeline, error) {
	return b.createPipeline(info.Name, true, layout)
}

func (b *Backend) DestroyPipeline(rhi.NativePipeline) {
	b.mu.Lock()
	b.stats.Pipelines--
	b.mu.Unlock()
}

func (b *Backend) CreateBindGroup(layout *rhi.BindingLayout, bindings []rhi.ResolvedBinding) (rhi.NativeBindGroup, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkLocked(); err != nil {
		return nil, err
	}
	b.stats.BindGroups++
	return &bindGroup{layout: layout, bindings: bindings}, nil
}

func (b *Backend) DestroyBindGroup(rhi.NativeBindGroup) {
	b.mu.Lock()
	b.stats.BindGroups--
	b.mu.Unlock()
}

func (b *Backend) NewEncoder(slot uint32) (rhi.CommandEncoder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkLocked(); err != nil {
		return nil, err
	}
	e := &Encoder{slot: slot}
	b.slots[slot] = append(b.slots[slot], e)
	return e, nil
}

func (b *Backend) Submit(encoder rhi.CommandEncoder) error {
	e, ok := encoder.(*Encoder)
	if !ok {
		return fmt.Errorf("encoder %T does not belong to the headless backend", encoder)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkLocked(); err != nil {
		return err
	}
	if e.state != encoderEnded {
		return fmt.Errorf("submitting an encoder that was not ended")
	}
	e.state = encoderSubmitted
	b.queued = append(b.queued, e)
	return nil
}

func (b *Backend) Signal() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkLocked(); err != nil {
		return 0, err
	}
	b.signaled++
	b.points = append(b.points, signalPoint{value: b.signaled, encoders: b.queued})
	b.queued = nil
	if b.opts.AutoComplete {
		b.completeLocked(b.signaled)
	}
	return b.signaled, nil
}

func (b *Backend) CompletedValue() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkLocked(); err != nil {
		return 0, err
	}
	return b.completed, nil
}

func (b *Backend) WaitForValue(ctx context.Context, value uint64) error {
	for {
		b.mu.Lock()
		if err := b.checkLocked(); err != nil {
			b.mu.Unlock()
			return err
		}
		if b.completed >= value {
			b.mu.Unlock()
			return nil
		}
		if value > b.signaled {
			b.mu.Unlock()
			return fmt.Errorf("waiting for fence value %d that was never signaled (last %d)", value, b.signaled)
		}
		changed := b.changed
		b.waiting++
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			b.doneWaiting()
			return ctx.Err()
		case <-changed:
			b.doneWaiting()
		}
	}
}

func (b *Backend) doneWaiting() {
	b.mu.Lock()
	b.waiting--
	b.mu.Unlock()
}

// Waiting is the number of callers blocked in WaitForValue.
func (b *Backend) Waiting() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.waiting
}

// Complete runs all work fenced up to value and advances the completed
// fence value, waking every waiter.
func (b *Backend) Complete(value uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.completeLocked(value)
}

// CompleteAll finishes every signal issued so far.
func (b *Backend) CompleteAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.completeLocked(b.signaled)
}

func (b *Backend) completeLocked(value uint64) {
	value = min(value, b.signaled)
	if value <= b.completed || b.lost {
		return
	}
	for len(b.points) > 0 && b.points[0].value <= value {
		for _, e := range b.points[0].encoders {
			b.executed = append(b.executed, e.execute()...)
		}
		b.points = b.points[1:]
	}
	b.completed = value
	b.broadcastLocked()
}

func (b *Backend) broadcastLocked() {
	close(b.changed)
	b.changed = make(chan struct{})
}

// ResetSlot refuses to recycle a slot while the GPU still owns work
// recorded from it.
func (b *Backend) ResetSlot(slot uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkLocked(); err != nil {
		return err
	}
	for _, e := range b.slots[slot] {
		if e.state == encoderSubmitted {
			return fmt.Errorf("slot %d still has work in flight", slot)
		}
	}
	b.slots[slot] = nil
	if int(slot) < len(b.stats.SlotResets) {
		b.stats.SlotResets[slot]++
	}
	return nil
}

func (b *Backend) WaitIdle() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkLocked(); err != nil {
		return err
	}
	if len(b.queued) > 0 {
		b.signaled++
		b.points = append(b.points, signalPoint{value: b.signaled, encoders: b.queued})
		b.queued = nil
	}
	b.completeLocked(b.signaled)
	return nil
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// SimulateDeviceLoss makes every later call fail with rhi.ErrDeviceLost and
// releases anyone blocked in WaitForValue.
func (b *Backend) SimulateDeviceLoss() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lost = true
	b.broadcastLocked()
}

// Executed returns the commands run so far, in execution order.
func (b *Backend) Executed() []Command {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Command(nil), b.executed...)
}

func (b *Backend) Signaled() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.signaled
}

func (b *Backend) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stats
	s.SlotResets = append([]int(nil), b.stats.SlotResets...)
	return s
}

// Contents returns a copy of the device memory behind a buffer or image.
func Contents(native interface{}) []byte {
	m := nativeMemory(native)
	if m == nil {
		return nil
	}
	return append([]byte(nil), m.data...)
}
