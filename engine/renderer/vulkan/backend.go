// Package vulkan implements rhi.Backend on top of Vulkan 1.0. It runs without
// a surface: everything is submitted to a single graphics+compute queue and
// results stay in device memory.
package vulkan

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/sanity/engine/core"
	"github.com/spaghettifunk/sanity/engine/platform"
	"github.com/spaghettifunk/sanity/engine/renderer/rhi"
)

type Options struct {
	ApplicationName string
	// Enables VK_LAYER_KHRONOS_validation and routes its reports to the log.
	EnableValidation bool
	// Number of frame slots encoders are recorded against.
	NumSlots uint32
}

func OptionsFromSettings(s *core.Settings) Options {
	return Options{
		ApplicationName:  s.ApplicationName,
		EnableValidation: s.Render.EnableDebugLayer,
		NumSlots:         core.MaxFramesInFlight,
	}
}

type Backend struct {
	context      *VulkanContext
	timeline     *fenceTimeline
	commands     *commandAllocator
	renderpasses *renderpassCache
	setLayouts   *descriptorLayoutCache

	lost   atomic.Bool
	closed atomic.Bool
}

var _ rhi.Backend = (*Backend)(nil)

// New loads Vulkan through the platform layer and opens the first device
// with a queue that can both draw and dispatch.
func New(p *platform.Platform, opts Options) (*Backend, error) {
	if opts.NumSlots == 0 {
		opts.NumSlots = core.MaxFramesInFlight
	}
	procAddr, err := p.VulkanProcAddr()
	if err != nil {
		return nil, err
	}
	vk.SetGetInstanceProcAddr(procAddr)
	if err := vk.Init(); err != nil {
		core.LogError("failed to initialize vk: %s", err)
		return nil, err
	}

	ctx := &VulkanContext{
		// TODO: custom allocator.
		Allocator: nil,
		Locks:     NewVulkanLockPool(),
	}
	b := &Backend{context: ctx}
	if err := b.createInstance(opts); err != nil {
		return nil, err
	}
	if err := DeviceCreate(ctx); err != nil {
		b.destroyInstance()
		return nil, err
	}
	if err := ctx.createDefaultSampler(); err != nil {
		DeviceDestroy(ctx)
		b.destroyInstance()
		return nil, err
	}
	b.timeline = newFenceTimeline(ctx)
	b.commands = newCommandAllocator(ctx, int(opts.NumSlots))
	b.renderpasses = newRenderpassCache()
	b.setLayouts = newDescriptorLayoutCache()
	core.LogInfo("Vulkan backend initialized on %s.", ctx.Device.Name)
	return b, nil
}

func (b *Backend) createInstance(opts Options) error {
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 0, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(opts.ApplicationName),
		PEngineName:        VulkanSafeString("Sanity Engine"),
	}
	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	requiredExtensions := []string{}
	if runtime.GOOS == "darwin" {
		requiredExtensions = append(requiredExtensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
		createInfo.Flags |= 1 // VK_INSTANCE_CREATE_ENUMERATE_PORTABILITY_BIT_KHR
	}

	requiredLayers := []string{}
	if opts.EnableValidation {
		requiredExtensions = append(requiredExtensions, vk.ExtDebugReportExtensionName)
		requiredLayers = append(requiredLayers, "VK_LAYER_KHRONOS_validation")
		if err := checkLayers(requiredLayers); err != nil {
			return err
		}
		core.LogInfo("All required validation layers are present.")
	}
	for _, e := range requiredExtensions {
		core.LogDebug("Required extension: %s", e)
	}

	createInfo.EnabledExtensionCount = uint32(len(requiredExtensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(requiredExtensions)
	createInfo.EnabledLayerCount = uint32(len(requiredLayers))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(requiredLayers)

	var instance vk.Instance
	if res := vk.CreateInstance(&createInfo, b.context.Allocator, &instance); res != vk.Success {
		err := fmt.Errorf("failed in creating the Vulkan Instance with error `%s`", VulkanResultString(res, true))
		core.LogError(err.Error())
		return err
	}
	if err := vk.InitInstance(instance); err != nil {
		core.LogError(err.Error())
		return err
	}
	b.context.Instance = instance
	core.LogInfo("Vulkan Instance created.")

	if opts.EnableValidation {
		core.LogDebug("Creating Vulkan debugger...")
		debugCreateInfo := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: dbgCallbackFunc,
		}
		var dbg vk.DebugReportCallback
		if err := vk.Error(vk.CreateDebugReportCallback(instance, &debugCreateInfo, nil, &dbg)); err != nil {
			core.LogError("vk.CreateDebugReportCallback failed with %s", err)
			return err
		}
		b.context.debugMessenger = dbg
		core.LogDebug("Vulkan debugger created.")
	}
	return nil
}

func checkLayers(required []string) error {
	var count uint32
	if res := vk.EnumerateInstanceLayerProperties(&count, nil); res != vk.Success {
		return resultError("vkEnumerateInstanceLayerProperties", res)
	}
	available := make([]vk.LayerProperties, count)
	if res := vk.EnumerateInstanceLayerProperties(&count, available); res != vk.Success {
		return resultError("vkEnumerateInstanceLayerProperties", res)
	}
	names := make(map[string]bool, count)
	for i := range available {
		available[i].Deref()
		names[cString(available[i].LayerName[:])] = true
	}
	for _, layer := range required {
		if !names[layer] {
			return fmt.Errorf("required validation layer is missing: %s", layer)
		}
	}
	return nil
}

func (b *Backend) destroyInstance() {
	if b.context.debugMessenger != nil {
		vk.DestroyDebugReportCallback(b.context.Instance, b.context.debugMessenger, nil)
		b.context.debugMessenger = nil
	}
	if b.context.Instance != nil {
		vk.DestroyInstance(b.context.Instance, b.context.Allocator)
		b.context.Instance = nil
	}
}

func (b *Backend) Name() string { return "vulkan" }

// DeviceName is the name the driver reports for the selected GPU.
func (b *Backend) DeviceName() string { return b.context.Device.Name }

// check latches device loss: once any call reports it, every later call fails.
func (b *Backend) check(err error) error {
	if err != nil && errors.Is(err, rhi.ErrDeviceLost) {
		b.lost.Store(true)
	}
	return err
}

func (b *Backend) alive() error {
	if b.lost.Load() {
		return fmt.Errorf("%w: vulkan device was lost earlier", rhi.ErrDeviceLost)
	}
	if b.closed.Load() {
		return errors.New("vulkan backend is closed")
	}
	return nil
}

func (b *Backend) CreateBuffer(info rhi.BufferCreateInfo) (rhi.NativeBuffer, []byte, error) {
	if err := b.alive(); err != nil {
		return nil, nil, err
	}
	var buffer *VulkanBuffer
	err := b.context.Locks.SafeCall(ResourceManagement, func() error {
		var err error
		buffer, err = NewVulkanBuffer(b.context, info)
		return err
	})
	if err != nil {
		return nil, nil, b.check(err)
	}
	return buffer, buffer.Mapped, nil
}

func (b *Backend) DestroyBuffer(buffer rhi.NativeBuffer) {
	if vb, ok := buffer.(*VulkanBuffer); ok {
		vb.Destroy(b.context)
	}
}

func (b *Backend) CreateImage(info rhi.ImageCreateInfo) (rhi.NativeImage, error) {
	if err := b.alive(); err != nil {
		return nil, err
	}
	var image *VulkanImage
	err := b.context.Locks.SafeCall(ResourceManagement, func() error {
		var err error
		image, err = NewVulkanImage(b.context, info)
		return err
	})
	if err != nil {
		return nil, b.check(err)
	}
	return image, nil
}

func (b *Backend) DestroyImage(image rhi.NativeImage) {
	if vi, ok := image.(*VulkanImage); ok {
		vi.Destroy(b.context)
	}
}

func (b *Backend) CreateFramebuffer(renderTargets []*rhi.Image, depthTarget *rhi.Image) (rhi.NativeFramebuffer, error) {
	if err := b.alive(); err != nil {
		return nil, err
	}
	fb, err := FramebufferCreate(b.context, b.renderpasses, renderTargets, depthTarget)
	if err != nil {
		return nil, b.check(err)
	}
	return fb, nil
}

func (b *Backend) DestroyFramebuffer(framebuffer rhi.NativeFramebuffer) {
	if fb, ok := framebuffer.(*VulkanFramebuffer); ok {
		fb.Destroy(b.context)
	}
}

func (b *Backend) setLayoutFor(layout *rhi.BindingLayout) (vk.DescriptorSetLayout, error) {
	if layout == nil || len(layout.Slots()) == 0 {
		return nil, nil
	}
	return b.setLayouts.get(b.context, layout)
}

func (b *Backend) CreateRenderPipeline(info *rhi.RenderPipelineStateCreateInfo, layout *rhi.BindingLayout) (rhi.NativePipeline, error) {
	if err := b.alive(); err != nil {
		return nil, err
	}
	setLayout, err := b.setLayoutFor(layout)
	if err != nil {
		return nil, b.check(err)
	}
	key, err := newRenderpassKey(info.RenderTargetFormats, info.DepthStencilFormat)
	if err != nil {
		return nil, b.check(err)
	}
	renderpass, err := b.renderpasses.get(b.context, key)
	if err != nil {
		return nil, b.check(err)
	}
	p, err := NewGraphicsPipeline(b.context, info, setLayout, renderpass)
	if err != nil {
		return nil, b.check(err)
	}
	return p, nil
}

func (b *Backend) CreateComputePipeline(info *rhi.ComputePipelineStateCreateInfo, layout *rhi.BindingLayout) (rhi.NativePipeline, error) {
	if err := b.alive(); err != nil {
		return nil, err
	}
	setLayout, err := b.setLayoutFor(layout)
	if err != nil {
		return nil, b.check(err)
	}
	p, err := NewComputePipeline(b.context, info, setLayout)
	if err != nil {
		return nil, b.check(err)
	}
	return p, nil
}

func (b *Backend) DestroyPipeline(pipeline rhi.NativePipeline) {
	if p, ok := pipeline.(*VulkanPipeline); ok {
		p.Destroy(b.context)
	}
}

func (b *Backend) CreateBindGroup(layout *rhi.BindingLayout, bindings []rhi.ResolvedBinding) (rhi.NativeBindGroup, error) {
	if err := b.alive(); err != nil {
		return nil, err
	}
	setLayout, err := b.setLayoutFor(layout)
	if err != nil {
		return nil, b.check(err)
	}
	if setLayout == nil {
		return &VulkanBindGroup{}, nil
	}
	var group *VulkanBindGroup
	err = b.context.Locks.SafeCall(DescriptorManagement, func() error {
		var err error
		group, err = NewVulkanBindGroup(b.context, setLayout, layout, bindings)
		return err
	})
	if err != nil {
		return nil, b.check(err)
	}
	return group, nil
}

func (b *Backend) DestroyBindGroup(group rhi.NativeBindGroup) {
	if g, ok := group.(*VulkanBindGroup); ok {
		g.Destroy(b.context)
	}
}

func (b *Backend) NewEncoder(slot uint32) (rhi.CommandEncoder, error) {
	if err := b.alive(); err != nil {
		return nil, err
	}
	cb, err := b.commands.acquire(slot)
	if err != nil {
		return nil, b.check(err)
	}
	e, err := newEncoder(b.context, slot, cb)
	if err != nil {
		return nil, b.check(err)
	}
	return e, nil
}

func (b *Backend) Submit(encoder rhi.CommandEncoder) error {
	if err := b.alive(); err != nil {
		return err
	}
	e, ok := encoder.(*Encoder)
	if !ok {
		return fmt.Errorf("encoder %T does not belong to the vulkan backend", encoder)
	}
	if e.cb.State != COMMAND_BUFFER_STATE_RECORDING_ENDED {
		return fmt.Errorf("submitting a command buffer that was not ended")
	}
	device := b.context.Device
	err := b.context.Locks.SafeQueueCall(device.QueueIndex, func() error {
		submitInfo := vk.SubmitInfo{
			SType:              vk.StructureTypeSubmitInfo,
			CommandBufferCount: 1,
			PCommandBuffers:    []vk.CommandBuffer{e.cb.Handle},
		}
		return resultError("vkQueueSubmit", vk.QueueSubmit(device.Queue, 1, []vk.SubmitInfo{submitInfo}, nil))
	})
	if err != nil {
		return b.check(err)
	}
	e.cb.UpdateSubmitted()
	return nil
}

func (b *Backend) Signal() (uint64, error) {
	if err := b.alive(); err != nil {
		return 0, err
	}
	var value uint64
	device := b.context.Device
	err := b.context.Locks.SafeQueueCall(device.QueueIndex, func() error {
		var err error
		value, err = b.timeline.signal(device.Queue)
		return err
	})
	return value, b.check(err)
}

func (b *Backend) CompletedValue() (uint64, error) {
	if err := b.alive(); err != nil {
		return 0, err
	}
	v, err := b.timeline.completedValue()
	return v, b.check(err)
}

func (b *Backend) WaitForValue(ctx context.Context, value uint64) error {
	if err := b.alive(); err != nil {
		return err
	}
	return b.check(b.timeline.wait(ctx, value))
}

func (b *Backend) ResetSlot(slot uint32) error {
	if err := b.alive(); err != nil {
		return err
	}
	return b.check(b.commands.reset(slot))
}

func (b *Backend) WaitIdle() error {
	if err := b.alive(); err != nil {
		return err
	}
	device := b.context.Device
	err := b.context.Locks.SafeQueueCall(device.QueueIndex, func() error {
		return resultError("vkQueueWaitIdle", vk.QueueWaitIdle(device.Queue))
	})
	if err != nil {
		return b.check(err)
	}
	_, err = b.timeline.completedValue()
	return b.check(err)
}

// Close tears everything down. The RenderDevice has already released every
// object it created, so only backend-owned caches remain.
func (b *Backend) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	ctx := b.context
	if !b.lost.Load() {
		if res := vk.DeviceWaitIdle(ctx.Device.LogicalDevice); res != vk.Success {
			core.LogWarn("vkDeviceWaitIdle failed during shutdown: %s", VulkanResultString(res, false))
		}
	}
	b.timeline.destroy()
	b.commands.destroy()
	b.renderpasses.destroy(ctx)
	b.setLayouts.destroy(ctx)
	if ctx.DefaultSampler != nil {
		vk.DestroySampler(ctx.Device.LogicalDevice, ctx.DefaultSampler, ctx.Allocator)
		ctx.DefaultSampler = nil
	}
	DeviceDestroy(ctx)
	b.destroyInstance()
	core.LogInfo("Vulkan backend shut down.")
	return nil
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("ERROR: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("PERFORMANCE WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportDebugBit) != 0:
		core.LogDebug("DEBUG: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogInfo("INFORMATION: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}
