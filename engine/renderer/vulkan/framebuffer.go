package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/sanity/engine/renderer/rhi"
)

type VulkanFramebuffer struct {
	Handle      vk.Framebuffer
	Renderpass  vk.RenderPass
	Width       uint32
	Height      uint32
	Attachments []*VulkanImage
}

func FramebufferCreate(context *VulkanContext, cache *renderpassCache, renderTargets []*rhi.Image, depthTarget *rhi.Image) (*VulkanFramebuffer, error) {
	formats := make([]rhi.ImageFormat, len(renderTargets))
	framebuffer := &VulkanFramebuffer{}
	for i, rt := range renderTargets {
		formats[i] = rt.Format
		framebuffer.Attachments = append(framebuffer.Attachments, nativeImage(rt))
	}
	var depth *rhi.ImageFormat
	if depthTarget != nil {
		f := depthTarget.Format
		depth = &f
		framebuffer.Attachments = append(framebuffer.Attachments, nativeImage(depthTarget))
	}
	framebuffer.Width = framebuffer.Attachments[0].Width
	framebuffer.Height = framebuffer.Attachments[0].Height

	key, err := newRenderpassKey(formats, depth)
	if err != nil {
		return nil, err
	}
	renderpass, err := cache.get(context, key)
	if err != nil {
		return nil, err
	}
	framebuffer.Renderpass = renderpass

	views := make([]vk.ImageView, len(framebuffer.Attachments))
	for i, a := range framebuffer.Attachments {
		views[i] = a.View
	}
	createInfo := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      renderpass,
		AttachmentCount: uint32(len(views)),
		PAttachments:    views,
		Width:           framebuffer.Width,
		Height:          framebuffer.Height,
		Layers:          1,
	}
	if res := vk.CreateFramebuffer(context.Device.LogicalDevice, &createInfo, context.Allocator, &framebuffer.Handle); res != vk.Success {
		return nil, resultError("vkCreateFramebuffer", res)
	}
	return framebuffer, nil
}

func (fb *VulkanFramebuffer) Destroy(context *VulkanContext) {
	if fb.Handle != nil {
		vk.DestroyFramebuffer(context.Device.LogicalDevice, fb.Handle, context.Allocator)
		fb.Handle = nil
	}
	fb.Attachments = nil
}

func nativeFramebuffer(fb *rhi.Framebuffer) *VulkanFramebuffer {
	vf, ok := fb.Native.(*VulkanFramebuffer)
	if !ok {
		panic(fmt.Sprintf("framebuffer %s was not created by the vulkan backend", fb.ID))
	}
	return vf
}
