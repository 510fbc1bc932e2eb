package vulkan

import (
	"fmt"
	"sync/atomic"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/sanity/engine/renderer/rhi"
)

// VulkanImage lives in VK_IMAGE_LAYOUT_GENERAL once it has been written for
// the first time, so no per-use layout tracking is needed.
type VulkanImage struct {
	Handle vk.Image
	Memory vk.DeviceMemory
	View   vk.ImageView
	Width  uint32
	Height uint32
	Format vk.Format
	Aspect vk.ImageAspectFlags
	// Layout transitions of combined formats must name both aspects.
	HasStencil bool

	initialized atomic.Bool
}

func NewVulkanImage(context *VulkanContext, info rhi.ImageCreateInfo) (*VulkanImage, error) {
	format, err := toFormat(info.Format)
	if err != nil {
		return nil, err
	}
	if info.Format.IsDepth() && !context.Device.DepthFormats[format] {
		return nil, fmt.Errorf("%w: depth format %s is not supported by %s", rhi.ErrConfiguration, info.Format, context.Device.Name)
	}
	usage, aspect, err := imageUsage(info.Usage)
	if err != nil {
		return nil, err
	}
	depth := info.Depth
	if depth == 0 {
		depth = 1
	}
	imageType := vk.ImageType2d
	viewType := vk.ImageViewType2d
	if depth > 1 {
		imageType = vk.ImageType3d
		viewType = vk.ImageViewType3d
	}

	image := &VulkanImage{
		Width:      info.Width,
		Height:     info.Height,
		Format:     format,
		Aspect:     aspect,
		HasStencil: format == vk.FormatD24UnormS8Uint,
	}
	createInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: imageType,
		Format:    format,
		Extent: vk.Extent3D{
			Width:  info.Width,
			Height: info.Height,
			Depth:  depth,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         usage,
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}
	device := context.Device.LogicalDevice
	if res := vk.CreateImage(device, &createInfo, context.Allocator, &image.Handle); res != vk.Success {
		return nil, resultError("vkCreateImage", res)
	}

	var requirements vk.MemoryRequirements
	vk.GetImageMemoryRequirements(device, image.Handle, &requirements)
	requirements.Deref()
	memory, err := allocateMemory(context, requirements, vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))
	if err != nil {
		image.Destroy(context)
		return nil, err
	}
	image.Memory = memory
	if res := vk.BindImageMemory(device, image.Handle, image.Memory, 0); res != vk.Success {
		image.Destroy(context)
		return nil, resultError("vkBindImageMemory", res)
	}

	viewInfo := vk.ImageViewCreateInfo{
		SType:            vk.StructureTypeImageViewCreateInfo,
		Image:            image.Handle,
		ViewType:         viewType,
		Format:           format,
		SubresourceRange: image.subresourceRange(),
	}
	if res := vk.CreateImageView(device, &viewInfo, context.Allocator, &image.View); res != vk.Success {
		image.Destroy(context)
		return nil, resultError("vkCreateImageView", res)
	}
	return image, nil
}

func (img *VulkanImage) subresourceRange() vk.ImageSubresourceRange {
	return vk.ImageSubresourceRange{
		AspectMask:     img.Aspect,
		BaseMipLevel:   0,
		LevelCount:     1,
		BaseArrayLayer: 0,
		LayerCount:     1,
	}
}

// toGeneralBarrier moves the image out of its initial layout. With discard
// set the previous contents are dropped, which is always the case for the
// first transition.
func (img *VulkanImage) toGeneralBarrier(discard bool) (vk.ImageMemoryBarrier, bool) {
	first := img.initialized.CompareAndSwap(false, true)
	if !first && !discard {
		return vk.ImageMemoryBarrier{}, false
	}
	subresources := img.subresourceRange()
	if img.HasStencil {
		subresources.AspectMask |= vk.ImageAspectFlags(vk.ImageAspectStencilBit)
	}
	return vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		SrcAccessMask:       vk.AccessFlags(vk.AccessMemoryWriteBit),
		DstAccessMask:       vk.AccessFlags(vk.AccessMemoryReadBit | vk.AccessMemoryWriteBit),
		OldLayout:           vk.ImageLayoutUndefined,
		NewLayout:           vk.ImageLayoutGeneral,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               img.Handle,
		SubresourceRange:    subresources,
	}, true
}

func (img *VulkanImage) Destroy(context *VulkanContext) {
	device := context.Device.LogicalDevice
	if img.View != nil {
		vk.DestroyImageView(device, img.View, context.Allocator)
		img.View = nil
	}
	if img.Handle != nil {
		vk.DestroyImage(device, img.Handle, context.Allocator)
		img.Handle = nil
	}
	if img.Memory != nil {
		vk.FreeMemory(device, img.Memory, context.Allocator)
		img.Memory = nil
	}
}

func nativeImage(img *rhi.Image) *VulkanImage {
	vi, ok := img.Native.(*VulkanImage)
	if !ok {
		panic(fmt.Sprintf("image %s was not created by the vulkan backend", img.Name))
	}
	return vi
}
